package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"KidneyAllocation/internal/ports"
)

// Client talks to the organ transport coordination service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Dispatcher = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type dispatchRequest struct {
	OfferID    string    `json:"offer_id"`
	DonorID    string    `json:"donor_id"`
	PatientID  string    `json:"patient_id"`
	Clinician  string    `json:"clinician"`
	Score      float64   `json:"score"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// DispatchAllocation asks the coordinator to move the organ to the recipient
// center. Any non-2xx answer is an error.
func (c *Client) DispatchAllocation(ctx context.Context, allocation ports.Allocation) error {
	if c.endpoint == "" || c.http == nil {
		return fmt.Errorf("transport dispatcher misconfigured")
	}

	payload := dispatchRequest{
		OfferID:    allocation.OfferID,
		DonorID:    allocation.DonorID,
		PatientID:  allocation.PatientID,
		Clinician:  allocation.Clinician,
		Score:      allocation.Score,
		AcceptedAt: allocation.AcceptedAt.UTC(),
	}

	if err := c.post(ctx, payload); err != nil {
		return fmt.Errorf("dispatch offer %s: %w", allocation.OfferID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}
	return nil
}
