package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"KidneyAllocation/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier delivers offer events to each clinician's Telegram chat via bot API.
type Notifier struct {
	botToken string
	chats    map[string]string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers the bot token and the clinician to chat mapping.
func NewNotifier(botToken string, chats map[string]string) *Notifier {
	copied := make(map[string]string, len(chats))
	for clinician, chat := range chats {
		copied[clinician] = chat
	}
	return &Notifier{
		botToken: botToken,
		chats:    copied,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyClinician posts a plain-text message to the clinician's chat.
func (n *Notifier) NotifyClinician(ctx context.Context, clinician, message string) error {
	if n.botToken == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	chatID, ok := n.chats[clinician]
	if !ok || chatID == "" {
		return fmt.Errorf("no telegram chat for clinician %s", clinician)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(n.apiBase, "/"), n.botToken)
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}
