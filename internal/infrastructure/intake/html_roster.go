package intake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"KidneyAllocation/internal/domain"
	"KidneyAllocation/internal/ports"
)

var procurementLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

// HTMLRoster reads a roster export with a patients table and a donors table.
// Columns are matched by header text, so their order does not matter.
type HTMLRoster struct {
	location string
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.RosterSource = (*HTMLRoster)(nil)

// NewHTMLRoster reads from a file path or an http(s) URL.
func NewHTMLRoster(location string, client *http.Client, logger *slog.Logger) *HTMLRoster {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTMLRoster{location: location, client: client, logger: logger}
}

// Name identifies the source inside the registry.
func (h *HTMLRoster) Name() string {
	return "html"
}

// Load parses table#patients and table#donors. Rows that cannot be parsed are
// skipped and logged.
func (h *HTMLRoster) Load(ctx context.Context) (ports.Roster, error) {
	doc, err := h.fetchDocument(ctx)
	if err != nil {
		return ports.Roster{}, err
	}

	patientTable := doc.Find("table#patients").First()
	donorTable := doc.Find("table#donors").First()
	if patientTable.Length() == 0 && donorTable.Length() == 0 {
		return ports.Roster{}, fmt.Errorf("roster %s: no patients or donors table", h.location)
	}

	var roster ports.Roster
	for i, row := range tableRows(patientTable) {
		p, err := patientFromRow(row)
		if err != nil {
			h.warn("skip patient row", "row", i+1, "error", err)
			continue
		}
		roster.Patients = append(roster.Patients, p)
	}
	for i, row := range tableRows(donorTable) {
		d, err := donorFromRow(row)
		if err != nil {
			h.warn("skip donor row", "row", i+1, "error", err)
			continue
		}
		roster.Donors = append(roster.Donors, d)
	}

	h.debug("html roster parsed", "location", h.location, "patients", len(roster.Patients), "donors", len(roster.Donors))
	return roster, nil
}

func (h *HTMLRoster) fetchDocument(ctx context.Context) (*goquery.Document, error) {
	body, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse roster document: %w", err)
	}
	return doc, nil
}

func (h *HTMLRoster) open(ctx context.Context) (io.ReadCloser, error) {
	if h.location == "" {
		return nil, fmt.Errorf("roster location is not configured")
	}

	if !strings.HasPrefix(h.location, "http://") && !strings.HasPrefix(h.location, "https://") {
		f, err := os.Open(h.location)
		if err != nil {
			return nil, fmt.Errorf("open roster: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "KidneyAllocation/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request roster: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("roster returned %s", resp.Status)
	}
	return resp.Body, nil
}

// tableRows maps every data row to its cells keyed by normalised header.
func tableRows(table *goquery.Selection) []map[string]string {
	if table.Length() == 0 {
		return nil
	}

	var headers []string
	table.Find("th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, headerKey(th.Text()))
	})

	var rows []map[string]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		row := make(map[string]string, len(headers))
		cells.Each(func(i int, td *goquery.Selection) {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(td.Text())
			}
		})
		rows = append(rows, row)
	})
	return rows
}

// headerKey turns "Distance (miles)" into "distance_miles".
func headerKey(text string) string {
	var b strings.Builder
	gap := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if gap && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			gap = false
			continue
		}
		gap = true
	}
	return b.String()
}

func patientFromRow(row map[string]string) (domain.Patient, error) {
	p := domain.Patient{
		ID:        row["id"],
		Name:      row["name"],
		HLA:       splitHLA(row["hla"]),
		Clinician: row["clinician"],
		Status:    domain.PatientActive,
	}
	if p.ID == "" {
		return domain.Patient{}, fmt.Errorf("patient id is missing")
	}

	// Unknown groups and statuses are kept verbatim; the ranker reports them.
	p.BloodType, _ = domain.ParseBloodType(row["blood_type"])
	if raw := row["status"]; raw != "" {
		p.Status, _ = domain.ParsePatientStatus(raw)
	}

	fields := fieldParser{row: row}
	p.CPRA = fields.floatField("cpra")
	p.WaitDays = fields.intField("wait_days")
	p.Age = fields.intField("age")
	p.Diabetes = fields.boolField("diabetes")
	p.PriorTransplant = fields.boolField("prior_transplant")
	p.DialysisDays = fields.intField("dialysis_days")
	p.DistanceMiles = fields.floatField("distance_miles")
	if fields.err != nil {
		return domain.Patient{}, fmt.Errorf("patient %s: %w", p.ID, fields.err)
	}
	return p, nil
}

func donorFromRow(row map[string]string) (domain.Donor, error) {
	d := domain.Donor{
		ID:     row["id"],
		HLA:    splitHLA(row["hla"]),
		Status: domain.DonorAvailable,
	}
	if d.ID == "" {
		return domain.Donor{}, fmt.Errorf("donor id is missing")
	}

	d.BloodType, _ = domain.ParseBloodType(row["blood_type"])
	if raw := row["status"]; raw != "" {
		d.Status, _ = domain.ParseDonorStatus(raw)
	}

	fields := fieldParser{row: row}
	d.Age = fields.intField("age")
	d.HeightIn = fields.floatField("height_in")
	d.WeightLb = fields.floatField("weight_lb")
	d.Hypertension = fields.boolField("hypertension")
	d.Diabetes = fields.boolField("diabetes")
	d.HCV = fields.boolField("hcv")
	d.DCD = fields.boolField("dcd")
	d.Creatinine = fields.floatField("creatinine")
	d.ProcurementTime = fields.timeField("procurement_time")
	if fields.err != nil {
		return domain.Donor{}, fmt.Errorf("donor %s: %w", d.ID, fields.err)
	}
	return d, nil
}

func splitHLA(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
}

// fieldParser keeps the first conversion error so a row is parsed in one pass.
type fieldParser struct {
	row map[string]string
	err error
}

func (f *fieldParser) value(key string) string {
	if f.err != nil {
		return ""
	}
	return f.row[key]
}

func (f *fieldParser) fail(key, raw string, err error) {
	f.err = fmt.Errorf("column %s value %q: %w", key, raw, err)
}

func (f *fieldParser) floatField(key string) float64 {
	raw := f.value(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		f.fail(key, raw, err)
	}
	return v
}

func (f *fieldParser) intField(key string) int {
	raw := f.value(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		f.fail(key, raw, err)
	}
	return v
}

func (f *fieldParser) boolField(key string) bool {
	raw := f.value(key)
	switch strings.ToLower(raw) {
	case "", "no", "n", "false", "0":
		return false
	case "yes", "y", "true", "1":
		return true
	}
	f.fail(key, raw, fmt.Errorf("not a yes/no value"))
	return false
}

func (f *fieldParser) timeField(key string) time.Time {
	raw := f.value(key)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range procurementLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	f.fail(key, raw, fmt.Errorf("unrecognised timestamp"))
	return time.Time{}
}

func (h *HTMLRoster) debug(msg string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

func (h *HTMLRoster) warn(msg string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}
