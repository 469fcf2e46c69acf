package psp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"milenio/internal/metrics"
)

const (
	endpointCreateOrder = "/orders"
	endpointQRCodes     = "/orders/{id}/qr_codes"
	endpointCashIn      = "/pix/cashIn"
)

var (
	// ErrInvalidCredential indicates the PSP rejected the configured token.
	ErrInvalidCredential = errors.New("psp invalid credential")
	// ErrNotConfigured is returned when no API token is set.
	ErrNotConfigured = errors.New("psp token not configured")
	// ErrMalformedResponse is returned when a 2xx body is not the expected JSON.
	ErrMalformedResponse = errors.New("psp malformed response")
	// ErrMissingQR is returned when a charge response carries no PIX payload.
	ErrMissingQR = errors.New("psp response without pix qr code")
)

// APIError is a non-2xx PSP response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("psp %s error: status=%d body=%s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrInvalidCredential
	}
	return nil
}

// Client provides typed access to the PSP charge API.
type Client struct {
	logger         *slog.Logger
	baseURL        string
	token          string
	splitAccountID string
	softDescriptor string
	http           *http.Client
	metrics        *metrics.Metrics
}

// Config holds PSP client configuration.
type Config struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	SplitAccountID string
	SoftDescriptor string
}

// New creates a new PSP client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:         logger.With("component", "psp"),
		baseURL:        base,
		token:          strings.TrimSpace(cfg.Token),
		splitAccountID: cfg.SplitAccountID,
		softDescriptor: cfg.SoftDescriptor,
		http:           &http.Client{Timeout: timeout},
		metrics:        metrics,
	}
}

// Configured reports whether an API token is available.
func (c *Client) Configured() bool {
	return c.token != ""
}

// Customer identifies the payer of a charge.
type Customer struct {
	Name    string
	Email   string
	TaxID   string
	TaxType string
}

// ChargeRequest describes a charge intent.
type ChargeRequest struct {
	ReferenceID     string
	Customer        Customer
	ItemName        string
	Amount          decimal.Decimal
	NotificationURL string
}

// Charge is the PSP side of a created charge intent.
type Charge struct {
	ID     string
	Status string
	Raw    map[string]any
}

// PixInstrument is the payable PIX payload of a charge.
type PixInstrument struct {
	ID        string
	Text      string
	ImageURL  string
	ExpiresAt string
	Raw       map[string]any
}

// CashInRequest asks for a single-step PIX charge.
type CashInRequest struct {
	Amount     decimal.Decimal
	WebhookURL string
}

// CashIn is the response to a single-step PIX charge.
type CashIn struct {
	ID          string
	Status      string
	QRCode      string
	QRCodeImage string
	Raw         map[string]any
}

// Cents converts a currency amount to integer minor units.
func Cents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreateCharge registers a PIX-only charge intent. The disbursement is attributed to the
// split receiver and shown to the payer under the soft descriptor.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	cents := Cents(req.Amount)
	payload := map[string]any{
		"reference_id": req.ReferenceID,
		"customer": map[string]any{
			"name":   req.Customer.Name,
			"email":  req.Customer.Email,
			"tax_id": DigitsOnly(req.Customer.TaxID),
		},
		"items": []map[string]any{{
			"reference_id": req.ReferenceID,
			"name":         req.ItemName,
			"quantity":     1,
			"unit_amount":  cents,
		}},
		"payment_methods": []string{"PIX"},
	}
	if req.NotificationURL != "" {
		payload["notification_urls"] = []string{req.NotificationURL}
	}
	if c.softDescriptor != "" {
		payload["soft_descriptor"] = c.softDescriptor
	}
	if c.splitAccountID != "" {
		payload["splits"] = map[string]any{
			"method": "FIXED",
			"receivers": []map[string]any{{
				"account": map[string]any{"id": c.splitAccountID},
				"amount":  map[string]any{"value": cents},
			}},
		}
	}

	data, err := c.postJSON(ctx, endpointCreateOrder, endpointCreateOrder, payload)
	if err != nil {
		return nil, err
	}
	charge := &Charge{
		ID:     firstString(data, "id", "order_id", "charge_id"),
		Status: strings.ToUpper(firstString(data, "status")),
		Raw:    data,
	}
	if charge.ID == "" {
		return nil, fmt.Errorf("%w: create charge without id", ErrMalformedResponse)
	}
	return charge, nil
}

// MaterializePix creates the PIX instrument (QR code and copy-paste text) for a charge.
func (c *Client) MaterializePix(ctx context.Context, chargeID string, amount decimal.Decimal, expiresAt time.Time) (*PixInstrument, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	payload := map[string]any{
		"amount": map[string]any{"value": Cents(amount)},
	}
	if !expiresAt.IsZero() {
		payload["expiration_date"] = expiresAt.UTC().Format(time.RFC3339)
	}
	path := strings.Replace(endpointQRCodes, "{id}", url.PathEscape(chargeID), 1)
	data, err := c.postJSON(ctx, endpointQRCodes, path, payload)
	if err != nil {
		return nil, err
	}

	qr := data
	if codes := firstSlice(data, "qr_codes"); len(codes) > 0 {
		qr = codes[0]
	}
	pix := &PixInstrument{
		ID:        firstString(qr, "id"),
		Text:      firstString(qr, "text", "qr_code", "emv", "copy_paste"),
		ImageURL:  linkHref(qr, "QRCODE.PNG"),
		ExpiresAt: firstString(qr, "expiration_date", "expires_at"),
		Raw:       data,
	}
	if pix.ImageURL == "" {
		pix.ImageURL = firstString(qr, "image_url", "qr_code_image", "qr_code_base64")
	}
	if pix.Text == "" {
		return nil, ErrMissingQR
	}
	return pix, nil
}

// CashIn creates a single-step PIX charge used by the chat channel.
func (c *Client) CashIn(ctx context.Context, req CashInRequest) (*CashIn, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	cents := Cents(req.Amount)
	payload := map[string]any{"value": cents}
	if req.WebhookURL != "" {
		payload["webhook_url"] = req.WebhookURL
	}
	if c.splitAccountID != "" {
		payload["split_rules"] = []map[string]any{{
			"value":      cents,
			"account_id": c.splitAccountID,
		}}
	}
	data, err := c.postJSON(ctx, endpointCashIn, endpointCashIn, payload)
	if err != nil {
		return nil, err
	}
	resp := &CashIn{
		ID:          firstString(data, "id", "transaction_id"),
		Status:      strings.ToLower(firstString(data, "status")),
		QRCode:      firstString(data, "qr_code", "text", "emv"),
		QRCodeImage: firstString(data, "qr_code_base64", "qr_code_image", "image_url"),
		Raw:         data,
	}
	if resp.ID == "" || resp.QRCode == "" {
		return nil, ErrMissingQR
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint, path string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	raw, err := c.do(ctx, http.MethodPost, endpoint, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	data, err := decodeMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, snippet(raw), err)
	}
	return data, nil
}

// do performs the request. endpoint is the route template used as metric label.
func (c *Client) do(ctx context.Context, method, endpoint, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "milenio/psp-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.PSPRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return nil, fmt.Errorf("psp request: %w", err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.PSPRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.PSPLatency.WithLabelValues(endpoint, statusLabel).Observe(duration)
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		c.logger.Warn("psp rejected request", "endpoint", endpoint, "status", res.StatusCode, "body", snippet(bodyBytes))
		return nil, classifyHTTPError(endpoint, res.StatusCode, bodyBytes)
	}
	return bodyBytes, nil
}

func classifyHTTPError(endpoint string, status int, body []byte) error {
	return &APIError{
		Endpoint:   endpoint,
		StatusCode: status,
		Body:       snippet(body),
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}

func decodeMap(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty body")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out map[string]any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if str := toString(val); str != "" {
				return str
			}
		}
	}
	return ""
}

func firstSlice(data map[string]any, key string) []map[string]any {
	items, ok := data[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func linkHref(data map[string]any, rel string) string {
	for _, link := range firstSlice(data, "links") {
		if strings.EqualFold(firstString(link, "rel"), rel) {
			return firstString(link, "href")
		}
	}
	return ""
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// DigitsOnly strips every non-digit from a CPF, CNPJ or other document number.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
