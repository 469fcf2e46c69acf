package psp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnauthorized is returned when a notification fails the shared-secret check.
var ErrUnauthorized = errors.New("psp webhook unauthorized")

// Notification is a parsed payment notification.
type Notification struct {
	ID                        string
	Value                     decimal.Decimal
	PayerNationalRegistration string
	Status                    string
	ReceivedAt                time.Time
}

// ParseNotification reads a form-encoded notification. id and value are mandatory.
func ParseNotification(form url.Values) (Notification, error) {
	n := Notification{
		ID:                        strings.TrimSpace(form.Get("id")),
		PayerNationalRegistration: strings.TrimSpace(form.Get("payer_national_registration")),
		Status:                    strings.ToLower(strings.TrimSpace(form.Get("status"))),
		ReceivedAt:                time.Now().UTC(),
	}
	var missing []string
	if n.ID == "" {
		missing = append(missing, "id")
	}
	rawValue := strings.TrimSpace(form.Get("value"))
	if rawValue == "" {
		missing = append(missing, "value")
	}
	if len(missing) > 0 {
		return n, fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}
	value, err := decimal.NewFromString(strings.Replace(rawValue, ",", ".", 1))
	if err != nil {
		return n, fmt.Errorf("invalid value %q: %w", rawValue, err)
	}
	n.Value = value
	return n, nil
}

// Authenticator checks the shared secret of inbound notifications.
type Authenticator struct {
	secret string
}

// NewAuthenticator returns an authenticator. An empty secret disables the check.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: strings.TrimSpace(secret)}
}

// Enabled reports whether a secret is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.secret != ""
}

// Verify accepts the request when X-Webhook-Secret equals the secret or X-Signature
// carries the hex HMAC-SHA256 of body.
func (a *Authenticator) Verify(header http.Header, body []byte) error {
	if !a.Enabled() {
		return nil
	}
	if provided := strings.TrimSpace(header.Get("X-Webhook-Secret")); provided != "" {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(a.secret)) == 1 {
			return nil
		}
		return fmt.Errorf("%w: secret mismatch", ErrUnauthorized)
	}
	signature := strings.ToLower(strings.TrimSpace(header.Get("X-Signature")))
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrUnauthorized)
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(a.secret, body))) {
		return fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
