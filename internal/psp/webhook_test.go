package psp

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseNotification(t *testing.T) {
	form := url.Values{
		"id":                          {" 9C1F-AB "},
		"value":                       {"4.99"},
		"payer_national_registration": {"123.456.789-09"},
		"status":                      {"PAID"},
	}
	n, err := ParseNotification(form)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.ID != "9C1F-AB" || n.Status != "paid" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if !n.Value.Equal(decimal.RequireFromString("4.99")) {
		t.Fatalf("unexpected value %s", n.Value)
	}
}

func TestParseNotificationRejectsMissingOrInvalid(t *testing.T) {
	if _, err := ParseNotification(url.Values{"value": {"1"}}); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, err := ParseNotification(url.Values{"id": {"x"}, "value": {"abc"}}); err == nil {
		t.Fatal("expected error for invalid value")
	}
}

func TestAuthenticatorVerify(t *testing.T) {
	body := []byte("id=1&value=4.99")
	auth := NewAuthenticator("s3cret")

	cases := []struct {
		name   string
		header http.Header
		ok     bool
	}{
		{name: "shared secret", header: http.Header{"X-Webhook-Secret": {"s3cret"}}, ok: true},
		{name: "wrong secret", header: http.Header{"X-Webhook-Secret": {"nope"}}, ok: false},
		{name: "hmac", header: http.Header{"X-Signature": {Sign("s3cret", body)}}, ok: true},
		{name: "prefixed hmac", header: http.Header{"X-Signature": {"sha256=" + Sign("s3cret", body)}}, ok: true},
		{name: "bad hmac", header: http.Header{"X-Signature": {Sign("other", body)}}, ok: false},
		{name: "nothing", header: http.Header{}, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := auth.Verify(tc.header, body)
			if tc.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestAuthenticatorDisabled(t *testing.T) {
	auth := NewAuthenticator("")
	if auth.Enabled() {
		t.Fatal("expected disabled authenticator")
	}
	if err := auth.Verify(http.Header{}, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
