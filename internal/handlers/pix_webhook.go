package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"milenio/internal/metrics"
	"milenio/internal/payments"
	"milenio/internal/psp"
)

// Reconciler settles payment notifications.
type Reconciler interface {
	Reconcile(ctx context.Context, n psp.Notification) (*payments.Settlement, error)
}

// PixWebhook receives PSP payment notifications.
type PixWebhook struct {
	auth       *psp.Authenticator
	reconciler Reconciler
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewPixWebhook creates the PSP webhook handler.
func NewPixWebhook(auth *psp.Authenticator, reconciler Reconciler, metrics *metrics.Metrics, logger *slog.Logger) *PixWebhook {
	return &PixWebhook{
		auth:       auth,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger.With("component", "pix_webhook"),
	}
}

// ServeHTTP satisfies http.Handler.
func (h *PixWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := readBody(r)
	if err != nil {
		h.observe("malformed")
		writeMessage(w, http.StatusBadRequest, "Invalid body")
		return
	}
	defer r.Body.Close()

	if err := h.auth.Verify(r.Header, body); err != nil {
		h.observe("unauthorized")
		h.logger.Warn("webhook rejected", "error", err, "remote", r.RemoteAddr)
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		h.observe("malformed")
		writeMessage(w, http.StatusBadRequest, "Invalid form body")
		return
	}
	notification, err := psp.ParseNotification(form)
	if err != nil {
		h.observe("malformed")
		h.logger.Warn("malformed notification", "error", err)
		writeMessage(w, http.StatusBadRequest, "Invalid notification")
		return
	}

	_, err = h.reconciler.Reconcile(r.Context(), notification)
	status, message := webhookResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("reconcile failed", "psp_id", notification.ID, "error", err)
	}
	writeMessage(w, status, message)
}

// webhookResponse maps a reconciliation result to the PSP-facing status and message.
func webhookResponse(err error) (int, string) {
	var vErr *payments.ValidationError
	switch {
	case err == nil:
		return http.StatusOK, "OK"
	case errors.Is(err, payments.ErrAlreadyProcessed):
		return http.StatusOK, "Payment already processed"
	case errors.Is(err, payments.ErrNotFound):
		return http.StatusNotFound, "Payment not found"
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "Payment has no chat linked"
	case errors.Is(err, payments.ErrAmountMismatch):
		return http.StatusBadRequest, "Payment value mismatch"
	case errors.Is(err, payments.ErrIdentityMismatch):
		return http.StatusBadRequest, "Payer identity mismatch"
	default:
		return http.StatusInternalServerError, "Transaction failed"
	}
}

func (h *PixWebhook) observe(outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.WebhookOutcomes.WithLabelValues(outcome).Inc()
}
