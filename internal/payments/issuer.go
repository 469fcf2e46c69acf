package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"milenio/internal/psp"
	"milenio/internal/repo"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ChargeProvider is the two-step PSP charge API used by the web issuer.
type ChargeProvider interface {
	CreateCharge(ctx context.Context, req psp.ChargeRequest) (*psp.Charge, error)
	MaterializePix(ctx context.Context, chargeID string, amount decimal.Decimal, expiresAt time.Time) (*psp.PixInstrument, error)
}

// IssueRequest is a browser purchase intent.
type IssueRequest struct {
	UserID           string
	TotalAmount      decimal.Decimal
	CreditsToReceive int64
	DocumentValue    string
	DocumentType     string
	Name             string
	Email            string
}

// IssueResult is the PIX charge returned to the buyer.
type IssueResult struct {
	OrderID      string
	ReferenceID  string
	ChargeID     string
	PixString    string
	PixQRCodeURL string
	ExpiresAt    time.Time
}

// IssuerConfig tunes the issuer.
type IssuerConfig struct {
	NotificationURL string
	Expiry          time.Duration
}

// Issuer creates pending payments and their PIX charges.
type Issuer struct {
	store    repo.Repository
	provider ChargeProvider
	logger   *slog.Logger
	cfg      IssuerConfig
	now      func() time.Time
	newID    func() string
}

// NewIssuer builds an Issuer.
func NewIssuer(store repo.Repository, provider ChargeProvider, logger *slog.Logger, cfg IssuerConfig) *Issuer {
	if cfg.Expiry <= 0 {
		cfg.Expiry = time.Hour
	}
	return &Issuer{
		store:    store,
		provider: provider,
		logger:   logger.With("component", "issuer"),
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Validate returns a ValidationError listing every missing or malformed field.
func (r IssueRequest) Validate() error {
	var missing, malformed []string
	check := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	check("userId", r.UserID)
	check("documentValue", r.DocumentValue)
	check("name", r.Name)
	check("email", r.Email)

	if !r.TotalAmount.IsPositive() {
		malformed = append(malformed, "totalAmount")
	}
	if r.CreditsToReceive <= 0 {
		malformed = append(malformed, "creditsToReceive")
	}
	if email := strings.TrimSpace(r.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil || !emailPattern.MatchString(email) {
			malformed = append(malformed, "email")
		}
	}

	switch {
	case len(missing) > 0:
		return invalid("missing required fields", append(missing, malformed...)...)
	case len(malformed) > 0:
		return invalid("invalid fields", malformed...)
	}
	return nil
}

// Issue records a PENDING payment, creates the PSP charge and materialises its PIX payload.
// The payment row is written before any PSP call so every orderId stays traceable.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := i.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", req.UserID, ErrNotFound)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.cfg.Expiry)
	before := user.TotalCredits
	payment, err := i.store.InsertPayment(ctx, repo.Payment{
		ID:                        i.newID(),
		ReferenceID:               i.newID(),
		UserID:                    user.ID,
		PayerName:                 strings.TrimSpace(req.Name),
		PayerEmail:                strings.TrimSpace(req.Email),
		PayerDocument:             psp.DigitsOnly(req.DocumentValue),
		PayerDocumentType:         strings.ToUpper(strings.TrimSpace(req.DocumentType)),
		TotalAmount:               req.TotalAmount.Round(2),
		CreditsToReceive:          req.CreditsToReceive,
		UserCreditsBeforePurchase: &before,
		Status:                    repo.StatusIntentPending,
		ChatID:                    user.ChatID,
		ExpiresAt:                 &expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	log := i.logger.With("order_id", payment.ID, "user_id", user.ID)

	charge, err := i.provider.CreateCharge(ctx, psp.ChargeRequest{
		ReferenceID: payment.ReferenceID,
		Customer: psp.Customer{
			Name:    payment.PayerName,
			Email:   payment.PayerEmail,
			TaxID:   payment.PayerDocument,
			TaxType: payment.PayerDocumentType,
		},
		ItemName:        fmt.Sprintf("%d créditos", payment.CreditsToReceive),
		Amount:          payment.TotalAmount,
		NotificationURL: i.cfg.NotificationURL,
	})
	if err != nil {
		upstream := upstreamFrom(err)
		log.Error("psp rejected charge", "status", upstream.StatusCode, "detail", upstream.Detail)
		i.recordCharge(ctx, payment.ID, repo.ChargeUpdate{Status: repo.StatusFailed, ProviderError: upstream.Detail})
		return nil, upstream
	}
	i.recordCharge(ctx, payment.ID, repo.ChargeUpdate{PSPID: charge.ID})

	pix, err := i.provider.MaterializePix(ctx, charge.ID, payment.TotalAmount, expiresAt)
	if err != nil {
		upstream := upstreamFrom(err)
		log.Error("materialize pix failed", "charge_id", charge.ID, "detail", upstream.Detail)
		i.recordCharge(ctx, payment.ID, repo.ChargeUpdate{ProviderError: upstream.Detail})
		return nil, upstream
	}
	i.recordCharge(ctx, payment.ID, repo.ChargeUpdate{PixQRCode: pix.Text, PixQRImage: pix.ImageURL})

	log.Info("pix charge issued", "charge_id", charge.ID, "amount", payment.TotalAmount.StringFixed(2))
	return &IssueResult{
		OrderID:      payment.ID,
		ReferenceID:  payment.ReferenceID,
		ChargeID:     charge.ID,
		PixString:    pix.Text,
		PixQRCodeURL: pix.ImageURL,
		ExpiresAt:    expiresAt,
	}, nil
}

// recordCharge persists PSP data. Failures are logged only.
func (i *Issuer) recordCharge(ctx context.Context, paymentID string, update repo.ChargeUpdate) {
	if err := i.store.UpdatePaymentCharge(ctx, paymentID, update); err != nil {
		i.logger.Error("update payment charge", "order_id", paymentID, "error", err)
	}
}

func upstreamFrom(err error) *UpstreamError {
	var apiErr *psp.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.StatusCode, Detail: apiErr.Body, Err: err}
	}
	return &UpstreamError{StatusCode: http.StatusBadGateway, Detail: err.Error(), Err: err}
}
