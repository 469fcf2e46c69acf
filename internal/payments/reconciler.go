package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"milenio/internal/metrics"
	"milenio/internal/psp"
	"milenio/internal/repo"
)

// Notifier delivers chat messages to a buyer.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Settlement describes a first-time settlement.
type Settlement struct {
	PaymentID      string
	UserID         string
	CreditsGranted int64
}

// Reconciler settles PSP payment notifications exactly once.
type Reconciler struct {
	store    repo.Repository
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewReconciler builds a Reconciler. notifier may be nil.
func NewReconciler(store repo.Repository, notifier Notifier, metrics *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With("component", "reconciler"),
	}
}

// Reconcile validates n against the stored payment and its owner and, when every check
// passes, marks the payment paid and credits the user in one transaction.
//
// Duplicate deliveries return ErrAlreadyProcessed. Integrity failures return
// ErrAmountMismatch or ErrIdentityMismatch and leave the store untouched.
func (r *Reconciler) Reconcile(ctx context.Context, n psp.Notification) (*Settlement, error) {
	payment, err := r.store.FindPaymentByPSPID(ctx, strings.ToLower(n.ID))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			r.observe("payment_not_found")
			return nil, fmt.Errorf("payment for charge %s: %w", n.ID, ErrNotFound)
		}
		r.observe("error")
		return nil, fmt.Errorf("%w: find payment: %v", ErrTransaction, err)
	}
	log := r.logger.With("payment_id", payment.ID, "charge_id", n.ID)

	if payment.ChatID == nil {
		r.observe("invalid_payment")
		log.Error("payment has no chat id")
		return nil, invalid("payment has no chat id", "chatId")
	}

	user, err := r.store.FindUserByChatID(ctx, *payment.ChatID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			r.observe("user_not_found")
			return nil, fmt.Errorf("user for chat %d: %w", *payment.ChatID, ErrNotFound)
		}
		r.observe("error")
		return nil, fmt.Errorf("%w: find user: %v", ErrTransaction, err)
	}
	log = log.With("user_id", user.ID)
	if payment.UserID != "" && user.ID != payment.UserID {
		r.observe("owner_mismatch")
		log.Error("chat is linked to a different user than the payment owner", "owner_id", payment.UserID)
		return nil, invalid("chat is not linked to the payment owner", "userId")
	}

	var settled repo.Payment
	decide := func(p repo.Payment, u repo.User) repo.SettlementOutcome {
		settled = p
		return decideSettlement(n, p, u)
	}
	outcome, err := r.store.SettlePayment(ctx, payment.ID, user.ID, decide)
	if err != nil {
		r.observe("transaction_error")
		log.Error("settlement transaction failed", "error", err)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("settle payment %s: %w", payment.ID, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	switch outcome {
	case repo.SettlementAlreadyPaid:
		r.observe(outcome.String())
		log.Info("duplicate notification ignored")
		return nil, ErrAlreadyProcessed
	case repo.SettlementAmountMismatch:
		r.observe(outcome.String())
		log.Error("paid amount mismatch", "expected", settled.TotalAmount.String(), "received", n.Value.String())
		return nil, ErrAmountMismatch
	case repo.SettlementIdentityMismatch:
		r.observe(outcome.String())
		log.Error("payer identity mismatch", "received_registration_len", len(psp.DigitsOnly(n.PayerNationalRegistration)))
		return nil, ErrIdentityMismatch
	case repo.SettlementApply:
	default:
		return nil, fmt.Errorf("%w: unexpected outcome %s", ErrTransaction, outcome)
	}

	r.observe(outcome.String())
	if r.metrics != nil {
		r.metrics.CreditsGranted.Add(float64(settled.CreditsToReceive))
	}
	log.Info("payment settled", "credits", settled.CreditsToReceive)

	r.notifySettled(ctx, *payment.ChatID, user.ID, settled.CreditsToReceive)
	return &Settlement{
		PaymentID:      payment.ID,
		UserID:         user.ID,
		CreditsGranted: settled.CreditsToReceive,
	}, nil
}

// decideSettlement checks idempotency first, then amount, then payer identity.
func decideSettlement(n psp.Notification, p repo.Payment, u repo.User) repo.SettlementOutcome {
	if strings.EqualFold(p.Status, repo.StatusPaid) {
		return repo.SettlementAlreadyPaid
	}
	if !n.Value.Equal(p.TotalAmount) {
		return repo.SettlementAmountMismatch
	}
	if !identityMatches(n.PayerNationalRegistration, u) {
		return repo.SettlementIdentityMismatch
	}
	return repo.SettlementApply
}

func (r *Reconciler) notifySettled(ctx context.Context, chatID int64, userID string, credits int64) {
	if r.notifier == nil {
		return
	}
	text := fmt.Sprintf("✅ Pagamento confirmado! %d créditos foram adicionados à sua conta.", credits)
	if u, err := r.store.GetUserByID(ctx, userID); err == nil {
		text += fmt.Sprintf("\nSaldo atual: %d créditos.", u.TotalCredits)
	}
	if err := r.notifier.SendText(ctx, chatID, text); err != nil {
		r.logger.Warn("settlement notification failed", "chat_id", chatID, "error", err)
		if r.metrics != nil {
			r.metrics.Errors.WithLabelValues("reconciler_notify").Inc()
		}
	}
}

func (r *Reconciler) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.WebhookOutcomes.WithLabelValues(outcome).Inc()
	}
}
