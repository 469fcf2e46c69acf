package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"milenio/internal/metrics"
	"milenio/internal/repo"
)

// CashOutRules are the eligibility thresholds for withdrawals.
type CashOutRules struct {
	// MinResidual is the balance, in credits, that must remain after the withdrawal.
	MinResidual int64
	// MinUsage is the lifetime credits consumed in rounds.
	MinUsage int64
	// MinDeposit is the lifetime amount paid in.
	MinDeposit decimal.Decimal
}

// CashOutRequest is a withdrawal request as typed by the user.
type CashOutRequest struct {
	UserID          string
	FormattedAmount string
	PixKey          string
}

// CashOutService validates and records withdrawals.
type CashOutService struct {
	store   repo.Repository
	rules   CashOutRules
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCashOutService builds a CashOutService.
func NewCashOutService(store repo.Repository, rules CashOutRules, metrics *metrics.Metrics, logger *slog.Logger) *CashOutService {
	return &CashOutService{
		store:   store,
		rules:   rules,
		metrics: metrics,
		logger:  logger.With("component", "cashout"),
	}
}

// Request validates the withdrawal against balance, usage and deposit rules and, on success,
// records it and debits the user atomically. It returns the new cash-out id.
func (s *CashOutService) Request(ctx context.Context, req CashOutRequest) (string, error) {
	id, err := s.request(ctx, req)
	s.observe(err)
	return id, err
}

func (s *CashOutService) request(ctx context.Context, req CashOutRequest) (string, error) {
	value, err := ParseAmount(req.FormattedAmount)
	if err != nil || value <= 0 {
		return "", invalid("amount must be a positive value", "formattedAmount")
	}
	pixKey := strings.TrimSpace(req.PixKey)
	if pixKey == "" {
		return "", invalid("pix key is required", "pixKey")
	}

	user, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("user %s: %w", req.UserID, ErrNotFound)
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	if value > s.maxWithdrawal(*user) {
		return "", ErrInsufficientBalance
	}
	if usage := UsageCredits(user.PackagePurchases); usage < s.rules.MinUsage {
		return "", fmt.Errorf("%w: used %d of %d credits", ErrMinimumUsageNotMet, usage, s.rules.MinUsage)
	}
	deposited, err := s.store.SumPaidAmount(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("sum deposits: %w", err)
	}
	if deposited.LessThan(s.rules.MinDeposit) {
		return "", fmt.Errorf("%w: deposited %s of %s", ErrMinimumDepositNotMet, deposited.StringFixed(2), s.rules.MinDeposit.StringFixed(2))
	}

	created, err := s.store.CreateCashOut(ctx, repo.CashOut{
		UserID: user.ID,
		Value:  value,
		PixKey: pixKey,
		Status: repo.CashOutPending,
	}, func(fresh repo.User) error {
		if value > s.maxWithdrawal(fresh) {
			return ErrInsufficientBalance
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			return "", ErrInsufficientBalance
		case errors.Is(err, repo.ErrNotFound):
			return "", fmt.Errorf("user %s: %w", req.UserID, ErrNotFound)
		}
		return "", fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	s.logger.Info("cash-out requested", "cashout_id", created.ID, "user_id", user.ID, "value", value)
	return created.ID, nil
}

func (s *CashOutService) maxWithdrawal(u repo.User) int64 {
	return u.TotalCredits - s.rules.MinResidual
}

func (s *CashOutService) observe(err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	var vErr *ValidationError
	switch {
	case err == nil:
	case errors.As(err, &vErr):
		result = "invalid"
	case errors.Is(err, ErrInsufficientBalance):
		result = "insufficient_balance"
	case errors.Is(err, ErrMinimumUsageNotMet):
		result = "minimum_usage"
	case errors.Is(err, ErrMinimumDepositNotMet):
		result = "minimum_deposit"
	default:
		result = "error"
	}
	s.metrics.CashOutResults.WithLabelValues(result).Inc()
}

// UsageCredits sums counter x size over per-package purchase counters keyed by package size.
// Keys that are not sizes are ignored.
func UsageCredits(purchases map[string]int64) int64 {
	var total int64
	for key, count := range purchases {
		size, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || size <= 0 || count <= 0 {
			continue
		}
		total += size * count
	}
	return total
}

// ParseAmount converts a Brazilian-formatted currency string ("R$ 1.234,56", "50,00", "12.5")
// into centavos. More than two decimal places is an error.
func ParseAmount(formatted string) (int64, error) {
	s := strings.TrimSpace(formatted)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" {
		return 0, errors.New("empty amount")
	}

	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	case strings.Contains(s, "."):
		if len(s)-strings.LastIndex(s, ".")-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", formatted, err)
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than two decimal places", formatted)
	}
	return cents.IntPart(), nil
}
