package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"milenio/internal/repo"
)

// StakeSizes reports which stakes are valid package sizes.
type StakeSizes interface {
	IsSize(credits int64) bool
}

// RoundRequest is a finished quiz round reported by the client.
type RoundRequest struct {
	UserID         string
	Stake          int64
	Prize          int64
	Points         int64
	CorrectAnswers int64
	WrongAnswers   int64
}

// RoundService settles quiz rounds against the credit balance.
type RoundService struct {
	store  repo.Repository
	sizes  StakeSizes
	logger *slog.Logger
}

// NewRoundService builds a RoundService.
func NewRoundService(store repo.Repository, sizes StakeSizes, logger *slog.Logger) *RoundService {
	return &RoundService{store: store, sizes: sizes, logger: logger.With("component", "rounds")}
}

// Apply debits the stake, credits the prize and bumps the counters in one transaction.
func (s *RoundService) Apply(ctx context.Context, req RoundRequest) (*repo.User, error) {
	var fields []string
	if req.UserID == "" {
		fields = append(fields, "userId")
	}
	if req.Stake <= 0 || (s.sizes != nil && !s.sizes.IsSize(req.Stake)) {
		fields = append(fields, "stake")
	}
	if req.Prize < 0 {
		fields = append(fields, "prize")
	}
	if req.Points < 0 || req.CorrectAnswers < 0 || req.WrongAnswers < 0 {
		fields = append(fields, "points")
	}
	if len(fields) > 0 {
		return nil, invalid("invalid round", fields...)
	}

	updated, err := s.store.ApplyRound(ctx, repo.RoundResult{
		UserID:         req.UserID,
		Stake:          req.Stake,
		Prize:          req.Prize,
		Points:         req.Points,
		CorrectAnswers: req.CorrectAnswers,
		WrongAnswers:   req.WrongAnswers,
	}, func(u repo.User) error {
		if req.Stake > u.TotalCredits {
			return ErrInsufficientBalance
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			return nil, ErrInsufficientBalance
		case errors.Is(err, repo.ErrNotFound):
			return nil, fmt.Errorf("user %s: %w", req.UserID, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	s.logger.Info("round applied", "user_id", updated.ID, "stake", req.Stake, "prize", req.Prize, "credits", updated.TotalCredits)
	return updated, nil
}
