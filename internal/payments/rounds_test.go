package payments

import (
	"context"
	"errors"
	"testing"

	"milenio/internal/logging"
	"milenio/internal/repo"
)

type sizeSet map[int64]bool

func (s sizeSet) IsSize(credits int64) bool { return s[credits] }

func TestRoundApply(t *testing.T) {
	store := newStore(t)
	user := createUser(t, store, repo.User{Name: "Davi", TotalCredits: 1000})
	svc := NewRoundService(store, sizeSet{500: true, 1000: true}, logging.Discard())

	updated, err := svc.Apply(context.Background(), RoundRequest{UserID: user.ID, Stake: 500, Prize: 800, Points: 10, CorrectAnswers: 4, WrongAnswers: 1})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updated.TotalCredits != 1300 {
		t.Fatalf("expected 1300 credits, got %d", updated.TotalCredits)
	}
	if updated.PackagePurchases["500"] != 1 {
		t.Fatalf("expected purchase counter for 500, got %v", updated.PackagePurchases)
	}
	if updated.TotalPoints != 10 || updated.CorrectAnswers != 4 || updated.WrongAnswers != 1 {
		t.Fatalf("unexpected counters: %+v", updated)
	}
}

func TestRoundRejections(t *testing.T) {
	store := newStore(t)
	user := createUser(t, store, repo.User{Name: "Eva", TotalCredits: 400})
	svc := NewRoundService(store, sizeSet{500: true}, logging.Discard())
	ctx := context.Background()

	var vErr *ValidationError
	if _, err := svc.Apply(ctx, RoundRequest{UserID: user.ID, Stake: 300}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for unknown stake, got %v", err)
	}
	if _, err := svc.Apply(ctx, RoundRequest{UserID: user.ID, Stake: 500, Prize: -1}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for negative prize, got %v", err)
	}
	if _, err := svc.Apply(ctx, RoundRequest{UserID: user.ID, Stake: 500}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := svc.Apply(ctx, RoundRequest{UserID: "ghost", Stake: 500}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := mustUser(t, store, user.ID).TotalCredits; got != 400 {
		t.Fatalf("expected balance unchanged, got %d", got)
	}
}
