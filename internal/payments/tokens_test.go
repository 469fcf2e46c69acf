package payments

import (
	"context"
	"errors"
	"strings"
	"testing"

	"milenio/internal/repo"
)

func TestTokenIssue(t *testing.T) {
	store := newStore(t)
	user := createUser(t, store, repo.User{Name: "Fabi"})
	issuer := NewTokenIssuer(store, "@MilenioBot")
	ctx := context.Background()

	tok, err := issuer.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(tok.Token) != 32 || strings.Contains(tok.Token, "-") {
		t.Fatalf("unexpected token %q", tok.Token)
	}
	if tok.BotURL != "https://t.me/MilenioBot?start="+tok.Token {
		t.Fatalf("unexpected bot url %q", tok.BotURL)
	}

	byToken, err := store.FindUserByPurchaseToken(ctx, tok.Token)
	if err != nil || byToken.ID != user.ID {
		t.Fatalf("lookup by token: %v %+v", err, byToken)
	}
	byPrefix, err := store.FindUserByTokenPrefix(ctx, TokenPrefix(tok.Token))
	if err != nil || byPrefix.ID != user.ID {
		t.Fatalf("lookup by prefix: %v %+v", err, byPrefix)
	}

	if _, err := issuer.Issue(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenPrefix(t *testing.T) {
	if got := TokenPrefix("abc"); got != "abc" {
		t.Fatalf("short token: got %q", got)
	}
	if got := TokenPrefix("0123456789abcdef0123"); got != "0123456789abcdef" {
		t.Fatalf("long token: got %q", got)
	}
}
