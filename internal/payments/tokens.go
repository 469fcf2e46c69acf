package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"milenio/internal/repo"
)

// TokenPrefixLen is the length of the token prefix carried in callback data.
const TokenPrefixLen = 16

// TokenPrefix returns the callback-sized prefix of a purchase token.
func TokenPrefix(token string) string {
	if len(token) <= TokenPrefixLen {
		return token
	}
	return token[:TokenPrefixLen]
}

// PurchaseToken is a fresh correlation token and the bot deep link that carries it.
type PurchaseToken struct {
	Token  string
	BotURL string
}

// TokenIssuer hands out purchase tokens linking a web session to the chat bot.
type TokenIssuer struct {
	store       repo.Repository
	botUsername string
}

// NewTokenIssuer builds a TokenIssuer.
func NewTokenIssuer(store repo.Repository, botUsername string) *TokenIssuer {
	return &TokenIssuer{store: store, botUsername: strings.TrimPrefix(strings.TrimSpace(botUsername), "@")}
}

// Issue stores a new token and its prefix on the user in a single write.
func (t *TokenIssuer) Issue(ctx context.Context, userID string) (*PurchaseToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user id is required", "userId")
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := t.store.SetPurchaseToken(ctx, userID, token, TokenPrefix(token)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("store purchase token: %w", err)
	}
	out := &PurchaseToken{Token: token}
	if t.botUsername != "" {
		out.BotURL = "https://t.me/" + t.botUsername + "?start=" + url.QueryEscape(token)
	}
	return out, nil
}
