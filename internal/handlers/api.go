package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"milenio/internal/auth"
	"milenio/internal/payments"
	"milenio/internal/psp"
	"milenio/internal/ranking"
	"milenio/internal/repo"
)

// ChargeIssuer creates web PIX charges.
type ChargeIssuer interface {
	Issue(ctx context.Context, req payments.IssueRequest) (*payments.IssueResult, error)
}

// TokenIssuer hands out purchase tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, userID string) (*payments.PurchaseToken, error)
}

// CashOutRequester records withdrawals.
type CashOutRequester interface {
	Request(ctx context.Context, req payments.CashOutRequest) (string, error)
}

// RoundApplier settles quiz rounds.
type RoundApplier interface {
	Apply(ctx context.Context, req payments.RoundRequest) (*repo.User, error)
}

// RankingReader serves the leaderboard.
type RankingReader interface {
	Top(ctx context.Context, limit int) ([]ranking.Entry, error)
}

// SupportStore records support tickets.
type SupportStore interface {
	InsertSupportTicket(ctx context.Context, ticket repo.SupportTicket) (*repo.SupportTicket, error)
}

// API holds the browser-facing handlers.
type API struct {
	issuer  ChargeIssuer
	tokens  TokenIssuer
	cashout CashOutRequester
	rounds  RoundApplier
	ranking RankingReader
	support SupportStore
	logger  *slog.Logger
}

// APIDependencies wires the services behind the browser API.
type APIDependencies struct {
	Issuer  ChargeIssuer
	Tokens  TokenIssuer
	CashOut CashOutRequester
	Rounds  RoundApplier
	Ranking RankingReader
	Support SupportStore
}

// NewAPI builds the browser API handlers.
func NewAPI(deps APIDependencies, logger *slog.Logger) *API {
	return &API{
		issuer:  deps.Issuer,
		tokens:  deps.Tokens,
		cashout: deps.CashOut,
		rounds:  deps.Rounds,
		ranking: deps.Ranking,
		support: deps.Support,
		logger:  logger.With("component", "api"),
	}
}

type issueRequest struct {
	UserID           string          `json:"userId"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	CreditsToReceive int64           `json:"creditsToReceive"`
	DocumentValue    string          `json:"documentValue"`
	DocumentType     string          `json:"documentType"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
}

type issueResponse struct {
	Success      bool      `json:"success"`
	OrderID      string    `json:"orderId"`
	ReferenceID  string    `json:"referenceId"`
	ChargeID     string    `json:"chargeId"`
	PixString    string    `json:"pixString"`
	PixQRCodeURL string    `json:"pixQrCodeUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type failureResponse struct {
	Success       bool     `json:"success"`
	Error         string   `json:"error"`
	MissingFields []string `json:"missingFields,omitempty"`
	Details       string   `json:"details,omitempty"`
}

// IssuePix handles POST /api/payments/pix.
func (a *API) IssuePix(w http.ResponseWriter, r *http.Request) {
	var body issueRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, failureResponse{Error: "Invalid JSON body"})
		return
	}

	if uid, ok := auth.UserID(r.Context()); ok {
		if body.UserID != "" && body.UserID != uid {
			writeJSON(w, http.StatusForbidden, failureResponse{Error: "userId does not match the authenticated user"})
			return
		}
		body.UserID = uid
	}

	res, err := a.issuer.Issue(r.Context(), payments.IssueRequest{
		UserID:           body.UserID,
		TotalAmount:      body.TotalAmount,
		CreditsToReceive: body.CreditsToReceive,
		DocumentValue:    body.DocumentValue,
		DocumentType:     body.DocumentType,
		Name:             body.Name,
		Email:            body.Email,
	})
	if err != nil {
		a.writeIssueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, issueResponse{
		Success:      true,
		OrderID:      res.OrderID,
		ReferenceID:  res.ReferenceID,
		ChargeID:     res.ChargeID,
		PixString:    res.PixString,
		PixQRCodeURL: res.PixQRCodeURL,
		ExpiresAt:    res.ExpiresAt,
	})
}

func (a *API) writeIssueError(w http.ResponseWriter, err error) {
	var vErr *payments.ValidationError
	var upstream *payments.UpstreamError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, failureResponse{Error: vErr.Reason, MissingFields: vErr.Fields})
	case errors.Is(err, payments.ErrNotFound):
		writeJSON(w, http.StatusNotFound, failureResponse{Error: "User not found"})
	case errors.Is(err, psp.ErrNotConfigured):
		a.logger.Error("pix issuance without psp credentials")
		writeJSON(w, http.StatusInternalServerError, failureResponse{Error: "Payment provider not configured"})
	case errors.As(err, &upstream):
		status := upstream.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, failureResponse{Error: "Payment provider error", Details: upstream.Detail})
	default:
		a.logger.Error("pix issuance failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, failureResponse{Error: "Internal error"})
	}
}

// PurchaseToken handles POST /api/purchase-token.
func (a *API) PurchaseToken(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	tok, err := a.tokens.Issue(r.Context(), uid)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		a.logger.Error("purchase token issuance failed", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok.Token, "botUrl": tok.BotURL})
}

type cashOutBody struct {
	FormattedAmount string `json:"formattedAmount"`
	PixKey          string `json:"pixKey"`
}

// CashOut handles POST /api/cashout.
func (a *API) CashOut(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var body cashOutBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido.")
		return
	}

	id, err := a.cashout.Request(r.Context(), payments.CashOutRequest{
		UserID:          uid,
		FormattedAmount: body.FormattedAmount,
		PixKey:          body.PixKey,
	})
	if err != nil {
		status, message := cashOutResponse(err)
		if status >= http.StatusInternalServerError {
			a.logger.Error("cash-out failed", "user_id", uid, "error", err)
		}
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func cashOutResponse(err error) (int, string) {
	var vErr *payments.ValidationError
	switch {
	case errors.As(err, &vErr):
		if len(vErr.Fields) > 0 && vErr.Fields[0] == "pixKey" {
			return http.StatusBadRequest, "Informe a chave PIX."
		}
		return http.StatusBadRequest, "Informe um valor válido para saque."
	case errors.Is(err, payments.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "Saldo insuficiente para este saque."
	case errors.Is(err, payments.ErrMinimumUsageNotMet):
		return http.StatusUnprocessableEntity, "Você ainda não jogou o mínimo necessário para sacar."
	case errors.Is(err, payments.ErrMinimumDepositNotMet):
		return http.StatusUnprocessableEntity, "Você ainda não depositou o mínimo necessário para sacar."
	case errors.Is(err, payments.ErrNotFound):
		return http.StatusNotFound, "Usuário não encontrado."
	default:
		return http.StatusInternalServerError, "Não foi possível registrar o saque. Tente novamente."
	}
}

type roundBody struct {
	Stake          int64 `json:"stake"`
	Prize          int64 `json:"prize"`
	Points         int64 `json:"points"`
	CorrectAnswers int64 `json:"correctAnswers"`
	WrongAnswers   int64 `json:"wrongAnswers"`
}

// Round handles POST /api/rounds.
func (a *API) Round(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var body roundBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	user, err := a.rounds.Apply(r.Context(), payments.RoundRequest{
		UserID:         uid,
		Stake:          body.Stake,
		Prize:          body.Prize,
		Points:         body.Points,
		CorrectAnswers: body.CorrectAnswers,
		WrongAnswers:   body.WrongAnswers,
	})
	if err != nil {
		var vErr *payments.ValidationError
		switch {
		case errors.As(err, &vErr):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": vErr.Reason, "fields": vErr.Fields})
		case errors.Is(err, payments.ErrInsufficientBalance):
			writeError(w, http.StatusPaymentRequired, "Insufficient credits")
		case errors.Is(err, payments.ErrNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			a.logger.Error("round settlement failed", "user_id", uid, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"totalCredits":   user.TotalCredits,
		"totalPoints":    user.TotalPoints,
		"correctAnswers": user.CorrectAnswers,
		"wrongAnswers":   user.WrongAnswers,
	})
}

// Ranking handles GET /api/ranking.
func (a *API) Ranking(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}
	entries, err := a.ranking.Top(r.Context(), limit)
	if err != nil {
		a.logger.Error("ranking failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ranking": entries})
}

type supportBody struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Support handles POST /api/support.
func (a *API) Support(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var body supportBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	var missing []string
	if strings.TrimSpace(body.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(body.Message) == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing required fields", "fields": missing})
		return
	}

	ticket, err := a.support.InsertSupportTicket(r.Context(), repo.SupportTicket{
		UserID:  uid,
		Email:   strings.TrimSpace(body.Email),
		Subject: strings.TrimSpace(body.Subject),
		Message: strings.TrimSpace(body.Message),
		Status:  repo.SupportOpen,
	})
	if err != nil {
		a.logger.Error("support ticket failed", "user_id", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": ticket.ID})
}
