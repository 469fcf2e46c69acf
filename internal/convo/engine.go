package convo

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"milenio/internal/catalog"
	"milenio/internal/metrics"
	"milenio/internal/payments"
	"milenio/internal/psp"
	"milenio/internal/repo"
	"milenio/internal/telegram"
)

const (
	msgNoToken        = "Para comprar créditos, abra a loja dentro do jogo e toque em \"Comprar pelo Telegram\"."
	msgTokenNotFound  = "Não encontramos sua sessão de compra. Tente novamente em instantes."
	msgLinkFailed     = "Não foi possível vincular sua conta agora. Tente novamente em instantes."
	msgChargeFailed   = "Não foi possível gerar o PIX agora. Tente novamente mais tarde."
	msgUserNotFound   = "Não encontramos sua conta. Volte ao jogo e inicie a compra novamente."
	msgRecordFailed   = "Recebemos seu pedido, mas não conseguimos registrá-lo. Não pague este PIX e inicie a compra novamente."
	defaultDedupTTL   = 10 * time.Minute
	callbackKeyPrefix = "tg:callback:"
)

// Messenger delivers bot messages.
type Messenger interface {
	Configured() bool
	SendMessage(ctx context.Context, msg telegram.OutgoingMessage) error
	SendText(ctx context.Context, chatID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// CashInProvider creates single-step PIX charges.
type CashInProvider interface {
	Configured() bool
	CashIn(ctx context.Context, req psp.CashInRequest) (*psp.CashIn, error)
}

// Deduper claims a key once within ttl. Claim reports false when the key was already taken.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// EngineConfig tunes the chat purchase flow.
type EngineConfig struct {
	LookupAttempts  int
	LookupDelay     time.Duration
	NotificationURL string
	DedupTTL        time.Duration
}

// Engine runs the Telegram purchase conversation. It never returns errors to the transport;
// failures become chat messages and log lines.
type Engine struct {
	store     repo.Repository
	catalog   *catalog.Catalog
	provider  CashInProvider
	messenger Messenger
	dedup     Deduper
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       EngineConfig
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds an Engine. dedup may be nil.
func New(store repo.Repository, cat *catalog.Catalog, provider CashInProvider, messenger Messenger, dedup Deduper, metrics *metrics.Metrics, logger *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.LookupAttempts < 1 {
		cfg.LookupAttempts = 3
	}
	if cfg.LookupDelay < 0 {
		cfg.LookupDelay = 0
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	return &Engine{
		store:     store,
		catalog:   cat,
		provider:  provider,
		messenger: messenger,
		dedup:     dedup,
		metrics:   metrics,
		logger:    logger.With("component", "convo"),
		cfg:       cfg,
		sleep:     sleepContext,
	}
}

// HandleUpdate processes one inbound update.
func (e *Engine) HandleUpdate(ctx context.Context, update telegram.Update) {
	switch {
	case update.CallbackQuery != nil:
		e.observe("callback")
	case update.Message != nil:
		e.observe("message")
	default:
		e.observe("other")
		return
	}

	if !e.messenger.Configured() {
		e.logger.Warn("telegram bot token not configured, ignoring update", "update_id", update.UpdateID)
		return
	}

	if update.CallbackQuery != nil {
		e.handleCallback(ctx, update.CallbackQuery)
		return
	}
	e.handleMessage(ctx, update.Message)
}

func (e *Engine) handleMessage(ctx context.Context, msg *telegram.Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	command, _, _ := strings.Cut(fields[0], "@")
	if command != "/start" {
		e.reply(ctx, msg.Chat.ID, msgNoToken)
		return
	}
	if len(fields) < 2 {
		e.reply(ctx, msg.Chat.ID, msgNoToken)
		return
	}
	e.handleStart(ctx, msg.Chat.ID, fields[1])
}

func (e *Engine) handleStart(ctx context.Context, chatID int64, token string) {
	log := e.logger.With("chat_id", chatID)

	user, err := e.lookupToken(ctx, token)
	if err != nil {
		log.Warn("purchase token not resolved", "attempts", e.cfg.LookupAttempts, "error", err)
		e.reply(ctx, chatID, msgTokenNotFound)
		return
	}
	log = log.With("user_id", user.ID)

	if err := e.store.AttachChatID(ctx, user.ID, chatID); err != nil {
		log.Error("attach chat id", "error", err)
		e.countError()
		e.reply(ctx, chatID, msgLinkFailed)
		return
	}

	prefix := payments.TokenPrefix(token)
	if user.PurchaseTokenPrefix != prefix {
		if err := e.store.SetPurchaseToken(ctx, user.ID, token, prefix); err != nil {
			log.Warn("store token prefix", "error", err)
		}
	}

	pkgs := e.catalog.Packages()
	err = e.messenger.SendMessage(ctx, telegram.OutgoingMessage{
		ChatID:   chatID,
		Text:     formatPackageMenu(pkgs),
		Keyboard: packageKeyboard(pkgs, prefix),
	})
	if err != nil {
		log.Error("send package menu", "error", err)
		e.countError()
		return
	}
	log.Info("chat linked, package menu sent")
}

// lookupToken retries the token lookup to absorb the delay between the web session writing the
// token and the user opening the bot.
func (e *Engine) lookupToken(ctx context.Context, token string) (*repo.User, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.LookupAttempts; attempt++ {
		user, err := e.store.FindUserByPurchaseToken(ctx, token)
		if err == nil {
			return user, nil
		}
		lastErr = err
		if !errors.Is(err, repo.ErrNotFound) {
			e.logger.Warn("purchase token lookup failed", "attempt", attempt, "error", err)
		}
		if attempt == e.cfg.LookupAttempts {
			break
		}
		if err := e.sleep(ctx, e.cfg.LookupDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("find user by purchase token: %w", lastErr)
}

func (e *Engine) handleCallback(ctx context.Context, q *telegram.CallbackQuery) {
	if err := e.messenger.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
		e.logger.Warn("answer callback query", "callback_id", q.ID, "error", err)
	}

	chatID := q.ChatID()
	log := e.logger.With("chat_id", chatID, "callback_id", q.ID)

	if e.dedup != nil {
		fresh, err := e.dedup.Claim(ctx, callbackKeyPrefix+q.ID, e.cfg.DedupTTL)
		switch {
		case err != nil:
			log.Warn("callback de-duplication unavailable", "error", err)
		case !fresh:
			log.Info("duplicate callback ignored")
			return
		}
	}

	packageID, prefix, ok := parseCallbackData(q.Data)
	if !ok {
		log.Warn("malformed callback data", "data", q.Data)
		return
	}
	pkg, ok := e.catalog.Lookup(packageID)
	if !ok {
		log.Warn("unknown package", "package_id", packageID)
		return
	}
	if !e.provider.Configured() {
		log.Warn("psp credential not configured, ignoring package selection", "package_id", packageID)
		return
	}
	log = log.With("package_id", pkg.ID)

	charge, err := e.provider.CashIn(ctx, psp.CashInRequest{Amount: pkg.Price, WebhookURL: e.cfg.NotificationURL})
	if err != nil {
		var apiErr *psp.APIError
		if errors.As(err, &apiErr) {
			log.Error("psp cash-in failed", "status", apiErr.StatusCode, "body", apiErr.Body)
		} else {
			log.Error("psp cash-in failed", "error", err)
		}
		e.countError()
		e.reply(ctx, chatID, msgChargeFailed)
		return
	}
	log = log.With("psp_id", charge.ID)

	e.sendPix(ctx, chatID, pkg, charge)

	user, err := e.resolvePrefix(ctx, prefix)
	if err != nil {
		log.Warn("user not resolved from callback", "error", err)
		e.reply(ctx, chatID, msgUserNotFound)
		return
	}

	before := user.TotalCredits
	payment, err := e.store.InsertPayment(ctx, repo.Payment{
		ID:                        uuid.NewString(),
		UserID:                    user.ID,
		PSPID:                     strings.ToLower(charge.ID),
		TotalAmount:               pkg.Price,
		CreditsToReceive:          pkg.Credits,
		UserCreditsBeforePurchase: &before,
		Status:                    repo.StatusPending,
		PixQRCode:                 charge.QRCode,
		PixQRImage:                charge.QRCodeImage,
		ChatID:                    &chatID,
		PackageID:                 pkg.ID,
	})
	if err != nil {
		log.Error("insert payment", "user_id", user.ID, "error", err)
		e.countError()
		e.reply(ctx, chatID, msgRecordFailed)
		return
	}
	log.Info("chat payment created", "payment_id", payment.ID, "user_id", user.ID, "amount", pkg.Price.StringFixed(2))
}

func (e *Engine) sendPix(ctx context.Context, chatID int64, pkg catalog.Package, charge *psp.CashIn) {
	text := fmt.Sprintf("PIX de %s para %s créditos.\nCopie o código abaixo e pague no app do seu banco:\n\n<code>%s</code>",
		formatBRL(pkg.Price), formatCredits(pkg.Credits), html.EscapeString(charge.QRCode))
	err := e.messenger.SendMessage(ctx, telegram.OutgoingMessage{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		e.logger.Error("send pix code", "chat_id", chatID, "error", err)
		e.countError()
	}
}

// resolvePrefix maps a callback token prefix to its user. The prefix index is tried first; users
// written before the index existed are found by scanning.
func (e *Engine) resolvePrefix(ctx context.Context, prefix string) (*repo.User, error) {
	user, err := e.store.FindUserByTokenPrefix(ctx, prefix)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("find user by token prefix: %w", err)
	}

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		if users[i].PurchaseToken != "" && strings.HasPrefix(users[i].PurchaseToken, prefix) {
			return &users[i], nil
		}
	}
	return nil, fmt.Errorf("token prefix %s: %w", prefix, repo.ErrNotFound)
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) {
	if err := e.messenger.SendText(ctx, chatID, text); err != nil {
		e.logger.Error("send chat reply", "chat_id", chatID, "error", err)
		e.countError()
	}
}

func (e *Engine) observe(kind string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ChatIncomingUpdates.WithLabelValues(kind).Inc()
}

func (e *Engine) countError() {
	if e.metrics == nil {
		return
	}
	e.metrics.Errors.WithLabelValues("convo").Inc()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
