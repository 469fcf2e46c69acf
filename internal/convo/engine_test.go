package convo

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"milenio/internal/catalog"
	"milenio/internal/logging"
	"milenio/internal/metrics"
	"milenio/internal/psp"
	"milenio/internal/repo"
	"milenio/internal/telegram"
	"milenio/migrations"
)

const testToken = "0123456789abcdef0123456789abcdef"

type fakeMessenger struct {
	mu         sync.Mutex
	configured bool
	messages   []telegram.OutgoingMessage
	answered   []string
}

func (f *fakeMessenger) Configured() bool { return f.configured }

func (f *fakeMessenger) SendMessage(_ context.Context, msg telegram.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMessenger) SendText(ctx context.Context, chatID int64, text string) error {
	return f.SendMessage(ctx, telegram.OutgoingMessage{ChatID: chatID, Text: text})
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, callbackID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeMessenger) last(t *testing.T) telegram.OutgoingMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("expected a chat message")
	}
	return f.messages[len(f.messages)-1]
}

type fakeCashIn struct {
	configured bool
	err        error
	charge     psp.CashIn
	calls      int
	last       psp.CashInRequest
}

func (f *fakeCashIn) Configured() bool { return f.configured }

func (f *fakeCashIn) CashIn(_ context.Context, req psp.CashInRequest) (*psp.CashIn, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	charge := f.charge
	return &charge, nil
}

type memoryDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryDedup) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type engineFixture struct {
	store     *repo.SQLiteRepository
	messenger *fakeMessenger
	provider  *fakeCashIn
	engine    *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "convo.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	messenger := &fakeMessenger{configured: true}
	provider := &fakeCashIn{
		configured: true,
		charge:     psp.CashIn{ID: "9F2A-ABCD", Status: "created", QRCode: "00020101021226pix<&>"},
	}
	engine := New(store, catalog.Default(), provider, messenger, &memoryDedup{}, metrics.Registry("convo_test"), logging.Discard(), EngineConfig{
		LookupAttempts:  3,
		LookupDelay:     time.Second,
		NotificationURL: "https://milenio.example.com/webhook/pix",
	})
	engine.sleep = func(context.Context, time.Duration) error { return nil }
	return &engineFixture{store: store, messenger: messenger, provider: provider, engine: engine}
}

func (f *engineFixture) createUser(t *testing.T, u repo.User) *repo.User {
	t.Helper()
	created, err := f.store.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return created
}

func startUpdate(chatID int64, text string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{Chat: telegram.Chat{ID: chatID}, Text: text}}
}

func callbackUpdate(id string, chatID int64, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      id,
		From:    telegram.User{ID: chatID},
		Message: &telegram.Message{Chat: telegram.Chat{ID: chatID}},
		Data:    data,
	}}
}

func TestStartFindsTokenOnThirdAttempt(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	user := f.createUser(t, repo.User{Name: "Gabi", TotalCredits: 100})

	sleeps := 0
	f.engine.sleep = func(context.Context, time.Duration) error {
		sleeps++
		if sleeps == 2 {
			if err := f.store.SetPurchaseToken(ctx, user.ID, testToken, ""); err != nil {
				t.Fatalf("set token: %v", err)
			}
		}
		return nil
	}

	f.engine.HandleUpdate(ctx, startUpdate(555, "/start "+testToken))

	if sleeps != 2 {
		t.Fatalf("expected 2 waits between 3 attempts, got %d", sleeps)
	}
	menu := f.messenger.last(t)
	if menu.ChatID != 555 || len(menu.Keyboard) != len(catalog.Default().Packages()) {
		t.Fatalf("expected package menu, got %+v", menu)
	}
	if got := menu.Keyboard[0][0].CallbackData; got != "p500|0123456789abcdef" {
		t.Fatalf("unexpected callback data %q", got)
	}

	linked, err := f.store.FindUserByChatID(ctx, 555)
	if err != nil {
		t.Fatalf("find by chat id: %v", err)
	}
	if linked.ID != user.ID {
		t.Fatalf("chat attached to %s, want %s", linked.ID, user.ID)
	}
	if linked.PurchaseTokenPrefix != "0123456789abcdef" {
		t.Fatalf("expected prefix index stored, got %q", linked.PurchaseTokenPrefix)
	}
}

func TestStartGivesUpAfterAttempts(t *testing.T) {
	f := newEngineFixture(t)
	sleeps := 0
	f.engine.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}

	f.engine.HandleUpdate(context.Background(), startUpdate(1, "/start missing"))

	if sleeps != 2 {
		t.Fatalf("expected 2 waits, got %d", sleeps)
	}
	if got := f.messenger.last(t).Text; got != msgTokenNotFound {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestStartWithoutToken(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.HandleUpdate(context.Background(), startUpdate(1, "/start"))
	if got := f.messenger.last(t).Text; got != msgNoToken {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestCallbackCreatesPendingPayment(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	user := f.createUser(t, repo.User{Name: "Hugo", TotalCredits: 250})
	if err := f.store.SetPurchaseToken(ctx, user.ID, testToken, "0123456789abcdef"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	f.engine.HandleUpdate(ctx, callbackUpdate("cb-1", 777, "p1000|0123456789abcdef"))

	if len(f.messenger.answered) != 1 || f.messenger.answered[0] != "cb-1" {
		t.Fatalf("expected callback answered, got %v", f.messenger.answered)
	}
	if !f.provider.last.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected cash-in of 10, got %s", f.provider.last.Amount)
	}
	pix := f.messenger.last(t)
	if pix.ParseMode != "HTML" || !strings.Contains(pix.Text, "00020101021226pix&lt;&amp;&gt;") {
		t.Fatalf("expected escaped pix code, got %q", pix.Text)
	}

	payment, err := f.store.FindPaymentByPSPID(ctx, "9f2a-abcd")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if payment.PSPID != "9f2a-abcd" {
		t.Fatalf("expected lower-cased psp id, got %q", payment.PSPID)
	}
	if payment.Status != repo.StatusPending || payment.UserID != user.ID || payment.CreditsToReceive != 1000 {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if payment.UserCreditsBeforePurchase == nil || *payment.UserCreditsBeforePurchase != 250 {
		t.Fatalf("expected credits before purchase 250, got %v", payment.UserCreditsBeforePurchase)
	}
	if payment.ChatID == nil || *payment.ChatID != 777 {
		t.Fatalf("expected chat id 777, got %v", payment.ChatID)
	}

	f.engine.HandleUpdate(ctx, callbackUpdate("cb-1", 777, "p1000|0123456789abcdef"))
	if f.provider.calls != 1 {
		t.Fatalf("expected redelivered callback to be ignored, got %d cash-ins", f.provider.calls)
	}
}

func TestCallbackFallsBackToScan(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	user := f.createUser(t, repo.User{Name: "Iris", PurchaseToken: testToken})

	f.engine.HandleUpdate(ctx, callbackUpdate("cb-2", 8, "p500|0123456789abcdef"))

	payment, err := f.store.FindPaymentByPSPID(ctx, "9f2a-abcd")
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if payment.UserID != user.ID {
		t.Fatalf("payment owned by %s, want %s", payment.UserID, user.ID)
	}
}

func TestCallbackWithoutUserCreatesNothing(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.engine.HandleUpdate(ctx, callbackUpdate("cb-3", 9, "p500|ffffffffffffffff"))

	if got := f.messenger.last(t).Text; got != msgUserNotFound {
		t.Fatalf("unexpected reply %q", got)
	}
	if _, err := f.store.FindPaymentByPSPID(ctx, "9f2a-abcd"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no payment, got %v", err)
	}
}

func TestCallbackIgnoredCases(t *testing.T) {
	t.Run("unknown package", func(t *testing.T) {
		f := newEngineFixture(t)
		f.engine.HandleUpdate(context.Background(), callbackUpdate("cb-4", 9, "p999|0123456789abcdef"))
		if f.provider.calls != 0 || len(f.messenger.messages) != 0 {
			t.Fatalf("expected no action, got %d cash-ins and %d messages", f.provider.calls, len(f.messenger.messages))
		}
		if len(f.messenger.answered) != 1 {
			t.Fatal("expected callback to be answered")
		}
	})
	t.Run("psp not configured", func(t *testing.T) {
		f := newEngineFixture(t)
		f.provider.configured = false
		f.engine.HandleUpdate(context.Background(), callbackUpdate("cb-5", 9, "p500|0123456789abcdef"))
		if f.provider.calls != 0 || len(f.messenger.messages) != 0 {
			t.Fatal("expected no action")
		}
	})
	t.Run("bot not configured", func(t *testing.T) {
		f := newEngineFixture(t)
		f.messenger.configured = false
		f.engine.HandleUpdate(context.Background(), callbackUpdate("cb-6", 9, "p500|0123456789abcdef"))
		if len(f.messenger.answered) != 0 || f.provider.calls != 0 {
			t.Fatal("expected update to be ignored")
		}
	})
}

func TestCallbackChargeFailureNotifiesChat(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.err = psp.ErrMissingQR

	f.engine.HandleUpdate(context.Background(), callbackUpdate("cb-7", 9, "p500|0123456789abcdef"))

	if got := f.messenger.last(t).Text; got != msgChargeFailed {
		t.Fatalf("unexpected reply %q", got)
	}
}
