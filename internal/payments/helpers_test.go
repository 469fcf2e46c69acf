package payments

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"milenio/internal/logging"
	"milenio/internal/metrics"
	"milenio/internal/psp"
	"milenio/internal/repo"
	"milenio/migrations"
)

const testCPF = "123.456.789-09"

func newStore(t *testing.T) *repo.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "payments.db")
	store, err := repo.NewSQLite(ctx, path, logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	storePaths.Store(store, path)
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

var storePaths sync.Map

// countCashOuts reads the cash_outs table through a separate connection.
func countCashOuts(t *testing.T, store *repo.SQLiteRepository) int {
	t.Helper()
	path, ok := storePaths.Load(store)
	if !ok {
		t.Fatal("store was not opened by newStore")
	}
	db, err := sql.Open("sqlite", path.(string))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cash_outs`).Scan(&n); err != nil {
		t.Fatalf("count cash outs: %v", err)
	}
	return n
}

func testMetrics() *metrics.Metrics {
	return metrics.Registry("payments_test")
}

func createUser(t *testing.T, store repo.Repository, u repo.User) *repo.User {
	t.Helper()
	created, err := store.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return created
}

func mustUser(t *testing.T, store repo.Repository, id string) *repo.User {
	t.Helper()
	u, err := store.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u
}

func mustPayment(t *testing.T, store repo.Repository, id string) *repo.Payment {
	t.Helper()
	p, err := store.GetPaymentByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	return p
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeNotifier) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeProvider struct {
	chargeErr      error
	materializeErr error
	chargeID       string
	pix            psp.PixInstrument
	lastCharge     psp.ChargeRequest
}

func (f *fakeProvider) CreateCharge(_ context.Context, req psp.ChargeRequest) (*psp.Charge, error) {
	f.lastCharge = req
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	return &psp.Charge{ID: f.chargeID, Status: "CREATED"}, nil
}

func (f *fakeProvider) MaterializePix(_ context.Context, _ string, _ decimal.Decimal, _ time.Time) (*psp.PixInstrument, error) {
	if f.materializeErr != nil {
		return nil, f.materializeErr
	}
	pix := f.pix
	return &pix, nil
}
