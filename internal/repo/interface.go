package repo

import (
	"context"
	"errors"
	"io/fs"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the requested document does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	CreateUser(ctx context.Context, user User) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	FindUserByPurchaseToken(ctx context.Context, token string) (*User, error)
	FindUserByTokenPrefix(ctx context.Context, prefix string) (*User, error)
	FindUserByChatID(ctx context.Context, chatID int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListTopUsers(ctx context.Context, limit int) ([]User, error)
	SetPurchaseToken(ctx context.Context, userID, token, prefix string) error
	AttachChatID(ctx context.Context, userID string, chatID int64) error

	// Payments
	InsertPayment(ctx context.Context, payment Payment) (*Payment, error)
	GetPaymentByID(ctx context.Context, id string) (*Payment, error)
	FindPaymentByPSPID(ctx context.Context, pspID string) (*Payment, error)
	UpdatePaymentCharge(ctx context.Context, id string, update ChargeUpdate) error
	SumPaidAmount(ctx context.Context, userID string) (decimal.Decimal, error)

	// Transactional credit mutations
	SettlePayment(ctx context.Context, paymentID, userID string, decide SettleFunc) (SettlementOutcome, error)
	CreateCashOut(ctx context.Context, cashOut CashOut, check UserCheck) (*CashOut, error)
	ApplyRound(ctx context.Context, round RoundResult, check UserCheck) (*User, error)

	// Support
	InsertSupportTicket(ctx context.Context, ticket SupportTicket) (*SupportTicket, error)
}
