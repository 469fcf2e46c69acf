package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment status values. Chat-issued charges start as StatusPending, browser-issued
// intents as StatusIntentPending; both settle to StatusPaid.
const (
	StatusPending       = "pending"
	StatusIntentPending = "PENDING"
	StatusPaid          = "paid"
	StatusFailed        = "FAILED"
)

// Cash-out status values.
const (
	CashOutPending = "pending"
	CashOutDone    = "done"
)

// SupportOpen is the status of a new support ticket.
const SupportOpen = "open"

// User represents a player account.
type User struct {
	ID                  string
	Name                string
	Email               string
	TotalCredits        int64
	TotalPoints         int64
	CorrectAnswers      int64
	WrongAnswers        int64
	PurchaseToken       string
	PurchaseTokenPrefix string
	ChatID              *int64
	CPF                 string
	CNPJ                string
	// PackagePurchases counts purchased rounds keyed by package size in credits.
	PackagePurchases map[string]int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Payment represents a PIX purchase of credits. ID is the internally generated order id.
type Payment struct {
	ID                        string
	ReferenceID               string
	UserID                    string
	PSPID                     string
	PayerName                 string
	PayerEmail                string
	PayerDocument             string
	PayerDocumentType         string
	TotalAmount               decimal.Decimal
	CreditsToReceive          int64
	UserCreditsBeforePurchase *int64
	Status                    string
	PixQRCode                 string
	PixQRImage                string
	ChatID                    *int64
	PackageID                 string
	ProviderError             string
	ExpiresAt                 *time.Time
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// ChargeUpdate carries PSP data attached to a payment after issuance.
// Empty fields leave the stored value untouched.
type ChargeUpdate struct {
	Status        string
	PSPID         string
	PixQRCode     string
	PixQRImage    string
	ProviderError string
}

// CashOut represents a withdrawal request. Value is in centavos.
type CashOut struct {
	ID        string
	UserID    string
	Value     int64
	PixKey    string
	Status    string
	CreatedAt time.Time
}

// RoundResult is the outcome of one finished quiz round.
type RoundResult struct {
	UserID         string
	Stake          int64
	Prize          int64
	Points         int64
	CorrectAnswers int64
	WrongAnswers   int64
}

// SupportTicket is a message sent to the support inbox.
type SupportTicket struct {
	ID        string
	UserID    string
	Email     string
	Subject   string
	Message   string
	Status    string
	CreatedAt time.Time
}

// SettlementOutcome is the verdict taken on fresh transactional reads of a payment and its owner.
type SettlementOutcome int

const (
	// SettlementApply marks the payment paid and credits the user.
	SettlementApply SettlementOutcome = iota
	SettlementAlreadyPaid
	SettlementAmountMismatch
	SettlementIdentityMismatch
)

func (o SettlementOutcome) String() string {
	switch o {
	case SettlementApply:
		return "applied"
	case SettlementAlreadyPaid:
		return "already_paid"
	case SettlementAmountMismatch:
		return "amount_mismatch"
	case SettlementIdentityMismatch:
		return "identity_mismatch"
	default:
		return "unknown"
	}
}

// SettleFunc decides a settlement. It runs inside the store transaction and may be
// invoked more than once when the store retries, so it must not perform I/O.
type SettleFunc func(p Payment, u User) SettlementOutcome

// UserCheck validates a fresh transactional read of a user before a debit is written.
// A non-nil error aborts the transaction and is returned unchanged.
type UserCheck func(u User) error
