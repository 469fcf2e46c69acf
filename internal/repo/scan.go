package repo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, name, email, total_credits, total_points, correct_answers, wrong_answers,
       purchase_token, purchase_token_prefix, chat_id, cpf, cnpj, package_purchases, created_at, updated_at`

func scanUser(row rowScanner) (*User, error) {
	var (
		u                        User
		token, prefix, cpf, cnpj *string
		purchasesJSON            []byte
		createdAt, updatedAt     dbTime
	)
	if err := row.Scan(
		&u.ID, &u.Name, &u.Email,
		&u.TotalCredits, &u.TotalPoints, &u.CorrectAnswers, &u.WrongAnswers,
		&token, &prefix, &u.ChatID, &cpf, &cnpj, &purchasesJSON,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time
	u.PurchaseToken = deref(token)
	u.PurchaseTokenPrefix = deref(prefix)
	u.CPF = deref(cpf)
	u.CNPJ = deref(cnpj)
	purchases, err := decodePurchases(purchasesJSON)
	if err != nil {
		return nil, err
	}
	u.PackagePurchases = purchases
	return &u, nil
}

func scanPayment(row rowScanner) (*Payment, error) {
	var (
		p           Payment
		referenceID *string
		pspID       *string
		amount      string
		expiresAt   dbTime
		createdAt   dbTime
		updatedAt   dbTime
	)
	if err := row.Scan(
		&p.ID, &referenceID, &p.UserID, &pspID,
		&p.PayerName, &p.PayerEmail, &p.PayerDocument, &p.PayerDocumentType,
		&amount, &p.CreditsToReceive, &p.UserCreditsBeforePurchase, &p.Status,
		&p.PixQRCode, &p.PixQRImage, &p.ChatID, &p.PackageID, &p.ProviderError,
		&expiresAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("parse total amount %q: %w", amount, err)
	}
	p.TotalAmount = total
	p.ReferenceID = deref(referenceID)
	p.PSPID = deref(pspID)
	if expiresAt.Valid {
		t := expiresAt.Time
		p.ExpiresAt = &t
	}
	p.CreatedAt = createdAt.Time
	p.UpdatedAt = updatedAt.Time
	return &p, nil
}

// dbTime scans timestamps from both drivers: pgx hands over time.Time while
// SQLite may return the stored text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time, t.Valid = time.Time{}, false
		return nil
	}
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", raw)
}

func encodePurchases(purchases map[string]int64) (string, error) {
	if len(purchases) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(purchases)
	if err != nil {
		return "", fmt.Errorf("marshal package purchases: %w", err)
	}
	return string(data), nil
}

func decodePurchases(data []byte) (map[string]int64, error) {
	out := map[string]int64{}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal package purchases: %w", err)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clonePurchases(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func randomUUID() string {
	return uuid.NewString()
}
