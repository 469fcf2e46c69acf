package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const paymentColumnsPG = `id, reference_id, user_id, psp_id, payer_name, payer_email, payer_document, payer_document_type,
       total_amount::text, credits_to_receive, user_credits_before_purchase, status,
       pix_qr_code, pix_qr_image, chat_id, package_id, provider_error, expires_at, created_at, updated_at`

// InsertPayment stores a new payment record keyed by its order id.
func (r *PostgresRepository) InsertPayment(ctx context.Context, payment Payment) (*Payment, error) {
	if payment.ID == "" {
		payment.ID = randomUUID()
	}
	q := `
INSERT INTO payments (id, reference_id, user_id, psp_id, payer_name, payer_email, payer_document, payer_document_type,
                      total_amount, credits_to_receive, user_credits_before_purchase, status,
                      pix_qr_code, pix_qr_image, chat_id, package_id, provider_error, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING ` + paymentColumnsPG + `;`
	row := r.pool.QueryRow(ctx, q,
		payment.ID,
		nullable(payment.ReferenceID),
		payment.UserID,
		nullable(strings.ToLower(payment.PSPID)),
		payment.PayerName,
		payment.PayerEmail,
		payment.PayerDocument,
		payment.PayerDocumentType,
		payment.TotalAmount.StringFixed(2),
		payment.CreditsToReceive,
		payment.UserCreditsBeforePurchase,
		payment.Status,
		payment.PixQRCode,
		payment.PixQRImage,
		payment.ChatID,
		payment.PackageID,
		payment.ProviderError,
		payment.ExpiresAt,
	)
	inserted, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return inserted, nil
}

// GetPaymentByID retrieves a payment by order id.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, id string) (*Payment, error) {
	q := `SELECT ` + paymentColumnsPG + ` FROM payments WHERE id = $1 LIMIT 1;`
	payment, err := scanPayment(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get payment by id: %w", pgNotFound(err))
	}
	return payment, nil
}

// FindPaymentByPSPID retrieves a payment by provider charge id, case-insensitively.
func (r *PostgresRepository) FindPaymentByPSPID(ctx context.Context, pspID string) (*Payment, error) {
	q := `SELECT ` + paymentColumnsPG + ` FROM payments WHERE LOWER(psp_id) = $1 LIMIT 1;`
	payment, err := scanPayment(r.pool.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(pspID))))
	if err != nil {
		return nil, fmt.Errorf("find payment by psp id: %w", pgNotFound(err))
	}
	return payment, nil
}

// UpdatePaymentCharge attaches provider data to an issued payment.
func (r *PostgresRepository) UpdatePaymentCharge(ctx context.Context, id string, update ChargeUpdate) error {
	const q = `
UPDATE payments
SET status = COALESCE(NULLIF($2, ''), status),
    psp_id = COALESCE(NULLIF($3, ''), psp_id),
    pix_qr_code = COALESCE(NULLIF($4, ''), pix_qr_code),
    pix_qr_image = COALESCE(NULLIF($5, ''), pix_qr_image),
    provider_error = COALESCE(NULLIF($6, ''), provider_error),
    updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, update.Status, strings.ToLower(update.PSPID), update.PixQRCode, update.PixQRImage, update.ProviderError)
	if err != nil {
		return fmt.Errorf("update payment charge: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update payment charge %s: %w", id, ErrNotFound)
	}
	return nil
}

// SumPaidAmount totals the amount of every settled payment owned by the user.
func (r *PostgresRepository) SumPaidAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	const q = `SELECT COALESCE(SUM(total_amount), 0)::text FROM payments WHERE user_id = $1 AND status = $2;`
	var total string
	if err := r.pool.QueryRow(ctx, q, userID, StatusPaid).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum paid amount: %w", err)
	}
	sum, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse paid amount %q: %w", total, err)
	}
	return sum, nil
}
