package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const paymentColumnsSQLite = `id, reference_id, user_id, psp_id, payer_name, payer_email, payer_document, payer_document_type,
       total_amount, credits_to_receive, user_credits_before_purchase, status,
       pix_qr_code, pix_qr_image, chat_id, package_id, provider_error, expires_at, created_at, updated_at`

func sqliteNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Users --

func (r *SQLiteRepository) CreateUser(ctx context.Context, user User) (*User, error) {
	if user.ID == "" {
		user.ID = randomUUID()
	}
	purchases, err := encodePurchases(user.PackagePurchases)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO users (id, name, email, total_credits, total_points, correct_answers, wrong_answers,
                   purchase_token, purchase_token_prefix, chat_id, cpf, cnpj, package_purchases)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + userColumns + `;`
	row := r.db.QueryRowContext(ctx, q,
		user.ID,
		user.Name,
		user.Email,
		user.TotalCredits,
		user.TotalPoints,
		user.CorrectAnswers,
		user.WrongAnswers,
		nullable(user.PurchaseToken),
		nullable(user.PurchaseTokenPrefix),
		user.ChatID,
		nullable(user.CPF),
		nullable(user.CNPJ),
		purchases,
	)
	created, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.findUser(ctx, "get user by id", `WHERE id = ?`, id)
}

func (r *SQLiteRepository) FindUserByPurchaseToken(ctx context.Context, token string) (*User, error) {
	return r.findUser(ctx, "find user by purchase token", `WHERE purchase_token = ?`, token)
}

func (r *SQLiteRepository) FindUserByTokenPrefix(ctx context.Context, prefix string) (*User, error) {
	return r.findUser(ctx, "find user by token prefix", `WHERE purchase_token_prefix = ?`, prefix)
}

func (r *SQLiteRepository) FindUserByChatID(ctx context.Context, chatID int64) (*User, error) {
	return r.findUser(ctx, "find user by chat id", `WHERE chat_id = ?`, chatID)
}

func (r *SQLiteRepository) findUser(ctx context.Context, op, where string, arg any) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users ` + where + ` LIMIT 1;`
	user, err := scanUser(r.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, sqliteNotFound(err))
	}
	return user, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC;`)
}

func (r *SQLiteRepository) ListTopUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY total_points DESC, created_at ASC LIMIT ?;`, limit)
}

func (r *SQLiteRepository) listUsers(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *SQLiteRepository) SetPurchaseToken(ctx context.Context, userID, token, prefix string) error {
	const q = `UPDATE users SET purchase_token = ?, purchase_token_prefix = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return r.execOne(ctx, "set purchase token", userID, q, token, prefix, userID)
}

func (r *SQLiteRepository) AttachChatID(ctx context.Context, userID string, chatID int64) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		const unlink = `UPDATE users SET chat_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE chat_id = ? AND id <> ?`
		if _, err := tx.ExecContext(ctx, unlink, chatID, userID); err != nil {
			return fmt.Errorf("unlink chat id: %w", err)
		}
		const q = `UPDATE users SET chat_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
		res, err := tx.ExecContext(ctx, q, chatID, userID)
		if err != nil {
			return fmt.Errorf("attach chat id: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("attach chat id %s: %w", userID, ErrNotFound)
		}
		return nil
	})
}

func (r *SQLiteRepository) execOne(ctx context.Context, op, id, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

// -- Payments --

func (r *SQLiteRepository) InsertPayment(ctx context.Context, payment Payment) (*Payment, error) {
	if payment.ID == "" {
		payment.ID = randomUUID()
	}
	q := `
INSERT INTO payments (id, reference_id, user_id, psp_id, payer_name, payer_email, payer_document, payer_document_type,
                      total_amount, credits_to_receive, user_credits_before_purchase, status,
                      pix_qr_code, pix_qr_image, chat_id, package_id, provider_error, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + paymentColumnsSQLite + `;`
	row := r.db.QueryRowContext(ctx, q,
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

func (r *SQLiteRepository) GetPaymentByID(ctx context.Context, id string) (*Payment, error) {
	q := `SELECT ` + paymentColumnsSQLite + ` FROM payments WHERE id = ? LIMIT 1;`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("get payment by id: %w", sqliteNotFound(err))
	}
	return payment, nil
}

func (r *SQLiteRepository) FindPaymentByPSPID(ctx context.Context, pspID string) (*Payment, error) {
	q := `SELECT ` + paymentColumnsSQLite + ` FROM payments WHERE LOWER(psp_id) = ? LIMIT 1;`
	payment, err := scanPayment(r.db.QueryRowContext(ctx, q, strings.ToLower(strings.TrimSpace(pspID))))
	if err != nil {
		return nil, fmt.Errorf("find payment by psp id: %w", sqliteNotFound(err))
	}
	return payment, nil
}

func (r *SQLiteRepository) UpdatePaymentCharge(ctx context.Context, id string, update ChargeUpdate) error {
	const q = `
UPDATE payments
SET status = COALESCE(NULLIF(?, ''), status),
    psp_id = COALESCE(NULLIF(?, ''), psp_id),
    pix_qr_code = COALESCE(NULLIF(?, ''), pix_qr_code),
    pix_qr_image = COALESCE(NULLIF(?, ''), pix_qr_image),
    provider_error = COALESCE(NULLIF(?, ''), provider_error),
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`
	return r.execOne(ctx, "update payment charge", id, q,
		update.Status, strings.ToLower(update.PSPID), update.PixQRCode, update.PixQRImage, update.ProviderError, id)
}

func (r *SQLiteRepository) SumPaidAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT total_amount FROM payments WHERE user_id = ? AND status = ?`, userID, StatusPaid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum paid amount: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("scan paid amount: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse paid amount %q: %w", raw, err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("iterate paid amounts: %w", err)
	}
	return total, nil
}

// -- Credit mutations --

func (r *SQLiteRepository) SettlePayment(ctx context.Context, paymentID, userID string, decide SettleFunc) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		payment, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumnsSQLite+` FROM payments WHERE id = ?`, paymentID))
		if err != nil {
			return fmt.Errorf("read payment: %w", sqliteNotFound(err))
		}
		user, err := readUserSQLite(ctx, tx, userID)
		if err != nil {
			return err
		}

		outcome = decide(*payment, *user)
		if outcome != SettlementApply {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, StatusPaid, payment.ID); err != nil {
			return fmt.Errorf("mark payment paid: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET total_credits = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			user.TotalCredits+payment.CreditsToReceive, user.ID); err != nil {
			return fmt.Errorf("credit user: %w", err)
		}
		return nil
	})
	if err != nil {
		return outcome, fmt.Errorf("settle payment %s: %w", paymentID, err)
	}
	return outcome, nil
}

func (r *SQLiteRepository) CreateCashOut(ctx context.Context, cashOut CashOut, check UserCheck) (*CashOut, error) {
	if cashOut.ID == "" {
		cashOut.ID = randomUUID()
	}
	if cashOut.Status == "" {
		cashOut.Status = CashOutPending
	}
	var created CashOut
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		user, err := readUserSQLite(ctx, tx, cashOut.UserID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(*user); err != nil {
				return err
			}
		}
		row := tx.QueryRowContext(ctx, `
INSERT INTO cash_outs (id, user_id, value, chave_pix, status)
VALUES (?, ?, ?, ?, ?)
RETURNING id, user_id, value, chave_pix, status, created_at;`,
			cashOut.ID, cashOut.UserID, cashOut.Value, cashOut.PixKey, cashOut.Status)
		var createdAt dbTime
		if err := row.Scan(&created.ID, &created.UserID, &created.Value, &created.PixKey, &created.Status, &createdAt); err != nil {
			return fmt.Errorf("insert cash out: %w", err)
		}
		created.CreatedAt = createdAt.Time
		if _, err := tx.ExecContext(ctx, `UPDATE users SET total_credits = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			user.TotalCredits-cashOut.Value, user.ID); err != nil {
			return fmt.Errorf("debit user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create cash out: %w", err)
	}
	return &created, nil
}

func (r *SQLiteRepository) ApplyRound(ctx context.Context, round RoundResult, check UserCheck) (*User, error) {
	var updated *User
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		user, err := readUserSQLite(ctx, tx, round.UserID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(*user); err != nil {
				return err
			}
		}
		next := applyRoundTo(*user, round)
		purchases, err := encodePurchases(next.PackagePurchases)
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
UPDATE users
SET total_credits = ?, total_points = ?, correct_answers = ?, wrong_answers = ?,
    package_purchases = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING `+userColumns+`;`,
			next.TotalCredits, next.TotalPoints, next.CorrectAnswers, next.WrongAnswers, purchases, next.ID)
		updated, err = scanUser(row)
		if err != nil {
			return fmt.Errorf("update user round: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply round: %w", err)
	}
	return updated, nil
}

// -- Support --

func (r *SQLiteRepository) InsertSupportTicket(ctx context.Context, ticket SupportTicket) (*SupportTicket, error) {
	if ticket.ID == "" {
		ticket.ID = randomUUID()
	}
	if ticket.Status == "" {
		ticket.Status = SupportOpen
	}
	row := r.db.QueryRowContext(ctx, `
INSERT INTO support_tickets (id, user_id, email, subject, message, status)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING created_at;`,
		ticket.ID, ticket.UserID, ticket.Email, ticket.Subject, ticket.Message, ticket.Status)
	var createdAt dbTime
	if err := row.Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("insert support ticket: %w", err)
	}
	ticket.CreatedAt = createdAt.Time
	return &ticket, nil
}

// -- Helpers --

func readUserSQLite(ctx context.Context, tx *sql.Tx, userID string) (*User, error) {
	user, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err != nil {
		return nil, fmt.Errorf("read user: %w", sqliteNotFound(err))
	}
	return user, nil
}
