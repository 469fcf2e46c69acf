package repo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// SettlePayment locks the payment and the user, asks decide for a verdict on the fresh
// rows and, on SettlementApply, marks the payment paid and credits the user in the same transaction.
func (r *PostgresRepository) SettlePayment(ctx context.Context, paymentID, userID string, decide SettleFunc) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		payment, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumnsPG+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID))
		if err != nil {
			return fmt.Errorf("lock payment: %w", pgNotFound(err))
		}
		user, err := lockUserPG(ctx, tx, userID)
		if err != nil {
			return err
		}

		outcome = decide(*payment, *user)
		if outcome != SettlementApply {
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1`, payment.ID, StatusPaid); err != nil {
			return fmt.Errorf("mark payment paid: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET total_credits = $2, updated_at = NOW() WHERE id = $1`,
			user.ID, user.TotalCredits+payment.CreditsToReceive); err != nil {
			return fmt.Errorf("credit user: %w", err)
		}
		return nil
	})
	if err != nil {
		return outcome, fmt.Errorf("settle payment %s: %w", paymentID, err)
	}
	return outcome, nil
}

// CreateCashOut re-validates the user inside the transaction, records the request and debits the balance.
func (r *PostgresRepository) CreateCashOut(ctx context.Context, cashOut CashOut, check UserCheck) (*CashOut, error) {
	if cashOut.ID == "" {
		cashOut.ID = randomUUID()
	}
	var created CashOut
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		user, err := lockUserPG(ctx, tx, cashOut.UserID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(*user); err != nil {
				return err
			}
		}
		if cashOut.Status == "" {
			cashOut.Status = CashOutPending
		}
		row := tx.QueryRow(ctx, `
INSERT INTO cash_outs (id, user_id, value, chave_pix, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, user_id, value, chave_pix, status, created_at;`,
			cashOut.ID, cashOut.UserID, cashOut.Value, cashOut.PixKey, cashOut.Status)
		if err := row.Scan(&created.ID, &created.UserID, &created.Value, &created.PixKey, &created.Status, &created.CreatedAt); err != nil {
			return fmt.Errorf("insert cash out: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET total_credits = $2, updated_at = NOW() WHERE id = $1`,
			user.ID, user.TotalCredits-cashOut.Value); err != nil {
			return fmt.Errorf("debit user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create cash out: %w", err)
	}
	return &created, nil
}

// ApplyRound settles a finished quiz round against a fresh read of the user.
func (r *PostgresRepository) ApplyRound(ctx context.Context, round RoundResult, check UserCheck) (*User, error) {
	var updated *User
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		user, err := lockUserPG(ctx, tx, round.UserID)
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
		row := tx.QueryRow(ctx, `
UPDATE users
SET total_credits = $2, total_points = $3, correct_answers = $4, wrong_answers = $5,
    package_purchases = $6::jsonb, updated_at = NOW()
WHERE id = $1
RETURNING `+userColumns+`;`,
			next.ID, next.TotalCredits, next.TotalPoints, next.CorrectAnswers, next.WrongAnswers, purchases)
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

// InsertSupportTicket records a support message.
func (r *PostgresRepository) InsertSupportTicket(ctx context.Context, ticket SupportTicket) (*SupportTicket, error) {
	if ticket.ID == "" {
		ticket.ID = randomUUID()
	}
	if ticket.Status == "" {
		ticket.Status = SupportOpen
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO support_tickets (id, user_id, email, subject, message, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;`,
		ticket.ID, ticket.UserID, ticket.Email, ticket.Subject, ticket.Message, ticket.Status)
	if err := row.Scan(&ticket.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert support ticket: %w", err)
	}
	return &ticket, nil
}

func lockUserPG(ctx context.Context, tx pgx.Tx, userID string) (*User, error) {
	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", pgNotFound(err))
	}
	return user, nil
}

// applyRoundTo computes the user state after a round. Shared by every backend.
func applyRoundTo(user User, round RoundResult) User {
	next := user
	next.TotalCredits = user.TotalCredits - round.Stake + round.Prize
	next.TotalPoints = user.TotalPoints + round.Points
	next.CorrectAnswers = user.CorrectAnswers + round.CorrectAnswers
	next.WrongAnswers = user.WrongAnswers + round.WrongAnswers
	next.PackagePurchases = clonePurchases(user.PackagePurchases)
	if round.Stake > 0 {
		next.PackagePurchases[strconv.FormatInt(round.Stake, 10)]++
	}
	return next
}
