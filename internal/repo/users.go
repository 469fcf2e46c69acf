package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a new user record.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (*User, error) {
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb)
RETURNING ` + userColumns + `;`
	row := r.pool.QueryRow(ctx, q,
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

// GetUserByID returns user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.findUser(ctx, "get user by id", `WHERE id = $1`, id)
}

// FindUserByPurchaseToken returns the user holding the given correlation token.
func (r *PostgresRepository) FindUserByPurchaseToken(ctx context.Context, token string) (*User, error) {
	return r.findUser(ctx, "find user by purchase token", `WHERE purchase_token = $1`, token)
}

// FindUserByTokenPrefix resolves a user through the indexed token prefix.
func (r *PostgresRepository) FindUserByTokenPrefix(ctx context.Context, prefix string) (*User, error) {
	return r.findUser(ctx, "find user by token prefix", `WHERE purchase_token_prefix = $1`, prefix)
}

// FindUserByChatID returns the user linked to a chat identity.
func (r *PostgresRepository) FindUserByChatID(ctx context.Context, chatID int64) (*User, error) {
	return r.findUser(ctx, "find user by chat id", `WHERE chat_id = $1`, chatID)
}

func (r *PostgresRepository) findUser(ctx context.Context, op, where string, arg any) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users ` + where + ` LIMIT 1;`
	user, err := scanUser(r.pool.QueryRow(ctx, q, arg))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, pgNotFound(err))
	}
	return user, nil
}

// ListUsers returns every user. Only used for the token-prefix scan fallback.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC;`)
}

// ListTopUsers returns users ordered by points.
func (r *PostgresRepository) ListTopUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY total_points DESC, created_at ASC LIMIT $1;`, limit)
}

func (r *PostgresRepository) listUsers(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := r.pool.Query(ctx, q, args...)
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

// SetPurchaseToken stores a fresh correlation token and its prefix in a single write.
func (r *PostgresRepository) SetPurchaseToken(ctx context.Context, userID, token, prefix string) error {
	const q = `UPDATE users SET purchase_token = $2, purchase_token_prefix = $3, updated_at = NOW() WHERE id = $1`
	ct, err := r.pool.Exec(ctx, q, userID, token, prefix)
	if err != nil {
		return fmt.Errorf("set purchase token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set purchase token %s: %w", userID, ErrNotFound)
	}
	return nil
}

// AttachChatID links a chat identity to the user and unlinks it from any other user.
func (r *PostgresRepository) AttachChatID(ctx context.Context, userID string, chatID int64) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		const unlink = `UPDATE users SET chat_id = NULL, updated_at = NOW() WHERE chat_id = $1 AND id <> $2`
		if _, err := tx.Exec(ctx, unlink, chatID, userID); err != nil {
			return fmt.Errorf("unlink chat id: %w", err)
		}
		const q = `UPDATE users SET chat_id = $2, updated_at = NOW() WHERE id = $1`
		ct, err := tx.Exec(ctx, q, userID, chatID)
		if err != nil {
			return fmt.Errorf("attach chat id: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("attach chat id %s: %w", userID, ErrNotFound)
		}
		return nil
	})
}
