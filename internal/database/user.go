package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ludoroyale/server/internal/auth"
	"github.com/ludoroyale/server/internal/ledger"
	"github.com/ludoroyale/server/internal/models"
)

// DefaultSkillRating is the rating assigned to new accounts.
const DefaultSkillRating = 1200

func CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}
	if user.SkillRating == 0 {
		user.SkillRating = DefaultSkillRating
	}

	hash, err := auth.CreateHash(user.Password, auth.Params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = hash

	q := `INSERT INTO users (id, username, password, region, balance, skill_rating, games_played, recent_perf_score)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			user.ID, user.Username, user.Password, user.Region,
			user.Balance, user.SkillRating, user.GamesPlayed, user.RecentPerfScore,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, username, password, region, balance,
	       skill_rating, games_played, recent_perf_score
	FROM users
	WHERE username=$1
	`
	err := DB.QueryRow(ctx, q, username).Scan(
		&u.ID, &u.Username, &u.Password, &u.Region, &u.Balance,
		&u.SkillRating, &u.GamesPlayed, &u.RecentPerfScore,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, username, password, region, balance,
	       skill_rating, games_played, recent_perf_score
	FROM users
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Username, &u.Password, &u.Region, &u.Balance,
		&u.SkillRating, &u.GamesPlayed, &u.RecentPerfScore,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func AuthenticateUser(ctx context.Context, username, password string) (string, error) {
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("user not found or db error: %w", err)
	}

	match, err := auth.ComparePasswordAndHash(password, user.Password)
	if err != nil || !match {
		return "", fmt.Errorf("invalid credentials")
	}

	token, err := auth.CreateJWT(user.ID.String())
	if err != nil {
		return "", fmt.Errorf("failed to create jwt: %w", err)
	}

	return token, nil
}

// AdjustBalance applies a signed delta to the user's wallet inside a
// transaction. A negative delta that would overdraw the wallet fails with
// ledger.ErrInsufficientFunds and leaves the balance untouched.
func AdjustBalance(ctx context.Context, userID uuid.UUID, delta int64, reason string) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx, `SELECT balance FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&balance)
		if err != nil {
			return fmt.Errorf("failed to lock wallet row: %w", err)
		}
		if balance+delta < 0 {
			return ledger.ErrInsufficientFunds
		}

		_, err = tx.Exec(ctx, `UPDATE users SET balance = balance + $1 WHERE id=$2`, delta, userID)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO wallet_entries (id, user_id, amount, reason) VALUES ($1, $2, $3, $4)`,
			uuid.New(), userID, delta, reason,
		)
		if err != nil {
			return fmt.Errorf("failed to record wallet entry: %w", err)
		}
		return nil
	})
}

// SaveUserRating stores a user's post-game rating and rolling stats.
func SaveUserRating(ctx context.Context, u *models.User) error {
	q := `
	UPDATE users
	SET skill_rating=$1, games_played=$2, recent_perf_score=$3
	WHERE id=$4
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, u.SkillRating, u.GamesPlayed, u.RecentPerfScore, u.ID)
		return err
	})
}
