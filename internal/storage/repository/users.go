package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/llmboost-billing/internal/models"
)

// CreateUser сохраняет нового пользователя и возвращает его UID.
func (q *Queries) CreateUser(ctx context.Context, email string) (string, error) {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var newID string
	query := `INSERT INTO users (email) VALUES ($1) RETURNING uid;`
	if err := q.db.QueryRowContext(ctx, query, email).Scan(&newID); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetUserByID возвращает пользователя по его UID.
func (q *Queries) GetUserByID(ctx context.Context, userUID string) (*models.User, error) {
	const op = "storage.GetUserByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, email, plan, stripe_customer_id, stripe_sub_id, crawl_credits, created_at
			  FROM users
			  WHERE uid = $1`
	u := &models.User{}
	var customerID, subID sql.NullString
	var plan string
	err := q.db.QueryRowContext(ctx, query, userUID).Scan(&u.UUID, &u.Email, &plan,
		&customerID, &subID, &u.CrawlCredits, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.Plan = models.PlanCode(plan)
	u.StripeCustomerID = stringPtr(customerID)
	u.StripeSubID = stringPtr(subID)
	return u, nil
}

// UpdatePlan устанавливает тариф пользователя и ссылку на текущую подписку.
// subID == nil очищает ссылку.
func (q *Queries) UpdatePlan(ctx context.Context, userUID string, plan models.PlanCode, subID *string) error {
	const op = "storage.UpdatePlan"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET plan = $2, stripe_sub_id = $3, updated_at = NOW()
			  WHERE uid = $1`
	res, err := q.db.ExecContext(ctx, query, userUID, string(plan), nullString(subID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return requireAffected(res, op, models.ErrUserNotFound)
}

// UpdateProfile применяет частичное обновление профиля.
func (q *Queries) UpdateProfile(ctx context.Context, userUID string, upd models.ProfileUpdate) error {
	const op = "storage.UpdateProfile"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET email = COALESCE($2, email),
			      stripe_customer_id = COALESCE($3, stripe_customer_id),
			      updated_at = NOW()
			  WHERE uid = $1`
	res, err := q.db.ExecContext(ctx, query, userUID, nullString(upd.Email), nullString(upd.StripeCustomerID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return requireAffected(res, op, models.ErrUserNotFound)
}

// SetCrawlCredits устанавливает остаток кредитов на обход.
func (q *Queries) SetCrawlCredits(ctx context.Context, userUID string, credits int) error {
	const op = "storage.SetCrawlCredits"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET crawl_credits = $2, updated_at = NOW() WHERE uid = $1`
	res, err := q.db.ExecContext(ctx, query, userUID, credits)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return requireAffected(res, op, models.ErrUserNotFound)
}

func requireAffected(res sql.Result, op string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	return nil
}
