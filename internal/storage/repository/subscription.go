package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/llmboost-billing/internal/models"
)

const subscriptionColumns = `id, user_uid, plan_code, status, stripe_subscription_id, stripe_customer_id,
	current_period_start, current_period_end, cancel_at_period_end, canceled_at, last_event_at, created_at`

func scanSubscription(row interface{ Scan(dest ...any) error }) (*models.Subscription, error) {
	var (
		sub                             models.Subscription
		plan, status                    string
		start, end, canceled, lastEvent sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.UserUID, &plan, &status, &sub.StripeSubscriptionID,
		&sub.StripeCustomerID, &start, &end, &sub.CancelAtPeriodEnd, &canceled, &lastEvent,
		&sub.CreatedAt); err != nil {
		return nil, err
	}
	sub.PlanCode = models.PlanCode(plan)
	sub.Status = models.SubscriptionStatus(status)
	sub.CurrentPeriodStart = timePtr(start)
	sub.CurrentPeriodEnd = timePtr(end)
	sub.CanceledAt = timePtr(canceled)
	sub.LastEventAt = timePtr(lastEvent)
	return &sub, nil
}

// CreateSubscription сохраняет локальную копию подписки провайдера и возвращает её ID.
func (q *Queries) CreateSubscription(ctx context.Context, sub models.Subscription) (string, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_uid, plan_code, status, stripe_subscription_id,
			      stripe_customer_id, current_period_start, current_period_end, cancel_at_period_end,
			      last_event_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  RETURNING id`
	var id string
	err := q.db.QueryRowContext(ctx, query, sub.UserUID, string(sub.PlanCode), string(sub.Status),
		sub.StripeSubscriptionID, sub.StripeCustomerID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.LastEventAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// GetSubscriptionByStripeID ищет подписку по идентификатору провайдера.
func (q *Queries) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, bool, error) {
	const op = "storage.GetSubscriptionByStripeID"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	sub, err := scanSubscription(q.db.QueryRowContext(ctx, query, stripeSubID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return sub, true, nil
}

// CancelSubscription помечает подписку завершённой в момент when.
// Возвращает false, если локальной подписки нет.
func (q *Queries) CancelSubscription(ctx context.Context, stripeSubID string, when time.Time) (bool, error) {
	const op = "storage.CancelSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'canceled', canceled_at = $2, current_period_end = $2, updated_at = NOW()
			  WHERE stripe_subscription_id = $1`
	res, err := q.db.ExecContext(ctx, query, stripeSubID, when)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// UpdateSubscriptionStatus устанавливает статус подписки.
func (q *Queries) UpdateSubscriptionStatus(ctx context.Context, stripeSubID string, status models.SubscriptionStatus) error {
	const op = "storage.UpdateSubscriptionStatus"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE stripe_subscription_id = $1`
	if _, err := q.db.ExecContext(ctx, query, stripeSubID, string(status)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateSubscriptionPlan устанавливает тариф подписки.
func (q *Queries) UpdateSubscriptionPlan(ctx context.Context, stripeSubID string, plan models.PlanCode) error {
	const op = "storage.UpdateSubscriptionPlan"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions SET plan_code = $2, updated_at = NOW() WHERE stripe_subscription_id = $1`
	if _, err := q.db.ExecContext(ctx, query, stripeSubID, string(plan)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateSubscriptionPeriod синхронизирует расчётный период подписки.
func (q *Queries) UpdateSubscriptionPeriod(ctx context.Context, stripeSubID string, start, end time.Time) error {
	const op = "storage.UpdateSubscriptionPeriod"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET current_period_start = $2, current_period_end = $3, updated_at = NOW()
			  WHERE stripe_subscription_id = $1`
	if _, err := q.db.ExecContext(ctx, query, stripeSubID, start, end); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkCancelAtPeriodEnd устанавливает флаг завершения в конце периода.
func (q *Queries) MarkCancelAtPeriodEnd(ctx context.Context, stripeSubID string, flag bool) error {
	const op = "storage.MarkCancelAtPeriodEnd"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET cancel_at_period_end = $2, updated_at = NOW()
			  WHERE stripe_subscription_id = $1`
	if _, err := q.db.ExecContext(ctx, query, stripeSubID, flag); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// TouchSubscriptionEvent сдвигает время последнего применённого события вперёд.
// Более раннее время не перезаписывает более позднее.
func (q *Queries) TouchSubscriptionEvent(ctx context.Context, stripeSubID string, at time.Time) error {
	const op = "storage.TouchSubscriptionEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET last_event_at = GREATEST(COALESCE(last_event_at, $2), $2)
			  WHERE stripe_subscription_id = $1`
	if _, err := q.db.ExecContext(ctx, query, stripeSubID, at); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
