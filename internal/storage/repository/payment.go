package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/llmboost-billing/internal/models"
)

// CreatePayment сохраняет оплаченный счёт и возвращает ID записи.
func (q *Queries) CreatePayment(ctx context.Context, p models.Payment) (string, error) {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (user_uid, subscription_id, stripe_invoice_id, amount_cents, currency, status)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	var id string
	err := q.db.QueryRowContext(ctx, query, p.UserUID, p.SubscriptionID, p.StripeInvoiceID,
		p.AmountCents, p.Currency, p.Status).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// GetPaymentByInvoiceID ищет платёж по идентификатору счёта провайдера.
func (q *Queries) GetPaymentByInvoiceID(ctx context.Context, invoiceID string) (*models.Payment, bool, error) {
	const op = "storage.GetPaymentByInvoiceID"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, subscription_id, stripe_invoice_id, amount_cents, currency, status, created_at
			  FROM payments
			  WHERE stripe_invoice_id = $1`
	var p models.Payment
	err := q.db.QueryRowContext(ctx, query, invoiceID).Scan(&p.ID, &p.UserUID, &p.SubscriptionID,
		&p.StripeInvoiceID, &p.AmountCents, &p.Currency, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &p, true, nil
}

// ListPaymentsByUser возвращает последние платежи пользователя, новые первыми.
func (q *Queries) ListPaymentsByUser(ctx context.Context, userUID string, limit int) ([]*models.Payment, error) {
	const op = "storage.ListPaymentsByUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, subscription_id, stripe_invoice_id, amount_cents, currency, status, created_at
			  FROM payments
			  WHERE user_uid = $1
			  ORDER BY created_at DESC
			  LIMIT $2`
	rows, err := q.db.QueryContext(ctx, query, userUID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.UserUID, &p.SubscriptionID, &p.StripeInvoiceID,
			&p.AmountCents, &p.Currency, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
