package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/llmboost-billing/internal/models"
)

const promoColumns = `id, code, stripe_coupon_id, discount_percent, max_redemptions, times_redeemed,
	expires_at, active, created_at`

func scanPromo(row interface{ Scan(dest ...any) error }) (*models.Promo, error) {
	var (
		p         models.Promo
		maxRedeem sql.NullInt64
		expiresAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Code, &p.StripeCouponID, &p.DiscountPercent, &maxRedeem,
		&p.TimesRedeemed, &expiresAt, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	if maxRedeem.Valid {
		n := int(maxRedeem.Int64)
		p.MaxRedemptions = &n
	}
	p.ExpiresAt = timePtr(expiresAt)
	return &p, nil
}

// CreatePromo сохраняет промокод и возвращает его ID.
func (q *Queries) CreatePromo(ctx context.Context, p models.Promo) (string, error) {
	const op = "storage.CreatePromo"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO promos (code, stripe_coupon_id, discount_percent, max_redemptions, expires_at, active)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	var id string
	err := q.db.QueryRowContext(ctx, query, p.Code, p.StripeCouponID, p.DiscountPercent,
		p.MaxRedemptions, p.ExpiresAt, p.Active).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// ListPromos возвращает все промокоды.
func (q *Queries) ListPromos(ctx context.Context) ([]*models.Promo, error) {
	const op = "storage.ListPromos"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := q.db.QueryContext(ctx, `SELECT `+promoColumns+` FROM promos ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Promo
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// GetPromoByCode ищет промокод без учёта регистра.
func (q *Queries) GetPromoByCode(ctx context.Context, code string) (*models.Promo, bool, error) {
	const op = "storage.GetPromoByCode"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + promoColumns + ` FROM promos WHERE LOWER(code) = LOWER($1)`
	p, err := scanPromo(q.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return p, true, nil
}

// IncrementPromoRedeemed увеличивает счётчик применений промокода.
func (q *Queries) IncrementPromoRedeemed(ctx context.Context, promoID string) error {
	const op = "storage.IncrementPromoRedeemed"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE promos SET times_redeemed = times_redeemed + 1 WHERE id = $1`
	if _, err := q.db.ExecContext(ctx, query, promoID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
