package models

import (
	"strings"
	"time"
)

// Promo промокод, связанный с купоном провайдера.
type Promo struct {
	ID              string
	Code            string
	StripeCouponID  string
	DiscountPercent int
	MaxRedemptions  *int
	TimesRedeemed   int
	ExpiresAt       *time.Time
	Active          bool
	CreatedAt       time.Time
}

// Redeemable сообщает, можно ли применить промокод в момент now.
func (p *Promo) Redeemable(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	if p.MaxRedemptions != nil && p.TimesRedeemed >= *p.MaxRedemptions {
		return false
	}
	return true
}

// MatchCode сравнивает код без учёта регистра и пробелов по краям.
func (p *Promo) MatchCode(code string) bool {
	return strings.EqualFold(strings.TrimSpace(code), p.Code)
}
