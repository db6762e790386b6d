package paymentprovider

import (
	"time"

	"github.com/stripe/stripe-go/v82"
)

// Ключи метаданных подписки, которые читает обработчик вебхуков.
const (
	MetadataUserID              = "user_id"
	MetadataPlanCode            = "plan_code"
	MetadataUpgradeFromSubscrID = "upgrade_from_subscription_id"
)

// CheckoutParams параметры сессии оплаты подписки.
type CheckoutParams struct {
	CustomerID                string
	PriceID                   string
	UserID                    string
	PlanCode                  string
	SuccessURL                string
	CancelURL                 string
	UpgradeFromSubscriptionID string // Пусто, если это первая подписка
	CouponID                  string // Купон промокода, если есть
}

// CheckoutSession созданная сессия оплаты.
type CheckoutSession struct {
	ID  string
	URL string
}

// SubscriptionItem позиция подписки.
type SubscriptionItem struct {
	ID                 string
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// Subscription подписка провайдера в объёме, нужном биллингу.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	Metadata          map[string]string
	Items             []SubscriptionItem
}

// PlanCode тариф из метаданных подписки.
func (s *Subscription) PlanCode() string {
	return s.Metadata[MetadataPlanCode]
}

// UpgradeFrom подписка, которую заменяет эта при апгрейде.
func (s *Subscription) UpgradeFrom() string {
	return s.Metadata[MetadataUpgradeFromSubscrID]
}

// FirstItem первая позиция подписки или nil.
func (s *Subscription) FirstItem() *SubscriptionItem {
	if len(s.Items) == 0 {
		return nil
	}
	return &s.Items[0]
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func subscriptionFromStripe(s *stripe.Subscription) *Subscription {
	if s == nil {
		return nil
	}
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, it := range s.Items.Data {
			if it == nil {
				continue
			}
			item := SubscriptionItem{
				ID:                 it.ID,
				CurrentPeriodStart: unixTime(it.CurrentPeriodStart),
				CurrentPeriodEnd:   unixTime(it.CurrentPeriodEnd),
			}
			if it.Price != nil {
				item.PriceID = it.Price.ID
			}
			out.Items = append(out.Items, item)
		}
	}
	return out
}
