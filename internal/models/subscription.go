package models

import "time"

// SubscriptionStatus локальный статус подписки.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription локальная копия подписки провайдера.
// Одной подписке провайдера соответствует ровно одна запись.
type Subscription struct {
	ID                   string
	UserUID              string
	PlanCode             PlanCode
	Status               SubscriptionStatus
	StripeSubscriptionID string
	StripeCustomerID     string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
	CanceledAt           *time.Time
	LastEventAt          *time.Time // Время последнего применённого события провайдера
	CreatedAt            time.Time
}
