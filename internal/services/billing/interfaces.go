package billing

import (
	"context"
	"time"

	"github.com/magabrotheeeer/llmboost-billing/internal/models"
	"github.com/magabrotheeeer/llmboost-billing/internal/paymentprovider"
)

// Gateway операции платёжного провайдера.
type Gateway interface {
	EnsureCustomer(ctx context.Context, email, userID, existingCustomerID string) (string, error)
	CreateCheckoutSession(ctx context.Context, p paymentprovider.CheckoutParams) (*paymentprovider.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*paymentprovider.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*paymentprovider.Subscription, error)
	CancelImmediately(ctx context.Context, subscriptionID string) error
	UpgradeSubscriptionPrice(ctx context.Context, subscriptionID, itemID, newPriceID string) (*paymentprovider.Subscription, error)
}

// Repository запросы к хранилищу биллинга.
type Repository interface {
	GetUserByID(ctx context.Context, userUID string) (*models.User, error)
	UpdatePlan(ctx context.Context, userUID string, plan models.PlanCode, subID *string) error
	UpdateProfile(ctx context.Context, userUID string, upd models.ProfileUpdate) error

	CreateSubscription(ctx context.Context, sub models.Subscription) (string, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, bool, error)
	CancelSubscription(ctx context.Context, stripeSubID string, when time.Time) (bool, error)
	UpdateSubscriptionStatus(ctx context.Context, stripeSubID string, status models.SubscriptionStatus) error
	UpdateSubscriptionPlan(ctx context.Context, stripeSubID string, plan models.PlanCode) error
	UpdateSubscriptionPeriod(ctx context.Context, stripeSubID string, start, end time.Time) error
	MarkCancelAtPeriodEnd(ctx context.Context, stripeSubID string, flag bool) error
	TouchSubscriptionEvent(ctx context.Context, stripeSubID string, at time.Time) error

	CreatePayment(ctx context.Context, p models.Payment) (string, error)
	GetPaymentByInvoiceID(ctx context.Context, invoiceID string) (*models.Payment, bool, error)
	ListPaymentsByUser(ctx context.Context, userUID string, limit int) ([]*models.Payment, error)

	ListPromos(ctx context.Context) ([]*models.Promo, error)
	GetPromoByCode(ctx context.Context, code string) (*models.Promo, bool, error)
	IncrementPromoRedeemed(ctx context.Context, promoID string) error
}

// Store хранилище с поддержкой транзакций.
type Store interface {
	Repository
	WithinTx(ctx context.Context, fn func(r Repository) error) error
}

// PlanResolver таблица цена <-> тариф.
type PlanResolver interface {
	PlanCodeFromPriceID(priceID string) (models.PlanCode, bool)
	PriceIDFromPlanCode(plan models.PlanCode) (string, bool)
}

// EventLedger журнал обработанных событий.
type EventLedger interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error
}

// Notifier публикует уведомления после фиксации изменений.
type Notifier interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// StatusCache кэш состояния биллинга пользователя.
type StatusCache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	InvalidateStatus(ctx context.Context, userUID string) error
}

type noopLedger struct{}

func (noopLedger) Processed(context.Context, string) (bool, error)            { return false, nil }
func (noopLedger) MarkProcessed(context.Context, string, time.Duration) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, string, any) error { return nil }

type noopCache struct{}

func (noopCache) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (noopCache) Set(context.Context, string, any, time.Duration) error { return nil }
func (noopCache) InvalidateStatus(context.Context, string) error        { return nil }
