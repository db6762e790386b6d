package billing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/llmboost-billing/internal/models"
	"github.com/magabrotheeeer/llmboost-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/llmboost-billing/internal/plans"
)

type StoreMock struct{ mock.Mock }

func (m *StoreMock) WithinTx(_ context.Context, fn func(r Repository) error) error {
	m.Called()
	return fn(m)
}

func (m *StoreMock) GetUserByID(ctx context.Context, userUID string) (*models.User, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *StoreMock) UpdatePlan(ctx context.Context, userUID string, plan models.PlanCode, subID *string) error {
	return m.Called(ctx, userUID, plan, subID).Error(0)
}
func (m *StoreMock) UpdateProfile(ctx context.Context, userUID string, upd models.ProfileUpdate) error {
	return m.Called(ctx, userUID, upd).Error(0)
}
func (m *StoreMock) CreateSubscription(ctx context.Context, sub models.Subscription) (string, error) {
	args := m.Called(ctx, sub)
	return args.String(0), args.Error(1)
}
func (m *StoreMock) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, bool, error) {
	args := m.Called(ctx, stripeSubID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.Bool(1), args.Error(2)
}
func (m *StoreMock) CancelSubscription(ctx context.Context, stripeSubID string, when time.Time) (bool, error) {
	args := m.Called(ctx, stripeSubID, when)
	return args.Bool(0), args.Error(1)
}
func (m *StoreMock) UpdateSubscriptionStatus(ctx context.Context, stripeSubID string, status models.SubscriptionStatus) error {
	return m.Called(ctx, stripeSubID, status).Error(0)
}
func (m *StoreMock) UpdateSubscriptionPlan(ctx context.Context, stripeSubID string, plan models.PlanCode) error {
	return m.Called(ctx, stripeSubID, plan).Error(0)
}
func (m *StoreMock) UpdateSubscriptionPeriod(ctx context.Context, stripeSubID string, start, end time.Time) error {
	return m.Called(ctx, stripeSubID, start, end).Error(0)
}
func (m *StoreMock) MarkCancelAtPeriodEnd(ctx context.Context, stripeSubID string, flag bool) error {
	return m.Called(ctx, stripeSubID, flag).Error(0)
}
func (m *StoreMock) TouchSubscriptionEvent(ctx context.Context, stripeSubID string, at time.Time) error {
	return m.Called(ctx, stripeSubID, at).Error(0)
}
func (m *StoreMock) CreatePayment(ctx context.Context, p models.Payment) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}
func (m *StoreMock) GetPaymentByInvoiceID(ctx context.Context, invoiceID string) (*models.Payment, bool, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Payment), args.Bool(1), args.Error(2)
}
func (m *StoreMock) ListPaymentsByUser(ctx context.Context, userUID string, limit int) ([]*models.Payment, error) {
	args := m.Called(ctx, userUID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}
func (m *StoreMock) ListPromos(ctx context.Context) ([]*models.Promo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Promo), args.Error(1)
}
func (m *StoreMock) GetPromoByCode(ctx context.Context, code string) (*models.Promo, bool, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Promo), args.Bool(1), args.Error(2)
}
func (m *StoreMock) IncrementPromoRedeemed(ctx context.Context, promoID string) error {
	return m.Called(ctx, promoID).Error(0)
}

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) EnsureCustomer(ctx context.Context, email, userID, existingCustomerID string) (string, error) {
	args := m.Called(ctx, email, userID, existingCustomerID)
	return args.String(0), args.Error(1)
}
func (m *GatewayMock) CreateCheckoutSession(ctx context.Context, p paymentprovider.CheckoutParams) (*paymentprovider.CheckoutSession, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.CheckoutSession), args.Error(1)
}
func (m *GatewayMock) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}
func (m *GatewayMock) GetSubscription(ctx context.Context, subscriptionID string) (*paymentprovider.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.Subscription), args.Error(1)
}
func (m *GatewayMock) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*paymentprovider.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.Subscription), args.Error(1)
}
func (m *GatewayMock) CancelImmediately(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}
func (m *GatewayMock) UpgradeSubscriptionPrice(ctx context.Context, subscriptionID, itemID, newPriceID string) (*paymentprovider.Subscription, error) {
	args := m.Called(ctx, subscriptionID, itemID, newPriceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.Subscription), args.Error(1)
}

type LedgerMock struct{ mock.Mock }

func (m *LedgerMock) Processed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}
func (m *LedgerMock) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	return m.Called(ctx, eventID, ttl).Error(0)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Publish(ctx context.Context, routingKey string, message any) error {
	return m.Called(ctx, routingKey, message).Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}
func (m *CacheMock) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}
func (m *CacheMock) InvalidateStatus(ctx context.Context, userUID string) error {
	return m.Called(ctx, userUID).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

const (
	priceStarter = "price_starter"
	pricePro     = "price_pro"
	priceAgency  = "price_agency"
)

func newPlanTable(t *testing.T) *plans.Table {
	t.Helper()
	table, err := plans.New(map[models.PlanCode]string{
		models.PlanStarter: priceStarter,
		models.PlanPro:     pricePro,
		models.PlanAgency:  priceAgency,
	})
	require.NoError(t, err)
	return table
}

func strPtr(s string) *string { return &s }
