// Package paymentprovider оборачивает API платёжного провайдера (Stripe):
// клиенты, сессии оплаты и портала, управление подписками и проверку
// подписи входящих вебхуков.
package paymentprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/magabrotheeeer/llmboost-billing/internal/lib/metrics"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
)

// Config параметры клиента.
type Config struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string // Пустая строка означает боевой API
	Timeout       time.Duration
}

// Client клиент API провайдера. Автоматических повторов нет,
// любая ошибка провайдера считается окончательной для запроса.
type Client struct {
	api           *client.API
	webhookSecret string
	log           *slog.Logger
}

// NewClient создаёт клиента провайдера.
func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     NewLeveledLogger(log),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &Client{
		api: client.New(cfg.SecretKey, &stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
		webhookSecret: cfg.WebhookSecret,
		log:           log,
	}
}

// EnsureCustomer возвращает действующего клиента провайдера.
// Если existingCustomerID задан, клиент запрашивается по нему. При любой
// ошибке получения или если клиент удалён создаётся новый с метаданными user_id.
func (c *Client) EnsureCustomer(ctx context.Context, email, userID, existingCustomerID string) (string, error) {
	const op = "paymentprovider.EnsureCustomer"
	log := c.log.With(slog.String("op", op), slog.String("user_id", userID))

	if existingCustomerID != "" {
		cust, err := c.api.Customers.Get(existingCustomerID, &stripe.CustomerParams{
			Params: stripe.Params{Context: ctx},
		})
		metrics.ObserveGateway("customers.get", err)
		if err == nil && cust != nil && !cust.Deleted {
			return cust.ID, nil
		}
		if err != nil {
			log.Warn("existing customer lookup failed, creating new customer",
				slog.String("customer_id", existingCustomerID), sl.Err(providerError(err)))
		} else {
			log.Warn("existing customer is deleted, creating new customer",
				slog.String("customer_id", existingCustomerID))
		}
	}

	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
	}
	params.AddMetadata(MetadataUserID, userID)
	cust, err := c.api.Customers.New(params)
	metrics.ObserveGateway("customers.create", err)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, providerError(err))
	}
	log.Info("customer created", slog.String("customer_id", cust.ID))
	return cust.ID, nil
}

// CreateCheckoutSession создаёт сессию оплаты в режиме подписки.
// plan_code и upgrade_from_subscription_id попадают в метаданные подписки,
// чтобы обработчик вебхука восстановил их по данным провайдера.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	const op = "paymentprovider.CreateCheckoutSession"

	subData := &stripe.CheckoutSessionSubscriptionDataParams{
		Metadata: map[string]string{
			MetadataPlanCode: p.PlanCode,
			MetadataUserID:   p.UserID,
		},
	}
	if p.UpgradeFromSubscriptionID != "" {
		subData.Metadata[MetadataUpgradeFromSubscrID] = p.UpgradeFromSubscriptionID
	}

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(p.CustomerID),
		ClientReferenceID: stripe.String(p.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:       stripe.String(p.SuccessURL),
		CancelURL:        stripe.String(p.CancelURL),
		SubscriptionData: subData,
	}
	if p.CouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(p.CouponID)},
		}
	}

	sess, err := c.api.CheckoutSessions.New(params)
	metrics.ObserveGateway("checkout_sessions.create", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, providerError(err))
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession создаёт сессию портала управления оплатой.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	const op = "paymentprovider.CreatePortalSession"

	sess, err := c.api.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	metrics.ObserveGateway("billing_portal_sessions.create", err)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, providerError(err))
	}
	return sess.URL, nil
}

// GetSubscription получает подписку по идентификатору.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	const op = "paymentprovider.GetSubscription"

	sub, err := c.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	metrics.ObserveGateway("subscriptions.get", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, providerError(err))
	}
	return subscriptionFromStripe(sub), nil
}

// CancelAtPeriodEnd помечает подписку к завершению в конце оплаченного периода.
func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	const op = "paymentprovider.CancelAtPeriodEnd"

	sub, err := c.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	metrics.ObserveGateway("subscriptions.cancel_at_period_end", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, providerError(err))
	}
	return subscriptionFromStripe(sub), nil
}

// CancelImmediately немедленно удаляет подписку у провайдера.
func (c *Client) CancelImmediately(ctx context.Context, subscriptionID string) error {
	const op = "paymentprovider.CancelImmediately"

	_, err := c.api.Subscriptions.Cancel(subscriptionID, &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	metrics.ObserveGateway("subscriptions.cancel", err)
	if err != nil {
		return fmt.Errorf("%s: %w", op, providerError(err))
	}
	return nil
}

// UpgradeSubscriptionPrice меняет цену позиции подписки на месте
// с начислением разницы пропорционально остатку периода.
func (c *Client) UpgradeSubscriptionPrice(ctx context.Context, subscriptionID, itemID, newPriceID string) (*Subscription, error) {
	const op = "paymentprovider.UpgradeSubscriptionPrice"

	sub, err := c.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	})
	metrics.ObserveGateway("subscriptions.update_price", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, providerError(err))
	}
	return subscriptionFromStripe(sub), nil
}

// VerifyWebhookSignature проверяет подпись вебхука секретом клиента
// и разбирает событие.
func (c *Client) VerifyWebhookSignature(payload []byte, header string) (Event, error) {
	if c.webhookSecret == "" {
		return nil, errors.New("paymentprovider: webhook secret is not configured")
	}
	return VerifyWebhookSignature(payload, header, c.webhookSecret)
}
