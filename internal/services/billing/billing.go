package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/llmboost-billing/internal/cache"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
	"github.com/magabrotheeeer/llmboost-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/llmboost-billing/internal/plans"
)

const (
	defaultStatusTTL = 5 * time.Minute
	recentPayments   = 10
)

// URLs адреса возврата из страниц провайдера.
type URLs struct {
	Success      string
	Cancel       string
	PortalReturn string
}

// ServiceDeps зависимости сервиса. Cache необязателен.
type ServiceDeps struct {
	Store     Store
	Gateway   Gateway
	Plans     PlanResolver
	Cache     StatusCache
	URLs      URLs
	StatusTTL time.Duration
	Log       *slog.Logger
}

// Service пользовательские операции биллинга.
type Service struct {
	store     Store
	gateway   Gateway
	plans     PlanResolver
	cache     StatusCache
	urls      URLs
	statusTTL time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewService создаёт сервис биллинга.
func NewService(d ServiceDeps) *Service {
	s := &Service{
		store:     d.Store,
		gateway:   d.Gateway,
		plans:     d.Plans,
		cache:     d.Cache,
		urls:      d.URLs,
		statusTTL: d.StatusTTL,
		log:       d.Log,
		now:       time.Now,
	}
	if s.cache == nil {
		s.cache = noopCache{}
	}
	if s.statusTTL <= 0 {
		s.statusTTL = defaultStatusTTL
	}
	return s
}

// SubscriptionInfo текущая подписка в ответе Status.
type SubscriptionInfo struct {
	ID                string     `json:"id"`
	Plan              string     `json:"plan"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// PaymentInfo платёж в ответе Status.
type PaymentInfo struct {
	InvoiceID   string    `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Status состояние биллинга пользователя.
type Status struct {
	Plan         string            `json:"plan"`
	CrawlCredits int               `json:"crawl_credits"`
	Subscription *SubscriptionInfo `json:"subscription,omitempty"`
	Payments     []PaymentInfo     `json:"payments"`
}

// Checkout создаёт сессию оплаты тарифа plan. Если у пользователя уже есть
// подписка, сессия помечается как апгрейд, и старая подписка будет отменена
// при завершении оплаты.
func (s *Service) Checkout(ctx context.Context, userUID string, plan models.PlanCode, promoCode string) (*paymentprovider.CheckoutSession, error) {
	const op = "billing.Service.Checkout"
	log := s.log.With(slog.String("op", op), slog.String("user_uid", userUID))

	if !plan.Paid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, plan)
	}
	priceID, ok := s.plans.PriceIDFromPlanCode(plan)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, plan)
	}

	user, err := s.store.GetUserByID(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.Plan == plan && user.StripeSubID != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyOnPlan)
	}

	var couponID string
	if strings.TrimSpace(promoCode) != "" {
		promo, err := s.ValidatePromo(ctx, promoCode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		couponID = promo.StripeCouponID
	}

	existing := deref(user.StripeCustomerID)
	customerID, err := s.gateway.EnsureCustomer(ctx, user.Email, user.UUID, existing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if customerID != existing {
		if err := s.store.UpdateProfile(ctx, user.UUID, models.ProfileUpdate{StripeCustomerID: &customerID}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("billing customer attached", slog.String("customer_id", customerID))
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, paymentprovider.CheckoutParams{
		CustomerID:                customerID,
		PriceID:                   priceID,
		UserID:                    user.UUID,
		PlanCode:                  string(plan),
		SuccessURL:                s.urls.Success,
		CancelURL:                 s.urls.Cancel,
		UpgradeFromSubscriptionID: deref(user.StripeSubID),
		CouponID:                  couponID,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("checkout session created",
		slog.String("session_id", session.ID),
		slog.String("plan", string(plan)))
	return session, nil
}

// Portal возвращает ссылку на портал управления подпиской.
func (s *Service) Portal(ctx context.Context, userUID string) (string, error) {
	const op = "billing.Service.Portal"

	user, err := s.store.GetUserByID(ctx, userUID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if user.StripeCustomerID == nil {
		return "", fmt.Errorf("%s: %w", op, ErrNoCustomer)
	}
	url, err := s.gateway.CreatePortalSession(ctx, *user.StripeCustomerID, s.urls.PortalReturn)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return url, nil
}

// Cancel отменяет текущую подписку в конце оплаченного периода.
func (s *Service) Cancel(ctx context.Context, userUID string) error {
	const op = "billing.Service.Cancel"
	log := s.log.With(slog.String("op", op), slog.String("user_uid", userUID))

	user, err := s.store.GetUserByID(ctx, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.StripeSubID == nil {
		return fmt.Errorf("%s: %w", op, ErrNoSubscription)
	}
	subID := *user.StripeSubID

	if _, err := s.gateway.CancelAtPeriodEnd(ctx, subID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.MarkCancelAtPeriodEnd(ctx, subID, true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, log, userUID)
	log.Info("subscription set to cancel at period end", slog.String("subscription_id", subID))
	return nil
}

// Downgrade переводит пользователя на более дешёвый тариф. Переход на free
// отменяет подписку в конце периода, переход на платный тариф меняет цену
// подписки с перерасчётом.
func (s *Service) Downgrade(ctx context.Context, userUID string, plan models.PlanCode) error {
	const op = "billing.Service.Downgrade"
	log := s.log.With(slog.String("op", op), slog.String("user_uid", userUID))

	if !plan.Valid() {
		return fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, plan)
	}
	user, err := s.store.GetUserByID(ctx, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.StripeSubID == nil {
		return fmt.Errorf("%s: %w", op, ErrNoSubscription)
	}
	if user.Plan == plan {
		return fmt.Errorf("%s: %w", op, ErrAlreadyOnPlan)
	}
	if plans.Rank(plan) >= plans.Rank(user.Plan) {
		return fmt.Errorf("%s: %w", op, ErrNotADowngrade)
	}

	if plan == models.PlanFree {
		if err := s.Cancel(ctx, userUID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}

	priceID, ok := s.plans.PriceIDFromPlanCode(plan)
	if !ok {
		return fmt.Errorf("%s: %w: %q", op, ErrUnknownPlan, plan)
	}
	sub, err := s.gateway.GetSubscription(ctx, *user.StripeSubID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	item := sub.FirstItem()
	if item == nil {
		return fmt.Errorf("%s: %w: subscription has no items", op, ErrNoSubscription)
	}
	if _, err := s.gateway.UpgradeSubscriptionPrice(ctx, sub.ID, item.ID, priceID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, log, userUID)
	log.Info("subscription price changed",
		slog.String("subscription_id", sub.ID),
		slog.String("from", string(user.Plan)),
		slog.String("to", string(plan)))
	return nil
}

// ValidatePromo проверяет, что промокод существует и может быть применён.
func (s *Service) ValidatePromo(ctx context.Context, code string) (*models.Promo, error) {
	const op = "billing.Service.ValidatePromo"

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrPromoInvalid)
	}
	promo, found, err := s.store.GetPromoByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found || !promo.Redeemable(s.now()) {
		return nil, fmt.Errorf("%s: %w", op, ErrPromoInvalid)
	}
	return promo, nil
}

// Status возвращает тариф, подписку и последние платежи пользователя.
// Результат кэшируется до следующего события по подписке пользователя.
func (s *Service) Status(ctx context.Context, userUID string) (*Status, error) {
	const op = "billing.Service.Status"
	log := s.log.With(slog.String("op", op), slog.String("user_uid", userUID))

	key := cache.StatusKey(userUID)
	var cached Status
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Warn("status cache read failed", sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	user, err := s.store.GetUserByID(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st := &Status{
		Plan:         string(user.Plan),
		CrawlCredits: user.CrawlCredits,
		Payments:     []PaymentInfo{},
	}

	if user.StripeSubID != nil {
		sub, found, err := s.store.GetSubscriptionByStripeID(ctx, *user.StripeSubID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if found {
			st.Subscription = &SubscriptionInfo{
				ID:                sub.StripeSubscriptionID,
				Plan:              string(sub.PlanCode),
				Status:            string(sub.Status),
				CurrentPeriodEnd:  sub.CurrentPeriodEnd,
				CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			}
		}
	}

	payments, err := s.store.ListPaymentsByUser(ctx, userUID, recentPayments)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, p := range payments {
		st.Payments = append(st.Payments, PaymentInfo{
			InvoiceID:   p.StripeInvoiceID,
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Status:      p.Status,
			CreatedAt:   p.CreatedAt,
		})
	}

	if err := s.cache.Set(ctx, key, st, s.statusTTL); err != nil {
		log.Warn("status cache write failed", sl.Err(err))
	}
	return st, nil
}

func (s *Service) invalidate(ctx context.Context, log *slog.Logger, userUID string) {
	if err := s.cache.InvalidateStatus(ctx, userUID); err != nil {
		log.Warn("failed to invalidate status cache", sl.Err(err))
	}
}

// IsUserError сообщает, вызвана ли ошибка запросом пользователя,
// а не сбоем хранилища или провайдера.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrUnknownPlan, ErrNoSubscription, ErrNoCustomer,
		ErrNotADowngrade, ErrAlreadyOnPlan, ErrPromoInvalid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
