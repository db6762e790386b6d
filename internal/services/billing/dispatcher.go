// Package billing применяет события платёжного провайдера к локальному
// состоянию подписок и реализует пользовательские операции биллинга:
// оформление, портал, отмену, понижение тарифа и промокоды.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/llmboost-billing/internal/lib/metrics"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
	"github.com/magabrotheeeer/llmboost-billing/internal/paymentprovider"
)

// DefaultEventTTL время хранения идентификатора обработанного события.
const DefaultEventTTL = 72 * time.Hour

// DispatcherDeps зависимости диспетчера. Ledger, Notifier и Cache необязательны.
type DispatcherDeps struct {
	Store    Store
	Gateway  Gateway
	Plans    PlanResolver
	Ledger   EventLedger
	Notifier Notifier
	Cache    StatusCache
	EventTTL time.Duration
	Log      *slog.Logger
}

// Dispatcher применяет проверенные события вебхука.
type Dispatcher struct {
	store    Store
	gateway  Gateway
	plans    PlanResolver
	ledger   EventLedger
	notifier Notifier
	cache    StatusCache
	eventTTL time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewDispatcher создаёт диспетчер событий.
func NewDispatcher(d DispatcherDeps) *Dispatcher {
	disp := &Dispatcher{
		store:    d.Store,
		gateway:  d.Gateway,
		plans:    d.Plans,
		ledger:   d.Ledger,
		notifier: d.Notifier,
		cache:    d.Cache,
		eventTTL: d.EventTTL,
		log:      d.Log,
		now:      time.Now,
	}
	if disp.ledger == nil {
		disp.ledger = noopLedger{}
	}
	if disp.notifier == nil {
		disp.notifier = noopNotifier{}
	}
	if disp.cache == nil {
		disp.cache = noopCache{}
	}
	if disp.eventTTL <= 0 {
		disp.eventTTL = DefaultEventTTL
	}
	return disp
}

// effects последствия обработки, применяемые после фиксации транзакции.
type effects struct {
	changes []models.PlanChanged
	users   []string
}

func (fx *effects) touch(userUID string) {
	for _, u := range fx.users {
		if u == userUID {
			return
		}
	}
	fx.users = append(fx.users, userUID)
}

func (fx *effects) planChanged(userUID string, from, to models.PlanCode, info paymentprovider.EventInfo) {
	fx.touch(userUID)
	if from == to {
		return
	}
	fx.changes = append(fx.changes, models.PlanChanged{
		UserUID:      userUID,
		PreviousPlan: from,
		NewPlan:      to,
		EventType:    info.Type,
		OccurredAt:   info.Created,
	})
}

// Dispatch применяет событие. Неизвестные типы игнорируются.
// Повторно доставленное событие, уже записанное в журнал, пропускается.
func (d *Dispatcher) Dispatch(ctx context.Context, ev paymentprovider.Event) error {
	const op = "billing.Dispatch"
	info := ev.Info()
	log := d.log.With(
		slog.String("op", op),
		slog.String("event_id", info.ID),
		slog.String("event_type", info.Type),
	)

	if _, unknown := ev.(paymentprovider.UnknownEvent); unknown {
		log.Debug("ignoring unhandled event type")
		metrics.WebhookEvents.WithLabelValues(info.Type, metrics.OutcomeIgnored).Inc()
		return nil
	}

	seen, err := d.ledger.Processed(ctx, info.ID)
	if err != nil {
		log.Warn("event ledger lookup failed, processing anyway", sl.Err(err))
	}
	if seen {
		log.Info("event already processed")
		metrics.WebhookEvents.WithLabelValues(info.Type, metrics.OutcomeDuplicate).Inc()
		return nil
	}

	fx := &effects{}
	switch e := ev.(type) {
	case paymentprovider.CheckoutSessionCompleted:
		err = d.handleCheckoutCompleted(ctx, log, e, fx)
	case paymentprovider.InvoicePaymentSucceeded:
		err = d.handleInvoicePaid(ctx, log, e, fx)
	case paymentprovider.InvoicePaymentFailed:
		err = d.handleInvoiceFailed(ctx, log, e, fx)
	case paymentprovider.SubscriptionUpdated:
		err = d.handleSubscriptionUpdated(ctx, log, e, fx)
	case paymentprovider.SubscriptionDeleted:
		err = d.handleSubscriptionDeleted(ctx, log, e, fx)
	default:
		log.Debug("ignoring unhandled event type")
		metrics.WebhookEvents.WithLabelValues(info.Type, metrics.OutcomeIgnored).Inc()
		return nil
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(info.Type, metrics.OutcomeFailed).Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	d.applyEffects(ctx, log, fx)

	if err := d.ledger.MarkProcessed(ctx, info.ID, d.eventTTL); err != nil {
		log.Warn("failed to record processed event", sl.Err(err))
	}
	metrics.WebhookEvents.WithLabelValues(info.Type, metrics.OutcomeProcessed).Inc()
	return nil
}

func (d *Dispatcher) applyEffects(ctx context.Context, log *slog.Logger, fx *effects) {
	for _, uid := range fx.users {
		if err := d.cache.InvalidateStatus(ctx, uid); err != nil {
			log.Warn("failed to invalidate status cache", slog.String("user_uid", uid), sl.Err(err))
		}
	}
	for _, ch := range fx.changes {
		metrics.PlanChanges.WithLabelValues(string(ch.PreviousPlan), string(ch.NewPlan)).Inc()
		if err := d.notifier.Publish(ctx, rabbitmq.RoutingKeyPlanChanged, ch); err != nil {
			log.Error("failed to publish plan change", slog.String("user_uid", ch.UserUID), sl.Err(err))
		}
	}
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, log *slog.Logger,
	e paymentprovider.CheckoutSessionCompleted, fx *effects) error {
	if e.ClientReferenceID == "" {
		return fmt.Errorf("%w: missing client_reference_id", ErrMalformedEvent)
	}
	if e.SubscriptionID == "" {
		return fmt.Errorf("%w: missing subscription", ErrMalformedEvent)
	}

	sub, err := d.gateway.GetSubscription(ctx, e.SubscriptionID)
	if err != nil {
		return err
	}
	plan := models.PlanCode(sub.PlanCode())
	if plan == "" {
		return fmt.Errorf("%w: missing plan_code", ErrMalformedEvent)
	}
	if !plan.Paid() {
		return fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}

	oldSubID := sub.UpgradeFrom()
	if oldSubID == sub.ID {
		oldSubID = ""
	}
	if oldSubID != "" {
		d.cancelSuperseded(ctx, log, oldSubID)
	}

	customerID := e.CustomerID
	if customerID == "" {
		customerID = sub.CustomerID
	}
	status, ok := mapStatus(sub.Status)
	if !ok {
		status = models.SubscriptionActive
	}
	var start, end *time.Time
	if item := sub.FirstItem(); item != nil {
		start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
	}
	now := d.now()
	created := e.Created

	return d.store.WithinTx(ctx, func(r Repository) error {
		user, err := r.GetUserByID(ctx, e.ClientReferenceID)
		if err != nil {
			return err
		}

		if oldSubID != "" {
			if _, err := r.CancelSubscription(ctx, oldSubID, now); err != nil {
				return err
			}
		}

		_, found, err := r.GetSubscriptionByStripeID(ctx, sub.ID)
		if err != nil {
			return err
		}
		if found {
			log.Info("subscription already recorded", slog.String("subscription_id", sub.ID))
		} else {
			if _, err := r.CreateSubscription(ctx, models.Subscription{
				UserUID:              user.UUID,
				PlanCode:             plan,
				Status:               status,
				StripeSubscriptionID: sub.ID,
				StripeCustomerID:     customerID,
				CurrentPeriodStart:   start,
				CurrentPeriodEnd:     end,
				CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
				LastEventAt:          &created,
			}); err != nil {
				return err
			}
			if err := d.redeemPromos(ctx, log, r, e.CouponIDs); err != nil {
				return err
			}
		}

		if user.StripeCustomerID == nil && customerID != "" {
			if err := r.UpdateProfile(ctx, user.UUID, models.ProfileUpdate{StripeCustomerID: &customerID}); err != nil {
				return err
			}
		}

		subID := sub.ID
		if err := r.UpdatePlan(ctx, user.UUID, plan, &subID); err != nil {
			return err
		}
		fx.planChanged(user.UUID, user.Plan, plan, e.EventInfo)
		log.Info("checkout completed",
			slog.String("user_uid", user.UUID),
			slog.String("subscription_id", sub.ID),
			slog.String("plan", string(plan)))
		return nil
	})
}

// cancelSuperseded отменяет у провайдера подписку, которую заменил апгрейд.
// Ошибка не прерывает обработку: новая подписка уже источник истины.
func (d *Dispatcher) cancelSuperseded(ctx context.Context, log *slog.Logger, subID string) {
	if err := d.gateway.CancelImmediately(ctx, subID); err != nil {
		metrics.StaleCancelFailures.Inc()
		log.Warn("failed to cancel superseded subscription, continuing",
			slog.String("subscription_id", subID), sl.Err(err))
	}
}

func (d *Dispatcher) redeemPromos(ctx context.Context, log *slog.Logger, r Repository, couponIDs []string) error {
	if len(couponIDs) == 0 {
		return nil
	}
	promos, err := r.ListPromos(ctx)
	if err != nil {
		return err
	}
	for _, coupon := range couponIDs {
		matched := false
		for _, p := range promos {
			if p.StripeCouponID != coupon {
				continue
			}
			if err := r.IncrementPromoRedeemed(ctx, p.ID); err != nil {
				return err
			}
			matched = true
			break
		}
		if !matched {
			log.Info("no local promo for coupon", slog.String("coupon_id", coupon))
		}
	}
	return nil
}

func (d *Dispatcher) handleInvoicePaid(ctx context.Context, log *slog.Logger,
	e paymentprovider.InvoicePaymentSucceeded, fx *effects) error {
	inv := e.Invoice
	if inv.SubscriptionID == "" {
		log.Debug("invoice is not linked to a subscription", slog.String("invoice_id", inv.ID))
		return nil
	}

	return d.store.WithinTx(ctx, func(r Repository) error {
		_, found, err := r.GetPaymentByInvoiceID(ctx, inv.ID)
		if err != nil {
			return err
		}
		if found {
			log.Info("invoice already recorded", slog.String("invoice_id", inv.ID))
			return nil
		}

		sub, found, err := r.GetSubscriptionByStripeID(ctx, inv.SubscriptionID)
		if err != nil {
			return err
		}
		if !found {
			log.Warn("payment cannot be attributed to a local subscription",
				slog.String("invoice_id", inv.ID),
				slog.String("subscription_id", inv.SubscriptionID))
			return nil
		}

		if inv.PeriodStart != nil && inv.PeriodEnd != nil {
			if err := r.UpdateSubscriptionPeriod(ctx, sub.StripeSubscriptionID, *inv.PeriodStart, *inv.PeriodEnd); err != nil {
				return err
			}
		}

		if _, err := r.CreatePayment(ctx, models.Payment{
			UserUID:         sub.UserUID,
			SubscriptionID:  sub.ID,
			StripeInvoiceID: inv.ID,
			AmountCents:     inv.AmountPaid,
			Currency:        inv.Currency,
			Status:          models.PaymentSucceeded,
		}); err != nil {
			return err
		}
		fx.touch(sub.UserUID)
		log.Info("payment recorded",
			slog.String("invoice_id", inv.ID),
			slog.Int64("amount_cents", inv.AmountPaid),
			slog.String("currency", inv.Currency))
		return nil
	})
}

func (d *Dispatcher) handleInvoiceFailed(ctx context.Context, log *slog.Logger,
	e paymentprovider.InvoicePaymentFailed, fx *effects) error {
	inv := e.Invoice
	if inv.SubscriptionID == "" {
		log.Debug("invoice is not linked to a subscription", slog.String("invoice_id", inv.ID))
		return nil
	}

	return d.store.WithinTx(ctx, func(r Repository) error {
		sub, found, err := r.GetSubscriptionByStripeID(ctx, inv.SubscriptionID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if err := r.UpdateSubscriptionStatus(ctx, sub.StripeSubscriptionID, models.SubscriptionPastDue); err != nil {
			return err
		}
		fx.touch(sub.UserUID)
		log.Info("subscription marked past_due", slog.String("subscription_id", sub.StripeSubscriptionID))
		return nil
	})
}

func (d *Dispatcher) handleSubscriptionUpdated(ctx context.Context, log *slog.Logger,
	e paymentprovider.SubscriptionUpdated, fx *effects) error {
	s := e.Subscription
	log = log.With(slog.String("subscription_id", s.ID))

	return d.store.WithinTx(ctx, func(r Repository) error {
		local, found, err := r.GetSubscriptionByStripeID(ctx, s.ID)
		if err != nil {
			return err
		}
		if found && local.LastEventAt != nil && e.Created.Before(*local.LastEventAt) {
			log.Info("skipping stale subscription update",
				slog.Time("event_created", e.Created),
				slog.Time("last_event_at", *local.LastEventAt))
			return nil
		}

		if s.CancelAtPeriodEnd || (found && local.CancelAtPeriodEnd) {
			if err := r.MarkCancelAtPeriodEnd(ctx, s.ID, s.CancelAtPeriodEnd); err != nil {
				return err
			}
		}

		if found {
			fx.touch(local.UserUID)
			if err := d.syncPlan(ctx, log, r, local, s, e.EventInfo, fx); err != nil {
				return err
			}
			if err := r.TouchSubscriptionEvent(ctx, s.ID, e.Created); err != nil {
				return err
			}
		}
		return nil
	})
}

// syncPlan обновляет статус, тариф и период подписки и тариф пользователя.
// Неизвестная цена пропускает всю ветку.
func (d *Dispatcher) syncPlan(ctx context.Context, log *slog.Logger, r Repository, local *models.Subscription,
	s paymentprovider.Subscription, info paymentprovider.EventInfo, fx *effects) error {
	item := s.FirstItem()
	if item == nil {
		log.Info("subscription has no items, skipping plan sync")
		return nil
	}
	plan, ok := d.plans.PlanCodeFromPriceID(item.PriceID)
	if !ok {
		log.Info("unknown price, skipping plan sync", slog.String("price_id", item.PriceID))
		return nil
	}

	if status, ok := mapStatus(s.Status); ok && status != local.Status {
		if err := r.UpdateSubscriptionStatus(ctx, s.ID, status); err != nil {
			return err
		}
	}
	if plan != local.PlanCode {
		if err := r.UpdateSubscriptionPlan(ctx, s.ID, plan); err != nil {
			return err
		}
	}
	if item.CurrentPeriodStart != nil && item.CurrentPeriodEnd != nil {
		if err := r.UpdateSubscriptionPeriod(ctx, s.ID, *item.CurrentPeriodStart, *item.CurrentPeriodEnd); err != nil {
			return err
		}
	}

	user, err := r.GetUserByID(ctx, local.UserUID)
	if err != nil {
		return err
	}
	if !isCurrent(user, s.ID) {
		log.Info("subscription is not the user's current one, user plan untouched",
			slog.String("user_uid", user.UUID))
		return nil
	}
	subID := s.ID
	if err := r.UpdatePlan(ctx, user.UUID, plan, &subID); err != nil {
		return err
	}
	fx.planChanged(user.UUID, user.Plan, plan, info)
	return nil
}

func (d *Dispatcher) handleSubscriptionDeleted(ctx context.Context, log *slog.Logger,
	e paymentprovider.SubscriptionDeleted, fx *effects) error {
	s := e.Subscription
	log = log.With(slog.String("subscription_id", s.ID))
	now := d.now()

	return d.store.WithinTx(ctx, func(r Repository) error {
		local, found, err := r.GetSubscriptionByStripeID(ctx, s.ID)
		if err != nil {
			return err
		}
		if _, err := r.CancelSubscription(ctx, s.ID, now); err != nil {
			return err
		}
		if !found {
			log.Info("deleted subscription is not tracked locally")
			return nil
		}
		if err := r.TouchSubscriptionEvent(ctx, s.ID, e.Created); err != nil {
			return err
		}
		fx.touch(local.UserUID)

		user, err := r.GetUserByID(ctx, local.UserUID)
		if err != nil {
			if errors.Is(err, models.ErrUserNotFound) {
				log.Warn("owner of deleted subscription not found", slog.String("user_uid", local.UserUID))
				return nil
			}
			return err
		}
		if !isCurrent(user, s.ID) {
			log.Info("superseded subscription deleted, user plan untouched", slog.String("user_uid", user.UUID))
			return nil
		}
		if err := r.UpdatePlan(ctx, user.UUID, models.PlanFree, nil); err != nil {
			return err
		}
		fx.planChanged(user.UUID, user.Plan, models.PlanFree, e.EventInfo)
		log.Info("user downgraded to free", slog.String("user_uid", user.UUID))
		return nil
	})
}

// isCurrent сообщает, является ли подписка текущей для пользователя.
// Пользователь без подписки принимает любую.
func isCurrent(u *models.User, stripeSubID string) bool {
	return u.StripeSubID == nil || *u.StripeSubID == stripeSubID
}

// mapStatus переводит статус провайдера в локальный.
// false означает, что статус менять не нужно.
func mapStatus(s string) (models.SubscriptionStatus, bool) {
	switch s {
	case "active":
		return models.SubscriptionActive, true
	case "trialing":
		return models.SubscriptionTrialing, true
	case "past_due":
		return models.SubscriptionPastDue, true
	case "canceled", "unpaid":
		return models.SubscriptionCanceled, true
	default:
		return "", false
	}
}
