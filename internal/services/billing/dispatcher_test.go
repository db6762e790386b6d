package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/llmboost-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
	"github.com/magabrotheeeer/llmboost-billing/internal/paymentprovider"
)

var (
	fixedNow     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	eventCreated = time.Date(2025, 3, 1, 11, 59, 0, 0, time.UTC)
	periodStart  = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd    = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
)

type dispatcherFixture struct {
	d        *Dispatcher
	store    *StoreMock
	gateway  *GatewayMock
	ledger   *LedgerMock
	notifier *NotifierMock
	cache    *CacheMock
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		store:    &StoreMock{},
		gateway:  &GatewayMock{},
		ledger:   &LedgerMock{},
		notifier: &NotifierMock{},
		cache:    &CacheMock{},
	}
	f.d = NewDispatcher(DispatcherDeps{
		Store:    f.store,
		Gateway:  f.gateway,
		Plans:    newPlanTable(t),
		Ledger:   f.ledger,
		Notifier: f.notifier,
		Cache:    f.cache,
		Log:      newNoopLogger(),
	})
	f.d.now = func() time.Time { return fixedNow }

	f.store.On("WithinTx").Maybe()
	f.ledger.On("Processed", mock.Anything, mock.Anything).Return(false, nil).Maybe()
	f.ledger.On("MarkProcessed", mock.Anything, mock.Anything, DefaultEventTTL).Return(nil).Maybe()
	f.cache.On("InvalidateStatus", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.notifier.On("Publish", mock.Anything, rabbitmq.RoutingKeyPlanChanged, mock.Anything).Return(nil).Maybe()
	return f
}

func (f *dispatcherFixture) assertExpectations(t *testing.T) {
	t.Helper()
	f.store.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
}

func info(id, typ string) paymentprovider.EventInfo {
	return paymentprovider.EventInfo{ID: id, Type: typ, Created: eventCreated}
}

func providerSub(id, plan string, metadata map[string]string) *paymentprovider.Subscription {
	md := map[string]string{}
	if plan != "" {
		md[paymentprovider.MetadataPlanCode] = plan
	}
	for k, v := range metadata {
		md[k] = v
	}
	start, end := periodStart, periodEnd
	return &paymentprovider.Subscription{
		ID:         id,
		CustomerID: "cus_1",
		Status:     "active",
		Metadata:   md,
		Items: []paymentprovider.SubscriptionItem{
			{ID: "si_1", PriceID: "price_" + plan, CurrentPeriodStart: &start, CurrentPeriodEnd: &end},
		},
	}
}

func TestDispatch_CheckoutMalformed(t *testing.T) {
	tests := []struct {
		name    string
		event   paymentprovider.CheckoutSessionCompleted
		setup   func(f *dispatcherFixture)
		wantMsg string
	}{
		{
			name: "missing client_reference_id",
			event: paymentprovider.CheckoutSessionCompleted{
				EventInfo:      info("evt_1", paymentprovider.EventCheckoutSessionCompleted),
				SubscriptionID: "sub_1",
			},
			wantMsg: "missing client_reference_id",
		},
		{
			name: "missing subscription",
			event: paymentprovider.CheckoutSessionCompleted{
				EventInfo:         info("evt_2", paymentprovider.EventCheckoutSessionCompleted),
				ClientReferenceID: "u1",
			},
			wantMsg: "missing subscription",
		},
		{
			name: "missing plan_code",
			event: paymentprovider.CheckoutSessionCompleted{
				EventInfo:         info("evt_3", paymentprovider.EventCheckoutSessionCompleted),
				ClientReferenceID: "u1",
				SubscriptionID:    "sub_1",
			},
			setup: func(f *dispatcherFixture) {
				f.gateway.On("GetSubscription", mock.Anything, "sub_1").Return(providerSub("sub_1", "", nil), nil).Once()
			},
			wantMsg: "missing plan_code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			err := f.d.Dispatch(context.Background(), tt.event)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedEvent)
			assert.Contains(t, err.Error(), tt.wantMsg)
			f.store.AssertNotCalled(t, "WithinTx")
			f.ledger.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
			f.assertExpectations(t)
		})
	}
}

func TestDispatch_CheckoutUnknownPlan(t *testing.T) {
	f := newDispatcherFixture(t)
	f.gateway.On("GetSubscription", mock.Anything, "sub_1").Return(providerSub("sub_1", "enterprise", nil), nil).Once()

	err := f.d.Dispatch(context.Background(), paymentprovider.CheckoutSessionCompleted{
		EventInfo:         info("evt_1", paymentprovider.EventCheckoutSessionCompleted),
		ClientReferenceID: "u1",
		SubscriptionID:    "sub_1",
	})

	assert.ErrorIs(t, err, ErrUnknownPlan)
	f.store.AssertNotCalled(t, "WithinTx")
}

func TestDispatch_CheckoutProviderError(t *testing.T) {
	f := newDispatcherFixture(t)
	provErr := &paymentprovider.ProviderError{Message: "No such subscription: 'sub_1'", Code: "resource_missing"}
	f.gateway.On("GetSubscription", mock.Anything, "sub_1").Return(nil, provErr).Once()

	err := f.d.Dispatch(context.Background(), paymentprovider.CheckoutSessionCompleted{
		EventInfo:         info("evt_1", paymentprovider.EventCheckoutSessionCompleted),
		ClientReferenceID: "u1",
		SubscriptionID:    "sub_1",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such subscription")
	f.ledger.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_CheckoutFirstSubscription(t *testing.T) {
	f := newDispatcherFixture(t)
	f.gateway.On("GetSubscription", mock.Anything, "sub_new").Return(providerSub("sub_new", "pro", nil), nil).Once()

	f.store.On("GetUserByID", mock.Anything, "u1").
		Return(&models.User{UUID: "u1", Email: "a@b.c", Plan: models.PlanFree}, nil).Once()
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_new").Return(nil, false, nil).Once()
	f.store.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
		return s.UserUID == "u1" &&
			s.PlanCode == models.PlanPro &&
			s.Status == models.SubscriptionActive &&
			s.StripeSubscriptionID == "sub_new" &&
			s.StripeCustomerID == "cus_1" &&
			s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Equal(periodEnd) &&
			s.LastEventAt != nil && s.LastEventAt.Equal(eventCreated)
	})).Return("local-1", nil).Once()
	f.store.On("ListPromos", mock.Anything).Return([]*models.Promo{
		{ID: "p0", StripeCouponID: "co_other"},
		{ID: "p1", StripeCouponID: "co_launch"},
	}, nil).Once()
	f.store.On("IncrementPromoRedeemed", mock.Anything, "p1").Return(nil).Once()
	f.store.On("UpdateProfile", mock.Anything, "u1", models.ProfileUpdate{StripeCustomerID: strPtr("cus_1")}).Return(nil).Once()
	f.store.On("UpdatePlan", mock.Anything, "u1", models.PlanPro, strPtr("sub_new")).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), paymentprovider.CheckoutSessionCompleted{
		EventInfo:         info("evt_1", paymentprovider.EventCheckoutSessionCompleted),
		ClientReferenceID: "u1",
		CustomerID:        "cus_1",
		SubscriptionID:    "sub_new",
		CouponIDs:         []string{"co_launch", "co_unknown"},
	})

	require.NoError(t, err)
	f.assertExpectations(t)
	f.gateway.AssertNotCalled(t, "CancelImmediately", mock.Anything, mock.Anything)
	f.notifier.AssertCalled(t, "Publish", mock.Anything, rabbitmq.RoutingKeyPlanChanged, mock.MatchedBy(func(m models.PlanChanged) bool {
		return m.UserUID == "u1" && m.PreviousPlan == models.PlanFree && m.NewPlan == models.PlanPro &&
			m.EventType == paymentprovider.EventCheckoutSessionCompleted
	}))
	f.cache.AssertCalled(t, "InvalidateStatus", mock.Anything, "u1")
	f.ledger.AssertCalled(t, "MarkProcessed", mock.Anything, "evt_1", DefaultEventTTL)
}

func TestDispatch_CheckoutUpgrade(t *testing.T) {
	tests := []struct {
		name      string
		cancelErr error
	}{
		{name: "old subscription canceled at provider"},
		{name: "provider cancel failure is swallowed", cancelErr: errors.New("subscription already canceled")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(t)
			sub := providerSub("sub_new", "agency", map[string]string{
				paymentprovider.MetadataUpgradeFromSubscrID: "sub_old",
			})
			f.gateway.On("GetSubscription", mock.Anything, "sub_new").Return(sub, nil).Once()
			f.gateway.On("CancelImmediately", mock.Anything, "sub_old").Return(tt.cancelErr).Once()

			f.store.On("GetUserByID", mock.Anything, "u1").Return(&models.User{
				UUID:             "u1",
				Plan:             models.PlanStarter,
				StripeCustomerID: strPtr("cus_1"),
				StripeSubID:      strPtr("sub_old"),
			}, nil).Once()
			f.store.On("CancelSubscription", mock.Anything, "sub_old", fixedNow).Return(true, nil).Once()
			f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_new").Return(nil, false, nil).Once()
			f.store.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
				return s.StripeSubscriptionID == "sub_new" && s.PlanCode == models.PlanAgency
			})).Return("local-2", nil).Once()
			f.store.On("UpdatePlan", mock.Anything, "u1", models.PlanAgency, strPtr("sub_new")).Return(nil).Once()

			err := f.d.Dispatch(context.Background(), paymentprovider.CheckoutSessionCompleted{
				EventInfo:         info("evt_up", paymentprovider.EventCheckoutSessionCompleted),
				ClientReferenceID: "u1",
				CustomerID:        "cus_1",
				SubscriptionID:    "sub_new",
			})

			require.NoError(t, err)
			f.assertExpectations(t)
			f.store.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything)
			f.store.AssertNotCalled(t, "ListPromos", mock.Anything)
		})
	}
}

func TestDispatch_CheckoutAlreadyRecorded(t *testing.T) {
	f := newDispatcherFixture(t)
	f.gateway.On("GetSubscription", mock.Anything, "sub_new").Return(providerSub("sub_new", "pro", nil), nil).Once()
	f.store.On("GetUserByID", mock.Anything, "u1").Return(&models.User{
		UUID: "u1", Plan: models.PlanPro, StripeCustomerID: strPtr("cus_1"), StripeSubID: strPtr("sub_new"),
	}, nil).Once()
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_new").
		Return(&models.Subscription{StripeSubscriptionID: "sub_new"}, true, nil).Once()
	f.store.On("UpdatePlan", mock.Anything, "u1", models.PlanPro, strPtr("sub_new")).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), paymentprovider.CheckoutSessionCompleted{
		EventInfo:         info("evt_1", paymentprovider.EventCheckoutSessionCompleted),
		ClientReferenceID: "u1",
		SubscriptionID:    "sub_new",
		CouponIDs:         []string{"co_launch"},
	})

	require.NoError(t, err)
	f.store.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "IncrementPromoRedeemed", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func paidInvoice(id string) paymentprovider.Invoice {
	start, end := periodStart, periodEnd
	return paymentprovider.Invoice{
		ID:             id,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		AmountPaid:     4900,
		Currency:       "usd",
		PeriodStart:    &start,
		PeriodEnd:      &end,
	}
}

func TestDispatch_InvoicePaidIdempotent(t *testing.T) {
	f := newDispatcherFixture(t)
	local := &models.Subscription{ID: "local-1", UserUID: "u1", StripeSubscriptionID: "sub_1"}

	f.store.On("GetPaymentByInvoiceID", mock.Anything, "in_1").Return(nil, false, nil).Once()
	f.store.On("GetPaymentByInvoiceID", mock.Anything, "in_1").
		Return(&models.Payment{StripeInvoiceID: "in_1"}, true, nil).Once()
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(local, true, nil).Once()
	f.store.On("UpdateSubscriptionPeriod", mock.Anything, "sub_1", periodStart, periodEnd).Return(nil).Once()
	f.store.On("CreatePayment", mock.Anything, models.Payment{
		UserUID:         "u1",
		SubscriptionID:  "local-1",
		StripeInvoiceID: "in_1",
		AmountCents:     4900,
		Currency:        "usd",
		Status:          models.PaymentSucceeded,
	}).Return("pay-1", nil).Once()

	for _, id := range []string{"evt_a", "evt_b"} {
		err := f.d.Dispatch(context.Background(), paymentprovider.InvoicePaymentSucceeded{
			EventInfo: info(id, paymentprovider.EventInvoicePaymentSucceeded),
			Invoice:   paidInvoice("in_1"),
		})
		require.NoError(t, err)
	}

	f.store.AssertNumberOfCalls(t, "CreatePayment", 1)
	f.assertExpectations(t)
}

func TestDispatch_InvoicePaidGuards(t *testing.T) {
	t.Run("not linked to a subscription", func(t *testing.T) {
		f := newDispatcherFixture(t)
		inv := paidInvoice("in_2")
		inv.SubscriptionID = ""

		err := f.d.Dispatch(context.Background(), paymentprovider.InvoicePaymentSucceeded{
			EventInfo: info("evt_1", paymentprovider.EventInvoicePaymentSucceeded),
			Invoice:   inv,
		})

		require.NoError(t, err)
		f.store.AssertNotCalled(t, "WithinTx")
	})

	t.Run("unknown subscription is dropped", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.store.On("GetPaymentByInvoiceID", mock.Anything, "in_3").Return(nil, false, nil).Once()
		f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(nil, false, nil).Once()

		err := f.d.Dispatch(context.Background(), paymentprovider.InvoicePaymentSucceeded{
			EventInfo: info("evt_1", paymentprovider.EventInvoicePaymentSucceeded),
			Invoice:   paidInvoice("in_3"),
		})

		require.NoError(t, err)
		f.store.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "UpdateSubscriptionPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("repository failure is returned", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.store.On("GetPaymentByInvoiceID", mock.Anything, "in_4").Return(nil, false, errors.New("db down")).Once()

		err := f.d.Dispatch(context.Background(), paymentprovider.InvoicePaymentSucceeded{
			EventInfo: info("evt_1", paymentprovider.EventInvoicePaymentSucceeded),
			Invoice:   paidInvoice("in_4"),
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
		f.ledger.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDispatch_InvoiceFailed(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").
		Return(&models.Subscription{UserUID: "u1", StripeSubscriptionID: "sub_1", Status: models.SubscriptionActive}, true, nil).Once()
	f.store.On("UpdateSubscriptionStatus", mock.Anything, "sub_1", models.SubscriptionPastDue).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), paymentprovider.InvoicePaymentFailed{
		EventInfo: info("evt_1", paymentprovider.EventInvoicePaymentFailed),
		Invoice:   paidInvoice("in_1"),
	})

	require.NoError(t, err)
	f.assertExpectations(t)
	f.store.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func updatedEvent(status string, cancelAtPeriodEnd bool, priceID string) paymentprovider.SubscriptionUpdated {
	start, end := periodStart, periodEnd
	return paymentprovider.SubscriptionUpdated{
		EventInfo: info("evt_upd", paymentprovider.EventSubscriptionUpdated),
		Subscription: paymentprovider.Subscription{
			ID:                "sub_1",
			CustomerID:        "cus_1",
			Status:            status,
			CancelAtPeriodEnd: cancelAtPeriodEnd,
			Items: []paymentprovider.SubscriptionItem{
				{ID: "si_1", PriceID: priceID, CurrentPeriodStart: &start, CurrentPeriodEnd: &end},
			},
		},
	}
}

func TestDispatch_SubscriptionUpdatedPastDueStarter(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(&models.Subscription{
		UserUID:              "u1",
		StripeSubscriptionID: "sub_1",
		PlanCode:             models.PlanPro,
		Status:               models.SubscriptionActive,
	}, true, nil).Once()
	f.store.On("UpdateSubscriptionStatus", mock.Anything, "sub_1", models.SubscriptionPastDue).Return(nil).Once()
	f.store.On("UpdateSubscriptionPlan", mock.Anything, "sub_1", models.PlanStarter).Return(nil).Once()
	f.store.On("UpdateSubscriptionPeriod", mock.Anything, "sub_1", periodStart, periodEnd).Return(nil).Once()
	f.store.On("GetUserByID", mock.Anything, "u1").
		Return(&models.User{UUID: "u1", Plan: models.PlanPro, StripeSubID: strPtr("sub_1")}, nil).Once()
	f.store.On("UpdatePlan", mock.Anything, "u1", models.PlanStarter, strPtr("sub_1")).Return(nil).Once()
	f.store.On("TouchSubscriptionEvent", mock.Anything, "sub_1", eventCreated).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), updatedEvent("past_due", false, priceStarter))

	require.NoError(t, err)
	f.assertExpectations(t)
	f.store.AssertNotCalled(t, "MarkCancelAtPeriodEnd", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertCalled(t, "Publish", mock.Anything, rabbitmq.RoutingKeyPlanChanged, mock.MatchedBy(func(m models.PlanChanged) bool {
		return m.PreviousPlan == models.PlanPro && m.NewPlan == models.PlanStarter
	}))
}

func TestDispatch_SubscriptionUpdatedUnknownPriceKeepsCancelFlag(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(&models.Subscription{
		UserUID: "u1", StripeSubscriptionID: "sub_1", PlanCode: models.PlanPro, Status: models.SubscriptionActive,
	}, true, nil).Once()
	f.store.On("MarkCancelAtPeriodEnd", mock.Anything, "sub_1", true).Return(nil).Once()
	f.store.On("TouchSubscriptionEvent", mock.Anything, "sub_1", eventCreated).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), updatedEvent("active", true, "price_legacy"))

	require.NoError(t, err)
	f.assertExpectations(t)
	f.store.AssertNotCalled(t, "UpdateSubscriptionStatus", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "UpdatePlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_SubscriptionUpdatedUntracked(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(nil, false, nil).Once()
	f.store.On("MarkCancelAtPeriodEnd", mock.Anything, "sub_1", true).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), updatedEvent("active", true, priceStarter))

	require.NoError(t, err)
	f.assertExpectations(t)
	f.store.AssertNotCalled(t, "GetUserByID", mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "TouchSubscriptionEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_SubscriptionUpdatedStaleSkipped(t *testing.T) {
	f := newDispatcherFixture(t)
	later := eventCreated.Add(time.Minute)
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(&models.Subscription{
		UserUID: "u1", StripeSubscriptionID: "sub_1", PlanCode: models.PlanPro, LastEventAt: &later,
	}, true, nil).Once()

	err := f.d.Dispatch(context.Background(), updatedEvent("past_due", true, priceStarter))

	require.NoError(t, err)
	f.store.AssertNotCalled(t, "MarkCancelAtPeriodEnd", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "UpdateSubscriptionStatus", mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "UpdatePlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_SubscriptionUpdatedClearsCancelFlag(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(&models.Subscription{
		UserUID: "u1", StripeSubscriptionID: "sub_1", PlanCode: models.PlanStarter,
		Status: models.SubscriptionActive, CancelAtPeriodEnd: true,
	}, true, nil).Once()
	f.store.On("MarkCancelAtPeriodEnd", mock.Anything, "sub_1", false).Return(nil).Once()
	f.store.On("UpdateSubscriptionPeriod", mock.Anything, "sub_1", periodStart, periodEnd).Return(nil).Once()
	f.store.On("GetUserByID", mock.Anything, "u1").
		Return(&models.User{UUID: "u1", Plan: models.PlanStarter, StripeSubID: strPtr("sub_1")}, nil).Once()
	f.store.On("UpdatePlan", mock.Anything, "u1", models.PlanStarter, strPtr("sub_1")).Return(nil).Once()
	f.store.On("TouchSubscriptionEvent", mock.Anything, "sub_1", eventCreated).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), updatedEvent("active", false, priceStarter))

	require.NoError(t, err)
	f.assertExpectations(t)
	f.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_SubscriptionUpdatedSupersededLeavesUser(t *testing.T) {
	f := newDispatcherFixture(t)
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(&models.Subscription{
		UserUID: "u1", StripeSubscriptionID: "sub_1", PlanCode: models.PlanStarter, Status: models.SubscriptionActive,
	}, true, nil).Once()
	f.store.On("UpdateSubscriptionPeriod", mock.Anything, "sub_1", periodStart, periodEnd).Return(nil).Once()
	f.store.On("GetUserByID", mock.Anything, "u1").
		Return(&models.User{UUID: "u1", Plan: models.PlanAgency, StripeSubID: strPtr("sub_2")}, nil).Once()
	f.store.On("TouchSubscriptionEvent", mock.Anything, "sub_1", eventCreated).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), updatedEvent("active", false, priceStarter))

	require.NoError(t, err)
	f.assertExpectations(t)
	f.store.AssertNotCalled(t, "UpdatePlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func deletedEvent() paymentprovider.SubscriptionDeleted {
	return paymentprovider.SubscriptionDeleted{
		EventInfo:    info("evt_del", paymentprovider.EventSubscriptionDeleted),
		Subscription: paymentprovider.Subscription{ID: "sub_1", Status: "canceled"},
	}
}

func TestDispatch_SubscriptionDeleted(t *testing.T) {
	t.Run("tracked subscription downgrades user to free", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").
			Return(&models.Subscription{UserUID: "u1", StripeSubscriptionID: "sub_1"}, true, nil).Once()
		f.store.On("CancelSubscription", mock.Anything, "sub_1", fixedNow).Return(true, nil).Once()
		f.store.On("TouchSubscriptionEvent", mock.Anything, "sub_1", eventCreated).Return(nil).Once()
		f.store.On("GetUserByID", mock.Anything, "u1").
			Return(&models.User{UUID: "u1", Plan: models.PlanPro, StripeSubID: strPtr("sub_1")}, nil).Once()
		f.store.On("UpdatePlan", mock.Anything, "u1", models.PlanFree, (*string)(nil)).Return(nil).Once()

		err := f.d.Dispatch(context.Background(), deletedEvent())

		require.NoError(t, err)
		f.assertExpectations(t)
		f.notifier.AssertCalled(t, "Publish", mock.Anything, rabbitmq.RoutingKeyPlanChanged, mock.MatchedBy(func(m models.PlanChanged) bool {
			return m.NewPlan == models.PlanFree && m.PreviousPlan == models.PlanPro
		}))
	})

	t.Run("untracked subscription mutates no user", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(nil, false, nil).Once()
		f.store.On("CancelSubscription", mock.Anything, "sub_1", fixedNow).Return(false, nil).Once()

		err := f.d.Dispatch(context.Background(), deletedEvent())

		require.NoError(t, err)
		f.assertExpectations(t)
		f.store.AssertNotCalled(t, "GetUserByID", mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "UpdatePlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("superseded subscription keeps user plan", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").
			Return(&models.Subscription{UserUID: "u1", StripeSubscriptionID: "sub_1"}, true, nil).Once()
		f.store.On("CancelSubscription", mock.Anything, "sub_1", fixedNow).Return(true, nil).Once()
		f.store.On("TouchSubscriptionEvent", mock.Anything, "sub_1", eventCreated).Return(nil).Once()
		f.store.On("GetUserByID", mock.Anything, "u1").
			Return(&models.User{UUID: "u1", Plan: models.PlanAgency, StripeSubID: strPtr("sub_2")}, nil).Once()

		err := f.d.Dispatch(context.Background(), deletedEvent())

		require.NoError(t, err)
		f.store.AssertNotCalled(t, "UpdatePlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDispatch_UnknownEventIgnored(t *testing.T) {
	f := newDispatcherFixture(t)

	err := f.d.Dispatch(context.Background(), paymentprovider.UnknownEvent{
		EventInfo: info("evt_1", "customer.created"),
	})

	require.NoError(t, err)
	f.ledger.AssertNotCalled(t, "Processed", mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "WithinTx")
}

func TestDispatch_Ledger(t *testing.T) {
	t.Run("processed event is skipped", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.ledger.ExpectedCalls = nil
		f.ledger.On("Processed", mock.Anything, "evt_dup").Return(true, nil).Once()

		err := f.d.Dispatch(context.Background(), deletedEvent2("evt_dup"))

		require.NoError(t, err)
		f.store.AssertNotCalled(t, "WithinTx")
		f.ledger.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ledger failure does not block dispatch", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.ledger.ExpectedCalls = nil
		f.ledger.On("Processed", mock.Anything, "evt_x").Return(false, errors.New("redis down")).Once()
		f.ledger.On("MarkProcessed", mock.Anything, "evt_x", DefaultEventTTL).Return(errors.New("redis down")).Once()
		f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").Return(nil, false, nil).Once()
		f.store.On("CancelSubscription", mock.Anything, "sub_1", fixedNow).Return(false, nil).Once()

		err := f.d.Dispatch(context.Background(), deletedEvent2("evt_x"))

		require.NoError(t, err)
		f.ledger.AssertExpectations(t)
		f.assertExpectations(t)
	})
}

func deletedEvent2(id string) paymentprovider.SubscriptionDeleted {
	ev := deletedEvent()
	ev.ID = id
	return ev
}

func TestDispatch_PublishFailureDoesNotFail(t *testing.T) {
	f := newDispatcherFixture(t)
	f.notifier.ExpectedCalls = nil
	f.notifier.On("Publish", mock.Anything, rabbitmq.RoutingKeyPlanChanged, mock.Anything).Return(errors.New("channel closed")).Once()
	f.store.On("GetSubscriptionByStripeID", mock.Anything, "sub_1").
		Return(&models.Subscription{UserUID: "u1", StripeSubscriptionID: "sub_1"}, true, nil).Once()
	f.store.On("CancelSubscription", mock.Anything, "sub_1", fixedNow).Return(true, nil).Once()
	f.store.On("TouchSubscriptionEvent", mock.Anything, "sub_1", eventCreated).Return(nil).Once()
	f.store.On("GetUserByID", mock.Anything, "u1").
		Return(&models.User{UUID: "u1", Plan: models.PlanStarter}, nil).Once()
	f.store.On("UpdatePlan", mock.Anything, "u1", models.PlanFree, (*string)(nil)).Return(nil).Once()

	err := f.d.Dispatch(context.Background(), deletedEvent())

	require.NoError(t, err)
	f.notifier.AssertExpectations(t)
	f.ledger.AssertCalled(t, "MarkProcessed", mock.Anything, "evt_del", DefaultEventTTL)
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   models.SubscriptionStatus
		wantOK bool
	}{
		{"active", models.SubscriptionActive, true},
		{"trialing", models.SubscriptionTrialing, true},
		{"past_due", models.SubscriptionPastDue, true},
		{"canceled", models.SubscriptionCanceled, true},
		{"unpaid", models.SubscriptionCanceled, true},
		{"incomplete", "", false},
		{"paused", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := mapStatus(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
