package paymentprovider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// Типы событий, которые обрабатывает биллинг.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
)

// EventInfo общие поля конверта события.
type EventInfo struct {
	ID      string
	Type    string
	Created time.Time
}

// Event разобранное событие вебхука. Конкретный тип определяется
// полем type конверта.
type Event interface {
	Info() EventInfo
}

// Info возвращает поля конверта.
func (e EventInfo) Info() EventInfo { return e }

// CheckoutSessionCompleted завершённая сессия оплаты.
type CheckoutSessionCompleted struct {
	EventInfo
	SessionID         string
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
	CouponIDs         []string
}

// Invoice счёт провайдера. SubscriptionID пуст, если счёт не связан с подпиской.
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	AmountPaid     int64
	Currency       string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

// InvoicePaymentSucceeded успешная оплата счёта.
type InvoicePaymentSucceeded struct {
	EventInfo
	Invoice Invoice
}

// InvoicePaymentFailed неудачная оплата счёта.
type InvoicePaymentFailed struct {
	EventInfo
	Invoice Invoice
}

// SubscriptionUpdated изменение подписки.
type SubscriptionUpdated struct {
	EventInfo
	Subscription Subscription
}

// SubscriptionDeleted подписка завершена.
type SubscriptionDeleted struct {
	EventInfo
	Subscription Subscription
}

// UnknownEvent событие, которое биллинг не обрабатывает.
type UnknownEvent struct {
	EventInfo
}

// expandableID поле, которое приходит либо строкой-идентификатором,
// либо раскрытым объектом с полем id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	ID                string       `json:"id"`
	ClientReferenceID string       `json:"client_reference_id"`
	Customer          expandableID `json:"customer"`
	Subscription      expandableID `json:"subscription"`
	Discounts         []struct {
		Coupon expandableID `json:"coupon"`
	} `json:"discounts"`
	TotalDetails *struct {
		Breakdown *struct {
			Discounts []struct {
				Discount struct {
					Coupon expandableID `json:"coupon"`
				} `json:"discount"`
			} `json:"discounts"`
		} `json:"breakdown"`
	} `json:"total_details"`
}

type period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type invoiceObject struct {
	ID          string       `json:"id"`
	Customer    expandableID `json:"customer"`
	AmountPaid  int64        `json:"amount_paid"`
	Currency    string       `json:"currency"`
	PeriodStart int64        `json:"period_start"`
	PeriodEnd   int64        `json:"period_end"`
	Parent      *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines *struct {
		Data []struct {
			Period *period `json:"period"`
			Parent *struct {
				SubscriptionItemDetails *struct {
					Subscription expandableID `json:"subscription"`
				} `json:"subscription_item_details"`
			} `json:"parent"`
		} `json:"data"`
	} `json:"lines"`
}

func (o *invoiceObject) toInvoice() Invoice {
	inv := Invoice{
		ID:          o.ID,
		CustomerID:  string(o.Customer),
		AmountPaid:  o.AmountPaid,
		Currency:    o.Currency,
		PeriodStart: unixTime(o.PeriodStart),
		PeriodEnd:   unixTime(o.PeriodEnd),
	}
	if o.Lines != nil {
		for _, line := range o.Lines.Data {
			if line.Parent == nil || line.Parent.SubscriptionItemDetails == nil {
				continue
			}
			sub := string(line.Parent.SubscriptionItemDetails.Subscription)
			if sub == "" {
				continue
			}
			inv.SubscriptionID = sub
			if line.Period != nil && line.Period.Start != 0 && line.Period.End != 0 {
				inv.PeriodStart = unixTime(line.Period.Start)
				inv.PeriodEnd = unixTime(line.Period.End)
			}
			break
		}
	}
	if inv.SubscriptionID == "" && o.Parent != nil && o.Parent.SubscriptionDetails != nil {
		inv.SubscriptionID = string(o.Parent.SubscriptionDetails.Subscription)
	}
	return inv
}

// ParseEvent разбирает конверт события и приводит data.object к типу,
// соответствующему event.type. Неизвестные типы возвращаются как UnknownEvent.
func ParseEvent(payload []byte) (Event, error) {
	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedPayload)
	}
	info := EventInfo{
		ID:      raw.ID,
		Type:    string(raw.Type),
		Created: time.Unix(raw.Created, 0).UTC(),
	}

	switch info.Type {
	case EventCheckoutSessionCompleted, EventInvoicePaymentSucceeded, EventInvoicePaymentFailed,
		EventSubscriptionUpdated, EventSubscriptionDeleted:
	default:
		return UnknownEvent{EventInfo: info}, nil
	}

	if raw.Data == nil || len(raw.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing data.object", ErrMalformedPayload)
	}
	obj := raw.Data.Raw

	switch info.Type {
	case EventCheckoutSessionCompleted:
		var s checkoutSessionObject
		if err := json.Unmarshal(obj, &s); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedPayload, err)
		}
		ev := CheckoutSessionCompleted{
			EventInfo:         info,
			SessionID:         s.ID,
			ClientReferenceID: s.ClientReferenceID,
			CustomerID:        string(s.Customer),
			SubscriptionID:    string(s.Subscription),
		}
		for _, d := range s.Discounts {
			if d.Coupon != "" {
				ev.CouponIDs = append(ev.CouponIDs, string(d.Coupon))
			}
		}
		if len(ev.CouponIDs) == 0 && s.TotalDetails != nil && s.TotalDetails.Breakdown != nil {
			for _, d := range s.TotalDetails.Breakdown.Discounts {
				if d.Discount.Coupon != "" {
					ev.CouponIDs = append(ev.CouponIDs, string(d.Discount.Coupon))
				}
			}
		}
		return ev, nil

	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv invoiceObject
		if err := json.Unmarshal(obj, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", ErrMalformedPayload, err)
		}
		if inv.ID == "" {
			return nil, fmt.Errorf("%w: invoice without id", ErrMalformedPayload)
		}
		if info.Type == EventInvoicePaymentSucceeded {
			return InvoicePaymentSucceeded{EventInfo: info, Invoice: inv.toInvoice()}, nil
		}
		return InvoicePaymentFailed{EventInfo: info, Invoice: inv.toInvoice()}, nil

	default:
		var s stripe.Subscription
		if err := json.Unmarshal(obj, &s); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrMalformedPayload, err)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("%w: subscription without id", ErrMalformedPayload)
		}
		sub := *subscriptionFromStripe(&s)
		if info.Type == EventSubscriptionUpdated {
			return SubscriptionUpdated{EventInfo: info, Subscription: sub}, nil
		}
		return SubscriptionDeleted{EventInfo: info, Subscription: sub}, nil
	}
}
