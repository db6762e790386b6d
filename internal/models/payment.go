package models

import "time"

// PaymentSucceeded статус успешно оплаченного счёта.
const PaymentSucceeded = "succeeded"

// Payment запись об успешно оплаченном счёте провайдера.
// StripeInvoiceID уникален и служит ключом идемпотентности.
type Payment struct {
	ID              string
	UserUID         string
	SubscriptionID  string
	StripeInvoiceID string
	AmountCents     int64
	Currency        string
	Status          string
	CreatedAt       time.Time
}
