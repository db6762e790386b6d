package billing

import "errors"

var (
	// ErrMalformedEvent событие без обязательных полей. Повторная доставка не поможет.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownPlan тариф не существует или у него нет цены.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrNoSubscription у пользователя нет текущей подписки.
	ErrNoSubscription = errors.New("user has no subscription")
	// ErrNoCustomer пользователь ещё не зарегистрирован у провайдера.
	ErrNoCustomer = errors.New("user has no billing customer")
	// ErrNotADowngrade запрошенный тариф не ниже текущего.
	ErrNotADowngrade = errors.New("requested plan is not a downgrade")
	// ErrAlreadyOnPlan пользователь уже на этом тарифе.
	ErrAlreadyOnPlan = errors.New("user is already on this plan")
	// ErrPromoInvalid промокод не найден, неактивен, истёк или исчерпан.
	ErrPromoInvalid = errors.New("promo code is invalid")
)
