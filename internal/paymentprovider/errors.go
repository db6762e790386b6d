package paymentprovider

import (
	"errors"

	"github.com/stripe/stripe-go/v82"
)

// Ошибки проверки подписи вебхука.
var (
	ErrSignatureMissing   = errors.New("webhook signature header is missing required components")
	ErrSignatureTimestamp = errors.New("webhook timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
	ErrMalformedPayload   = errors.New("malformed webhook payload")
)

// ProviderError ошибка, полученная от API провайдера.
// Error возвращает сообщение провайдера без изменений.
type ProviderError struct {
	Message    string
	Code       string
	Type       string
	StatusCode int
}

func (e *ProviderError) Error() string {
	return e.Message
}

// NotFound сообщает, что объект у провайдера не существует.
func (e *ProviderError) NotFound() bool {
	return e.Code == string(stripe.ErrorCodeResourceMissing) || e.StatusCode == 404
}

func providerError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = err.Error()
		}
		return &ProviderError{
			Message:    msg,
			Code:       string(se.Code),
			Type:       string(se.Type),
			StatusCode: se.HTTPStatusCode,
		}
	}
	return &ProviderError{Message: err.Error()}
}

// IsSignatureError сообщает, что ошибка получена при проверке подписи.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrSignatureMissing) ||
		errors.Is(err, ErrSignatureTimestamp) ||
		errors.Is(err, ErrSignatureMismatch)
}
