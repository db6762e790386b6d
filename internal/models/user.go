// Package models содержит доменные структуры биллинга: пользователя,
// подписку, платёж и промокод, а также сообщения, которыми сервисы
// обмениваются через очередь.
package models

import (
	"errors"
	"time"
)

// ErrUserNotFound возвращается хранилищем, если пользователь не найден.
var ErrUserNotFound = errors.New("user not found")

// User представляет учётную запись приложения.
type User struct {
	UUID             string    // Уникальный идентификатор пользователя
	Email            string    // Электронная почта
	Plan             PlanCode  // Текущий тариф
	StripeCustomerID *string   // Клиент у платёжного провайдера, создаётся при первом checkout
	StripeSubID      *string   // Текущая подписка у провайдера
	CrawlCredits     int       // Остаток кредитов на обход сайтов
	CreatedAt        time.Time // Дата регистрации
}

// ProfileUpdate описывает частичное обновление пользователя.
// Nil-поля не изменяются.
type ProfileUpdate struct {
	Email            *string
	StripeCustomerID *string
}
