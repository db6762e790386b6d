// Package httperr переводит ошибки биллинга в HTTP-ответы.
package httperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/llmboost-billing/internal/http/response"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
	"github.com/magabrotheeeer/llmboost-billing/internal/services/billing"
)

// Status HTTP-статус и сообщение для ошибки операции биллинга.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrUnknownPlan):
		return http.StatusBadRequest, "unknown plan"
	case errors.Is(err, billing.ErrNotADowngrade):
		return http.StatusBadRequest, "requested plan is not a downgrade"
	case errors.Is(err, billing.ErrPromoInvalid):
		return http.StatusBadRequest, "promo code is invalid"
	case errors.Is(err, models.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, billing.ErrNoSubscription):
		return http.StatusConflict, "no active subscription"
	case errors.Is(err, billing.ErrNoCustomer):
		return http.StatusConflict, "no billing account"
	case errors.Is(err, billing.ErrAlreadyOnPlan):
		return http.StatusConflict, "already on this plan"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Write пишет ответ с ошибкой. Ошибки сервера логируются на уровне Error,
// ошибки запроса на уровне Info.
func Write(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	code, msg := Status(err)
	if code >= http.StatusInternalServerError {
		log.Error("request failed", sl.Err(err))
	} else {
		log.Info("request rejected", sl.Err(err))
	}
	render.Status(r, code)
	render.JSON(w, r, response.Error(msg))
}

// Unauthorized отвечает 401, если в контексте нет пользователя.
func Unauthorized(w http.ResponseWriter, r *http.Request, log *slog.Logger) {
	log.Error("user UID not found in context")
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, response.Error("unauthorized"))
}
