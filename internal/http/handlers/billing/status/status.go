// Package status возвращает состояние биллинга пользователя.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/httperr"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/response"
	"github.com/magabrotheeeer/llmboost-billing/internal/services/billing"
)

// Service читает состояние биллинга.
type Service interface {
	Status(ctx context.Context, userUID string) (*billing.Status, error)
}

// Handler обработчик состояния.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт обработчик.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Состояние биллинга
// @Description Тариф, текущая подписка, кредиты и последние платежи
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Response{data=billing.Status}
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /billing/status [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.status"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFrom(r.Context())
	if !ok {
		httperr.Unauthorized(w, r, log)
		return
	}

	st, err := h.service.Status(r.Context(), userUID)
	if err != nil {
		httperr.Write(w, r, log, err)
		return
	}
	render.JSON(w, r, response.StatusOKWithData(st))
}
