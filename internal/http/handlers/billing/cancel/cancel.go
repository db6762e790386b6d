// Package cancel отменяет подписку в конце оплаченного периода.
package cancel

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/httperr"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/response"
)

// Service отменяет подписку.
type Service interface {
	Cancel(ctx context.Context, userUID string) error
}

// Handler обработчик отмены.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт обработчик.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description Подписка остаётся активной до конца оплаченного периода
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Нет активной подписки"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /billing/cancel [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.cancel"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFrom(r.Context())
	if !ok {
		httperr.Unauthorized(w, r, log)
		return
	}

	if err := h.service.Cancel(r.Context(), userUID); err != nil {
		httperr.Write(w, r, log, err)
		return
	}
	log.Info("subscription cancellation scheduled", slog.String("user_uid", userUID))
	render.JSON(w, r, response.StatusOKWithData(map[string]bool{"cancel_at_period_end": true}))
}
