// Package portal выдаёт ссылку на портал управления подпиской.
package portal

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

// Service создаёт сессию портала.
type Service interface {
	Portal(ctx context.Context, userUID string) (string, error)
}

// Handler обработчик портала.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт обработчик.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Портал подписки
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Пользователь ещё не платил"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /billing/portal [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.portal"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFrom(r.Context())
	if !ok {
		httperr.Unauthorized(w, r, log)
		return
	}

	url, err := h.service.Portal(r.Context(), userUID)
	if err != nil {
		httperr.Write(w, r, log, err)
		return
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]string{"url": url}))
}
