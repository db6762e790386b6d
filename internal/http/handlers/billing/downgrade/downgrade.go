// Package downgrade переводит пользователя на более дешёвый тариф.
package downgrade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/httperr"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/response"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
)

// Request целевой тариф.
type Request struct {
	Plan string `json:"plan" validate:"required,oneof=free starter pro"`
}

// Service понижает тариф.
type Service interface {
	Downgrade(ctx context.Context, userUID string, plan models.PlanCode) error
}

// Handler обработчик понижения тарифа.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт обработчик.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Понизить тариф
// @Description free отменяет подписку в конце периода, платный тариф меняет цену с перерасчётом
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body Request true "Целевой тариф"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Тариф не ниже текущего"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Нет подписки или уже на тарифе"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /billing/downgrade [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.downgrade"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := middlewarectx.UserUIDFrom(r.Context())
	if !ok {
		httperr.Unauthorized(w, r, log)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	if err := h.service.Downgrade(r.Context(), userUID, models.PlanCode(req.Plan)); err != nil {
		httperr.Write(w, r, log, err)
		return
	}
	render.JSON(w, r, response.StatusOKWithData(map[string]string{"plan": req.Plan}))
}
