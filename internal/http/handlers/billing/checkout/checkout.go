// Package checkout создаёт сессию оплаты тарифа.
package checkout

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
	"github.com/magabrotheeeer/llmboost-billing/internal/paymentprovider"
)

// Request тело запроса на оформление подписки.
type Request struct {
	Plan      string `json:"plan" validate:"required,oneof=starter pro agency"`
	PromoCode string `json:"promo_code,omitempty" validate:"omitempty,max=64"`
}

// Result ссылка на страницу оплаты.
type Result struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Service создаёт сессию оплаты.
type Service interface {
	Checkout(ctx context.Context, userUID string, plan models.PlanCode, promoCode string) (*paymentprovider.CheckoutSession, error)
}

// Handler обработчик оформления подписки.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт обработчик.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Оформить подписку
// @Description Создаёт сессию оплаты. Если у пользователя уже есть подписка, оплата заменит её
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body Request true "Тариф и промокод"
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос или промокод"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Пользователь уже на этом тарифе"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /billing/checkout [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.checkout"
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

	session, err := h.service.Checkout(r.Context(), userUID, models.PlanCode(req.Plan), req.PromoCode)
	if err != nil {
		httperr.Write(w, r, log, err)
		return
	}

	render.JSON(w, r, response.StatusOKWithData(Result{SessionID: session.ID, URL: session.URL}))
}
