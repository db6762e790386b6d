// Package promovalidate проверяет промокод перед оплатой.
package promovalidate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/httperr"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/response"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
)

// Request промокод.
type Request struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Result применимый промокод.
type Result struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
}

// Service проверяет промокод.
type Service interface {
	ValidatePromo(ctx context.Context, code string) (*models.Promo, error)
}

// Handler обработчик проверки промокода.
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
// @Summary Проверить промокод
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body Request true "Промокод"
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.ErrorResponse "Промокод недействителен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /billing/promo/validate [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.promovalidate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

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

	promo, err := h.service.ValidatePromo(r.Context(), req.Code)
	if err != nil {
		httperr.Write(w, r, log, err)
		return
	}
	render.JSON(w, r, response.StatusOKWithData(Result{Code: promo.Code, DiscountPercent: promo.DiscountPercent}))
}
