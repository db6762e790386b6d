// Package webhook принимает события платёжного провайдера.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/llmboost-billing/internal/http/response"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/metrics"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	"github.com/magabrotheeeer/llmboost-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/llmboost-billing/internal/services/billing"
)

// MaxBodyBytes предельный размер тела вебхука.
const MaxBodyBytes = 1 << 20

// Verifier проверяет подпись и разбирает событие.
type Verifier interface {
	VerifyWebhookSignature(payload []byte, header string) (paymentprovider.Event, error)
}

// Dispatcher применяет проверенное событие.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev paymentprovider.Event) error
}

// Handler обработчик вебхука.
type Handler struct {
	log        *slog.Logger
	verifier   Verifier
	dispatcher Dispatcher
}

// New создаёт обработчик вебхука.
func New(log *slog.Logger, verifier Verifier, dispatcher Dispatcher) *Handler {
	return &Handler{
		log:        log,
		verifier:   verifier,
		dispatcher: dispatcher,
	}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Проверяет подпись Stripe-Signature и применяет событие к подпискам
// @Tags Billing
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Неверная подпись или событие"
// @Failure 500 {object} response.ErrorResponse "Ошибка обработки, провайдер повторит доставку"
// @Router /billing/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	ev, err := h.verifier.VerifyWebhookSignature(payload, r.Header.Get(paymentprovider.SignatureHeader))
	if err != nil {
		if paymentprovider.IsSignatureError(err) {
			metrics.SignatureFailures.Inc()
			log.Warn("webhook signature rejected", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid signature"))
			return
		}
		log.Error("failed to parse webhook event", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid event payload"))
		return
	}

	info := ev.Info()
	log = log.With(slog.String("event_id", info.ID), slog.String("event_type", info.Type))

	if err := h.dispatcher.Dispatch(r.Context(), ev); err != nil {
		if errors.Is(err, billing.ErrMalformedEvent) || errors.Is(err, billing.ErrUnknownPlan) {
			log.Error("malformed webhook event", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		log.Error("failed to process webhook event", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to process event"))
		return
	}

	log.Info("webhook processed")
	render.JSON(w, r, response.StatusOKWithData(map[string]bool{"received": true}))
}
