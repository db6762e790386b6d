// Package billing собирает HTTP-приложение биллинга.
package billing

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/cancel"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/checkout"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/downgrade"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/portal"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/promovalidate"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/status"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/billing/webhook"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/middlewarectx"
)

// Service пользовательские операции, которые обслуживают маршруты.
type Service interface {
	checkout.Service
	portal.Service
	cancel.Service
	downgrade.Service
	promovalidate.Service
	status.Service
}

// RouteDeps зависимости маршрутов.
type RouteDeps struct {
	Service    Service
	Verifier   webhook.Verifier
	Dispatcher webhook.Dispatcher
	Tokens     middlewarectx.TokenParser
	Limiter    *middlewarectx.Limiter
	DB         health.Pinger
}

// RegisterRoutes регистрирует маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d RouteDeps) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1/billing", func(r chi.Router) {
		// Вебхук без аутентификации, тело читается как есть
		r.Post("/webhook", webhook.New(logger, d.Verifier, d.Dispatcher).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, d.Limiter))
			r.Post("/checkout", checkout.New(logger, d.Service).ServeHTTP)
			r.Post("/portal", portal.New(logger, d.Service).ServeHTTP)
			r.Post("/cancel", cancel.New(logger, d.Service).ServeHTTP)
			r.Post("/downgrade", downgrade.New(logger, d.Service).ServeHTTP)
			r.Post("/promo/validate", promovalidate.New(logger, d.Service).ServeHTTP)
			r.Get("/status", status.New(logger, d.Service).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, d.DB).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
