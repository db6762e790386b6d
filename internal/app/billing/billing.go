package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/llmboost-billing/internal/cache"
	"github.com/magabrotheeeer/llmboost-billing/internal/config"
	"github.com/magabrotheeeer/llmboost-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	"github.com/magabrotheeeer/llmboost-billing/internal/migrations"
	"github.com/magabrotheeeer/llmboost-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/llmboost-billing/internal/plans"
	billingservice "github.com/magabrotheeeer/llmboost-billing/internal/services/billing"
	"github.com/magabrotheeeer/llmboost-billing/internal/storage/repository"
)

// txStore открывает транзакции хранилища для сервисов биллинга.
type txStore struct {
	*repository.Storage
}

func (s txStore) WithinTx(ctx context.Context, fn func(r billingservice.Repository) error) error {
	return s.Storage.WithinTx(ctx, func(q *repository.Queries) error {
		return fn(q)
	})
}

// App HTTP-сервер биллинга.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New подключает хранилище, Redis и RabbitMQ, применяет миграции
// и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.billing.New"

	table, err := plans.FromConfig(cfg.Stripe.Prices)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = repository.CheckDatabaseReady(ctx, db); err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		db.DB.Close()
		cacheRedis.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Exchange, rabbitmq.BillingQueues(cfg.RabbitMQ.Queue))
	if err != nil {
		conn.Close()
		db.DB.Close()
		cacheRedis.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	gateway := paymentprovider.NewClient(paymentprovider.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		APIURL:        cfg.Stripe.APIURL,
		Timeout:       cfg.Stripe.Timeout,
	}, logger)
	store := txStore{Storage: db}

	dispatcher := billingservice.NewDispatcher(billingservice.DispatcherDeps{
		Store:    store,
		Gateway:  gateway,
		Plans:    table,
		Ledger:   cacheRedis,
		Notifier: rabbitmq.NewPublisher(ch, cfg.RabbitMQ.Exchange),
		Cache:    cacheRedis,
		EventTTL: cfg.Webhook.EventTTL,
		Log:      logger,
	})
	service := billingservice.NewService(billingservice.ServiceDeps{
		Store:   store,
		Gateway: gateway,
		Plans:   table,
		Cache:   cacheRedis,
		URLs: billingservice.URLs{
			Success:      cfg.Stripe.SuccessURL,
			Cancel:       cfg.Stripe.CancelURL,
			PortalReturn: cfg.Stripe.PortalReturnURL,
		},
		StatusTTL: cfg.RedisConnection.StatusTTL,
		Log:       logger,
	})

	router := chi.NewRouter()
	RegisterRoutes(router, logger, RouteDeps{
		Service:    service,
		Verifier:   gateway,
		Dispatcher: dispatcher,
		Tokens:     jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Limiter:    middlewarectx.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		DB:         db.DB,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		cache:  cacheRedis,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем останавливает сервер
// и закрывает соединения.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}
	a.close()
	return err
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
