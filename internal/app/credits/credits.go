// Package credits собирает воркер начисления кредитов.
package credits

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/llmboost-billing/internal/config"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	creditsservice "github.com/magabrotheeeer/llmboost-billing/internal/services/credits"
	"github.com/magabrotheeeer/llmboost-billing/internal/storage/repository"
)

// App потребитель очереди смены тарифа.
type App struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	db      *repository.Storage
	service *creditsservice.Service
	queue   string
	logger  *slog.Logger
}

// New подключает хранилище и брокер.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.credits.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = repository.CheckDatabaseReady(ctx, db); err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Exchange, rabbitmq.BillingQueues(cfg.RabbitMQ.Queue))
	if err != nil {
		conn.Close()
		db.DB.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &App{
		conn:    conn,
		ch:      ch,
		db:      db,
		service: creditsservice.NewService(db.Queries, logger),
		queue:   cfg.RabbitMQ.Queue,
		logger:  logger,
	}, nil
}

// Run потребляет сообщения до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	// начатая обработка доводится до конца после сигнала остановки
	handlerCtx := context.WithoutCancel(ctx)
	handler := func(body []byte) error {
		return a.service.HandlePlanChanged(handlerCtx, body)
	}
	wait, err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, a.queue, handler)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", a.queue), sl.Err(err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("credits worker shutting down gracefully")
	wait()

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.db.DB.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
	return nil
}
