package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
)

// maxInFlight предел одновременно обрабатываемых сообщений.
const maxInFlight = 10

// ConsumerMessage запускает потребителя очереди. Сообщение подтверждается,
// если handler вернул nil, иначе возвращается в очередь.
// Возвращаемая wait блокирует до остановки цикла после отмены ctx
// и завершения всех начатых обработчиков.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, handler func([]byte) error) (wait func(), err error) {
	const op = "rabbitmq.ConsumerMessage"
	log = log.With(slog.String("op", op), slog.String("queue", queueName))

	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return serve(ctx, log, delivery, handler), nil
}

func serve(ctx context.Context, log *slog.Logger, delivery <-chan amqp.Delivery, handler func([]byte) error) func() {
	var (
		loop    sync.WaitGroup
		workers sync.WaitGroup
	)
	sem := make(chan struct{}, maxInFlight)

	loop.Add(1)
	go func() {
		defer loop.Done()
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					// не взятое в работу сообщение вернётся в очередь
					if nackErr := d.Nack(false, true); nackErr != nil {
						log.Error("failed to nack message", sl.Err(nackErr))
					}
					return
				}
				workers.Add(1)
				go func(d amqp.Delivery) {
					defer workers.Done()
					defer func() { <-sem }()
					handle(log, d, handler)
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		loop.Wait()
		workers.Wait()
	}
}

func handle(log *slog.Logger, d amqp.Delivery, handler func([]byte) error) {
	if err := handler(d.Body); err != nil {
		log.Error("handler failed, requeueing message", sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
