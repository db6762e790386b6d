// Package credits начисляет кредиты на обход сайтов при смене тарифа.
package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/llmboost-billing/internal/lib/sl"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
	"github.com/magabrotheeeer/llmboost-billing/internal/plans"
)

// Repository хранилище кредитов пользователя.
type Repository interface {
	SetCrawlCredits(ctx context.Context, userUID string, credits int) error
}

// Service обрабатывает сообщения о смене тарифа.
type Service struct {
	repo Repository
	log  *slog.Logger
}

// NewService создаёт сервис кредитов.
func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// HandlePlanChanged сбрасывает кредиты пользователя до месячного лимита
// нового тарифа. Нечитаемые сообщения и неизвестные пользователи
// подтверждаются без повтора.
func (s *Service) HandlePlanChanged(ctx context.Context, body []byte) error {
	const op = "credits.HandlePlanChanged"
	log := s.log.With(slog.String("op", op))

	var msg models.PlanChanged
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("failed to unmarshal message body, dropping", sl.Err(err))
		return nil
	}
	if msg.UserUID == "" || !msg.NewPlan.Valid() {
		log.Error("invalid plan change message, dropping",
			slog.String("user_uid", msg.UserUID),
			slog.String("plan", string(msg.NewPlan)))
		return nil
	}

	allowance := plans.CreditAllowance(msg.NewPlan)
	if err := s.repo.SetCrawlCredits(ctx, msg.UserUID, allowance); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			log.Warn("user not found, dropping", slog.String("user_uid", msg.UserUID))
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("crawl credits reset",
		slog.String("user_uid", msg.UserUID),
		slog.String("from", string(msg.PreviousPlan)),
		slog.String("to", string(msg.NewPlan)),
		slog.Int("credits", allowance))
	return nil
}
