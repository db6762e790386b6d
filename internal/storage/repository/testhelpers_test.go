package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/llmboost-billing/internal/migrations"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
)

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("billing"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)

	root, err := filepath.Abs("../../..")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db, filepath.Join(root, "migrations")))

	cleanup := func() {
		_ = db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return NewWithDB(db), cleanup
}

// TestDataFactory создаёт тестовые данные.
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создаёт новую фабрику тестовых данных.
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser создаёт тестового пользователя.
func (f *TestDataFactory) CreateUser(t *testing.T, email string) string {
	t.Helper()
	uid, err := f.storage.CreateUser(context.Background(), email)
	require.NoError(t, err)
	return uid
}

// CreateSubscription создаёт активную подписку пользователя.
func (f *TestDataFactory) CreateSubscription(t *testing.T, userUID, stripeSubID string, plan models.PlanCode) string {
	t.Helper()
	id, err := f.storage.CreateSubscription(context.Background(), models.Subscription{
		UserUID:              userUID,
		PlanCode:             plan,
		Status:               models.SubscriptionActive,
		StripeSubscriptionID: stripeSubID,
		StripeCustomerID:     "cus_" + stripeSubID,
	})
	require.NoError(t, err)
	return id
}
