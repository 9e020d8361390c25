// Package paymentprocessor собирает потребитель очереди заданий на списание:
// вызов платёжного шлюза и проведение исходов через журнал событий.
package paymentprocessor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/entitlement-engine/internal/cache"
	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/paymentprovider"
	"github.com/magabrotheeeer/entitlement-engine/internal/rabbitmq"
	billingservice "github.com/magabrotheeeer/entitlement-engine/internal/services/billing"
	entitlementservice "github.com/magabrotheeeer/entitlement-engine/internal/services/entitlement"
	ledgerservice "github.com/magabrotheeeer/entitlement-engine/internal/services/ledger"
	processorservice "github.com/magabrotheeeer/entitlement-engine/internal/services/processor"
	"github.com/magabrotheeeer/entitlement-engine/internal/storage/repository"
)

const (
	rabbitRetries    = 10
	rabbitRetryDelay = 3 * time.Second
)

// App представляет приложение платёжного процессора.
type App struct {
	processor *processorservice.Service
	conn      *amqp.Connection
	ch        *amqp.Channel
	db        *repository.Storage
	logger    *slog.Logger
}

// New создает новый экземпляр приложения платёжного процессора.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitConnection, rabbitRetries, rabbitRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	gateway := paymentprovider.NewClient(cfg.Gateway.ShopID, cfg.Gateway.SecretKey, cfg.Gateway.APIURL)

	entitlementSvc := entitlementservice.New(db, cacheRedis, cfg.Billing, logger)
	billingSvc := billingservice.New(db, entitlementSvc, cfg.Billing, logger)
	ledgerSvc := ledgerservice.New(db, billingSvc, logger)
	processorSvc := processorservice.New(gateway, ledgerSvc, cfg.Billing, logger)

	return &App{
		processor: processorSvc,
		conn:      conn,
		ch:        ch,
		db:        db,
		logger:    logger,
	}, nil
}

// Run подписывается на очередь заданий и работает до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	if err := rabbitmq.ConsumeMessages(ctx, a.ch, rabbitmq.ChargeQueue, a.processor.HandleMessage); err != nil {
		return fmt.Errorf("failed to consume charge jobs: %w", err)
	}
	a.logger.Info("payment processor consuming", slog.String("queue", rabbitmq.ChargeQueue))

	<-ctx.Done()

	a.logger.Info("shutting down payment processor")
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	a.db.DB.Close()
	return nil
}
