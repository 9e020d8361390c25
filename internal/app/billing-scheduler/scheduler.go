// Package billingscheduler собирает планировщик списаний: выборку
// наступивших регулярных и повторных списаний с публикацией заданий
// в очередь и прогон границы биллингового цикла.
package billingscheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/entitlement-engine/internal/cache"
	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-engine/internal/rabbitmq"
	billingservice "github.com/magabrotheeeer/entitlement-engine/internal/services/billing"
	entitlementservice "github.com/magabrotheeeer/entitlement-engine/internal/services/entitlement"
	schedulerservice "github.com/magabrotheeeer/entitlement-engine/internal/services/scheduler"
	"github.com/magabrotheeeer/entitlement-engine/internal/storage/repository"
)

const (
	rabbitRetries    = 10
	rabbitRetryDelay = 3 * time.Second

	// Граница цикла прогоняется раз в сутки, сверх интервального цикла
	// планировщика. Rollover идемпотентен, двойной прогон безвреден.
	rolloverSchedule = "5 0 * * *"
)

// App представляет приложение планировщика списаний.
type App struct {
	scheduler *schedulerservice.Service
	billing   *billingservice.Service
	conn      *amqp.Connection
	ch        *amqp.Channel
	db        *repository.Storage
	logger    *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitConnection, rabbitRetries, rabbitRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn)
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	entitlementSvc := entitlementservice.New(db, cacheRedis, cfg.Billing, logger)
	billingSvc := billingservice.New(db, entitlementSvc, cfg.Billing, logger)
	schedulerSvc := schedulerservice.New(db, billingSvc, cfg.Billing, logger)

	return &App{
		scheduler: schedulerSvc,
		billing:   billingSvc,
		conn:      conn,
		ch:        ch,
		db:        db,
		logger:    logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run запускает интервальный цикл планирования и суточное cron-задание
// границы цикла, останавливается по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(rolloverSchedule, func() {
		if err := a.billing.CycleRollover(ctx, time.Now().UTC()); err != nil {
			a.logger.Error("daily cycle rollover failed", sl.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule cycle rollover: %w", err)
	}
	c.Start()

	go a.scheduler.Run(ctx, a.ch)

	<-ctx.Done()

	a.logger.Info("shutting down billing scheduler")
	<-c.Stop().Done()

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	a.db.DB.Close()
	return nil
}
