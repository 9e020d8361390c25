// Package entitlementengine собирает HTTP-сервис движка прав и биллинга:
// хранилище, кеш возможностей, платёжный шлюз, сервисы и маршруты.
package entitlementengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/entitlement-engine/internal/cache"
	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/lib/jwt"
	"github.com/magabrotheeeer/entitlement-engine/internal/migrations"
	"github.com/magabrotheeeer/entitlement-engine/internal/paymentprovider"
	authservice "github.com/magabrotheeeer/entitlement-engine/internal/services/auth"
	billingservice "github.com/magabrotheeeer/entitlement-engine/internal/services/billing"
	customersservice "github.com/magabrotheeeer/entitlement-engine/internal/services/customers"
	entitlementservice "github.com/magabrotheeeer/entitlement-engine/internal/services/entitlement"
	ledgerservice "github.com/magabrotheeeer/entitlement-engine/internal/services/ledger"
	paymentservice "github.com/magabrotheeeer/entitlement-engine/internal/services/payment"
	"github.com/magabrotheeeer/entitlement-engine/internal/storage/repository"
)

// App — собранный HTTP-сервис движка.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
}

// New инициализирует зависимости и собирает приложение.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	jwtMaker := jwt.NewMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	gateway := paymentprovider.NewClient(cfg.Gateway.ShopID, cfg.Gateway.SecretKey, cfg.Gateway.APIURL)

	authSvc := authservice.New(db, jwtMaker)
	entitlementSvc := entitlementservice.New(db, cacheRedis, cfg.Billing, logger)
	billingSvc := billingservice.New(db, entitlementSvc, cfg.Billing, logger)
	ledgerSvc := ledgerservice.New(db, billingSvc, logger)
	paymentSvc := paymentservice.New(db, gateway, ledgerSvc, billingSvc, cfg.Billing, logger)
	customersSvc := customersservice.New(db, entitlementSvc, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, db, authSvc, entitlementSvc, paymentSvc, customersSvc, ledgerSvc)

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
	}, nil
}

// Run запускает HTTP-сервер и останавливает его по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.db.DB.Close()
		return err
	}
}
