// Package entitlementengine предоставляет маршруты HTTP-сервиса движка.
package entitlementengine

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/audit/auditlist"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/billing/reactivate"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/billing/subscribe"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/billing/tierchange"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/billing/tierpurchase"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/customers/customercreate"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/customers/groupcreate"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/customers/groupmembers"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/entitlement/capabilities"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/entitlement/consume"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/health"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/payments/paymentlist"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/handlers/payments/webhook"
	"github.com/magabrotheeeer/entitlement-engine/internal/http/middlewarectx"
	authservice "github.com/magabrotheeeer/entitlement-engine/internal/services/auth"
	customersservice "github.com/magabrotheeeer/entitlement-engine/internal/services/customers"
	entitlementservice "github.com/magabrotheeeer/entitlement-engine/internal/services/entitlement"
	ledgerservice "github.com/magabrotheeeer/entitlement-engine/internal/services/ledger"
	paymentservice "github.com/magabrotheeeer/entitlement-engine/internal/services/payment"
	"github.com/magabrotheeeer/entitlement-engine/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(
	r chi.Router,
	logger *slog.Logger,
	cfg *config.Config,
	db *repository.Storage,
	authSvc *authservice.Service,
	entitlementSvc *entitlementservice.Service,
	paymentSvc *paymentservice.Service,
	customersSvc *customersservice.Service,
	ledgerSvc *ledgerservice.Service,
) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	limiter := rate.NewLimiter(rate.Limit(100), 200)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/register", register.New(logger, authSvc).ServeHTTP)
		r.Post("/login", login.New(logger, authSvc).ServeHTTP)

		// Webhook платёжного шлюза: аутентифицируется подписью, не JWT
		r.Post("/payments/webhook", webhook.New(logger, ledgerSvc, cfg.Gateway.WebhookSecret).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(authSvc, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, limiter))

			r.Get("/entitlements/capabilities", capabilities.New(logger, entitlementSvc).ServeHTTP)
			r.Post("/entitlements/consume", consume.New(logger, entitlementSvc).ServeHTTP)

			r.Post("/billing/addon/subscribe", subscribe.New(logger, paymentSvc).ServeHTTP)
			r.Post("/billing/addon/quote", tierchange.NewQuote(logger, paymentSvc).ServeHTTP)
			r.Post("/billing/addon/upgrade", tierchange.NewUpgrade(logger, paymentSvc).ServeHTTP)
			r.Post("/billing/addon/downgrade", tierchange.NewDowngrade(logger, paymentSvc).ServeHTTP)
			r.Post("/billing/addon/reactivate", reactivate.New(logger, paymentSvc).ServeHTTP)
			r.Post("/billing/tier/purchase", tierpurchase.New(logger, paymentSvc).ServeHTTP)

			r.Get("/payments", paymentlist.New(logger, db).ServeHTTP)
			r.Get("/audit", auditlist.New(logger, db).ServeHTTP)

			members := groupmembers.New(logger, customersSvc)
			r.Post("/customers", customercreate.New(logger, customersSvc).ServeHTTP)
			r.Post("/customers/groups", groupcreate.New(logger, customersSvc).ServeHTTP)
			r.Post("/customers/groups/{groupID}/members", members.Add)
			r.Get("/customers/groups/{groupID}/members", members.List)
		})
	})

	r.Get("/health", health.New(logger, func() error {
		return repository.CheckDatabaseReady(db)
	}).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
