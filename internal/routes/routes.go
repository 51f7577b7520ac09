// Package routes wires stores, services and handlers onto the Fiber app. The
// storage backend is chosen here: Postgres when a pool is supplied, otherwise
// the in-memory stores used for development.
package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/auth"
	"github.com/sharevest/sharevest/internal/blob"
	"github.com/sharevest/sharevest/internal/config"
	"github.com/sharevest/sharevest/internal/gateway"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/installment"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/logging"
	"github.com/sharevest/sharevest/internal/market"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/middleware"
	"github.com/sharevest/sharevest/internal/notification"
	"github.com/sharevest/sharevest/internal/overview"
	"github.com/sharevest/sharevest/internal/pricing"
	"github.com/sharevest/sharevest/internal/purchase"
	"github.com/sharevest/sharevest/internal/referral"
	"github.com/sharevest/sharevest/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Metrics *metrics.Set
	Logger  *slog.Logger
}

// Services exposes the long-running services the caller needs after wiring,
// currently the two swept by the background jobs.
type Services struct {
	Plans  *installment.Service
	Offers *market.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.Dev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(logging.Component(d.Logger, "http")))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Metrics)

	// Stores. Memory variants share one ledger/inventory/holding backend so
	// cross-domain invariants hold without a database.
	var (
		entries   ledger.Store
		counters  inventory.Store
		holdings  holding.Store
		users     identity.Repository
		prices    pricing.Store
		audits    audit.Store
		purchases purchase.Store
		plans     installment.Store
		offers    market.Store
		payouts   withdrawal.Store
		referrals referral.Store
	)
	if d.DB != nil {
		entries = ledger.NewPostgresStore(d.DB)
		counters = inventory.NewPostgresStore(d.DB)
		holdings = holding.NewPostgresStore(d.DB)
		users = identity.NewPostgresRepository(d.DB)
		prices = pricing.NewPostgresStore(d.DB)
		audits = audit.NewPostgresStore(d.DB)
		purchases = purchase.NewPostgresStore(d.DB)
		plans = installment.NewPostgresStore(d.DB)
		offers = market.NewPostgresStore(d.DB)
		payouts = withdrawal.NewPostgresStore(d.DB)
		referrals = referral.NewPostgresStore(d.DB)
	} else {
		led := ledger.NewMemoryStore()
		inv := inventory.NewMemoryStore()
		hold := holding.NewMemoryStore()
		entries, counters, holdings = led, inv, hold
		users = identity.NewMemoryRepository()
		prices = pricing.NewMemoryStore()
		audits = audit.NewMemoryStore()
		purchases = purchase.NewMemoryStore(led, inv, hold)
		plans = installment.NewMemoryStore(led, inv, hold)
		offers = market.NewMemoryStore(led, hold)
		payouts = withdrawal.NewMemoryStore(led)
		referrals = referral.NewMemoryStore()
	}

	// Services.
	auditSvc := audit.NewService(audits, logging.Component(d.Logger, "audit"))
	userSvc := identity.NewService(users)
	priceSvc := pricing.NewService(prices, auditSvc, logging.Component(d.Logger, "pricing"))
	if err := priceSvc.Seed(context.Background(), pricing.FromConfig(d.Cfg)); err != nil {
		return nil, err
	}
	mailer := notification.NewLoggerMailer(d.Logger)
	pay := gateway.NewStaticGateway()
	chain := gateway.NewStaticVerifier()
	proofs := blob.NewMemoryStore()
	referralSvc := referral.NewService(referrals, userSvc, priceSvc, d.Metrics,
		logging.Component(d.Logger, "referral"))
	purchaseSvc := purchase.NewService(purchase.Deps{
		Store:     purchases,
		Inventory: counters,
		Prices:    priceSvc,
		Referrals: referralSvc,
		Gateway:   pay,
		Chain:     chain,
		Proofs:    proofs,
		Mailer:    mailer,
		Users:     userSvc,
		Audits:    auditSvc,
		Metrics:   d.Metrics,
		Logger:    logging.Component(d.Logger, "purchase"),
	})
	planSvc := installment.NewService(installment.Deps{
		Store:     plans,
		Inventory: counters,
		Prices:    priceSvc,
		Referrals: referralSvc,
		Gateway:   pay,
		Chain:     chain,
		Proofs:    proofs,
		Mailer:    mailer,
		Users:     userSvc,
		Audits:    auditSvc,
		Metrics:   d.Metrics,
		Logger:    logging.Component(d.Logger, "installment"),
	})
	marketSvc := market.NewService(market.Deps{
		Store:   offers,
		Users:   userSvc,
		Gateway: pay,
		Chain:   chain,
		Mailer:  mailer,
		Audits:  auditSvc,
		Metrics: d.Metrics,
		Logger:  logging.Component(d.Logger, "market"),
	})
	payoutSvc := withdrawal.NewService(withdrawal.Deps{
		Store:    payouts,
		Earnings: referralSvc,
		Prices:   priceSvc,
		Users:    userSvc,
		Mailer:   mailer,
		Audits:   auditSvc,
		Metrics:  d.Metrics,
		Logger:   logging.Component(d.Logger, "withdrawal"),
	})
	overviewSvc := overview.NewService(overview.Deps{
		Entries:     entries,
		Inventory:   counters,
		Holdings:    holdings,
		Prices:      priceSvc,
		Users:       userSvc,
		Referrals:   referralSvc,
		Plans:       planSvc,
		Market:      marketSvc,
		Withdrawals: payoutSvc,
		Audits:      auditSvc,
		Logger:      logging.Component(d.Logger, "overview"),
	})
	tokens := auth.NewService(d.Cfg)

	// Handlers.
	purchaseHandler := purchase.NewHandler(purchaseSvc)
	planHandler := installment.NewHandler(planSvc)
	marketHandler := market.NewHandler(marketSvc)
	payoutHandler := withdrawal.NewHandler(payoutSvc)
	identityHandler := identity.NewHandler(userSvc)
	pricingHandler := pricing.NewHandler(priceSvc)
	referralHandler := referral.NewHandler(referralSvc, userSvc, entries)
	overviewHandler := overview.NewHandler(overviewSvc)

	// API routes.
	api := app.Group("/api/v1")
	RegisterAuthRoutes(api, auth.NewHandler(userSvc, tokens), middleware.LoginRateLimit(d.Cache, 5))
	api.Get("/shares/availability", purchaseHandler.Availability)
	api.Get("/pricing", pricingHandler.Current)

	protected := api.Group("", middleware.JWTAuth(tokens, users))
	RegisterAccountRoutes(protected, identityHandler, overviewHandler)
	RegisterShareRoutes(protected, purchaseHandler)
	RegisterInstallmentRoutes(protected, planHandler)
	RegisterMarketRoutes(protected, marketHandler)
	RegisterReferralRoutes(protected, referralHandler)
	RegisterWithdrawalRoutes(protected, payoutHandler)
	RegisterAdminRoutes(protected, adminHandlers{
		purchases: purchaseHandler,
		plans:     planHandler,
		offers:    marketHandler,
		payouts:   payoutHandler,
		users:     identityHandler,
		prices:    pricingHandler,
		referrals: referralHandler,
		views:     overviewHandler,
		trail:     audit.NewHandler(auditSvc),
	})

	return &Services{Plans: planSvc, Offers: marketSvc}, nil
}
