package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/app"
	"github.com/meridian-rms/meridian-rms/internal/audit"
	"github.com/meridian-rms/meridian-rms/internal/auth"
	"github.com/meridian-rms/meridian-rms/internal/catalog"
	"github.com/meridian-rms/meridian-rms/internal/inventory"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/brands"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/companies"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/locations"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/suppliers"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/units"
	"github.com/meridian-rms/meridian-rms/internal/observability"
	"github.com/meridian-rms/meridian-rms/internal/platform/cache"
	"github.com/meridian-rms/meridian-rms/internal/platform/db"
	"github.com/meridian-rms/meridian-rms/internal/purchasing"
	"github.com/meridian-rms/meridian-rms/internal/rbac"
	"github.com/meridian-rms/meridian-rms/internal/rentals"
	"github.com/meridian-rms/meridian-rms/internal/reports"
	"github.com/meridian-rms/meridian-rms/internal/sales/customers"
	"github.com/meridian-rms/meridian-rms/internal/sales/orders"
	"github.com/meridian-rms/meridian-rms/internal/shared"
	"github.com/meridian-rms/meridian-rms/internal/users"
	"github.com/meridian-rms/meridian-rms/internal/webhooks"
	"github.com/meridian-rms/meridian-rms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	defaultTax, err := decimal.NewFromString(cfg.DefaultTaxPercent)
	if err != nil {
		logger.Error("parse DEFAULT_TAX_PERCENT", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Redis is a soft dependency for the API process: without it permission
	// lookups and reports fall through to Postgres on every call.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caches disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Error("token issuer", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	rbacService := rbac.NewService(rbac.NewRepository(dbpool), redisClient)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	authService := auth.NewService(auth.NewRepository(dbpool), tokens)
	authHandler := auth.NewHandler(logger, authService, rbacService)

	usersService := users.NewService(users.NewRepository(dbpool), rbacService, auditLogger)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)
	rbacHandler := rbac.NewHandler(logger, rbacService, rbacMiddleware)

	companiesService := companies.NewService(companies.NewRepository(dbpool), auditLogger)
	companiesHandler := companies.NewHandler(logger, companiesService, rbacMiddleware)
	brandsService := brands.NewService(brands.NewRepository(dbpool), auditLogger)
	brandsHandler := brands.NewHandler(logger, brandsService, rbacMiddleware)
	unitsService := units.NewService(units.NewRepository(dbpool), auditLogger)
	unitsHandler := units.NewHandler(logger, unitsService, rbacMiddleware)
	suppliersService := suppliers.NewService(suppliers.NewRepository(dbpool), auditLogger)
	suppliersHandler := suppliers.NewHandler(logger, suppliersService, rbacMiddleware)
	locationsService := locations.NewService(locations.NewRepository(dbpool), auditLogger)
	locationsHandler := locations.NewHandler(logger, locationsService, rbacMiddleware)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	webhooksService := webhooks.NewService(webhooks.NewRepository(dbpool), jobsClient, auditLogger, logger, webhooks.Config{
		RequireHTTPS: cfg.IsProduction(),
		Timeout:      cfg.WebhookTimeout,
	})
	webhooksHandler := webhooks.NewHandler(logger, webhooksService, rbacMiddleware)

	catalogService := catalog.NewService(catalog.NewRepository(dbpool), auditLogger)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, webhooksService)
	catalogHandler := catalog.NewHandler(logger, catalogService, inventoryService, rbacMiddleware)
	inventoryHandler := inventory.NewHandler(logger, inventoryService, rbacMiddleware)

	customersService := customers.NewService(customers.NewRepository(dbpool), auditLogger)
	customersHandler := customers.NewHandler(logger, customersService, rbacMiddleware)

	ordersService := orders.NewService(orders.NewRepository(dbpool), customersService, catalogService, inventoryService, idempotencyStore, auditLogger, webhooksService)
	ordersHandler := orders.NewHandler(logger, ordersService, rbacMiddleware, defaultTax)

	rentalsService := rentals.NewService(rentals.NewRepository(dbpool), customersService, catalogService, inventoryService, idempotencyStore, auditLogger, webhooksService)
	rentalsHandler := rentals.NewHandler(logger, rentalsService, rbacMiddleware)

	purchasingService := purchasing.NewService(purchasing.NewRepository(dbpool), suppliersService, catalogService, inventoryService, idempotencyStore, auditLogger, webhooksService)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService, rbacMiddleware)

	reportsCache := reports.NewCache(redisClient, 10*time.Minute)
	reportsService := reports.NewService(reports.NewRepository(dbpool), reportsCache)
	reportsHandler := reports.NewHandler(logger, reportsService, rbacMiddleware)

	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audit.NewHandler(logger, auditService, rbacMiddleware)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		Tokens:            tokens,
		RBAC:              rbacMiddleware,
		AuthHandler:       authHandler,
		UsersHandler:      usersHandler,
		RBACHandler:       rbacHandler,
		CompaniesHandler:  companiesHandler,
		BrandsHandler:     brandsHandler,
		UnitsHandler:      unitsHandler,
		SuppliersHandler:  suppliersHandler,
		LocationsHandler:  locationsHandler,
		CatalogHandler:    catalogHandler,
		InventoryHandler:  inventoryHandler,
		CustomersHandler:  customersHandler,
		OrdersHandler:     ordersHandler,
		RentalsHandler:    rentalsHandler,
		PurchasingHandler: purchasingHandler,
		WebhooksHandler:   webhooksHandler,
		ReportsHandler:    reportsHandler,
		AuditHandler:      auditHandler,
		JobsHandler:       jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
