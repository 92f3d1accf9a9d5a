package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meterpay/meterpay/internal/billing"
	"github.com/meterpay/meterpay/internal/config"
	"github.com/meterpay/meterpay/internal/middleware"
	"github.com/meterpay/meterpay/internal/payments"
	"github.com/meterpay/meterpay/internal/provider"
	"github.com/meterpay/meterpay/internal/subscription"
	"github.com/meterpay/meterpay/internal/usage"
	"github.com/meterpay/meterpay/internal/wallet"
	"github.com/meterpay/meterpay/internal/webhook"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	RegisterHealthRoutes(app, d)

	// Stores: Postgres when configured, in-memory for dev.
	var walletStore wallet.Store
	var paymentRepo payments.Repository
	var subStore subscription.Store
	var sink usage.Sink
	if d.DB != nil {
		walletStore = wallet.NewPostgresStore(d.DB)
		paymentRepo = payments.NewPostgresRepository(d.DB)
		subStore = subscription.NewPostgresStore(d.DB)
		sink = usage.NewPostgresSink(d.DB)
	} else {
		walletStore = wallet.NewMemoryStore()
		paymentRepo = payments.NewMemoryRepository()
		subStore = subscription.NewMemoryStore()
		sink = usage.NewLoggerSink(d.Logger)
	}

	var client provider.Client
	if d.Cfg.ProviderShopID != "" {
		client = provider.NewYooKassaClient(provider.Config{
			ShopID:        d.Cfg.ProviderShopID,
			SecretKey:     d.Cfg.ProviderSecretKey,
			WebhookSecret: d.Cfg.ProviderWebhookSecret,
			APIURL:        d.Cfg.ProviderAPIURL,
		}, d.Logger)
	} else {
		client = provider.NewStaticClient()
	}

	allowlist, err := provider.NewIPAllowlist(d.Cfg.WebhookExtraAllowedIPs)
	if err != nil {
		return err
	}

	walletSvc := wallet.NewService(walletStore, d.Logger)
	paymentSvc := payments.NewService(paymentRepo, walletSvc, client, payments.Config{
		Packages:  d.Cfg.TopupPackages,
		Currency:  d.Cfg.Currency,
		CreditTTL: d.Cfg.TopupCreditTTL,
		ReturnURL: d.Cfg.PaymentReturnURL,
	}, d.Logger)
	subSvc := subscription.NewService(subStore, defaultPlans(d.Cfg.Currency), walletSvc, client,
		d.Cfg.PaymentReturnURL, d.Logger)
	processor := webhook.NewProcessor(client, paymentRepo, paymentSvc, walletSvc, subSvc, d.Logger)
	preflight := billing.NewPreflight(walletSvc, paymentSvc, defaultRates(), sink, d.Cfg.HoldTTL, d.Logger)

	walletHandler := wallet.NewHandler(walletSvc, d.Cfg.Currency)
	paymentHandler := payments.NewHandler(paymentSvc)
	subHandler := subscription.NewHandler(subSvc)
	webhookHandler := webhook.NewHandler(processor, client, allowlist, d.Cfg.WebhookEnforceSourceIP, d.Logger)
	billingHandler := billing.NewHandler(preflight, d.Cfg.Currency)

	// The processor posts webhooks without an Idempotency-Key header, so
	// the replay cache applies only to the client-facing API group.
	api := app.Group("/api/v1")
	if d.Cache != nil {
		api.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterWalletRoutes(api, walletHandler)
	RegisterPaymentRoutes(api, paymentHandler, webhookHandler)
	RegisterSubscriptionRoutes(api, subHandler)
	RegisterBillingRoutes(api, billingHandler)
	RegisterWebhookRoutes(app, webhookHandler)

	return nil
}

// defaultPlans is the static catalog until plan CRUD moves behind an admin
// surface.
func defaultPlans(currency string) subscription.PlanResolver {
	return subscription.NewStaticPlanResolver([]subscription.Plan{
		{ID: "pro-month", Name: "Pro", PriceKopeks: 99_000, Currency: currency, Period: subscription.PeriodMonth, IncludedCredit: 50_000},
		{ID: "pro-year", Name: "Pro Annual", PriceKopeks: 990_000, Currency: currency, Period: subscription.PeriodYear, IncludedCredit: 50_000},
	})
}

func defaultRates() billing.RateResolver {
	return billing.NewStaticRateResolver(map[string]billing.Rate{}, billing.Rate{
		InputPerThousand:  50,
		OutputPerThousand: 150,
	})
}
