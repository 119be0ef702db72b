package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/storefront-checkout/internal/address"
	"github.com/vasiliy-maslov/storefront-checkout/internal/catalog"
	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/config"
	"github.com/vasiliy-maslov/storefront-checkout/internal/coupon"
	"github.com/vasiliy-maslov/storefront-checkout/internal/db"
	"github.com/vasiliy-maslov/storefront-checkout/internal/events"
	checkoutHttp "github.com/vasiliy-maslov/storefront-checkout/internal/handler/http"
	"github.com/vasiliy-maslov/storefront-checkout/internal/metrics"
	"github.com/vasiliy-maslov/storefront-checkout/internal/order"
	"github.com/vasiliy-maslov/storefront-checkout/internal/payment"
	"github.com/vasiliy-maslov/storefront-checkout/internal/seller"
	"github.com/vasiliy-maslov/storefront-checkout/internal/session"
	"github.com/vasiliy-maslov/storefront-checkout/internal/shipping"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg.App)
	log.Info().Msg("Checkout service starting...")

	ctx := context.Background()

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	dbConn, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to redis")
	}
	defer redisClient.Close()

	instantRate, err := decimal.NewFromString(cfg.Checkout.InstantTransferDiscount)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid instant transfer discount rate")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	orderRepository := order.NewRepository(dbConn.Pool)
	addressRepository := address.NewRepository(dbConn.Pool)
	couponRepository := coupon.NewRepository(dbConn.Pool)

	var publisher checkout.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.OrderTopic, cfg.Kafka.Brokers...)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, order events are disabled")
	}

	gateway := payment.NewStripeGateway(payment.Config{
		SecretKey:  cfg.Stripe.SecretKey,
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	})
	rates := shipping.NewShippoProvider(shipping.Config{
		APIKey:   cfg.Shippo.APIKey,
		BaseURL:  cfg.Shippo.BaseURL,
		Country:  cfg.Shippo.Country,
		Currency: cfg.Checkout.Currency,
		Timeout:  cfg.Shippo.Timeout,
		Origin: shipping.Origin{
			Name:       cfg.Shippo.OriginName,
			Street:     cfg.Shippo.OriginStreet,
			City:       cfg.Shippo.OriginCity,
			State:      cfg.Shippo.OriginState,
			PostalCode: cfg.Shippo.OriginZip,
			Country:    cfg.Shippo.OriginCountry,
		},
	})

	pricing := checkout.NewPricingEngine(map[checkout.PaymentMethod]decimal.Decimal{
		checkout.PaymentMethodInstantTransfer: instantRate,
	})
	dispatcher := checkout.NewPaymentDispatcher(gateway, orderRepository, cfg.Checkout.PaymentTimeout, checkoutMetrics)
	placer := checkout.NewOrderPlacer(checkout.PlacerDeps{
		Orders:     orderRepository,
		Addresses:  addressRepository,
		Coupons:    couponRepository,
		Dispatcher: dispatcher,
		Pricing:    pricing,
		Events:     publisher,
		Locker:     session.NewRedisLocker(redisClient, cfg.Checkout.PlacementLockTTL),
		Recorder:   checkoutMetrics,
		References: func() string { return ulid.Make().String() },
	})

	checkoutSvc := checkout.NewService(checkout.ServiceDeps{
		Sessions:  session.NewRedisStore(redisClient, cfg.Redis.SessionTTL),
		Catalog:   catalog.NewRepository(dbConn.Pool),
		Addresses: addressRepository,
		Coupons:   checkout.NewCouponValidator(couponRepository),
		Referrals: checkout.NewReferralVerifier(seller.NewRepository(dbConn.Pool)),
		Shipping:  checkout.NewShippingQuoteBinder(rates),
		Pricing:   pricing,
		Placer:    placer,
		Currency:  cfg.Checkout.Currency,
	})
	orderSvc := order.NewService(orderRepository)

	checkoutHandler := checkoutHttp.NewCheckoutHandler(checkoutSvc)
	orderHandler := checkoutHttp.NewOrderHandler(orderSvc, addressRepository)
	webhookHandler := checkoutHttp.NewWebhookHandler(payment.NewWebhookParser(cfg.Stripe.WebhookSecret), orderSvc)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(checkoutMetrics.Middleware)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Handle("/metrics", metrics.Handler(registry))

	checkoutHandler.RegisterRoutes(router)
	orderHandler.RegisterRoutes(router)
	webhookHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Checkout service stopped gracefully")
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", cfg.Name).Logger()
}
