package main

import (
	"log"
	"strings"
	"time"

	"github.com/Simoh8/eventpng-payments/cache"
	"github.com/Simoh8/eventpng-payments/config"
	"github.com/Simoh8/eventpng-payments/controllers"
	"github.com/Simoh8/eventpng-payments/database"
	"github.com/Simoh8/eventpng-payments/kafka"
	"github.com/Simoh8/eventpng-payments/middleware"
	"github.com/Simoh8/eventpng-payments/models"
	"github.com/Simoh8/eventpng-payments/repository"
	"github.com/Simoh8/eventpng-payments/routes"
	"github.com/Simoh8/eventpng-payments/services"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "eventpng-payments"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[PaymentsService] Failed to load config:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("[PaymentsService] Failed to initialize logger:", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&models.Order{},
		&models.Transaction{},
		&models.EventTicket{},
		&models.TicketPurchase{},
	); err != nil {
		logger.Fatal("Failed to migrate models", zap.Error(err))
	}

	shutdownTracing, err := middleware.InitTracing(serviceName)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer shutdownTracing()
	}

	orderRepo := repository.NewGormOrderRepo(db)
	ticketRepo := repository.NewGormTicketRepo(db)

	gateway := services.NewPaystackGateway(cfg.PaystackSecretKey, cfg.PaystackWebhookSecret, cfg.PaystackBaseURL, cfg.GatewayTimeout)
	stripeGateway := services.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookKey)

	var emailSender services.EmailSender
	if smtp, err := services.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom); err != nil {
		logger.Warn("Ticket emails disabled", zap.Error(err))
	} else {
		emailSender = smtp
	}

	var referenceCache services.ReferenceCache
	if rdb, err := cache.InitRedis(logger); err != nil {
		logger.Warn("Settled-reference cache disabled", zap.Error(err))
	} else {
		referenceCache = cache.NewSettledReferenceCache(rdb, 24*time.Hour, logger)
	}

	producer := kafka.NewPaymentEventProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
	defer producer.Close()

	ledger := services.NewOrderLedger(orderRepo, logger)
	issuer := services.NewTicketIssuer(ticketRepo, orderRepo, emailSender, logger)
	recon := services.NewReconciler(services.ReconcilerConfig{
		Gateway:       gateway,
		Ledger:        ledger,
		Issuer:        issuer,
		Orders:        orderRepo,
		Tickets:       ticketRepo,
		Cache:         referenceCache,
		Publisher:     producer,
		Logger:        logger,
		CallbackURL:   cfg.CallbackURL,
		TaxPercentage: cfg.TaxPercentage,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", middleware.PrometheusHandler())

	pc := &controllers.PaymentController{
		Recon:  recon,
		Stripe: stripeGateway,
		Logger: logger,
	}
	routes.RegisterPaymentRoutes(r, pc, cfg.JWTSecret)

	logger.Info("Payments service running", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
