package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/brandbridge/brandbridge/app/repository"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/billing"
	"github.com/brandbridge/brandbridge/internal/pkg/cache"
	"github.com/brandbridge/brandbridge/internal/pkg/campaigns"
	"github.com/brandbridge/brandbridge/internal/pkg/config"
	"github.com/brandbridge/brandbridge/internal/pkg/database"
	"github.com/brandbridge/brandbridge/internal/pkg/env"
	"github.com/brandbridge/brandbridge/internal/pkg/identity"
	"github.com/brandbridge/brandbridge/internal/pkg/jobqueue"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/mail"
	"github.com/brandbridge/brandbridge/internal/pkg/notify"
	"github.com/brandbridge/brandbridge/internal/pkg/profile"
	"github.com/brandbridge/brandbridge/internal/pkg/router"
)

// Application holds everything main has to shut down.
type Application struct {
	App    *fiber.App
	Jobs   *jobqueue.Manager
	Redis  *redis.Client
	DB     *gorm.DB
	ReadDB *gorm.DB
	Config *config.Config
}

func main() {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	application, err := NewApplication(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}

	application.Jobs.Start()

	go func() {
		if err := application.App.Listen(cfg.Addr()); err != nil {
			log.Errorf("[HTTP] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	application.Shutdown(15 * time.Second)
}

// NewApplication builds every client once and hands them to the router.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := database.Open(cfg.Database, cfg.Database.Service)
	if err != nil {
		return nil, err
	}
	readDB, err := database.Open(cfg.Database, cfg.Database.Restricted)
	if err != nil {
		return nil, err
	}
	if cfg.IsDev() && env.GetEnv("DB_AUTO_MIGRATE", "") == "true" {
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
	}

	redisClient, err := cache.NewClient(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	limiterStorage, err := cache.NewLimiterStorage(cfg.Cache)
	if err != nil {
		return nil, err
	}

	verifier, err := identity.NewJWTVerifier(cfg.Auth)
	if err != nil {
		return nil, apperror.Configuration(err.Error())
	}

	factory := repository.NewFactory(db, readDB)
	writer, reader := factory.Writer(), factory.Reader()

	resolver := profile.NewResolver(writer.User, writer.Profile)
	ledgerSvc := ledger.NewService(writer.Ledger, resolver)

	publisher := notify.NewRedisPublisher(redisClient)
	notifications := notify.NewService(writer.Notification, publisher)

	jobs := jobqueue.NewManager(
		jobqueue.NewQueue(redisClient, cfg.JobQueue.Workers),
		ledgerSvc,
		writer.User,
		mail.NewSMTPMailer(cfg.Mail),
		cfg.Ledger.ReconcileInterval,
	)

	billingSvc := billing.NewService(billing.Config{
		Currency:      cfg.Stripe.Currency,
		PublicBaseURL: cfg.App.PublicBaseURL,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, billing.NewRepository(db), billing.NewStripeProcessor(cfg.Stripe.SecretKey), ledgerSvc, notifications, jobs)

	campaignSvc := campaigns.NewService(writer.Campaign, reader.Campaign, ledgerSvc, notifications, cfg.Ledger.CampaignCost)

	app := fiber.New(fiber.Config{
		AppName:      "BrandBridge",
		ErrorHandler: apperror.ErrorHandler,
		BodyLimit:    1 << 20,
		ReadTimeout:  30 * time.Second,
	})
	app.Use(recover.New(), logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.App.PublicBaseURL,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
	}))

	router.InstallRouter(app, &router.Dependencies{
		Config:         cfg,
		Verifier:       verifier,
		Users:          writer.User,
		Ledger:         ledgerSvc,
		Profiles:       resolver,
		Billing:        billingSvc,
		Notifications:  notifications,
		Campaigns:      campaignSvc,
		Subscriber:     publisher,
		Jobs:           jobs.GetQueue(),
		LimiterStorage: limiterStorage,
	})

	return &Application{
		App:    app,
		Jobs:   jobs,
		Redis:  redisClient,
		DB:     db,
		ReadDB: readDB,
		Config: cfg,
	}, nil
}

// Shutdown drains HTTP, stops the workers and closes the clients.
func (a *Application) Shutdown(timeout time.Duration) {
	if err := a.App.ShutdownWithTimeout(timeout); err != nil {
		log.Warnf("[HTTP] Shutdown: %v", err)
	}
	a.Jobs.Stop()
	if err := a.Redis.Close(); err != nil {
		log.Warnf("[Cache] Close: %v", err)
	}
	for _, db := range []*gorm.DB{a.DB, a.ReadDB} {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	log.Info("Shutdown complete")
}
