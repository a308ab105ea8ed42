package container

import (
	"github.com/closeflow/closeflow/config"
	"github.com/closeflow/closeflow/pkg/api/handlers"
	"github.com/closeflow/closeflow/pkg/appointments"
	"github.com/closeflow/closeflow/pkg/booking"
	"github.com/closeflow/closeflow/pkg/cache"
	"github.com/closeflow/closeflow/pkg/database"
	"github.com/closeflow/closeflow/pkg/disputes"
	"github.com/closeflow/closeflow/pkg/fraud"
	"github.com/closeflow/closeflow/pkg/jobs"
	"github.com/closeflow/closeflow/pkg/logger"
	"github.com/closeflow/closeflow/pkg/matcher"
	"github.com/closeflow/closeflow/pkg/metrics"
	"github.com/closeflow/closeflow/pkg/notifications"
	"github.com/closeflow/closeflow/pkg/ratings"
	"github.com/closeflow/closeflow/pkg/settlement"
	"github.com/closeflow/closeflow/pkg/tier"
)

// Container holds all application dependencies
type Container struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics

	// Infrastructure
	DB    *database.Client
	Cache *cache.Client

	// Services
	AppointmentService  *appointments.Service
	MatcherService      *matcher.Service
	FraudService        *fraud.Service
	NotificationService *notifications.Service
	TierService         *tier.Service
	SettlementService   *settlement.Service
	BookingService      *booking.Service
	DisputeService      *disputes.Service
	RatingService       *ratings.Service

	// Webhook dispatch
	StripeDispatcher *settlement.WebhookDispatcher

	// Jobs
	CronManager *jobs.CronManager

	// Handlers
	BookingHandler     *handlers.BookingHandler
	StripeHandler      *handlers.StripeHandler
	DisputeHandler     *handlers.DisputeHandler
	RatingHandler      *handlers.RatingHandler
	AppointmentHandler *handlers.AppointmentHandler
}

// New creates and initializes all application dependencies
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger.New(cfg.LogLevel),
		Metrics: metrics.New(),
	}

	if err := c.initInfrastructure(); err != nil {
		return nil, err
	}

	c.initServices(settlement.NewStripeProcessor(cfg.StripeSecretKey))
	c.initHandlers()

	c.Logger.Info("container initialized",
		"environment", cfg.APIEnvironment,
		"database", "connected",
		"cache", "connected")

	return c, nil
}

func (c *Container) initInfrastructure() error {
	var err error

	c.DB, err = database.NewClient(c.Config.DatabaseURL)
	if err != nil {
		c.Logger.Error("failed to connect to database", "error", err)
		return err
	}

	c.Cache, err = cache.NewClient(c.Config.RedisURL)
	if err != nil {
		c.Logger.Error("failed to connect to cache", "error", err)
		return err
	}

	return nil
}

// initServices wires the domain services. The payment processor is passed
// in so tests and alternate providers can swap it without touching the
// rest of the graph.
func (c *Container) initServices(processor settlement.Processor) {
	db := c.DB.DB

	c.AppointmentService = appointments.NewService(db)
	c.MatcherService = matcher.NewService(db)
	c.FraudService = fraud.NewService(db)
	c.NotificationService = notifications.NewService(
		db,
		c.Config.EmailFrom,
		c.Config.EmailFromName,
		c.Config.SendGridAPIKey,
	)
	c.TierService = tier.NewService(db, c.NotificationService, c.Metrics)
	c.SettlementService = settlement.NewService(
		db,
		c.Cache,
		processor,
		c.AppointmentService,
		c.TierService,
		c.NotificationService,
		c.Metrics,
		c.Logger.With("component", "settlement"),
	)
	c.BookingService = booking.NewService(
		c.MatcherService,
		c.FraudService,
		c.AppointmentService,
		c.SettlementService,
		c.Metrics,
		c.Logger.With("component", "booking"),
	)
	c.DisputeService = disputes.NewService(db, c.AppointmentService, c.FraudService, c.TierService)
	c.RatingService = ratings.NewService(db, c.TierService)

	c.StripeDispatcher = settlement.NewWebhookDispatcher(
		c.SettlementService,
		c.Config.StripeWebhookSecret,
	)

	c.CronManager = jobs.NewCronManager(
		c.SettlementService,
		c.Logger.With("component", "jobs"),
	)
}

func (c *Container) initHandlers() {
	c.BookingHandler = handlers.NewBookingHandler(c.BookingService, c.Metrics)
	c.StripeHandler = handlers.NewStripeHandler(c.StripeDispatcher, c.Metrics)
	c.DisputeHandler = handlers.NewDisputeHandler(c.DisputeService, c.Metrics)
	c.RatingHandler = handlers.NewRatingHandler(c.RatingService)
	c.AppointmentHandler = handlers.NewAppointmentHandler(c.AppointmentService)
}

// Close closes all resources (database, cache connections)
func (c *Container) Close() error {
	c.Logger.Info("shutting down container")

	if err := c.DB.Close(); err != nil {
		c.Logger.Error("failed to close database", "error", err)
		return err
	}
	if err := c.Cache.Close(); err != nil {
		c.Logger.Error("failed to close cache", "error", err)
		return err
	}

	return nil
}
