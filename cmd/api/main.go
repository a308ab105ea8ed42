package main

// @title CloseFlow API
// @version 1.0
// @description Appointment verification and settlement pipeline for the CloseFlow marketplace.

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/closeflow/closeflow/config"
	"github.com/closeflow/closeflow/pkg/container"
	custommiddleware "github.com/closeflow/closeflow/pkg/middleware"
	"github.com/closeflow/closeflow/pkg/models"
)

func main() {
	cfg := config.Load()
	log.Printf("configuration loaded (environment: %s)", cfg.APIEnvironment)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Printf("failed to initialize Sentry: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	c, err := container.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer c.Close()

	e := echo.New()
	e.HideBanner = true

	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	// Webhooks get their own generous budget; the scheduler and the
	// payment provider both burst on retries.
	webhookRateLimiter := custommiddleware.NewRateLimiter(300, 50)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(ec echo.Context, v middleware.RequestLoggerValues) error {
			c.Logger.Info("request",
				"method", ec.Request().Method,
				"uri", v.URI,
				"status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}

	e.Use(c.Metrics.Middleware())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowCredentials: true,
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
	}))
	e.Use(middleware.Gzip())
	e.Use(middleware.Secure())

	e.GET("/", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]any{
			"name":        "CloseFlow API",
			"status":      "running",
			"environment": cfg.APIEnvironment,
			"timestamp":   time.Now().Unix(),
		})
	})

	e.GET("/health", func(ec echo.Context) error {
		ctx, cancel := context.WithTimeout(ec.Request().Context(), 2*time.Second)
		defer cancel()

		if err := c.DB.Ping(ctx); err != nil {
			return ec.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":   "unhealthy",
				"database": "down",
			})
		}
		if err := c.Cache.Redis.Ping(ctx).Err(); err != nil {
			return ec.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"cache":  "down",
			})
		}
		return ec.JSON(http.StatusOK, map[string]any{
			"status":   "healthy",
			"database": "up",
			"cache":    "up",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")

	v1.GET("/ping", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"message": "pong"})
	}, globalRateLimiter.Middleware())

	// Inbound webhooks authenticate by signature (Stripe) or shared
	// secret at the network edge (scheduler), not by JWT. They carry
	// their own rate budget instead of the global one.
	webhooks := v1.Group("/webhooks", webhookRateLimiter.Middleware())
	{
		webhooks.POST("/booking", c.BookingHandler.HandleWebhook)
		webhooks.POST("/stripe", c.StripeHandler.HandleWebhook)
	}

	protected := v1.Group("", globalRateLimiter.Middleware(), custommiddleware.Auth(cfg.JWTSecret))
	{
		protected.GET("/appointments", c.AppointmentHandler.List)
		protected.POST("/disputes", c.DisputeHandler.Create,
			custommiddleware.RequireRole(models.RoleBusiness))
		protected.POST("/ratings", c.RatingHandler.Create,
			custommiddleware.RequireRole(models.RoleBusiness))
	}

	if cfg.ReconcileCronEnabled {
		if err := c.CronManager.SetupJobs(); err != nil {
			log.Fatalf("failed to setup cron jobs: %v", err)
		}
		c.CronManager.Start()
	}

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	c.Logger.Info("starting API server", "address", address)

	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	c.Logger.Info("shutting down server")

	if cfg.ReconcileCronEnabled {
		c.CronManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
}
