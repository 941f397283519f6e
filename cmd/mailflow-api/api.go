// Package main provides the Mailflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/mailflow/pkg/campaign"
	"github.com/dukex/mailflow/pkg/eventbus"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/dukex/mailflow/pkg/queue"
	"github.com/dukex/mailflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	jobQueue    queue.JobQueue
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	jobQueue queue.JobQueue,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		jobQueue:    jobQueue,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	campaignService := campaign.NewService(a.logger, a.persistence, a.jobQueue, a.eventBus)

	handlers := web.NewAPIHandlers(a.logger, campaignService, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Mailflow API")
	})

	handlers.RegisterRoutes(app)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
