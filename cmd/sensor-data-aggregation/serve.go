package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/sensor-data-aggregation/internal/api/http"
	"github.com/i474232898/sensor-data-aggregation/internal/logger"
	"github.com/i474232898/sensor-data-aggregation/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic vendor sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.ComponentLogger("server")
		c := buildComponents(cfg)
		if len(c.jobs) == 0 {
			log.Warnw("no vendor credentials configured; serving stored data only")
		}

		// Scheduler that periodically fetches and stores data.
		sched := scheduler.New(c.service, c.jobs, scheduler.Options{
			Interval: cfg.FetchInterval,
			Lookback: cfg.SyncLookback,
			Observer: c.metrics,
			Logger:   logger.ComponentLogger("scheduler"),
		})
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()

		app := fiber.New(fiber.Config{
			AppName:               "sensor-data-aggregation",
			DisableStartupMessage: true,
			ReadTimeout:           10 * time.Second,
			// Retrievals triggered over HTTP can split into many vendor calls.
			WriteTimeout: 5 * time.Minute,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				// Centralized error response
				code := fiber.StatusInternalServerError
				if e, ok := err.(*fiber.Error); ok {
					code = e.Code
				}
				return c.Status(code).JSON(fiber.Map{
					"error":   true,
					"message": err.Error(),
				})
			},
		})

		// Global middleware
		app.Use(fiberlogger.New())
		app.Use(recover.New())

		app.Get("/health", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"status":  "ok",
				"service": "sensor-data-aggregation",
			})
		})

		httpapi.RegisterRoutes(app, c.service, c.metrics)

		go func() {
			log.Infow("listening", "port", cfg.Port, "vendors", c.service.Vendors())
			if err := app.Listen(":" + cfg.Port); err != nil {
				log.Errorw("fiber server stopped", logger.FieldError, err)
			}
		}()

		// Wait for termination signal
		<-cmd.Context().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Errorw("error during shutdown", logger.FieldError, err)
		}
		return nil
	},
}
