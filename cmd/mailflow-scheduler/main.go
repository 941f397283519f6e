package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/mailflow/pkg/campaign"
	"github.com/dukex/mailflow/pkg/cmd"
	"github.com/dukex/mailflow/pkg/log"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "mailflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Start scheduled campaigns when their time arrives",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Job queue connection URL (redis:// or empty for in-memory)",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka or empty for in-process)",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the due-campaign sweep",
				Value:   "* * * * *",
				Sources: cli.EnvVars("SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("mailflow-scheduler")

			logger.InfoContext(ctx, "Initializing Mailflow Scheduler")

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persistence, err := cmd.NewPersistence(runCtx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.Background())
				if err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			jobQueue, err := cmd.NewJobQueue(runCtx, logger, command.String("queue-url"), 0)
			if err != nil {
				return err
			}

			eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), "mailflow-scheduler")
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			service := campaign.NewService(logger, persistence, jobQueue, eventBus)

			c := cron.New()

			_, err = c.AddFunc(command.String("schedule"), func() {
				started, err := service.StartDue(runCtx, time.Now().UTC())
				if err != nil {
					logger.ErrorContext(runCtx, "Due-campaign sweep failed", "error", err)

					return
				}

				if started > 0 {
					logger.InfoContext(runCtx, "Started due campaigns", "count", started)
				}
			})
			if err != nil {
				return err
			}

			c.Start()

			logger.InfoContext(runCtx, "Scheduler running", "schedule", command.String("schedule"))

			<-runCtx.Done()

			logger.Info("Shutting down scheduler")

			<-c.Stop().Done()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
