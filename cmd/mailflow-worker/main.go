package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/mailflow/pkg/cmd"
	"github.com/dukex/mailflow/pkg/executor"
	"github.com/dukex/mailflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "mailflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to advance campaign recipients through flows",
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
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Concurrent job workers",
				Value:   0,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.StringFlag{
				Name:     "tracking-base-url",
				Usage:    "Public base URL tracking pixel links point at",
				Required: true,
				Sources:  cli.EnvVars("TRACKING_BASE_URL"),
			},
			&cli.StringFlag{
				Name:     "smtp-host",
				Usage:    "SMTP relay host",
				Required: true,
				Sources:  cli.EnvVars("SMTP_HOST"),
			},
			&cli.IntFlag{
				Name:    "smtp-port",
				Usage:   "SMTP relay port",
				Value:   587,
				Sources: cli.EnvVars("SMTP_PORT"),
			},
			&cli.StringFlag{
				Name:    "smtp-username",
				Usage:   "SMTP relay username",
				Sources: cli.EnvVars("SMTP_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "smtp-password",
				Usage:   "SMTP relay password",
				Sources: cli.EnvVars("SMTP_PASSWORD"),
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

			logger := log.WithModule("mailflow-worker")

			logger.InfoContext(ctx, "Initializing Mailflow Worker")

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

			jobQueue, err := cmd.NewJobQueue(runCtx, logger, command.String("queue-url"), command.Int("workers"))
			if err != nil {
				return err
			}

			eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), "mailflow-worker")
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			sender := cmd.NewMailer(logger,
				command.String("smtp-host"),
				command.Int("smtp-port"),
				command.String("smtp-username"),
				command.String("smtp-password"),
			)

			exec := executor.NewExecutor(
				logger,
				persistence,
				jobQueue,
				sender,
				eventBus,
				command.String("tracking-base-url"),
			)

			jobQueue.RegisterHandler(exec.Process)

			err = jobQueue.Start(runCtx)
			if err != nil {
				return err
			}

			logger.InfoContext(runCtx, "Worker running", "worker_id", exec.WorkerID())

			<-runCtx.Done()

			logger.Info("Shutting down worker")

			return jobQueue.Close()
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
