// Package cmd provides common initialization functions for the command-line
// binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/mailflow/pkg/channels/gochannel"
	"github.com/dukex/mailflow/pkg/channels/kafka"
	"github.com/dukex/mailflow/pkg/eventbus"
	"github.com/dukex/mailflow/pkg/mail"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/dukex/mailflow/pkg/persistence/memory"
	"github.com/dukex/mailflow/pkg/persistence/postgresql"
	"github.com/dukex/mailflow/pkg/queue"
	goredis "github.com/redis/go-redis/v9"
)

// NewPersistence selects the storage engine from the database URL scheme:
// postgres:// (or postgresql://) for PostgreSQL, anything else falls back to
// the in-memory store meant for development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		logger.WarnContext(ctx, "No database URL configured, using in-memory persistence")

		return memory.NewPersistence(), nil
	}
}

// NewJobQueue selects the queue backend from the queue URL scheme: redis://
// for Redis, anything else the in-process queue.
func NewJobQueue(ctx context.Context, logger *slog.Logger, queueURL string, workers int) (queue.JobQueue, error) {
	switch parseProvider(queueURL) {
	case "redis", "rediss":
		opts, err := goredis.ParseURL(queueURL)
		if err != nil {
			return nil, fmt.Errorf("invalid queue URL: %w", err)
		}

		client := goredis.NewClient(opts)

		err = client.Ping(ctx).Err()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		return queue.NewRedisQueue(client, logger, "mailflow:", workers), nil
	default:
		logger.WarnContext(ctx, "No queue URL configured, using in-memory job queue")

		return queue.NewMemoryQueue(logger, workers), nil
	}
}

// NewEventBus creates the notification event bus: "kafka" for the durable
// channel, anything else an in-process channel.
func NewEventBus(logger *slog.Logger, provider, serviceName string) (eventbus.EventBus, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	}
}

// NewMailer builds the SMTP sender from connection settings.
func NewMailer(logger *slog.Logger, host string, port int, username, password string) mail.Sender {
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
	}, logger)
}

func parseProvider(rawURL string) string {
	scheme, _, found := strings.Cut(rawURL, "://")
	if !found {
		return ""
	}

	return scheme
}
