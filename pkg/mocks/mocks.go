// Package mocks provides testify mocks for the engine's collaborator
// interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/dukex/mailflow/pkg/eventbus"
	"github.com/dukex/mailflow/pkg/mail"
	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/queue"
	"github.com/stretchr/testify/mock"
)

// MockJobQueue is a mock implementation of queue.JobQueue.
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job models.ContinuationJob, delay time.Duration) error {
	args := m.Called(ctx, job, delay)

	return args.Error(0)
}

func (m *MockJobQueue) RegisterHandler(handler queue.Handler) {
	m.Called(handler)
}

func (m *MockJobQueue) Start(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockJobQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}

// MockSender is a mock implementation of mail.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg mail.Message) (string, error) {
	args := m.Called(ctx, msg)

	return args.String(0), args.Error(1)
}

// MockEventPublisher is a mock implementation of eventbus.EventPublisher.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}
