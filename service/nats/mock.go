package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	published    []*BlockMessage
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		published: make([]*BlockMessage, 0),
	}
}

// PublishBlock records the message and returns any configured error.
func (m *MockPublisher) PublishBlock(ctx context.Context, msg *BlockMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.published = append(m.published, msg)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublished returns all published messages.
func (m *MockPublisher) GetPublished() []*BlockMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*BlockMessage, len(m.published))
	copy(out, m.published)
	return out
}

// SetPublishError configures the mock to return an error on PublishBlock.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
