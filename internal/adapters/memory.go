package adapters

import (
	"context"
	"sync"

	"github.com/obialo/tutornotify/internal/models"
)

// Memory records jobs instead of sending them. Used in tests and local
// runs without gateways.
type Memory struct {
	mu       sync.Mutex
	channel  models.Channel
	sent     []models.ChannelJob
	failWith error
}

func NewMemory(channel models.Channel) *Memory {
	return &Memory{channel: channel}
}

// FailWith makes every subsequent Send return err.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) Supports(channel models.Channel) bool {
	return channel == m.channel
}

func (m *Memory) Send(_ context.Context, job models.ChannelJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.sent = append(m.sent, job)
	return nil
}

// Sent returns a copy of everything delivered so far.
func (m *Memory) Sent() []models.ChannelJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ChannelJob, len(m.sent))
	copy(out, m.sent)
	return out
}
