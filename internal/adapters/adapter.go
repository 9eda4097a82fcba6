package adapters

import (
	"context"
	"fmt"

	"github.com/obialo/tutornotify/internal/models"
)

// Adapter delivers one channel job to its transport. Adapters are
// opaque at-least-once sinks: retry policy beyond the circuit breaker
// belongs to the transport, not to this service.
type Adapter interface {
	Supports(channel models.Channel) bool
	Send(ctx context.Context, job models.ChannelJob) error
}

// Manager routes a job to the first adapter supporting its channel.
type Manager struct {
	adapters []Adapter
}

func NewManager(adapters ...Adapter) *Manager {
	return &Manager{adapters: adapters}
}

func (m *Manager) Send(ctx context.Context, job models.ChannelJob) error {
	for _, a := range m.adapters {
		if a.Supports(job.Channel) {
			return a.Send(ctx, job)
		}
	}
	return fmt.Errorf("no adapter available for channel %s", job.Channel)
}
