package push

import (
	"sync"

	"github.com/obialo/tutornotify/internal/metrics"
	"github.com/obialo/tutornotify/internal/models"
	"go.uber.org/zap"
)

// Hub fans notification feed items out to connected clients. Push is a
// latency shortcut over polling, never the source of truth, so a slow
// subscriber loses events instead of blocking the publisher; the next
// poll reconciles.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	bufLen int
	logger *zap.Logger
	closed bool
}

// Subscriber is one connected client's event stream.
type Subscriber struct {
	RecipientID string
	C           chan models.FeedItem
}

func NewHub(bufLen int, logger *zap.Logger) *Hub {
	if bufLen <= 0 {
		bufLen = 16
	}
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		bufLen: bufLen,
		logger: logger,
	}
}

func (h *Hub) Subscribe(recipientID string) *Subscriber {
	sub := &Subscriber{
		RecipientID: recipientID,
		C:           make(chan models.FeedItem, h.bufLen),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.C)
		return sub
	}
	if h.subs[recipientID] == nil {
		h.subs[recipientID] = make(map[*Subscriber]struct{})
	}
	h.subs[recipientID][sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.RecipientID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.RecipientID)
	}
	close(sub.C)
}

// Publish delivers an item to every live subscriber of one recipient.
// Never blocks: a full buffer drops the event.
func (h *Hub) Publish(recipientID string, item models.FeedItem) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[recipientID] {
		select {
		case sub.C <- item:
		default:
			metrics.PushDropped.Inc()
			h.logger.Warn("push subscriber buffer full, dropping event",
				zap.String("recipient_id", recipientID),
				zap.String("notification_id", item.ID))
		}
	}
}

// Close tears down every subscriber stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			close(sub.C)
		}
	}
	h.subs = make(map[string]map[*Subscriber]struct{})
}
