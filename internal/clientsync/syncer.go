package clientsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/obialo/tutornotify/internal/models"
	"go.uber.org/zap"
)

// Config tunes one sync session. Zero values fall back to the defaults
// the web client ships with.
type Config struct {
	PollInterval time.Duration // poll cadence and shared countdown tick
	PollTimeout  time.Duration // per-poll deadline
	StaleAfter   int           // consecutive poll failures before Stale
	GateLeadTime time.Duration // action link opens this long before the event
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3
	}
	if c.GateLeadTime <= 0 {
		c.GateLeadTime = 30 * time.Minute
	}
}

// Gate is the time-gated action link state for one notification.
type Gate struct {
	Enabled   bool
	Remaining time.Duration // until the link opens; 0 once enabled
}

// Toast is a one-shot side effect the embedding UI should surface. The
// syncer guarantees at most one per notification id per session.
type Toast struct {
	NotificationID string
	Title          string
	Level          models.Level
}

// Snapshot is an immutable view of the merged feed. Items are ordered
// newest first; Gates holds link state for items carrying an event time,
// computed against the shared clock tick.
type Snapshot struct {
	Items       []models.FeedItem
	UnreadCount int
	Gates       map[string]Gate
	Stale       bool
}

type pollResult struct {
	items []models.FeedItem
	err   error
}

// Syncer merges the polling feed and the push feed into one live view.
// All mutable state is owned by a single event-loop goroutine: merges,
// countdown recomputes and client commands are serialized there, which is
// what makes the merge rule (compare version, take newer) sufficient
// without any locking.
type Syncer struct {
	api    FeedAPI
	cfg    Config
	push   <-chan models.FeedItem
	logger *zap.Logger
	now    func() time.Time

	cmds    chan func()
	polls   chan pollResult
	toasts  chan Toast
	updates chan Snapshot

	done      chan struct{}
	loopEnded chan struct{}
	closeOnce sync.Once

	// Loop-owned. Never touched outside run().
	entries      map[string]models.FeedItem
	toasted      map[string]struct{}
	highWater    int64
	pollInFlight bool
	failures     int
	lastTick     time.Time
}

// NewSyncer builds a session-scoped syncer. push carries server events;
// a nil channel disables push and leaves polling as the only source.
// Call Run exactly once, then Close to tear the session down.
func NewSyncer(api FeedAPI, push <-chan models.FeedItem, cfg Config, logger *zap.Logger) *Syncer {
	cfg.applyDefaults()
	return &Syncer{
		api:       api,
		cfg:       cfg,
		push:      push,
		logger:    logger,
		now:       time.Now,
		cmds:      make(chan func()),
		polls:     make(chan pollResult),
		toasts:    make(chan Toast, 32),
		updates:   make(chan Snapshot, 1),
		done:      make(chan struct{}),
		loopEnded: make(chan struct{}),
		entries:   make(map[string]models.FeedItem),
		toasted:   make(map[string]struct{}),
	}
}

// Toasts is the side-effect stream. Closed on teardown.
func (s *Syncer) Toasts() <-chan Toast { return s.toasts }

// Updates delivers the latest snapshot after every state change. Only
// the most recent snapshot is retained; a slow consumer never blocks
// the loop.
func (s *Syncer) Updates() <-chan Snapshot { return s.updates }

// Run starts the event loop and blocks until Close. An immediate first
// poll fills the view without waiting for the first tick.
func (s *Syncer) Run() {
	defer close(s.loopEnded)
	defer close(s.toasts)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.lastTick = s.now()
	s.startPoll()

	for {
		select {
		case <-s.done:
			return
		case t := <-ticker.C:
			s.lastTick = t
			s.startPoll()
			s.emit()
		case res := <-s.polls:
			s.pollInFlight = false
			s.handlePoll(res)
		case item, ok := <-s.push:
			if !ok {
				// Push source went away; polling remains the
				// source of truth.
				s.push = nil
				continue
			}
			if s.merge(item) {
				s.emit()
			}
		case cmd := <-s.cmds:
			cmd()
		}
	}
}

// Close tears the session down atomically: the loop stops, the ticker
// and push listener are released, and the toast stream closes. Safe to
// call more than once.
func (s *Syncer) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.loopEnded
}

// Snapshot returns the current merged view. Returns the zero Snapshot
// after Close.
func (s *Syncer) Snapshot() Snapshot {
	out := make(chan Snapshot, 1)
	select {
	case s.cmds <- func() { out <- s.snapshot() }:
		return <-out
	case <-s.loopEnded:
		return Snapshot{}
	}
}

// MarkAsRead optimistically marks a notification read: the local view
// updates immediately and the server call runs in the background. A
// server failure is not rolled back; the next poll reconciles.
func (s *Syncer) MarkAsRead(notificationID string) {
	s.do(func() {
		entry, ok := s.entries[notificationID]
		if !ok || entry.ReadAt != nil {
			return
		}
		now := s.now()
		entry.ReadAt = &now
		s.entries[notificationID] = entry
		s.emit()
		s.fireAndForget("mark read", notificationID, s.api.MarkRead)
	})
}

// Delete optimistically removes a notification from the local view and
// asks the server to hide it. Same reconcile-on-poll error policy as
// MarkAsRead.
func (s *Syncer) Delete(notificationID string) {
	s.do(func() {
		if _, ok := s.entries[notificationID]; !ok {
			return
		}
		delete(s.entries, notificationID)
		s.emit()
		s.fireAndForget("delete", notificationID, s.api.Delete)
	})
}

// MarkAllRead optimistically marks the whole view read.
func (s *Syncer) MarkAllRead() {
	s.do(func() {
		now := s.now()
		for id, entry := range s.entries {
			if entry.ReadAt == nil {
				entry.ReadAt = &now
				s.entries[id] = entry
			}
		}
		s.emit()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PollTimeout)
			defer cancel()
			if err := s.api.ReadAll(ctx); err != nil {
				s.logger.Warn("read-all server call failed", zap.Error(err))
			}
		}()
	})
}

func (s *Syncer) do(cmd func()) {
	select {
	case s.cmds <- cmd:
	case <-s.loopEnded:
	}
}

func (s *Syncer) fireAndForget(op, notificationID string, call func(context.Context, string) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PollTimeout)
		defer cancel()
		if err := call(ctx, notificationID); err != nil {
			s.logger.Warn("optimistic write failed, next poll reconciles",
				zap.String("op", op),
				zap.String("notification_id", notificationID),
				zap.Error(err))
		}
	}()
}

// startPoll launches a poll unless one is already outstanding. At most
// one in-flight poll exists at any time; a slow server skips ticks
// instead of stacking requests.
func (s *Syncer) startPoll() {
	if s.pollInFlight {
		return
	}
	s.pollInFlight = true
	since := s.highWater
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PollTimeout)
		defer cancel()
		items, err := s.api.Fetch(ctx, since)
		select {
		case s.polls <- pollResult{items: items, err: err}:
		case <-s.done:
		}
	}()
}

func (s *Syncer) handlePoll(res pollResult) {
	if res.err != nil {
		s.failures++
		s.logger.Warn("poll failed", zap.Int("consecutive", s.failures), zap.Error(res.err))
		s.emit()
		return
	}
	s.failures = 0
	changed := false
	for _, item := range res.items {
		if s.merge(item) {
			changed = true
		}
	}
	if changed {
		s.emit()
	}
}

// merge applies one incoming entry under the newer-version-wins rule.
// Commutative and idempotent, so poll and push arrivals can interleave
// in any order and converge to the same view.
func (s *Syncer) merge(item models.FeedItem) bool {
	if item.Version > s.highWater {
		s.highWater = item.Version
	}
	existing, ok := s.entries[item.ID]
	if ok && existing.Version >= item.Version {
		return false
	}
	s.entries[item.ID] = item
	s.maybeToast(item)
	return true
}

// maybeToast surfaces newly discovered unread notifications, at most
// once per notification id for the life of the session.
func (s *Syncer) maybeToast(item models.FeedItem) {
	if item.ReadAt != nil {
		return
	}
	if _, done := s.toasted[item.ID]; done {
		return
	}
	s.toasted[item.ID] = struct{}{}
	select {
	case s.toasts <- Toast{NotificationID: item.ID, Title: item.Title, Level: item.Level}:
	default:
		// A full buffer still counts as toasted; dedup wins over delivery.
	}
}

func (s *Syncer) snapshot() Snapshot {
	items := make([]models.FeedItem, 0, len(s.entries))
	unread := 0
	gates := make(map[string]Gate)
	for _, entry := range s.entries {
		items = append(items, entry)
		if entry.ReadAt == nil {
			unread++
		}
		if eventAt, ok := entry.EventAt(); ok {
			gates[entry.ID] = gateAt(eventAt, s.lastTick, s.cfg.GateLeadTime)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return Snapshot{
		Items:       items,
		UnreadCount: unread,
		Gates:       gates,
		Stale:       s.failures >= s.cfg.StaleAfter,
	}
}

func (s *Syncer) emit() {
	snap := s.snapshot()
	// Latest snapshot wins; drop the stale one if nobody consumed it.
	select {
	case s.updates <- snap:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- snap:
		default:
		}
	}
}

// gateAt computes link state against the shared clock. The link opens
// exactly at eventAt minus lead, not one tick later.
func gateAt(eventAt, at time.Time, lead time.Duration) Gate {
	opensAt := eventAt.Add(-lead)
	if !at.Before(opensAt) {
		return Gate{Enabled: true}
	}
	return Gate{Enabled: false, Remaining: opensAt.Sub(at)}
}
