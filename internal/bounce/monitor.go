// Package bounce polls an inbox feed for delivery-failure notifications,
// classifies them, and applies status downgrades through the contact store.
package bounce

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/mailbox"
)

// checkpointName keys the monitor's last-seen timestamp in the store.
const checkpointName = "bounce-monitor"

// Phase is the monitor's position in its polling cycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseParsing  Phase = "parsing"
	PhaseApplying Phase = "applying"
)

// Store is the subset of the contact store the monitor writes through.
type Store interface {
	RecordBounce(ctx context.Context, event model.BounceEvent) (bool, error)
	LoadCheckpoint(ctx context.Context, name string) (time.Time, error)
	SaveCheckpoint(ctx context.Context, name string, ts time.Time) error
}

// Handler is notified once per newly applied bounce event, after the store
// downgrade. Used to feed the retry coordinator.
type Handler func(ctx context.Context, event model.BounceEvent)

// Option configures a Monitor.
type Option func(*Monitor)

// WithHandler registers a post-apply event handler.
func WithHandler(h Handler) Option {
	return func(m *Monitor) { m.handler = h }
}

// Monitor runs the bounce polling cycle.
type Monitor struct {
	feed     mailbox.Client
	store    Store
	lookback time.Duration
	interval time.Duration
	handler  Handler

	mu    sync.Mutex
	phase Phase
}

// New creates a Monitor.
func New(cfg config.BounceConfig, feed mailbox.Client, st Store, opts ...Option) *Monitor {
	m := &Monitor{
		feed:     feed,
		store:    st,
		lookback: cfg.Lookback,
		interval: cfg.PollInterval,
		phase:    PhaseIdle,
	}
	if m.lookback <= 0 {
		m.lookback = 168 * time.Hour
	}
	if m.interval <= 0 {
		m.interval = 15 * time.Minute
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Phase reports the monitor's current cycle phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Monitor) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// Cycle runs one full poll: fetch messages since the checkpoint, classify,
// apply downgrades, then advance the checkpoint. The checkpoint only moves
// after every message in the batch has been applied, so a crash mid-cycle
// replays the batch; RecordBounce idempotency absorbs the replay.
func (m *Monitor) Cycle(ctx context.Context) (applied int, err error) {
	defer m.setPhase(PhaseIdle)

	m.setPhase(PhaseFetching)
	since, err := m.store.LoadCheckpoint(ctx, checkpointName)
	if eris.Is(err, store.ErrNotFound) {
		since = time.Now().UTC().Add(-m.lookback)
		err = nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "bounce: load checkpoint")
	}

	messages, err := resilience.DoVal(ctx, resilience.DefaultPolicy(), func(ctx context.Context) ([]mailbox.Message, error) {
		return m.feed.ListMessages(ctx, since)
	})
	if err != nil {
		// Feed trouble is never fatal; the next cycle retries from the
		// same checkpoint.
		return 0, eris.Wrap(err, "bounce: fetch messages")
	}
	if len(messages) == 0 {
		return 0, nil
	}

	m.setPhase(PhaseParsing)
	var events []model.BounceEvent
	latest := since
	for _, msg := range messages {
		if msg.ReceivedAt.After(latest) {
			latest = msg.ReceivedAt
		}
		if !IsBounceNotification(msg) {
			continue
		}
		event, err := Classify(msg)
		if err != nil {
			zap.L().Warn("dropping unparseable bounce message",
				zap.String("message_id", msg.ID),
				zap.String("subject", msg.Subject),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}

	m.setPhase(PhaseApplying)
	for _, event := range events {
		ok, err := m.store.RecordBounce(ctx, event)
		if err != nil {
			return applied, eris.Wrapf(err, "bounce: apply event for %s", event.BouncedEmail)
		}
		if !ok {
			continue
		}
		applied++
		zap.L().Info("bounce applied",
			zap.String("email", event.BouncedEmail),
			zap.String("reason", string(event.Reason)))
		if m.handler != nil {
			m.handler(ctx, event)
		}
	}

	if latest.After(since) {
		if err := m.store.SaveCheckpoint(ctx, checkpointName, latest); err != nil {
			return applied, eris.Wrap(err, "bounce: save checkpoint")
		}
	}
	return applied, nil
}

// Run polls on the configured interval until ctx is cancelled. Cycle errors
// are logged and never stop the loop.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if n, err := m.Cycle(ctx); err != nil {
			zap.L().Warn("bounce cycle failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("bounce cycle complete", zap.Int("applied", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
