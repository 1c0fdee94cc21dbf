// Package retry tracks per-organization retry tickets and dispatches
// alternate contacts under cap and cooldown constraints.
package retry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Store is the subset of the contact store the coordinator reads and writes.
type Store interface {
	GetTicket(ctx context.Context, organization string) (*model.RetryTicket, error)
	PutTicket(ctx context.Context, ticket *model.RetryTicket) error
	ListDueTickets(ctx context.Context, now time.Time) ([]model.RetryTicket, error)
	ListAlternates(ctx context.Context, organization string, excluding map[string]bool) ([]model.ContactCandidate, error)
	GetStatus(ctx context.Context, email string) (*model.VerificationRecord, error)
}

// Sender is the external send collaborator.
type Sender interface {
	Send(ctx context.Context, email, organization, jobContext string) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns the retry ticket lifecycle.
type Coordinator struct {
	store       Store
	sender      Sender
	maxAttempts int
	cooldown    time.Duration
	now         func() time.Time
}

// New creates a Coordinator.
func New(cfg config.RetryConfig, st Store, sender Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       st,
		sender:      sender,
		maxAttempts: cfg.MaxPerOrganization,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 2
	}
	if c.cooldown <= 0 {
		c.cooldown = 72 * time.Hour
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleOutcome advances the organization's ticket for one delivery
// outcome. A Sent outcome resolves an open ticket; a bounce or failure
// opens or updates one, scheduling the next attempt after the cooldown or
// exhausting the ticket when the cap or the alternate pool is spent.
func (c *Coordinator) HandleOutcome(ctx context.Context, attempt model.DeliveryAttempt) error {
	switch attempt.Outcome {
	case model.OutcomeSent:
		return c.resolve(ctx, attempt.Organization)
	case model.OutcomeBounced, model.OutcomeFailed:
		return c.recordFailure(ctx, attempt)
	default:
		return nil
	}
}

func (c *Coordinator) resolve(ctx context.Context, organization string) error {
	ticket, err := c.store.GetTicket(ctx, organization)
	if eris.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ticket.Status != model.TicketOpen {
		return nil
	}

	ticket.Status = model.TicketResolved
	ticket.UpdatedAt = c.now().UTC()
	zap.L().Info("retry ticket resolved", zap.String("organization", organization))
	return c.store.PutTicket(ctx, ticket)
}

func (c *Coordinator) recordFailure(ctx context.Context, attempt model.DeliveryAttempt) error {
	now := c.now().UTC()

	ticket, err := c.store.GetTicket(ctx, attempt.Organization)
	if eris.Is(err, store.ErrNotFound) {
		ticket = &model.RetryTicket{
			Organization:  attempt.Organization,
			OriginalEmail: model.NormalizeEmail(attempt.Email),
			Status:        model.TicketOpen,
			CreatedAt:     now,
		}
		err = nil
	}
	if err != nil {
		return err
	}

	ticket.MarkTried(attempt.Email)
	ticket.UpdatedAt = now

	// A resolved organization that fails again gets a fresh chance under
	// the same ticket; an exhausted one stays exhausted.
	if ticket.Status == model.TicketResolved {
		ticket.Status = model.TicketOpen
	}
	if ticket.Status == model.TicketExhausted {
		return c.store.PutTicket(ctx, ticket)
	}

	if ticket.Attempts >= c.maxAttempts {
		ticket.Status = model.TicketExhausted
		zap.L().Info("retry ticket exhausted",
			zap.String("organization", ticket.Organization),
			zap.String("cause", "attempt cap"))
		return c.store.PutTicket(ctx, ticket)
	}

	alt, err := c.pickAlternate(ctx, ticket)
	if err != nil {
		return err
	}
	if alt == nil {
		ticket.Status = model.TicketExhausted
		zap.L().Info("retry ticket exhausted",
			zap.String("organization", ticket.Organization),
			zap.String("cause", "no untried alternates"))
		return c.store.PutTicket(ctx, ticket)
	}

	ticket.NextEligibleAt = now.Add(c.cooldown)
	zap.L().Info("retry scheduled",
		zap.String("organization", ticket.Organization),
		zap.Int("attempts_used", ticket.Attempts),
		zap.Time("eligible_at", ticket.NextEligibleAt))
	return c.store.PutTicket(ctx, ticket)
}

// Sweep dispatches every due open ticket. The alternate is chosen at
// dispatch time so verification changes during the cooldown are honored.
// Each dispatch consumes one attempt and pushes NextEligibleAt forward by
// the cooldown, so a ticket is never dispatched twice within one cooldown
// window and total dispatches stay under the cap even when no delivery
// outcome ever comes back. Returns the number of retry instructions emitted.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	now := c.now().UTC()
	due, err := c.store.ListDueTickets(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		ticket := &due[i]

		if ticket.Attempts >= c.maxAttempts {
			ticket.Status = model.TicketExhausted
			ticket.UpdatedAt = now
			zap.L().Info("retry ticket exhausted",
				zap.String("organization", ticket.Organization),
				zap.String("cause", "attempt cap"))
			if err := c.store.PutTicket(ctx, ticket); err != nil {
				return sent, err
			}
			continue
		}

		alt, err := c.pickAlternate(ctx, ticket)
		if err != nil {
			return sent, err
		}
		if alt == nil {
			ticket.Status = model.TicketExhausted
			ticket.UpdatedAt = now
			if err := c.store.PutTicket(ctx, ticket); err != nil {
				return sent, err
			}
			continue
		}

		if err := c.sender.Send(ctx, alt.Email, ticket.Organization, ""); err != nil {
			// Leave the ticket due; the next sweep retries the dispatch.
			zap.L().Warn("retry dispatch failed",
				zap.String("organization", ticket.Organization),
				zap.String("email", alt.Email),
				zap.Error(err))
			continue
		}

		ticket.Attempts++
		ticket.MarkTried(alt.Email)
		ticket.NextEligibleAt = now.Add(c.cooldown)
		ticket.UpdatedAt = now
		if err := c.store.PutTicket(ctx, ticket); err != nil {
			return sent, err
		}
		sent++
		zap.L().Info("retry dispatched",
			zap.String("organization", ticket.Organization),
			zap.String("email", alt.Email),
			zap.Int("attempt", ticket.Attempts))
	}
	return sent, nil
}

// pickAlternate returns the highest-ranked untried contact whose current
// verification allows a retry, or nil when none qualifies.
func (c *Coordinator) pickAlternate(ctx context.Context, ticket *model.RetryTicket) (*model.ContactCandidate, error) {
	excluding := make(map[string]bool, len(ticket.TriedEmails)+1)
	excluding[ticket.OriginalEmail] = true
	for _, e := range ticket.TriedEmails {
		excluding[e] = true
	}

	alternates, err := c.store.ListAlternates(ctx, ticket.Organization, excluding)
	if err != nil {
		return nil, err
	}

	for i := range alternates {
		rec, err := c.store.GetStatus(ctx, alternates[i].Email)
		if eris.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Status == model.StatusValid || rec.Status == model.StatusUnknown {
			return &alternates[i], nil
		}
	}
	return nil, nil
}
