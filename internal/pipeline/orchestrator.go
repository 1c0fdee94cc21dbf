// Package pipeline runs the discovery flow end to end: generate candidates
// for each organization, verify them, persist the results, and hand the best
// deliverable address to the send collaborator.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/generator"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/verifier"
)

// Sender delivers an outreach message to an accepted contact.
type Sender interface {
	Send(ctx context.Context, email, organization, jobContext string) error
}

// OutcomeHandler observes every recorded delivery attempt. The retry
// coordinator plugs in here.
type OutcomeHandler interface {
	HandleOutcome(ctx context.Context, attempt model.DeliveryAttempt) error
}

// Summary reports what a pipeline run accomplished.
type Summary struct {
	Organizations int
	Generated     int
	Verified      int
	Accepted      int
	Sent          int
	Requeued      int
	Failed        []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSender attaches the send collaborator. Without one the pipeline stops
// after persisting verification results.
func WithSender(s Sender) Option {
	return func(o *Orchestrator) { o.sender = s }
}

// WithOutcomeHandler attaches an observer for recorded delivery attempts.
func WithOutcomeHandler(h OutcomeHandler) Option {
	return func(o *Orchestrator) { o.outcomes = h }
}

// Orchestrator fans organizations out across a bounded worker pool.
type Orchestrator struct {
	gen      *generator.Generator
	ver      *verifier.Verifier
	store    store.Store
	sender   Sender
	outcomes OutcomeHandler

	workers      int
	orgTimeout   time.Duration
	requeueLimit int
	now          func() time.Time
}

// New creates an Orchestrator from configuration.
func New(cfg config.PipelineConfig, gen *generator.Generator, ver *verifier.Verifier, st store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:          gen,
		ver:          ver,
		store:        st,
		workers:      cfg.Workers,
		orgTimeout:   cfg.OrgTimeout,
		requeueLimit: cfg.RequeueLimit,
		now:          time.Now,
	}
	if o.workers <= 0 {
		o.workers = 8
	}
	if o.orgTimeout <= 0 {
		o.orgTimeout = 30 * time.Second
	}
	if o.requeueLimit < 0 {
		o.requeueLimit = 0
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type orgOutcome struct {
	generated int
	verified  int
	accepted  int
	sent      int
}

// Run processes every organization from the source. Per-organization failures
// and panics are contained: a panicking organization is requeued once, then
// recorded in Summary.Failed. Run returns an error only when the source fails
// or the context is canceled.
func (o *Orchestrator) Run(ctx context.Context, src Source) (*Summary, error) {
	orgs, err := src.Organizations()
	if err != nil {
		return nil, err
	}

	summary := &Summary{Organizations: len(orgs)}
	var mu sync.Mutex
	requeues := make(map[string]int)

	pending := orgs
	for len(pending) > 0 {
		var next []Organization

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.workers)

		for _, org := range pending {
			org := org
			g.Go(func() error {
				defer func() {
					r := recover()
					if r == nil {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					if requeues[org.Name] < o.requeueLimit {
						requeues[org.Name]++
						summary.Requeued++
						next = append(next, org)
						zap.L().Warn("pipeline: worker panicked, requeueing",
							zap.String("organization", org.Name),
							zap.Any("panic", r))
					} else {
						summary.Failed = append(summary.Failed, org.Name)
						zap.L().Error("pipeline: worker panicked, giving up",
							zap.String("organization", org.Name),
							zap.Any("panic", r))
					}
				}()

				octx, cancel := context.WithTimeout(gctx, o.orgTimeout)
				defer cancel()

				out, err := o.processOrg(octx, org)

				mu.Lock()
				summary.Generated += out.generated
				summary.Verified += out.verified
				summary.Accepted += out.accepted
				summary.Sent += out.sent
				if err != nil {
					summary.Failed = append(summary.Failed, org.Name)
				}
				mu.Unlock()

				if err != nil {
					zap.L().Warn("pipeline: organization failed",
						zap.String("organization", org.Name),
						zap.Error(err))
				}
				return gctx.Err()
			})
		}

		if err := g.Wait(); err != nil {
			return summary, eris.Wrap(err, "pipeline: run")
		}
		pending = next
	}

	zap.L().Info("pipeline: run complete",
		zap.Int("organizations", summary.Organizations),
		zap.Int("generated", summary.Generated),
		zap.Int("accepted", summary.Accepted),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", len(summary.Failed)))
	return summary, nil
}

func (o *Orchestrator) processOrg(ctx context.Context, org Organization) (orgOutcome, error) {
	var out orgOutcome

	candidates, err := o.gen.Generate(ctx, org.Name, org.DomainHint, org.KnownNames)
	if err != nil {
		return out, err
	}
	if len(candidates) == 0 {
		return out, eris.Errorf("pipeline: no candidates for %q", org.Name)
	}
	out.generated = len(candidates)

	for _, cand := range candidates {
		if _, err := o.store.Upsert(ctx, cand); err != nil {
			return out, err
		}
		rec := o.ver.Verify(ctx, cand)
		if err := o.store.SetVerification(ctx, cand.Email, rec); err != nil {
			return out, err
		}
		out.verified++
	}

	accepted, err := o.pickAccepted(ctx, candidates)
	if err != nil {
		return out, err
	}
	if accepted == "" {
		zap.L().Info("pipeline: no deliverable contact",
			zap.String("organization", org.Name))
		return out, nil
	}
	out.accepted = 1

	if o.sender == nil {
		return out, nil
	}

	attempt := model.DeliveryAttempt{
		Email:        accepted,
		Organization: org.Name,
		Attempt:      1,
		SentAt:       o.now().UTC(),
		Outcome:      model.OutcomeSent,
	}
	if err := o.sender.Send(ctx, accepted, org.Name, ""); err != nil {
		attempt.Outcome = model.OutcomeFailed
		zap.L().Warn("pipeline: send failed",
			zap.String("organization", org.Name),
			zap.String("email", accepted),
			zap.Error(err))
	} else {
		out.sent = 1
	}

	if err := o.store.AppendAttempt(ctx, attempt); err != nil {
		return out, err
	}
	if o.outcomes != nil {
		if err := o.outcomes.HandleOutcome(ctx, attempt); err != nil {
			zap.L().Warn("pipeline: outcome handler failed",
				zap.String("organization", org.Name),
				zap.Error(err))
		}
	}
	return out, nil
}

// pickAccepted walks the ranked candidates and returns the first whose stored
// status is Valid, falling back to the first Unknown. The stored status is
// consulted rather than the fresh verdict so blacklist stickiness and
// authority ordering are respected.
func (o *Orchestrator) pickAccepted(ctx context.Context, candidates []model.ContactCandidate) (string, error) {
	fallback := ""
	for _, cand := range candidates {
		rec, err := o.store.GetStatus(ctx, cand.Email)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				continue
			}
			return "", err
		}
		switch rec.Status {
		case model.StatusValid:
			return cand.Email, nil
		case model.StatusUnknown:
			if fallback == "" {
				fallback = cand.Email
			}
		}
	}
	return fallback, nil
}
