// Package store owns the durable, deduplicated contact record: every email
// ever discovered, its verification status, delivery history, retry tickets,
// and the authoritative blacklist. All other components read and write
// contact state exclusively through this package.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// ErrNotFound is returned when a contact, ticket, or checkpoint does not exist.
var ErrNotFound = eris.New("store: not found")

// Contact is a stored contact: the winning candidate fields plus the current
// verification verdict and the append-only provenance of every generator
// that produced the same address.
type Contact struct {
	Candidate    model.ContactCandidate   `json:"candidate"`
	Verification model.VerificationRecord `json:"verification"`
	Provenance   []model.Provenance       `json:"provenance"`
}

// Store is the persistence contract shared by the SQLite and Postgres
// backends. Writes to the same normalized email are serialized so that
// authority ordering and blacklist stickiness are applied atomically.
type Store interface {
	// Upsert inserts a candidate, deduplicating by normalized email.
	// Returns true when the contact is new; an existing contact gets the
	// candidate appended to its provenance instead of being overwritten.
	Upsert(ctx context.Context, candidate model.ContactCandidate) (bool, error)

	// GetContact returns the full stored contact, or ErrNotFound.
	GetContact(ctx context.Context, email string) (*Contact, error)

	// GetStatus returns the current verification record, or ErrNotFound.
	GetStatus(ctx context.Context, email string) (*model.VerificationRecord, error)

	// SetVerification applies rec if it supersedes the stored record per
	// the authority ordering (blacklisted > external-api > dns-mx >
	// heuristic-only; unverified always loses). Lower-authority writes are
	// silently dropped.
	SetVerification(ctx context.Context, email string, rec model.VerificationRecord) error

	// Blacklist permanently excludes an address. Idempotent and sticky.
	Blacklist(ctx context.Context, email, reason string) error

	// ListAlternates returns non-blacklisted contacts for the organization,
	// excluding the given normalized emails, ordered by raw confidence then
	// verification score descending.
	ListAlternates(ctx context.Context, organization string, excluding map[string]bool) ([]model.ContactCandidate, error)

	// RecordBounce appends a bounce event and applies the status downgrade
	// exactly once per (email, sourceRef) pair. Returns false when the
	// event was already applied.
	RecordBounce(ctx context.Context, event model.BounceEvent) (bool, error)

	// AppendAttempt records a delivery attempt for audit and retry logic.
	AppendAttempt(ctx context.Context, attempt model.DeliveryAttempt) error

	// Retry tickets, keyed by organization.
	GetTicket(ctx context.Context, organization string) (*model.RetryTicket, error)
	PutTicket(ctx context.Context, ticket *model.RetryTicket) error
	ListDueTickets(ctx context.Context, now time.Time) ([]model.RetryTicket, error)

	// Bounce monitor checkpoint (last-seen message timestamp).
	LoadCheckpoint(ctx context.Context, name string) (time.Time, error)
	SaveCheckpoint(ctx context.Context, name string, ts time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// bounceDowngradeScore is the ceiling applied to a contact's score after a
// confirmed bounce.
const bounceDowngradeScore = 10

// applyBounce mutates a verification record with the consequences of a
// bounce event. Shared by both backends so the downgrade semantics cannot
// drift: a permanent reason blacklists the address, anything else marks it
// invalid, and the score is clamped down. A blacklisted record only gains
// the reason code.
func applyBounce(rec *model.VerificationRecord, event model.BounceEvent, now time.Time) {
	code := "bounced-" + string(event.Reason)
	if !rec.HasReason(code) {
		rec.ReasonCodes = append(rec.ReasonCodes, code)
	}

	if rec.Status == model.StatusBlacklisted {
		return
	}

	if event.Reason.Permanent() {
		rec.Status = model.StatusBlacklisted
	} else {
		rec.Status = model.StatusInvalid
	}
	if rec.Score > bounceDowngradeScore {
		rec.Score = bounceDowngradeScore
	}
	if rec.Method == "" {
		rec.Method = model.VerifyHeuristicOnly
	}
	rec.CheckedAt = now
}
