package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	locks   *keyLock
	closeFn func()
}

// NewPostgres creates a PostgresStore from a connection string.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, locks: newKeyLock(64), closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, locks: newKeyLock(64)}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	email          TEXT PRIMARY KEY,
	organization   TEXT NOT NULL,
	domain         TEXT NOT NULL,
	method         TEXT NOT NULL,
	raw_confidence INTEGER NOT NULL,
	generated_at   TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL DEFAULT 'unverified',
	score          INTEGER NOT NULL DEFAULT 0,
	verify_method  TEXT NOT NULL DEFAULT '',
	checked_at     TIMESTAMPTZ,
	reason_codes   JSONB NOT NULL DEFAULT '[]',
	provenance     JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS delivery_attempts (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email        TEXT NOT NULL,
	organization TEXT NOT NULL,
	job_context  TEXT NOT NULL DEFAULT '',
	attempt      INTEGER NOT NULL,
	sent_at      TIMESTAMPTZ NOT NULL,
	outcome      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bounce_events (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email       TEXT NOT NULL,
	source_ref  TEXT NOT NULL,
	reason      TEXT NOT NULL,
	raw_reason  TEXT NOT NULL DEFAULT '',
	detected_at TIMESTAMPTZ NOT NULL,
	UNIQUE(email, source_ref)
);

CREATE TABLE IF NOT EXISTS retry_tickets (
	organization     TEXT PRIMARY KEY,
	original_email   TEXT NOT NULL,
	tried_emails     JSONB NOT NULL DEFAULT '[]',
	attempts         INTEGER NOT NULL DEFAULT 0,
	next_eligible_at TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL DEFAULT 'open',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	name TEXT PRIMARY KEY,
	ts   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_organization ON contacts(organization);
CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_delivery_attempts_email ON delivery_attempts(email);
CREATE INDEX IF NOT EXISTS idx_delivery_attempts_organization ON delivery_attempts(organization);
CREATE INDEX IF NOT EXISTS idx_bounce_events_email ON bounce_events(email);
CREATE INDEX IF NOT EXISTS idx_retry_tickets_status ON retry_tickets(status, next_eligible_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Upsert(ctx context.Context, candidate model.ContactCandidate) (bool, error) {
	email := model.NormalizeEmail(candidate.Email)
	mu := s.locks.lock(email)
	defer mu.Unlock()

	prov := model.Provenance{
		Method:        candidate.Method,
		RawConfidence: candidate.RawConfidence,
		GeneratedAt:   candidate.GeneratedAt,
	}
	provJSON, err := json.Marshal([]model.Provenance{prov})
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal provenance")
	}
	oneJSON, err := json.Marshal(prov)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal provenance")
	}

	var inserted bool
	err = s.pool.QueryRow(ctx,
		`INSERT INTO contacts (email, organization, domain, method, raw_confidence, generated_at, status, provenance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (email) DO UPDATE SET provenance = contacts.provenance || $9::jsonb
		 RETURNING (xmax = 0)`,
		email, candidate.Organization, candidate.Domain, string(candidate.Method),
		candidate.RawConfidence, candidate.GeneratedAt.UTC(), string(model.StatusUnverified),
		provJSON, oneJSON,
	).Scan(&inserted)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert contact %s", email)
	}
	return inserted, nil
}

func (s *PostgresStore) GetContact(ctx context.Context, email string) (*Contact, error) {
	return s.getContact(ctx, model.NormalizeEmail(email))
}

func (s *PostgresStore) getContact(ctx context.Context, email string) (*Contact, error) {
	var c Contact
	var method, verifyMethod string
	var checkedAt *time.Time
	var codesJSON, provJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT email, organization, domain, method, raw_confidence, generated_at,
		        status, score, verify_method, checked_at, reason_codes, provenance
		 FROM contacts WHERE email = $1`,
		email,
	).Scan(
		&c.Candidate.Email, &c.Candidate.Organization, &c.Candidate.Domain,
		&method, &c.Candidate.RawConfidence, &c.Candidate.GeneratedAt,
		&c.Verification.Status, &c.Verification.Score, &verifyMethod,
		&checkedAt, &codesJSON, &provJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contact %s", email)
	}

	c.Candidate.Method = model.GenerationMethod(method)
	c.Verification.Email = c.Candidate.Email
	c.Verification.Method = model.VerificationMethod(verifyMethod)
	if checkedAt != nil {
		c.Verification.CheckedAt = *checkedAt
	}
	if err := json.Unmarshal(codesJSON, &c.Verification.ReasonCodes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal reason codes")
	}
	if err := json.Unmarshal(provJSON, &c.Provenance); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal provenance")
	}
	return &c, nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, email string) (*model.VerificationRecord, error) {
	c, err := s.getContact(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	rec := c.Verification
	return &rec, nil
}

func (s *PostgresStore) SetVerification(ctx context.Context, email string, rec model.VerificationRecord) error {
	email = model.NormalizeEmail(email)
	mu := s.locks.lock(email)
	defer mu.Unlock()

	existing, err := s.getContact(ctx, email)
	if err != nil {
		return err
	}
	if !rec.Supersedes(existing.Verification) {
		return nil
	}
	rec.Email = email
	return s.writeVerification(ctx, email, rec)
}

func (s *PostgresStore) Blacklist(ctx context.Context, email, reason string) error {
	email = model.NormalizeEmail(email)
	mu := s.locks.lock(email)
	defer mu.Unlock()

	existing, err := s.getContact(ctx, email)
	if errors.Is(err, ErrNotFound) {
		// The blacklist is authoritative even for addresses discovery
		// never produced, so seed a minimal record before marking it.
		existing, err = s.insertPlaceholder(ctx, email)
	}
	if err != nil {
		return err
	}

	rec := existing.Verification
	if rec.Status == model.StatusBlacklisted {
		if reason == "" || rec.HasReason(reason) {
			return nil
		}
		rec.ReasonCodes = append(rec.ReasonCodes, reason)
		return s.writeVerification(ctx, email, rec)
	}

	rec.Status = model.StatusBlacklisted
	rec.Score = 0
	rec.CheckedAt = time.Now().UTC()
	if rec.Method == "" {
		rec.Method = model.VerifyHeuristicOnly
	}
	if reason != "" && !rec.HasReason(reason) {
		rec.ReasonCodes = append(rec.ReasonCodes, reason)
	}
	return s.writeVerification(ctx, email, rec)
}

// insertPlaceholder creates a contact row for an address no discovery
// run has produced. Caller holds the per-email lock.
func (s *PostgresStore) insertPlaceholder(ctx context.Context, email string) (*Contact, error) {
	candidate := model.ContactCandidate{
		Email:       email,
		Domain:      model.EmailDomain(email),
		GeneratedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (email, organization, domain, method, raw_confidence, generated_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		email, candidate.Organization, candidate.Domain, string(candidate.Method),
		candidate.RawConfidence, candidate.GeneratedAt, string(model.StatusUnverified),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert placeholder %s", email)
	}
	return &Contact{
		Candidate:    candidate,
		Verification: model.VerificationRecord{Email: email, Status: model.StatusUnverified},
	}, nil
}

func (s *PostgresStore) writeVerification(ctx context.Context, email string, rec model.VerificationRecord) error {
	codesJSON, err := json.Marshal(rec.ReasonCodes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal reason codes")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET status = $1, score = $2, verify_method = $3, checked_at = $4, reason_codes = $5
		 WHERE email = $6`,
		string(rec.Status), rec.Score, string(rec.Method), rec.CheckedAt.UTC(), codesJSON, email,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update verification %s", email)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contact %s", email)
	}
	return nil
}

func (s *PostgresStore) ListAlternates(ctx context.Context, organization string, excluding map[string]bool) ([]model.ContactCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email, organization, domain, method, raw_confidence, generated_at
		 FROM contacts
		 WHERE organization = $1 AND status != $2
		 ORDER BY raw_confidence DESC, score DESC, email ASC`,
		organization, string(model.StatusBlacklisted),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alternates")
	}
	defer rows.Close()

	var out []model.ContactCandidate
	for rows.Next() {
		var c model.ContactCandidate
		var method string
		if err := rows.Scan(&c.Email, &c.Organization, &c.Domain, &method, &c.RawConfidence, &c.GeneratedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alternate")
		}
		c.Method = model.GenerationMethod(method)
		if excluding[c.Email] {
			continue
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list alternates iterate")
}

func (s *PostgresStore) RecordBounce(ctx context.Context, event model.BounceEvent) (bool, error) {
	email := model.NormalizeEmail(event.BouncedEmail)
	mu := s.locks.lock(email)
	defer mu.Unlock()

	id := event.ID
	if id == "" {
		id = uuid.New().String()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bounce_events (id, email, source_ref, reason, raw_reason, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (email, source_ref) DO NOTHING`,
		id, email, event.SourceRef, string(event.Reason), event.RawReason, event.DetectedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert bounce %s", email)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	existing, err := s.getContact(ctx, email)
	if eris.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	rec := existing.Verification
	applyBounce(&rec, event, time.Now().UTC())
	if err := s.writeVerification(ctx, email, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) AppendAttempt(ctx context.Context, attempt model.DeliveryAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO delivery_attempts (id, email, organization, job_context, attempt, sent_at, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), model.NormalizeEmail(attempt.Email), attempt.Organization,
		attempt.JobContext, attempt.Attempt, attempt.SentAt.UTC(), string(attempt.Outcome),
	)
	return eris.Wrapf(err, "postgres: insert attempt %s", attempt.Email)
}

func (s *PostgresStore) GetTicket(ctx context.Context, organization string) (*model.RetryTicket, error) {
	var t model.RetryTicket
	var triedJSON []byte
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT organization, original_email, tried_emails, attempts, next_eligible_at, status, created_at, updated_at
		 FROM retry_tickets WHERE organization = $1`,
		organization,
	).Scan(&t.Organization, &t.OriginalEmail, &triedJSON, &t.Attempts,
		&t.NextEligibleAt, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ticket %s", organization)
	}
	t.Status = model.TicketStatus(status)
	if err := json.Unmarshal(triedJSON, &t.TriedEmails); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal tried emails")
	}
	return &t, nil
}

func (s *PostgresStore) PutTicket(ctx context.Context, ticket *model.RetryTicket) error {
	triedJSON, err := json.Marshal(ticket.TriedEmails)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tried emails")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO retry_tickets (organization, original_email, tried_emails, attempts, next_eligible_at, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (organization) DO UPDATE SET
		   original_email = $2, tried_emails = $3, attempts = $4,
		   next_eligible_at = $5, status = $6, updated_at = $8`,
		ticket.Organization, ticket.OriginalEmail, triedJSON, ticket.Attempts,
		ticket.NextEligibleAt.UTC(), string(ticket.Status), ticket.CreatedAt.UTC(), ticket.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put ticket %s", ticket.Organization)
}

func (s *PostgresStore) ListDueTickets(ctx context.Context, now time.Time) ([]model.RetryTicket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT organization, original_email, tried_emails, attempts, next_eligible_at, status, created_at, updated_at
		 FROM retry_tickets
		 WHERE status = $1 AND next_eligible_at <= $2
		 ORDER BY next_eligible_at ASC`,
		string(model.TicketOpen), now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due tickets")
	}
	defer rows.Close()

	var tickets []model.RetryTicket
	for rows.Next() {
		var t model.RetryTicket
		var triedJSON []byte
		var status string
		if err := rows.Scan(&t.Organization, &t.OriginalEmail, &triedJSON, &t.Attempts,
			&t.NextEligibleAt, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ticket")
		}
		t.Status = model.TicketStatus(status)
		if err := json.Unmarshal(triedJSON, &t.TriedEmails); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal tried emails")
		}
		tickets = append(tickets, t)
	}
	return tickets, eris.Wrap(rows.Err(), "postgres: list due tickets iterate")
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, name string) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT ts FROM checkpoints WHERE name = $1`, name,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "postgres: load checkpoint %s", name)
	}
	return ts, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, name string, ts time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (name, ts) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET ts = $2`,
		name, ts.UTC(),
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s", name)
}
