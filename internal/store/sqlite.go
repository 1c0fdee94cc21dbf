package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	locks *keyLock
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, locks: newKeyLock(64)}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	email          TEXT PRIMARY KEY,
	organization   TEXT NOT NULL,
	domain         TEXT NOT NULL,
	method         TEXT NOT NULL,
	raw_confidence INTEGER NOT NULL,
	generated_at   DATETIME NOT NULL,
	status         TEXT NOT NULL DEFAULT 'unverified',
	score          INTEGER NOT NULL DEFAULT 0,
	verify_method  TEXT NOT NULL DEFAULT '',
	checked_at     DATETIME,
	reason_codes   TEXT NOT NULL DEFAULT '[]',
	provenance     TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS delivery_attempts (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL,
	organization TEXT NOT NULL,
	job_context  TEXT NOT NULL DEFAULT '',
	attempt      INTEGER NOT NULL,
	sent_at      DATETIME NOT NULL,
	outcome      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bounce_events (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL,
	source_ref  TEXT NOT NULL,
	reason      TEXT NOT NULL,
	raw_reason  TEXT NOT NULL DEFAULT '',
	detected_at DATETIME NOT NULL,
	UNIQUE(email, source_ref)
);

CREATE TABLE IF NOT EXISTS retry_tickets (
	organization     TEXT PRIMARY KEY,
	original_email   TEXT NOT NULL,
	tried_emails     TEXT NOT NULL DEFAULT '[]',
	attempts         INTEGER NOT NULL DEFAULT 0,
	next_eligible_at DATETIME NOT NULL,
	status           TEXT NOT NULL DEFAULT 'open',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	name TEXT PRIMARY KEY,
	ts   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_organization ON contacts(organization);
CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_delivery_attempts_email ON delivery_attempts(email);
CREATE INDEX IF NOT EXISTS idx_delivery_attempts_organization ON delivery_attempts(organization);
CREATE INDEX IF NOT EXISTS idx_bounce_events_email ON bounce_events(email);
CREATE INDEX IF NOT EXISTS idx_retry_tickets_status ON retry_tickets(status, next_eligible_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, candidate model.ContactCandidate) (bool, error) {
	email := model.NormalizeEmail(candidate.Email)
	mu := s.locks.lock(email)
	defer mu.Unlock()

	existing, err := s.getContact(ctx, email)
	if err != nil && !eris.Is(err, ErrNotFound) {
		return false, err
	}

	prov := model.Provenance{
		Method:        candidate.Method,
		RawConfidence: candidate.RawConfidence,
		GeneratedAt:   candidate.GeneratedAt,
	}

	if existing != nil {
		provJSON, err := json.Marshal(append(existing.Provenance, prov))
		if err != nil {
			return false, eris.Wrap(err, "sqlite: marshal provenance")
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE contacts SET provenance = ? WHERE email = ?`,
			string(provJSON), email,
		)
		return false, eris.Wrapf(err, "sqlite: append provenance %s", email)
	}

	provJSON, err := json.Marshal([]model.Provenance{prov})
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal provenance")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (email, organization, domain, method, raw_confidence, generated_at, status, provenance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		email, candidate.Organization, candidate.Domain, string(candidate.Method),
		candidate.RawConfidence, candidate.GeneratedAt.UTC(), string(model.StatusUnverified), string(provJSON),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert contact %s", email)
	}
	return true, nil
}

func (s *SQLiteStore) GetContact(ctx context.Context, email string) (*Contact, error) {
	return s.getContact(ctx, model.NormalizeEmail(email))
}

func (s *SQLiteStore) getContact(ctx context.Context, email string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email, organization, domain, method, raw_confidence, generated_at,
		        status, score, verify_method, checked_at, reason_codes, provenance
		 FROM contacts WHERE email = ?`,
		email,
	)
	return scanContact(row)
}

func (s *SQLiteStore) GetStatus(ctx context.Context, email string) (*model.VerificationRecord, error) {
	c, err := s.getContact(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	rec := c.Verification
	return &rec, nil
}

func (s *SQLiteStore) SetVerification(ctx context.Context, email string, rec model.VerificationRecord) error {
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

func (s *SQLiteStore) Blacklist(ctx context.Context, email, reason string) error {
	email = model.NormalizeEmail(email)
	mu := s.locks.lock(email)
	defer mu.Unlock()

	existing, err := s.getContact(ctx, email)
	if eris.Is(err, ErrNotFound) {
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
func (s *SQLiteStore) insertPlaceholder(ctx context.Context, email string) (*Contact, error) {
	candidate := model.ContactCandidate{
		Email:       email,
		Domain:      model.EmailDomain(email),
		GeneratedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (email, organization, domain, method, raw_confidence, generated_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		email, candidate.Organization, candidate.Domain, string(candidate.Method),
		candidate.RawConfidence, candidate.GeneratedAt, string(model.StatusUnverified),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert placeholder %s", email)
	}
	return &Contact{
		Candidate:    candidate,
		Verification: model.VerificationRecord{Email: email, Status: model.StatusUnverified},
	}, nil
}

func (s *SQLiteStore) writeVerification(ctx context.Context, email string, rec model.VerificationRecord) error {
	codesJSON, err := json.Marshal(rec.ReasonCodes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reason codes")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET status = ?, score = ?, verify_method = ?, checked_at = ?, reason_codes = ?
		 WHERE email = ?`,
		string(rec.Status), rec.Score, string(rec.Method), rec.CheckedAt.UTC(), string(codesJSON), email,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update verification %s", email)
	}
	return checkRowsAffected(res, "contact", email)
}

func (s *SQLiteStore) ListAlternates(ctx context.Context, organization string, excluding map[string]bool) ([]model.ContactCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, organization, domain, method, raw_confidence, generated_at
		 FROM contacts
		 WHERE organization = ? AND status != ?
		 ORDER BY raw_confidence DESC, score DESC, email ASC`,
		organization, string(model.StatusBlacklisted),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alternates")
	}
	defer rows.Close()

	var out []model.ContactCandidate
	for rows.Next() {
		var c model.ContactCandidate
		var method string
		if err := rows.Scan(&c.Email, &c.Organization, &c.Domain, &method, &c.RawConfidence, &c.GeneratedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alternate")
		}
		c.Method = model.GenerationMethod(method)
		if excluding[c.Email] {
			continue
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list alternates iterate")
}

func (s *SQLiteStore) RecordBounce(ctx context.Context, event model.BounceEvent) (bool, error) {
	email := model.NormalizeEmail(event.BouncedEmail)
	mu := s.locks.lock(email)
	defer mu.Unlock()

	id := event.ID
	if id == "" {
		id = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bounce_events (id, email, source_ref, reason, raw_reason, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, email, event.SourceRef, string(event.Reason), event.RawReason, event.DetectedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert bounce %s", email)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return false, nil
	}

	existing, err := s.getContact(ctx, email)
	if eris.Is(err, ErrNotFound) {
		// Bounce for an address we never generated: event recorded, no
		// contact to downgrade.
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

func (s *SQLiteStore) AppendAttempt(ctx context.Context, attempt model.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_attempts (id, email, organization, job_context, attempt, sent_at, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), model.NormalizeEmail(attempt.Email), attempt.Organization,
		attempt.JobContext, attempt.Attempt, attempt.SentAt.UTC(), string(attempt.Outcome),
	)
	return eris.Wrapf(err, "sqlite: insert attempt %s", attempt.Email)
}

func (s *SQLiteStore) GetTicket(ctx context.Context, organization string) (*model.RetryTicket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT organization, original_email, tried_emails, attempts, next_eligible_at, status, created_at, updated_at
		 FROM retry_tickets WHERE organization = ?`,
		organization,
	)
	return scanTicket(row)
}

func (s *SQLiteStore) PutTicket(ctx context.Context, ticket *model.RetryTicket) error {
	triedJSON, err := json.Marshal(ticket.TriedEmails)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tried emails")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO retry_tickets (organization, original_email, tried_emails, attempts, next_eligible_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(organization) DO UPDATE SET
		   original_email = excluded.original_email,
		   tried_emails = excluded.tried_emails,
		   attempts = excluded.attempts,
		   next_eligible_at = excluded.next_eligible_at,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		ticket.Organization, ticket.OriginalEmail, string(triedJSON), ticket.Attempts,
		ticket.NextEligibleAt.UTC(), string(ticket.Status), ticket.CreatedAt.UTC(), ticket.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put ticket %s", ticket.Organization)
}

func (s *SQLiteStore) ListDueTickets(ctx context.Context, now time.Time) ([]model.RetryTicket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT organization, original_email, tried_emails, attempts, next_eligible_at, status, created_at, updated_at
		 FROM retry_tickets
		 WHERE status = ? AND next_eligible_at <= ?
		 ORDER BY next_eligible_at ASC`,
		string(model.TicketOpen), now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list due tickets")
	}
	defer rows.Close()

	var tickets []model.RetryTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, eris.Wrap(rows.Err(), "sqlite: list due tickets iterate")
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, name string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT ts FROM checkpoints WHERE name = ?`, name,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: load checkpoint %s", name)
	}
	return ts, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, name string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (name, ts) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET ts = excluded.ts`,
		name, ts.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", name)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanContact(row scannable) (*Contact, error) {
	var c Contact
	var method, verifyMethod, codesJSON, provJSON string
	var checkedAt sql.NullTime

	err := row.Scan(
		&c.Candidate.Email, &c.Candidate.Organization, &c.Candidate.Domain,
		&method, &c.Candidate.RawConfidence, &c.Candidate.GeneratedAt,
		&c.Verification.Status, &c.Verification.Score, &verifyMethod,
		&checkedAt, &codesJSON, &provJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan contact")
	}

	c.Candidate.Method = model.GenerationMethod(method)
	c.Verification.Email = c.Candidate.Email
	c.Verification.Method = model.VerificationMethod(verifyMethod)
	if checkedAt.Valid {
		c.Verification.CheckedAt = checkedAt.Time
	}
	if err := json.Unmarshal([]byte(codesJSON), &c.Verification.ReasonCodes); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal reason codes")
	}
	if err := json.Unmarshal([]byte(provJSON), &c.Provenance); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal provenance")
	}
	return &c, nil
}

func scanTicket(row scannable) (*model.RetryTicket, error) {
	var t model.RetryTicket
	var triedJSON, status string

	err := row.Scan(&t.Organization, &t.OriginalEmail, &triedJSON, &t.Attempts,
		&t.NextEligibleAt, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan ticket")
	}
	t.Status = model.TicketStatus(status)
	if err := json.Unmarshal([]byte(triedJSON), &t.TriedEmails); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tried emails")
	}
	return &t, nil
}
