package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

var contactColumns = []string{
	"email", "organization", "domain", "method", "raw_confidence", "generated_at",
	"status", "score", "verify_method", "checked_at", "reason_codes", "provenance",
}

func mockContactRow(mock pgxmock.PgxPoolIface, email string, status model.VerificationStatus, score int, method model.VerificationMethod) *pgxmock.Rows {
	now := time.Now().UTC()
	checked := now
	return mock.NewRows(contactColumns).AddRow(
		email, "Acme", model.EmailDomain(email), string(model.MethodPattern), 40, now,
		string(status), score, string(method), &checked, []byte(`[]`), []byte(`[]`),
	)
}

func TestPostgres_GetContact_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT email, organization, domain`).
		WithArgs("nobody@nowhere.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetContact(context.Background(), "nobody@nowhere.com")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Upsert_ReturnsInsertedFlag(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO contacts`).
		WithArgs("hr@acme.com", "Acme", "acme.com", string(model.MethodPattern),
			40, pgxmock.AnyArg(), string(model.StatusUnverified), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"inserted"}).AddRow(true))

	created, err := s.Upsert(context.Background(), model.ContactCandidate{
		Email:         "HR@Acme.com",
		Organization:  "Acme",
		Domain:        "acme.com",
		Method:        model.MethodPattern,
		RawConfidence: 40,
		GeneratedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetVerification_LowerAuthorityDropped(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Stored verdict came from the external API; the heuristic write must
	// read the row and then do nothing.
	mock.ExpectQuery(`SELECT email, organization, domain`).
		WithArgs("hr@acme.com").
		WillReturnRows(mockContactRow(mock, "hr@acme.com", model.StatusValid, 90, model.VerifyExternalAPI))

	err := s.SetVerification(context.Background(), "hr@acme.com", model.VerificationRecord{
		Status: model.StatusUnknown, Score: 30, Method: model.VerifyHeuristicOnly,
		CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetVerification_HigherAuthorityApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT email, organization, domain`).
		WithArgs("hr@acme.com").
		WillReturnRows(mockContactRow(mock, "hr@acme.com", model.StatusUnknown, 30, model.VerifyHeuristicOnly))

	mock.ExpectExec(`UPDATE contacts SET status`).
		WithArgs(string(model.StatusValid), 90, string(model.VerifyExternalAPI),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "hr@acme.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetVerification(context.Background(), "hr@acme.com", model.VerificationRecord{
		Status: model.StatusValid, Score: 90, Method: model.VerifyExternalAPI,
		CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Blacklist_AlreadyBlacklistedNoWrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	row := mock.NewRows(contactColumns).AddRow(
		"hr@acme.com", "Acme", "acme.com", string(model.MethodPattern), 40, time.Now().UTC(),
		string(model.StatusBlacklisted), 0, string(model.VerifyHeuristicOnly),
		nil, []byte(`["manual"]`), []byte(`[]`),
	)
	mock.ExpectQuery(`SELECT email, organization, domain`).
		WithArgs("hr@acme.com").
		WillReturnRows(row)

	err := s.Blacklist(context.Background(), "hr@acme.com", "manual")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Blacklist_UnknownAddressSeedsRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT email, organization, domain`).
		WithArgs("ghost@acme.com").
		WillReturnError(pgx.ErrNoRows)

	mock.ExpectExec(`INSERT INTO contacts`).
		WithArgs("ghost@acme.com", "", "acme.com", "", 0,
			pgxmock.AnyArg(), string(model.StatusUnverified)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec(`UPDATE contacts SET status`).
		WithArgs(string(model.StatusBlacklisted), 0, string(model.VerifyHeuristicOnly),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost@acme.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.Blacklist(context.Background(), "Ghost@Acme.com", "manual")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordBounce_DuplicateIgnored(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO bounce_events`).
		WithArgs(pgxmock.AnyArg(), "hr@acme.com", "<msg-1@mail>",
			string(model.ReasonBlocked), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	applied, err := s.RecordBounce(context.Background(), model.BounceEvent{
		BouncedEmail: "hr@acme.com",
		Reason:       model.ReasonBlocked,
		DetectedAt:   time.Now().UTC(),
		SourceRef:    "<msg-1@mail>",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordBounce_PermanentBlacklists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO bounce_events`).
		WithArgs(pgxmock.AnyArg(), "hr@acme.com", "<msg-2@mail>",
			string(model.ReasonMailboxNotFound), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectQuery(`SELECT email, organization, domain`).
		WithArgs("hr@acme.com").
		WillReturnRows(mockContactRow(mock, "hr@acme.com", model.StatusValid, 85, model.VerifyExternalAPI))

	mock.ExpectExec(`UPDATE contacts SET status`).
		WithArgs(string(model.StatusBlacklisted), 10, string(model.VerifyExternalAPI),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "hr@acme.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := s.RecordBounce(context.Background(), model.BounceEvent{
		BouncedEmail: "hr@acme.com",
		Reason:       model.ReasonMailboxNotFound,
		DetectedAt:   time.Now().UTC(),
		SourceRef:    "<msg-2@mail>",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PutTicket_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO retry_tickets`).
		WithArgs("Acme", "hr@acme.com", pgxmock.AnyArg(), 1,
			pgxmock.AnyArg(), string(model.TicketOpen), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutTicket(context.Background(), &model.RetryTicket{
		Organization:   "Acme",
		OriginalEmail:  "hr@acme.com",
		TriedEmails:    []string{"hr@acme.com"},
		Attempts:       1,
		NextEligibleAt: now.Add(72 * time.Hour),
		Status:         model.TicketOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListDueTickets(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := mock.NewRows([]string{
		"organization", "original_email", "tried_emails", "attempts",
		"next_eligible_at", "status", "created_at", "updated_at",
	}).AddRow("Acme", "hr@acme.com", []byte(`["hr@acme.com"]`), 1,
		now.Add(-time.Hour), string(model.TicketOpen), now, now)

	mock.ExpectQuery(`SELECT organization, original_email`).
		WithArgs(string(model.TicketOpen), pgxmock.AnyArg()).
		WillReturnRows(rows)

	due, err := s.ListDueTickets(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "Acme", due[0].Organization)
	assert.Equal(t, []string{"hr@acme.com"}, due[0].TriedEmails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Checkpoint_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT ts FROM checkpoints`).
		WithArgs("bounce-monitor").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadCheckpoint(context.Background(), "bounce-monitor")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
