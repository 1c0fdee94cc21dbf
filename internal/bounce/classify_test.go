package bounce

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/mailbox"
)

func TestIsBounceNotification(t *testing.T) {
	tests := []struct {
		name string
		msg  mailbox.Message
		want bool
	}{
		{"mailer daemon sender", mailbox.Message{From: "MAILER-DAEMON@mx.google.com", Subject: "hi"}, true},
		{"postmaster sender", mailbox.Message{From: "postmaster@outlook.com", Subject: "hi"}, true},
		{"delivery subsystem", mailbox.Message{From: "Mail Delivery Subsystem <mailer@mx.example>", Subject: "x"}, true},
		{"undeliverable subject", mailbox.Message{From: "someone@example.com", Subject: "Undeliverable: your application"}, true},
		{"returned to sender", mailbox.Message{From: "someone@example.com", Subject: "Mail Returned to Sender"}, true},
		{"failure notice", mailbox.Message{From: "someone@example.com", Subject: "failure notice"}, true},
		{"ordinary reply", mailbox.Message{From: "jane@acme.com", Subject: "Re: your application"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBounceNotification(tt.msg))
		})
	}
}

func TestClassify_FinalRecipientHeader(t *testing.T) {
	msg := mailbox.Message{
		ID:         "<dsn-1@mx>",
		From:       "mailer-daemon@mx.acme.com",
		Subject:    "Undelivered Mail Returned to Sender",
		Body:       "Final-Recipient: rfc822; hr@acme.com\nAction: failed\nStatus: 5.1.1\nDiagnostic-Code: smtp; 550 no such user",
		ReceivedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}

	ev, err := Classify(msg)
	require.NoError(t, err)
	assert.Equal(t, "hr@acme.com", ev.BouncedEmail)
	assert.Equal(t, model.ReasonMailboxNotFound, ev.Reason)
	assert.Equal(t, "<dsn-1@mx>", ev.SourceRef)
	assert.Equal(t, msg.ReceivedAt, ev.DetectedAt)
}

// The extraction list is ordered; the first matching pattern wins even when
// later patterns would also match.
func TestClassify_FirstPatternWins(t *testing.T) {
	msg := mailbox.Message{
		ID:      "<dsn-2@mx>",
		From:    "mailer-daemon@mx",
		Subject: "Delivery Status Notification (Failure)",
		Body: "Final-Recipient: rfc822; <careers@acme.com>\n" +
			"Your message to jobs@acme.com could not be delivered.",
	}

	ev, err := Classify(msg)
	require.NoError(t, err)
	assert.Equal(t, "careers@acme.com", ev.BouncedEmail)
}

func TestClassify_ProseBody(t *testing.T) {
	msg := mailbox.Message{
		ID:      "<dsn-3@mx>",
		From:    "postmaster@outlook.com",
		Subject: "Undeliverable: hello",
		Body:    "Your message to Talent@Acme.com couldn't be delivered.\nThe mailbox is full.",
	}

	ev, err := Classify(msg)
	require.NoError(t, err)
	assert.Equal(t, "talent@acme.com", ev.BouncedEmail)
	assert.Equal(t, model.ReasonMailboxFull, ev.Reason)
}

func TestClassify_ReasonTaxonomy(t *testing.T) {
	tests := []struct {
		body string
		want model.BounceReason
	}{
		{"550 5.1.1 user unknown", model.ReasonMailboxNotFound},
		{"552 mailbox full", model.ReasonMailboxFull},
		{"recipient is over quota", model.ReasonQuotaExceeded},
		{"host not found for domain", model.ReasonDomainNotFound},
		{"message classified as spam", model.ReasonSpamRejected},
		{"sender address blocked by policy", model.ReasonBlocked},
		{"temporary failure, try again", model.ReasonTemporaryFailure},
		{"something entirely new", model.ReasonUnknown},
	}
	for _, tt := range tests {
		msg := mailbox.Message{
			ID:      "<r@mx>",
			From:    "mailer-daemon@mx",
			Subject: "failure notice",
			Body:    "X-Failed-Recipients: hr@acme.com\n" + tt.body,
		}
		ev, err := Classify(msg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ev.Reason, "body %q", tt.body)
	}
}

func TestClassify_NoRecipient(t *testing.T) {
	msg := mailbox.Message{
		ID:      "<dsn-4@mx>",
		From:    "mailer-daemon@mx",
		Subject: "failure notice",
		Body:    "something went wrong but there is no address here",
	}

	_, err := Classify(msg)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoRecipient))
}

func TestClassify_CharsetDecoded(t *testing.T) {
	// ISO-8859-1 body: "Ihre Nachricht an hr@acme.com ... geblockt" with
	// a latin-1 umlaut byte to prove decoding happened.
	body := "Final-Recipient: rfc822; hr@acme.com\nZustellung zur\xfcckgewiesen: blocked"
	msg := mailbox.Message{
		ID:      "<dsn-5@mx>",
		From:    "mailer-daemon@mx",
		Subject: "failure notice",
		Body:    body,
		Charset: "iso-8859-1",
	}

	ev, err := Classify(msg)
	require.NoError(t, err)
	assert.Equal(t, "hr@acme.com", ev.BouncedEmail)
	assert.Equal(t, model.ReasonBlocked, ev.Reason)
}

func TestClassify_UnsupportedCharset(t *testing.T) {
	msg := mailbox.Message{
		ID:      "<dsn-6@mx>",
		From:    "mailer-daemon@mx",
		Subject: "failure notice",
		Body:    "Final-Recipient: rfc822; hr@acme.com",
		Charset: "x-no-such-charset",
	}

	_, err := Classify(msg)
	require.Error(t, err)
}
