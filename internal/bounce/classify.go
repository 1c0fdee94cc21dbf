package bounce

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/mailbox"
)

// bounceSenders match the From header of delivery-status notifications.
var bounceSenders = []string{
	"mailer-daemon", "postmaster", "mail delivery subsystem",
	"mail delivery system", "microsoftexchange",
}

// bounceSubjects match the Subject header when the sender is inconclusive.
var bounceSubjects = []*regexp.Regexp{
	regexp.MustCompile(`(?i)undeliver`),
	regexp.MustCompile(`(?i)delivery (status notification|failure|problem)`),
	regexp.MustCompile(`(?i)returned to sender`),
	regexp.MustCompile(`(?i)failure notice`),
	regexp.MustCompile(`(?i)delivery incomplete`),
	regexp.MustCompile(`(?i)message blocked`),
}

// recipientPatterns extract the originally-addressed recipient from a bounce
// body, tried in order; first match wins.
var recipientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Final-Recipient:\s*rfc822;\s*<?([\w.+\-]+@[\w.\-]+\.\w+)>?`),
	regexp.MustCompile(`(?i)Original-Recipient:\s*rfc822;\s*<?([\w.+\-]+@[\w.\-]+\.\w+)>?`),
	regexp.MustCompile(`(?i)X-Failed-Recipients:\s*<?([\w.+\-]+@[\w.\-]+\.\w+)>?`),
	regexp.MustCompile(`(?i)your message to\s+<?([\w.+\-]+@[\w.\-]+\.\w+)>?`),
	regexp.MustCompile(`(?i)<?([\w.+\-]+@[\w.\-]+\.\w+)>?\s+(?:could not|couldn't|wasn't|was not) (?:be )?(?:found|delivered|reached)`),
	regexp.MustCompile(`(?i)delivery to the following recipient[s]? failed[^\w]+<?([\w.+\-]+@[\w.\-]+\.\w+)>?`),
}

// reasonKeywords map bounce-body phrases to the closed reason taxonomy.
// Checked in order; first hit wins.
var reasonKeywords = []struct {
	phrase string
	reason model.BounceReason
}{
	{"no such user", model.ReasonMailboxNotFound},
	{"user unknown", model.ReasonMailboxNotFound},
	{"unknown user", model.ReasonMailboxNotFound},
	{"mailbox not found", model.ReasonMailboxNotFound},
	{"mailbox unavailable", model.ReasonMailboxNotFound},
	{"recipient not found", model.ReasonMailboxNotFound},
	{"address not found", model.ReasonMailboxNotFound},
	{"does not exist", model.ReasonMailboxNotFound},
	{"invalid recipient", model.ReasonMailboxNotFound},
	{"mailbox full", model.ReasonMailboxFull},
	{"mailbox is full", model.ReasonMailboxFull},
	{"over quota", model.ReasonQuotaExceeded},
	{"quota exceeded", model.ReasonQuotaExceeded},
	{"host not found", model.ReasonDomainNotFound},
	{"domain not found", model.ReasonDomainNotFound},
	{"no mx", model.ReasonDomainNotFound},
	{"spam", model.ReasonSpamRejected},
	{"blocked", model.ReasonBlocked},
	{"blacklisted", model.ReasonBlocked},
	{"denied", model.ReasonBlocked},
	{"rejected", model.ReasonBlocked},
	{"temporar", model.ReasonTemporaryFailure},
	{"try again later", model.ReasonTemporaryFailure},
	{"deferred", model.ReasonTemporaryFailure},
}

// ErrNoRecipient is returned when no extraction pattern matches the body.
var ErrNoRecipient = eris.New("bounce: no recipient found in message")

// IsBounceNotification classifies a message by sender first, subject second.
func IsBounceNotification(msg mailbox.Message) bool {
	from := strings.ToLower(msg.From)
	for _, s := range bounceSenders {
		if strings.Contains(from, s) {
			return true
		}
	}
	for _, re := range bounceSubjects {
		if re.MatchString(msg.Subject) {
			return true
		}
	}
	return false
}

// Classify extracts the bounced recipient and failure reason from a bounce
// notification. The returned event carries the message id as its source
// reference for idempotent application.
func Classify(msg mailbox.Message) (model.BounceEvent, error) {
	body, err := decodeBody(msg)
	if err != nil {
		return model.BounceEvent{}, err
	}

	haystack := msg.Subject + "\n" + body

	var recipient string
	for _, re := range recipientPatterns {
		if m := re.FindStringSubmatch(haystack); m != nil {
			recipient = model.NormalizeEmail(m[1])
			break
		}
	}
	if recipient == "" {
		return model.BounceEvent{}, ErrNoRecipient
	}

	reason := model.ReasonUnknown
	rawReason := ""
	lower := strings.ToLower(haystack)
	for _, kw := range reasonKeywords {
		if strings.Contains(lower, kw.phrase) {
			reason = kw.reason
			rawReason = kw.phrase
			break
		}
	}

	return model.BounceEvent{
		BouncedEmail: recipient,
		Reason:       reason,
		RawReason:    rawReason,
		DetectedAt:   msg.ReceivedAt,
		SourceRef:    msg.ID,
	}, nil
}

// decodeBody converts a non-UTF-8 body to UTF-8 using the declared charset.
func decodeBody(msg mailbox.Message) (string, error) {
	if msg.Charset == "" || strings.EqualFold(msg.Charset, "utf-8") {
		return msg.Body, nil
	}
	enc, err := htmlindex.Get(msg.Charset)
	if err != nil {
		return "", eris.Wrapf(err, "bounce: unsupported charset %q", msg.Charset)
	}
	decoded, err := enc.NewDecoder().String(msg.Body)
	if err != nil {
		return "", eris.Wrapf(err, "bounce: decode charset %q", msg.Charset)
	}
	return decoded, nil
}
