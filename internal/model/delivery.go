package model

import "time"

// DeliveryOutcome is the result reported by the send collaborator.
type DeliveryOutcome string

const (
	OutcomeSent    DeliveryOutcome = "sent"
	OutcomeBounced DeliveryOutcome = "bounced"
	OutcomeFailed  DeliveryOutcome = "failed"
	OutcomeUnknown DeliveryOutcome = "unknown"
)

// DeliveryAttempt records one send attempt against a contact. Created by the
// external send collaborator; consumed here only for retry and bounce logic.
type DeliveryAttempt struct {
	Email        string          `json:"email"`
	Organization string          `json:"organization"`
	JobContext   string          `json:"job_context,omitempty"` // opaque caller reference
	Attempt      int             `json:"attempt"`               // 1-based per organization
	SentAt       time.Time       `json:"sent_at"`
	Outcome      DeliveryOutcome `json:"outcome"`
}

// BounceReason is the closed taxonomy a free-text failure is classified into.
type BounceReason string

const (
	ReasonMailboxNotFound  BounceReason = "mailbox-not-found"
	ReasonMailboxFull      BounceReason = "mailbox-full"
	ReasonDomainNotFound   BounceReason = "domain-not-found"
	ReasonBlocked          BounceReason = "blocked"
	ReasonSpamRejected     BounceReason = "spam-rejected"
	ReasonQuotaExceeded    BounceReason = "quota-exceeded"
	ReasonTemporaryFailure BounceReason = "temporary-failure"
	ReasonUnknown          BounceReason = "unknown"
)

// Permanent reports whether the reason indicates the address will never
// accept mail. Permanent reasons also feed the blacklist.
func (r BounceReason) Permanent() bool {
	return r == ReasonMailboxNotFound || r == ReasonDomainNotFound
}

// BounceEvent is one delivery-failure notification extracted from the inbox
// feed. (BouncedEmail, SourceRef) is the idempotency key: replaying the same
// notification must not double-penalize the contact.
type BounceEvent struct {
	ID           string       `json:"id"`
	BouncedEmail string       `json:"bounced_email"`
	Reason       BounceReason `json:"reason"`
	RawReason    string       `json:"raw_reason,omitempty"`
	DetectedAt   time.Time    `json:"detected_at"`
	SourceRef    string       `json:"source_ref"` // message id of the notification
}

// TicketStatus is the lifecycle state of a RetryTicket.
type TicketStatus string

const (
	TicketOpen      TicketStatus = "open"
	TicketExhausted TicketStatus = "exhausted"
	TicketResolved  TicketStatus = "resolved"
)

// RetryTicket tracks retry state for one organization. TriedEmails grows
// monotonically; Attempts counts dispatched retries and never exceeds the
// configured cap.
type RetryTicket struct {
	Organization   string       `json:"organization"`
	OriginalEmail  string       `json:"original_email"`
	TriedEmails    []string     `json:"tried_emails"`
	Attempts       int          `json:"attempts"`
	NextEligibleAt time.Time    `json:"next_eligible_at"`
	Status         TicketStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Tried reports whether the ticket has already tried the given email.
func (t *RetryTicket) Tried(email string) bool {
	norm := NormalizeEmail(email)
	for _, e := range t.TriedEmails {
		if e == norm {
			return true
		}
	}
	return false
}

// MarkTried adds the email to the tried set if absent.
func (t *RetryTicket) MarkTried(email string) {
	norm := NormalizeEmail(email)
	if !t.Tried(norm) {
		t.TriedEmails = append(t.TriedEmails, norm)
	}
}
