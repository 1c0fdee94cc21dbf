package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HR@Acme.COM", "hr@acme.com"},
		{"  careers@acme.com \n", "careers@acme.com"},
		{"talent@acme.io", "talent@acme.io"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEmail(tt.in))
	}
}

func TestEmailParts(t *testing.T) {
	assert.Equal(t, "acme.com", EmailDomain("hr@acme.com"))
	assert.Equal(t, "hr", EmailLocalPart("hr@acme.com"))
	assert.Equal(t, "", EmailDomain("no-at-sign"))
	assert.Equal(t, "", EmailDomain("trailing@"))
	assert.Equal(t, "", EmailLocalPart("@acme.com"))
}

func TestSupersedes_AuthorityOrdering(t *testing.T) {
	heuristic := VerificationRecord{Status: StatusUnknown, Method: VerifyHeuristicOnly}
	dns := VerificationRecord{Status: StatusValid, Method: VerifyDNSMX}
	api := VerificationRecord{Status: StatusValid, Method: VerifyExternalAPI}

	assert.True(t, api.Supersedes(heuristic))
	assert.True(t, api.Supersedes(dns))
	assert.True(t, dns.Supersedes(heuristic))
	assert.False(t, heuristic.Supersedes(api))
	assert.False(t, heuristic.Supersedes(dns))
	assert.False(t, dns.Supersedes(api))

	// Equal authority: last writer wins.
	assert.True(t, dns.Supersedes(dns))
}

func TestSupersedes_BlacklistSticky(t *testing.T) {
	black := VerificationRecord{Status: StatusBlacklisted, Method: VerifyHeuristicOnly}
	api := VerificationRecord{Status: StatusValid, Method: VerifyExternalAPI}

	assert.True(t, black.Supersedes(api))
	assert.False(t, api.Supersedes(black))
	// Even another blacklist write does not replace a blacklist.
	assert.False(t, black.Supersedes(black))
}

func TestSupersedes_UnverifiedAlwaysLoses(t *testing.T) {
	unverified := VerificationRecord{Status: StatusUnverified}
	heuristic := VerificationRecord{Status: StatusUnknown, Method: VerifyHeuristicOnly}

	assert.True(t, heuristic.Supersedes(unverified))
	assert.True(t, heuristic.Supersedes(VerificationRecord{}))
}

func TestTicketTriedSet(t *testing.T) {
	ticket := &RetryTicket{Organization: "Acme Corp"}

	ticket.MarkTried("HR@Acme.com")
	ticket.MarkTried("hr@acme.com")
	ticket.MarkTried("careers@acme.com")

	assert.Len(t, ticket.TriedEmails, 2)
	assert.True(t, ticket.Tried("hr@ACME.com"))
	assert.False(t, ticket.Tried("talent@acme.com"))
}

func TestBounceReasonPermanent(t *testing.T) {
	assert.True(t, ReasonMailboxNotFound.Permanent())
	assert.True(t, ReasonDomainNotFound.Permanent())
	assert.False(t, ReasonMailboxFull.Permanent())
	assert.False(t, ReasonTemporaryFailure.Permanent())
	assert.False(t, ReasonUnknown.Permanent())
}
