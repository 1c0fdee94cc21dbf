package verifier

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/verifyapi"
)

type stubResolver struct {
	mx        []*net.MX
	mxErr     error
	hosts     []string
	hostErr   error
	mxCalls   atomic.Int32
	hostCalls atomic.Int32
}

func (s *stubResolver) LookupMX(_ context.Context, _ string) ([]*net.MX, error) {
	s.mxCalls.Add(1)
	return s.mx, s.mxErr
}

func (s *stubResolver) LookupHost(_ context.Context, _ string) ([]string, error) {
	s.hostCalls.Add(1)
	return s.hosts, s.hostErr
}

type stubAPI struct {
	result verifyapi.Result
	err    error
}

func (s *stubAPI) Check(_ context.Context, _ string) (verifyapi.Result, error) {
	return s.result, s.err
}

func hasMX() *stubResolver {
	return &stubResolver{mx: []*net.MX{{Host: "mx1.acme.com", Pref: 10}}}
}

func newTestVerifier(t *testing.T, opts ...Option) *Verifier {
	t.Helper()
	cfg := config.VerifierConfig{
		DNSTimeout:     time.Second,
		DNSMaxAttempts: 3,
	}
	return New(cfg, DefaultRules(), opts...)
}

func verify(t *testing.T, v *Verifier, email string) model.VerificationRecord {
	t.Helper()
	return v.Verify(context.Background(), model.ContactCandidate{
		Email:        email,
		Organization: "Acme",
		Domain:       model.EmailDomain(email),
	})
}

func TestVerify_MalformedShortCircuits(t *testing.T) {
	resolver := &stubResolver{}
	v := newTestVerifier(t, WithResolver(resolver))

	rec := verify(t, v, "foo@bar")
	assert.Equal(t, model.StatusInvalid, rec.Status)
	assert.Equal(t, []string{"bad-format"}, rec.ReasonCodes)
	assert.Equal(t, model.VerifyHeuristicOnly, rec.Method)
	// Short-circuit: no DNS traffic for a malformed address.
	assert.Equal(t, int32(0), resolver.mxCalls.Load())
}

func TestVerify_DisposableDomain(t *testing.T) {
	resolver := &stubResolver{}
	v := newTestVerifier(t, WithResolver(resolver))

	rec := verify(t, v, "someone@mailinator.com")
	assert.Equal(t, model.StatusInvalid, rec.Status)
	assert.Equal(t, []string{"disposable-domain"}, rec.ReasonCodes)
	assert.Equal(t, int32(0), resolver.mxCalls.Load())
}

func TestVerify_HRAddressValid(t *testing.T) {
	v := newTestVerifier(t, WithResolver(hasMX()))

	rec := verify(t, v, "hr@acme.com")
	assert.Equal(t, model.StatusValid, rec.Status)
	assert.Equal(t, model.VerifyDNSMX, rec.Method)
	// 50 + 20 (hr keyword) + 15 (non-freemail) = 85
	assert.Equal(t, 85, rec.Score)
	assert.Contains(t, rec.ReasonCodes, "hr-keyword")
}

// A generic prefix that passes MX still may not be marked Valid.
func TestVerify_GenericPrefixEndsUnknown(t *testing.T) {
	v := newTestVerifier(t, WithResolver(hasMX()))

	rec := verify(t, v, "noreply@acme.com")
	assert.Equal(t, model.StatusUnknown, rec.Status)
	// 50 - 30 (generic prefix) + 15 (non-freemail) = 35
	assert.Equal(t, 35, rec.Score)
	assert.Contains(t, rec.ReasonCodes, "generic-prefix")
}

func TestVerify_NoMXNoHostsInvalid(t *testing.T) {
	resolver := &stubResolver{
		mxErr:   &net.DNSError{Err: "no such host", IsNotFound: true},
		hostErr: &net.DNSError{Err: "no such host", IsNotFound: true},
	}
	v := newTestVerifier(t, WithResolver(resolver))

	rec := verify(t, v, "hr@acme.com")
	assert.Equal(t, model.StatusInvalid, rec.Status)
	assert.Equal(t, model.VerifyDNSMX, rec.Method)
	assert.Equal(t, []string{"no-mx"}, rec.ReasonCodes)
	// NXDOMAIN is definitive; one attempt is enough.
	assert.Equal(t, int32(1), resolver.mxCalls.Load())
}

func TestVerify_HostFallbackWhenNoMX(t *testing.T) {
	resolver := &stubResolver{
		mxErr: &net.DNSError{Err: "no such host", IsNotFound: true},
		hosts: []string{"93.184.216.34"},
	}
	v := newTestVerifier(t, WithResolver(resolver))

	rec := verify(t, v, "hr@acme.com")
	assert.Equal(t, model.StatusValid, rec.Status)
	assert.Equal(t, int32(1), resolver.hostCalls.Load())
}

// DNS trouble that never resolves: retries exhaust and the candidate
// degrades to Unknown instead of blocking or failing.
func TestVerify_DNSTimeoutDegradesToUnknown(t *testing.T) {
	resolver := &stubResolver{
		mxErr: &net.DNSError{Err: "i/o timeout", IsTimeout: true},
	}
	v := newTestVerifier(t, WithResolver(resolver))

	rec := verify(t, v, "hr@acme.com")
	assert.Equal(t, model.StatusUnknown, rec.Status)
	assert.Equal(t, model.VerifyHeuristicOnly, rec.Method)
	assert.Contains(t, rec.ReasonCodes, "dns-timeout")
	assert.Equal(t, int32(3), resolver.mxCalls.Load())
	// Heuristics still produce a score.
	assert.Equal(t, 85, rec.Score)
}

func TestVerify_APIVerdictMapping(t *testing.T) {
	tests := []struct {
		verdict verifyapi.Verdict
		want    model.VerificationStatus
	}{
		{verifyapi.VerdictValid, model.StatusValid},
		{verifyapi.VerdictInvalid, model.StatusInvalid},
		{verifyapi.VerdictRisky, model.StatusCatchAll},
	}
	for _, tt := range tests {
		v := newTestVerifier(t,
			WithResolver(hasMX()),
			WithAPI(&stubAPI{result: verifyapi.Result{Verdict: tt.verdict}}),
		)
		rec := verify(t, v, "hr@acme.com")
		assert.Equal(t, tt.want, rec.Status, "verdict %s", tt.verdict)
		assert.Equal(t, model.VerifyExternalAPI, rec.Method)
	}
}

func TestVerify_APIErrorDegradesToHeuristics(t *testing.T) {
	v := newTestVerifier(t,
		WithResolver(hasMX()),
		WithAPI(&stubAPI{err: eris.New("service down")}),
	)

	rec := verify(t, v, "hr@acme.com")
	assert.Equal(t, model.StatusValid, rec.Status)
	assert.Equal(t, model.VerifyDNSMX, rec.Method)
}

func TestVerify_QuotaExhaustionDegrades(t *testing.T) {
	v := newTestVerifier(t,
		WithResolver(hasMX()),
		WithAPI(&stubAPI{err: verifyapi.ErrQuotaExceeded}),
	)

	rec := verify(t, v, "careers@acme.com")
	assert.NotEqual(t, model.VerifyExternalAPI, rec.Method)
	assert.NotEmpty(t, rec.Email)
}

// A weak API-unverified candidate on a freemail domain scores below the
// Valid floor even with an HR keyword.
func TestVerify_FreemailPenalizedInScore(t *testing.T) {
	v := newTestVerifier(t, WithResolver(hasMX()))

	rec := verify(t, v, "hiring.manager@gmail.com")
	// 50 + 20 (hr keyword "hiring") + 0 (freemail) = 70, still Valid.
	assert.Equal(t, 70, rec.Score)
	assert.Contains(t, rec.ReasonCodes, "freemail-domain")
}

func TestVerify_Deterministic(t *testing.T) {
	v := newTestVerifier(t, WithResolver(hasMX()))

	a := verify(t, v, "talent@acme.com")
	b := verify(t, v, "talent@acme.com")
	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.ReasonCodes, b.ReasonCodes)
}
