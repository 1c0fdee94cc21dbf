// Package verifier scores and classifies candidate emails through a
// short-circuiting pipeline: syntax, disposable-domain, DNS MX, optional
// external verification, and heuristic scoring.
package verifier

import (
	"context"
	"net"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/verifyapi"
)

// emailShape is a pragmatic RFC-shape check, not full RFC 5322.
var emailShape = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	baseScore        = 50
	genericPenalty   = 30
	hrBonus          = 20
	nonFreemailBonus = 15
	validScoreFloor  = 50
)

// APIClient is the optional external verification collaborator.
type APIClient interface {
	Check(ctx context.Context, email string) (verifyapi.Result, error)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithResolver replaces the DNS resolver (for testing).
func WithResolver(r Resolver) Option {
	return func(v *Verifier) { v.resolver = r }
}

// WithAPI attaches an external verification API.
func WithAPI(api APIClient) Option {
	return func(v *Verifier) { v.api = api }
}

// Verifier classifies candidates. Safe for concurrent use.
type Verifier struct {
	rules          Rules
	genericSet     map[string]bool
	hrKeywords     []string
	disposableSet  map[string]bool
	freemailSet    map[string]bool
	resolver       Resolver
	api            APIClient
	apiBreaker     *resilience.Breaker
	dnsTimeout     time.Duration
	dnsMaxAttempts int
	now            func() time.Time
}

// New creates a Verifier from configuration and rule lists.
func New(cfg config.VerifierConfig, rules Rules, opts ...Option) *Verifier {
	v := &Verifier{
		rules:          rules,
		genericSet:     toSet(rules.GenericPrefixes),
		hrKeywords:     rules.HRKeywords,
		disposableSet:  toSet(rules.DisposableDomains),
		freemailSet:    toSet(rules.FreemailProviders),
		resolver:       net.DefaultResolver,
		dnsTimeout:     cfg.DNSTimeout,
		dnsMaxAttempts: cfg.DNSMaxAttempts,
		now:            time.Now,
		apiBreaker: resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		}),
	}
	if v.dnsTimeout <= 0 {
		v.dnsTimeout = 5 * time.Second
	}
	if v.dnsMaxAttempts <= 0 {
		v.dnsMaxAttempts = 3
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify classifies one candidate. It never returns an error: network
// trouble degrades the record to heuristic-only rather than failing the
// candidate.
func (v *Verifier) Verify(ctx context.Context, candidate model.ContactCandidate) model.VerificationRecord {
	email := model.NormalizeEmail(candidate.Email)
	rec := model.VerificationRecord{
		Email:     email,
		CheckedAt: v.now().UTC(),
	}

	// 1. Syntax. Fails fast with no network traffic.
	if !emailShape.MatchString(email) {
		rec.Status = model.StatusInvalid
		rec.Method = model.VerifyHeuristicOnly
		rec.ReasonCodes = []string{"bad-format"}
		return rec
	}

	local := model.EmailLocalPart(email)
	domain := model.EmailDomain(email)

	// 2. Disposable domain.
	if v.disposableSet[domain] {
		rec.Status = model.StatusInvalid
		rec.Method = model.VerifyHeuristicOnly
		rec.ReasonCodes = []string{"disposable-domain"}
		return rec
	}

	// 3. DNS.
	switch v.checkMX(ctx, domain) {
	case mxAbsent:
		rec.Status = model.StatusInvalid
		rec.Method = model.VerifyDNSMX
		rec.ReasonCodes = []string{"no-mx"}
		return rec
	case mxUndetermined:
		rec.Status = model.StatusUnknown
		rec.Method = model.VerifyHeuristicOnly
		rec.ReasonCodes = append(rec.ReasonCodes, "dns-timeout")
		rec.Score = v.heuristicScore(local, domain, &rec)
		return rec
	}

	// 4. External API, behind a breaker so a dead service degrades fast.
	apiStatus := model.StatusUnverified
	if v.api != nil {
		var result verifyapi.Result
		err := v.apiBreaker.Execute(ctx, func(ctx context.Context) error {
			var checkErr error
			result, checkErr = v.api.Check(ctx, email)
			return checkErr
		})
		switch {
		case err != nil:
			zap.L().Warn("verification api unavailable, degrading to heuristics",
				zap.String("email", email), zap.Error(err))
		case result.Verdict == verifyapi.VerdictValid:
			apiStatus = model.StatusValid
		case result.Verdict == verifyapi.VerdictInvalid:
			apiStatus = model.StatusInvalid
		case result.Verdict == verifyapi.VerdictRisky:
			apiStatus = model.StatusCatchAll
		}
	}

	// 5. Heuristic scoring, always computed.
	rec.Score = v.heuristicScore(local, domain, &rec)

	if apiStatus != model.StatusUnverified {
		rec.Status = apiStatus
		rec.Method = model.VerifyExternalAPI
		return rec
	}

	rec.Method = model.VerifyDNSMX
	if rec.Score >= validScoreFloor {
		rec.Status = model.StatusValid
	} else {
		// MX alone is not proof of a live mailbox.
		rec.Status = model.StatusUnknown
	}
	return rec
}

// heuristicScore computes the deterministic score and appends the reason
// codes for the adjustments that fired.
func (v *Verifier) heuristicScore(local, domain string, rec *model.VerificationRecord) int {
	score := baseScore

	if v.isGenericPrefix(local) {
		score -= genericPenalty
		rec.ReasonCodes = append(rec.ReasonCodes, "generic-prefix")
	}
	if v.hasHRKeyword(local) {
		score += hrBonus
		rec.ReasonCodes = append(rec.ReasonCodes, "hr-keyword")
	}
	if v.freemailSet[domain] {
		rec.ReasonCodes = append(rec.ReasonCodes, "freemail-domain")
	} else {
		score += nonFreemailBonus
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (v *Verifier) isGenericPrefix(local string) bool {
	if v.genericSet[local] {
		return true
	}
	for p := range v.genericSet {
		if strings.HasPrefix(local, p) {
			return true
		}
	}
	return false
}

func (v *Verifier) hasHRKeyword(local string) bool {
	for _, k := range v.hrKeywords {
		if strings.Contains(local, k) {
			return true
		}
	}
	return false
}
