package verifier

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Resolver is the subset of net.Resolver the verifier needs.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// mxOutcome is the decisive result of the DNS step.
type mxOutcome int

const (
	mxDeliverable mxOutcome = iota // MX (or address fallback) found
	mxAbsent                       // definitive answer: domain cannot receive mail
	mxUndetermined                 // retries exhausted without an answer
)

// checkMX resolves the domain's mail capability. Each attempt runs under its
// own timeout; the retry schedule is deterministic (no jitter) so the worst
// case is bounded. NXDOMAIN is a definitive answer and does not retry.
func (v *Verifier) checkMX(ctx context.Context, domain string) mxOutcome {
	policy := resilience.Policy{
		MaxAttempts:    v.dnsMaxAttempts,
		InitialBackoff: 200 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
		OnRetry:        resilience.RetryLogger("dns", "lookup-mx"),
	}

	outcome, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (mxOutcome, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, v.dnsTimeout)
		defer cancel()

		mxs, err := v.resolver.LookupMX(attemptCtx, domain)
		if err == nil && len(mxs) > 0 {
			return mxDeliverable, nil
		}
		if err != nil && !isDNSNotFound(err) {
			return mxUndetermined, err
		}

		// No MX record: some domains receive mail on a bare A/AAAA host.
		hosts, err := v.resolver.LookupHost(attemptCtx, domain)
		if err == nil && len(hosts) > 0 {
			return mxDeliverable, nil
		}
		if err != nil && !isDNSNotFound(err) {
			return mxUndetermined, err
		}
		return mxAbsent, nil
	})
	if err != nil {
		return mxUndetermined
	}
	return outcome
}

func isDNSNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
