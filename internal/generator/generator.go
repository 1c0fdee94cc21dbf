// Package generator produces ranked contact-email candidates for an
// organization from pattern templates, known-name permutations, external
// discovery lookups, and previously confirmed contacts.
package generator

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/lookup"
)

// Confidence baselines per generation method. Pattern candidates step down
// from their baseline so the ranking among them is total.
const (
	patternBaseline    = 40
	nameBaseline       = 60
	lookupBaseline     = 75
	historicalBaseline = 90
)

// patternPrefixes are tried in priority order against the resolved domain.
var patternPrefixes = []string{
	"hr", "careers", "talent", "recruiting", "people", "jobs",
	"recruitment", "hiring",
}

// LookupSource is the optional external discovery collaborator.
type LookupSource interface {
	Search(ctx context.Context, domain string) ([]lookup.Result, error)
}

// History supplies previously confirmed addresses for an organization so
// they can be re-emitted ahead of fresh guesses.
type History interface {
	VerifiedEmails(ctx context.Context, organization string) ([]string, error)
}

// Option configures a Generator.
type Option func(*Generator)

// WithLookup attaches an external discovery lookup.
func WithLookup(l LookupSource) Option {
	return func(g *Generator) { g.lookup = l }
}

// WithHistory attaches a source of previously confirmed contacts.
func WithHistory(h History) Option {
	return func(g *Generator) { g.history = h }
}

// Generator builds candidate lists. Safe for concurrent use.
type Generator struct {
	maxCandidates int
	tlds          []string
	lookup        LookupSource
	history       History
	now           func() time.Time
}

// New creates a Generator from configuration.
func New(cfg config.GeneratorConfig, opts ...Option) *Generator {
	g := &Generator{
		maxCandidates: cfg.MaxCandidates,
		tlds:          cfg.TLDs,
		now:           time.Now,
	}
	if g.maxCandidates <= 0 {
		g.maxCandidates = 8
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns up to maxCandidates ranked candidates for the
// organization. domainHint, when non-empty, overrides domain guessing.
// Lookup failures degrade to the local methods and are never returned as
// errors.
func (g *Generator) Generate(ctx context.Context, organization, domainHint string, knownNames []string) ([]model.ContactCandidate, error) {
	domain := strings.ToLower(strings.TrimSpace(domainHint))
	if domain == "" {
		domain = GuessDomain(organization, g.tlds)
	}
	if domain == "" {
		return nil, nil
	}

	now := g.now().UTC()
	seen := map[string]bool{}
	var out []model.ContactCandidate

	add := func(email string, method model.GenerationMethod, confidence int) {
		email = model.NormalizeEmail(email)
		if email == "" || seen[email] {
			return
		}
		seen[email] = true
		out = append(out, model.ContactCandidate{
			Email:         email,
			Organization:  organization,
			Domain:        model.EmailDomain(email),
			Method:        method,
			RawConfidence: confidence,
			GeneratedAt:   now,
		})
	}

	// Highest-confidence sources first so dedup keeps the best provenance.
	if g.history != nil {
		emails, err := g.history.VerifiedEmails(ctx, organization)
		if err != nil {
			zap.L().Warn("historical contact lookup failed",
				zap.String("organization", organization), zap.Error(err))
		}
		for _, e := range emails {
			add(e, model.MethodHistoricalReuse, historicalBaseline)
		}
	}

	if g.lookup != nil {
		results, err := g.lookup.Search(ctx, domain)
		if err != nil {
			zap.L().Warn("external discovery lookup failed",
				zap.String("domain", domain), zap.Error(err))
		}
		for _, r := range results {
			add(r.Email, model.MethodExternalLookup, lookupBaseline)
		}
	}

	for _, name := range knownNames {
		for _, local := range namePermutations(name) {
			add(local+"@"+domain, model.MethodNameSubstitution, nameBaseline)
		}
	}

	for i, prefix := range patternPrefixes {
		add(prefix+"@"+domain, model.MethodPattern, patternBaseline-i)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RawConfidence > out[j].RawConfidence
	})
	if len(out) > g.maxCandidates {
		out = out[:g.maxCandidates]
	}
	return out, nil
}

// namePermutations expands a person's name into common local-part shapes:
// first.last, flast, first_last, first.
func namePermutations(name string) []string {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	clean := tokens[:0]
	for _, t := range tokens {
		t = strings.Map(func(r rune) rune {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, t)
		if t != "" {
			clean = append(clean, t)
		}
	}
	switch len(clean) {
	case 0:
		return nil
	case 1:
		return []string{clean[0]}
	}

	first, last := clean[0], clean[len(clean)-1]
	return []string{
		first + "." + last,
		string(first[0]) + last,
		first + "_" + last,
		first,
	}
}
