package model

import (
	"strings"
	"time"
)

// GenerationMethod identifies how a candidate email was produced.
type GenerationMethod string

const (
	MethodPattern          GenerationMethod = "pattern"
	MethodNameSubstitution GenerationMethod = "name-substitution"
	MethodExternalLookup   GenerationMethod = "external-lookup"
	MethodHistoricalReuse  GenerationMethod = "historical-reuse"
)

// ContactCandidate is a generated, unverified email guess for an organization.
// Candidates are immutable once created; the store deduplicates them by
// normalized email.
type ContactCandidate struct {
	Email         string           `json:"email"`
	Organization  string           `json:"organization"`
	Domain        string           `json:"domain"`
	Method        GenerationMethod `json:"method"`
	RawConfidence int              `json:"raw_confidence"` // 0-100, generator's own estimate
	GeneratedAt   time.Time        `json:"generated_at"`
}

// Provenance records one generator's claim on a contact. The first writer
// sets the contact's primary method; later duplicates append here instead
// of overwriting.
type Provenance struct {
	Method        GenerationMethod `json:"method"`
	RawConfidence int              `json:"raw_confidence"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// VerificationStatus is the classification of a contact's likely validity.
type VerificationStatus string

const (
	StatusUnverified  VerificationStatus = "unverified"
	StatusValid       VerificationStatus = "valid"
	StatusInvalid     VerificationStatus = "invalid"
	StatusDisposable  VerificationStatus = "disposable"
	StatusCatchAll    VerificationStatus = "catch_all"
	StatusUnknown     VerificationStatus = "unknown"
	StatusBlacklisted VerificationStatus = "blacklisted"
)

// VerificationMethod identifies how a verification result was obtained.
type VerificationMethod string

const (
	VerifyDNSMX         VerificationMethod = "dns-mx"
	VerifyExternalAPI   VerificationMethod = "external-api"
	VerifyHeuristicOnly VerificationMethod = "heuristic-only"
)

// Authority returns the precedence rank of a verification method when two
// records compete for the same email. Higher wins.
func (m VerificationMethod) Authority() int {
	switch m {
	case VerifyExternalAPI:
		return 3
	case VerifyDNSMX:
		return 2
	case VerifyHeuristicOnly:
		return 1
	default:
		return 0
	}
}

// VerificationRecord is the current verdict for a single contact email.
type VerificationRecord struct {
	Email       string             `json:"email"`
	Status      VerificationStatus `json:"status"`
	Score       int                `json:"score"` // 0-100
	Method      VerificationMethod `json:"method"`
	CheckedAt   time.Time          `json:"checked_at"`
	ReasonCodes []string           `json:"reason_codes,omitempty"`
}

// Supersedes reports whether rec is authoritative enough to replace existing.
// Blacklisted is sticky: nothing replaces it, and it replaces anything.
// An Unverified record is always replaced.
func (r VerificationRecord) Supersedes(existing VerificationRecord) bool {
	if existing.Status == StatusBlacklisted {
		return false
	}
	if r.Status == StatusBlacklisted {
		return true
	}
	if existing.Status == StatusUnverified || existing.Status == "" {
		return true
	}
	return r.Method.Authority() >= existing.Method.Authority()
}

// HasReason reports whether the record carries the given reason code.
func (r VerificationRecord) HasReason(code string) bool {
	for _, c := range r.ReasonCodes {
		if c == code {
			return true
		}
	}
	return false
}

// NormalizeEmail case-folds and trims an address. Two candidates that
// normalize identically are the same logical contact.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the domain part of an address, or "" if malformed.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// EmailLocalPart returns the local part of an address, or "" if malformed.
func EmailLocalPart(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	return email[:at]
}
