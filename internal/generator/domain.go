package generator

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are trailing company-name tokens that never appear in a
// domain. Compared after lowercasing.
var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true,
	"llc": true, "llp": true,
	"ltd": true, "limited": true,
	"corp": true, "corporation": true,
	"co": true, "company": true,
	"pvt": true, "gmbh": true, "ag": true, "sa": true,
	"plc": true, "group": true, "holdings": true,
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// GuessDomain derives a best-effort domain from an organization name: strip
// diacritics, lowercase, drop trailing legal suffixes, drop everything that
// is not a letter or digit, and attach the first configured TLD. Returns ""
// when the name collapses to nothing. The guess is not validated here.
func GuessDomain(organization string, tlds []string) string {
	cleaned, _, err := transform.String(deaccent, organization)
	if err != nil {
		cleaned = organization
	}
	cleaned = strings.ToLower(strings.TrimSpace(cleaned))
	if cleaned == "" {
		return ""
	}

	tokens := strings.FieldsFunc(cleaned, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for len(tokens) > 0 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return ""
	}

	name := strings.Join(tokens, "")
	tld := ".com"
	if len(tlds) > 0 {
		tld = tlds[0]
	}
	if !strings.HasPrefix(tld, ".") {
		tld = "." + tld
	}
	return name + tld
}
