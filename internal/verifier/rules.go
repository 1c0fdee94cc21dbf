package verifier

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules is the single table of word lists the verifier scores against.
// Every list has a built-in default; a rules file overrides per list.
type Rules struct {
	GenericPrefixes   []string `yaml:"generic_prefixes"`
	HRKeywords        []string `yaml:"hr_keywords"`
	DisposableDomains []string `yaml:"disposable_domains"`
	FreemailProviders []string `yaml:"freemail_providers"`
}

// DefaultRules returns the built-in rule lists.
func DefaultRules() Rules {
	return Rules{
		GenericPrefixes: []string{
			"noreply", "no-reply", "donotreply", "do-not-reply",
			"admin", "administrator", "postmaster", "webmaster",
			"support", "info", "contact", "sales", "marketing",
			"help", "office", "mail", "notifications", "newsletter",
			"abuse", "security", "billing",
		},
		HRKeywords: []string{
			"hr", "talent", "recruit", "career", "hiring",
			"people", "jobs", "staffing", "personnel",
		},
		DisposableDomains: []string{
			"mailinator.com", "guerrillamail.com", "10minutemail.com",
			"tempmail.com", "temp-mail.org", "throwaway.email",
			"yopmail.com", "sharklasers.com", "getnada.com",
			"maildrop.cc", "dispostable.com", "trashmail.com",
		},
		FreemailProviders: []string{
			"gmail.com", "yahoo.com", "hotmail.com", "outlook.com",
			"aol.com", "icloud.com", "mail.com", "protonmail.com",
			"proton.me", "gmx.com", "gmx.de", "web.de", "live.com",
			"msn.com", "yandex.com", "zoho.com",
		},
	}
}

// LoadRules reads a rules YAML file, falling back to the defaults for any
// list the file omits. An empty path returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "verifier: read rules %s", path)
	}

	var loaded Rules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Rules{}, eris.Wrapf(err, "verifier: parse rules %s", path)
	}

	if len(loaded.GenericPrefixes) > 0 {
		rules.GenericPrefixes = loaded.GenericPrefixes
	}
	if len(loaded.HRKeywords) > 0 {
		rules.HRKeywords = loaded.HRKeywords
	}
	if len(loaded.DisposableDomains) > 0 {
		rules.DisposableDomains = loaded.DisposableDomains
	}
	if len(loaded.FreemailProviders) > 0 {
		rules.FreemailProviders = loaded.FreemailProviders
	}
	return rules, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			set[item] = true
		}
	}
	return set
}
