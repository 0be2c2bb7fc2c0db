// Package filter evaluates ordered allow/deny rules against a mail's
// sender and subject.
package filter

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"mailticket/mailparse"
)

// Rule is one allow or deny entry as written in the rule file. A missing
// pattern means that half of the rule never matches.
type Rule struct {
	Sender        string `json:"sender"`
	Subject       string `json:"subject"`
	CaseSensitive bool   `json:"casesensitive"`
	Description   string `json:"description"`
}

// Config is the on-disk rule file layout.
type Config struct {
	Deny  []Rule `json:"deny"`
	Allow []Rule `json:"allow"`
}

type compiledRule struct {
	sender      *regexp.Regexp
	subject     *regexp.Regexp
	description string
}

func (r compiledRule) matches(m *mailparse.Mail) bool {
	if r.sender != nil && r.sender.MatchString(m.FromAddr()) {
		return true
	}
	if r.subject != nil && r.subject.MatchString(m.Subject) {
		return true
	}
	return false
}

// Filter holds the compiled rule lists in configured order.
type Filter struct {
	deny  []compiledRule
	allow []compiledRule
}

// Load reads and compiles a JSON rule file. An empty path yields a filter
// that passes everything.
func Load(path string) (*Filter, error) {
	if strings.TrimSpace(path) == "" {
		return New(Config{})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter rules: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse filter rules %s: %w", path, err)
	}
	return New(cfg)
}

// New compiles the configured rules.
func New(cfg Config) (*Filter, error) {
	deny, err := compileRules(cfg.Deny)
	if err != nil {
		return nil, fmt.Errorf("deny rules: %w", err)
	}
	allow, err := compileRules(cfg.Allow)
	if err != nil {
		return nil, fmt.Errorf("allow rules: %w", err)
	}
	return &Filter{deny: deny, allow: allow}, nil
}

// Evaluate runs every deny rule, then, only if the mail was denied, every
// allow rule. An allow match overrides the deny. Reasons are recorded in
// evaluation order.
func (f *Filter) Evaluate(m *mailparse.Mail) (bool, []string) {
	filtered := false
	var reasons []string

	for _, rule := range f.deny {
		if rule.matches(m) {
			filtered = true
			reasons = append(reasons, "DENIED: "+rule.description)
		}
	}

	// Allow rules only exist to override a deny; an allow-listed sender
	// that was never denied produces no allow reason.
	if filtered {
		for _, rule := range f.allow {
			if rule.matches(m) {
				filtered = false
				reasons = append(reasons, "ALLOWED: "+rule.description)
			}
		}
	}

	return filtered, reasons
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		description := rule.Description
		if description == "" {
			description = fmt.Sprintf("rule #%d", i+1)
		}

		cr := compiledRule{description: description}

		var err error
		if cr.sender, err = compilePattern(rule.Sender, rule.CaseSensitive); err != nil {
			return nil, fmt.Errorf("%s sender pattern: %w", description, err)
		}
		if cr.subject, err = compilePattern(rule.Subject, rule.CaseSensitive); err != nil {
			return nil, fmt.Errorf("%s subject pattern: %w", description, err)
		}
		compiled = append(compiled, cr)
	}
	return compiled, nil
}

func compilePattern(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return re, nil
}
