// Package gatekeeper classifies donation messages before they reach the plan
// generator. Unsafe messages are routed to a fixed fallback card; the
// generator is never invoked for them.
package gatekeeper

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"drawstream/internal/domain"
)

// DefaultRules covers the unsafe-term lists for both supported languages.
var DefaultRules = []string{
	`(?i)\b(?:nsfw|porn|porno|xxx|sex|sexual|nude|naked|strip|fetish)\b`,
	`(?i)(?:эроти\w*|секс|порно|голый|голая|голыми|груди|сиськ\w*|член|пенис|вагин\w*|камшот)`,
	`(?i)\b(?:18\+|adult only|onlyfans|lewd)\b`,
	`(?i)\b(?:fuck|fucking|cunt|dick|cock|boobs|tits|pussy|vagina|stripper|striptease)\b`,
	`(?i)(?:хуй|хуи|пизд\w*|жоп\w*|анальн\w*|оральн\w*|минет|кунилинг\w*|куни)`,
	`(?i)\bnsfw_test\w*\b`,
}

// Gatekeeper matches messages against compiled unsafe patterns. Classify is
// deterministic and safe for concurrent use.
type Gatekeeper struct {
	patterns []*regexp.Regexp
}

// New compiles the given rules; with no rules it uses DefaultRules.
func New(rules ...string) (*Gatekeeper, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	g := &Gatekeeper{patterns: make([]*regexp.Regexp, 0, len(rules))}
	for _, rule := range rules {
		re, err := regexp.Compile(rule)
		if err != nil {
			return nil, fmt.Errorf("gatekeeper: compile rule %q: %w", rule, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// NewFromFile loads extra rules from a YAML file (a list of patterns under
// "rules") and appends them to the defaults. An empty path yields defaults.
func NewFromFile(path string) (*Gatekeeper, error) {
	if path == "" {
		return New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gatekeeper: read rules file: %w", err)
	}
	var file struct {
		Rules []string `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("gatekeeper: parse rules file: %w", err)
	}
	return New(append(append([]string{}, DefaultRules...), file.Rules...)...)
}

// Classify returns the verdict for a message. The reason names the matched
// pattern when the message is unsafe.
func (g *Gatekeeper) Classify(message string) domain.Verdict {
	for _, re := range g.patterns {
		if re.MatchString(message) {
			return domain.Verdict{Safe: false, Reason: re.String()}
		}
	}
	return domain.Verdict{Safe: true}
}
