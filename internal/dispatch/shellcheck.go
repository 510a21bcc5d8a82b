package dispatch

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"udos/internal/logging"
)

//go:embed shell_rules.yaml
var shellRulesYAML []byte

// dangerousPattern is one entry of the dangerous-pattern table.
type dangerousPattern struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`

	re *regexp.Regexp
}

// ShellRules is the versioned shell-safety table. The lists are data, not
// code, so the confirmation gate can tighten without touching dispatch.
type ShellRules struct {
	Version           int                `yaml:"version"`
	Metacharacters    []string           `yaml:"metacharacters"`
	DangerousPatterns []dangerousPattern `yaml:"dangerous_patterns"`
	ReadOnlyHeads     []string           `yaml:"read_only_heads"`
	MutatingHeads     []string           `yaml:"mutating_heads"`

	readOnly map[string]bool
	mutating map[string]bool
}

// LoadShellRules parses a rule table and compiles its patterns.
func LoadShellRules(data []byte) (*ShellRules, error) {
	var rules ShellRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse shell rules: %w", err)
	}
	for i := range rules.DangerousPatterns {
		re, err := regexp.Compile(rules.DangerousPatterns[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("bad dangerous pattern %q: %w", rules.DangerousPatterns[i].Pattern, err)
		}
		rules.DangerousPatterns[i].re = re
	}
	rules.readOnly = make(map[string]bool, len(rules.ReadOnlyHeads))
	for _, h := range rules.ReadOnlyHeads {
		rules.readOnly[h] = true
	}
	rules.mutating = make(map[string]bool, len(rules.MutatingHeads))
	for _, h := range rules.MutatingHeads {
		rules.mutating[h] = true
	}
	return &rules, nil
}

// DefaultShellRules loads the embedded rule table.
func DefaultShellRules() *ShellRules {
	rules, err := LoadShellRules(shellRulesYAML)
	if err != nil {
		// The embedded table is validated by tests; a parse failure here
		// is a build defect.
		panic(fmt.Sprintf("embedded shell rules invalid: %v", err))
	}
	return rules
}

// Validation is the stage-2 decision for an input.
type Validation struct {
	Safe    bool
	Reason  string
	Payload *ShellPayload
}

// ShellValidator decides whether raw input is a safe shell passthrough.
type ShellValidator struct {
	rules     *ShellRules
	allowlist map[string]bool
}

// NewShellValidator builds a validator. A non-empty allowlist restricts
// shell heads to exactly that set.
func NewShellValidator(rules *ShellRules, allowlist []string) *ShellValidator {
	v := &ShellValidator{rules: rules}
	if len(allowlist) > 0 {
		v.allowlist = make(map[string]bool, len(allowlist))
		for _, h := range allowlist {
			v.allowlist[h] = true
		}
	}
	return v
}

// Validate applies the rule table to one raw input line.
func (v *ShellValidator) Validate(input string) Validation {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Validation{Safe: false, Reason: "empty"}
	}

	for _, meta := range v.rules.Metacharacters {
		if strings.Contains(input, meta) {
			logging.ShellDebug("rejected %q: metacharacter %q", input, meta)
			return Validation{Safe: false, Reason: "metachar_chain"}
		}
	}

	for _, dp := range v.rules.DangerousPatterns {
		if dp.re.MatchString(input) {
			logging.ShellWarn("rejected %q: dangerous pattern %s", input, dp.Reason)
			return Validation{Safe: false, Reason: dp.Reason}
		}
	}

	tokens := Tokenize(trimmed)
	if len(tokens) == 0 {
		return Validation{Safe: false, Reason: "empty"}
	}
	head := tokens[0]

	allowlistEnabled := v.allowlist != nil
	var reason string
	switch {
	case allowlistEnabled:
		if !v.allowlist[head] {
			logging.ShellDebug("rejected %q: head %q not in allowlist", input, head)
			return Validation{Safe: false, Reason: "head_not_allowed"}
		}
		reason = "allowlist"
	case v.rules.readOnly[head]:
		reason = "builtin_read_only"
	case v.rules.mutating[head]:
		reason = "builtin_mutating"
	default:
		logging.ShellDebug("rejected %q: head %q not in builtin safe set", input, head)
		return Validation{Safe: false, Reason: "head_not_allowed"}
	}

	return Validation{
		Safe:   true,
		Reason: reason,
		Payload: &ShellPayload{
			Command:              head,
			Args:                 tokens[1:],
			Raw:                  input,
			ValidationReason:     reason,
			AllowlistEnabled:     allowlistEnabled,
			BlocklistEnabled:     true,
			RequiresConfirmation: !v.rules.readOnly[head],
		},
	}
}
