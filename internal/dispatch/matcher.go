package dispatch

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"udos/internal/catalog"
	"udos/internal/logging"
)

// fuzzyFloor is the normalized-similarity floor for fuzzy acceptance.
const fuzzyFloor = 0.8

// fuzzyMinHeadLen keeps short shell tokens (ls, nc) out of fuzzy matching.
const fuzzyMinHeadLen = 4

// MatchResult is the stage-1 classification of an input.
type MatchResult struct {
	Command    string
	Args       []string
	Confidence float64
	Reason     string
}

// Match classifies an input as a canonical command or no_match. Alias
// bridges are consulted before the canonical set so legacy tokens like
// RESTART land on their replacements.
func Match(input string) MatchResult {
	tokens := Tokenize(input)
	if len(tokens) == 0 {
		return MatchResult{Confidence: 0, Reason: "no_match"}
	}

	head := strings.ToUpper(tokens[0])
	args := tokens[1:]

	if canonical, ok := catalog.ResolveAlias(head); ok {
		logging.DispatchDebug("stage-1 alias bridge %s -> %s", head, canonical)
		return MatchResult{Command: canonical, Args: args, Confidence: 1.0, Reason: "alias"}
	}

	if catalog.IsCanonical(head) {
		return MatchResult{Command: head, Args: args, Confidence: 1.0, Reason: "canonical"}
	}

	// Bounded fuzzy matching: only purely alphabetic heads of length >= 4
	// are eligible, so raw shell lines fall through to stage 2.
	if isAlpha(head) && len(head) >= fuzzyMinHeadLen {
		if cmd, conf := fuzzyMatch(head); cmd != "" {
			logging.DispatchDebug("stage-1 fuzzy %s -> %s (%.2f)", head, cmd, conf)
			return MatchResult{Command: cmd, Args: args, Confidence: conf, Reason: "fuzzy"}
		}
	}

	return MatchResult{Confidence: 0, Reason: "no_match"}
}

// fuzzyMatch returns the best canonical candidate above both the global
// floor and the candidate's own threshold. Ties break on catalog order.
func fuzzyMatch(head string) (string, float64) {
	var best string
	var bestScore float64
	for _, name := range catalog.CanonicalCommands() {
		score := similarity(head, name)
		if score < fuzzyFloor || score < catalog.MinConfidence(name) {
			continue
		}
		if score > bestScore {
			best = name
			bestScore = score
		}
	}
	if best == "" {
		return "", 0
	}
	// A fuzzy hit on an aliased legacy name still lands on the bridge target.
	if target, ok := catalog.ResolveAlias(best); ok {
		best = target
	}
	return best, bestScore
}

// similarity is normalized edit distance: 1 - dist/max(len).
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// Tokenize splits on whitespace while preserving quoted substrings. Quotes
// themselves are stripped; an unterminated quote runs to end of input.
func Tokenize(input string) []string {
	var tokens []string
	var sb strings.Builder
	var quote rune

	flush := func() {
		if sb.Len() > 0 {
			tokens = append(tokens, sb.String())
			sb.Reset()
		}
	}

	for _, r := range input {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				sb.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
		case r == ' ' || r == '\t':
			flush()
		default:
			sb.WriteRune(r)
		}
	}
	flush()
	return tokens
}
