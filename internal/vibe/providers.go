// Package vibe implements the stage-3 generative fallback: an ordered
// chain of cloud providers walked until one answers, with typed failover
// classification per attempt.
package vibe

import "strings"

// APIStyle selects the request/response shape for a provider.
type APIStyle string

const (
	StyleOpenAIChat        APIStyle = "openai_chat"
	StyleAnthropicMessages APIStyle = "anthropic_messages"
	StyleGeminiGenerate    APIStyle = "gemini_generate"
)

// Descriptor is the immutable definition of one cloud backend.
type Descriptor struct {
	ID           string
	APIStyle     APIStyle
	Endpoint     string
	AuthEnvVar   string
	DefaultModel string
}

// descriptors is the fixed provider set. Endpoints are overridable per
// client for proxy deployments; everything else is constant.
var descriptors = map[string]Descriptor{
	"mistral": {
		ID:           "mistral",
		APIStyle:     StyleOpenAIChat,
		Endpoint:     "https://api.mistral.ai/v1/chat/completions",
		AuthEnvVar:   "MISTRAL_API_KEY",
		DefaultModel: "mistral-small-latest",
	},
	"openrouter": {
		ID:           "openrouter",
		APIStyle:     StyleOpenAIChat,
		Endpoint:     "https://openrouter.ai/api/v1/chat/completions",
		AuthEnvVar:   "OPENROUTER_API_KEY",
		DefaultModel: "openrouter/auto",
	},
	"openai": {
		ID:           "openai",
		APIStyle:     StyleOpenAIChat,
		Endpoint:     "https://api.openai.com/v1/chat/completions",
		AuthEnvVar:   "OPENAI_API_KEY",
		DefaultModel: "gpt-4o-mini",
	},
	"anthropic": {
		ID:           "anthropic",
		APIStyle:     StyleAnthropicMessages,
		Endpoint:     "https://api.anthropic.com/v1/messages",
		AuthEnvVar:   "ANTHROPIC_API_KEY",
		DefaultModel: "claude-3-5-haiku-latest",
	},
	"gemini": {
		ID:           "gemini",
		APIStyle:     StyleGeminiGenerate,
		Endpoint:     "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
		AuthEnvVar:   "GEMINI_API_KEY",
		DefaultModel: "gemini-2.0-flash",
	},
}

// defaultChain is the built-in attempt order when no env configures one.
var defaultChain = []string{"mistral", "openrouter", "openai", "anthropic", "gemini"}

// Lookup returns the descriptor for a provider id.
func Lookup(id string) (Descriptor, bool) {
	d, ok := descriptors[strings.ToLower(strings.TrimSpace(id))]
	return d, ok
}

// DefaultChain returns a copy of the built-in provider order.
func DefaultChain() []string {
	out := make([]string, len(defaultChain))
	copy(out, defaultChain)
	return out
}

// ResolveChain picks the attempt order: an explicit chain wins, then
// primary+secondary, then the built-in default. Unknown ids are dropped;
// duplicates keep their first position. An explicit chain that resolves
// to nothing falls through to the next source.
func ResolveChain(explicit []string, primary, secondary string) []string {
	if chain := normalizeChain(explicit); len(chain) > 0 {
		return chain
	}
	if chain := normalizeChain([]string{primary, secondary}); len(chain) > 0 {
		return chain
	}
	return DefaultChain()
}

func normalizeChain(ids []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		if _, ok := descriptors[id]; !ok {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
