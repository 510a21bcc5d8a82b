// Package catalog holds the canonical uCODE command catalog and the legacy
// alias bridges. The catalog is fixed at initialization; aliases are
// additive only - removing one is a breaking change for saved scripts.
package catalog

import "strings"

// Kind classifies a command's side effects.
type Kind string

const (
	KindReadOnly    Kind = "read_only"
	KindMutating    Kind = "mutating"
	KindDestructive Kind = "destructive"
)

// Entry describes one canonical command.
type Entry struct {
	Name          string
	Kind          Kind
	MinConfidence float64
	Handler       string
}

// defaultMinConfidence is the fuzzy-match floor for stage-1 acceptance.
const defaultMinConfidence = 0.8

// entries is the canonical command set, in catalog order. Ties in fuzzy
// matching break on this order.
var entries = []Entry{
	{Name: "ANCHOR", Kind: KindMutating},
	{Name: "BAG", Kind: KindMutating},
	{Name: "BINDER", Kind: KindMutating},
	{Name: "CLEAN", Kind: KindMutating},
	{Name: "COMPOST", Kind: KindDestructive},
	{Name: "CONFIG", Kind: KindMutating},
	{Name: "DESTROY", Kind: KindDestructive},
	{Name: "DEV", Kind: KindMutating},
	{Name: "DRAW", Kind: KindReadOnly},
	{Name: "EMPIRE", Kind: KindMutating},
	{Name: "FILE", Kind: KindMutating},
	{Name: "FIND", Kind: KindReadOnly},
	{Name: "GHOST", Kind: KindMutating},
	{Name: "GOTO", Kind: KindMutating},
	{Name: "GRAB", Kind: KindMutating},
	{Name: "GRID", Kind: KindReadOnly},
	{Name: "HEALTH", Kind: KindReadOnly},
	{Name: "HELP", Kind: KindReadOnly},
	{Name: "LIBRARY", Kind: KindReadOnly},
	{Name: "LOAD", Kind: KindMutating},
	{Name: "LOGS", Kind: KindReadOnly},
	{Name: "MAP", Kind: KindReadOnly},
	{Name: "MIGRATE", Kind: KindMutating},
	{Name: "MODE", Kind: KindMutating},
	{Name: "MUSIC", Kind: KindReadOnly},
	{Name: "NPC", Kind: KindMutating},
	{Name: "PANEL", Kind: KindReadOnly},
	{Name: "PLACE", Kind: KindMutating},
	{Name: "PLAY", Kind: KindMutating},
	{Name: "READ", Kind: KindReadOnly},
	{Name: "REBOOT", Kind: KindMutating},
	{Name: "REPAIR", Kind: KindMutating},
	{Name: "RESTART", Kind: KindMutating},
	{Name: "RULE", Kind: KindMutating},
	{Name: "RUN", Kind: KindMutating},
	{Name: "SAVE", Kind: KindMutating},
	{Name: "SCHEDULE", Kind: KindMutating},
	{Name: "SCHEDULER", Kind: KindMutating},
	{Name: "SCRIPT", Kind: KindMutating},
	{Name: "SETUP", Kind: KindMutating},
	{Name: "SKIN", Kind: KindMutating},
	{Name: "SONIC", Kind: KindReadOnly},
	{Name: "SPAWN", Kind: KindMutating},
	{Name: "TALK", Kind: KindMutating},
	{Name: "TELL", Kind: KindMutating},
	{Name: "THEME", Kind: KindMutating},
	{Name: "TOKEN", Kind: KindMutating},
	{Name: "UID", Kind: KindReadOnly},
	{Name: "UNDO", Kind: KindMutating},
	{Name: "USER", Kind: KindMutating},
	{Name: "VERIFY", Kind: KindReadOnly},
	{Name: "VIEWPORT", Kind: KindReadOnly},
	{Name: "WIZARD", Kind: KindMutating},
}

// reserved are alias targets and compound forms that stage-1 can emit but
// that do not appear in the canonical set.
var reserved = []Entry{
	{Name: "UCODE", Kind: KindMutating},
	{Name: "SEND", Kind: KindMutating},
	{Name: "FILE NEW", Kind: KindMutating},
	{Name: "FILE EDIT", Kind: KindMutating},
}

// aliases bridges legacy tokens to canonical names. Resolutions carry full
// confidence. The exhaustive set; additive only.
var aliases = map[string]string{
	"RESTART":  "REBOOT",
	"SCHEDULE": "SCHEDULER",
	"TALK":     "SEND",
	"UCLI":     "UCODE",
	"NEW":      "FILE NEW",
	"EDIT":     "FILE EDIT",
}

var byName map[string]Entry

func init() {
	byName = make(map[string]Entry, len(entries)+len(reserved))
	for i := range entries {
		if entries[i].MinConfidence == 0 {
			entries[i].MinConfidence = defaultMinConfidence
		}
		if entries[i].Handler == "" {
			entries[i].Handler = handlerID(entries[i].Name)
		}
		byName[entries[i].Name] = entries[i]
	}
	for i := range reserved {
		if reserved[i].MinConfidence == 0 {
			reserved[i].MinConfidence = defaultMinConfidence
		}
		if reserved[i].Handler == "" {
			reserved[i].Handler = handlerID(reserved[i].Name)
		}
		byName[reserved[i].Name] = reserved[i]
	}
}

func handlerID(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// CanonicalCommands returns the fixed 54-name canonical set, in catalog
// order. The slice is a copy.
func CanonicalCommands() []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// Dispatchable returns every name stage-1 can emit: the canonical set plus
// reserved alias targets and compound forms.
func Dispatchable() []string {
	names := make([]string, 0, len(entries)+len(reserved))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	for _, e := range reserved {
		names = append(names, e.Name)
	}
	return names
}

// IsCanonical reports whether name (already uppercased) is in the canonical
// set or reserved.
func IsCanonical(name string) bool {
	_, ok := byName[name]
	return ok
}

// ResolveAlias resolves a legacy token to its canonical target. Alias
// bridges shadow their tokens: RESTART resolves to REBOOT even though
// RESTART remains listed canonically for help and kind lookups.
func ResolveAlias(token string) (canonical string, ok bool) {
	canonical, ok = aliases[strings.ToUpper(token)]
	return canonical, ok
}

// Aliases returns a copy of the alias bridge table.
func Aliases() map[string]string {
	out := make(map[string]string, len(aliases))
	for k, v := range aliases {
		out[k] = v
	}
	return out
}

// KindOf returns the side-effect kind of a canonical or reserved command.
// Unknown names report mutating, the conservative default.
func KindOf(name string) Kind {
	if e, ok := byName[strings.ToUpper(name)]; ok {
		return e.Kind
	}
	return KindMutating
}

// MinConfidence returns the stage-1 acceptance threshold for a command.
func MinConfidence(name string) float64 {
	if e, ok := byName[strings.ToUpper(name)]; ok {
		return e.MinConfidence
	}
	return defaultMinConfidence
}

// HandlerID returns the registry key for a command's handler.
func HandlerID(name string) string {
	if e, ok := byName[strings.ToUpper(name)]; ok {
		return e.Handler
	}
	return handlerID(name)
}
