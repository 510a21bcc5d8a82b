package dispatch

import (
	"context"
	"sort"

	"udos/internal/catalog"
)

// Handler executes one canonical command. Implementations are selected
// from the registry by catalog handler id; the catalog is the single
// source of truth the registry must match.
type Handler interface {
	Kind() catalog.Kind
	Handle(ctx context.Context, req *Request, args []string) (*Payload, error)
}

// HandlerFunc adapts a function to the Handler interface with a kind tag.
type HandlerFunc struct {
	CommandKind catalog.Kind
	Fn          func(ctx context.Context, req *Request, args []string) (*Payload, error)
}

func (h HandlerFunc) Kind() catalog.Kind { return h.CommandKind }

func (h HandlerFunc) Handle(ctx context.Context, req *Request, args []string) (*Payload, error) {
	return h.Fn(ctx, req, args)
}

// echoHandler is the default handler: it acknowledges the command with its
// parsed name and args. Subsystem-backed commands override it at engine
// construction.
type echoHandler struct {
	name string
}

func (h echoHandler) Kind() catalog.Kind { return catalog.KindOf(h.name) }

func (h echoHandler) Handle(_ context.Context, _ *Request, args []string) (*Payload, error) {
	if args == nil {
		args = []string{}
	}
	return &Payload{Command: h.name, Args: args}, nil
}

// Registry maps canonical command names to handlers.
type Registry struct {
	handlers map[string]Handler
	names    map[string]string // handler id -> command name
}

// NewRegistry builds a registry with a default handler for every
// dispatchable command.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		names:    make(map[string]string),
	}
	for _, name := range catalog.Dispatchable() {
		r.handlers[catalog.HandlerID(name)] = echoHandler{name: name}
		r.names[catalog.HandlerID(name)] = name
	}
	return r
}

// Register overrides the handler for a command. Registering an unknown
// command is a programming error surfaced by the parity test.
func (r *Registry) Register(name string, h Handler) {
	id := catalog.HandlerID(name)
	r.handlers[id] = h
	r.names[id] = name
}

// Get returns the handler for a command name, or nil.
func (r *Registry) Get(name string) Handler {
	return r.handlers[catalog.HandlerID(name)]
}

// RegisteredCommands returns the sorted command names with handlers.
func (r *Registry) RegisteredCommands() []string {
	out := make([]string, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
