// Package toolbridge answers tool calls the remote agent makes mid-conversation.
//
// A [Bridge] holds a registry of named local tools. For each call it
// recognises it runs the tool's handler, which applies any local side effect,
// and then sends exactly one response carrying the call's ID back through the
// session. Every recognised call is acknowledged, including calls whose
// handler fails or panics: the agent will not continue its turn until it hears
// back. Calls naming an unknown tool are ignored and produce no response.
//
// Typical usage:
//
//	b := toolbridge.New(toolbridge.ResortTools(catalog, display))
//	cfg.Tools = b.Definitions()
//	...
//	case s2s.EventToolCall:
//	    b.Handle(ctx, handle, ev.ToolCalls)
package toolbridge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dreamit/concierge/pkg/provider/s2s"
)

const defaultToolTimeout = 5 * time.Second

// Outcome labels reported to the observer.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusPanic      = "panic"
	StatusSendFailed = "send_failed"
)

// Handler runs a tool. args is the agent's argument bag, which may be nil or
// carry unexpected keys. The returned map becomes the response payload; a
// non-nil error is reported to the agent in the payload instead.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool is a named local function the agent may call.
type Tool struct {
	// Definition is declared to the agent when the session opens.
	Definition s2s.ToolDefinition

	// Handler executes the tool. It must be safe for concurrent use.
	Handler Handler
}

// Responder is the part of a session the bridge answers through.
type Responder interface {
	SendToolResponse(responses ...s2s.ToolResponse) error
}

// Observer is notified once per recognised call with its final status.
type Observer func(name, status string, elapsed time.Duration)

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithToolTimeout bounds each handler's context. Default: 5s.
func WithToolTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithObserver registers fn to receive per-call outcomes.
func WithObserver(fn Observer) Option {
	return func(b *Bridge) { b.observer = fn }
}

// Bridge routes tool calls to registered handlers. It is safe for concurrent
// use.
type Bridge struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	order    []string
	timeout  time.Duration
	observer Observer
}

// New creates a Bridge with tools registered. Later tools with a duplicate
// name replace earlier ones.
func New(tools []Tool, opts ...Option) *Bridge {
	b := &Bridge{
		tools:   make(map[string]Tool, len(tools)),
		timeout: defaultToolTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	for _, t := range tools {
		b.Register(t)
	}
	return b
}

// Register adds or replaces a tool. Tools without a name or handler are
// ignored.
func (b *Bridge) Register(t Tool) {
	name := t.Definition.Name
	if name == "" || t.Handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tools[name]; !ok {
		b.order = append(b.order, name)
	}
	b.tools[name] = t
}

// Definitions returns the declared tool schemas in registration order.
func (b *Bridge) Definitions() []s2s.ToolDefinition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	defs := make([]s2s.ToolDefinition, 0, len(b.order))
	for _, name := range b.order {
		defs = append(defs, b.tools[name].Definition)
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (b *Bridge) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.order)
}

// Handle processes calls in order and returns how many were recognised. Each
// recognised call gets its response sent as soon as its handler returns. A
// failed send is logged and does not stop the remaining calls.
func (b *Bridge) Handle(ctx context.Context, r Responder, calls []s2s.ToolCall) int {
	handled := 0
	for _, call := range calls {
		b.mu.RLock()
		tool, ok := b.tools[call.Name]
		b.mu.RUnlock()
		if !ok {
			slog.Debug("toolbridge: ignoring unknown tool", "name", call.Name, "id", call.ID)
			continue
		}
		handled++

		start := time.Now()
		payload, status := b.run(ctx, tool, call)

		err := r.SendToolResponse(s2s.ToolResponse{ID: call.ID, Name: call.Name, Response: payload})
		if err != nil {
			slog.Warn("toolbridge: failed to send tool response", "name", call.Name, "id", call.ID, "err", err)
			status = StatusSendFailed
		}
		if b.observer != nil {
			b.observer(call.Name, status, time.Since(start))
		}
	}
	return handled
}

// run invokes the handler and always produces a payload.
func (b *Bridge) run(ctx context.Context, tool Tool, call s2s.ToolCall) (payload map[string]any, status string) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("toolbridge: tool handler panicked", "name", call.Name, "id", call.ID, "panic", p)
			payload = map[string]any{"ok": false, "error": fmt.Sprintf("tool %q failed", call.Name)}
			status = StatusPanic
		}
	}()

	out, err := tool.Handler(ctx, call.Args)
	if err != nil {
		slog.Warn("toolbridge: tool returned error", "name", call.Name, "id", call.ID, "err", err)
		if out == nil {
			out = map[string]any{}
		}
		out["ok"] = false
		out["error"] = err.Error()
		return out, StatusError
	}
	if out == nil {
		out = map[string]any{}
	}
	if _, set := out["ok"]; !set {
		out["ok"] = true
	}
	return out, StatusOK
}
