// Package toolx holds the closed set of tools an agent may call. A Registry
// is built once at startup from concrete Tool implementations and resolves
// calls by name; after construction it cannot be extended.
package toolx

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/errx"
	"github.com/Abraxas-365/rollout/pkg/logx"
)

// Spec describes a tool to the model and to the admission limiter.
type Spec struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
}

// Tool is a single callable backend.
type Tool interface {
	Spec() Spec
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Dispatcher turns a named call into an observation. It never fails: every
// problem is reported in the returned text.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) string
}

// FuncTool adapts a function to the Tool interface.
type FuncTool struct {
	spec Spec
	fn   func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunc wraps fn as a tool.
func NewFunc(spec Spec, fn func(ctx context.Context, args map[string]any) (string, error)) *FuncTool {
	return &FuncTool{spec: spec, fn: fn}
}

func (t *FuncTool) Spec() Spec { return t.spec }

func (t *FuncTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}

// Registry maps tool names to implementations.
type Registry struct {
	tools   map[string]Tool
	names   []string
	limiter *asyncx.Limiter
	timeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLimiter bounds concurrent calls per tool kind.
func WithLimiter(l *asyncx.Limiter) Option {
	return func(r *Registry) { r.limiter = l }
}

// WithCallTimeout bounds every call. 0 disables.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// NewRegistry builds a closed registry. Names must be unique and non-empty.
func NewRegistry(tools []Tool, opts ...Option) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		spec := t.Spec()
		if spec.Name == "" {
			return nil, toolErrors.New(ErrInvalidSpec).WithDetail("reason", "empty name")
		}
		if _, dup := r.tools[spec.Name]; dup {
			return nil, toolErrors.New(ErrDuplicateTool).WithDetail("tool", spec.Name)
		}
		r.tools[spec.Name] = t
		r.names = append(r.names, spec.Name)
	}
	sort.Strings(r.names)
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Specs returns every tool spec, sorted by name.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.tools[n].Spec())
	}
	return out
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Describe renders the tool list for a system prompt.
func (r *Registry) Describe() string {
	var sb strings.Builder
	for _, s := range r.Specs() {
		fmt.Fprintf(&sb, "- %s: %s", s.Name, s.Description)
		if len(s.Required) > 0 {
			fmt.Fprintf(&sb, " (required arguments: %s)", strings.Join(s.Required, ", "))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Dispatch runs the named tool and returns its observation. Unknown tools,
// missing arguments, failures and panics all come back as descriptive text.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (out string) {
	tool, ok := r.tools[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q. Available tools: %s.", name, strings.Join(r.names, ", "))
	}
	spec := tool.Spec()
	for _, req := range spec.Required {
		if _, present := args[req]; !present {
			return fmt.Sprintf("Error: tool %q requires argument %q.", name, req)
		}
	}

	kind := spec.Kind
	if kind == "" {
		kind = spec.Name
	}
	release, err := r.limiter.Acquire(ctx, kind)
	if err != nil {
		return fmt.Sprintf("Error: tool %q was not started: %v", name, err)
	}
	defer release()

	defer func() {
		if rec := recover(); rec != nil {
			logx.WithContext(ctx).WithFields(logx.Fields{
				"tool":  name,
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			}).Error("tool panicked")
			out = fmt.Sprintf("Error: tool %q crashed: %v", name, rec)
		}
	}()

	call := func(ctx context.Context) (string, error) { return tool.Call(ctx, args) }
	var result string
	if r.timeout > 0 {
		result, err = asyncx.WithTimeout(ctx, r.timeout, call)
	} else {
		result, err = call(ctx)
	}
	if errx.HasCode(err, asyncx.ErrTaskPanic) {
		// Panicked on the timeout goroutine, out of reach of the recover above.
		cause := errors.Unwrap(err)
		logx.WithContext(ctx).WithFields(logx.Fields{
			"tool":  name,
			"panic": fmt.Sprint(cause),
		}).Error("tool panicked")
		return fmt.Sprintf("Error: tool %q crashed: %v", name, cause)
	}
	if err != nil {
		logx.WithContext(ctx).WithField("tool", name).WithError(err).Debug("tool call failed")
		return fmt.Sprintf("Error: tool %q failed: %v", name, err)
	}
	return result
}
