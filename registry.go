package patmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoHandler is returned by Dispatch when no entry and no fallback
// matches the incoming pattern. A registry never silently drops a message.
var ErrNoHandler = errors.New("no handler found")

// entry is one pattern-to-handler registration. Entries are immutable after
// the setup phase; the registry assumes registration completes before
// dispatch begins.
type entry struct {
	pattern string
	handler Handler
	matcher matcher

	// guards is a reserved per-entry slot; no registration path populates
	// it yet but the pipeline honors it between group guards and global
	// middleware.
	guards []Guard

	middleware []Middleware
	before     []Hook
	after      []AfterHook
}

// RegisterOption customizes a single registration.
type RegisterOption func(*entry)

// WithMiddleware attaches middleware to the registered handler. Before
// phases run after group middleware; After phases run first among the
// After levels, in registration order.
func WithMiddleware(mw ...Middleware) RegisterOption {
	return func(e *entry) {
		e.middleware = append(e.middleware, mw...)
	}
}

// WithBeforeHook attaches legacy pre-handler hooks to the registration.
func WithBeforeHook(hooks ...Hook) RegisterOption {
	return func(e *entry) {
		e.before = append(e.before, hooks...)
	}
}

// WithAfterHook attaches legacy post-handler hooks to the registration.
func WithAfterHook(hooks ...AfterHook) RegisterOption {
	return func(e *entry) {
		e.after = append(e.after, hooks...)
	}
}

// Registry is one dispatch table: it owns registered entries, at most one
// fallback handler, and the global guard/middleware/hook state applied
// around every resolved handler.
//
// A Registry is safe for concurrent dispatch after configuration. Do not
// call Register, RegisterFallback, Group, or any Add/Set method once
// Dispatch is in use.
type Registry struct {
	exact    map[string]*entry
	entries  []*entry
	fallback Handler

	guards     []Guard
	middleware []Middleware

	groups        []*Group
	groupByPrefix map[string]*Group

	beforeHooks []Hook
	afterHooks  []AfterHook

	errHandler ErrorHandler
}

// NewRegistry creates an empty dispatch table.
func NewRegistry() *Registry {
	return &Registry{
		exact:         make(map[string]*entry),
		groupByPrefix: make(map[string]*Group),
	}
}

// Register compiles the pattern and stores an entry for it. The literal
// pattern string is both the exact-lookup key and the scan key, so
// registering the same pattern twice overwrites the exact-lookup slot while
// the earlier entry remains in scan order.
func (r *Registry) Register(pattern string, h Handler, opts ...RegisterOption) error {
	m, err := compilePattern(pattern)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	e := &entry{pattern: pattern, handler: h, matcher: m}
	for _, opt := range opts {
		opt(e)
	}

	r.exact[pattern] = e
	r.entries = append(r.entries, e)
	return nil
}

// RegisterFallback stores the catch-all handler invoked when no entry
// matches. A registry holds at most one fallback; registering again
// overwrites the previous one.
func (r *Registry) RegisterFallback(h Handler) {
	r.fallback = h
}

// AddGuard appends global guards. They run first, in registration order,
// for every dispatch.
func (r *Registry) AddGuard(guards ...Guard) {
	r.guards = append(r.guards, guards...)
}

// AddMiddleware appends global middleware. Before phases run in
// registration order after all guards; After phases run last, in reverse
// registration order.
func (r *Registry) AddMiddleware(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

// AddBeforeHook appends legacy global pre-handler hooks.
func (r *Registry) AddBeforeHook(hooks ...Hook) {
	r.beforeHooks = append(r.beforeHooks, hooks...)
}

// AddAfterHook appends legacy global post-handler hooks.
func (r *Registry) AddAfterHook(hooks ...AfterHook) {
	r.afterHooks = append(r.afterHooks, hooks...)
}

// SetErrorHandler sets the observational error callback. It is notified
// once per failed dispatch before the error is returned to the caller; it
// cannot suppress the error.
func (r *Registry) SetErrorHandler(fn ErrorHandler) {
	r.errHandler = fn
}

// Group returns the guard/middleware group for the prefix, creating and
// caching it on first use. Groups apply to every dispatch whose incoming
// pattern matches the prefix rule, in group-creation order.
func (r *Registry) Group(prefix string) *Group {
	if g, ok := r.groupByPrefix[prefix]; ok {
		return g
	}
	g := newGroup(prefix)
	r.groupByPrefix[prefix] = g
	r.groups = append(r.groups, g)
	return g
}

// Patterns returns all registered pattern strings in registration order.
// Broker-style transports use this to derive subscriptions.
func (r *Registry) Patterns() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.pattern
	}
	return out
}

// Resolve selects the best entry for an incoming pattern and returns its
// handler wrapped with the full guard/middleware pipeline.
//
// Priority: an exact registration always wins; otherwise the
// wildcard/regex entry with the highest specificity (first registered on
// ties); otherwise the fallback. matched is the winning entry's registered
// pattern, or "" for the fallback. ok is false when nothing matched.
func (r *Registry) Resolve(pattern string) (h Handler, matched string, ok bool) {
	if e, found := r.exact[pattern]; found && e.matcher.kind == matchExact {
		return r.wrap(e, pattern), e.pattern, true
	}

	var best *entry
	for _, e := range r.entries {
		if e.matcher.kind == matchExact {
			continue
		}
		if !e.matcher.match(pattern) {
			continue
		}
		if best == nil || e.matcher.specificity > best.matcher.specificity {
			best = e
		}
	}
	if best != nil {
		return r.wrap(best, pattern), best.pattern, true
	}

	if r.fallback != nil {
		e := &entry{pattern: PatternAny, handler: r.fallback}
		return r.wrap(e, pattern), "", true
	}

	return nil, "", false
}

// Dispatch resolves the incoming pattern and runs the wrapped handler with
// a fresh message context. It is the resolveAndRun contract: resolution
// failure returns ErrNoHandler naming the pattern, and any pipeline error
// is reported once to the error handler and then returned.
func (r *Registry) Dispatch(ctx context.Context, pattern string, data, meta json.RawMessage) (any, error) {
	h, matched, ok := r.Resolve(pattern)
	if !ok {
		return nil, fmt.Errorf("%w for pattern %q", ErrNoHandler, pattern)
	}

	msg := &Msg{
		Pattern: pattern,
		Matched: matched,
		Data:    data,
		Meta:    meta,
	}
	if matched == "" {
		// Fallback execution: preserve the unmatched pattern and expose
		// the synthetic match pattern.
		msg.Incoming = pattern
		msg.Pattern = PatternAny
	}

	return h(ctx, msg)
}

// wrap surrounds an entry's handler with the three-tier pipeline. The
// returned handler reports errors to the error handler exactly once and
// re-returns them.
func (r *Registry) wrap(e *entry, incoming string) Handler {
	groups := r.matchingGroups(incoming)
	return func(ctx context.Context, msg *Msg) (any, error) {
		result, err := r.run(ctx, e, groups, msg)
		if err != nil {
			if r.errHandler != nil {
				r.errHandler(ctx, msg, err)
			}
			return nil, err
		}
		return result, nil
	}
}

// matchingGroups returns the groups whose prefix rule matches the incoming
// pattern, in group-creation order.
func (r *Registry) matchingGroups(pattern string) []*Group {
	var out []*Group
	for _, g := range r.groups {
		if g.matches(pattern) {
			out = append(out, g)
		}
	}
	return out
}

// run executes the strict phase order around the handler:
//
//	global guards → group guards → entry guards →
//	global Before → group Before → entry Before →
//	legacy before hooks (global, entry) →
//	handler →
//	entry After → group After (reverse) → global After (reverse) →
//	legacy after hooks (global, entry)
//
// The whole sequence shares one error path: a guard or Before failure
// skips every later phase, including all After phases. After is therefore
// guaranteed only relative to a handler that actually ran.
func (r *Registry) run(ctx context.Context, e *entry, groups []*Group, msg *Msg) (any, error) {
	for _, g := range r.guards {
		if err := g(ctx, msg); err != nil {
			return nil, err
		}
	}
	for _, grp := range groups {
		for _, g := range grp.guards {
			if err := g(ctx, msg); err != nil {
				return nil, err
			}
		}
	}
	for _, g := range e.guards {
		if err := g(ctx, msg); err != nil {
			return nil, err
		}
	}

	for _, mw := range r.middleware {
		bag, err := mw.Before(ctx, msg)
		if err != nil {
			return nil, err
		}
		msg.merge(bag)
	}
	for _, grp := range groups {
		for _, mw := range grp.middleware {
			bag, err := mw.Before(ctx, msg)
			if err != nil {
				return nil, err
			}
			msg.merge(bag)
		}
	}
	for _, mw := range e.middleware {
		bag, err := mw.Before(ctx, msg)
		if err != nil {
			return nil, err
		}
		msg.merge(bag)
	}

	for _, hook := range r.beforeHooks {
		hook(ctx, msg)
	}
	for _, hook := range e.before {
		hook(ctx, msg)
	}

	result, err := e.handler(ctx, msg)
	if err != nil {
		return nil, err
	}

	for _, mw := range e.middleware {
		mw.After(ctx, msg, result)
	}
	for i := len(groups) - 1; i >= 0; i-- {
		for j := len(groups[i].middleware) - 1; j >= 0; j-- {
			groups[i].middleware[j].After(ctx, msg, result)
		}
	}
	for i := len(r.middleware) - 1; i >= 0; i-- {
		r.middleware[i].After(ctx, msg, result)
	}

	for _, hook := range r.afterHooks {
		hook(ctx, msg, result)
	}
	for _, hook := range e.after {
		hook(ctx, msg, result)
	}

	return result, nil
}
