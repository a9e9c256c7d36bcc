package patmux

import (
	"context"
	"fmt"
)

// Handler processes a dispatched message and returns a result. For event
// registrations the result is discarded; returning nil is conventional.
//
// Handlers may suspend on I/O and are invoked concurrently for different
// inbound messages. The ctx carries any caller-supplied deadline; a
// cancellation surfaces as an ordinary returned error.
type Handler func(ctx context.Context, msg *Msg) (any, error)

// Guard is an authorization check run before any middleware or handler.
// A guard blocks a dispatch by returning an error; it must not mutate the
// message context.
//
// Example:
//
//	reg.AddGlobalGuard(patmux.RequireMeta("token"))
type Guard func(ctx context.Context, msg *Msg) error

// Middleware enriches the message context around a handler.
//
// Before runs ahead of the handler and may return a bag of values that is
// shallow-merged into the message's enrichment bag, or block the dispatch
// by returning an error. After runs once the handler has produced a result
// and is for observability and cleanup; it cannot alter the result.
type Middleware interface {
	Before(ctx context.Context, msg *Msg) (map[string]any, error)
	After(ctx context.Context, msg *Msg, result any)
}

// MiddlewareFunc builds a Middleware from optional before/after functions.
// Either may be nil:
//
//	patmux.MiddlewareFunc(
//	    func(ctx context.Context, msg *patmux.Msg) (map[string]any, error) {
//	        return map[string]any{"requestID": newID()}, nil
//	    },
//	    nil,
//	)
func MiddlewareFunc(
	before func(ctx context.Context, msg *Msg) (map[string]any, error),
	after func(ctx context.Context, msg *Msg, result any),
) Middleware {
	return &middlewareFunc{before: before, after: after}
}

// BeforeFunc builds a before-only Middleware.
func BeforeFunc(fn func(ctx context.Context, msg *Msg) (map[string]any, error)) Middleware {
	return &middlewareFunc{before: fn}
}

// AfterFunc builds an after-only Middleware.
func AfterFunc(fn func(ctx context.Context, msg *Msg, result any)) Middleware {
	return &middlewareFunc{after: fn}
}

type middlewareFunc struct {
	before func(ctx context.Context, msg *Msg) (map[string]any, error)
	after  func(ctx context.Context, msg *Msg, result any)
}

func (m *middlewareFunc) Before(ctx context.Context, msg *Msg) (map[string]any, error) {
	if m.before == nil {
		return nil, nil
	}
	return m.before(ctx, msg)
}

func (m *middlewareFunc) After(ctx context.Context, msg *Msg, result any) {
	if m.after != nil {
		m.after(ctx, msg, result)
	}
}

// Hook is a legacy pre-handler callback. Unlike guards and middleware it
// cannot block or enrich; it exists for compatibility with the simpler
// before/after hook API.
type Hook func(ctx context.Context, msg *Msg)

// AfterHook is a legacy post-handler callback given the handler result.
type AfterHook func(ctx context.Context, msg *Msg, result any)

// ErrorHandler observes pipeline errors. It is notified once per failed
// dispatch and must not swallow the error: the registry re-returns the
// error to the caller regardless.
type ErrorHandler func(ctx context.Context, msg *Msg, err error)

// RequireMeta returns a Guard that blocks unless all paths exist in the
// message metadata.
func RequireMeta(paths ...string) Guard {
	return func(ctx context.Context, msg *Msg) error {
		for _, p := range paths {
			if !msg.HasMeta(p) {
				return fmt.Errorf("unauthorized: missing meta field %q", p)
			}
		}
		return nil
	}
}

// MetaEquals returns a Guard that blocks unless the metadata path exists
// and equals the given string value.
func MetaEquals(path, value string) Guard {
	return func(ctx context.Context, msg *Msg) error {
		s, ok := msg.MetaString(path)
		if !ok || s != value {
			return fmt.Errorf("unauthorized: meta field %q mismatch", path)
		}
		return nil
	}
}

// GuardAnd returns a Guard that passes only when all guards pass.
func GuardAnd(guards ...Guard) Guard {
	return func(ctx context.Context, msg *Msg) error {
		for _, g := range guards {
			if err := g(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}
}

// GuardOr returns a Guard that passes when any guard passes. The last
// guard's error is returned when none do.
func GuardOr(guards ...Guard) Guard {
	return func(ctx context.Context, msg *Msg) error {
		var err error
		for _, g := range guards {
			if err = g(ctx, msg); err == nil {
				return nil
			}
		}
		return err
	}
}
