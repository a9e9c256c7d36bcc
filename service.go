package patmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Service pairs the two dispatch tables of a routing namespace: one for
// request/response messages and one for fire-and-forget events. Transports
// decode inbound frames and hand them to HandleFrame or ServeConn.
//
// Usage:
//  1. Create a service with New
//  2. Register handlers with RegisterMessage / RegisterEvent
//  3. Wire guards, middleware, and groups
//  4. Serve connections with ServeConn (or call HandleFrame directly)
//
// A Service is safe for concurrent use after configuration. Do not
// register or add guards/middleware once frames are being handled.
type Service struct {
	messages *Registry
	events   *Registry
	logger   *slog.Logger
}

// New creates a Service with the given options.
//
// Example:
//
//	s := patmux.New(
//	    patmux.WithLogger(slog.Default()),
//	    patmux.WithGlobalGuard(patmux.RequireMeta("token")),
//	)
func New(opts ...Option) *Service {
	s := &Service{
		messages: NewRegistry(),
		events:   NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Messages returns the request/response dispatch table.
func (s *Service) Messages() *Registry { return s.messages }

// Events returns the fire-and-forget dispatch table.
func (s *Service) Events() *Registry { return s.events }

// RegisterMessage registers a request/response handler for a pattern.
func (s *Service) RegisterMessage(pattern string, h Handler, opts ...RegisterOption) error {
	return s.messages.Register(pattern, h, opts...)
}

// RegisterEvent registers a fire-and-forget handler for a pattern.
func (s *Service) RegisterEvent(pattern string, h Handler, opts ...RegisterOption) error {
	return s.events.Register(pattern, h, opts...)
}

// RegisterCatchallMessage sets the message catch-all handler. At most one
// exists; registering again overwrites it.
func (s *Service) RegisterCatchallMessage(h Handler) {
	s.messages.RegisterFallback(h)
}

// RegisterCatchallEvent sets the event catch-all handler. At most one
// exists; registering again overwrites it.
func (s *Service) RegisterCatchallEvent(h Handler) {
	s.events.RegisterFallback(h)
}

// ResolveAndRunRequest dispatches a request pattern through the message
// table and returns the handler result. Resolution failure returns
// ErrNoHandler naming the pattern.
func (s *Service) ResolveAndRunRequest(ctx context.Context, pattern string, data, meta json.RawMessage) (any, error) {
	return s.messages.Dispatch(ctx, pattern, data, meta)
}

// ResolveAndRunEvent dispatches an event pattern through the event table.
// Events never return a value; any handler result is discarded.
func (s *Service) ResolveAndRunEvent(ctx context.Context, pattern string, data, meta json.RawMessage) error {
	_, err := s.events.Dispatch(ctx, pattern, data, meta)
	return err
}

// RequestPatterns returns all registered message patterns in registration
// order. Broker-style transports derive their subscriptions from this.
func (s *Service) RequestPatterns() []string { return s.messages.Patterns() }

// EventPatterns returns all registered event patterns in registration order.
func (s *Service) EventPatterns() []string { return s.events.Patterns() }

// AddGlobalGuard appends guards to both dispatch tables.
func (s *Service) AddGlobalGuard(guards ...Guard) {
	s.messages.AddGuard(guards...)
	s.events.AddGuard(guards...)
}

// AddGlobalMiddleware appends middleware to both dispatch tables.
func (s *Service) AddGlobalMiddleware(mw ...Middleware) {
	s.messages.AddMiddleware(mw...)
	s.events.AddMiddleware(mw...)
}

// SetRequestErrorHandler sets the observational error callback for the
// message table. It cannot suppress errors.
func (s *Service) SetRequestErrorHandler(fn ErrorHandler) {
	s.messages.SetErrorHandler(fn)
}

// SetEventErrorHandler sets the observational error callback for the
// event table.
func (s *Service) SetEventErrorHandler(fn ErrorHandler) {
	s.events.SetErrorHandler(fn)
}

// GroupBuilder attaches guards and middleware to the same prefix group on
// both dispatch tables.
type GroupBuilder struct {
	msg *Group
	evt *Group
}

// Guard appends guards to the group on both tables.
func (b *GroupBuilder) Guard(guards ...Guard) *GroupBuilder {
	b.msg.Guard(guards...)
	b.evt.Guard(guards...)
	return b
}

// Middleware appends middleware to the group on both tables.
func (b *GroupBuilder) Middleware(mw ...Middleware) *GroupBuilder {
	b.msg.Middleware(mw...)
	b.evt.Middleware(mw...)
	return b
}

// Group returns a builder for the prefix group spanning both dispatch
// tables, creating it on first use.
//
// Example:
//
//	s.Group("users.*").
//	    Guard(patmux.RequireMeta("token")).
//	    Middleware(auditMiddleware)
func (s *Service) Group(prefix string) *GroupBuilder {
	return &GroupBuilder{
		msg: s.messages.Group(prefix),
		evt: s.events.Group(prefix),
	}
}

// HandleFrame runs one decoded frame through the dispatch engine.
//
// For a request frame it returns the correlated response frame, carrying
// either the handler result or the error message. For an event frame it
// returns nil: there is no response channel, so errors are logged and
// visible only through the event error handler.
func (s *Service) HandleFrame(ctx context.Context, f *Frame) *Frame {
	if f.IsEvent {
		if err := s.ResolveAndRunEvent(ctx, f.Pattern, f.Data, f.Meta); err != nil {
			s.logger.Warn("event dispatch failed", "pattern", f.Pattern, "error", err)
		}
		return nil
	}

	result, err := s.ResolveAndRunRequest(ctx, f.Pattern, f.Data, f.Meta)
	if err != nil {
		return NewErrorFrame(f.ID, err)
	}

	raw, err := marshalResult(result)
	if err != nil {
		s.logger.Error("response marshal failed", "pattern", f.Pattern, "error", err)
		return NewErrorFrame(f.ID, err)
	}
	return NewResponseFrame(f.ID, raw)
}

// marshalResult normalizes a handler result to raw JSON. Raw results pass
// through untouched.
func marshalResult(result any) (json.RawMessage, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal response: %w", err)
		}
		return raw, nil
	}
}

// ServeConn reads frames from the stream and dispatches each one
// concurrently, writing correlated responses back as their handlers
// finish. Responses are therefore not written in arrival order; callers
// must match them by frame ID.
//
// A malformed frame payload is logged and skipped; the loop continues with
// the next frame. ServeConn returns when the stream ends, the context is
// canceled, or an unrecoverable framing error occurs. In-flight handlers
// are waited for before returning.
func (s *Service) ServeConn(ctx context.Context, conn io.ReadWriteCloser) error {
	reader := NewFrameReader(conn)
	writer := NewFrameWriter(conn)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		f, err := reader.Read()
		if err != nil {
			switch {
			case errors.Is(err, ErrBadPayload):
				s.logger.Warn("dropping malformed frame", "error", err)
				continue
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return err
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.HandleFrame(ctx, f)
			if resp == nil {
				return
			}
			if err := writer.Write(resp); err != nil {
				s.logger.Error("response write failed", "id", resp.ID, "error", err)
			}
		}()
	}
}
