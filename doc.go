// Package patmux is a transport-agnostic pattern-routing and dispatch
// engine for microservices.
//
// It routes dot-delimited patterns such as "users.created" to registered
// handlers, applies a three-tier guard and middleware pipeline around each
// handler, and exchanges requests and events with remote peers over a
// small length-prefixed binary framing protocol.
//
// # Quick Start
//
// Create a service, register handlers, and serve a connection:
//
//	s := patmux.New()
//
//	s.RegisterMessage("auth.login", func(ctx context.Context, msg *patmux.Msg) (any, error) {
//	    var creds Credentials
//	    if err := msg.Unmarshal(&creds); err != nil {
//	        return nil, err
//	    }
//	    return login(ctx, creds)
//	})
//
//	s.RegisterEvent("users.*", func(ctx context.Context, msg *patmux.Msg) (any, error) {
//	    audit.Record(ctx, msg.Pattern, msg.Data)
//	    return nil, nil
//	})
//
//	// Over any stream transport:
//	err := s.ServeConn(ctx, conn)
//
// On the calling side:
//
//	c := patmux.NewClient(conn)
//	resp, err := c.Send(ctx, "auth.login", data, meta)
//	err = c.Emit(ctx, "users.created", data, nil)
//
// # Pattern Grammar
//
// Four pattern forms are accepted:
//
//	"users.created"     exact string, matched by map lookup
//	"users.*"           wildcard; '*' matches any sequence of characters
//	"/^order\.[0-9]+$/" regular expression with optional flags (i, m, s)
//	"{any}"             matches every pattern
//
// A wildcard is not segment-bounded: '*' matches across '.' delimiters,
// so "users.*" matches "users.profile.updated" as well as "users.created".
//
// # Resolution Priority
//
// An exact registration always wins, regardless of registration order.
// Among wildcard and regex candidates the entry with the highest
// specificity (count of literal characters) wins, with ties going to the
// first registered entry. The catch-all handler is reached only when
// nothing else matches; with no catch-all, dispatch fails with
// ErrNoHandler naming the pattern.
//
// # Pipeline
//
// Every dispatch runs a fixed phase order around the resolved handler:
//
//	global guards → group guards →
//	global middleware Before → group Before → handler Before →
//	legacy before hooks →
//	handler →
//	handler After → group After (reverse) → global After (reverse) →
//	legacy after hooks
//
// Guards block by returning an error and never mutate the message.
// Middleware Before phases may return a bag of values shallow-merged into
// the message's enrichment bag. All phases share one error path: a guard
// or Before failure skips everything after it, including the After phases.
// Errors are reported once to the table's observational error handler and
// then returned to the caller, never swallowed.
//
// Groups scope guards and middleware to a pattern prefix:
//
//	s.Group("users.*").
//	    Guard(patmux.RequireMeta("token")).
//	    Middleware(auditMiddleware)
//
// # Wire Protocol
//
// A frame is a 4-byte big-endian payload length followed by a JSON
// payload. Requests carry an ID; the correlated response carries the same
// ID with either a response payload or an error message. Events carry no
// ID and receive no response. Concurrent requests on one connection may
// complete in any order; callers match responses by ID, never by arrival
// order.
//
// FrameReader and FrameWriter implement the stream reassembly contract for
// any io.Reader/io.Writer transport; WSHandler and DialWS provide a
// WebSocket binding.
package patmux
