package patmux

import "log/slog"

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger used by the frame-handling paths.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGlobalGuard adds guards to both dispatch tables at construction.
//
// Example:
//
//	patmux.New(patmux.WithGlobalGuard(patmux.RequireMeta("token")))
func WithGlobalGuard(guards ...Guard) Option {
	return func(s *Service) {
		s.AddGlobalGuard(guards...)
	}
}

// WithGlobalMiddleware adds middleware to both dispatch tables at
// construction.
func WithGlobalMiddleware(mw ...Middleware) Option {
	return func(s *Service) {
		s.AddGlobalMiddleware(mw...)
	}
}

// WithGlobalBeforeHook adds legacy global pre-handler hooks to both
// tables. Hooks cannot block or enrich; prefer guards and middleware.
func WithGlobalBeforeHook(hooks ...Hook) Option {
	return func(s *Service) {
		s.messages.AddBeforeHook(hooks...)
		s.events.AddBeforeHook(hooks...)
	}
}

// WithGlobalAfterHook adds legacy global post-handler hooks to both
// tables.
func WithGlobalAfterHook(hooks ...AfterHook) Option {
	return func(s *Service) {
		s.messages.AddAfterHook(hooks...)
		s.events.AddAfterHook(hooks...)
	}
}

// WithRequestErrorHandler sets the message table's observational error
// callback.
//
// Example:
//
//	patmux.WithRequestErrorHandler(func(ctx context.Context, msg *patmux.Msg, err error) {
//	    logger.Error("request failed", "pattern", msg.Pattern, "error", err)
//	})
func WithRequestErrorHandler(fn ErrorHandler) Option {
	return func(s *Service) {
		s.SetRequestErrorHandler(fn)
	}
}

// WithEventErrorHandler sets the event table's observational error
// callback.
func WithEventErrorHandler(fn ErrorHandler) Option {
	return func(s *Service) {
		s.SetEventErrorHandler(fn)
	}
}
