package patmux

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrClientClosed is returned by Send and Emit after Close, and by Send
// when the connection ends while a request is in flight.
var ErrClientClosed = errors.New("client closed")

// RemoteError is the error a Send caller receives when the remote handler
// failed. It carries the original error message from the response frame.
type RemoteError struct {
	Pattern string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Client exchanges frames with a remote dispatch engine over a single
// connection. It satisfies the send/emit/close contract that resilience
// wrappers (retry, timeout, circuit breaking) compose around.
//
// Responses are matched to requests by frame ID, never by arrival order:
// any number of Send calls may be in flight concurrently.
type Client struct {
	conn   io.ReadWriteCloser
	writer *FrameWriter
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *Frame
	closed  bool

	done chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's structured logger. Defaults to
// slog.Default().
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient wraps a connection and starts the response read loop.
func NewClient(conn io.ReadWriteCloser, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		writer:  NewFrameWriter(conn),
		logger:  slog.Default(),
		pending: make(map[string]chan *Frame),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Send dispatches a request and blocks until the correlated response
// arrives, the context is done, or the connection closes. A remote handler
// failure surfaces as a *RemoteError carrying the original message.
func (c *Client) Send(ctx context.Context, pattern string, data, meta json.RawMessage) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan *Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writer.Write(NewRequestFrame(id, pattern, data, meta)); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case f := <-ch:
		if f.Error != "" {
			return nil, &RemoteError{Pattern: pattern, Message: f.Error}
		}
		return f.Response, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

// Emit sends a fire-and-forget event. No response frame exists for events;
// remote errors are visible only through the server's logs and hooks.
func (c *Client) Emit(ctx context.Context, pattern string, data, meta json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	return c.writer.Write(NewEventFrame(pattern, data, meta))
}

// Close shuts the connection down and fails every in-flight Send.
func (c *Client) Close() error {
	c.shutdown()
	return c.conn.Close()
}

// shutdown marks the client closed and releases in-flight waiters.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.pending = make(map[string]chan *Frame)
}

// forget drops the pending slot for an abandoned request so a late
// response does not leak the channel.
func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop delivers response frames to their pending Send calls. It exits
// when the connection ends, failing whatever remains in flight.
func (c *Client) readLoop() {
	defer c.shutdown()

	reader := NewFrameReader(c.conn)
	for {
		f, err := reader.Read()
		if err != nil {
			if errors.Is(err, ErrBadPayload) {
				c.logger.Warn("dropping malformed response frame", "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("client read loop ended", "error", err)
			}
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("uncorrelated response", "id", f.ID)
			continue
		}
		ch <- f
	}
}
