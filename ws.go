package patmux

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSHandler serves the dispatch engine over WebSocket. Each binary
// message carries one or more length-prefixed frames, so the stream codec
// is the same end to end; the connection is handed to Service.ServeConn.
func WSHandler(s *Service) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		if err := s.ServeConn(r.Context(), newWSStream(conn)); err != nil {
			s.logger.Debug("websocket connection ended", "error", err)
		}
	})
}

// DialWS connects a Client to a WebSocket dispatch endpoint.
func DialWS(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return NewClient(newWSStream(conn), opts...), nil
}

// wsStream adapts a message-oriented WebSocket connection to the
// io.ReadWriteCloser the frame codec expects. Each Write becomes one
// binary WebSocket message; Read drains messages in order as one
// continuous byte stream.
type wsStream struct {
	conn *websocket.Conn

	// reader is the in-progress message, nil between messages.
	reader io.Reader

	writeMu sync.Mutex
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				// Normalize close/teardown errors so frame readers
				// see an ordinary end of stream.
				return 0, io.EOF
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
