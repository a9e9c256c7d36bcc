package patmux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// startService wires a Service and a Client together over an in-memory
// connection.
func startService(t *testing.T, s *Service) *Client {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.ServeConn(ctx, serverConn)
	}()

	c := NewClient(clientConn, WithClientLogger(quietLogger()))
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return c
}

func TestClient_SendRoundTrip(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	_ = s.RegisterMessage("math.double", func(ctx context.Context, msg *Msg) (any, error) {
		var n int
		if err := msg.Unmarshal(&n); err != nil {
			return nil, err
		}
		return n * 2, nil
	})

	c := startService(t, s)

	resp, err := c.Send(context.Background(), "math.double", json.RawMessage(`21`), nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(resp) != "42" {
		t.Errorf("response = %s, want 42", resp)
	}
}

func TestClient_ConcurrentSendsCorrelateByID(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	_ = s.RegisterMessage("echo", func(ctx context.Context, msg *Msg) (any, error) {
		return json.RawMessage(msg.Data), nil
	})

	c := startService(t, s)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := json.RawMessage(fmt.Sprintf("%d", i))
			resp, err := c.Send(context.Background(), "echo", payload, nil)
			if err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
			if string(resp) != string(payload) {
				t.Errorf("send %d: response = %s, want %s", i, resp, payload)
			}
		}(i)
	}
	wg.Wait()
}

func TestClient_RemoteErrorCarriesMessage(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	_ = s.RegisterMessage("fail", func(ctx context.Context, msg *Msg) (any, error) {
		return nil, errors.New("database unavailable")
	})

	c := startService(t, s)

	_, err := c.Send(context.Background(), "fail", nil, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if remote.Message != "database unavailable" {
		t.Errorf("Message = %q", remote.Message)
	}
	if remote.Pattern != "fail" {
		t.Errorf("Pattern = %q", remote.Pattern)
	}
}

func TestClient_NoHandlerErrorIsReturned(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	c := startService(t, s)

	_, err := c.Send(context.Background(), "missing", nil, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if want := `no handler found for pattern "missing"`; remote.Message != want {
		t.Errorf("Message = %q, want %q", remote.Message, want)
	}
}

func TestClient_EmitFiresEvent(t *testing.T) {
	received := make(chan string, 1)

	s := New(WithLogger(quietLogger()))
	_ = s.RegisterEvent("users.*", func(ctx context.Context, msg *Msg) (any, error) {
		received <- msg.Pattern
		return nil, nil
	})

	c := startService(t, s)

	if err := c.Emit(context.Background(), "users.created", json.RawMessage(`{"id":1}`), nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case pattern := <-received:
		if pattern != "users.created" {
			t.Errorf("pattern = %q", pattern)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event handler was not invoked")
	}
}

func TestClient_SendHonorsContext(t *testing.T) {
	release := make(chan struct{})

	s := New(WithLogger(quietLogger()))
	_ = s.RegisterMessage("slow", func(ctx context.Context, msg *Msg) (any, error) {
		<-release
		return nil, nil
	})

	c := startService(t, s)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, "slow", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestClient_CloseFailsInFlightSends(t *testing.T) {
	release := make(chan struct{})

	s := New(WithLogger(quietLogger()))
	_ = s.RegisterMessage("slow", func(ctx context.Context, msg *Msg) (any, error) {
		<-release
		return nil, nil
	})

	c := startService(t, s)
	t.Cleanup(func() { close(release) })

	errCh := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		_, err := c.Send(context.Background(), "slow", nil, nil)
		errCh <- err
	}()

	<-started
	time.Sleep(20 * time.Millisecond) // let the request hit the wire
	_ = c.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("error = %v, want ErrClientClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight send did not fail after Close")
	}
}

func TestClient_UseAfterClose(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	c := startService(t, s)

	_ = c.Close()

	if _, err := c.Send(context.Background(), "x", nil, nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Send error = %v, want ErrClientClosed", err)
	}
	if err := c.Emit(context.Background(), "x", nil, nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Emit error = %v, want ErrClientClosed", err)
	}
}

func TestClient_UncorrelatedResponseIgnored(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	c := NewClient(clientConn, WithClientLogger(quietLogger()))
	t.Cleanup(func() {
		c.Close()
		serverConn.Close()
	})

	reader := NewFrameReader(serverConn)
	writer := NewFrameWriter(serverConn)

	go func() {
		req, err := reader.Read()
		if err != nil {
			return
		}
		// A stray response for an unknown id must not disturb the real
		// caller.
		_ = writer.Write(NewResponseFrame("stray", json.RawMessage(`"ignored"`)))
		_ = writer.Write(NewResponseFrame(req.ID, json.RawMessage(`"real"`)))
	}()

	resp, err := c.Send(context.Background(), "anything", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(resp) != `"real"` {
		t.Errorf("response = %s", resp)
	}
}
