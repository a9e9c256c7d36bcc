package patmux

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func startWSService(t *testing.T, s *Service) *Client {
	t.Helper()

	srv := httptest.NewServer(WSHandler(s))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := DialWS(context.Background(), url, WithClientLogger(quietLogger()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWebSocket_RequestRoundTrip(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	_ = s.RegisterMessage("greet", func(ctx context.Context, msg *Msg) (any, error) {
		var name string
		if err := msg.Unmarshal(&name); err != nil {
			return nil, err
		}
		return "hello " + name, nil
	})

	c := startWSService(t, s)

	resp, err := c.Send(context.Background(), "greet", json.RawMessage(`"world"`), nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(resp) != `"hello world"` {
		t.Errorf("response = %s", resp)
	}
}

func TestWebSocket_Event(t *testing.T) {
	received := make(chan struct{})

	s := New(WithLogger(quietLogger()))
	_ = s.RegisterEvent("ping", func(ctx context.Context, msg *Msg) (any, error) {
		close(received)
		return nil, nil
	})

	c := startWSService(t, s)

	if err := c.Emit(context.Background(), "ping", nil, nil); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("event handler was not invoked")
	}
}

func TestWebSocket_GuardedRequest(t *testing.T) {
	s := New(
		WithLogger(quietLogger()),
		WithGlobalGuard(RequireMeta("token")),
	)
	_ = s.RegisterMessage("secure.op", func(ctx context.Context, msg *Msg) (any, error) {
		return "ok", nil
	})

	c := startWSService(t, s)

	if _, err := c.Send(context.Background(), "secure.op", nil, nil); err == nil {
		t.Error("request without token should be rejected")
	}

	resp, err := c.Send(context.Background(), "secure.op", nil, json.RawMessage(`{"token":"t"}`))
	if err != nil {
		t.Fatalf("send with token: %v", err)
	}
	if string(resp) != `"ok"` {
		t.Errorf("response = %s", resp)
	}
}
