package patmux_test

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bjaus/patmux"
)

// UserCreated is the payload for users.created messages.
type UserCreated struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func Example() {
	s := patmux.New()

	// Exact pattern, request/response.
	_ = s.RegisterMessage("users.create", func(ctx context.Context, msg *patmux.Msg) (any, error) {
		var u UserCreated
		if err := msg.Unmarshal(&u); err != nil {
			return nil, err
		}
		return map[string]string{"id": u.UserID}, nil
	})

	// Wildcard pattern, fire-and-forget.
	_ = s.RegisterEvent("users.*", func(ctx context.Context, msg *patmux.Msg) (any, error) {
		fmt.Printf("event: %s\n", msg.Pattern)
		return nil, nil
	})

	data, _ := json.Marshal(UserCreated{UserID: "u-1", Email: "a@b.c"})

	result, err := s.ResolveAndRunRequest(context.Background(), "users.create", data, nil)
	if err != nil {
		fmt.Println("request failed:", err)
		return
	}
	fmt.Printf("result: %v\n", result)

	_ = s.ResolveAndRunEvent(context.Background(), "users.created", data, nil)

	// Output:
	// result: map[id:u-1]
	// event: users.created
}

func Example_guards() {
	s := patmux.New(
		patmux.WithGlobalGuard(patmux.RequireMeta("token")),
	)
	_ = s.RegisterMessage("accounts.get", func(ctx context.Context, msg *patmux.Msg) (any, error) {
		return "account", nil
	})

	_, err := s.ResolveAndRunRequest(context.Background(), "accounts.get", nil, nil)
	fmt.Println("without token:", err)

	result, _ := s.ResolveAndRunRequest(context.Background(), "accounts.get", nil,
		json.RawMessage(`{"token":"secret"}`))
	fmt.Println("with token:", result)

	// Output:
	// without token: unauthorized: missing meta field "token"
	// with token: account
}

func Example_groups() {
	s := patmux.New()
	s.Group("admin.*").Guard(patmux.MetaEquals("role", "admin"))

	_ = s.RegisterMessage("admin.purge", func(ctx context.Context, msg *patmux.Msg) (any, error) {
		return "purged", nil
	})
	_ = s.RegisterMessage("public.info", func(ctx context.Context, msg *patmux.Msg) (any, error) {
		return "info", nil
	})

	_, err := s.ResolveAndRunRequest(context.Background(), "admin.purge", nil,
		json.RawMessage(`{"role":"user"}`))
	fmt.Println("as user:", err)

	result, _ := s.ResolveAndRunRequest(context.Background(), "public.info", nil,
		json.RawMessage(`{"role":"user"}`))
	fmt.Println("public:", result)

	// Output:
	// as user: unauthorized: meta field "role" mismatch
	// public: info
}
