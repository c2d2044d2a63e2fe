package session_test

import (
	"context"
	"fmt"

	"github.com/nylas/sessions/session"
	"github.com/nylas/sessions/store"
)

func ExampleNewManager() {
	ctx := context.Background()

	c, err := session.NewConfig(
		"YOUR_CLIENT_ID",
		"https://app.example.com/callback",
		session.WithDomain("https://auth.example.com"),
		session.WithStore(store.NewMemory()),
	)
	if err != nil {
		// handle error
		return
	}
	m, err := session.NewManager(c)
	if err != nil {
		// handle error
		return
	}
	defer m.Done()

	m.OnLoginSuccess(func(e session.Event) {
		resp := e.Payload.(*session.TokenResponse)
		fmt.Println("logged in, state:", resp.State)
	})
	m.OnSessionExpired(func(e session.Event) {
		fmt.Println("session expired for", e.Payload.(*session.IDToken).Email)
	})

	authURL, err := m.Auth(ctx, session.AuthConfig{
		Scope: []string{"email.read_only", "calendar"},
		State: "YOUR_STATE",
	})
	if err != nil {
		// handle error
		return
	}
	fmt.Println("send the user to:", authURL)

	// Once the identity service redirects back with ?code=...&state=...
	// complete the login with the redirect's query.
	if m.CodeExchange(ctx, "?code=AUTH_CODE&state=YOUR_STATE") {
		profile, _ := m.Profile(ctx)
		if profile != nil {
			fmt.Println("welcome", profile.Email)
		}
	}
}

func ExampleTokenStore() {
	ctx := context.Background()
	ts := session.NewTokenStore(store.NewMemory())
	_ = ts.SetRefreshToken(ctx, "refresh")
	t, _ := ts.RefreshToken(ctx)
	fmt.Println(t)
	// Output:
	// [REDACTED: refresh_token]
}
