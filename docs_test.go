package sessions_test

import (
	"context"
	"fmt"
	"time"

	"github.com/nylas/sessions/session"
	"github.com/nylas/sessions/store"
)

func Example_session() {
	ctx := context.Background()

	// Persist the session in a bolt file so a login survives restarts.
	s, err := store.NewBolt("sessions.db", store.WithOpenTimeout(time.Second))
	if err != nil {
		// handle error
		return
	}
	defer s.Close()

	c, err := session.NewConfig(
		"YOUR_CLIENT_ID",
		"http://localhost:5555/callback",
		session.WithStore(s),
	)
	if err != nil {
		// handle error
		return
	}

	// NewManager completes a pending redirect (if any) and starts keeping
	// the stored tokens fresh.
	m, err := session.NewManager(c)
	if err != nil {
		// handle error
		return
	}
	defer m.Done()

	loggedIn, err := m.IsLoggedIn(ctx)
	if err != nil {
		// handle error
		return
	}
	if !loggedIn {
		authURL, err := m.Auth(ctx, session.AuthConfig{Provider: "google"})
		if err != nil {
			// handle error
			return
		}
		fmt.Println("log in at:", authURL)
		return
	}

	profile, err := m.Profile(ctx)
	if err != nil {
		// handle error
		return
	}
	fmt.Println("logged in as:", profile.Email)
}

func Example_redisStore() {
	// Share one session between several processes.
	s, err := store.NewRedis("localhost:6379", store.WithPrefix("nylas:"), store.WithTTL(24*time.Hour))
	if err != nil {
		// handle error
		return
	}
	defer s.Close()

	c, err := session.NewConfig("YOUR_CLIENT_ID", "https://app.example.com/callback", session.WithStore(s))
	if err != nil {
		// handle error
		return
	}
	fmt.Println(c.Domain)
}
