package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nylas/sessions/session"
	"github.com/spf13/cobra"
)

const loginDone = "Authorization received.  You can close this window and return to the terminal."

func newLoginCmd(a *app) *cobra.Command {
	var (
		af      authFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser using a loopback redirect listener",
		Long: "Listen on the redirect URI's host and port, print the authorization URL and " +
			"wait for the identity service to redirect the browser back with a code.  The " +
			"redirect URI must use a loopback address.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return a.login(ctx, af.config())
		},
	}
	af.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the redirect")
	return cmd
}

// login runs one loopback login: it serves the redirect URI, prints the
// authorization URL and waits for LoginSuccess or LoginFail.
func (a *app) login(ctx context.Context, ac session.AuthConfig) error {
	redirect, err := url.Parse(a.cfg.RedirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}
	if !isLoopback(redirect.Hostname()) {
		return fmt.Errorf("redirect URI %s is not a loopback address", a.cfg.RedirectURI)
	}

	result := make(chan session.Event, 1)
	deliver := func(e session.Event) {
		select {
		case result <- e:
		default:
		}
	}
	a.events.Subscribe(session.LoginSuccess, deliver)
	a.events.Subscribe(session.LoginFail, deliver)

	m, err := a.newManager()
	if err != nil {
		return err
	}
	defer m.Done()

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", redirect.Host, err)
	}
	srv := &http.Server{
		Handler:           callbackRouter(m, redirect.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("callback listener failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL, err := m.Auth(ctx, ac)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Open this URL in your browser to log in:\n\n  %s\n\n", authURL)
	a.logger.Info("waiting for redirect", "addr", ln.Addr().String())

	select {
	case e := <-result:
		r := &recorder{events: []session.Event{e}}
		return r.report(a.out)
	case <-ctx.Done():
		return fmt.Errorf("no redirect received: %w", ctx.Err())
	}
}

// callbackRouter serves the redirect URI path.  Every request to it is handed
// to CodeExchange.
func callbackRouter(m *session.Manager, path string) http.Handler {
	if path == "" {
		path = "/"
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(path, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !m.CodeExchange(req.Context(), "?"+req.URL.RawQuery) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "Login failed.  Check the terminal for details.")
			return
		}
		fmt.Fprintln(w, loginDone)
	})
	return r
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
