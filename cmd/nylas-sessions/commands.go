package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nylas/sessions/session"
	"github.com/spf13/cobra"
)

// authFlags are the AuthConfig flags shared by auth-url and login.
type authFlags struct {
	provider  string
	scope     []string
	loginHint string
	prompt    string
	metadata  string
	state     string
}

func (f *authFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.provider, "provider", "", "email provider to preselect (e.g. google)")
	fs.StringSliceVar(&f.scope, "scope", nil, "scopes to request, in order")
	fs.StringVar(&f.loginHint, "login-hint", "", "email address to prefill")
	fs.StringVar(&f.prompt, "prompt", "", "prompt parameter")
	fs.StringVar(&f.metadata, "metadata", "", "metadata passed through the flow")
	fs.StringVar(&f.state, "state", "", "state returned to the redirect URI")
}

func (f *authFlags) config() session.AuthConfig {
	return session.AuthConfig{
		Provider:  f.provider,
		Scope:     f.scope,
		LoginHint: f.loginHint,
		Prompt:    f.prompt,
		Metadata:  f.metadata,
		State:     f.state,
	}
}

func newAuthURLCmd(a *app) *cobra.Command {
	var af authFlags
	cmd := &cobra.Command{
		Use:   "auth-url",
		Short: "Print an authorization URL; complete it later with exchange",
		Long: "Print an authorization URL for the configured client.  The PKCE verifier is " +
			"kept in the store, so use a persistent store (bolt or redis) when the code is " +
			"exchanged by a later invocation.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			u, err := m.Auth(cmd.Context(), af.config())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, u)
			return nil
		},
	}
	af.register(cmd)
	return cmd
}

func newExchangeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exchange QUERY",
		Short: "Exchange the query of a redirect (e.g. ?code=...&state=...) for tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := a.record(session.LoginSuccess, session.LoginFail)
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			if !m.CodeExchange(cmd.Context(), args[0]) && rec.len() == 0 {
				return fmt.Errorf("nothing to exchange: the query has no code or no PKCE verifier is stored")
			}
			return rec.report(a.out)
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored refresh token for new tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := a.record(session.TokenRefreshSuccess, session.TokenRefreshFail)
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			m.TokenExchange(cmd.Context())
			return rec.report(a.out)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the stored session is valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			ctx := cmd.Context()
			loggedIn, err := m.IsLoggedIn(ctx)
			if err != nil {
				return err
			}
			st := struct {
				LoggedIn bool             `json:"logged_in"`
				Profile  *session.IDToken `json:"profile,omitempty"`
				Scopes   []string         `json:"scopes,omitempty"`
			}{LoggedIn: loggedIn}
			if loggedIn {
				if st.Profile, err = m.Profile(ctx); err != nil {
					return err
				}
				if st.Scopes, err = m.GrantedScopes(ctx); err != nil {
					return err
				}
			}
			return printJSON(a.out, st)
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove every stored session record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := a.record(session.LogoutSuccess)
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			if err := m.Logout(cmd.Context()); err != nil {
				return err
			}
			return rec.report(a.out)
		},
	}
}

func newIMAPCmd(a *app) *cobra.Command {
	var creds session.IMAPCredentials
	cmd := &cobra.Command{
		Use:   "imap",
		Short: "Authenticate an IMAP mailbox; prints the code to exchange",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			reply, err := m.AuthIMAP(cmd.Context(), creds)
			if err != nil {
				return err
			}
			return printJSON(a.out, reply)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&creds.Username, "username", "", "IMAP username")
	fs.StringVar(&creds.Password, "password", "", "IMAP password")
	fs.StringVar(&creds.IMAPHost, "imap-host", "", "IMAP host")
	fs.IntVar(&creds.IMAPPort, "imap-port", 993, "IMAP port")
	fs.StringVar(&creds.SMTPHost, "smtp-host", "", "SMTP host")
	fs.IntVar(&creds.SMTPPort, "smtp-port", 465, "SMTP port")
	fs.StringVar(&creds.Type, "type", "", "provider type")
	return cmd
}

func newProvidersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the providers available to the application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			ps, err := m.AvailableProviders(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(a.out, ps)
		},
	}
}

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect EMAIL",
		Short: "Detect the provider of an email address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			d, err := m.DetectEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(a.out, d)
		},
	}
}

func newAppInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "app-info",
		Short: "Show the application's public settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Done()
			info, err := m.ApplicationInfo(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(a.out, info)
		},
	}
}

// recorder collects the notifications of one command.
type recorder struct {
	mu     sync.Mutex
	events []session.Event
}

func (a *app) record(types ...session.EventType) *recorder {
	r := &recorder{}
	for _, t := range types {
		a.events.Subscribe(t, func(e session.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
		})
	}
	return r
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// report prints the recorded notifications and returns an error if any of
// them is a failure.
func (r *recorder) report(w io.Writer) error {
	r.mu.Lock()
	events := make([]session.Event, len(r.events))
	copy(events, r.events)
	r.mu.Unlock()

	var failed *session.Event
	for i, e := range events {
		if err := printJSON(w, eventView(e)); err != nil {
			return err
		}
		if isFailure(e) {
			failed = &events[i]
		}
	}
	if failed != nil {
		return fmt.Errorf("%s: %s", failed.Type, eventView(*failed)["error"])
	}
	return nil
}

func isFailure(e session.Event) bool {
	switch e.Type {
	case session.LoginFail, session.TokenRefreshFail:
		return true
	}
	return false
}

// eventView is the printable form of a notification.  Token values are never
// included.
func eventView(e session.Event) map[string]interface{} {
	v := map[string]interface{}{"event": string(e.Type)}
	switch p := e.Payload.(type) {
	case *session.TokenResponse:
		if p.Failed() {
			v["error"] = p.Error
			v["error_description"] = p.ErrorDescription
			v["error_code"] = p.ErrorCode
			break
		}
		v["grant_id"] = p.GrantID
		v["token_type"] = p.TokenType
		if p.Scope != "" {
			v["scope"] = p.Scope
		}
		if p.State != "" {
			v["state"] = p.State
		}
	case *session.AuthError:
		v["error"] = p.Error()
	case *session.IDToken:
		if p != nil {
			v["email"] = p.Email
			v["expires_at"] = p.ExpiresAt()
		}
	case error:
		v["error"] = p.Error()
	}
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
