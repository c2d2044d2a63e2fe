package session

import (
	"context"

	"golang.org/x/oauth2"
)

// authURL composes the authorization URL for ac.  Optional parameters are
// only added when set.
func (m *Manager) authURL(ctx context.Context, ac AuthConfig) string {
	cfg := oauth2.Config{
		ClientID:    m.clientID,
		RedirectURL: m.redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  m.domain + "/connect/auth",
			TokenURL: m.domain + "/connect/token",
		},
		Scopes: ac.Scope,
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("access_type", m.accessType),
	}
	if challenge := m.codeChallenge(ctx); challenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", CodeChallengeMethod),
			oauth2.SetAuthURLParam("options", "rotate_refresh_token"),
		)
	}
	for _, p := range []struct{ name, value string }{
		{"provider", ac.Provider},
		{"login_hint", ac.LoginHint},
		{"prompt", ac.Prompt},
		{"metadata", ac.Metadata},
	} {
		if p.value != "" {
			opts = append(opts, oauth2.SetAuthURLParam(p.name, p.value))
		}
	}
	return cfg.AuthCodeURL(ac.State, opts...)
}
