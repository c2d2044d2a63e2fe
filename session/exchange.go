package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nylas/sessions/internal/urlutil"
)

// TokenResponse is a reply from the identity service's token endpoint.  It's
// the payload of LoginSuccess, TokenRefreshSuccess and of failure
// notifications for provider reported errors.
type TokenResponse struct {
	IDToken      IdToken
	AccessToken  AccessToken
	RefreshToken RefreshToken
	TokenType    string
	Scope        string
	GrantID      string

	// Error, ErrorDescription and ErrorCode are set when the identity service
	// reported a failure.
	Error            string
	ErrorDescription string
	ErrorCode        string

	// State is the state parameter of the redirect which carried the code.
	State string

	// Raw is the reply as received, plus "state" when State is set.
	Raw map[string]interface{}
}

// Failed reports whether the identity service reported an error.
func (r *TokenResponse) Failed() bool {
	return r.Error != ""
}

func newTokenResponse(raw map[string]interface{}) *TokenResponse {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	return &TokenResponse{
		IDToken:          IdToken(stringField(raw, "id_token")),
		AccessToken:      AccessToken(stringField(raw, "access_token")),
		RefreshToken:     RefreshToken(stringField(raw, "refresh_token")),
		TokenType:        stringField(raw, "token_type"),
		Scope:            stringField(raw, "scope"),
		GrantID:          stringField(raw, "grant_id"),
		Error:            stringField(raw, "error"),
		ErrorDescription: stringField(raw, "error_description"),
		ErrorCode:        stringField(raw, "error_code"),
		Raw:              raw,
	}
}

// stringField returns raw[key] as a string.  Numbers are formatted, other
// non string values are reported as "".
func stringField(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	case bool:
		if v {
			return "true"
		}
	}
	return ""
}

// tokenRequest is the json body of a code exchange.  Its fields are plain
// strings so the redacted token types don't mask them on the wire.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

// refreshRequest is the json body of a refresh.  refresh_token is always
// sent, as null when none is stored.
type refreshRequest struct {
	ClientID     string  `json:"client_id"`
	RedirectURI  string  `json:"redirect_uri"`
	GrantType    string  `json:"grant_type"`
	RefreshToken *string `json:"refresh_token"`
}

// CodeExchange completes the redirect leg of an authorization: it exchanges
// the code in search (or in the window's location when search is "") for
// tokens and stores them.
//
// It returns true once the token endpoint has answered, even when the answer
// is a provider error; the outcome is only observable through the
// LoginSuccess and LoginFail notifications.  It returns false without a
// notification when there's nothing to exchange: no code, no stored verifier,
// or the window is the authorization popup (its opener does the exchange).
// An error reported in the query emits LoginFail with an *AuthError and
// returns false, as does a transport failure (with the error as payload).
func (m *Manager) CodeExchange(ctx context.Context, search string) bool {
	params := m.location().Query()
	if search != "" {
		params = urlutil.ParseQuery(search)
	}
	code := params.Get("code")
	state := params.Get("state")
	authErr := &AuthError{
		Err:         params.Get("error"),
		Description: params.Get("error_description"),
		Code:        params.Get("error_code"),
	}
	if authErr.Err != "" && authErr.Description != "" && authErr.Code != "" {
		m.emit(LoginFail, authErr)
		m.clearLocation()
		return false
	}
	if code == "" {
		return false
	}
	if m.window.HasOpener() && m.window.Name() == PopupName {
		return false
	}
	verifier := m.tokens.PKCE(ctx)
	if verifier == "" {
		return false
	}

	resp, err := m.postToken(ctx, tokenRequest{
		ClientID:     m.clientID,
		RedirectURI:  m.redirectURI,
		GrantType:    "authorization_code",
		Code:         code,
		CodeVerifier: verifier,
	})
	if err == nil && resp.Failed() {
		m.emit(LoginFail, resp)
		return true
	}
	if err == nil {
		err = m.storeTokens(ctx, resp, true)
	}
	if err != nil {
		m.logger.Debug("code exchange failed", "error", err)
		m.emit(LoginFail, err)
		m.clearLocation()
		return false
	}
	if state != "" {
		resp.State = state
		resp.Raw["state"] = state
	}
	m.emit(LoginSuccess, resp)
	m.clearLocation()
	if err := m.tokens.RemovePKCE(ctx); err != nil {
		m.logger.Warn("unable to remove PKCE verifier", "error", err)
	}
	return true
}

// TokenExchange refreshes the session with the stored refresh_token and
// stores the returned tokens.  Like CodeExchange it returns true once the
// token endpoint has answered; TokenRefreshSuccess or TokenRefreshFail
// carries the outcome.  A transport failure emits TokenRefreshFail and returns
// false.
func (m *Manager) TokenExchange(ctx context.Context) bool {
	refresh, err := m.tokens.RefreshToken(ctx)
	var resp *TokenResponse
	if err == nil {
		req := refreshRequest{
			ClientID:    m.clientID,
			RedirectURI: m.redirectURI,
			GrantType:   "refresh_token",
		}
		if refresh != "" {
			rt := string(refresh)
			req.RefreshToken = &rt
		}
		resp, err = m.postToken(ctx, req)
	}
	if err == nil && resp.Failed() {
		m.emit(TokenRefreshFail, resp)
		return true
	}
	if err == nil {
		err = m.storeTokens(ctx, resp, false)
	}
	if err != nil {
		m.logger.Debug("token refresh failed", "error", err)
		m.emit(TokenRefreshFail, err)
		return false
	}
	m.emit(TokenRefreshSuccess, resp)
	return true
}

// storeTokens persists each token present in resp.  The granted scopes are
// only stored when withScope is set.
func (m *Manager) storeTokens(ctx context.Context, resp *TokenResponse, withScope bool) error {
	const op = "Manager.storeTokens"
	if resp.IDToken != "" {
		if err := m.tokens.SetIDToken(ctx, resp.IDToken); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if resp.RefreshToken != "" {
		if err := m.tokens.SetRefreshToken(ctx, resp.RefreshToken); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if resp.AccessToken != "" {
		if err := m.tokens.SetAccessToken(ctx, resp.AccessToken); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if withScope && resp.Scope != "" {
		if err := m.tokens.SetScopes(ctx, resp.Scope); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// postToken posts req to the token endpoint.  A reply that isn't a json
// object (e.g. null) is an ErrUnexpectedResponse.
func (m *Manager) postToken(ctx context.Context, req interface{}) (*TokenResponse, error) {
	const op = "Manager.postToken"
	var raw map[string]interface{}
	if err := m.doJSON(ctx, http.MethodPost, m.domain+"/connect/token", req, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: token endpoint returned no object: %w", op, ErrUnexpectedResponse)
	}
	return newTokenResponse(raw), nil
}

// doJSON sends body (when not nil) json encoded to u and decodes the reply
// into out.  The status code isn't checked: the identity service reports
// errors in the json body.
func (m *Manager) doJSON(ctx context.Context, method, u string, body, out interface{}) error {
	const op = "Manager.doJSON"
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: unable to encode request: %w", op, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("%s: %s %s: %w", op, method, redactQuery(u), err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: unable to read response: %w", op, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: %s %s returned %d: %v: %w", op, method, redactQuery(u), resp.StatusCode, err, ErrUnexpectedResponse)
	}
	return nil
}

// redactQuery drops the query from u so tokens never end up in errors.
func redactQuery(u string) string {
	if i := strings.Index(u, "?"); i >= 0 {
		return u[:i]
	}
	return u
}
