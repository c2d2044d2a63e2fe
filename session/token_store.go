package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/nylas/sessions/store"
)

// Physical keys of the five session records.
const (
	pkceKey         = "pkce"
	idTokenKey      = "id_token"
	scopesKey       = "scopes"
	refreshTokenKey = "ref_token"
	accessTokenKey  = "acc_token"
)

// TokenStore owns the encoding of a session's records on top of a
// store.Store: the PKCE verifier, id_token, refresh_token, access_token and
// granted scopes.  Each record is independently present or absent.
type TokenStore struct {
	s store.Store
}

// NewTokenStore creates a TokenStore over s.  A nil s falls back to
// store.NewMemory().
func NewTokenStore(s store.Store) *TokenStore {
	if s == nil {
		s = store.NewMemory()
	}
	return &TokenStore{s: s}
}

// get reads key, mapping a missing record to "".
func (ts *TokenStore) get(ctx context.Context, key string) (string, error) {
	v, err := ts.s.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", nil
	case err != nil:
		return "", err
	}
	return v, nil
}

// SetPKCE stores the verifier base64 encoded.
func (ts *TokenStore) SetPKCE(ctx context.Context, verifier string) error {
	const op = "TokenStore.SetPKCE"
	if err := ts.s.Set(ctx, pkceKey, base64.StdEncoding.EncodeToString([]byte(verifier))); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PKCE returns the stored verifier, or "" when there is none.  Read and
// decode failures are reported as "" too.
func (ts *TokenStore) PKCE(ctx context.Context) string {
	v, err := ts.get(ctx, pkceKey)
	if err != nil || v == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// RemovePKCE deletes the stored verifier.
func (ts *TokenStore) RemovePKCE(ctx context.Context) error {
	const op = "TokenStore.RemovePKCE"
	if err := ts.s.Remove(ctx, pkceKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetIDToken stores the compact id_token verbatim.
func (ts *TokenStore) SetIDToken(ctx context.Context, t IdToken) error {
	const op = "TokenStore.SetIDToken"
	if err := ts.s.Set(ctx, idTokenKey, string(t)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IDToken decodes the stored id_token.  It returns nil, nil when none is
// stored.  A stored token which can't be decoded is an error (see
// ErrMalformedIDToken), not an absence.
func (ts *TokenStore) IDToken(ctx context.Context) (*IDToken, error) {
	const op = "TokenStore.IDToken"
	raw, err := ts.get(ctx, idTokenKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if raw == "" {
		return nil, nil
	}
	t, err := ParseIDToken(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// RawIDToken returns the stored compact id_token, or "".
func (ts *TokenStore) RawIDToken(ctx context.Context) (IdToken, error) {
	const op = "TokenStore.RawIDToken"
	raw, err := ts.get(ctx, idTokenKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return IdToken(raw), nil
}

// RemoveIDToken deletes the stored id_token.
func (ts *TokenStore) RemoveIDToken(ctx context.Context) error {
	const op = "TokenStore.RemoveIDToken"
	if err := ts.s.Remove(ctx, idTokenKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetRefreshToken stores the refresh_token verbatim.
func (ts *TokenStore) SetRefreshToken(ctx context.Context, t RefreshToken) error {
	const op = "TokenStore.SetRefreshToken"
	if err := ts.s.Set(ctx, refreshTokenKey, string(t)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RefreshToken returns the stored refresh_token, or "".
func (ts *TokenStore) RefreshToken(ctx context.Context) (RefreshToken, error) {
	const op = "TokenStore.RefreshToken"
	v, err := ts.get(ctx, refreshTokenKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return RefreshToken(v), nil
}

// RemoveRefreshToken deletes the stored refresh_token.
func (ts *TokenStore) RemoveRefreshToken(ctx context.Context) error {
	const op = "TokenStore.RemoveRefreshToken"
	if err := ts.s.Remove(ctx, refreshTokenKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetAccessToken stores the access_token verbatim.
func (ts *TokenStore) SetAccessToken(ctx context.Context, t AccessToken) error {
	const op = "TokenStore.SetAccessToken"
	if err := ts.s.Set(ctx, accessTokenKey, string(t)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AccessToken returns the stored access_token, or "".
func (ts *TokenStore) AccessToken(ctx context.Context) (AccessToken, error) {
	const op = "TokenStore.AccessToken"
	v, err := ts.get(ctx, accessTokenKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return AccessToken(v), nil
}

// RemoveAccessToken deletes the stored access_token.
func (ts *TokenStore) RemoveAccessToken(ctx context.Context) error {
	const op = "TokenStore.RemoveAccessToken"
	if err := ts.s.Remove(ctx, accessTokenKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetScopes stores the space delimited granted scopes verbatim.
func (ts *TokenStore) SetScopes(ctx context.Context, scopes string) error {
	const op = "TokenStore.SetScopes"
	if err := ts.s.Set(ctx, scopesKey, scopes); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Scopes returns the stored granted scopes, or "".
func (ts *TokenStore) Scopes(ctx context.Context) (string, error) {
	const op = "TokenStore.Scopes"
	v, err := ts.get(ctx, scopesKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// RemoveScopes deletes the stored granted scopes.
func (ts *TokenStore) RemoveScopes(ctx context.Context) error {
	const op = "TokenStore.RemoveScopes"
	if err := ts.s.Remove(ctx, scopesKey); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Clear removes all five records.  Every removal is attempted; failures are
// returned together.
func (ts *TokenStore) Clear(ctx context.Context) error {
	var result *multierror.Error
	for _, remove := range []func(context.Context) error{
		ts.RemovePKCE,
		ts.RemoveIDToken,
		ts.RemoveRefreshToken,
		ts.RemoveAccessToken,
		ts.RemoveScopes,
	} {
		if err := remove(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
