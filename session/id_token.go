package session

import (
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2/jwt"
)

// IDToken is the decoded claim set of a stored id_token.  It's derived from
// the compact token and never mutated after decoding.
type IDToken struct {
	Issuer        string       `json:"iss"`
	Audience      jwt.Audience `json:"aud"`
	Subject       string       `json:"sub"`
	Email         string       `json:"email"`
	EmailVerified bool         `json:"email_verified"`
	IssuedAt      int64        `json:"iat"`
	Expiry        int64        `json:"exp"`
	Name          string       `json:"name,omitempty"`
	GivenName     string       `json:"given_name,omitempty"`
	FamilyName    string       `json:"family_name,omitempty"`
	NickName      string       `json:"nick_name,omitempty"`
	Picture       string       `json:"picture,omitempty"`
	Gender        string       `json:"gender,omitempty"`
	Locale        string       `json:"locale,omitempty"`
	AtHash        string       `json:"at_hash,omitempty"`

	raw IdToken
}

// ParseIDToken decodes the claims of a compact id_token.  The signature is not
// verified; the token is trusted because it was received directly from the
// identity service's token endpoint.
func ParseIDToken(raw string) (*IDToken, error) {
	const op = "session.ParseIDToken"
	if raw == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	parsed, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrMalformedIDToken)
	}
	var t IDToken
	if err := parsed.UnsafeClaimsWithoutVerification(&t); err != nil {
		return nil, fmt.Errorf("%s: unable to decode claims: %v: %w", op, err, ErrMalformedIDToken)
	}
	t.raw = IdToken(raw)
	return &t, nil
}

// Raw returns the compact token the claims were decoded from.
func (t *IDToken) Raw() IdToken {
	if t == nil {
		return ""
	}
	return t.raw
}

// ExpiresAt returns the exp claim as a time.
func (t *IDToken) ExpiresAt() time.Time {
	return time.Unix(t.Expiry, 0)
}

// Expired reports whether exp is at or before now (unix seconds).
func (t *IDToken) Expired(now time.Time) bool {
	return t.Expiry <= now.Unix()
}

// SecondsLeft returns the whole seconds from now until exp.  It's negative
// once the token has expired.
func (t *IDToken) SecondsLeft(now time.Time) int64 {
	return t.Expiry - now.Unix()
}
