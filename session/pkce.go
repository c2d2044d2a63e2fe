package session

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/hashicorp/go-uuid"
	"github.com/nylas/sessions/internal/urlutil"
)

// CodeChallengeMethod is the only PKCE method sent to the identity service.
const CodeChallengeMethod = "S256"

// CodeChallenge derives the code_challenge for verifier the way the identity
// service expects it: the hex encoded sha256 digest of the verifier, base64
// encoded, then rewritten to the URL-safe alphabet without padding.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	digest := hex.EncodeToString(sum[:])
	return urlutil.Base64URLEncode(base64.StdEncoding.EncodeToString([]byte(digest)))
}

// generateCodeChallenge stores a new random verifier unless one is already
// stored.  A live verifier is never replaced.
func (m *Manager) generateCodeChallenge(ctx context.Context) error {
	const op = "Manager.generateCodeChallenge"
	if m.tokens.PKCE(ctx) != "" {
		return nil
	}
	verifier, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("%s: unable to generate verifier: %w", op, err)
	}
	if err := m.tokens.SetPKCE(ctx, verifier); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// hostedSetCodeChallenge stores the page's code_challenge query parameter as
// the verifier.  It's only valid in hosted mode.
func (m *Manager) hostedSetCodeChallenge(ctx context.Context) error {
	const op = "Manager.hostedSetCodeChallenge"
	if !m.hosted {
		return fmt.Errorf("%s: %w", op, ErrHostedDisabled)
	}
	challenge := m.location().Query().Get("code_challenge")
	if challenge == "" {
		if m.tokens.PKCE(ctx) == "" {
			m.logger.Warn("a code_challenge is recommended in hosted mode")
		}
		return nil
	}
	if err := m.tokens.SetPKCE(ctx, challenge); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// codeChallenge resolves the code_challenge to send.  On the identity
// service's own origin in hosted mode it's the page's code_challenge query
// parameter; otherwise it's derived from the stored verifier.  It returns ""
// when neither is available.
func (m *Manager) codeChallenge(ctx context.Context) string {
	if m.hostedOrigin() {
		challenge := m.location().Query().Get("code_challenge")
		if challenge == "" {
			m.logger.Warn("a code_challenge is recommended in hosted mode")
		}
		return challenge
	}
	verifier := m.tokens.PKCE(ctx)
	if verifier == "" {
		return ""
	}
	return CodeChallenge(verifier)
}
