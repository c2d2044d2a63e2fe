package session

import "context"

const (
	// refreshWindow is how close to expiry (in seconds) the refresh loop
	// starts refreshing the session.
	refreshWindow = 600

	// refreshEvery throttles refreshes inside the refresh window to once a
	// minute.
	refreshEvery = 60
)

// refreshLoop runs checkSession on every tick until ctx is done.  Each check
// runs on its own goroutine so a slow token endpoint never delays the next
// tick.
func (m *Manager) refreshLoop(ctx context.Context) {
	ticker := m.clock.NewTicker(m.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.goBackground(func() { m.checkSession(ctx) })
		}
	}
}

// checkSession is one tick of the refresh loop:
//
//   - without a stored id_token there's nothing to do
//   - an unexpired token is refreshed when fewer than refreshWindow seconds
//     remain and the remainder falls on a minute boundary
//   - an expired token is refreshed and SessionExpired is emitted with the
//     expired token, whatever the refresh's outcome
func (m *Manager) checkSession(ctx context.Context) {
	tok, err := m.tokens.IDToken(ctx)
	if err != nil {
		m.logger.Debug("skipping session check", "error", err)
		return
	}
	if tok == nil {
		return
	}
	now := m.clock.Now()
	if !tok.Expired(now) {
		left := tok.SecondsLeft(now)
		if left < refreshWindow && left%refreshEvery == 0 {
			m.logger.Debug("refreshing session before expiry", "seconds_left", left)
			m.TokenExchange(ctx)
		}
		return
	}
	m.logger.Debug("session expired", "expired_at", tok.ExpiresAt())
	m.TokenExchange(ctx)
	m.emit(SessionExpired, tok)
}
