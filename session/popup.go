package session

import (
	"context"
	"strings"
)

// popUp opens rawURL in the authorization popup and polls it in the
// background.  A blocked popup is silently ignored, and nothing is opened
// once the Manager is done.
func (m *Manager) popUp(rawURL string) {
	if m.backgroundCtx.Err() != nil {
		m.logger.Debug("not opening popup, manager is done")
		return
	}
	p, err := m.window.Open(rawURL, PopupName, centeredPopup(m.window.Bounds()))
	if err != nil || p == nil {
		m.logger.Debug("unable to open popup", "error", err)
		return
	}
	if !m.goBackground(func() { m.pollPopup(m.backgroundCtx, p) }) {
		p.Close()
	}
}

// pollPopup inspects p on every tick until the flow has finished or ctx is
// done.
func (m *Manager) pollPopup(ctx context.Context, p Popup) {
	ticker := m.clock.NewTicker(m.popupPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if m.inspectPopup(ctx, p) {
				return
			}
		}
	}
}

// inspectPopup is one poll of the popup.  It reports whether polling is
// finished: the user closed the popup (LoginFail is emitted) or the popup
// reached the redirect URI with a query, in which case the code exchange runs
// here, the popup is closed and the window reloaded when the exchange
// succeeded.  While the popup shows the identity service's pages its location
// can't be read; that's expected and polling continues.
func (m *Manager) inspectPopup(ctx context.Context, p Popup) bool {
	if p.Closed() {
		m.emit(LoginFail, popupClosedError())
		return true
	}
	loc, err := p.Location()
	if err != nil || loc == nil {
		return false
	}
	base, _, hasQuery := strings.Cut(loc.String(), "?")
	if base == "" || base != m.redirectURI || !hasQuery {
		return false
	}
	ok := m.CodeExchange(ctx, "?"+loc.RawQuery)
	p.Close()
	if ok {
		m.window.Reload()
	}
	return true
}
