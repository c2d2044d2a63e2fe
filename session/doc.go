// Package session is a PKCE authorization code client for the Nylas identity
// service.  A Manager builds authorization URLs, completes code exchanges
// (including the popup variant), persists tokens through a TokenStore,
// refreshes them in the background before they expire and broadcasts the
// session's lifecycle as notifications.
//
// The page environment (location, history, popups) is injected as a Window and
// time as a clockwork.Clock, so the whole lifecycle runs outside of a browser
// and under test.
package session
