// sessions provides the client side of a Nylas hosted-authentication login:
// PKCE authorization URLs, code and refresh token exchanges, a background
// refresh loop and lifecycle notifications for one user session.
//
// session: the Manager, its TokenStore and the notification types.
//
// store: pluggable persistence for session records (in-memory, bolt and
// redis).
//
// cmd/nylas-sessions: a command line harness which drives a Manager with a
// loopback redirect listener.
package sessions
