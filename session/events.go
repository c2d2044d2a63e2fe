package session

import (
	"fmt"
	"sync"
)

// EventType names a session notification.
type EventType string

const (
	LoginSuccess        EventType = "onLoginSuccess"
	LoginFail           EventType = "onLoginFail"
	LogoutSuccess       EventType = "onLogoutSuccess"
	TokenRefreshSuccess EventType = "onTokenRefreshSuccess"
	TokenRefreshFail    EventType = "onTokenRefreshFail"
	SessionExpired      EventType = "onSessionExpired"
)

// Event is a notification and its payload.  Payloads are passed verbatim so
// handlers can inspect provider specific details:
//
//   - LoginSuccess: *TokenResponse
//   - LoginFail: *AuthError, *TokenResponse or error
//   - LogoutSuccess: *IDToken (nil when there was no profile)
//   - TokenRefreshSuccess: *TokenResponse
//   - TokenRefreshFail: *TokenResponse or error
//   - SessionExpired: *IDToken, the expired token
type Event struct {
	Type    EventType
	Payload interface{}
}

// Handler receives notifications.
type Handler func(Event)

// Notifier is the channel notifications are broadcast on.
type Notifier interface {
	// Emit delivers e to every handler subscribed to e.Type.
	Emit(e Event)

	// Subscribe registers h for notifications of type t.  There is no
	// unsubscribe.
	Subscribe(t EventType, h Handler)
}

// Dispatcher is the default Notifier.  Handlers are invoked synchronously, in
// the order they subscribed, on the goroutine that emitted the notification.
// It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// ensure that Dispatcher implements the Notifier interface
var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher without any handlers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[EventType][]Handler{}}
}

// Subscribe implements Notifier.Subscribe
func (d *Dispatcher) Subscribe(t EventType, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// Emit implements Notifier.Emit
func (d *Dispatcher) Emit(e Event) {
	d.mu.RLock()
	hs := make([]Handler, len(d.handlers[e.Type]))
	copy(hs, d.handlers[e.Type])
	d.mu.RUnlock()
	for _, h := range hs {
		h(e)
	}
}

// AuthError is the LoginFail payload for a failure reported through the
// redirect URI's query (error, error_description and error_code) or for a
// popup the user closed.
type AuthError struct {
	Err         string `json:"error,omitempty"`
	Description string `json:"error_description,omitempty"`
	Code        string `json:"error_code,omitempty"`
}

// ensure that AuthError implements the error interface
var _ error = (*AuthError)(nil)

// Error implements the error interface.
func (e *AuthError) Error() string {
	switch {
	case e.Err == "":
		return e.Description
	case e.Code == "":
		return fmt.Sprintf("%s: %s", e.Err, e.Description)
	default:
		return fmt.Sprintf("%s: %s (%s)", e.Err, e.Description, e.Code)
	}
}

// popupClosedError is emitted when the user closes the popup before the
// flow completes.
func popupClosedError() *AuthError {
	return &AuthError{Description: "OAuth provider window closed"}
}
