package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/nylas/sessions/internal/urlutil"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultRefreshInterval is how often the refresh loop inspects the stored
	// id_token.
	DefaultRefreshInterval = time.Second

	// DefaultPopupPollInterval is how often an open popup is inspected.
	DefaultPopupPollInterval = 500 * time.Millisecond
)

// Manager maintains one user session against the identity service: it builds
// authorization URLs, completes code exchanges, keeps tokens fresh in the
// background and broadcasts the session's lifecycle as notifications.
//
// A Manager's configuration is immutable; all mutable session state lives in
// its TokenStore.  Call Done when the Manager is no longer needed to stop its
// background refresh loop.
type Manager struct {
	clientID     string
	clientSecret ClientSecret
	redirectURI  string
	accessType   string
	domain       string
	versioned    bool
	hosted       bool

	tokens   *TokenStore
	logger   hclog.Logger
	clock    clockwork.Clock
	client   *http.Client
	window   Window
	notifier Notifier

	refreshInterval   time.Duration
	popupPollInterval time.Duration

	// backgroundCtx is the context the refresh loop and popup pollers run
	// under.  backgroundCtxCancel stops them.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
	wg                  sync.WaitGroup

	// bgMu guards stopped and every wg.Add made outside a background
	// goroutine.
	bgMu    sync.Mutex
	stopped bool
}

// NewManager creates and starts a Manager for the config.  Construction
// completes the redirect leg of a non-popup flow (a code exchange against the
// window's current location), makes sure a PKCE verifier is stored and starts
// the background refresh loop.
//
// Config.Domain and Config.AccessType fall back to DefaultDomain and
// DefaultAccessType when empty.
//
// Supported options: WithLogger, WithClock, WithHTTPClient, WithWindow,
// WithNotifier, WithMetrics, WithRefreshInterval, WithPopupPollInterval
func NewManager(c *Config, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	cfg := *c
	cfg.Domain = strings.TrimRight(cfg.Domain, "/")
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.AccessType == "" {
		cfg.AccessType = DefaultAccessType
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	opts := getManagerOpts(opt...)

	notifier := opts.withNotifier
	if opts.withMetrics != nil {
		mn, err := newMetricsNotifier(notifier, opts.withMetrics)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to register metrics: %w", op, err)
		}
		notifier = mn
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clientID:            cfg.ClientID,
		clientSecret:        cfg.ClientSecret,
		redirectURI:         cfg.RedirectURI,
		accessType:          cfg.AccessType,
		domain:              cfg.Domain,
		versioned:           cfg.Versioned(),
		hosted:              cfg.Hosted,
		tokens:              NewTokenStore(cfg.Store),
		logger:              opts.withLogger.Named("session"),
		clock:               opts.withClock,
		client:              opts.withHTTPClient,
		window:              opts.withWindow,
		notifier:            notifier,
		refreshInterval:     opts.withRefreshInterval,
		popupPollInterval:   opts.withPopupPollInterval,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	m.CodeExchange(ctx, "")
	if !m.hostedOrigin() {
		if err := m.generateCodeChallenge(ctx); err != nil {
			m.logger.Warn("unable to store a PKCE verifier", "error", err)
		}
	}

	m.goBackground(func() { m.refreshLoop(ctx) })
	return m, nil
}

// Done stops the Manager's background refresh loop and any popup pollers,
// then waits for them to return.  It's safe to call more than once.
func (m *Manager) Done() {
	m.bgMu.Lock()
	m.stopped = true
	m.bgMu.Unlock()
	if m.backgroundCtxCancel != nil {
		m.backgroundCtxCancel()
	}
	m.wg.Wait()
}

// goBackground runs f on a goroutine that Done waits for.  Once Done has been
// called it returns false without running f.
func (m *Manager) goBackground(f func()) bool {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.stopped {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		f()
	}()
	return true
}

// Domain returns the identity service base URL.
func (m *Manager) Domain() string {
	return m.domain
}

// Tokens returns the manager's TokenStore.
func (m *Manager) Tokens() *TokenStore {
	return m.tokens
}

// Auth composes the authorization URL for ac.  When ac.Popup is set the URL is
// opened in a popup window, the popup is polled in the background and "" is
// returned.
func (m *Manager) Auth(ctx context.Context, ac AuthConfig) (string, error) {
	const op = "Manager.Auth"
	if m.hostedOrigin() {
		if err := m.hostedSetCodeChallenge(ctx); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	u := m.authURL(ctx, ac)
	if ac.Popup {
		m.popUp(u)
		return "", nil
	}
	return u, nil
}

// IsLoggedIn reports whether a stored id_token exists and the identity
// service considers it valid.  When there is no stored id_token a PKCE
// verifier is generated in preparation for a login.  Under hosted mode on the
// identity service's origin it always reports false.
func (m *Manager) IsLoggedIn(ctx context.Context) (bool, error) {
	const op = "Manager.IsLoggedIn"
	if m.hostedOrigin() {
		return false, nil
	}
	tok, err := m.tokens.IDToken(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if tok != nil {
		return m.ValidateToken(ctx, tok), nil
	}
	if err := m.generateCodeChallenge(ctx); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return false, nil
}

// ValidateToken asks the identity service's tokeninfo endpoint whether tok
// is valid.  When tok is nil the stored id_token is used.  Any failure,
// including no token being available, reports false.
func (m *Manager) ValidateToken(ctx context.Context, tok *IDToken) bool {
	raw := tok.Raw()
	if raw == "" {
		stored, err := m.tokens.RawIDToken(ctx)
		if err != nil {
			m.logger.Debug("unable to read id_token", "error", err)
			return false
		}
		raw = stored
	}
	if raw == "" {
		return false
	}
	var reply struct {
		Data interface{} `json:"data"`
	}
	u := m.domain + "/connect/tokeninfo?id_token=" + url.QueryEscape(string(raw))
	if err := m.doJSON(ctx, http.MethodGet, u, nil, &reply); err != nil {
		m.logger.Debug("token validation failed", "error", err)
		return false
	}
	return truthy(reply.Data)
}

// Logout removes every session record and emits LogoutSuccess with the
// profile that was logged out (nil when there wasn't one).  Every record
// removal is attempted; failures are returned together and the notification
// is emitted regardless.
func (m *Manager) Logout(ctx context.Context) error {
	const op = "Manager.Logout"
	profile, err := m.tokens.IDToken(ctx)
	if err != nil {
		m.logger.Debug("logging out an unreadable id_token", "error", err)
		profile = nil
	}
	clearErr := m.tokens.Clear(ctx)
	m.emit(LogoutSuccess, profile)
	if clearErr != nil {
		return fmt.Errorf("%s: %w", op, clearErr)
	}
	return nil
}

// Profile returns the decoded stored id_token, or nil when not logged in.
func (m *Manager) Profile(ctx context.Context) (*IDToken, error) {
	const op = "Manager.Profile"
	tok, err := m.tokens.IDToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tok, nil
}

// Scopes returns the decoded stored id_token, exactly like Profile.  Use
// GrantedScopes for the scopes granted by the last code exchange.
func (m *Manager) Scopes(ctx context.Context) (*IDToken, error) {
	const op = "Manager.Scopes"
	tok, err := m.tokens.IDToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tok, nil
}

// GrantedScopes returns the scopes stored by the last code exchange.
func (m *Manager) GrantedScopes(ctx context.Context) ([]string, error) {
	const op = "Manager.GrantedScopes"
	s, err := m.tokens.Scopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return strings.Fields(s), nil
}

// AccessToken returns the stored access_token, or "".
func (m *Manager) AccessToken(ctx context.Context) (AccessToken, error) {
	const op = "Manager.AccessToken"
	t, err := m.tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// OnLoginSuccess subscribes h to LoginSuccess notifications.
func (m *Manager) OnLoginSuccess(h Handler) { m.notifier.Subscribe(LoginSuccess, h) }

// OnLoginFail subscribes h to LoginFail notifications.
func (m *Manager) OnLoginFail(h Handler) { m.notifier.Subscribe(LoginFail, h) }

// OnLogoutSuccess subscribes h to LogoutSuccess notifications.
func (m *Manager) OnLogoutSuccess(h Handler) { m.notifier.Subscribe(LogoutSuccess, h) }

// OnTokenRefreshSuccess subscribes h to TokenRefreshSuccess notifications.
func (m *Manager) OnTokenRefreshSuccess(h Handler) { m.notifier.Subscribe(TokenRefreshSuccess, h) }

// OnTokenRefreshFail subscribes h to TokenRefreshFail notifications.
func (m *Manager) OnTokenRefreshFail(h Handler) { m.notifier.Subscribe(TokenRefreshFail, h) }

// OnSessionExpired subscribes h to SessionExpired notifications.
func (m *Manager) OnSessionExpired(h Handler) { m.notifier.Subscribe(SessionExpired, h) }

func (m *Manager) emit(t EventType, payload interface{}) {
	m.notifier.Emit(Event{Type: t, Payload: payload})
}

// hostedOrigin reports whether the manager is in hosted mode and the page is
// served from the identity service itself: the domain equals the page origin,
// or the domain is versioned and contains it.
func (m *Manager) hostedOrigin() bool {
	if !m.hosted {
		return false
	}
	origin := urlutil.Origin(m.location())
	if origin == "" {
		return false
	}
	return m.domain == origin || (m.versioned && strings.Contains(m.domain, origin))
}

// location returns the window's current URL, never nil.
func (m *Manager) location() *url.URL {
	if u := m.window.Location(); u != nil {
		return u
	}
	return &url.URL{}
}

// clearLocation strips the query from the window's visible URL.
func (m *Manager) clearLocation() {
	m.window.ReplaceState(urlutil.WithoutQuery(m.location()))
}

// truthy reports whether v is a json value other than null, false, 0 or "".
func truthy(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// managerOptions is the set of available options for Manager
type managerOptions struct {
	withLogger            hclog.Logger
	withClock             clockwork.Clock
	withHTTPClient        *http.Client
	withWindow            Window
	withNotifier          Notifier
	withMetrics           prometheus.Registerer
	withRefreshInterval   time.Duration
	withPopupPollInterval time.Duration
}

// managerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func managerDefaults() managerOptions {
	return managerOptions{
		withLogger:            hclog.NewNullLogger(),
		withClock:             clockwork.NewRealClock(),
		withHTTPClient:        cleanhttp.DefaultPooledClient(),
		withWindow:            NoWindow{},
		withNotifier:          NewDispatcher(),
		withRefreshInterval:   DefaultRefreshInterval,
		withPopupPollInterval: DefaultPopupPollInterval,
	}
}

// getManagerOpts gets the defaults and applies the opt overrides passed in.
// Nil or non-positive overrides fall back to the defaults.
func getManagerOpts(opt ...Option) managerOptions {
	defaults := managerDefaults()
	opts := defaults
	ApplyOpts(&opts, opt...)
	if opts.withLogger == nil {
		opts.withLogger = defaults.withLogger
	}
	if opts.withClock == nil {
		opts.withClock = defaults.withClock
	}
	if opts.withHTTPClient == nil {
		opts.withHTTPClient = defaults.withHTTPClient
	}
	if opts.withWindow == nil {
		opts.withWindow = defaults.withWindow
	}
	if opts.withNotifier == nil {
		opts.withNotifier = defaults.withNotifier
	}
	if opts.withRefreshInterval <= 0 {
		opts.withRefreshInterval = defaults.withRefreshInterval
	}
	if opts.withPopupPollInterval <= 0 {
		opts.withPopupPollInterval = defaults.withPopupPollInterval
	}
	return opts
}
