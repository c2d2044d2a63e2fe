package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/nylas/sessions/internal/urlutil"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestGenerateKey will generate a test ECDSA P-256 private key
func TestGenerateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return k
}

// TestSignIDToken will bundle the provided claims into a test signed compact
// id_token.
func TestSignIDToken(t *testing.T, k *ecdsa.PrivateKey, claims interface{}) string {
	t.Helper()
	require := require.New(t)
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: k},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)
	raw, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	require.NoError(err)
	return raw
}

// TestProvider is a local identity service which makes writing tests much
// easier.  It implements the token, tokeninfo, IMAP login and metadata
// endpoints of the identity service; metadata endpoints are served beneath
// both /connect and /v3 so versioned domains can be exercised.
type TestProvider struct {
	httpServer *httptest.Server
	key        *ecdsa.PrivateKey

	mu                  sync.Mutex
	clientID            string
	allowedRedirectURIs []string
	expectedAuthCode    string
	refreshToken        string
	accessToken         string
	scope               string
	idTokenLifetime     time.Duration
	clock               clockwork.Clock
	tokenError          map[string]interface{}
	tokenInfoValid      bool
	detected            map[string]interface{}
	application         map[string]interface{}
	providers           []Provider
	imapReply           map[string]interface{}
	requests            map[string]int
	tokenRequests       []map[string]interface{}
	imapRequests        []map[string]interface{}

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider.  It's stopped when the
// test finishes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	p := &TestProvider{
		key:                 TestGenerateKey(t),
		clientID:            "test-client-id",
		allowedRedirectURIs: []string{"https://example.com/callback"},
		expectedAuthCode:    "test-code",
		refreshToken:        "test-refresh-token",
		accessToken:         "test-access-token",
		scope:               "email.read_only calendar",
		idTokenLifetime:     time.Hour,
		clock:               clockwork.NewRealClock(),
		tokenInfoValid:      true,
		detected: map[string]interface{}{
			"email":    "alice@example.com",
			"provider": "google",
			"type":     "oauth",
			"detected": true,
		},
		application: map[string]interface{}{
			"application_id": "test-client-id",
			"branding":       map[string]interface{}{"name": "Test App"},
		},
		providers: []Provider{
			{Provider: "google", Type: "oauth", Name: "Google"},
			{Provider: "imap", Type: "imap", Name: "IMAP", Settings: map[string]interface{}{"smtp": true}},
		},
		imapReply: map[string]interface{}{"code": "test-imap-code"},
		requests:  map[string]int{},
		t:         t,
	}
	p.httpServer = httptest.NewServer(p.router())
	t.Cleanup(p.httpServer.Close)
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// SetClientID configures the client id the token endpoint accepts.
func (p *TestProvider) SetClientID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = id
}

// SetAllowedRedirectURIs configures the redirect URIs the token endpoint
// accepts.  If not configured "https://example.com/callback" is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetExpectedAuthCode configures the authorization code the token endpoint
// accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetRefreshToken configures the refresh_token issued by, and accepted by,
// the token endpoint.
func (p *TestProvider) SetRefreshToken(t string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshToken = t
}

// SetScope configures the scope returned by code exchanges.
func (p *TestProvider) SetScope(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scope = s
}

// SetIDTokenLifetime configures how long issued id_tokens are valid for.
func (p *TestProvider) SetIDTokenLifetime(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenLifetime = d
}

// SetClock configures the clock issued id_tokens are stamped with.
func (p *TestProvider) SetClock(c clockwork.Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = c
}

// SetTokenError forces every token endpoint request to fail with the given
// error reply.  A nil reply restores normal behaviour.
func (p *TestProvider) SetTokenError(reply map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = reply
}

// SetTokenInfoValid configures whether tokeninfo reports tokens as valid.
func (p *TestProvider) SetTokenInfoValid(valid bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenInfoValid = valid
}

// SetProviders configures the providers returned by providers/find.
func (p *TestProvider) SetProviders(providers []Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providers = providers
}

// IDToken issues an id_token for email expiring at exp, signed with the
// provider's key.
func (p *TestProvider) IDToken(email string, exp time.Time) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken(email, exp)
}

func (p *TestProvider) idToken(email string, exp time.Time) string {
	now := p.clock.Now()
	return TestSignIDToken(p.t, p.key, IDToken{
		Issuer:        p.httpServer.URL,
		Audience:      jwt.Audience{p.clientID},
		Subject:       "test-subject",
		Email:         email,
		EmailVerified: true,
		IssuedAt:      now.Unix(),
		Expiry:        exp.Unix(),
		Name:          "Alice Doe",
	})
}

// Requests returns how many requests were received for path.
func (p *TestProvider) Requests(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[path]
}

// TokenRequests returns the decoded bodies of every token endpoint request.
func (p *TestProvider) TokenRequests() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]interface{}, len(p.tokenRequests))
	copy(out, p.tokenRequests)
	return out
}

// IMAPRequests returns the decoded bodies of every IMAP login request.
func (p *TestProvider) IMAPRequests() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]interface{}, len(p.imapRequests))
	copy(out, p.imapRequests)
	return out
}

func (p *TestProvider) router() http.Handler {
	r := chi.NewRouter()
	r.Use(p.count)
	r.Route("/connect", func(r chi.Router) {
		r.Post("/token", p.token)
		r.Get("/tokeninfo", p.tokenInfo)
		r.Post("/login/imap", p.loginIMAP)
		r.Get("/providers/find", p.findProviders)
		p.metadataRoutes(r)
	})
	r.Route("/v3", p.metadataRoutes)
	return r
}

func (p *TestProvider) metadataRoutes(r chi.Router) {
	r.Post("/providers/detect", p.detect)
	r.Get("/applications", p.applications)
}

func (p *TestProvider) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p.mu.Lock()
		p.requests[req.URL.Path]++
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, req)
	})
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, status int, code, desc string) {
	p.writeJSON(w, status, map[string]interface{}{
		"error":             code,
		"error_description": desc,
		"error_code":        status,
	})
}

func (p *TestProvider) token(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var body map[string]interface{}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "body is not json")
		return
	}
	p.tokenRequests = append(p.tokenRequests, body)
	if p.tokenError != nil {
		p.writeJSON(w, http.StatusBadRequest, p.tokenError)
		return
	}
	str := func(k string) string {
		s, _ := body[k].(string)
		return s
	}
	if str("client_id") != p.clientID {
		p.writeTokenError(w, http.StatusUnauthorized, "invalid_client", "unknown client_id")
		return
	}
	if !urlutil.StrListContains(p.allowedRedirectURIs, str("redirect_uri")) {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	}

	reply := map[string]interface{}{
		"id_token":      p.idToken("alice@example.com", p.clock.Now().Add(p.idTokenLifetime)),
		"access_token":  p.accessToken,
		"refresh_token": p.refreshToken,
		"token_type":    "Bearer",
		"grant_id":      "test-grant-id",
	}
	switch str("grant_type") {
	case "authorization_code":
		switch {
		case str("code") != p.expectedAuthCode:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case str("code_verifier") == "":
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "missing code_verifier")
			return
		}
		reply["scope"] = p.scope
	case "refresh_token":
		if str("refresh_token") != p.refreshToken {
			p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh_token")
			return
		}
	default:
		p.writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	}
	p.writeJSON(w, http.StatusOK, reply)
}

func (p *TestProvider) tokenInfo(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw := req.URL.Query().Get("id_token")
	if raw == "" || !p.tokenInfoValid {
		p.writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"data": nil})
		return
	}
	tok, err := ParseIDToken(raw)
	if err != nil {
		p.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"data": nil, "error": err.Error()})
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]interface{}{"data": tok})
}

func (p *TestProvider) loginIMAP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var body map[string]interface{}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "body is not json")
		return
	}
	p.imapRequests = append(p.imapRequests, body)
	p.writeJSON(w, http.StatusOK, p.imapReply)
}

func (p *TestProvider) requireClient(w http.ResponseWriter, req *http.Request) bool {
	if req.URL.Query().Get("client_id") != p.clientID {
		p.writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false})
		return false
	}
	return true
}

func (p *TestProvider) findProviders(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.requireClient(w, req) {
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": p.providers})
}

func (p *TestProvider) detect(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.requireClient(w, req) {
		return
	}
	data := map[string]interface{}{}
	for k, v := range p.detected {
		data[k] = v
	}
	data["email"] = req.URL.Query().Get("email")
	p.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": data})
}

func (p *TestProvider) applications(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.requireClient(w, req) {
		return
	}
	p.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": p.application})
}

// TestWindow is a Window for tests.  Its location, name and opener can be
// set, and it records history replacements, reloads and opened popups.
type TestWindow struct {
	mu          sync.Mutex
	location    *url.URL
	name        string
	opener      bool
	bounds      Bounds
	blockPopups bool
	replaced    []*url.URL
	reloads     int
	opened      []TestOpen
	popups      []*TestPopup

	t *testing.T
}

// TestOpen records one call to TestWindow.Open.
type TestOpen struct {
	URL      string
	Name     string
	Features PopupFeatures
}

// ensure that TestWindow implements the Window interface
var _ Window = (*TestWindow)(nil)

// NewTestWindow creates a TestWindow located at rawURL.
func NewTestWindow(t *testing.T, rawURL string) *TestWindow {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &TestWindow{
		location: u,
		bounds:   Bounds{X: 0, Y: 0, Width: 1280, Height: 800},
		t:        t,
	}
}

// Location implements Window.Location
func (w *TestWindow) Location() *url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := *w.location
	return &c
}

// SetLocation navigates the window to rawURL.
func (w *TestWindow) SetLocation(rawURL string) {
	w.t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(w.t, err)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.location = u
}

// ReplaceState implements Window.ReplaceState
func (w *TestWindow) ReplaceState(u *url.URL) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := *u
	w.location = &c
	w.replaced = append(w.replaced, &c)
}

// Replaced returns the URLs passed to ReplaceState.
func (w *TestWindow) Replaced() []*url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*url.URL, len(w.replaced))
	copy(out, w.replaced)
	return out
}

// Reload implements Window.Reload
func (w *TestWindow) Reload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reloads++
}

// Reloads returns how many times Reload was called.
func (w *TestWindow) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Name implements Window.Name
func (w *TestWindow) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name
}

// HasOpener implements Window.HasOpener
func (w *TestWindow) HasOpener() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opener
}

// SetPopupContext makes the window look like a popup called name that was
// opened by another window.
func (w *TestWindow) SetPopupContext(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.name = name
	w.opener = true
}

// Bounds implements Window.Bounds
func (w *TestWindow) Bounds() Bounds {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bounds
}

// SetBounds configures the window's position and size.
func (w *TestWindow) SetBounds(b Bounds) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bounds = b
}

// BlockPopups makes Open fail.
func (w *TestWindow) BlockPopups() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blockPopups = true
}

// Open implements Window.Open.  The popup starts out showing another origin.
func (w *TestWindow) Open(rawURL, name string, f PopupFeatures) (Popup, error) {
	const op = "TestWindow.Open"
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened = append(w.opened, TestOpen{URL: rawURL, Name: name, Features: f})
	if w.blockPopups {
		return nil, fmt.Errorf("%s: %w", op, ErrPopupBlocked)
	}
	p := &TestPopup{crossOrigin: true, t: w.t}
	w.popups = append(w.popups, p)
	return p, nil
}

// Opened returns every call made to Open.
func (w *TestWindow) Opened() []TestOpen {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]TestOpen, len(w.opened))
	copy(out, w.opened)
	return out
}

// Popup returns the most recently opened popup, or nil.
func (w *TestWindow) Popup() *TestPopup {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.popups) == 0 {
		return nil
	}
	return w.popups[len(w.popups)-1]
}

// TestPopup is the Popup opened by a TestWindow.
type TestPopup struct {
	mu          sync.Mutex
	location    *url.URL
	crossOrigin bool
	closed      bool
	closeCalled bool

	t *testing.T
}

// ensure that TestPopup implements the Popup interface
var _ Popup = (*TestPopup)(nil)

// Closed implements Popup.Closed
func (p *TestPopup) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Location implements Popup.Location.  It fails with ErrCrossOrigin while
// the popup shows another origin.
func (p *TestPopup) Location() (*url.URL, error) {
	const op = "TestPopup.Location"
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.crossOrigin || p.location == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrCrossOrigin)
	}
	c := *p.location
	return &c, nil
}

// Close implements Popup.Close
func (p *TestPopup) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCalled = true
}

// CloseCalled reports whether Close was called.
func (p *TestPopup) CloseCalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalled
}

// Navigate sends the popup to rawURL on the application's origin.
func (p *TestPopup) Navigate(rawURL string) {
	p.t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(p.t, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = u
	p.crossOrigin = false
}

// UserClose simulates the user closing the popup.
func (p *TestPopup) UserClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
