package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nylas/sessions/session"
	"github.com/nylas/sessions/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"NYLAS_CLIENT_ID", "NYLAS_REDIRECT_URI", "NYLAS_DOMAIN", "NYLAS_LOG_LEVEL", "NYLAS_STORE", "NYLAS_SESSIONS_CONFIG"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Run("defaults", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := Load("")
		require.NoError(err)
		assert.Equal(session.DefaultDomain, c.Domain)
		assert.Equal(session.DefaultAccessType, c.AccessType)
		assert.Equal("http://localhost:5555/callback", c.RedirectURI)
		assert.Equal(storeBolt, c.Store.Kind)
		assert.Equal("nylas-sessions.db", c.Store.Path)
		assert.Equal(session.DefaultRefreshInterval, c.Refresh.Interval)
	})
	t.Run("env", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		t.Setenv("NYLAS_CLIENT_ID", "env-client")
		t.Setenv("NYLAS_STORE", storeMemory)
		c, err := Load("")
		require.NoError(err)
		assert.Equal("env-client", c.ClientID)
		assert.Equal(storeMemory, c.Store.Kind)
	})
	t.Run("file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := writeFile(t, "config.yaml", `
client_id: file-client
redirect_uri: http://127.0.0.1:9999/cb
domain: https://example.com/v3
hosted: true
store:
  kind: redis
  addr: localhost:6379
  db: 2
  prefix: "sess:"
refresh:
  interval: 5s
`)
		c, err := Load(p)
		require.NoError(err)
		assert.Equal("file-client", c.ClientID)
		assert.Equal("http://127.0.0.1:9999/cb", c.RedirectURI)
		assert.Equal("https://example.com/v3", c.Domain)
		assert.True(c.Hosted)
		assert.Equal(session.DefaultAccessType, c.AccessType)
		assert.Equal(StoreConfig{Kind: storeRedis, Path: "nylas-sessions.db", Addr: "localhost:6379", DB: 2, Prefix: "sess:"}, c.Store)
		assert.Equal(5*time.Second, c.Refresh.Interval)
	})
	t.Run("missing-file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Truef(t, errors.Is(err, os.ErrNotExist), "wanted \"%s\" but got \"%s\"", os.ErrNotExist, err)
	})
	t.Run("bad-yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "bad.yaml", "client_id: [unterminated"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to parse")
	})
}

func TestConfig_SessionConfig(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	s := store.NewMemory()
	c := &Config{ClientID: "client", RedirectURI: "http://localhost/cb", Domain: "https://example.com/", Hosted: true}
	sc, err := c.SessionConfig(s)
	require.NoError(err)
	assert.Equal("client", sc.ClientID)
	assert.Equal("https://example.com", sc.Domain)
	assert.Equal(session.DefaultAccessType, sc.AccessType)
	assert.True(sc.Hosted)
	assert.Equal(s, sc.Store)

	_, err = (&Config{RedirectURI: "http://localhost/cb", Domain: "https://example.com"}).SessionConfig(s)
	require.Error(err)
	assert.Truef(errors.Is(err, session.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", session.ErrInvalidParameter, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr error
		wantMsg string
	}{
		{name: "memory", cfg: StoreConfig{Kind: storeMemory}},
		{name: "empty-kind", cfg: StoreConfig{}},
		{name: "bolt", cfg: StoreConfig{Kind: storeBolt, Path: filepath.Join(t.TempDir(), "s.db")}},
		{name: "bolt-bucket", cfg: StoreConfig{Kind: storeBolt, Path: filepath.Join(t.TempDir(), "s.db"), Bucket: "other"}},
		{name: "bolt-no-path", cfg: StoreConfig{Kind: storeBolt}, wantErr: store.ErrInvalidParameter},
		{name: "redis-no-addr", cfg: StoreConfig{Kind: storeRedis}, wantErr: store.ErrInvalidParameter},
		{name: "unknown", cfg: StoreConfig{Kind: "etcd"}, wantMsg: "unknown store kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			s, closeStore, err := openStore(tt.cfg)
			if tt.wantErr != nil || tt.wantMsg != "" {
				require.Error(err)
				if tt.wantErr != nil {
					assert.Truef(errors.Is(err, tt.wantErr), "wanted \"%s\" but got \"%s\"", tt.wantErr, err)
				}
				if tt.wantMsg != "" {
					assert.Contains(err.Error(), tt.wantMsg)
				}
				return
			}
			require.NoError(err)
			defer func() { assert.NoError(closeStore()) }()
			require.NoError(s.Set(ctx, "k", "v"))
			got, err := s.Get(ctx, "k")
			require.NoError(err)
			assert.Equal("v", got)
		})
	}
}

// runCLI executes one invocation against the provider and returns its stdout.
func runCLI(t *testing.T, p *session.TestProvider, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := &app{}
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{
		"--domain", p.Addr(),
		"--client-id", "test-client-id",
		"--redirect-uri", "https://example.com/callback",
		"--log-level", "error",
	}, args...))
	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.close())
	return out.String(), err
}

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.NewDecoder(strings.NewReader(s)).Decode(&v))
	return v
}

func TestCLI_sessionLifecycle(t *testing.T) {
	clearEnv(t)
	assert, require := assert.New(t), require.New(t)
	p := session.StartTestProvider(t)
	storeArgs := []string{"--store", storeBolt, "--store-path", filepath.Join(t.TempDir(), "sessions.db")}
	cli := func(args ...string) (string, error) {
		return runCLI(t, p, append(storeArgs, args...)...)
	}

	out, err := cli("status")
	require.NoError(err)
	assert.Equal(false, decode(t, out)["logged_in"])

	out, err = cli("auth-url", "--provider", "google", "--scope", "email.read_only,calendar", "--state", "s1")
	require.NoError(err)
	assert.True(strings.HasPrefix(out, p.Addr()+"/connect/auth?"), out)
	assert.Contains(out, "code_challenge=")
	assert.Contains(out, "provider=google")
	assert.Contains(out, "scope=email.read_only+calendar")

	out, err = cli("exchange", "?code=test-code&state=s1")
	require.NoError(err)
	ev := decode(t, out)
	assert.Equal(string(session.LoginSuccess), ev["event"])
	assert.Equal("test-grant-id", ev["grant_id"])
	assert.Equal("s1", ev["state"])
	assert.NotContains(out, "test-access-token")
	assert.NotContains(out, "test-refresh-token")

	out, err = cli("status")
	require.NoError(err)
	st := decode(t, out)
	assert.Equal(true, st["logged_in"])
	assert.Equal("alice@example.com", st["profile"].(map[string]interface{})["email"])
	assert.Equal([]interface{}{"email.read_only", "calendar"}, st["scopes"])

	out, err = cli("refresh")
	require.NoError(err)
	assert.Equal(string(session.TokenRefreshSuccess), decode(t, out)["event"])

	out, err = cli("logout")
	require.NoError(err)
	ev = decode(t, out)
	assert.Equal(string(session.LogoutSuccess), ev["event"])
	assert.Equal("alice@example.com", ev["email"])

	out, err = cli("status")
	require.NoError(err)
	assert.Equal(false, decode(t, out)["logged_in"])
}

func TestCLI_exchangeFailures(t *testing.T) {
	clearEnv(t)
	p := session.StartTestProvider(t)
	t.Run("no-code", func(t *testing.T) {
		_, err := runCLI(t, p, "--store", storeMemory, "exchange", "?state=s1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nothing to exchange")
	})
	t.Run("query-error", func(t *testing.T) {
		out, err := runCLI(t, p, "--store", storeMemory, "exchange", "?error=access_denied&error_description=denied&error_code=403")
		require.Error(t, err)
		assert.Contains(t, err.Error(), string(session.LoginFail))
		assert.Equal(t, "access_denied: denied (403)", decode(t, out)["error"])
	})
	t.Run("provider-error", func(t *testing.T) {
		out, err := runCLI(t, p, "--store", storeMemory, "exchange", "?code=wrong-code")
		require.Error(t, err)
		ev := decode(t, out)
		assert.Equal(t, "invalid_grant", ev["error"])
		assert.Equal(t, "400", ev["error_code"])
	})
	t.Run("refresh-without-token", func(t *testing.T) {
		out, err := runCLI(t, p, "--store", storeMemory, "refresh")
		require.Error(t, err)
		assert.Equal(t, string(session.TokenRefreshFail), decode(t, out)["event"])
	})
}

func TestCLI_metadata(t *testing.T) {
	clearEnv(t)
	p := session.StartTestProvider(t)
	t.Run("providers", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		out, err := runCLI(t, p, "--store", storeMemory, "providers")
		require.NoError(err)
		var ps []session.Provider
		require.NoError(json.Unmarshal([]byte(out), &ps))
		require.Len(ps, 2)
		assert.Equal("google", ps[0].Provider)
	})
	t.Run("detect", func(t *testing.T) {
		out, err := runCLI(t, p, "--store", storeMemory, "detect", "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "google", decode(t, out)["provider"])
	})
	t.Run("app-info", func(t *testing.T) {
		out, err := runCLI(t, p, "--store", storeMemory, "app-info")
		require.NoError(t, err)
		assert.Equal(t, "test-client-id", decode(t, out)["application_id"])
	})
	t.Run("imap", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		out, err := runCLI(t, p, "--store", storeMemory, "imap", "--username", "bob", "--password", "pw", "--imap-host", "imap.example.com", "--smtp-host", "smtp.example.com")
		require.NoError(err)
		assert.Equal("test-imap-code", decode(t, out)["code"])
		reqs := p.IMAPRequests()
		require.NotEmpty(reqs)
		last := reqs[len(reqs)-1]
		assert.Equal("bob", last["imap_username"])
		assert.Equal(float64(993), last["port"])
	})
	t.Run("detect-requires-email", func(t *testing.T) {
		_, err := runCLI(t, p, "--store", storeMemory, "detect")
		require.Error(t, err)
	})
}

func TestCLI_flagsOverrideConfig(t *testing.T) {
	clearEnv(t)
	assert, require := assert.New(t), require.New(t)
	p := session.StartTestProvider(t)
	cfg := writeFile(t, "config.yaml", `
client_id: test-client-id
domain: https://unreachable.invalid
log_level: error
store:
  kind: memory
`)
	a := &app{}
	root := newRootCmd(a)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", cfg, "--domain", p.Addr(), "status"})
	require.NoError(root.Execute())
	require.NoError(a.close())
	assert.Equal(p.Addr(), a.cfg.Domain)
	assert.Equal("test-client-id", a.cfg.ClientID)
	assert.Equal(storeMemory, a.cfg.Store.Kind)
	assert.Equal("error", a.cfg.LogLevel)
}

func TestCallbackRouter(t *testing.T) {
	clearEnv(t)
	p := session.StartTestProvider(t)
	newApp := func(t *testing.T) *app {
		return setupApp(t, "--domain", p.Addr(), "--client-id", "test-client-id", "--redirect-uri", "https://example.com/callback", "--store", storeMemory, "--log-level", "error")
	}
	t.Run("exchanges", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a := newApp(t)
		rec := a.record(session.LoginSuccess)
		m, err := a.newManager()
		require.NoError(err)
		defer m.Done()

		w := httptest.NewRecorder()
		callbackRouter(m, "/callback").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/callback?code=test-code", nil))
		assert.Equal(http.StatusOK, w.Code)
		assert.Contains(w.Body.String(), loginDone)
		assert.Equal(1, rec.len())
	})
	t.Run("no-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a := newApp(t)
		m, err := a.newManager()
		require.NoError(err)
		defer m.Done()

		w := httptest.NewRecorder()
		callbackRouter(m, "/callback").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/callback", nil))
		assert.Equal(http.StatusBadRequest, w.Code)
	})
	t.Run("other-path", func(t *testing.T) {
		a := newApp(t)
		m, err := a.newManager()
		require.NoError(t, err)
		defer m.Done()

		w := httptest.NewRecorder()
		callbackRouter(m, "/callback").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/elsewhere?code=test-code", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// setupApp configures an app from args without running a command.
func setupApp(t *testing.T, args ...string) *app {
	t.Helper()
	a := &app{}
	root := newRootCmd(a)
	root.SetErr(io.Discard)
	require.NoError(t, root.ParseFlags(args))
	require.NoError(t, a.setup(root))
	t.Cleanup(func() { _ = a.close() })
	return a
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a login.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestApp_login(t *testing.T) {
	clearEnv(t)
	t.Run("loopback", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := session.StartTestProvider(t)
		redirect := "http://" + freeAddr(t) + "/callback"
		p.SetAllowedRedirectURIs([]string{redirect})

		a := setupApp(t, "--domain", p.Addr(), "--client-id", "test-client-id", "--redirect-uri", redirect, "--store", storeMemory, "--log-level", "error")
		out := &syncBuffer{}
		a.out = out

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- a.login(ctx, session.AuthConfig{State: "loop"}) }()

		require.Eventually(func() bool {
			if !strings.Contains(out.String(), "Open this URL") {
				return false
			}
			resp, err := http.Get(redirect + "?code=test-code&state=loop")
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 50*time.Millisecond)

		require.NoError(<-done)
		assert.Contains(out.String(), p.Addr()+"/connect/auth?")
		assert.Contains(out.String(), `"event": "onLoginSuccess"`)
		assert.Contains(out.String(), `"state": "loop"`)
	})
	t.Run("not-loopback", func(t *testing.T) {
		a := &app{cfg: &Config{RedirectURI: "https://example.com/callback"}}
		err := a.login(context.Background(), session.AuthConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a loopback address")
	})
	t.Run("timeout", func(t *testing.T) {
		p := session.StartTestProvider(t)
		a := setupApp(t, "--domain", p.Addr(), "--client-id", "test-client-id", "--redirect-uri", "http://"+freeAddr(t)+"/cb", "--store", storeMemory, "--log-level", "error")
		a.out = io.Discard

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := a.login(ctx, session.AuthConfig{})
		require.Error(t, err)
		assert.Truef(t, errors.Is(err, context.DeadlineExceeded), "wanted \"%s\" but got \"%s\"", context.DeadlineExceeded, err)
	})
}

func TestEventView(t *testing.T) {
	tests := []struct {
		name string
		e    session.Event
		want map[string]interface{}
	}{
		{
			name: "token-response",
			e: session.Event{Type: session.LoginSuccess, Payload: &session.TokenResponse{
				AccessToken: "secret", GrantID: "g", TokenType: "Bearer", Scope: "email", State: "s",
			}},
			want: map[string]interface{}{"event": "onLoginSuccess", "grant_id": "g", "token_type": "Bearer", "scope": "email", "state": "s"},
		},
		{
			name: "provider-error",
			e: session.Event{Type: session.TokenRefreshFail, Payload: &session.TokenResponse{
				Error: "invalid_grant", ErrorDescription: "bad", ErrorCode: "400",
			}},
			want: map[string]interface{}{"event": "onTokenRefreshFail", "error": "invalid_grant", "error_description": "bad", "error_code": "400"},
		},
		{
			name: "auth-error",
			e:    session.Event{Type: session.LoginFail, Payload: &session.AuthError{Description: "OAuth provider window closed"}},
			want: map[string]interface{}{"event": "onLoginFail", "error": "OAuth provider window closed"},
		},
		{
			name: "nil-profile",
			e:    session.Event{Type: session.LogoutSuccess, Payload: (*session.IDToken)(nil)},
			want: map[string]interface{}{"event": "onLogoutSuccess"},
		},
		{
			name: "error",
			e:    session.Event{Type: session.LoginFail, Payload: errors.New("dial failed")},
			want: map[string]interface{}{"event": "onLoginFail", "error": "dial failed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventView(tt.e))
		})
	}
}

func TestMetricsRouter(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "nylas_sessions_test_total", Help: "test"})
	require.NoError(reg.Register(c))
	c.Inc()

	w := httptest.NewRecorder()
	metricsRouter(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(http.StatusOK, w.Code)
	assert.Contains(w.Body.String(), "nylas_sessions_test_total 1")
}

func TestApp_watch(t *testing.T) {
	clearEnv(t)
	require := require.New(t)
	p := session.StartTestProvider(t)
	a := setupApp(t, "--domain", p.Addr(), "--client-id", "test-client-id", "--store", storeMemory, "--log-level", "error")
	a.out = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.watch(ctx, "") }()
	cancel()
	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
