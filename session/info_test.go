package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_DetectEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unversioned", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, env := newTestManager(t, testManagerOpts{})
		got, err := m.DetectEmail(ctx, "bob+test@example.com")
		require.NoError(err)
		assert.Equal("bob+test@example.com", got["email"])
		assert.Equal("google", got["provider"])
		assert.Equal(1, env.provider.Requests("/connect/providers/detect"))
	})
	t.Run("versioned", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		m, env := newTestManager(t, testManagerOpts{configOpt: []Option{WithDomain(p.Addr() + "/v3")}})
		got, err := m.DetectEmail(ctx, "bob@example.com")
		require.NoError(err)
		assert.Equal("bob@example.com", got["email"])
		assert.Equal(1, p.Requests("/v3/providers/detect"))
		assert.Zero(env.provider.Requests("/connect/providers/detect"))
	})
	t.Run("transport-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, env := newTestManager(t, testManagerOpts{})
		env.provider.Stop()
		got, err := m.DetectEmail(ctx, "bob@example.com")
		require.Error(err)
		assert.Nil(got)
	})
}

func TestManager_ApplicationInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unversioned", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, env := newTestManager(t, testManagerOpts{})
		got, err := m.ApplicationInfo(ctx)
		require.NoError(err)
		assert.Equal(testClientID, got["application_id"])
		assert.Equal(1, env.provider.Requests("/connect/applications"))
	})
	t.Run("versioned", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		m, _ := newTestManager(t, testManagerOpts{configOpt: []Option{WithDomain(p.Addr() + "/v3")}})
		got, err := m.ApplicationInfo(ctx)
		require.NoError(err)
		assert.Equal(testClientID, got["application_id"])
		assert.Equal(1, p.Requests("/v3/applications"))
	})
	t.Run("no-data", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, env := newTestManager(t, testManagerOpts{})
		env.provider.SetClientID("someone-else")
		got, err := m.ApplicationInfo(ctx)
		require.NoError(err)
		assert.Nil(got)
	})
}

func TestManager_AvailableProviders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	m, env := newTestManager(t, testManagerOpts{})
	got, err := m.AvailableProviders(ctx)
	require.NoError(err)
	require.Len(got, 2)
	assert.Equal(Provider{Provider: "google", Type: "oauth", Name: "Google"}, got[0])
	assert.Equal(map[string]interface{}{"smtp": true}, got[1].Settings)

	env.provider.SetProviders(nil)
	got, err = m.AvailableProviders(ctx)
	require.NoError(err)
	assert.Empty(got)
}

func TestManager_AuthIMAP(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	m, env := newTestManager(t, testManagerOpts{})
	verifier := m.Tokens().PKCE(ctx)

	reply, err := m.AuthIMAP(ctx, IMAPCredentials{
		Username: "alice",
		Password: "hunter2",
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		SMTPHost: "smtp.example.com",
		SMTPPort: 465,
		Type:     "imap",
	})
	require.NoError(err)
	assert.Equal("test-imap-code", reply["code"])

	reqs := env.provider.IMAPRequests()
	require.Len(reqs, 1)
	assert.Equal(map[string]interface{}{
		"imap_username":         "alice",
		"imap_password":         "hunter2",
		"host":                  "imap.example.com",
		"port":                  float64(993),
		"type":                  "imap",
		"smtp_host":             "smtp.example.com",
		"smtp_port":             float64(465),
		"redirect_uri":          testRedirectURI,
		"code_challenge":        CodeChallenge(verifier),
		"code_challenge_method": "S256",
		"public_application_id": testClientID,
	}, reqs[0])
}
