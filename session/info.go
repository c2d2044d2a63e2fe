package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// IMAPCredentials are the mailbox settings submitted by AuthIMAP.
type IMAPCredentials struct {
	Username string
	Password string
	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
	// Type is the provider type, e.g. "imap"
	Type string
}

// imapLoginRequest is the json body of an IMAP login.  Password is a plain
// string so it's sent, never logged.
type imapLoginRequest struct {
	Username            string `json:"imap_username"`
	Password            string `json:"imap_password"`
	Host                string `json:"host"`
	Port                int    `json:"port"`
	Type                string `json:"type"`
	SMTPHost            string `json:"smtp_host"`
	SMTPPort            int    `json:"smtp_port"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	ClientID            string `json:"public_application_id"`
}

// Provider is an email provider available to the application.
type Provider struct {
	Provider string                 `json:"provider"`
	Type     string                 `json:"type"`
	Name     string                 `json:"name"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// dataReply is the envelope of the identity service's metadata endpoints.
type dataReply struct {
	Data json.RawMessage `json:"data"`
}

// AuthIMAP logs in with IMAP/SMTP credentials instead of an OAuth provider.
// The login carries the session's code_challenge so the code it yields can be
// completed with CodeExchange.  The identity service's reply is returned as
// received.
func (m *Manager) AuthIMAP(ctx context.Context, creds IMAPCredentials) (map[string]interface{}, error) {
	const op = "Manager.AuthIMAP"
	req := imapLoginRequest{
		Username:            creds.Username,
		Password:            creds.Password,
		Host:                creds.IMAPHost,
		Port:                creds.IMAPPort,
		Type:                creds.Type,
		SMTPHost:            creds.SMTPHost,
		SMTPPort:            creds.SMTPPort,
		RedirectURI:         m.redirectURI,
		CodeChallenge:       m.codeChallenge(ctx),
		CodeChallengeMethod: CodeChallengeMethod,
		ClientID:            m.clientID,
	}
	var reply map[string]interface{}
	if err := m.doJSON(ctx, http.MethodPost, m.domain+"/connect/login/imap", req, &reply); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return reply, nil
}

// DetectEmail asks the identity service which provider serves email.
func (m *Manager) DetectEmail(ctx context.Context, email string) (map[string]interface{}, error) {
	const op = "Manager.DetectEmail"
	q := url.Values{}
	q.Set("client_id", m.clientID)
	q.Set("email", email)
	var out map[string]interface{}
	if err := m.getData(ctx, http.MethodPost, m.metadataBase()+"/providers/detect?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// ApplicationInfo returns the identity service's metadata for the
// application.
func (m *Manager) ApplicationInfo(ctx context.Context) (map[string]interface{}, error) {
	const op = "Manager.ApplicationInfo"
	q := url.Values{}
	q.Set("client_id", m.clientID)
	var out map[string]interface{}
	if err := m.getData(ctx, http.MethodGet, m.metadataBase()+"/applications?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// AvailableProviders lists the providers the application can log in with.
func (m *Manager) AvailableProviders(ctx context.Context) ([]Provider, error) {
	const op = "Manager.AvailableProviders"
	q := url.Values{}
	q.Set("client_id", m.clientID)
	var out []Provider
	if err := m.getData(ctx, http.MethodGet, m.domain+"/connect/providers/find?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// metadataBase is where the provider detection and application endpoints
// live: the domain itself when it's versioned, otherwise its /connect path.
func (m *Manager) metadataBase() string {
	if m.versioned {
		return m.domain
	}
	return m.domain + "/connect"
}

// getData calls u and decodes the data member of the reply into out.  A
// reply without data leaves out untouched.
func (m *Manager) getData(ctx context.Context, method, u string, out interface{}) error {
	const op = "Manager.getData"
	var reply dataReply
	if err := m.doJSON(ctx, method, u, nil, &reply); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(reply.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Data, out); err != nil {
		return fmt.Errorf("%s: unable to decode data: %v: %w", op, err, ErrUnexpectedResponse)
	}
	return nil
}
