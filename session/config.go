package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nylas/sessions/internal/urlutil"
	"github.com/nylas/sessions/store"
)

const (
	// DefaultDomain is the identity service used when no domain is configured.
	DefaultDomain = "http://api.nylas.com"

	// DefaultAccessType is the access_type requested when none is configured.
	DefaultAccessType = "offline"
)

// Config is the configuration of a Manager.  It must not be changed once a
// Manager has been created from it.
type Config struct {
	// ClientID is the application's client id
	ClientID string

	// ClientSecret is not sent by any flow.  Public clients authenticate with
	// PKCE instead.
	ClientSecret ClientSecret

	// RedirectURI is where the identity service sends the user back to after
	// authorization
	RedirectURI string

	// AccessType is sent as access_type on the authorization URL
	AccessType string

	// Domain is the identity service base URL.  It may itself end in an API
	// version segment (e.g. https://example.com/v3), see Versioned.
	Domain string

	// Store persists the session's records.  When nil an in-memory store is
	// used.
	Store store.Store

	// Hosted is set when the application is served from the identity
	// service's own origin and the hosting page supplies the code_challenge.
	Hosted bool
}

// NewConfig composes a new config.
//
// Supported options: WithDomain, WithAccessType, WithHosted, WithStore,
// WithClientSecret
func NewConfig(clientID, redirectURI string, opt ...Option) (*Config, error) {
	const op = "session.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientID:     clientID,
		ClientSecret: opts.withClientSecret,
		RedirectURI:  redirectURI,
		AccessType:   opts.withAccessType,
		Domain:       strings.TrimRight(opts.withDomain, "/"),
		Store:        opts.withStore,
		Hosted:       opts.withHosted,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the configuration.  It doesn't verify that the domain is
// reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("%s: redirect URI is empty: %w", op, ErrInvalidParameter)
	}
	if _, err := url.Parse(c.RedirectURI); err != nil {
		return fmt.Errorf("%s: redirect URI %s is invalid: %v: %w", op, c.RedirectURI, err, ErrInvalidParameter)
	}
	if c.Domain == "" {
		return fmt.Errorf("%s: domain is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Domain)
	if err != nil {
		return fmt.Errorf("%s: domain %s is invalid: %v: %w", op, c.Domain, err, ErrInvalidParameter)
	}
	if !urlutil.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: domain %s scheme is not http or https: %w", op, c.Domain, ErrInvalidParameter)
	}
	return nil
}

// Versioned reports whether the domain already ends in an API version
// segment, i.e. its last three characters contain "/v".  Versioned domains
// have their metadata endpoints directly beneath them instead of beneath
// "/connect".
func (c *Config) Versioned() bool {
	if len(c.Domain) < 3 {
		return strings.Contains(c.Domain, "/v")
	}
	return strings.Contains(c.Domain[len(c.Domain)-3:], "/v")
}

// configOptions is the set of available options for Config
type configOptions struct {
	withDomain       string
	withAccessType   string
	withHosted       bool
	withStore        store.Store
	withClientSecret ClientSecret
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{
		withDomain:     DefaultDomain,
		withAccessType: DefaultAccessType,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// AuthConfig describes one authorization request.  It isn't persisted.
type AuthConfig struct {
	// Provider preselects the email provider (e.g. "google")
	Provider string

	// Scope is the ordered list of scopes to request
	Scope []string

	// LoginHint prefills the user's email address
	LoginHint string

	// Prompt is sent as the prompt parameter
	Prompt string

	// Metadata is passed through the flow untouched
	Metadata string

	// State is returned to the redirect URI and attached to the
	// onLoginSuccess payload
	State string

	// Popup opens the authorization URL in a popup window instead of
	// returning it
	Popup bool

	// Hosted is accepted for parity with Config.Hosted; the manager's
	// configuration decides whether hosted mode applies.
	Hosted bool
}
