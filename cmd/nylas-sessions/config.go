package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nylas/sessions/session"
	"github.com/nylas/sessions/store"
	"gopkg.in/yaml.v3"
)

// Config is the CLI's configuration file.  Flags and NYLAS_* environment
// variables override the values read from it.
type Config struct {
	ClientID    string `yaml:"client_id"`
	RedirectURI string `yaml:"redirect_uri"`
	Domain      string `yaml:"domain"`
	AccessType  string `yaml:"access_type"`
	Hosted      bool   `yaml:"hosted"`
	LogLevel    string `yaml:"log_level"`

	Store StoreConfig `yaml:"store"`

	Refresh struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"refresh"`
}

// StoreConfig selects where session records are persisted between runs.
type StoreConfig struct {
	// Kind is one of memory, bolt or redis
	Kind   string `yaml:"kind"`
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`

	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

const (
	storeMemory = "memory"
	storeBolt   = "bolt"
	storeRedis  = "redis"
)

func defaultConfig() *Config {
	c := &Config{
		ClientID:    os.Getenv("NYLAS_CLIENT_ID"),
		RedirectURI: envOr("NYLAS_REDIRECT_URI", "http://localhost:5555/callback"),
		Domain:      envOr("NYLAS_DOMAIN", session.DefaultDomain),
		AccessType:  session.DefaultAccessType,
		LogLevel:    envOr("NYLAS_LOG_LEVEL", "info"),
		Store: StoreConfig{
			Kind: envOr("NYLAS_STORE", storeBolt),
			Path: "nylas-sessions.db",
		},
	}
	c.Refresh.Interval = session.DefaultRefreshInterval
	return c
}

// Load reads the yaml file at path over the defaults.  An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	const op = "main.Load"
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read %s: %w", op, path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%s: unable to parse %s: %w", op, path, err)
	}
	return c, nil
}

// SessionConfig converts c into a session.Config backed by s.
func (c *Config) SessionConfig(s store.Store) (*session.Config, error) {
	opts := []session.Option{
		session.WithDomain(c.Domain),
		session.WithStore(s),
	}
	if c.AccessType != "" {
		opts = append(opts, session.WithAccessType(c.AccessType))
	}
	if c.Hosted {
		opts = append(opts, session.WithHosted())
	}
	return session.NewConfig(c.ClientID, c.RedirectURI, opts...)
}

// openStore returns the store selected by c and a func that releases it.
func openStore(c StoreConfig) (store.Store, func() error, error) {
	const op = "main.openStore"
	noop := func() error { return nil }
	switch c.Kind {
	case "", storeMemory:
		return store.NewMemory(), noop, nil
	case storeBolt:
		var opts []store.Option
		if c.Bucket != "" {
			opts = append(opts, store.WithBucket(c.Bucket))
		}
		b, err := store.NewBolt(c.Path, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return b, b.Close, nil
	case storeRedis:
		opts := []store.Option{store.WithDB(c.DB)}
		if c.Password != "" {
			opts = append(opts, store.WithPassword(c.Password))
		}
		if c.Prefix != "" {
			opts = append(opts, store.WithPrefix(c.Prefix))
		}
		r, err := store.NewRedis(c.Addr, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("%s: unknown store kind %q", op, c.Kind)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
