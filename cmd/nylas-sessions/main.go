// Command nylas-sessions drives a session Manager from the terminal: it builds
// authorization URLs, completes logins through a loopback redirect listener,
// refreshes tokens and reports the stored session.
//
// Session records are kept in a bolt file by default so that a login
// survives between invocations.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/nylas/sessions/session"
	"github.com/nylas/sessions/store"
	"github.com/spf13/cobra"
)

func main() {
	a := &app{}
	root := newRootCmd(a)
	err := root.Execute()
	if cerr := a.close(); cerr != nil {
		fmt.Fprintln(os.Stderr, cerr.Error())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// app is the state shared by every command of one invocation.
type app struct {
	configPath string
	flags      Config

	cfg        *Config
	logger     hclog.Logger
	out        io.Writer
	store      store.Store
	closeStore func() error
	events     *session.Dispatcher

	// set by tests
	httpClient *http.Client
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "nylas-sessions",
		Short:         "Manage a Nylas user session from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", os.Getenv("NYLAS_SESSIONS_CONFIG"), "yaml config file (env NYLAS_SESSIONS_CONFIG)")
	pf.StringVar(&a.flags.ClientID, "client-id", "", "application client id (env NYLAS_CLIENT_ID)")
	pf.StringVar(&a.flags.RedirectURI, "redirect-uri", "", "redirect URI registered for the application (env NYLAS_REDIRECT_URI)")
	pf.StringVar(&a.flags.Domain, "domain", "", "identity service base URL (env NYLAS_DOMAIN)")
	pf.StringVar(&a.flags.AccessType, "access-type", "", "access_type sent with authorization requests")
	pf.BoolVar(&a.flags.Hosted, "hosted", false, "the application is served from the identity service's origin")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "trace|debug|info|warn|error (env NYLAS_LOG_LEVEL)")
	pf.StringVar(&a.flags.Store.Kind, "store", "", "memory|bolt|redis (env NYLAS_STORE)")
	pf.StringVar(&a.flags.Store.Path, "store-path", "", "bolt file")
	pf.StringVar(&a.flags.Store.Addr, "redis-addr", "", "redis address")

	root.AddCommand(
		newAuthURLCmd(a),
		newLoginCmd(a),
		newExchangeCmd(a),
		newRefreshCmd(a),
		newStatusCmd(a),
		newLogoutCmd(a),
		newIMAPCmd(a),
		newProvidersCmd(a),
		newDetectCmd(a),
		newAppInfoCmd(a),
		newWatchCmd(a),
	)
	return root
}

// setup loads the config file and applies the flags that were set on the
// command line over it.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := Load(a.configPath)
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("client-id", &cfg.ClientID, a.flags.ClientID)
	set("redirect-uri", &cfg.RedirectURI, a.flags.RedirectURI)
	set("domain", &cfg.Domain, a.flags.Domain)
	set("access-type", &cfg.AccessType, a.flags.AccessType)
	set("log-level", &cfg.LogLevel, a.flags.LogLevel)
	set("store", &cfg.Store.Kind, a.flags.Store.Kind)
	set("store-path", &cfg.Store.Path, a.flags.Store.Path)
	set("redis-addr", &cfg.Store.Addr, a.flags.Store.Addr)
	if fs.Changed("hosted") {
		cfg.Hosted = a.flags.Hosted
	}
	a.cfg = cfg

	a.out = cmd.OutOrStdout()
	a.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "nylas-sessions",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: cmd.ErrOrStderr(),
	})

	s, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	a.store, a.closeStore = s, closeStore
	a.events = session.NewDispatcher()
	a.logger.Debug("configured", "domain", cfg.Domain, "store", cfg.Store.Kind)
	return nil
}

func (a *app) close() error {
	if a.closeStore == nil {
		return nil
	}
	err := a.closeStore()
	a.closeStore = nil
	return err
}

// newManager starts a Manager for the loaded config.  Callers must call Done.
func (a *app) newManager(opt ...session.Option) (*session.Manager, error) {
	c, err := a.cfg.SessionConfig(a.store)
	if err != nil {
		return nil, err
	}
	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithNotifier(a.events),
		session.WithRefreshInterval(a.cfg.Refresh.Interval),
	}
	if a.httpClient != nil {
		opts = append(opts, session.WithHTTPClient(a.httpClient))
	}
	return session.NewManager(c, append(opts, opt...)...)
}
