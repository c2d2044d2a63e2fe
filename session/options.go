package session

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"github.com/nylas/sessions/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithDomain provides an optional identity service base URL for: Config
func WithDomain(domain string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDomain = domain
		}
	}
}

// WithAccessType provides an optional access_type for: Config
func WithAccessType(accessType string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAccessType = accessType
		}
	}
}

// WithHosted enables hosted mode for: Config
func WithHosted() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withHosted = true
		}
	}
}

// WithStore provides an optional store.Store for: Config
func WithStore(s store.Store) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withStore = s
		}
	}
}

// WithClientSecret provides an optional client secret for: Config
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithLogger provides an optional logger for: Manager
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock for: Manager.  The clock drives the
// refresh loop, popup polling and token expiry checks.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withClock = c
		}
	}
}

// WithHTTPClient provides an optional http client for: Manager
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithWindow provides the optional page environment for: Manager
func WithWindow(w Window) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withWindow = w
		}
	}
}

// WithNotifier provides an optional Notifier for: Manager.  Handlers
// subscribed to it before NewManager is called will observe the notifications
// of the code exchange attempted during construction.
func WithNotifier(n Notifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withNotifier = n
		}
	}
}

// WithMetrics registers notification counters with r for: Manager
func WithMetrics(r prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withMetrics = r
		}
	}
}

// WithRefreshInterval overrides the refresh loop's tick interval for: Manager
func WithRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withRefreshInterval = d
		}
	}
}

// WithPopupPollInterval overrides how often an open popup is polled for: Manager
func WithPopupPollInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withPopupPollInterval = d
		}
	}
}
