package store

import "time"

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

// WithPrefix provides an optional key prefix for: Redis
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*redisOptions); ok {
			o.withPrefix = prefix
		}
	}
}

// WithDB selects the redis logical database for: Redis
func WithDB(db int) Option {
	return func(o interface{}) {
		if o, ok := o.(*redisOptions); ok {
			o.withDB = db
		}
	}
}

// WithPassword provides an optional redis password for: Redis
func WithPassword(password string) Option {
	return func(o interface{}) {
		if o, ok := o.(*redisOptions); ok {
			o.withPassword = password
		}
	}
}

// WithTTL provides an optional expiry applied to every record written by:
// Redis, Memory. Zero means records never expire.
func WithTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *redisOptions:
			v.withTTL = ttl
		case *memoryOptions:
			v.withTTL = ttl
		}
	}
}

// WithBucket provides an optional bucket name for: Bolt
func WithBucket(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*boltOptions); ok {
			o.withBucket = name
		}
	}
}

// WithOpenTimeout bounds how long Bolt waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*boltOptions); ok {
			o.withOpenTimeout = d
		}
	}
}
