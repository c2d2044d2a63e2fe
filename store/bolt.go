package store

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultBucket is the bucket Bolt keeps its records in.
const DefaultBucket = "sessions"

// Bolt is a Store kept in a single local file.  It suits command line tools
// which need a session to outlive the process.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

// ensure that Bolt implements the Store interface
var _ Store = (*Bolt)(nil)

type boltOptions struct {
	withBucket      string
	withOpenTimeout time.Duration
}

func boltDefaults() boltOptions {
	return boltOptions{
		withBucket:      DefaultBucket,
		withOpenTimeout: time.Second,
	}
}

func getBoltOpts(opt ...Option) boltOptions {
	opts := boltDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewBolt opens (creating if needed) the bolt file at path.  Close must be
// called to release the file lock.
//
// Supported options: WithBucket, WithOpenTimeout
func NewBolt(path string, opt ...Option) (*Bolt, error) {
	const op = "store.NewBolt"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	opts := getBoltOpts(opt...)
	if opts.withBucket == "" {
		return nil, fmt.Errorf("%s: bucket is empty: %w", op, ErrInvalidParameter)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.withOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open %s: %w", op, path, err)
	}
	b := &Bolt{db: db, bucket: []byte(opts.withBucket)}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: unable to create bucket: %w", op, err)
	}
	return b, nil
}

// Get implements Store.Get
func (b *Bolt) Get(_ context.Context, key string) (string, error) {
	const op = "Bolt.Get"
	var v []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(b.bucket).Get([]byte(key)); raw != nil {
			// raw is only valid inside the transaction
			v = append([]byte{}, raw...)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if v == nil {
		return "", fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	return string(v), nil
}

// Set implements Store.Set
func (b *Bolt) Set(_ context.Context, key, value string) error {
	const op = "Bolt.Set"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), []byte(value))
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove implements Store.Remove
func (b *Bolt) Remove(_ context.Context, key string) error {
	const op = "Bolt.Remove"
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close releases the bolt file.
func (b *Bolt) Close() error {
	return b.db.Close()
}
