package cache

import (
	"context"
	"time"
)

// Entry is a single aggregate cache slot. Value holds JSON-encoded data.
type Entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// Store is the aggregate cache backing the local store's single-slot entries.
// Set overwrites the whole slot; there is no partial merge.
type Store interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) (Entry, bool, error)
	Delete(ctx context.Context, keys ...string) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Option customises store construction.
type Option func(*options)

type options struct {
	now    func() time.Time
	prefix string
}

// WithClock overrides the clock used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPrefix sets the key prefix used by the redis store.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func ensuredContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
