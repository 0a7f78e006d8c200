package store

import "context"

// Private members exported for tests.

type DBPool = dbPool

// WithNewPool overrides the default pool constructor.
func WithNewPool(newPool func(ctx context.Context, dsn string) (dbPool, error)) Options {
	return func(o *options) {
		o.newPool = newPool
	}
}
