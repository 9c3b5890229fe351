// kvstore/kvstore.go

// Package kvstore is the durable key/value storage the storefront state is
// persisted to. Values are opaque text; every write is a whole-value
// replacement and there are no transactions across keys.
package kvstore

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kvstore: key not found")

// Store defines the operations on key/value storage.
type Store interface {
	Initialize(ctx context.Context) error

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// Watch delivers a Change for every Set and Delete until ctx is done.
	Watch(ctx context.Context) (<-chan Change, error)

	Ping(ctx context.Context) bool
	Close() error
}

// Change is a storage-change notification.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	// Origin identifies the writer, see WithOrigin.
	Origin string `json:"origin,omitempty"`
}

type ctxKeyOrigin struct{}

// WithOrigin tags writes made with ctx so that the writer can recognise
// and skip its own notifications.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, ctxKeyOrigin{}, origin)
}

// OriginFrom returns the origin set by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOrigin{}).(string); ok {
		return v
	}
	return ""
}
