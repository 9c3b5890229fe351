// favorites/provider.go

package favorites

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNoProvider is returned by FromContext outside a provider scope.
var ErrNoProvider = errors.New("favorites: accessor used outside a favorites provider")

type ctxKeyStore struct{}

// NewContext returns a copy of ctx that provides s to FromContext.
func NewContext(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, ctxKeyStore{}, s)
}

// FromContext returns the store provided by NewContext. It fails with
// ErrNoProvider when ctx carries no store or the store has been closed.
func FromContext(ctx context.Context) (*Store, error) {
	s, ok := ctx.Value(ctxKeyStore{}).(*Store)
	if !ok || s == nil || s.isClosed() {
		return nil, ErrNoProvider
	}
	return s, nil
}

// Must is FromContext for callers that treat a missing provider as a
// programming error.
func Must(ctx context.Context) *Store {
	s, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return s
}
