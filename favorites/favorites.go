// favorites/favorites.go

// Package favorites keeps the set of products a shopper has favorited.
//
// The set is persisted as a JSON list under a single storage key. When the
// set becomes empty the key is deleted rather than written as "[]".
package favorites

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/catalog"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/kvstore"
)

// DefaultKey is the storage key of the favorites list.
const DefaultKey = "techgamer:favorites"

// Store is a deduplicated, insertion-ordered set of products.
type Store struct {
	mu        sync.RWMutex
	favorites []catalog.Product
	closed    bool

	kv     kvstore.Store
	key    string
	log    logrus.FieldLogger
	origin string
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// Open creates a Store from whatever kv holds under the key. A corrupt
// entry is deleted and the set starts empty.
func Open(ctx context.Context, kv kvstore.Store, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		key:    DefaultKey,
		log:    logrus.StandardLogger(),
		origin: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("favorites_key", s.key)
	s.favorites = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) []catalog.Product {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Cause(err) == kvstore.ErrNotFound {
		return nil
	}
	if err != nil {
		s.log.WithError(err).Warn("reading favorites failed, starting empty")
		return nil
	}
	list, err := decode(raw)
	if err != nil {
		s.log.WithError(err).Warn("favorites entry is corrupt, deleting it")
		if err := s.kv.Delete(s.writeCtx(ctx), s.key); err != nil {
			s.log.WithError(err).Error("deleting corrupt favorites failed")
		}
		return nil
	}
	return list
}

// decode parses a stored list, dropping repeated ids.
func decode(raw string) ([]catalog.Product, error) {
	var list []catalog.Product
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, p := range list {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// List returns the favorites in the order they were added.
func (s *Store) List() []catalog.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Product, len(s.favorites))
	copy(out, s.favorites)
	return out
}

// Count returns the number of favorites.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.favorites)
}

// IsFavorite reports whether productID is in the set.
func (s *Store) IsFavorite(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(productID) >= 0
}

func (s *Store) indexOf(productID string) int {
	for i, p := range s.favorites {
		if p.ID == productID {
			return i
		}
	}
	return -1
}

// Add appends p unless a product with the same id is already present.
func (s *Store) Add(ctx context.Context, p catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(p.ID) >= 0 {
		return nil
	}
	s.log.WithField("product_id", p.ID).Debug("adding favorite")
	s.favorites = append(s.favorites, p)
	return s.persist(ctx)
}

// Remove drops productID from the set, if present.
func (s *Store) Remove(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(productID)
	if i < 0 {
		return nil
	}
	s.log.WithField("product_id", productID).Debug("removing favorite")
	s.favorites = append(s.favorites[:i:i], s.favorites[i+1:]...)
	return s.persist(ctx)
}

// Toggle removes p if it is a favorite and adds it otherwise. It returns
// whether p is a favorite afterwards.
func (s *Store) Toggle(ctx context.Context, p catalog.Product) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(p.ID); i >= 0 {
		s.favorites = append(s.favorites[:i:i], s.favorites[i+1:]...)
		return false, s.persist(ctx)
	}
	s.favorites = append(s.favorites, p)
	return true, s.persist(ctx)
}

// persist writes the list, or deletes the key when the list is empty.
// Callers hold s.mu.
func (s *Store) persist(ctx context.Context) error {
	wctx := s.writeCtx(ctx)
	if len(s.favorites) == 0 {
		if err := s.kv.Delete(wctx, s.key); err != nil {
			s.log.WithError(err).Error("deleting favorites failed")
			return errors.Wrap(err, "deleting favorites")
		}
		return nil
	}

	data, err := json.Marshal(s.favorites)
	if err != nil {
		return errors.Wrap(err, "encoding favorites")
	}
	if err := s.kv.Set(wctx, s.key, string(data)); err != nil {
		s.log.WithError(err).Error("persisting favorites failed")
		return errors.Wrap(err, "persisting favorites")
	}
	return nil
}

func (s *Store) writeCtx(ctx context.Context) context.Context {
	return kvstore.WithOrigin(ctx, s.origin)
}

// Follow replaces the set whenever another writer changes the key. It
// runs until ctx is done.
func (s *Store) Follow(ctx context.Context) error {
	changes, err := s.kv.Watch(ctx)
	if err != nil {
		return errors.Wrap(err, "watching favorites key")
	}
	go func() {
		for c := range changes {
			s.ApplyChange(c)
		}
	}()
	return nil
}

// ApplyChange replaces the set with the list carried by c. Changes to other
// keys and the store's own writes are ignored.
func (s *Store) ApplyChange(c kvstore.Change) {
	if c.Key != s.key || c.Origin == s.origin {
		return
	}
	if c.Deleted {
		s.mu.Lock()
		s.favorites = nil
		s.mu.Unlock()
		return
	}
	list, err := decode(c.Value)
	if err != nil {
		s.log.WithError(err).Warn("ignoring corrupt favorites from storage event")
		return
	}
	s.mu.Lock()
	s.favorites = list
	s.mu.Unlock()
}

// Close ends the store's lifecycle. Accessors fail for a closed store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
