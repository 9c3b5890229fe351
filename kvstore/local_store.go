// kvstore/local_store.go

package kvstore

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// watchBuffer bounds how far a slow watcher may lag before changes are dropped for it.
const watchBuffer = 64

// LocalStore keeps values in process memory.
type LocalStore struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[chan Change]struct{}
	closed   bool

	log logrus.FieldLogger
}

// NewLocalStore returns an empty in-memory store.
func NewLocalStore(log logrus.FieldLogger) *LocalStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocalStore{
		values:   make(map[string]string),
		watchers: make(map[chan Change]struct{}),
		log:      log,
	}
}

// Initialize is a no-op for the in-memory store.
func (l *LocalStore) Initialize(ctx context.Context) error {
	l.log.Info("LocalStore initialized")
	return nil
}

func (l *LocalStore) Get(ctx context.Context, key string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v, ok := l.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (l *LocalStore) Set(ctx context.Context, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.values[key] = value
	l.notify(Change{Key: key, Value: value, Origin: OriginFrom(ctx)})
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.values[key]; !ok {
		return nil
	}
	delete(l.values, key)
	l.notify(Change{Key: key, Deleted: true, Origin: OriginFrom(ctx)})
	return nil
}

// Watch registers a watcher that is removed when ctx is done.
func (l *LocalStore) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, watchBuffer)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, nil
	}
	l.watchers[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.watchers[ch]; ok {
			delete(l.watchers, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// notify must be called with l.mu held.
func (l *LocalStore) notify(c Change) {
	for ch := range l.watchers {
		select {
		case ch <- c:
		default:
			l.log.WithField("key", c.Key).Warn("LocalStore: watcher lagging, change dropped")
		}
	}
}

// Ping always reports true.
func (l *LocalStore) Ping(ctx context.Context) bool {
	return true
}

// Close ends all watches. Values stay readable.
func (l *LocalStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	for ch := range l.watchers {
		delete(l.watchers, ch)
		close(ch)
	}
	return nil
}
