// services/sessions.go

package services

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/cart"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/favorites"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/kvstore"
)

// Registry defaults.
const (
	DefaultMaxSessions = 10000
	DefaultIdleTimeout = 30 * time.Minute

	maxReapInterval = time.Minute
)

// Session is the state owned by one shopper: a cart and a favorites set,
// each under its own storage key.
type Session struct {
	ID        string
	Cart      *cart.Store
	Favorites *favorites.Store
}

func (s *Session) keys() []string {
	return []string{sessionKey(s.ID, cart.DefaultKey), sessionKey(s.ID, favorites.DefaultKey)}
}

type sessionEntry struct {
	session  *Session
	lastSeen time.Time
}

// Registry opens sessions on first use and keeps the most recently used
// ones in memory. Evicted sessions are reopened from storage on their next
// request.
type Registry struct {
	mu sync.Mutex
	// sessions maps session id to *sessionEntry, least recently used first.
	sessions *simplelru.LRU
	// owners maps each storage key to the open session it belongs to.
	owners map[string]*Session

	kv          kvstore.Store
	cartOpts    []cart.Option
	maxSessions int
	idleTimeout time.Duration
	now         func() time.Time
	log         logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCartOptions passes options to every cart the registry opens.
func WithCartOptions(opts ...cart.Option) RegistryOption {
	return func(r *Registry) { r.cartOpts = append(r.cartOpts, opts...) }
}

// WithMaxSessions bounds the number of sessions held in memory. The least
// recently used session is dropped when the bound is exceeded.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithIdleTimeout drops sessions that have not been used for d. Zero keeps
// idle sessions until they are pushed out by WithMaxSessions.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTimeout = d }
}

// NewRegistry returns a registry backed by kv.
func NewRegistry(kv kvstore.Store, log logrus.FieldLogger, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		owners:      make(map[string]*Session),
		kv:          kv,
		maxSessions: DefaultMaxSessions,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	// NewLRU only fails for a non-positive size
	r.sessions, _ = simplelru.NewLRU(r.maxSessions, r.dropped)

	if r.idleTimeout > 0 {
		go r.reapIdle()
	}
	return r
}

func sessionKey(sessionID, key string) string {
	return "session:" + sessionID + ":" + key
}

// Get returns the session for sessionID, opening it from storage if it is
// not in memory.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("empty session id")
	}
	if s, ok := r.Lookup(sessionID); ok {
		return s, nil
	}
	if r.ctx.Err() != nil {
		return nil, errors.New("session registry is closed")
	}

	s := r.open(ctx, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return nil, errors.New("session registry is closed")
	}
	// another request may have opened the same session meanwhile
	if v, ok := r.sessions.Get(sessionID); ok {
		e := v.(*sessionEntry)
		e.lastSeen = r.now()
		return e.session, nil
	}
	r.sessions.Add(sessionID, &sessionEntry{session: s, lastSeen: r.now()})
	for _, key := range s.keys() {
		r.owners[key] = s
	}
	return s, nil
}

// open reads the session's stores. It does not touch the registry maps so
// that storage round trips run without r.mu.
func (r *Registry) open(ctx context.Context, sessionID string) *Session {
	log := r.log.WithField("session", sessionID)
	cartOpts := append([]cart.Option{
		cart.WithKey(sessionKey(sessionID, cart.DefaultKey)),
		cart.WithLogger(log),
	}, r.cartOpts...)

	s := &Session{
		ID:   sessionID,
		Cart: cart.Open(ctx, r.kv, cartOpts...),
		Favorites: favorites.Open(ctx, r.kv,
			favorites.WithKey(sessionKey(sessionID, favorites.DefaultKey)),
			favorites.WithLogger(log),
		),
	}
	log.Debug("session opened")
	return s
}

// dropped is the eviction callback. It runs with r.mu held.
func (r *Registry) dropped(key, value interface{}) {
	s := value.(*sessionEntry).session
	for _, k := range s.keys() {
		if r.owners[k] == s {
			delete(r.owners, k)
		}
	}
	r.log.WithField("session", s.ID).Debug("session dropped from memory")
}

// Lookup returns an open session and marks it as used.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, false
	}
	e := v.(*sessionEntry)
	e.lastSeen = r.now()
	return e.session, true
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Len()
}

// Follow subscribes once to storage changes and hands each change to the
// open session owning its key. Changes to sessions not in memory are
// skipped; those sessions read storage when they are next opened. Follow
// runs until ctx is done or the registry is closed.
func (r *Registry) Follow(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.ctx, cancel)

	changes, err := r.kv.Watch(ctx)
	if err != nil {
		stop()
		cancel()
		return errors.Wrap(err, "watching session storage")
	}
	go func() {
		defer stop()
		defer cancel()
		for c := range changes {
			r.dispatch(c)
		}
	}()
	return nil
}

func (r *Registry) dispatch(c kvstore.Change) {
	r.mu.Lock()
	s, ok := r.owners[c.Key]
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Cart.ApplyChange(c)
	s.Favorites.ApplyChange(c)
}

func (r *Registry) reapIdle() {
	interval := r.idleTimeout / 2
	if interval > maxReapInterval {
		interval = maxReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if n := r.evictIdle(r.now()); n > 0 {
				r.log.WithField("sessions", n).Debug("idle sessions dropped")
			}
		}
	}
}

// evictIdle drops every session last used more than idleTimeout before now.
func (r *Registry) evictIdle(now time.Time) int {
	if r.idleTimeout <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for {
		k, v, ok := r.sessions.GetOldest()
		if !ok || now.Sub(v.(*sessionEntry).lastSeen) < r.idleTimeout {
			return n
		}
		r.sessions.Remove(k)
		n++
	}
}

// Close stops following storage and closes every favorites store.
func (r *Registry) Close() error {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.sessions.Keys() {
		if v, ok := r.sessions.Peek(k); ok {
			v.(*sessionEntry).session.Favorites.Close()
		}
	}
	r.sessions.Purge()
	return nil
}
