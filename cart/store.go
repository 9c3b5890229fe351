// cart/store.go

package cart

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/catalog"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/kvstore"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/money"
)

const (
	// DefaultKey is the storage key the cart snapshot lives under.
	DefaultKey = "techgamer:cart"

	// DefaultShipping is the flat shipping charged on a non-empty cart.
	DefaultShipping money.Amount = 1500
)

// ErrInvalidQuantity is returned by AddToCart for a negative quantity.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// Store holds one cart. All methods are safe for concurrent use; each
// mutation is applied and persisted under a single lock, so writes reach
// storage in the order the mutations happened.
type Store struct {
	mu    sync.Mutex
	state State

	kv       kvstore.Store
	key      string
	shipping money.Amount
	coupons  map[string]CouponRule
	log      logrus.FieldLogger
	origin   string
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithShipping overrides the flat shipping amount.
func WithShipping(amount money.Amount) Option {
	return func(s *Store) { s.shipping = amount }
}

// WithCoupons replaces the accepted coupon codes.
func WithCoupons(rules []CouponRule) Option {
	return func(s *Store) { s.coupons = couponIndex(rules) }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// Open creates a Store and rehydrates it from kv. A missing, unreadable
// or corrupt snapshot gives an empty cart.
func Open(ctx context.Context, kv kvstore.Store, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		key:      DefaultKey,
		shipping: DefaultShipping,
		coupons:  couponIndex(DefaultCoupons),
		log:      logrus.StandardLogger(),
		origin:   uuid.NewString(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("cart_key", s.key)
	s.state = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) State {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Cause(err) == kvstore.ErrNotFound {
		return s.fresh()
	}
	if err != nil {
		s.log.WithError(err).Warn("reading cart snapshot failed, starting empty")
		return s.fresh()
	}
	st, err := s.decode(raw)
	if err != nil {
		s.log.WithError(err).Warn("cart snapshot is corrupt, starting empty")
		return s.fresh()
	}
	return st
}

func (s *Store) fresh() State {
	st := emptyState()
	st.recalculate(s.shipping)
	return st
}

// decode parses a snapshot and rederives its totals.
func (s *Store) decode(raw string) (State, error) {
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, err
	}
	items := make([]LineItem, 0, len(st.Items))
	for _, it := range st.Items {
		if it.Quantity >= 1 {
			items = append(items, it)
		}
	}
	st.Items = items
	st.recalculate(s.shipping)
	return st, nil
}

// State returns a copy of the current cart.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// AddToCart adds quantity units of p. A quantity of 0 adds one unit.
// If the product is already in the cart only its quantity changes; the
// stored name, price and other fields stay as first added.
func (s *Store) AddToCart(ctx context.Context, p catalog.Product, quantity int) error {
	if quantity < 0 {
		return errors.Wrapf(ErrInvalidQuantity, "got %d", quantity)
	}
	if quantity == 0 {
		quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"product_id": p.ID, "quantity": quantity}).Debug("adding to cart")

	if i := s.state.indexOf(p.ID); i >= 0 {
		s.state.Items[i].Quantity += quantity
	} else {
		s.state.Items = append(s.state.Items, newLineItem(s.newID(), p, quantity))
	}
	return s.commit(ctx)
}

// RemoveFromCart drops the line item for productID, if any.
func (s *Store) RemoveFromCart(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(ctx, productID)
}

func (s *Store) remove(ctx context.Context, productID string) error {
	s.log.WithField("product_id", productID).Debug("removing from cart")

	items := s.state.Items[:0:0]
	for _, it := range s.state.Items {
		if it.ProductID != productID {
			items = append(items, it)
		}
	}
	s.state.Items = items
	return s.commit(ctx)
}

// UpdateQuantity sets the quantity for productID. Quantities below 1
// remove the line item. An unknown productID leaves the items unchanged.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 1 {
		return s.remove(ctx, productID)
	}

	s.log.WithFields(logrus.Fields{"product_id": productID, "quantity": quantity}).Debug("updating cart quantity")

	if i := s.state.indexOf(productID); i >= 0 {
		s.state.Items[i].Quantity = quantity
	}
	return s.commit(ctx)
}

// ClearCart empties the cart, drops the coupon and deletes the snapshot
// from storage.
func (s *Store) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("clearing cart")

	s.state = s.fresh()
	if err := s.kv.Delete(s.writeCtx(ctx), s.key); err != nil {
		s.log.WithError(err).Error("deleting cart snapshot failed")
		return errors.Wrap(err, "clearing cart")
	}
	return nil
}

// ApplyCoupon applies code to the cart. It reports false, leaving the
// cart untouched, when the code is unknown or the subtotal is below the
// coupon's minimum purchase.
func (s *Store) ApplyCoupon(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.coupons[normalizeCode(code)]
	if !ok {
		s.log.WithField("code", code).Debug("unknown coupon")
		return false, nil
	}
	if s.state.Subtotal < rule.MinPurchase {
		s.log.WithFields(logrus.Fields{
			"code":         rule.Code,
			"subtotal":     s.state.Subtotal,
			"min_purchase": rule.MinPurchase,
		}).Debug("coupon below minimum purchase")
		return false, nil
	}

	s.log.WithField("code", rule.Code).Debug("applying coupon")
	s.state.Coupon = &Coupon{
		Code:        rule.Code,
		Type:        rule.Type,
		Value:       rule.Value,
		MinPurchase: rule.MinPurchase,
	}
	return true, s.commit(ctx)
}

// RemoveCoupon drops the applied coupon, if any.
func (s *Store) RemoveCoupon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("removing coupon")
	s.state.Coupon = nil
	return s.commit(ctx)
}

// commit rederives the totals and writes the full snapshot. On a write
// failure the in-memory cart keeps the change. Callers hold s.mu.
func (s *Store) commit(ctx context.Context) error {
	s.state.recalculate(s.shipping)

	data, err := json.Marshal(s.state)
	if err != nil {
		return errors.Wrap(err, "encoding cart")
	}
	if err := s.kv.Set(s.writeCtx(ctx), s.key, string(data)); err != nil {
		s.log.WithError(err).Error("persisting cart failed")
		return errors.Wrap(err, "persisting cart")
	}
	return nil
}

func (s *Store) writeCtx(ctx context.Context) context.Context {
	return kvstore.WithOrigin(ctx, s.origin)
}

// Follow applies snapshots written to the same key by other stores,
// replacing the in-memory cart wholesale. It runs until ctx is done.
// Without Follow the cart only reads storage in Open.
func (s *Store) Follow(ctx context.Context) error {
	changes, err := s.kv.Watch(ctx)
	if err != nil {
		return errors.Wrap(err, "watching cart key")
	}
	go func() {
		for c := range changes {
			s.ApplyChange(c)
		}
	}()
	return nil
}

// ApplyChange replaces the cart with the snapshot carried by c. Changes to
// other keys and the store's own writes are ignored.
func (s *Store) ApplyChange(c kvstore.Change) {
	if c.Key != s.key || c.Origin == s.origin {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Deleted {
		s.state = s.fresh()
		s.log.Debug("cart cleared elsewhere")
		return
	}
	st, err := s.decode(c.Value)
	if err != nil {
		s.log.WithError(err).Warn("ignoring corrupt cart snapshot from storage event")
		return
	}
	s.state = st
	s.log.Debug("cart replaced from storage event")
}
