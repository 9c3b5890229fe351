// services/storefront.go

package services

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/catalog"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/cart"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/favorites"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/pagination"
)

const (
	defaultPerPage = 8
	maxPerPage     = 48
	windowSiblings = 1

	serviceName = "storefront"
)

// Storefront serves the shop's JSON API.
type Storefront struct {
	catalog  *catalog.Catalog
	sessions *Registry
	baseURL  string
	log      logrus.FieldLogger
	tracer   trace.Tracer
	meter    metric.Meter
	metrics  *storefrontMetrics
	now      func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// StorefrontOption configures a Storefront.
type StorefrontOption func(*Storefront)

// WithMeterProvider records metrics through mp instead of the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) StorefrontOption {
	return func(sf *Storefront) { sf.meter = mp.Meter(serviceName) }
}

// NewStorefront returns a storefront over cat whose per-shopper state comes
// from sessions. baseURL prefixes every route.
func NewStorefront(cat *catalog.Catalog, sessions *Registry, log logrus.FieldLogger, baseURL string, opts ...StorefrontOption) (*Storefront, error) {
	sf := &Storefront{
		catalog:  cat,
		sessions: sessions,
		baseURL:  baseURL,
		log:      log,
		tracer:   otel.Tracer(serviceName),
		meter:    otel.Meter(serviceName),
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(sf)
	}
	m, err := newStorefrontMetrics(sf.meter)
	if err != nil {
		return nil, errors.Wrap(err, "creating metrics")
	}
	sf.metrics = m
	return sf, nil
}

// Handler builds the router and wraps it in the logging and session
// middleware.
func (sf *Storefront) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware(serviceName))
	r.HandleFunc(sf.baseURL+"/_healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	api := r.PathPrefix(sf.baseURL + "/api").Subrouter()
	api.HandleFunc("/products", sf.listProductsHandler).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/products/{id}", sf.productHandler).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/checkout/validate", sf.validateCheckoutHandler).Methods(http.MethodPost)

	shopper := api.NewRoute().Subrouter()
	shopper.Use(sf.withSession)
	shopper.HandleFunc("/cart", sf.viewCartHandler).Methods(http.MethodGet, http.MethodHead)
	shopper.HandleFunc("/cart", sf.clearCartHandler).Methods(http.MethodDelete)
	shopper.HandleFunc("/cart/items", sf.addToCartHandler).Methods(http.MethodPost)
	shopper.HandleFunc("/cart/items/{productID}", sf.updateQuantityHandler).Methods(http.MethodPut)
	shopper.HandleFunc("/cart/items/{productID}", sf.removeFromCartHandler).Methods(http.MethodDelete)
	shopper.HandleFunc("/cart/coupon", sf.applyCouponHandler).Methods(http.MethodPost)
	shopper.HandleFunc("/cart/coupon", sf.removeCouponHandler).Methods(http.MethodDelete)
	shopper.HandleFunc("/recommendations", sf.recommendationsHandler).Methods(http.MethodGet, http.MethodHead)
	shopper.HandleFunc("/favorites", sf.listFavoritesHandler).Methods(http.MethodGet, http.MethodHead)
	shopper.HandleFunc("/favorites/{productID}/toggle", sf.toggleFavoriteHandler).Methods(http.MethodPost)
	shopper.HandleFunc("/favorites/{productID}", sf.removeFavoriteHandler).Methods(http.MethodDelete)

	var handler http.Handler = r
	handler = &logHandler{log: sf.log, next: handler}
	handler = ensureSessionID(handler)
	return handler
}

type productView struct {
	catalog.Product
	PriceText  string `json:"priceText"`
	OnSale     bool   `json:"onSale"`
	IsFavorite bool   `json:"isFavorite"`
}

func (sf *Storefront) viewOf(p catalog.Product, favs *favorites.Store) productView {
	v := productView{Product: p, PriceText: p.Price.String(), OnSale: p.OnSale()}
	if favs != nil {
		v.IsFavorite = favs.IsFavorite(p.ID)
	}
	return v
}

// shopperFavorites returns the favorites of a shopper that already has an
// open session, without opening one.
func (sf *Storefront) shopperFavorites(r *http.Request) *favorites.Store {
	if s, ok := sf.sessions.Lookup(sessionID(r)); ok {
		return s.Favorites
	}
	return nil
}

type productListResponse struct {
	Products   []productView   `json:"products"`
	Page       pagination.Page `json:"page"`
	Window     []int           `json:"window"`
	Categories []string        `json:"categories"`
}

func (sf *Storefront) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		renderHTTPError(log, w, errors.Wrap(err, "invalid page"), http.StatusBadRequest)
		return
	}
	perPage, err := intParam(q.Get("per_page"), defaultPerPage)
	if err != nil {
		renderHTTPError(log, w, errors.Wrap(err, "invalid per_page"), http.StatusBadRequest)
		return
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	products := sf.catalog.Search(q.Get("q"))
	if category := q.Get("category"); category != "" {
		products = filterCategory(products, category)
	}

	p := pagination.Paginate(len(products), page, perPage)
	favs := sf.shopperFavorites(r)
	views := []productView{}
	for _, prod := range pagination.Slice(products, p) {
		views = append(views, sf.viewOf(prod, favs))
	}
	log.WithField("count", len(views)).Debug("listing products")

	renderJSON(log, w, http.StatusOK, productListResponse{
		Products:   views,
		Page:       p,
		Window:     pagination.Window(p.Number, p.TotalPages, windowSiblings),
		Categories: sf.catalog.Categories(),
	})
}

func filterCategory(products []catalog.Product, category string) []catalog.Product {
	out := []catalog.Product{}
	for _, p := range products {
		if strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	return out
}

func (sf *Storefront) productHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	id := mux.Vars(r)["id"]
	p, err := sf.catalog.Get(id)
	if err != nil {
		renderHTTPError(log, w, err, http.StatusNotFound)
		return
	}
	log.WithField("id", id).Debug("serving product page")
	renderJSON(log, w, http.StatusOK, sf.viewOf(p, sf.shopperFavorites(r)))
}

type cartTotals struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

type cartResponse struct {
	Cart   cart.State `json:"cart"`
	Totals cartTotals `json:"totals"`
}

func newCartResponse(s cart.State) cartResponse {
	return cartResponse{
		Cart: s,
		Totals: cartTotals{
			Subtotal: s.Subtotal.String(),
			Discount: s.Discount.String(),
			Shipping: s.Shipping.String(),
			Total:    s.Total.String(),
		},
	}
}

func (sf *Storefront) renderCart(log logrus.FieldLogger, w http.ResponseWriter, r *http.Request, code int) {
	renderJSON(log, w, code, newCartResponse(currentSession(r).Cart.State()))
}

func (sf *Storefront) viewCartHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	log.Debug("view user cart")
	sf.renderCart(log, w, r, http.StatusOK)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (sf *Storefront) addToCartHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	ctx, span := sf.tracer.Start(r.Context(), "AddToCart")
	defer span.End()

	var req addItemRequest
	if err := decodeBody(r, &req); err != nil {
		renderHTTPError(log, w, err, http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("app.product.id", req.ProductID),
		attribute.Int("app.product.quantity", req.Quantity),
	)
	log.WithField("product", req.ProductID).WithField("quantity", req.Quantity).Debug("adding to cart")

	p, err := sf.catalog.Get(req.ProductID)
	if err != nil {
		renderHTTPError(log, w, err, http.StatusNotFound)
		return
	}
	if !p.InStock {
		renderHTTPError(log, w, errors.Errorf("product %q is out of stock", p.ID), http.StatusConflict)
		return
	}
	if err := currentSession(r).Cart.AddToCart(ctx, p, req.Quantity); err != nil {
		sf.renderStoreError(ctx, log, w, err)
		return
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	sf.metrics.addedItems(ctx, p.ID, quantity)
	sf.renderCart(log, w, r, http.StatusOK)
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (sf *Storefront) updateQuantityHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	ctx, span := sf.tracer.Start(r.Context(), "UpdateQuantity")
	defer span.End()

	var req updateQuantityRequest
	if err := decodeBody(r, &req); err != nil {
		renderHTTPError(log, w, err, http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["productID"]
	span.SetAttributes(attribute.String("app.product.id", id), attribute.Int("app.product.quantity", req.Quantity))

	if err := currentSession(r).Cart.UpdateQuantity(ctx, id, req.Quantity); err != nil {
		sf.renderStoreError(ctx, log, w, err)
		return
	}
	sf.renderCart(log, w, r, http.StatusOK)
}

func (sf *Storefront) removeFromCartHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	ctx, span := sf.tracer.Start(r.Context(), "RemoveFromCart")
	defer span.End()

	id := mux.Vars(r)["productID"]
	span.SetAttributes(attribute.String("app.product.id", id))
	if err := currentSession(r).Cart.RemoveFromCart(ctx, id); err != nil {
		sf.renderStoreError(ctx, log, w, err)
		return
	}
	sf.renderCart(log, w, r, http.StatusOK)
}

func (sf *Storefront) clearCartHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	ctx, span := sf.tracer.Start(r.Context(), "ClearCart")
	defer span.End()

	log.Debug("emptying cart")
	if err := currentSession(r).Cart.ClearCart(ctx); err != nil {
		sf.renderStoreError(ctx, log, w, err)
		return
	}
	sf.renderCart(log, w, r, http.StatusOK)
}

type couponRequest struct {
	Code string `json:"code"`
}

func (sf *Storefront) applyCouponHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	ctx, span := sf.tracer.Start(r.Context(), "ApplyCoupon")
	defer span.End()

	var req couponRequest
	if err := decodeBody(r, &req); err != nil {
		renderHTTPError(log, w, err, http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("app.coupon.code", req.Code))

	ok, err := currentSession(r).Cart.ApplyCoupon(ctx, req.Code)
	if err != nil {
		sf.renderStoreError(ctx, log, w, err)
		return
	}
	span.SetAttributes(attribute.Bool("app.coupon.accepted", ok))
	sf.metrics.couponAttempt(ctx, ok)
	if !ok {
		log.WithField("code", req.Code).Info("coupon rejected")
		renderHTTPError(log, w, errors.Errorf("invalid coupon %q", req.Code), http.StatusUnprocessableEntity)
		return
	}
	sf.renderCart(log, w, r, http.StatusOK)
}

func (sf *Storefront) removeCouponHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	ctx, span := sf.tracer.Start(r.Context(), "RemoveCoupon")
	defer span.End()

	if err := currentSession(r).Cart.RemoveCoupon(ctx); err != nil {
		sf.renderStoreError(ctx, log, w, err)
		return
	}
	sf.renderCart(log, w, r, http.StatusOK)
}

type recommendationsResponse struct {
	Products []productView `json:"products"`
}

// recommendationsHandler suggests products the shopper has not put in the
// cart, also leaving out the product_id being viewed.
func (sf *Storefront) recommendationsHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	_, span := sf.tracer.Start(r.Context(), "ListRecommendations")
	defer span.End()

	sess := currentSession(r)
	var exclude []string
	for _, it := range sess.Cart.State().Items {
		exclude = append(exclude, it.ProductID)
	}
	if id := r.URL.Query().Get("product_id"); id != "" {
		exclude = append(exclude, id)
	}
	span.SetAttributes(attribute.StringSlice("app.recommendations.excluded", exclude))

	sf.rndMu.Lock()
	picks := sf.catalog.Recommend(exclude, catalog.MaxRecommendations, sf.rnd)
	sf.rndMu.Unlock()

	views := []productView{}
	for _, p := range picks {
		views = append(views, sf.viewOf(p, sess.Favorites))
	}
	span.SetAttributes(attribute.Int("app.recommendations.count", len(views)))
	log.WithField("count", len(views)).Debug("returning recommendations")
	renderJSON(log, w, http.StatusOK, recommendationsResponse{Products: views})
}

type favoritesResponse struct {
	Favorites []productView `json:"favorites"`
	Count     int           `json:"count"`
}

func (sf *Storefront) renderFavorites(log logrus.FieldLogger, w http.ResponseWriter, favs *favorites.Store) {
	views := []productView{}
	for _, p := range favs.List() {
		views = append(views, sf.viewOf(p, favs))
	}
	renderJSON(log, w, http.StatusOK, favoritesResponse{Favorites: views, Count: len(views)})
}

func (sf *Storefront) listFavoritesHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	favs, err := favorites.FromContext(r.Context())
	if err != nil {
		renderHTTPError(log, w, err, http.StatusInternalServerError)
		return
	}
	sf.renderFavorites(log, w, favs)
}

type toggleResponse struct {
	ProductID  string `json:"productId"`
	IsFavorite bool   `json:"isFavorite"`
	Count      int    `json:"count"`
}

func (sf *Storefront) toggleFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	ctx, span := sf.tracer.Start(r.Context(), "ToggleFavorite")
	defer span.End()

	favs, err := favorites.FromContext(ctx)
	if err != nil {
		renderHTTPError(log, w, err, http.StatusInternalServerError)
		return
	}
	id := mux.Vars(r)["productID"]
	span.SetAttributes(attribute.String("app.product.id", id))

	p, err := sf.catalog.Get(id)
	if err != nil {
		renderHTTPError(log, w, err, http.StatusNotFound)
		return
	}
	on, err := favs.Toggle(ctx, p)
	if err != nil {
		sf.renderStoreError(ctx, log, w, err)
		return
	}
	sf.metrics.favoriteToggled(ctx, on)
	renderJSON(log, w, http.StatusOK, toggleResponse{ProductID: id, IsFavorite: on, Count: favs.Count()})
}

func (sf *Storefront) removeFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r)
	ctx, span := sf.tracer.Start(r.Context(), "RemoveFavorite")
	defer span.End()

	favs, err := favorites.FromContext(ctx)
	if err != nil {
		renderHTTPError(log, w, err, http.StatusInternalServerError)
		return
	}
	if err := favs.Remove(ctx, mux.Vars(r)["productID"]); err != nil {
		sf.renderStoreError(ctx, log, w, err)
		return
	}
	sf.renderFavorites(log, w, favs)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "failed to parse request body")
	}
	return nil
}

func renderJSON(log logrus.FieldLogger, w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("error", err).Warn("failed to write response")
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
}

func renderHTTPError(log logrus.FieldLogger, w http.ResponseWriter, err error, code int) {
	log.WithField("error", err).Error("request error")
	renderJSON(log, w, code, errorResponse{
		Error:      err.Error(),
		StatusCode: code,
		Status:     http.StatusText(code),
	})
}

// renderStoreError maps cart and favorites errors to status codes. Storage
// failures leave the in-memory state applied, so they surface as 503.
func (sf *Storefront) renderStoreError(ctx context.Context, log logrus.FieldLogger, w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case cart.ErrInvalidQuantity:
		renderHTTPError(log, w, err, http.StatusBadRequest)
	case catalog.ErrNotFound:
		renderHTTPError(log, w, err, http.StatusNotFound)
	default:
		sf.metrics.storageFailed(ctx)
		renderHTTPError(log, w, err, http.StatusServiceUnavailable)
	}
}
