package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/cart"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/catalog"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/favorites"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/kvstore"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/money"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/pagination"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

type testShop struct {
	handler  http.Handler
	registry *Registry
	kv       *kvstore.LocalStore
	metrics  *sdkmetric.ManualReader
}

// counter sums the data points of the named counter whose attributes
// include attr.
func (ts *testShop) counter(t *testing.T, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := ts.metrics.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func newTestShop(t *testing.T) *testShop {
	t.Helper()
	log := quietLogger()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	kv := kvstore.NewLocalStore(log)
	reg := NewRegistry(kv, log)
	t.Cleanup(func() { reg.Close() })

	reader := sdkmetric.NewManualReader()
	sf, err := NewStorefront(cat, reg, log, "", WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	if err != nil {
		t.Fatal(err)
	}
	sf.now = func() time.Time { return time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC) }
	return &testShop{handler: sf.Handler(), registry: reg, kv: kv, metrics: reader}
}

// shopper keeps the session cookie between requests like a browser would.
type shopper struct {
	t      *testing.T
	shop   *testShop
	cookie *http.Cookie
}

func (ts *testShop) newShopper(t *testing.T) *shopper {
	return &shopper{t: t, shop: ts}
}

func (s *shopper) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			s.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.shop.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieSessionID {
			s.cookie = c
		}
	}
	return rec
}

func (s *shopper) cart(rec *httptest.ResponseRecorder) cartResponse {
	s.t.Helper()
	var resp cartResponse
	decodeResponse(s.t, rec, http.StatusOK, &resp)
	return resp
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, wantCode int, v interface{}) {
	t.Helper()
	if rec.Code != wantCode {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, wantCode, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestSessionCookieAssigned(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	resp := s.cart(s.do(http.MethodGet, "/api/cart", nil))
	if s.cookie == nil || s.cookie.Value == "" {
		t.Fatal("no session cookie set")
	}
	if !resp.Cart.IsEmpty() || resp.Cart.Shipping != 0 || resp.Cart.Total != 0 {
		t.Errorf("new cart = %+v, want empty with zero totals", resp.Cart)
	}

	first := s.cookie.Value
	s.do(http.MethodGet, "/api/cart", nil)
	if s.cookie.Value != first {
		t.Errorf("session changed from %q to %q", first, s.cookie.Value)
	}
	if n := shop.registry.Len(); n != 1 {
		t.Errorf("open sessions = %d, want 1", n)
	}
}

func TestCartFlow(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	resp := s.cart(s.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "gpu-rtx-4070", Quantity: 2}))
	if resp.Cart.Subtotal != 859980 || resp.Cart.Shipping != cart.DefaultShipping || resp.Cart.Total != 861480 {
		t.Errorf("after add: subtotal %d shipping %d total %d", resp.Cart.Subtotal, resp.Cart.Shipping, resp.Cart.Total)
	}

	resp = s.cart(s.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "gpu-rtx-4070", Quantity: 1}))
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].Quantity != 3 {
		t.Fatalf("items after merge = %+v", resp.Cart.Items)
	}

	resp = s.cart(s.do(http.MethodPost, "/api/cart/coupon", couponRequest{Code: "desconto10"}))
	want := cartTotals{
		Subtotal: money.Amount(1289970).String(),
		Discount: money.Amount(128997).String(),
		Shipping: money.Amount(1500).String(),
		Total:    "R$ 11.624,73",
	}
	if diff := cmp.Diff(want, resp.Totals); diff != "" {
		t.Errorf("totals with coupon (-want +got):\n%s", diff)
	}
	if resp.Cart.Coupon == nil || resp.Cart.Coupon.Code != "DESCONTO10" {
		t.Errorf("coupon = %+v, want DESCONTO10", resp.Cart.Coupon)
	}

	rec := s.do(http.MethodPost, "/api/cart/coupon", couponRequest{Code: "NOPE"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid coupon status = %d, want 422", rec.Code)
	}
	if got := s.cart(s.do(http.MethodGet, "/api/cart", nil)); got.Cart.Coupon == nil {
		t.Error("rejected coupon removed the applied one")
	}

	resp = s.cart(s.do(http.MethodDelete, "/api/cart/coupon", nil))
	if resp.Cart.Coupon != nil || resp.Cart.Discount != 0 {
		t.Errorf("after removing coupon: %+v", resp.Cart)
	}

	s.cart(s.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "mousepad-xl"}))
	resp = s.cart(s.do(http.MethodPut, "/api/cart/items/gpu-rtx-4070", updateQuantityRequest{Quantity: 0}))
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].ProductID != "mousepad-xl" || resp.Cart.Items[0].Quantity != 1 {
		t.Fatalf("items after zero quantity = %+v", resp.Cart.Items)
	}

	resp = s.cart(s.do(http.MethodPut, "/api/cart/items/mousepad-xl", updateQuantityRequest{Quantity: 4}))
	if resp.Cart.ItemCount != 4 || resp.Cart.Subtotal != 35960 {
		t.Errorf("after update: count %d subtotal %d", resp.Cart.ItemCount, resp.Cart.Subtotal)
	}

	resp = s.cart(s.do(http.MethodDelete, "/api/cart/items/mousepad-xl", nil))
	if !resp.Cart.IsEmpty() || resp.Cart.Total != 0 {
		t.Errorf("after remove: %+v", resp.Cart)
	}

	s.cart(s.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "headset-7-1"}))
	resp = s.cart(s.do(http.MethodDelete, "/api/cart", nil))
	if !resp.Cart.IsEmpty() {
		t.Errorf("after clear: %+v", resp.Cart)
	}
	key := sessionKey(s.cookie.Value, cart.DefaultKey)
	if _, err := shop.kv.Get(context.Background(), key); err != kvstore.ErrNotFound {
		t.Errorf("cart key after clear: err = %v, want ErrNotFound", err)
	}
}

func TestAddToCartErrors(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"unknown product", addItemRequest{ProductID: "nope", Quantity: 1}, http.StatusNotFound},
		{"out of stock", addItemRequest{ProductID: "ram-ddr5-32gb", Quantity: 1}, http.StatusConflict},
		{"negative quantity", addItemRequest{ProductID: "mouse-g-pro", Quantity: -1}, http.StatusBadRequest},
		{"unknown field", map[string]string{"sku": "mouse-g-pro"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/cart/items", tt.body)
			var resp errorResponse
			decodeResponse(t, rec, tt.want, &resp)
			if resp.StatusCode != tt.want || resp.Error == "" {
				t.Errorf("error body = %+v", resp)
			}
		})
	}

	if got := s.cart(s.do(http.MethodGet, "/api/cart", nil)); !got.Cart.IsEmpty() {
		t.Errorf("failed adds changed the cart: %+v", got.Cart)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	shop := newTestShop(t)
	alice := shop.newShopper(t)
	bob := shop.newShopper(t)

	alice.cart(alice.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "mouse-g-pro", Quantity: 1}))
	got := bob.cart(bob.do(http.MethodGet, "/api/cart", nil))
	if !got.Cart.IsEmpty() {
		t.Errorf("second shopper sees %+v", got.Cart.Items)
	}
	if alice.cookie.Value == bob.cookie.Value {
		t.Fatal("shoppers share a session id")
	}

	raw, err := shop.kv.Get(context.Background(), sessionKey(alice.cookie.Value, cart.DefaultKey))
	if err != nil {
		t.Fatalf("cart not persisted under session key: %v", err)
	}
	var stored cart.State
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatal(err)
	}
	if len(stored.Items) != 1 || stored.Items[0].ProductID != "mouse-g-pro" {
		t.Errorf("stored items = %+v", stored.Items)
	}
}

func TestListProducts(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	ids := func(resp productListResponse) []string {
		out := []string{}
		for _, p := range resp.Products {
			out = append(out, p.ID)
		}
		return out
	}

	var resp productListResponse
	decodeResponse(t, s.do(http.MethodGet, "/api/products", nil), http.StatusOK, &resp)
	wantPage := pagination.Page{Number: 1, PerPage: 8, Total: 12, TotalPages: 2, HasNext: true}
	if diff := cmp.Diff(wantPage, resp.Page); diff != "" {
		t.Errorf("page (-want +got):\n%s", diff)
	}
	if len(resp.Products) != 8 {
		t.Errorf("products on page 1 = %d, want 8", len(resp.Products))
	}
	if diff := cmp.Diff([]int{1, 2}, resp.Window); diff != "" {
		t.Errorf("window (-want +got):\n%s", diff)
	}
	first := resp.Products[0]
	if first.ID != "gpu-rtx-4070" || !first.OnSale || first.PriceText != "R$ 4.299,90" {
		t.Errorf("first product = %+v", first)
	}

	resp = productListResponse{}
	decodeResponse(t, s.do(http.MethodGet, "/api/products?page=2", nil), http.StatusOK, &resp)
	if len(resp.Products) != 4 || resp.Page.HasNext || !resp.Page.HasPrev {
		t.Errorf("page 2: %d products, page %+v", len(resp.Products), resp.Page)
	}

	resp = productListResponse{}
	decodeResponse(t, s.do(http.MethodGet, "/api/products?category=Monitores", nil), http.StatusOK, &resp)
	if diff := cmp.Diff([]string{"monitor-27-165hz", "monitor-24-144hz"}, ids(resp)); diff != "" {
		t.Errorf("category filter (-want +got):\n%s", diff)
	}

	resp = productListResponse{}
	decodeResponse(t, s.do(http.MethodGet, "/api/products?q=mouse&per_page=1&page=9", nil), http.StatusOK, &resp)
	if diff := cmp.Diff([]string{"mousepad-xl"}, ids(resp)); diff != "" {
		t.Errorf("search clamped to last page (-want +got):\n%s", diff)
	}
	if resp.Page.Number != 2 || resp.Page.TotalPages != 2 {
		t.Errorf("clamped page = %+v", resp.Page)
	}

	if rec := s.do(http.MethodGet, "/api/products?page=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad page status = %d, want 400", rec.Code)
	}
}

func TestProduct(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	var p productView
	decodeResponse(t, s.do(http.MethodGet, "/api/products/monitor-24-144hz", nil), http.StatusOK, &p)
	if p.Name != `Monitor Gamer 24" 144Hz FHD` || p.OnSale || p.IsFavorite {
		t.Errorf("product = %+v", p)
	}

	if rec := s.do(http.MethodGet, "/api/products/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown product status = %d, want 404", rec.Code)
	}
}

func TestFavorites(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	var toggled toggleResponse
	decodeResponse(t, s.do(http.MethodPost, "/api/favorites/gpu-rtx-4070/toggle", nil), http.StatusOK, &toggled)
	if diff := cmp.Diff(toggleResponse{ProductID: "gpu-rtx-4070", IsFavorite: true, Count: 1}, toggled); diff != "" {
		t.Errorf("toggle on (-want +got):\n%s", diff)
	}
	decodeResponse(t, s.do(http.MethodPost, "/api/favorites/headset-7-1/toggle", nil), http.StatusOK, &toggled)

	var p productView
	decodeResponse(t, s.do(http.MethodGet, "/api/products/gpu-rtx-4070", nil), http.StatusOK, &p)
	if !p.IsFavorite {
		t.Error("product page does not show favorite")
	}

	var list favoritesResponse
	decodeResponse(t, s.do(http.MethodGet, "/api/favorites", nil), http.StatusOK, &list)
	if list.Count != 2 || list.Favorites[0].ID != "gpu-rtx-4070" || list.Favorites[1].ID != "headset-7-1" {
		t.Errorf("favorites = %+v", list)
	}

	if rec := s.do(http.MethodPost, "/api/favorites/nope/toggle", nil); rec.Code != http.StatusNotFound {
		t.Errorf("toggle unknown status = %d, want 404", rec.Code)
	}

	list = favoritesResponse{}
	decodeResponse(t, s.do(http.MethodDelete, "/api/favorites/gpu-rtx-4070", nil), http.StatusOK, &list)
	if list.Count != 1 || list.Favorites[0].ID != "headset-7-1" {
		t.Errorf("favorites after delete = %+v", list)
	}

	decodeResponse(t, s.do(http.MethodPost, "/api/favorites/headset-7-1/toggle", nil), http.StatusOK, &toggled)
	if toggled.IsFavorite || toggled.Count != 0 {
		t.Errorf("toggle off = %+v", toggled)
	}
	key := sessionKey(s.cookie.Value, favorites.DefaultKey)
	if _, err := shop.kv.Get(context.Background(), key); err != kvstore.ErrNotFound {
		t.Errorf("favorites key after emptying: err = %v, want ErrNotFound", err)
	}
}

func TestValidateCheckout(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	var got checkoutValidation
	decodeResponse(t, s.do(http.MethodPost, "/api/checkout/validate", checkoutForm{
		Phone:        "11987654321",
		CEP:          "01310100",
		CNPJ:         "11222333000181",
		CardNumber:   "4111 1111 1111 1111",
		CardExpMonth: 12,
		CardExpYear:  28,
	}), http.StatusOK, &got)
	want := checkoutValidation{
		Phone: fieldResult{Value: "(11) 98765-4321", Valid: true},
		CEP:   fieldResult{Value: "01310-100", Valid: true},
		CNPJ:  fieldResult{Value: "11.222.333/0001-81", Valid: true},
		Card:  cardResult{Redacted: "**** 1111", Brand: "visa", Valid: true, ExpiryValid: true},
		Valid: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("valid form (-want +got):\n%s", diff)
	}
	if bytes.Contains(s.do(http.MethodPost, "/api/checkout/validate", checkoutForm{CardNumber: "4111111111111111"}).Body.Bytes(), []byte("4111111111111111")) {
		t.Error("response echoes the full card number")
	}

	got = checkoutValidation{}
	decodeResponse(t, s.do(http.MethodPost, "/api/checkout/validate", checkoutForm{
		Phone:        "1198765",
		CEP:          "01310-100",
		CardNumber:   "4111111111111112",
		CardExpMonth: 9,
		CardExpYear:  2026,
	}), http.StatusOK, &got)
	if got.Valid || got.Phone.Valid || got.Card.Valid || got.Card.ExpiryValid {
		t.Errorf("invalid form = %+v", got)
	}
	if !got.CEP.Valid || !got.CNPJ.Valid {
		t.Errorf("CEP and empty CNPJ should be valid: %+v", got)
	}
}

func TestHealthz(t *testing.T) {
	shop := newTestShop(t)
	rec := shop.newShopper(t).do(http.MethodGet, "/_healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	shop := newTestShop(t)
	if rec := shop.newShopper(t).do(http.MethodPatch, "/api/cart", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PATCH /api/cart = %d, want 405", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	s.cart(s.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "mouse-g-pro", Quantity: 2}))
	s.cart(s.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "mouse-g-pro"}))
	s.do(http.MethodPost, "/api/cart/coupon", couponRequest{Code: "DESCONTO10"})
	s.do(http.MethodPost, "/api/cart/coupon", couponRequest{Code: "FRETEGRATIS"})
	s.do(http.MethodPost, "/api/cart/coupon", couponRequest{Code: "NATAL"})
	s.do(http.MethodPost, "/api/favorites/mouse-g-pro/toggle", nil)

	checks := []struct {
		name string
		attr attribute.KeyValue
		want int64
	}{
		{"app.cart.items_added", attribute.String("app.product.id", "mouse-g-pro"), 3},
		{"app.cart.coupon_attempts", attribute.Bool("app.coupon.accepted", true), 1},
		{"app.cart.coupon_attempts", attribute.Bool("app.coupon.accepted", false), 2},
		{"app.favorites.toggles", attribute.Bool("app.favorite", true), 1},
	}
	for _, c := range checks {
		if got := shop.counter(t, c.name, c.attr); got != c.want {
			t.Errorf("%s{%s=%v} = %d, want %d", c.name, c.attr.Key, c.attr.Value.Emit(), got, c.want)
		}
	}
}

func TestRecommendations(t *testing.T) {
	shop := newTestShop(t)
	s := shop.newShopper(t)

	s.cart(s.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "mouse-g-pro"}))
	s.cart(s.do(http.MethodPost, "/api/cart/items", addItemRequest{ProductID: "headset-7-1"}))

	for i := 0; i < 10; i++ {
		var resp recommendationsResponse
		decodeResponse(t, s.do(http.MethodGet, "/api/recommendations?product_id=gpu-rtx-4070", nil), http.StatusOK, &resp)
		if len(resp.Products) != catalog.MaxRecommendations {
			t.Fatalf("got %d recommendations, want %d", len(resp.Products), catalog.MaxRecommendations)
		}
		for _, p := range resp.Products {
			switch p.ID {
			case "mouse-g-pro", "headset-7-1", "gpu-rtx-4070":
				t.Errorf("recommended excluded product %s", p.ID)
			}
		}
	}
}
