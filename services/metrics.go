// services/metrics.go

package services

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type storefrontMetrics struct {
	itemsAdded      metric.Int64Counter
	couponAttempts  metric.Int64Counter
	favoriteToggles metric.Int64Counter
	storageFailures metric.Int64Counter
}

func newStorefrontMetrics(meter metric.Meter) (*storefrontMetrics, error) {
	m := &storefrontMetrics{}
	var err error
	if m.itemsAdded, err = meter.Int64Counter("app.cart.items_added",
		metric.WithDescription("Units added to carts"), metric.WithUnit("{item}")); err != nil {
		return nil, err
	}
	if m.couponAttempts, err = meter.Int64Counter("app.cart.coupon_attempts",
		metric.WithDescription("Coupon codes submitted, by outcome")); err != nil {
		return nil, err
	}
	if m.favoriteToggles, err = meter.Int64Counter("app.favorites.toggles",
		metric.WithDescription("Favorite toggles, by resulting state")); err != nil {
		return nil, err
	}
	if m.storageFailures, err = meter.Int64Counter("app.storage.failures",
		metric.WithDescription("Writes the storage backend rejected")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *storefrontMetrics) addedItems(ctx context.Context, productID string, quantity int) {
	m.itemsAdded.Add(ctx, int64(quantity), metric.WithAttributes(attribute.String("app.product.id", productID)))
}

func (m *storefrontMetrics) couponAttempt(ctx context.Context, accepted bool) {
	m.couponAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("app.coupon.accepted", accepted)))
}

func (m *storefrontMetrics) favoriteToggled(ctx context.Context, on bool) {
	m.favoriteToggles.Add(ctx, 1, metric.WithAttributes(attribute.Bool("app.favorite", on)))
}

func (m *storefrontMetrics) storageFailed(ctx context.Context) {
	m.storageFailures.Add(ctx, 1)
}
