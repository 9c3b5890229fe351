// services/health_service.go

package services

import (
	"context"

	"github.com/sirupsen/logrus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/kvstore"
)

// HealthCheckService implements the gRPC health check against the storage
// backing every session.
type HealthCheckService struct {
	store kvstore.Store
	log   logrus.FieldLogger
	healthpb.UnimplementedHealthServer
}

// NewHealthCheckService returns a health service that pings store.
func NewHealthCheckService(store kvstore.Store, log logrus.FieldLogger) *HealthCheckService {
	return &HealthCheckService{store: store, log: log}
}

// Check reports SERVING while the store answers pings.
func (h *HealthCheckService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if h.store.Ping(ctx) {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}
	h.log.WithField("service", req.GetService()).Warn("health check: storage unreachable")
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
}
