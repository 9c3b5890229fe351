// cmd/storefront/main.go

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/cart"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/catalog"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/config"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/kvstore"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/services"
	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newLogger(level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.Level = level
	log.Formatter = &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339Nano,
	}
	log.Out = os.Stdout
	return log
}

func main() {
	ctx := context.Background()

	// a local .env file only fills variables the environment leaves unset
	dotenvErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		newLogger(logrus.InfoLevel).Fatalf("invalid configuration: %v", err)
	}
	log := newLogger(cfg.LogLevel)
	if dotenvErr == nil {
		log.Debug("loaded settings from .env")
	}

	tel := telemetry.Options{
		ServiceName: "storefront",
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.OTLPEndpoint,
	}
	if cfg.EnableTracing {
		tp, err := telemetry.InitTracerProvider(ctx, tel)
		if err != nil {
			log.Fatalf("failed to initialize tracer provider: %v", err)
		}
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				log.Warnf("error shutting down tracer provider: %v", err)
			}
		}()
		log.WithFields(logrus.Fields{"exporter": cfg.TraceExporter, "endpoint": cfg.OTLPEndpoint}).Info("tracing enabled")
	} else {
		log.Info("tracing disabled")
	}
	if cfg.EnableMetrics {
		mp, err := telemetry.InitMeterProvider(ctx, tel)
		if err != nil {
			log.Fatalf("failed to initialize meter provider: %v", err)
		}
		defer func() {
			if err := mp.Shutdown(ctx); err != nil {
				log.Warnf("error shutting down meter provider: %v", err)
			}
		}()
		log.WithField("endpoint", cfg.OTLPEndpoint).Info("metrics enabled")
	}

	cat, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("failed to load catalog: %v", err)
	}
	log.WithField("products", len(cat.List())).Info("catalog loaded")

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer store.Close()

	sessions := services.NewRegistry(store, log,
		services.WithCartOptions(cart.WithShipping(cfg.Shipping)),
		services.WithMaxSessions(cfg.MaxSessions),
		services.WithIdleTimeout(cfg.SessionIdleTimeout),
	)
	defer sessions.Close()
	// replicas sharing Redis see each other's writes
	if cfg.RedisAddr != "" {
		if err := sessions.Follow(ctx); err != nil {
			log.Fatalf("failed to follow session storage: %v", err)
		}
	}

	storefront, err := services.NewStorefront(cat, sessions, log, cfg.BaseURL)
	if err != nil {
		log.Fatalf("failed to create storefront: %v", err)
	}
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           storefront.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.HealthAddr())
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.HealthAddr(), err)
	}
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthpb.RegisterHealthServer(grpcServer, services.NewHealthCheckService(store, log))
	reflection.Register(grpcServer)

	errc := make(chan error, 2)
	go func() {
		log.Infof("health service listening on %s", cfg.HealthAddr())
		errc <- errors.Wrap(grpcServer.Serve(lis), "grpc server")
	}()
	go func() {
		log.Infof("storefront listening on %s", cfg.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- errors.Wrap(err, "http server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("received shutdown signal, initiating graceful shutdown")
	case err := <-errc:
		log.WithError(err).Error("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	grpcServer.GracefulStop()
	log.Info("storefront stopped")
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

// openStore returns Redis storage when REDIS_ADDR is set and in-memory
// storage otherwise.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (kvstore.Store, error) {
	var store kvstore.Store
	if cfg.RedisAddr != "" {
		log.WithField("addr", cfg.RedisAddr).Info("using Redis storage")
		store = kvstore.NewRedisStore(cfg.RedisAddr,
			kvstore.WithPrefix(cfg.StoragePrefix),
			kvstore.WithRedisLogger(log),
		)
	} else {
		log.Info("REDIS_ADDR not set, using in-memory storage")
		store = kvstore.NewLocalStore(log)
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
