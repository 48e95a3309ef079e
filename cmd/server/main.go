// Command server runs the payment gateway HTTP API with a pre-seeded
// sandbox tenant. It wires the full stack: registry with lazy tenant
// loading, orchestrator, lifecycle events, idempotency guard, journal,
// Prometheus metrics and OpenTelemetry tracing.
//
// Configuration comes from the environment:
//
//	ADDR          listen address (default ":8080")
//	REDIS_ADDR    redis address for the idempotency guard (default in-memory)
//	JOURNAL_PATH  bolt file for the transaction journal (default in-memory)
//	EVENT_NODE_ID snowflake node id for event ids (default 1)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/credentials"
	"github.com/yourorg/payment-gateway/internal/events"
	"github.com/yourorg/payment-gateway/internal/handler"
	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/journal"
	"github.com/yourorg/payment-gateway/internal/metrics"
	"github.com/yourorg/payment-gateway/internal/orchestrator"
	"github.com/yourorg/payment-gateway/internal/registry"
	"github.com/yourorg/payment-gateway/internal/tenant"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := initTracing()
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.New(promReg)

	resolver, creds := demoTenant()
	reg := registry.New(resolver, creds, logger)

	dispatcher, err := events.NewDispatcher(envInt("EVENT_NODE_ID", 1), logger, &logSink{logger: logger})
	if err != nil {
		return err
	}

	idemStore, err := newIdempotencyStore(logger)
	if err != nil {
		return err
	}
	jrnl, closeJournal, err := newJournal(logger)
	if err != nil {
		return err
	}

	orch := orchestrator.New(reg,
		orchestrator.WithLogger(logger),
		orchestrator.WithEvents(dispatcher),
		orchestrator.WithIdempotencyStore(idemStore),
		orchestrator.WithJournal(jrnl),
		orchestrator.WithMetrics(collector),
	)

	engine := gin.New()
	engine.Use(otelgin.Middleware("payment-gateway"), gin.Recovery())
	handler.New(orch, jrnl, logger).Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{Addr: envOr("ADDR", ":8080"), Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
	closeJournal()
	return nil
}

func initTracing() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, nil
}

func newIdempotencyStore(logger *zap.Logger) (idempotency.Store, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		logger.Info("idempotency guard using in-memory store")
		return idempotency.NewMemoryStore(), nil
	}
	logger.Info("idempotency guard using redis", zap.String("addr", addr))
	return idempotency.NewRedisStore(redis.NewClient(&redis.Options{Addr: addr})), nil
}

func newJournal(logger *zap.Logger) (journal.Store, func(), error) {
	path := os.Getenv("JOURNAL_PATH")
	if path == "" {
		logger.Info("journal using in-memory store")
		return journal.NewMemoryStore(), func() {}, nil
	}
	store, err := journal.NewBoltStore(path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("journal using bolt", zap.String("path", path))
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("journal close", zap.Error(err))
		}
	}, nil
}

// demoTenant seeds a sandbox tenant so the server answers requests out
// of the box under X-Tenant-ID: demo. Deployments replace the resolver
// and credential store with their account system.
func demoTenant() (tenant.Resolver, credentials.Store) {
	resolver := tenant.NewMemoryResolver()
	resolver.AddTenant("demo", tenant.Account{ID: "acct-demo", Name: "Demo Account"},
		tenant.Integration{
			ID:                   "demo-stripe",
			Provider:             "stripe",
			DisplayName:          "Stripe Sandbox",
			Priority:             1,
			IsActive:             true,
			IsDefault:            true,
			Environment:          "sandbox",
			Credentials:          []byte(`{"secret_key":"sk_test_demo"}`),
			SupportsTokenization: true,
			MaxRetries:           2,
			RetryDelayMs:         200,
		},
		tenant.Integration{
			ID:           "demo-paypal",
			Provider:     "paypal",
			DisplayName:  "PayPal Sandbox",
			Priority:     2,
			IsActive:     true,
			Environment:  "sandbox",
			Credentials:  []byte(`{"user":"demo_api1.example.com","pwd":"demo","signature":"demo-sig"}`),
			MaxRetries:   2,
			RetryDelayMs: 200,
		},
	)
	return resolver, credentials.NewPlaintext(nil)
}

// logSink writes lifecycle events to the server log. Deployments point
// additional sinks at their billing and audit systems.
type logSink struct {
	logger *zap.Logger
}

func (s *logSink) Publish(_ context.Context, ev events.Event) error {
	s.logger.Info("event",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("tenant_id", ev.TenantID),
		zap.String("provider_id", ev.ProviderID),
	)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
