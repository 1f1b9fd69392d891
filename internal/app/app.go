package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cargo-orchestrator/internal/carrier/shiprocket"
	"github.com/xenking/cargo-orchestrator/internal/domain/auth"
	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
	"github.com/xenking/cargo-orchestrator/internal/domain/shipment"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
	"github.com/xenking/cargo-orchestrator/internal/events"
	"github.com/xenking/cargo-orchestrator/internal/handler"
	"github.com/xenking/cargo-orchestrator/internal/scheduler"
	"github.com/xenking/cargo-orchestrator/pkg/health"
	"github.com/xenking/cargo-orchestrator/pkg/httpmiddleware"
)

// enrichScheduler is a scheduler the app can also drive.
type enrichScheduler interface {
	shipment.Scheduler
	Run(ctx context.Context, h scheduler.Handler) error
}

// Run creates all dependencies, starts the HTTP server and the enrichment
// scheduler, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.String("enrich_backend", cfg.Enrich.Backend),
	)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Storage.
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()
	if st.db != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(st.db))
	}

	// Deferred enrichment.
	var sched enrichScheduler
	switch cfg.Enrich.Backend {
	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		defer func() { _ = rdb.Close() }()
		rs := scheduler.NewRedis(rdb, cfg.Enrich.Key, cfg.Enrich.PollInterval)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(rs))
		sched = rs
	default:
		ms := scheduler.NewMemory()
		healthSvc.AddLivenessCheck("enrich_backlog", time.Second,
			health.BacklogCheck("enrichment", ms.Pending, 100000))
		sched = ms
	}

	// Domain events.
	var publisher events.Publisher = events.Discard{}
	if len(cfg.Kafka.Brokers) > 0 {
		k := events.NewKafka(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer func() {
			if err := k.Close(); err != nil {
				lg.Warn("Close event writer", zap.Error(err))
			}
		}()
		publisher = k
	}

	// Carrier.
	client := shiprocket.NewClient(shiprocket.Config{
		BaseURL:        cfg.Carrier.BaseURL,
		ChargesURL:     cfg.Carrier.ChargesURL,
		CancelURL:      cfg.Carrier.CancelURL,
		Timeout:        cfg.Carrier.Timeout,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	tokens := shiprocket.NewTokenSource(client, cfg.Carrier.RefreshToken, cfg.Carrier.TokenTTL)

	// Domain services.
	ledger := wallet.NewLedger(st.wallets)
	plans := plan.NewService(st.plans)
	deps := shipment.Deps{
		Orders:    st.orders,
		Ledger:    ledger,
		Gateway:   client,
		Auth:      tokens,
		Scheduler: sched,
		Events:    publisher,
		Plans:     plans,
		Locks:     shipment.NewLocks(),
		Tracer:    m.TracerProvider(),
		Meter:     m.MeterProvider(),
	}
	orch := shipment.NewOrchestrator(shipment.Config{
		ClientID:       cfg.Carrier.ClientID,
		EnrichDelay:    cfg.Enrich.Delay,
		EnrichAttempts: cfg.Enrich.Attempts,
	}, deps)
	canceller := shipment.NewCanceller(deps)

	// HTTP.
	h := handler.NewHandler(
		handler.Config{
			CreateLimit: httpmiddleware.RateLimitConfig{
				Max:    cfg.CreateLimit.Max,
				Window: cfg.CreateLimit.Window,
			},
		},
		handler.Deps{
			Orchestrator: orch,
			Canceller:    canceller,
			Ledger:       ledger,
			Plans:        plans,
			Auth:         auth.NewAuthenticator(st.keys, []byte(cfg.Auth.Pepper)),
		},
	)

	router := mux.NewRouter()
	router.HandleFunc("/livez", healthSvc.LiveEndpoint).Methods(http.MethodGet)
	router.HandleFunc("/readyz", healthSvc.ReadyEndpoint).Methods(http.MethodGet)
	h.Register(ctx, router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.Origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           86400,
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Shipment creation makes several sequential carrier calls.
		WriteTimeout:   2*cfg.Carrier.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			otelhttp.NewMiddleware("cargo-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.LogRequests(),
			corsHandler.Handler,
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)

	// The scheduler outlives the server so that requests in flight during
	// shutdown can still schedule enrichment.
	schedCtx, stopSched := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSched()
	g.Go(func() error {
		if err := sched.Run(schedCtx, orch.HandleEnrichment); err != nil {
			return errors.Wrap(err, "enrichment scheduler")
		}
		return nil
	})

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		defer stopSched()
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
