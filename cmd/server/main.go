package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	alertevents "stockwatch/internal/alerts/events"
	alerthandler "stockwatch/internal/alerts/handler"
	alertmetrics "stockwatch/internal/alerts/metrics"
	"stockwatch/internal/alerts/models"
	"stockwatch/internal/alerts/rules"
	"stockwatch/internal/alerts/service"
	alertstore "stockwatch/internal/alerts/store"
	"stockwatch/internal/analysis"
	"stockwatch/internal/analysis/archive"
	analysishandler "stockwatch/internal/analysis/handler"
	analysismetrics "stockwatch/internal/analysis/metrics"
	"stockwatch/internal/analysis/summarizer"
	"stockwatch/internal/inventory/changes"
	"stockwatch/internal/inventory/feed"
	invstore "stockwatch/internal/inventory/store"
	"stockwatch/internal/monitor"
	monitormetrics "stockwatch/internal/monitor/metrics"
	"stockwatch/internal/platform/config"
	"stockwatch/internal/platform/httpserver"
	"stockwatch/internal/platform/kafka"
	"stockwatch/internal/platform/logger"
	httpmetrics "stockwatch/internal/platform/metrics"
	"stockwatch/internal/platform/middleware"
	"stockwatch/internal/platform/postgres"
	platformredis "stockwatch/internal/platform/redis"
	"stockwatch/internal/platform/sqlite"
	id "stockwatch/pkg/domain"
	"stockwatch/pkg/platform/circuit"
	"stockwatch/pkg/platform/httputil"
)

// storage bundles the inventory reader and alert store for one driver.
type storage struct {
	db        *sql.DB
	inventory feed.SnapshotReader
	alerts    service.Store
}

// notifier is a change feed; backends with a Run loop are started by main.
type notifier interface {
	changes.Notifier
	Signal(orgID id.OrganizationID)
	Close() error
}

type runner interface {
	Run(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if store.db != nil {
		defer store.db.Close()
	}

	changeFeed, closeFeed, err := openChanges(ctx, cfg, store, log)
	if err != nil {
		return err
	}
	defer closeFeed()
	if store.inventory == nil {
		log.WarnContext(ctx, "memory storage has no inventory write path; organizations stay empty",
			"storage", cfg.Storage.Driver,
		)
		store.inventory = invstore.NewInMemoryStore(invstore.WithChangeSignaller(changeFeed))
	}

	publisher, closeSink, err := openEvents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	ruleCfg := rules.Config{
		LowStockThreshold: cfg.Rules.LowStockThreshold,
		ExpiryWindowDays:  cfg.Rules.ExpiryWindowDays,
	}

	var mon *monitor.Monitor
	alertService := service.New(store.alerts,
		service.WithEventPublisher(publisher),
		service.WithChangeNotifier(service.ChangeNotifierFunc(func(ctx context.Context, orgID id.OrganizationID, load func(ctx context.Context) ([]*models.Alert, error)) {
			mon.AlertsChanged(ctx, orgID, load)
		})),
		service.WithMetrics(alertmetrics.New(reg)),
		service.WithLogger(log),
	)

	inventoryFeed := feed.New(store.inventory, changeFeed,
		feed.WithLogger(log),
		feed.WithRetry(cfg.Changes.RetryInitialInterval, cfg.Changes.RetryMaxInterval),
	)
	mon = monitor.New(inventoryFeed, alertService,
		monitor.WithRules(ruleCfg),
		monitor.WithPassTimeout(cfg.Monitor.PassTimeout),
		monitor.WithLogger(log),
		monitor.WithMetrics(monitormetrics.New(reg)),
		monitor.WithTracer(otel.Tracer("stockwatch/monitor")),
	)

	if err := startHeadless(ctx, mon, cfg.Monitor.Organizations, log); err != nil {
		return err
	}

	platformMetrics := httpmetrics.New(reg)
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.AccessLog(log, platformMetrics))

	alerthandler.New(alertService, func(orgID id.OrganizationID) alerthandler.StreamSession {
		return mon.NewSession(orgID)
	}, log, platformMetrics).Register(router)

	analysisService, err := buildAnalysis(ctx, cfg, store.inventory, ruleCfg, reg, log)
	if err != nil {
		return err
	}
	if analysisService != nil {
		analysishandler.New(analysisService, cfg.Analysis.MaxTimeout, log).Register(router)
	}

	router.Get("/healthz", healthHandler(store.db))
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := httpserver.New(cfg.Server, router)
	// Alert streams only end with their request context.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }
	srv.RegisterOnShutdown(cancelBase)

	g, gctx := errgroup.WithContext(ctx)
	if r, ok := changeFeed.(runner); ok {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error {
		log.InfoContext(gctx, "starting stockwatch",
			"addr", cfg.Server.Addr,
			"storage", cfg.Storage.Driver,
			"changes", cfg.Changes.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		log.InfoContext(shutdownCtx, "shutting down")
		// Open streams hold sessions; stop them before draining HTTP.
		if err := mon.Shutdown(shutdownCtx); err != nil {
			log.WarnContext(shutdownCtx, "monitor shutdown incomplete", "error", err)
		}
		err := srv.Shutdown(shutdownCtx)
		publisher.Close()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStorage(ctx context.Context, cfg config.Storage) (*storage, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.PostgresDSN, cfg.MaxOpenConns, cfg.Migrate)
		if err != nil {
			return nil, err
		}
		return &storage{
			db:        db,
			inventory: invstore.NewPostgresReader(db),
			alerts:    alertstore.NewPostgres(db),
		}, nil
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{
			db:        db,
			inventory: invstore.NewSQLiteReader(db),
			alerts:    alertstore.NewSQLite(db),
		}, nil
	default:
		// The memory inventory is created once the change feed exists.
		return &storage{alerts: alertstore.NewInMemoryStore()}, nil
	}
}

func openChanges(ctx context.Context, cfg *config.Config, store *storage, log *slog.Logger) (notifier, func(), error) {
	switch cfg.Changes.Driver {
	case "postgres":
		n := changes.NewPostgresNotifier(cfg.Storage.PostgresDSN, store.db, log)
		return n, func() { _ = n.Close() }, nil
	case "redis":
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		n := changes.NewRedisNotifier(client.Client, cfg.Redis.Channel, log)
		return n, func() {
			_ = n.Close()
			_ = client.Close()
		}, nil
	case "kafka":
		client, err := kafka.NewClient(cfg.Kafka, changes.ConsumeOptions(cfg.Kafka.ChangesTopic)...)
		if err != nil {
			return nil, nil, err
		}
		if err := kafka.EnsureTopics(ctx, client, cfg.Kafka.Partitions, cfg.Kafka.ChangesTopic); err != nil {
			client.Close()
			return nil, nil, err
		}
		n := changes.NewKafkaNotifier(client, cfg.Kafka.ChangesTopic, log)
		return n, func() {
			_ = n.Close()
			client.Close()
		}, nil
	default:
		b := changes.NewBroadcaster()
		return b, func() { _ = b.Close() }, nil
	}
}

func openEvents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*alertevents.Publisher, func(), error) {
	opts := []alertevents.Option{
		alertevents.WithAsyncBuffer(cfg.Events.AsyncBuffer),
		alertevents.WithLogger(log),
	}
	if cfg.Events.Sink != "kafka" {
		return alertevents.NewPublisher(alertevents.NewLogSink(log), opts...), func() {}, nil
	}

	client, err := kafka.NewClient(cfg.Kafka, kgo.DefaultProduceTopic(cfg.Kafka.AlertsTopic))
	if err != nil {
		return nil, nil, err
	}
	if err := kafka.EnsureTopics(ctx, client, cfg.Kafka.Partitions, cfg.Kafka.AlertsTopic); err != nil {
		client.Close()
		return nil, nil, err
	}
	sink := alertevents.NewKafkaSink(client, cfg.Kafka.AlertsTopic)
	return alertevents.NewPublisher(sink, opts...), client.Close, nil
}

func buildAnalysis(ctx context.Context, cfg *config.Config, reader analysis.SnapshotReader, ruleCfg rules.Config, reg prometheus.Registerer, log *slog.Logger) (*analysis.Service, error) {
	client, err := summarizer.New(cfg.Analysis, &http.Client{})
	if err != nil {
		log.WarnContext(ctx, "analysis disabled", "error", err)
		return nil, nil
	}
	m := analysismetrics.New(reg)
	breaker := circuit.New("summarizer",
		circuit.WithFailureThreshold(cfg.Analysis.BreakerFailures),
		circuit.WithCooldown(cfg.Analysis.BreakerCooldown),
	)

	opts := []analysis.Option{
		analysis.WithRules(ruleCfg),
		analysis.WithDefaultTimeout(cfg.Analysis.Timeout),
		analysis.WithLogger(log),
		analysis.WithMetrics(m),
		analysis.WithTracer(otel.Tracer("stockwatch/analysis")),
	}
	if cfg.Archive.Enabled {
		store, err := archive.NewS3(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		opts = append(opts, analysis.WithArchive(store))
	}
	return analysis.New(reader, summarizer.NewGuarded(client, breaker, log, m), opts...), nil
}

func startHeadless(ctx context.Context, mon *monitor.Monitor, orgs []string, log *slog.Logger) error {
	for _, raw := range orgs {
		orgID, err := id.ParseOrganizationID(raw)
		if err != nil {
			return err
		}
		session := mon.NewSession(orgID)
		session.Observe(func(ctx context.Context, n monitor.Notification) {
			log.DebugContext(ctx, "open alerts updated",
				"organization_id", n.OrganizationID,
				"open", len(n.Open),
			)
		})
		if err := session.Start(ctx); err != nil {
			return err
		}
		log.InfoContext(ctx, "headless monitoring started", "organization_id", orgID)
	}
	return nil
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
