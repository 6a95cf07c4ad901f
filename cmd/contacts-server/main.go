package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/ais-contact-manager/core"
	"github.com/signalsfoundry/ais-contact-manager/internal/api"
	"github.com/signalsfoundry/ais-contact-manager/internal/config"
	"github.com/signalsfoundry/ais-contact-manager/internal/contacts"
	"github.com/signalsfoundry/ais-contact-manager/internal/httpapi"
	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/internal/observability"
	"github.com/signalsfoundry/ais-contact-manager/internal/persist"
	"github.com/signalsfoundry/ais-contact-manager/internal/stream"
	"github.com/signalsfoundry/ais-contact-manager/kb"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file; defaults apply when empty")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "contacts-server: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LoggerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "contacts server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves gRPC on lis, plus HTTP and metrics when configured, until ctx
// is cancelled. Stored contacts are loaded before serving and saved once
// more after the listeners stop.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewContactCollector(reg)
	if err != nil {
		return fmt.Errorf("contact metrics: %w", err)
	}
	streamCollector, err := observability.NewStreamCollector(reg)
	if err != nil {
		return fmt.Errorf("stream metrics: %w", err)
	}
	if metricsSrv := serveMetrics(cfg.Server.MetricsAddr, collector, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	motion, err := core.NewMotionModel(cfg.Prediction.Model)
	if err != nil {
		return err
	}
	mgr := contacts.NewManager(kb.NewContactStore(), log,
		contacts.WithMotionModel(motion),
		contacts.WithMetricsRecorder(collector),
	)

	store, err := persist.Open(ctx, cfg.Persistence.Driver, cfg.Persistence.DSN)
	if err != nil {
		return fmt.Errorf("open persistence: %w", err)
	}
	if store != nil {
		defer store.Close()
		n, err := mgr.LoadContacts(ctx, store, cfg.Persistence.ReplaceOnLoad)
		if err != nil {
			return err
		}
		log.Info(ctx, "restored contacts",
			logging.String("driver", cfg.Persistence.Driver),
			logging.Int("snapshots", n),
		)
	}

	rdb := newRedis(ctx, cfg.Stream, log)
	if rdb != nil {
		defer rdb.Close()
	}

	hubOpts := []stream.HubOption{
		stream.WithBuffer(cfg.Stream.SubscriberBuffer),
		stream.WithMetrics(streamCollector),
	}
	if rdb != nil {
		hubOpts = append(hubOpts, stream.WithRedis(rdb, cfg.Stream.ContactsChannel))
	}
	hub := stream.NewHub(log, hubOpts...)
	detach := hub.Attach(mgr.Store())
	defer detach()

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(bgCtx)
	}()

	if rdb != nil {
		ingestor := stream.NewIngestor(rdb, cfg.Stream.ReportsChannel, mgr, log, streamCollector)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ingestor.Run(bgCtx); err != nil && bgCtx.Err() == nil {
				log.Warn(bgCtx, "report ingestion stopped", logging.Err(err))
			}
		}()
	}

	if store != nil && cfg.Persistence.SaveInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSaveLoop(bgCtx, mgr, store, cfg.Persistence.SaveInterval, log)
		}()
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			api.RequestIDUnaryServerInterceptor(log),
			api.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
			api.ErrorMappingUnaryServerInterceptor(),
		),
	)
	api.RegisterContactServiceServer(server, api.NewContactService(mgr, log))

	errCh := make(chan error, 2)
	log.Info(ctx, "starting contact gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	var httpSrv *httpapi.Server
	if cfg.Server.HTTPAddr != "" {
		httpSrv = httpapi.New(mgr, log,
			httpapi.WithHub(hub),
			httpapi.WithMetrics(collector),
			httpapi.WithDefaultOffset(cfg.Prediction.DefaultOffsetMs),
		)
		log.Info(ctx, "starting fleet HTTP server", logging.String("addr", cfg.Server.HTTPAddr))
		go func() {
			if err := httpSrv.Listen(cfg.Server.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("http serve: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down contact server")
	server.GracefulStop()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			log.Warn(context.Background(), "http shutdown failed", logging.Err(err))
		}
	}
	cancelBg()
	wg.Wait()

	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		if err := mgr.SaveContacts(saveCtx, store); err != nil && runErr == nil {
			runErr = err
		}
		cancel()
	}
	return runErr
}

// runSaveLoop snapshots the store every interval. Failures are logged and
// retried on the next tick.
func runSaveLoop(ctx context.Context, mgr *contacts.Manager, saver contacts.Saver, interval time.Duration, log logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := mgr.SaveContacts(ctx, saver); err != nil && ctx.Err() == nil {
				log.Warn(ctx, "periodic contact save failed", logging.Err(err))
			}
		}
	}
}

// newRedis returns nil when no redis address is configured. An unreachable
// server is logged but not fatal; go-redis reconnects on demand.
func newRedis(ctx context.Context, cfg config.StreamConfig, log logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn(ctx, "redis not reachable yet", logging.String("addr", cfg.RedisAddr), logging.Err(err))
	}
	return rdb
}

func serveMetrics(addr string, collector *observability.ContactCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownTimeout(cfg config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 5 * time.Second
}
