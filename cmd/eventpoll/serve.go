package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/eventpoll/internal/config"
	"github.com/alfredjeanlab/eventpoll/internal/deadletter"
	"github.com/alfredjeanlab/eventpoll/internal/events"
	"github.com/alfredjeanlab/eventpoll/internal/ledger"
	"github.com/alfredjeanlab/eventpoll/internal/poller"
	"github.com/alfredjeanlab/eventpoll/internal/server"
	"github.com/alfredjeanlab/eventpoll/internal/store"
	"github.com/alfredjeanlab/eventpoll/internal/store/bolt"
	"github.com/alfredjeanlab/eventpoll/internal/store/natskv"
	"github.com/alfredjeanlab/eventpoll/internal/store/postgres"
)

// deadLetterBatch is how many dead-lettered messages go into one dump.
const deadLetterBatch = 100

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the poller with its queue, consumers, and control server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	// Override PersistentPreRunE so we don't create a control client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return serve(cfg, logger)
	},
}

func init() {
	serveCmd.Flags().String("config", os.Getenv("EVENTPOLL_CONFIG"), "TOML config file (environment variables override it)")
}

// cleanup runs registered shutdown steps in reverse order.
type cleanup []func()

func (c *cleanup) add(fn func()) { *c = append(*c, fn) }

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	var closers cleanup
	defer closers.run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres doubles as state store and relational mirror.
	var (
		pg      *postgres.PostgresStore
		mirrors []store.EventMirror
	)
	if cfg.DatabaseURL != "" {
		ps, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		pg = ps
		closers.add(func() {
			if err := pg.Close(); err != nil {
				logger.Error("error closing postgres", "err", err)
			}
		})
		mirrors = append(mirrors, pg)
		logger.Info("relational mirror enabled")
	}

	var state store.StateStore
	switch cfg.StateBackend {
	case config.BackendPostgres:
		state = pg
	default:
		bs, err := bolt.Open(cfg.StatePath)
		if err != nil {
			return err
		}
		closers.add(func() {
			if err := bs.Close(); err != nil {
				logger.Error("error closing state store", "err", err)
			}
		})
		state = bs
	}
	logger.Info("state store ready", "backend", cfg.StateBackend)

	b, err := openBroker(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}

	// Consumers run until the engine has stopped delivering.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	closers.add(func() {
		stopWorkers()
		workers.Wait()
		logger.Info("consumers stopped")
	})

	if b.js != nil {
		if err := startConsumers(ctx, workerCtx, &workers, cfg, b.js, mirrors, logger); err != nil {
			return err
		}
	} else if len(mirrors) > 0 {
		logger.Warn("relational mirror idle: mirrors are fed by the queue consumer")
	}

	// Engine and control surface.
	hub := server.NewHub(logger)
	sink := poller.NewFanOut(b.queue, b.relay, logger, hub)
	source := ledger.NewClient(cfg.RPCURL,
		ledger.WithTimeout(cfg.RPCTimeout),
		ledger.WithContractIDs(cfg.ContractIDs...),
	)

	hs := health.NewServer()
	hs.SetServingStatus(server.HealthService, healthpb.HealthCheckResponse_SERVING)

	engine := poller.New(source, state, sink,
		poller.WithInterval(cfg.PollInterval),
		poller.WithPageLimit(cfg.PageLimit),
		poller.WithCatchupWindow(cfg.CatchupWindow),
		poller.WithLogger(logger),
		poller.WithCycleObserver(server.CycleHealthObserver(hs)),
	)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("restoring poller state: %w", err)
	}
	// Registered after the stores, broker and consumers so it runs before
	// them: no cycle may touch those once they are closed.
	closers.add(func() {
		engine.Stop()
		logger.Info("poller stopped")
	})

	srv := server.New(engine, hub, logger)
	srv.StartReaper(cfg.SubscriberIdleTimeout)
	closers.add(srv.Stop)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "err", err)
			stop()
		}
	}()
	closers.add(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")
	})

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcServer := server.NewGRPCServer(hs, logger)
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()
		closers.add(func() {
			hs.Shutdown()
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
		})
	}

	if cfg.HeartbeatInterval > 0 {
		hb := poller.NewHeartbeat(engine, cfg.HeartbeatInterval, logger)
		hb.Start()
		closers.add(func() {
			hb.Stop()
			logger.Info("heartbeat stopped")
		})
	} else {
		logger.Info("heartbeat disabled; cycles start only on trigger or restored wake")
	}

	logger.Info("eventpoll started",
		"rpc_url", cfg.RPCURL,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"interval", cfg.PollInterval,
	)

	<-ctx.Done()
	logger.Info("received signal, shutting down")
	return nil
}

// broker is the queue side of serve. js is nil when queueing is disabled.
type broker struct {
	queue events.Queue
	relay events.Publisher
	js    jetstream.JetStream
}

// openBroker connects to NATS, starting an in-process server when no URL is
// configured, and binds the work queue and broadcast relay. With
// config.QueueNone it starts nothing and returns no-op implementations.
func openBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger, closers *cleanup) (*broker, error) {
	if cfg.Queue == config.QueueNone {
		logger.Info("queue disabled, batches are broadcast only")
		return &broker{queue: &events.NoopQueue{}, relay: &events.NoopPublisher{}}, nil
	}

	natsURL := cfg.NATSURL
	if natsURL == "" {
		ns, err := events.StartEmbedded(cfg.NATSStoreDir)
		if err != nil {
			return nil, err
		}
		closers.add(func() {
			ns.Shutdown()
			ns.WaitForShutdown()
			logger.Info("embedded NATS stopped")
		})
		natsURL = ns.ClientURL()
		logger.Info("embedded NATS started", "url", natsURL, "store_dir", cfg.NATSStoreDir)
	}
	nc, err := events.Connect(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	closers.add(func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	})

	queue, err := events.NewJetStreamQueue(ctx, nc)
	if err != nil {
		return nil, err
	}
	return &broker{queue: queue, relay: events.NewNATSPublisherConn(nc), js: queue.JetStream()}, nil
}

// startConsumers binds the KV mirror and launches the processing consumer and,
// when a bucket is configured, the dead-letter collector.
func startConsumers(ctx, workerCtx context.Context, workers *sync.WaitGroup, cfg *config.Config, js jetstream.JetStream, mirrors []store.EventMirror, logger *slog.Logger) error {
	if cfg.KVBucket != "" {
		kv, err := natskv.New(ctx, js, cfg.KVBucket)
		if err != nil {
			return err
		}
		mirrors = append(mirrors, kv)
		logger.Info("KV mirror enabled", "bucket", cfg.KVBucket)
	}

	processor := events.NewProcessor(js, cfg.MaxDeliver, logger, mirrors...)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := processor.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event processor stopped", "err", err)
		}
	}()

	if cfg.DLQS3Bucket == "" {
		logger.Info("dead-letter dumps disabled (EVENTPOLL_DLQ_S3_BUCKET not set)")
		return nil
	}
	w, err := deadletter.NewS3Writer(ctx, cfg.DLQS3Bucket, cfg.DLQS3Region, cfg.DLQS3Endpoint)
	if err != nil {
		return err
	}
	collector := events.NewDeadLetterCollector(js, deadletter.NewDumper(w, cfg.DLQS3Prefix), deadLetterBatch, logger)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := collector.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dead-letter collector stopped", "err", err)
		}
	}()
	logger.Info("dead-letter dumps enabled", "bucket", cfg.DLQS3Bucket, "prefix", cfg.DLQS3Prefix)
	return nil
}
