package main

import (
	"CarbonLedger/internal/auth"
	"CarbonLedger/internal/contract"
	"CarbonLedger/internal/core"
	"CarbonLedger/internal/host"
	"CarbonLedger/internal/ingestion"
	"CarbonLedger/internal/observability"
	"CarbonLedger/internal/persistence"
	"CarbonLedger/internal/projection"
	"CarbonLedger/internal/query"
	"CarbonLedger/internal/server"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger: core, ingestion, workers and API servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	logger := newLogger("main")
	logger.Info().
		Str("version", Version).
		Str("state_backend", cfg.State.Backend).
		Bool("postgres", cfg.Postgres.Enabled).
		Bool("nats", cfg.NATS.Enabled).
		Msg("CarbonLedger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// =========================================================================
	// 1. Contract state, authorization, metrics
	// =========================================================================
	stateDB, err := host.OpenDB(cfg.State.Backend, cfg.State.Dir)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer stateDB.Close()

	authorizer, err := auth.New(cfg.Auth.Mode, cfg.Auth.Trusted)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// =========================================================================
	// 2. Postgres: migrations, chain verification, replay
	// =========================================================================
	var (
		db          *sql.DB
		checkpoints *persistence.CheckpointManager
		pgIdem      *persistence.PostgresIdempotencyChecker
		dbChecker   core.DBIdempotencyChecker
		queries     *query.QueryService
		warmKeys    []string
	)
	if cfg.Postgres.Enabled {
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info().Msg("connected to PostgreSQL")

		if err := persistence.NewMigrator(db, persistence.Migrations(), newLogger("migrator")).Up(ctx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}

		checkpoints = persistence.NewCheckpointManager(db)
		pgIdem = persistence.NewPostgresIdempotencyChecker(db)
		dbChecker = pgIdem
		queries = query.NewQueryService(db)

		recoveryLogger := newLogger("recovery")
		if err := verifyLog(ctx, checkpoints, recoveryLogger); err != nil {
			return err
		}
		if err := replayLog(ctx, stateDB, checkpoints, authorizer, recoveryLogger); err != nil {
			return err
		}
		if err := catchUpProjections(ctx, db, checkpoints, recoveryLogger); err != nil {
			return fmt.Errorf("projections: %w", err)
		}

		warmKeys, err = pgIdem.RecentCallIDs(ctx, warmLimit(cfg.Idempotency.LRUCapacity))
		if err != nil {
			return fmt.Errorf("load recent call ids: %w", err)
		}

		health.AddCheck("postgres", func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	}

	// =========================================================================
	// 3. Channels and the serving core
	// =========================================================================
	coreIn := make(chan core.Submission, cfg.Persist.ChanSize)
	corePersist := make(chan core.CoreOutput, cfg.Persist.ChanSize)
	var coreProjection chan core.CoreOutput
	var persistOut chan persistence.CoreOutput
	var projectionOut chan projection.ProjectionOutput
	if cfg.Postgres.Enabled {
		coreProjection = make(chan core.CoreOutput, cfg.Projection.ChanSize)
		persistOut = make(chan persistence.CoreOutput, cfg.Persist.ChanSize)
		projectionOut = make(chan projection.ProjectionOutput, cfg.Projection.ChanSize)
	}
	var publishOut chan ingestion.PublishableFacts
	if cfg.NATS.Enabled {
		publishOut = make(chan ingestion.PublishableFacts, cfg.Publish.ChanSize)
	}

	var projectionSend chan<- core.CoreOutput
	if coreProjection != nil {
		projectionSend = coreProjection
	}
	engine, err := core.NewDeterministicCore(
		stateDB,
		authorizer,
		corePersist,
		projectionSend,
		dbChecker,
		metrics,
		newLogger("core"),
		core.Config{
			IdempotencyCapacity:  cfg.Idempotency.LRUCapacity,
			ConservationInterval: cfg.Core.ConservationInterval,
		},
	)
	if err != nil {
		return fmt.Errorf("core: %w", err)
	}
	engine.WarmLRU(warmKeys)
	if err := engine.ValidateConservation(); err != nil {
		return fmt.Errorf("conservation check on startup: %w", err)
	}

	// =========================================================================
	// 4. NATS
	// =========================================================================
	var (
		subscriber *ingestion.NATSSubscriber
		publisher  *ingestion.OutboundPublisher
	)
	if cfg.NATS.Enabled {
		natsLogger := newLogger("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return err
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, natsLogger); err != nil {
			return err
		}

		subscriber = ingestion.NewNATSSubscriber(js, core.NewSubmitter(coreIn, "nats"), metrics, natsLogger)
		publisher = ingestion.NewOutboundPublisher(js, publishOut, metrics, newLogger("publisher"))

		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats: %s", nc.Status())
			}
			return nil
		})
	}

	// =========================================================================
	// 5. Goroutines
	// =========================================================================
	errChan := make(chan error, 8)

	// Core and bridge
	coreCtx, stopCore := context.WithCancel(ctx)
	defer stopCore()
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		if err := engine.Run(coreCtx, coreIn); err != nil {
			errChan <- fmt.Errorf("core: %w", err)
		}
	}()

	var persistIn, projectionIn <-chan core.CoreOutput = corePersist, nil
	if coreProjection != nil {
		projectionIn = coreProjection
	}
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeCoreOutputs(persistIn, projectionIn, persistOut, projectionOut, publishOut, metrics)
	}()

	// Workers drain until their input closes
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	var workers sync.WaitGroup
	startWorker := func(name string, run func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(workCtx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	if cfg.Postgres.Enabled {
		persistWorker := persistence.NewPersistenceWorker(
			db, persistOut, cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, metrics, newLogger("persistence"))
		projectionWorker := projection.NewProjectionWorker(db, projectionOut, metrics, newLogger("projection"))
		startWorker("persistence", persistWorker.Run)
		startWorker("projection", projectionWorker.Run)
	}
	if publisher != nil {
		startWorker("publisher", publisher.Run)
	}

	// Ingress
	ingressCtx, stopIngress := context.WithCancel(ctx)
	defer stopIngress()

	grpcServer := server.NewGRPCServer(cfg.GRPC.Addr, cfg.HTTP.Addr, &server.ServerDeps{
		Submitter:     core.NewSubmitter(coreIn, "grpc"),
		Reader:        contract.NewReader(stateDB),
		QueryService:  queries,
		HealthChecker: health,
		Metrics:       metrics,
		Logger:        newLogger("server"),
	})
	go func() {
		if err := grpcServer.StartGRPC(ingressCtx); err != nil {
			errChan <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ingressCtx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	if subscriber != nil {
		if err := subscriber.Subscribe(ingressCtx); err != nil {
			return err
		}
	}

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", health.LivenessHandler)
	metricsMux.HandleFunc("/readyz", health.ReadinessHandler)
	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// Checkpoints and channel gauges
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		var lastCheckpoint int64
		for {
			select {
			case <-ingressCtx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("ingest", len(coreIn), cap(coreIn))
				metrics.SetChannelMetrics("persist", len(corePersist), cap(corePersist))
				if coreProjection != nil {
					metrics.SetChannelMetrics("projection", len(coreProjection), cap(coreProjection))
				}
				if publishOut != nil {
					metrics.SetChannelMetrics("publish", len(publishOut), cap(publishOut))
				}

				if checkpoints == nil || engine.GetSequence()-lastCheckpoint < cfg.Checkpoint.Interval {
					continue
				}
				if err := takeCheckpoint(ingressCtx, checkpoints, pgIdem, cfg.Idempotency.LRUCapacity, metrics, logger); err != nil {
					logger.Warn().Err(err).Msg("checkpoint failed")
					continue
				}
				lastCheckpoint = engine.GetSequence()
			}
		}
	}()

	health.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().Int64("sequence", engine.GetSequence()).Msg("CarbonLedger ready")

	// =========================================================================
	// 6. Shutdown
	// =========================================================================
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	health.SetReady(false)
	grpcServer.SetServing(false)

	// Stop taking calls, then let the core finish the one in hand.
	if subscriber != nil {
		subscriber.Stop()
	}
	stopIngress()
	stopCore()
	<-coreDone

	// Only the core sends on these, so closing is safe once it returned.
	close(corePersist)
	if coreProjection != nil {
		close(coreProjection)
	}
	<-bridgeDone

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("workers did not drain in time")
		stopWork()
		<-drained
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	metricsServer.Shutdown(shutdownCtx)

	if checkpoints != nil {
		if err := takeCheckpoint(shutdownCtx, checkpoints, pgIdem, cfg.Idempotency.LRUCapacity, metrics, logger); err != nil {
			logger.Warn().Err(err).Msg("final checkpoint failed")
		}
	}

	logger.Info().Int64("sequence", engine.GetSequence()).Msg("CarbonLedger stopped")
	return runErr
}
