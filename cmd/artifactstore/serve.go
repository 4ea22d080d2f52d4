package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/artifactstore/internal/config"
	"github.com/nainya/artifactstore/internal/logger"
	"github.com/nainya/artifactstore/internal/metrics"
	"github.com/nainya/artifactstore/internal/server"
	"github.com/nainya/artifactstore/pkg/artifact"
	"github.com/nainya/artifactstore/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

type serveFlags struct {
	configPath  string
	port        int
	metricsPort int
	dataDir     string
	inMemory    bool
	logLevel    string
	pretty      bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, f)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "Path to YAML configuration file")
	flags.IntVar(&f.port, "port", 0, "gRPC server port")
	flags.IntVar(&f.metricsPort, "metrics-port", 0, "Metrics and health HTTP port")
	flags.StringVar(&f.dataDir, "data-dir", "", "Database directory")
	flags.BoolVar(&f.inMemory, "in-memory", false, "Keep all data in memory")
	flags.StringVar(&f.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flags.BoolVar(&f.pretty, "pretty", false, "Human-readable console logs")
	return cmd
}

// applyFlags overrides configuration with flags set on the command line
func applyFlags(cmd *cobra.Command, cfg *config.Config, f serveFlags) {
	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Server.GrpcPort = f.port
	}
	if changed("metrics-port") {
		cfg.Server.MetricsPort = f.metricsPort
	}
	if changed("data-dir") {
		cfg.Storage.DataDir = f.dataDir
	}
	if changed("in-memory") {
		cfg.Storage.InMemory = f.inMemory
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("pretty") {
		cfg.Log.Pretty = f.pretty
	}
}

func openStorage(cfg config.Config, log *logger.Logger) (*storage.DB, error) {
	dbCfg := storage.InMemoryConfig()
	if !cfg.Storage.InMemory {
		dbCfg = storage.DefaultConfig(cfg.Storage.DataDir)
		dbCfg.SyncWrites = cfg.Storage.SyncWrites
		dbCfg.GCInterval = cfg.Storage.GCInterval
	}
	badgerLog := log.ComponentLogger("badger")
	dbCfg.Logger = &badgerLog
	return storage.Open(dbCfg)
}

func serve(ctx context.Context, cfg config.Config) error {
	logger.InitGlobalLogger(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.Server.GrpcPort, cfg.Storage.DataDir, cfg.Storage.InMemory)

	db, err := openStorage(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	m := metrics.NewMetrics(nil)
	defer m.Close()

	svc, err := artifact.New(db, artifact.Options{
		CacheSize: cfg.Storage.CacheSize,
		Metrics:   m,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GrpcPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Create gRPC server with options
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
	)
	server.RegisterArtifactServiceServer(grpcServer, server.NewServer(svc, cfg.DefaultLeaseTTL(), log))

	// Register reflection service for grpcurl/grpcui
	reflection.Register(grpcServer)

	obs := server.NewObservabilityServer(cfg.Server.MetricsPort, nil, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.SetReady(true)
		log.LogServerReady(cfg.Server.GrpcPort)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	})
	g.Go(obs.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.LogServerShutdown()
		obs.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return obs.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
