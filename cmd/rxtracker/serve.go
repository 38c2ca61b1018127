package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/async"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/server"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC and HTTP APIs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()
		logger := env.Logger

		if err := server.PingDB(ctx, env.DB, logger, 5*time.Second); err != nil {
			return err
		}

		queue := async.NewProcessorQueue(env.Processor, logger.Named("queue"),
			async.WithWorkers(cfg.Queue.Workers),
			async.WithQueueSize(cfg.Queue.Size),
			async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
		)

		svc := server.NewPrescriptionService(env.Repos, env.Processor, env.Exporter, logger.Named("service"),
			server.WithExtractor(env.Extractor),
			server.WithConfidence(cfg.Extraction.Fields(), cfg.Extraction.MinConfidence),
		)
		ing := server.NewIngestionService(env.Ingestor, svc, queue, logger.Named("ingestion"))

		g, gctx := errgroup.WithContext(ctx)

		var (
			grpcServer   *grpc.Server
			healthServer *health.Server
		)
		if cfg.Server.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				return eris.Wrapf(err, "listen %s", cfg.Server.GRPCAddr)
			}
			gs, hs := server.NewGRPCServer(svc, ing, logger.Named("grpc"))
			grpcServer, healthServer = gs, hs
			g.Go(func() error {
				logger.Info("gRPC listening", zap.String("addr", lis.Addr().String()))
				return gs.Serve(lis)
			})
		}

		var httpServer *http.Server
		if cfg.Server.HTTPAddr != "" {
			httpServer = &http.Server{
				Addr: cfg.Server.HTTPAddr,
				Handler: server.NewHTTPHandler(svc, ing, env.DB, server.HTTPConfig{
					AllowedOrigins: cfg.Server.AllowedOrigins,
				}, logger.Named("http")),
				ReadHeaderTimeout: 10 * time.Second,
			}
			g.Go(func() error {
				logger.Info("HTTP listening", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		}

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if httpServer != nil {
				if err := httpServer.Shutdown(sctx); err != nil {
					logger.Warn("http shutdown", zap.Error(err))
				}
			}
			if grpcServer != nil {
				healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
				grpcServer.GracefulStop()
			}
			queue.Shutdown(sctx)
			return nil
		})

		if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		logger.Info("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
