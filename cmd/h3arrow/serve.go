package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/H3Arrow-Engine/api"
	arrowipc "github.com/VanDung-dev/H3Arrow-Engine/arrow"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

const poolStatsInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kernel service",
	Long: `serve starts the TCP server, the optional ZeroMQ REP and gRPC servers
and the optional metrics endpoint, and runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(Cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, s, logrus.StandardLogger())
	},
}

// serve runs every configured endpoint until ctx is done or one fails.
func serve(ctx context.Context, s settings, log logrus.FieldLogger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engineMetrics := engine.NewMetrics("h3arrow", reg)
	exec := engine.New(engine.Config{
		Name:      "kernels",
		Workers:   s.Workers,
		ChunkSize: s.ChunkSize,
		Metrics:   engineMetrics,
		Logger:    log,
	})
	defer exec.Close()
	prev := engine.SetDefault(exec)
	defer engine.SetDefault(prev)

	apiMetrics := api.NewMetrics("h3arrow", reg)
	handler := api.NewHandler(api.HandlerConfig{
		Executor:       exec,
		Codec:          arrowipc.NewCodec(arrowipc.WithCompression(s.Compression)),
		Logger:         log,
		Metrics:        apiMetrics,
		MaxOutputCells: s.MaxOutput,
	})

	tcp := api.NewServer(s.Server, handler, log, apiMetrics)
	if tcp.Authenticator().IsEnabled() && s.Server.Auth.Token == "" {
		log.WithField("token", tcp.Authenticator().Token()).Warn("auth enabled without a token; generated one")
	}

	// Every transport accepts the same token.
	shared := s.Server
	shared.Auth.Token = tcp.Authenticator().Token()

	var zmq *api.ZmqServer
	if s.Server.ZmqEndpoint != "" {
		zmq = api.NewZmqServer(s.Server.ZmqEndpoint, handler, shared.Auth, log, apiMetrics)
	}

	var grpcSrv *api.GrpcServer
	if s.Server.GrpcAddress != "" {
		grpcSrv = api.NewGrpcServer(shared, handler, log, apiMetrics)
	}

	var metricsSrv *api.MetricsServer
	if s.Server.MetricsAddress != "" {
		metricsSrv = api.NewMetricsServer(s.Server.MetricsAddress, reg)
	}

	log.WithFields(logrus.Fields{
		"workers":     exec.Workers(),
		"chunk_size":  exec.ChunkSize(),
		"compression": s.Compression,
	}).Info("starting h3arrow")

	if err := tcp.StartAsync(); err != nil {
		return err
	}
	if zmq != nil {
		if err := zmq.Start(); err != nil {
			tcp.Stop()
			return err
		}
	}
	if grpcSrv != nil {
		if err := grpcSrv.StartAsync(); err != nil {
			tcp.Stop()
			if zmq != nil {
				zmq.Stop()
			}
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if metricsSrv != nil {
		g.Go(metricsSrv.Start)
	}

	g.Go(func() error {
		ticker := time.NewTicker(poolStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				engineMetrics.UpdatePool(exec.Stats())
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		tcp.Stop()
		if zmq != nil {
			zmq.Stop()
		}
		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		if metricsSrv != nil {
			return metricsSrv.Stop()
		}
		return nil
	})

	return g.Wait()
}
