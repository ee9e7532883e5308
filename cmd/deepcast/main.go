// Command deepcast requests probabilistic forecasts from a remote
// DeepAR-style model endpoint.
//
// It has three modes:
//   - predict: load series from a source, request forecasts and print one
//     table per series (TSV or JSON), optionally as an HTML chart
//   - jsonlines: load series from a source and write them as JSON Lines, the
//     layout the model's training and test channels expect
//   - serve: run an HTTP proxy exposing POST /predict, /healthz and /metrics,
//     plus an optional gRPC health service
//
// Usage:
//
//	deepcast \
//	  -endpoint=http://model:8080/invocations \
//	  -freq=D -prediction-length=7 \
//	  -quantiles=0.1,0.5,0.9 \
//	  series.jsonl
//
//	SOURCE=prometheus SOURCE_QUERY='sum(rate(http_requests_total[5m]))' \
//	  deepcast -endpoint=... -freq=H -prediction-length=24 -window=168h -plot=out.html
//
// Environment variables:
//
//	MODE              - predict, jsonlines or serve (default: predict)
//	ENDPOINT          - Model endpoint URL
//	FREQ              - Series frequency (default: D)
//	PREDICTION_LENGTH - Steps to forecast
//	QUANTILES         - Comma-separated quantile levels (default: 0.1,0.5,0.9)
//	SOURCE            - file, url, prometheus, victoriametrics or http
//	SOURCE_*          - Source settings, e.g. SOURCE_PATH, SOURCE_QUERY
//	LOG_LEVEL         - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT        - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/deepcast/cmd/deepcast/config"
	"github.com/HatiCode/deepcast/cmd/deepcast/logger"
	"github.com/HatiCode/deepcast/cmd/deepcast/metrics"
	"github.com/HatiCode/deepcast/cmd/deepcast/router"
	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/httpx"
	"github.com/HatiCode/deepcast/pkg/plot"
	"github.com/HatiCode/deepcast/pkg/predictor"
	"github.com/HatiCode/deepcast/pkg/sources"
	"github.com/HatiCode/deepcast/pkg/transport"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	cfg, err := config.Load(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}

	log := logger.New(cfg)
	slog.SetDefault(log)

	switch cfg.Profile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	}

	log.Info("starting deepcast",
		"version", version,
		"mode", cfg.Mode,
		"endpoint", cfg.Endpoint,
		"freq", cfg.Freq.String(),
		"prediction_length", cfg.PredictionLen,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case config.ModeJSONLines:
		err = runJSONLines(ctx, cfg, stdout)
	case config.ModePredict:
		err = runPredict(ctx, cfg, log, stdout)
	case config.ModeServe:
		err = runServe(ctx, cfg, log)
	}
	if err != nil {
		log.Error("deepcast failed", "mode", cfg.Mode, "error", err)
		return 1
	}
	return 0
}

func newSource(cfg *config.Config) (sources.Source, error) {
	opts := sources.Options{
		Freq:   cfg.Freq,
		Window: cfg.Window,
		Step:   cfg.Step,
	}
	if cfg.Progress {
		opts.Progress = os.Stderr
	}
	return sources.New(cfg.Source, cfg.SourceConfig, opts)
}

func newPredictor(cfg *config.Config, log *slog.Logger, observer predictor.Observer) (*predictor.Predictor, error) {
	client, err := httpx.NewClient(cfg.TLS, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	topts := []transport.Option{transport.WithClient(client)}
	if cfg.EndpointAuth != "" {
		topts = append(topts, transport.WithHeader("Authorization", cfg.EndpointAuth))
	}
	tr := transport.NewHTTPTransport(cfg.Endpoint, topts...)

	popts := []predictor.Option{predictor.WithLogger(log)}
	if observer != nil {
		popts = append(popts, predictor.WithObserver(observer))
	}
	p := predictor.New(tr, popts...)
	if err := p.SetPredictionParameters(cfg.Freq, cfg.PredictionLen); err != nil {
		return nil, err
	}
	return p, nil
}

func runJSONLines(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	src, err := newSource(cfg)
	if err != nil {
		return err
	}
	batch, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s source: %w", src.Name(), err)
	}
	return codec.WriteJSONLines(stdout, instancesOf(batch))
}

func runPredict(ctx context.Context, cfg *config.Config, log *slog.Logger, stdout io.Writer) error {
	src, err := newSource(cfg)
	if err != nil {
		return err
	}

	p, err := newPredictor(cfg, log, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	batch, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s source: %w", src.Name(), err)
	}
	log.Info("loaded series", "source", src.Name(), "series", batch.Len(), "duration_ms", time.Since(start).Milliseconds())

	opts := []predictor.PredictOption{
		predictor.WithNumSamples(cfg.NumSamples),
		predictor.WithQuantiles(cfg.Quantiles...),
		predictor.WithEncoding(cfg.Encoding),
	}
	if batch.Categories != nil {
		opts = append(opts, predictor.WithCategories(batch.Categories))
	}

	frames, err := p.Predict(ctx, batch.Series, opts...)
	if err != nil {
		return err
	}

	switch cfg.Output {
	case "json":
		err = writeJSON(stdout, frames)
	default:
		err = writeTSV(stdout, batch.Series, frames)
	}
	if err != nil {
		return fmt.Errorf("write forecasts: %w", err)
	}

	if cfg.Plot != "" {
		if err := writePlot(cfg.Plot, batch, frames, cfg); err != nil {
			return err
		}
		log.Info("wrote forecast chart", "path", cfg.Plot)
	}
	return nil
}

func writePlot(path string, batch sources.Batch, frames []predictor.Frame, cfg *config.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot file: %w", err)
	}
	title := fmt.Sprintf("deepcast forecast (%d x %s)", cfg.PredictionLen, cfg.Freq)
	if err := plot.RenderHTML(f, title, batch.Series, frames, cfg.Freq); err != nil {
		f.Close()
		return fmt.Errorf("render plot: %w", err)
	}
	return f.Close()
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New(nil, cfg.Endpoint)
	p, err := newPredictor(cfg, log, m)
	if err != nil {
		return err
	}

	handler := router.SetupRoutes(p, nil, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, log)
	if cfg.ServerTLS.Enabled {
		tlsCfg, err := cfg.ServerTLS.ServerConfig()
		if err != nil {
			return fmt.Errorf("server tls: %w", err)
		}
		httpServer.SetTLSConfig(tlsCfg)
	}

	errCh := make(chan error, 2)

	var grpcServer *grpc.Server
	var healthServer *health.Server
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}

		grpcServer = grpc.NewServer()
		healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)

		go func() {
			log.Info("grpc health server listening", "address", cfg.GRPCListen)
			errCh <- grpcServer.Serve(lis)
		}()
	}

	go func() {
		if cfg.ServerTLS.Enabled {
			errCh <- httpServer.StartTLS("", "")
			return
		}
		errCh <- httpServer.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("server failed", "error", serveErr)
		}
	}

	log.Info("shutting down")
	if healthServer != nil {
		healthServer.Shutdown()
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return serveErr
}
