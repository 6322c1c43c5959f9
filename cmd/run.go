package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bombsimon/logrusr/v4"
	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/romxfer/internal/acquire"
	"github.com/metal-toolbox/romxfer/internal/configuration"
	"github.com/metal-toolbox/romxfer/internal/delivery"
	"github.com/metal-toolbox/romxfer/internal/handlers"
	"github.com/metal-toolbox/romxfer/internal/log"
	"github.com/metal-toolbox/romxfer/internal/metrics"
	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/metal-toolbox/romxfer/internal/profiling"
	"github.com/metal-toolbox/romxfer/internal/remote"
	"github.com/metal-toolbox/romxfer/internal/tasks"
	"github.com/metal-toolbox/romxfer/internal/version"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"golang.org/x/net/netutil"
)

const readHeaderTimeout = 10 * time.Second

// components are the pieces shared by the service and the one-shot commands.
type components struct {
	acquirer  *acquire.Acquirer
	transport remote.Transport
	deliverer *delivery.Deliverer
}

func loadConfig(args *model.Args) (*configuration.Configuration, error) {
	config, err := configuration.Load(args)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return nil, err
	}

	log.SetLevel(config.LogLevel)
	slog.Debug("Configuration loaded", config.AsLogFields()...)

	return config, nil
}

func newComponents(ctx context.Context, config *configuration.Configuration) (*components, error) {
	kind, err := remote.FromString(config.Delivery.Transport)
	if err != nil {
		return nil, err
	}

	transport, err := remote.New(kind, remote.Options{
		ConnectTimeout:  config.Delivery.ConnectTimeout,
		CopyTimeout:     config.Delivery.CopyTimeout,
		KnownHostsFile:  config.Delivery.KnownHostsFile,
		DryRunPasswords: config.Delivery.DryRunPasswords,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create transport")
	}

	if sshpass, ok := transport.(*remote.SSHPassTransport); ok {
		if err := sshpass.Check(ctx); err != nil {
			return nil, err
		}
	}

	if config.Delivery.KnownHostsFile == "" && kind != remote.DryRun {
		slog.Warn("Host key verification is disabled, set delivery.known_hosts_file to enable it",
			"transport", kind.String())
	}

	return &components{
		acquirer: acquire.New(acquire.Options{
			DownloadsDir: config.DownloadsDir,
			TempDir:      config.Download.TempDir,
			UserAgent:    config.Download.UserAgent,
			Timeout:      config.Download.Timeout,
			Retries:      config.Download.Retries,
		}),
		transport: transport,
		deliverer: delivery.New(transport, config.FallbackPasswords(), tasks.LogPublisher{}),
	}, nil
}

func runServer(ctx context.Context, args *model.Args) error {
	config, err := loadConfig(args)
	if err != nil {
		return err
	}

	// serve metrics endpoint
	metrics.ListenAndServe(config.MetricsAddress)
	version.ExportBuildInfoMetric()

	if config.EnableProfiling {
		profiling.Enable(config.ProfilingAddress)
	}

	logger := log.NewLogrusLogger(config.LogLevel)
	otel.SetLogger(logrusr.New(logger))

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)
	defer otelShutdown(ctx)

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancel the context when we receive a termination signal.
	go func() {
		select {
		case s := <-termChan:
			slog.Info("Received signal for termination, exiting...", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	parts, err := newComponents(ctx, config)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return err
	}

	listener, err := net.Listen("tcp", config.ListenAddress)
	if err != nil {
		slog.Error("Failed to listen", "address", config.ListenAddress, "error", err)
		return err
	}

	if config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, config.MaxConnections)
	}

	server := &http.Server{
		Handler:           handlers.NewHandlerFactory(config, parts.acquirer, parts.deliverer, logger).Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Serve(listener)
	}()

	slog.With(version.Current().AsLogFields()...).Info("romxfer service running", "address", listener.Addr().String())

	select {
	case err := <-errCh:
		slog.Error("Server stopped", "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down cleanly", "error", err)
		return err
	}

	return nil
}
