package profiling

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // nolint:gosec // profiling endpoint listens on localhost.
	"time"
)

const (
	DefaultEndpoint   = "localhost:9091"
	ReadHeaderTimeout = 2 * time.Second
)

// Enable the profiling endpoint on the given address, DefaultEndpoint when empty.
func Enable(endpoint string) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	go func() {
		server := &http.Server{
			Addr:              endpoint,
			ReadHeaderTimeout: ReadHeaderTimeout,
		}

		if err := server.ListenAndServe(); err != nil {
			slog.Error("Failed to start profiling server", "error", err)
		}
	}()

	slog.Info("profiling enabled", "endpoint", endpoint+"/debug/pprof")
}
