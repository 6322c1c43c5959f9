package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ReadHeaderTimeout = 2 * time.Second
)

var (
	// TransferRunTimeSummary observes the time spent delivering a ROM, by outcome.
	TransferRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "romxfer_transfer_duration_seconds",
			Help: "A summary metric to measure the total time spent in completing each transfer",
		},
		[]string{"platform", "state"},
	)

	// CredentialAttemptsCounter counts password attempts against devices.
	CredentialAttemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "romxfer_credential_attempts_total",
			Help: "A counter metric of credential attempts made while delivering ROMs",
		},
		[]string{"state"},
	)

	// DownloadedBytesCounter counts bytes fetched from remote ROM URLs.
	DownloadedBytesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "romxfer_downloaded_bytes_total",
			Help: "A counter metric of ROM bytes downloaded",
		},
	)

	// DownloadsCounter counts ROM downloads by result.
	DownloadsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "romxfer_downloads_total",
			Help: "A counter metric of ROM downloads",
		},
		[]string{"state"},
	)

	// ResponsesCounter counts HTTP responses by endpoint and status code.
	ResponsesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "romxfer_http_responses_total",
			Help: "A counter metric of transfer service responses",
		},
		[]string{"endpoint", "code"},
	)
)

// ListenAndServe exposes prometheus metrics on endpoint/metrics.
func ListenAndServe(endpoint string) {
	if endpoint == "" {
		return
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              endpoint,
			Handler:           mux,
			ReadHeaderTimeout: ReadHeaderTimeout,
		}

		if err := server.ListenAndServe(); err != nil {
			slog.Error("Failed to start metrics server", "error", err)
		}
	}()

	slog.Info("metrics enabled", "endpoint", endpoint+"/metrics")
}
