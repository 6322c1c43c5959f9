// Package delivery puts an acquired ROM onto a device, trying each candidate
// password in turn until one copy succeeds.
package delivery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/romxfer/internal/metrics"
	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/metal-toolbox/romxfer/internal/platform"
	"github.com/metal-toolbox/romxfer/internal/remote"
	"github.com/metal-toolbox/romxfer/internal/tasks"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	pkgName = "internal/delivery"
)

// Deliverer runs transfer tasks against devices.
type Deliverer struct {
	transport remote.Transport
	fallback  []string
	publisher tasks.Publisher
}

// New returns a Deliverer. fallback is tried, in order, after the password
// supplied with a request; nil disables fallback.
func New(transport remote.Transport, fallback []string, publisher tasks.Publisher) *Deliverer {
	return &Deliverer{
		transport: transport,
		fallback:  fallback,
		publisher: publisher,
	}
}

// Credentials returns the login attempts for host, supplied password first
// and without duplicate passwords.
func (d *Deliverer) Credentials(host *model.HostConfig) []remote.Credentials {
	passwords := []string{host.Password}

	if !host.StrictPassword {
		seen := map[string]struct{}{host.Password: {}}

		for _, p := range d.fallback {
			if _, ok := seen[p]; ok {
				continue
			}

			seen[p] = struct{}{}
			passwords = append(passwords, p)
		}
	}

	creds := make([]remote.Credentials, 0, len(passwords))
	for _, p := range passwords {
		creds = append(creds, remote.Credentials{
			Address:  host.Address(),
			Username: host.Username,
			Password: p,
		})
	}

	return creds
}

// RemoteDir is the platform directory the ROM is copied into.
func RemoteDir(req *model.TransferRequest) string {
	return strings.TrimSuffix(req.Host.RemoteBasePath, "/") + "/" + platform.Resolve(req.Platform)
}

// Deliver copies localFile to the device described by req.
// The returned Outcome is terminal, no error is returned separately.
func (d *Deliverer) Deliver(ctx context.Context, localFile string, req *model.TransferRequest) model.Outcome {
	// requests are immutable once parsed, an ID is only assigned to our copy
	if req.ID == "" {
		withID := *req
		withID.ID = uuid.NewString()
		req = &withID
	}

	remoteDir := RemoteDir(req)

	ctx, span := otel.Tracer(pkgName).Start(ctx, "Deliverer.Deliver",
		trace.WithAttributes(
			attribute.String("transfer.id", req.ID),
			attribute.String("rom.name", req.RomName),
			attribute.String("remote.dir", remoteDir),
		))
	defer span.End()

	startTS := time.Now()
	logger := slog.With(req.AsLogFields()...)

	var result *multierror.Error

	creds := d.Credentials(&req.Host)

	for attempt, cred := range creds {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}

		runner := tasks.NewTaskRunner(d.publisher, tasks.NewTransferTask(req, localFile, remoteDir))

		err := runner.Run(ctx, d.transport, cred)
		if err == nil {
			metrics.CredentialAttemptsCounter.WithLabelValues(string(model.Succeeded)).Inc()
			metrics.TransferRunTimeSummary.WithLabelValues(platform.Resolve(req.Platform), string(model.Succeeded)).
				Observe(time.Since(startTS).Seconds())

			logger.Info("ROM transferred", "attempt", attempt+1, "remoteDir", remoteDir)

			return model.SuccessOutcome("Successfully transferred " + req.RomName)
		}

		metrics.CredentialAttemptsCounter.WithLabelValues(string(model.Failed)).Inc()
		logger.Info("Transfer attempt failed", "attempt", attempt+1, "of", len(creds), "error", err)

		result = multierror.Append(result, errors.Wrapf(err, "attempt %d as %s", attempt+1, cred.Username))
	}

	metrics.TransferRunTimeSummary.WithLabelValues(platform.Resolve(req.Platform), string(model.Failed)).
		Observe(time.Since(startTS).Seconds())

	result.ErrorFormat = formatAttempts
	err := model.WrapError(model.ErrTransferFailed, result.ErrorOrNil(), "Transfer failed")

	span.RecordError(err)
	logger.Error("Transfer failed", "attempts", len(creds), "error", err)

	return model.FailureOutcome(err)
}

func formatAttempts(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}

	return strings.Join(msgs, "; ")
}
