// Package acquire turns a ROM source into a readable local file.
//
// A ROM either already lives on this machine, usually in the user's downloads
// directory, or is fetched from a remote URL into a temporary file. Either way
// the caller receives an Artifact and must Release it once the transfer is
// over; releasing removes temporary downloads and is a no-op for local files.
package acquire

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/metal-toolbox/romxfer/internal/metrics"
	"github.com/metal-toolbox/romxfer/internal/model"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	pkgName = "internal/acquire"
)

// Artifact is a local file holding the ROM bytes.
type Artifact struct {
	// Path is the local file to deliver.
	Path string
	// Name is the logical file name on the device.
	Name string

	temporary bool
	release   sync.Once
}

// Temporary reports whether the artifact is owned by this package.
func (a *Artifact) Temporary() bool {
	return a.temporary
}

// Release removes the artifact if it is a temporary download.
// It is safe to call more than once, removal errors are logged and dropped.
func (a *Artifact) Release() {
	if a == nil || !a.temporary {
		return
	}

	a.release.Do(func() {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove temporary ROM", "path", a.Path, "error", err)
			return
		}

		slog.Debug("Removed temporary ROM", "path", a.Path)
	})
}

// Options configures an Acquirer.
type Options struct {
	// DownloadsDir is searched by Check.
	DownloadsDir string
	// TempDir holds downloads, os.TempDir() when empty.
	TempDir   string
	UserAgent string
	Timeout   time.Duration
	Retries   int
}

// Acquirer resolves ROM sources to local files.
type Acquirer struct {
	opts   Options
	client *retryablehttp.Client
}

// New returns an Acquirer with a download client built from opts.
func New(opts Options) *Acquirer {
	client := retryablehttp.NewClient()
	client.RetryMax = opts.Retries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = slog.Default()
	client.HTTPClient.Timeout = opts.Timeout
	client.HTTPClient.Transport = otelhttp.NewTransport(client.HTTPClient.Transport)
	// return the last response instead of a generic error so the status ends up in the message
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Acquirer{
		opts:   opts,
		client: client,
	}
}

// Local verifies path is a readable regular file and wraps it in an Artifact.
// The file is not copied and stays owned by the caller.
func (a *Acquirer) Local(path, romName string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, model.NewError(model.ErrNotFound, "Local file not found: %s", path)
	}

	if !info.Mode().IsRegular() {
		return nil, model.NewError(model.ErrNotFound, "Local file is not a regular file: %s", path)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, model.NewError(model.ErrNotFound, "Local file not readable: %s", path)
	}
	fh.Close()

	return &Artifact{Path: path, Name: romName}, nil
}

// Download fetches url into a temporary file carrying the extension of romName.
// On failure nothing is left on disk.
func (a *Acquirer) Download(ctx context.Context, url, romName string) (artifact *Artifact, err error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Acquirer.Download")
	defer span.End()

	defer func() {
		state := string(model.Succeeded)
		if err != nil {
			state = string(model.Failed)
			span.RecordError(err)
		}

		metrics.DownloadsCounter.WithLabelValues(state).Inc()
	}()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, model.WrapError(model.ErrDownloadFailed, err, "Failed to download ROM")
	}

	req.Header.Set("User-Agent", a.opts.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, model.WrapError(model.ErrDownloadFailed, err, "Failed to download ROM")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.NewError(model.ErrDownloadFailed, "Failed to download ROM: %s", resp.Status)
	}

	fh, err := os.CreateTemp(a.opts.TempDir, "rom_*"+filepath.Ext(romName))
	if err != nil {
		return nil, model.WrapError(model.ErrDownloadFailed, err, "Failed to create temporary file")
	}

	artifact = &Artifact{Path: fh.Name(), Name: romName, temporary: true}

	written, err := io.Copy(fh, resp.Body)
	if closeErr := fh.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		artifact.Release()
		return nil, model.WrapError(model.ErrDownloadFailed, err, "Failed to download ROM")
	}

	metrics.DownloadedBytesCounter.Add(float64(written))
	span.SetAttributes(attribute.Int64("rom.bytes", written))

	slog.Info("Downloaded ROM", "romName", romName, "path", artifact.Path, "bytes", written)

	return artifact, nil
}

// Check reports whether fileName exists in the downloads directory.
// It never takes ownership of, or modifies, the file.
func (a *Acquirer) Check(fileName string) (exists bool, path string, err error) {
	if fileName == "" || fileName == "." || fileName == ".." || strings.ContainsAny(fileName, `/\`) {
		return false, "", model.NewError(model.ErrBadRequest, "Invalid fileName: %q", fileName)
	}

	dir, err := filepath.Abs(a.opts.DownloadsDir)
	if err != nil {
		return false, "", model.WrapError(model.ErrInternal, err, "Failed to resolve downloads directory")
	}

	path = filepath.Join(dir, fileName)

	if _, err := os.Stat(path); err != nil {
		return false, "", nil
	}

	return true, path, nil
}
