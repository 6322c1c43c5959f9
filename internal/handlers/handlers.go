// Package handlers exposes ROM transfers over HTTP to the browser catalog.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/metal-toolbox/romxfer/internal/acquire"
	"github.com/metal-toolbox/romxfer/internal/configuration"
	"github.com/metal-toolbox/romxfer/internal/metrics"
	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/metal-toolbox/romxfer/internal/version"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deliverer puts a local file onto the device named in req.
type Deliverer interface {
	Deliver(ctx context.Context, localFile string, req *model.TransferRequest) model.Outcome
}

// HandlerFactory has the data and business logic for the application
type HandlerFactory struct {
	config    *configuration.Configuration
	acquirer  *acquire.Acquirer
	deliverer Deliverer
	logger    *logrus.Logger
}

// NewHandlerFactory returns a new instance of the Handler
func NewHandlerFactory(
	config *configuration.Configuration,
	acquirer *acquire.Acquirer,
	deliverer Deliverer,
	logger *logrus.Logger,
) *HandlerFactory {
	return &HandlerFactory{
		config:    config,
		acquirer:  acquirer,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Router returns the instrumented HTTP handler serving all routes.
func (h *HandlerFactory) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.accessLog)
	r.Use(h.recoverJSON)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type"},
		OptionsPassthrough: true,
	}).Handler)
	r.Use(preflight)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, "unknown", model.NewError(model.ErrNotFound, "Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, "unknown", http.StatusMethodNotAllowed, map[string]any{"success": false, "error": "Method not allowed"})
	})

	r.Get("/healthz", h.healthz)
	r.Post("/check-file", h.checkFile)
	r.Post("/transfer", h.transferLocal)
	r.Post("/*", h.downloadAndTransfer)

	if h.config.UIDir != "" {
		r.Get("/*", http.FileServer(http.Dir(h.config.UIDir)).ServeHTTP)
	}

	return otelhttp.NewHandler(r, "romxfer")
}

func (h *HandlerFactory) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, "healthz", map[string]any{"version": version.Current().AppVersion})
}

func (h *HandlerFactory) checkFile(w http.ResponseWriter, r *http.Request) {
	const endpoint = "check-file"

	var payload checkFilePayload
	if err := decode(r, &payload); err != nil {
		writeError(w, endpoint, err)
		return
	}

	if payload.FileName == "" {
		writeError(w, endpoint, model.NewError(model.ErrBadRequest, "Missing fileName"))
		return
	}

	exists, path, err := h.acquirer.Check(payload.FileName)
	if err != nil {
		writeError(w, endpoint, err)
		return
	}

	var filePath any
	if exists {
		filePath = path
	}

	writeSuccess(w, endpoint, map[string]any{"exists": exists, "filePath": filePath})
}

func (h *HandlerFactory) transferLocal(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "transfer", false)
}

func (h *HandlerFactory) downloadAndTransfer(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "download", true)
}

func (h *HandlerFactory) transfer(w http.ResponseWriter, r *http.Request, endpoint string, remote bool) {
	ctx := r.Context()

	var payload transferPayload
	if err := decode(r, &payload); err != nil {
		writeError(w, endpoint, err)
		return
	}

	defaults, err := h.config.HostDefaults()
	if err != nil {
		writeError(w, endpoint, model.WrapError(model.ErrInternal, err, "Internal error"))
		return
	}

	req, err := payload.transferRequest(defaults, remote)
	if err != nil {
		writeError(w, endpoint, err)
		return
	}

	req.ID = middleware.GetReqID(ctx)

	var artifact *acquire.Artifact

	if remote {
		artifact, err = h.acquirer.Download(ctx, req.Source.RemoteURL, req.RomName)
	} else {
		artifact, err = h.acquirer.Local(req.Source.LocalPath, req.RomName)
	}

	if err != nil {
		writeError(w, endpoint, err)
		return
	}
	defer artifact.Release()

	slog.With(req.AsLogFields()...).Info("Transferring ROM")

	outcome := h.deliverer.Deliver(ctx, artifact.Path, req)
	if !outcome.Success {
		writeJSON(w, endpoint, outcome.Status, map[string]any{"success": false, "error": outcome.Message})
		return
	}

	writeSuccess(w, endpoint, map[string]any{"message": outcome.Message})
}

func allowAnyOrigin(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeSuccess(w http.ResponseWriter, endpoint string, fields map[string]any) {
	fields["success"] = true
	writeJSON(w, endpoint, http.StatusOK, fields)
}

func writeError(w http.ResponseWriter, endpoint string, err error) {
	writeJSON(w, endpoint, model.StatusCode(err), map[string]any{"success": false, "error": model.Message(err)})
}

func writeJSON(w http.ResponseWriter, endpoint string, code int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Failed to marshal response", "error", err)

		code = http.StatusInternalServerError
		data = []byte(`{"success":false,"error":"Internal error"}`)
	}

	allowAnyOrigin(w)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(code)

	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}

	metrics.ResponsesCounter.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}
