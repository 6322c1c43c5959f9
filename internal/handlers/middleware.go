package handlers

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/sirupsen/logrus"
)

// preflight answers every OPTIONS request with 200 and an empty body.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		allowAnyOrigin(w)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
	})
}

// recoverJSON turns a panic in a handler into a JSON 500 response.
func (h *HandlerFactory) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			h.logger.WithFields(logrus.Fields{
				"panic":     rec,
				"stack":     string(debug.Stack()),
				"requestID": middleware.GetReqID(r.Context()),
			}).Error("!!panic occurred while handling request")

			writeError(w, "panic", model.NewError(model.ErrInternal, "Internal error"))
		}()

		next.ServeHTTP(w, r)
	})
}

// accessLog logs one line per request with the logrus logger.
func (h *HandlerFactory) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startTS := time.Now()

		next.ServeHTTP(ww, r)

		h.logger.WithFields(logrus.Fields{
			"requestID": middleware.GetReqID(r.Context()),
			"method":    r.Method,
			"path":      r.URL.Path,
			"remote":    r.RemoteAddr,
			"status":    ww.Status(),
			"bytes":     ww.BytesWritten(),
			"elapsed":   time.Since(startTS).String(),
		}).Info("request")
	})
}
