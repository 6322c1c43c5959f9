package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metal-toolbox/romxfer/internal/acquire"
	"github.com/metal-toolbox/romxfer/internal/configuration"
	"github.com/metal-toolbox/romxfer/internal/delivery"
	"github.com/metal-toolbox/romxfer/internal/log"
	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/metal-toolbox/romxfer/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDeliverer records the requests it is handed before delegating.
type recordingDeliverer struct {
	next  Deliverer
	calls []model.TransferRequest
	panic bool
}

func (d *recordingDeliverer) Deliver(ctx context.Context, localFile string, req *model.TransferRequest) model.Outcome {
	d.calls = append(d.calls, *req)

	if d.panic {
		panic("boom")
	}

	return d.next.Deliver(ctx, localFile, req)
}

type fixture struct {
	config    *configuration.Configuration
	device    *remote.DryRunTransport
	deliverer *recordingDeliverer
	router    http.Handler
}

func newFixture(t *testing.T, devicePasswords ...string) *fixture {
	t.Helper()

	config := configuration.New()
	config.DownloadsDir = t.TempDir()
	config.Download.TempDir = t.TempDir()

	if len(devicePasswords) == 0 {
		devicePasswords = []string{"muos"}
	}

	device := remote.NewDryRunTransport(devicePasswords...)

	acquirer := acquire.New(acquire.Options{
		DownloadsDir: config.DownloadsDir,
		TempDir:      config.Download.TempDir,
		UserAgent:    config.Download.UserAgent,
		Timeout:      config.Download.Timeout,
	})

	deliverer := &recordingDeliverer{next: delivery.New(device, config.FallbackPasswords(), nil)}

	logger := log.NewLogrusLogger("info")
	logger.SetOutput(io.Discard)

	return &fixture{
		config:    config,
		device:    device,
		deliverer: deliverer,
		router:    NewHandlerFactory(config, acquirer, deliverer, logger).Router(),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()

	f.router.ServeHTTP(rec, req)

	var resp map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}

	return rec, resp
}

func romServer(t *testing.T, status int, payload []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func tempEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	return entries
}

func TestCheckFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.config.DownloadsDir, "Sonic.md"), []byte("rom"), 0o600))

	rec, resp := f.do(t, http.MethodPost, "/check-file", `{"fileName":"Sonic.md"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["exists"])
	assert.Equal(t, filepath.Join(f.config.DownloadsDir, "Sonic.md"), resp["filePath"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec, resp = f.do(t, http.MethodPost, "/check-file", `{"fileName":"Tails.md"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, false, resp["exists"])
	assert.Contains(t, resp, "filePath")
	assert.Nil(t, resp["filePath"])
}

func TestCheckFileBadInput(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodPost, "/check-file", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Missing fileName", resp["error"])

	rec, _ = f.do(t, http.MethodPost, "/check-file", `{"fileName":"../secret"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedJSON(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/check-file", "/transfer", "/anything"} {
		rec, resp := f.do(t, http.MethodPost, path, `{"romName":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, false, resp["success"], path)
		assert.Contains(t, resp["error"], "Invalid JSON", path)
	}

	assert.Empty(t, f.deliverer.calls)
}

func TestUnknownContentLength(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/check-file", strings.NewReader(`{"fileName":"a.zip"}`))
	req.ContentLength = -1

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/anything", "/transfer", "/check-file"} {
		req := httptest.NewRequest(http.MethodOptions, path, http.NoBody)
		req.Header.Set("Origin", "http://localhost:8000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Body.String(), path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost, path)
	}
}

func TestTransferLocalFileNotFound(t *testing.T) {
	f := newFixture(t)

	missing := filepath.Join(t.TempDir(), "missing.gba")
	body := `{"localFilePath":"` + missing + `","romName":"missing.gba","platform":"gba","hostConfig":{"hostIp":"10.0.0.5"}}`

	rec, resp := f.do(t, http.MethodPost, "/transfer", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Local file not found: "+missing, resp["error"])
	assert.Empty(t, f.deliverer.calls)
}

func TestTransferMissingParameters(t *testing.T) {
	f := newFixture(t)

	bodies := map[string]string{
		"no host ip":    `{"localFilePath":"/tmp/a.nes","romName":"a.nes","platform":"nes","hostConfig":{}}`,
		"no hostConfig": `{"localFilePath":"/tmp/a.nes","romName":"a.nes","platform":"nes"}`,
		"no rom name":   `{"localFilePath":"/tmp/a.nes","platform":"nes","hostConfig":{"hostIp":"10.0.0.5"}}`,
		"no platform":   `{"localFilePath":"/tmp/a.nes","romName":"a.nes","hostConfig":{"hostIp":"10.0.0.5"}}`,
		"no path":       `{"romName":"a.nes","platform":"nes","hostConfig":{"hostIp":"10.0.0.5"}}`,
		"path in name":  `{"localFilePath":"/tmp/a.nes","romName":"../a.nes","platform":"nes","hostConfig":{"hostIp":"10.0.0.5"}}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec, resp := f.do(t, http.MethodPost, "/transfer", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, resp["success"])
		})
	}

	rec, resp := f.do(t, http.MethodPost, "/anything", `{"romName":"a.nes","platform":"nes","hostConfig":{"hostIp":"10.0.0.5"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required parameters", resp["error"])

	assert.Empty(t, f.deliverer.calls)
}

func TestTransferLocal(t *testing.T) {
	f := newFixture(t)

	local := filepath.Join(f.config.DownloadsDir, "Zelda.gba")
	require.NoError(t, os.WriteFile(local, []byte("rom"), 0o600))

	body := `{"localFilePath":"` + local + `","romName":"Zelda.gba","platform":"GBA","hostConfig":{"hostIp":"10.0.0.5"}}`

	rec, resp := f.do(t, http.MethodPost, "/transfer", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Successfully transferred Zelda.gba", resp["message"])

	assert.Equal(t, []string{"/mnt/mmc/ROMS/gba/Zelda.gba"}, f.device.Files("10.0.0.5:22"))

	// the caller owns local files
	assert.FileExists(t, local)

	require.Len(t, f.deliverer.calls, 1)
	host := f.deliverer.calls[0].Host
	assert.Equal(t, "root", host.Username)
	assert.Equal(t, "muos", host.Password)
	assert.Equal(t, 22, host.Port)
	assert.Equal(t, "/mnt/mmc/ROMS", host.RemoteBasePath)
	assert.NotEmpty(t, f.deliverer.calls[0].ID)
}

func TestTransferKeepsExplicitEmptyPassword(t *testing.T) {
	f := newFixture(t, "")

	local := filepath.Join(t.TempDir(), "Pong.sms")
	require.NoError(t, os.WriteFile(local, []byte("rom"), 0o600))

	body := `{"localFilePath":"` + local + `","romName":"Pong.sms","platform":"sms",` +
		`"hostConfig":{"hostIp":"10.0.0.9","port":2222,"username":"pi","password":"","remoteBasePath":"/userdata/roms","strictPassword":true}}`

	rec, resp := f.do(t, http.MethodPost, "/transfer", body)
	require.Equal(t, http.StatusOK, rec.Code, resp)

	require.Len(t, f.deliverer.calls, 1)
	host := f.deliverer.calls[0].Host
	assert.Equal(t, "", host.Password)
	assert.Equal(t, "pi", host.Username)
	assert.True(t, host.StrictPassword)
	assert.Equal(t, []string{"/userdata/roms/sms/Pong.sms"}, f.device.Files("10.0.0.9:2222"))
}

func TestDownloadAndTransfer(t *testing.T) {
	f := newFixture(t)
	srv := romServer(t, http.StatusOK, bytes.Repeat([]byte{0xAB}, 200))

	body := `{"romUrl":"` + srv.URL + `/r.zip","romName":"Mario.zip","platform":"Game Boy","hostConfig":{"hostIp":"10.0.0.5"}}`

	rec, resp := f.do(t, http.MethodPost, "/anything", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "message": "Successfully transferred Mario.zip"}, resp)

	assert.Equal(t, []string{"/mnt/mmc/ROMS/gb/Mario.zip"}, f.device.Files("10.0.0.5:22"))
	assert.Empty(t, tempEntries(t, f.config.Download.TempDir))
}

func TestDownloadFailure(t *testing.T) {
	f := newFixture(t)
	srv := romServer(t, http.StatusNotFound, []byte("gone"))

	body := `{"romUrl":"` + srv.URL + `/r.zip","romName":"Mario.zip","platform":"gb","hostConfig":{"hostIp":"10.0.0.5"}}`

	rec, resp := f.do(t, http.MethodPost, "/", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "Failed to download ROM")
	assert.Empty(t, f.deliverer.calls)
	assert.Empty(t, tempEntries(t, f.config.Download.TempDir))
}

func TestTransferFailureReleasesDownload(t *testing.T) {
	f := newFixture(t, "hunter2")
	srv := romServer(t, http.StatusOK, []byte("rom"))

	body := `{"romUrl":"` + srv.URL + `/r.nes","romName":"Metroid.nes","platform":"nes","hostConfig":{"hostIp":"10.0.0.5"}}`

	rec, resp := f.do(t, http.MethodPost, "/download", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "Transfer failed")
	assert.Empty(t, f.device.Files("10.0.0.5:22"))
	assert.Empty(t, tempEntries(t, f.config.Download.TempDir))
}

func TestPanicIsReportedAsJSON(t *testing.T) {
	f := newFixture(t)
	f.deliverer.panic = true

	srv := romServer(t, http.StatusOK, []byte("rom"))
	body := `{"romUrl":"` + srv.URL + `/r.gb","romName":"Tetris.gb","platform":"gb","hostConfig":{"hostIp":"10.0.0.5"}}`

	rec, resp := f.do(t, http.MethodPost, "/anything", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Internal error", resp["error"])
	assert.Empty(t, tempEntries(t, f.config.Download.TempDir))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp["success"])
	assert.Contains(t, resp, "version")
}

func TestStaticUI(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, false, resp["success"])

	ui := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ui, "app.js"), []byte("console.log(1)"), 0o600))
	f.config.UIDir = ui

	logger := log.NewLogrusLogger("info")
	logger.SetOutput(io.Discard)

	router := NewHandlerFactory(f.config, acquire.New(acquire.Options{}), f.deliverer, logger).Router()

	req := httptest.NewRequest(http.MethodGet, "/app.js", http.NoBody)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())
}
