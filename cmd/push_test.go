package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dryRunYAML = "delivery:\n  transport: dryrun\n  dryrun_passwords: [admin]\n"

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "romxfer.yml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	return path
}

func dryRunConfig(t *testing.T) string {
	t.Helper()

	return writeConfig(t, dryRunYAML)
}

func TestRunPushLocal(t *testing.T) {
	rom := filepath.Join(t.TempDir(), "Sonic.md")
	require.NoError(t, os.WriteFile(rom, []byte("rom"), 0o600))

	flags := &pushFlags{host: "10.0.0.5", platform: "genesis"}

	outcome, err := runPush(context.Background(), &model.Args{ConfigFile: dryRunConfig(t)}, flags, rom, false)
	require.NoError(t, err)
	assert.True(t, outcome.Success, outcome.Message)
	assert.Equal(t, "Successfully transferred Sonic.md", outcome.Message)
	assert.FileExists(t, rom)
}

func TestRunPushURL(t *testing.T) {
	var served atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)

		assert.Equal(t, "/roms/gb/Mario.zip", r.URL.Path)
		_, _ = w.Write([]byte("super mario land"))
	}))
	defer server.Close()

	tmp := t.TempDir()
	config := writeConfig(t, dryRunYAML+"download:\n  temp_dir: "+tmp+"\n")

	flags := &pushFlags{host: "10.0.0.5", platform: "Game Boy"}

	outcome, err := runPush(context.Background(), &model.Args{ConfigFile: config}, flags, server.URL+"/roms/gb/Mario.zip", false)
	require.NoError(t, err)
	assert.True(t, outcome.Success, outcome.Message)
	assert.Equal(t, "Successfully transferred Mario.zip", outcome.Message)
	assert.Equal(t, int32(1), served.Load())

	// the downloaded copy is gone once the transfer is over
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunPushStrictPassword(t *testing.T) {
	rom := filepath.Join(t.TempDir(), "Sonic.md")
	require.NoError(t, os.WriteFile(rom, []byte("rom"), 0o600))

	flags := &pushFlags{host: "10.0.0.5", platform: "genesis", strictPassword: true}

	outcome, err := runPush(context.Background(), &model.Args{ConfigFile: dryRunConfig(t)}, flags, rom, false)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, http.StatusInternalServerError, outcome.Status)
}

func TestRunPushMissingFile(t *testing.T) {
	flags := &pushFlags{host: "10.0.0.5", platform: "nes"}

	outcome, err := runPush(context.Background(), &model.Args{ConfigFile: dryRunConfig(t)}, flags, "/nonexistent/rom.nes", false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, outcome.Status)
}

func TestRunPushBadConfig(t *testing.T) {
	_, err := runPush(context.Background(), &model.Args{ConfigFile: "/nonexistent.yml"}, &pushFlags{}, "rom.nes", false)
	assert.ErrorIs(t, err, model.ErrConfig)
}
