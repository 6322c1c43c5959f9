package tasks

import (
	"context"
	"log/slog"

	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/metal-toolbox/romxfer/internal/remote"
)

// StepStatus has status about a step, to be reported as part of the overall task.
type StepStatus struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewStepStatus will create a new step status struct
func NewStepStatus(stepName string, state model.State, details string, err error) *StepStatus {
	status := &StepStatus{
		Step:    stepName,
		Status:  string(state),
		Details: details,
	}

	if err != nil {
		status.Error = err.Error()
	}

	return status
}

func (s *StepStatus) AsLogFields() []any {
	return []any{
		"step", s.Step,
		"status", s.Status,
		"details", s.Details,
		"error", s.Error,
	}
}

// Step is a unit of work. Multiple steps accomplish a task.
type Step interface {
	// Name of this step
	Name() string
	// Required steps fail the task when they fail, others are only recorded.
	Required() bool
	// Run will execute the code to accomplish this step
	Run(ctx context.Context, transport remote.Transport, creds remote.Credentials, data sharedData) (string, error)
}

type ensureDirStep struct {
	name string
	dir  string
}

// EnsureDirStep creates the platform directory on the device.
// A failure here does not stop the copy, the directory may already exist.
func EnsureDirStep(dir string) Step {
	return &ensureDirStep{
		name: "EnsureDir",
		dir:  dir,
	}
}

func (t *ensureDirStep) Name() string {
	return t.name
}

func (t *ensureDirStep) Required() bool {
	return false
}

func (t *ensureDirStep) Run(ctx context.Context, transport remote.Transport, creds remote.Credentials, data sharedData) (string, error) {
	if err := transport.EnsureDir(ctx, creds, t.dir); err != nil {
		return "Failed to create directory " + t.dir, err
	}

	data[dirReadyKey] = true

	return "Directory ready: " + t.dir, nil
}

type copyFileStep struct {
	name       string
	localPath  string
	remotePath string
}

// CopyFileStep copies the ROM onto the device.
func CopyFileStep(localPath, remotePath string) Step {
	return &copyFileStep{
		name:       "CopyFile",
		localPath:  localPath,
		remotePath: remotePath,
	}
}

func (t *copyFileStep) Name() string {
	return t.name
}

func (t *copyFileStep) Required() bool {
	return true
}

func (t *copyFileStep) Run(ctx context.Context, transport remote.Transport, creds remote.Credentials, data sharedData) (string, error) {
	if ready, _ := data[dirReadyKey].(bool); !ready {
		slog.Debug("Copying without a confirmed directory", "remotePath", t.remotePath)
	}

	if err := transport.CopyFile(ctx, creds, t.localPath, t.remotePath); err != nil {
		return "Failed to copy " + t.remotePath, err
	}

	return "Copied " + t.remotePath, nil
}
