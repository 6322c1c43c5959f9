package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/metal-toolbox/romxfer/internal/remote"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	pkgName = "internal/tasks"

	dirReadyKey = "dirReady"
)

// Miscellaneous
type sharedData map[string]interface{}

// TaskStatus has status about a task, and it's steps.
type TaskStatus struct {
	Task       string        `json:"task"`
	Status     string        `json:"status"`
	Details    string        `json:"details,omitempty"`
	Error      string        `json:"error,omitempty"`
	ActiveStep string        `json:"active_step,omitempty"`
	Steps      []*StepStatus `json:"steps"`
}

// NewTaskStatus will generate a new task status struct
func NewTaskStatus(taskName string, state model.State) *TaskStatus {
	return &TaskStatus{
		Task:   taskName,
		Status: string(state),
	}
}

func (r *TaskStatus) AsLogFields() []any {
	return []any{
		"task", r.Task,
		"status", r.Status,
		"details", r.Details,
		"error", r.Error,
	}
}

func (r *TaskStatus) Marshal() ([]byte, error) {
	respBytes, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal response to json")
	}

	return respBytes, nil
}

// Task is one attempt at putting a ROM on a device.
type Task interface {
	// Name of the task
	Name() string
	// Request is the transfer this task belongs to
	Request() *model.TransferRequest
	// Steps is the multiple units of work that will accomplish this task
	Steps() []Step
}

type transferTask struct {
	name  string
	req   *model.TransferRequest
	steps []Step
}

// NewTransferTask creates the task copying localPath into remoteDir on the request's host.
func NewTransferTask(req *model.TransferRequest, localPath, remoteDir string) Task {
	return &transferTask{
		name: "TransferROM",
		req:  req,
		steps: []Step{
			EnsureDirStep(remoteDir),
			CopyFileStep(localPath, remote.JoinPath(remoteDir, req.RomName)),
		},
	}
}

func (j *transferTask) Name() string {
	return j.name
}

func (j *transferTask) Steps() []Step {
	return j.steps
}

func (j *transferTask) Request() *model.TransferRequest {
	return j.req
}

// Publisher receives task status updates.
type Publisher interface {
	Publish(ctx context.Context, taskID string, state model.State, status json.RawMessage)
}

// LogPublisher publishes task status updates to the default logger.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, taskID string, state model.State, status json.RawMessage) {
	slog.Debug("Task status", "transferID", taskID, "state", state, "status", string(status))
}

// TaskRunner Will run the task by executing the individual steps in the task,
// and reports task status using the publisher.
type TaskRunner struct {
	publisher  Publisher
	task       Task
	taskStatus *TaskStatus
}

// NewTaskRunner creates a TaskRunner to run a specific Task
func NewTaskRunner(publisher Publisher, task Task) *TaskRunner {
	if publisher == nil {
		publisher = LogPublisher{}
	}

	return &TaskRunner{
		publisher:  publisher,
		task:       task,
		taskStatus: NewTaskStatus(task.Name(), model.Pending),
	}
}

// Status returns the current task status.
func (r *TaskRunner) Status() *TaskStatus {
	return r.taskStatus
}

// Run executes the steps with creds. It returns the error of the first
// required step that fails.
func (r *TaskRunner) Run(ctx context.Context, transport remote.Transport, creds remote.Credentials) (err error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "TaskRunner.Run",
		trace.WithAttributes(
			attribute.String("task", r.task.Name()),
			attribute.String("address", creds.Address),
			attribute.String("username", creds.Username),
		))
	defer span.End()

	slog.With(r.task.Request().AsLogFields()...).Debug("Running task", "task", r.task.Name())

	startTS := time.Now()
	data := sharedData{}
	r.initTaskLog()

	defer func() {
		if rec := recover(); rec != nil {
			err = r.handlePanic(ctx, rec)
		}

		if err != nil {
			span.RecordError(err)
		}
	}()

	r.publishTaskUpdate(ctx, model.Active, "Connecting to "+creds.Address, nil)

	for stepID, step := range r.task.Steps() {
		r.publishStepUpdate(ctx, stepID, "Running step")

		details, err := step.Run(ctx, transport, creds, data)
		if err != nil {
			if step.Required() {
				r.publishFailed(ctx, stepID, details, err)
				return err
			}

			r.publishStepFailure(ctx, stepID, details, err)

			continue
		}

		r.publishStepSuccess(ctx, stepID, details)
	}

	r.publishTaskSuccess(ctx, time.Since(startTS))

	return nil
}

func (r *TaskRunner) initTaskLog() {
	steps := r.task.Steps()
	r.taskStatus.Steps = make([]*StepStatus, len(steps))

	for i, step := range steps {
		r.taskStatus.Steps[i] = NewStepStatus(step.Name(), model.Pending, "", nil)
	}
}

func (r *TaskRunner) handlePanic(ctx context.Context, rec any) error {
	msg := "Panic occurred while running task"
	slog.Error("!!panic occurred", "rec", rec, "stack", string(debug.Stack()))
	slog.Error(msg)
	err := errors.New("Task fatal error, check logs for details")

	r.publishTaskUpdate(ctx, model.Failed, msg, err)

	return err
}

func (r *TaskRunner) publishStepUpdate(ctx context.Context, stepID int, details string) {
	r.taskStatus.ActiveStep = r.task.Steps()[stepID].Name()
	r.publish(ctx, stepID, model.Active, model.Active, details, nil)
}

func (r *TaskRunner) publishStepSuccess(ctx context.Context, stepID int, details string) {
	r.publish(ctx, stepID, model.Succeeded, model.Active, details, nil)
}

// publishStepFailure records a failed optional step, the task stays active.
func (r *TaskRunner) publishStepFailure(ctx context.Context, stepID int, details string, err error) {
	slog.With(r.task.Request().AsLogFields()...).Warn(details, "task", r.task.Name(), "error", err)

	step := r.task.Steps()[stepID]
	r.taskStatus.Steps[stepID] = NewStepStatus(step.Name(), model.Failed, details, err)

	r.publishTaskUpdate(ctx, model.Active, "Continuing after step "+step.Name(), nil)
}

func (r *TaskRunner) publishFailed(ctx context.Context, stepID int, details string, err error) {
	slog.With(r.task.Request().AsLogFields()...).Info("Task failed", "task", r.task.Name(), "error", err)
	r.publish(ctx, stepID, model.Failed, model.Failed, details, err)
}

func (r *TaskRunner) publishTaskSuccess(ctx context.Context, elapsed time.Duration) {
	slog.With(r.task.Request().AsLogFields()...).Info("Task completed successfully", "task", r.task.Name(), "elapsed", elapsed.String())
	r.publishTaskUpdate(ctx, model.Succeeded, "Task completed successfully", nil)
}

func (r *TaskRunner) publish(ctx context.Context, stepID int, stepState, taskState model.State, details string, err error) {
	step := r.task.Steps()[stepID]
	stepStatus := NewStepStatus(step.Name(), stepState, details, err)

	slog.With(stepStatus.AsLogFields()...).Debug(details, "transferID", r.task.Request().ID)

	r.taskStatus.Steps[stepID] = stepStatus

	var taskDetails string
	if err != nil {
		taskDetails = "Task failed at step " + step.Name()
	}

	r.publishTaskUpdate(ctx, taskState, taskDetails, err)
}

func (r *TaskRunner) publishTaskUpdate(ctx context.Context, state model.State, details string, err error) {
	r.taskStatus.Status = string(state)
	r.taskStatus.Details = details

	if err != nil {
		r.taskStatus.Error = err.Error()
	}

	respBytes, err := r.taskStatus.Marshal()
	if err != nil {
		slog.Error("Failed to marshal task update", "error", err)
		return
	}

	r.publisher.Publish(ctx, r.task.Request().ID, state, respBytes)
}
