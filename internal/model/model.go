package model

import (
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type (
	// State is the lifecycle state of a transfer task or one of its steps.
	State string
)

const (
	AppName = "romxfer"

	Pending   State = "pending"
	Active    State = "active"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

// Source identifies where the ROM bytes come from, exactly one field is set.
type Source struct {
	LocalPath string
	RemoteURL string
}

// IsRemote reports whether the ROM has to be downloaded first.
func (s Source) IsRemote() bool {
	return s.RemoteURL != ""
}

// HostConfig is the destination device identity.
//
// nolint:govet // prefer to keep field ordering as is
type HostConfig struct {
	HostIP         string `validate:"required"`
	Port           int    `validate:"min=1,max=65535"`
	Username       string `validate:"required"`
	Password       string
	RemoteBasePath string `validate:"required,startswith=/"`

	// StrictPassword disables the fallback password list for this request.
	StrictPassword bool
}

// Address returns host:port suitable for dialing.
func (h *HostConfig) Address() string {
	return net.JoinHostPort(h.HostIP, strconv.Itoa(h.Port))
}

// AsLogFields never includes the password.
func (h *HostConfig) AsLogFields() []any {
	return []any{
		"host", h.HostIP,
		"port", h.Port,
		"username", h.Username,
		"remoteBasePath", h.RemoteBasePath,
		"strictPassword", h.StrictPassword,
	}
}

// TransferRequest is the validated input to a single transfer.
type TransferRequest struct {
	ID       string
	Source   Source
	RomName  string `validate:"required"`
	Platform string `validate:"required"`
	Host     HostConfig
}

func (r *TransferRequest) AsLogFields() []any {
	fields := []any{
		"transferID", r.ID,
		"romName", r.RomName,
		"platform", r.Platform,
	}

	if r.Source.IsRemote() {
		fields = append(fields, "romUrl", r.Source.RemoteURL)
	} else {
		fields = append(fields, "localPath", r.Source.LocalPath)
	}

	return append(fields, r.Host.AsLogFields()...)
}

// Outcome is the terminal result of a transfer.
type Outcome struct {
	Success bool
	Status  int
	Message string
}

// SuccessOutcome returns a successful Outcome carrying msg.
func SuccessOutcome(msg string) Outcome {
	return Outcome{Success: true, Status: 200, Message: msg}
}

// FailureOutcome converts err into a failed Outcome.
func FailureOutcome(err error) Outcome {
	return Outcome{Status: StatusCode(err), Message: Message(err)}
}

// Args are the command line arguments shared by all subcommands.
type Args struct {
	LogLevel        string
	ConfigFile      string
	EnableProfiling bool
}

var validate = validator.New()

// Validate checks the request once at the boundary, before any network or
// process activity.
func (r *TransferRequest) Validate() error {
	if r.Source.RemoteURL == "" && r.Source.LocalPath == "" {
		return NewError(ErrBadRequest, "Missing required parameters")
	}

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			names := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				names = append(names, fe.Namespace())
			}

			return NewError(ErrBadRequest, "Missing required parameters: %s", strings.Join(names, ", "))
		}

		return WrapError(ErrBadRequest, err, "Invalid request")
	}

	if strings.ContainsAny(r.RomName, `/\`) || r.RomName == "." || r.RomName == ".." {
		return NewError(ErrBadRequest, "Invalid romName: %q", r.RomName)
	}

	return nil
}
