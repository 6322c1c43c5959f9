package remote

import (
	"strings"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	SSH Kind = iota
	SSHPass
	DryRun
)

const (
	SSHStr     = "ssh"
	SSHPassStr = "sshpass"
	DryRunStr  = "dryrun"
)

var (
	ErrUnknownTransportKind = errors.New("unknown transport kind")
)

func (k Kind) String() string {
	switch k {
	case SSH:
		return SSHStr
	case SSHPass:
		return SSHPassStr
	case DryRun:
		return DryRunStr
	default:
		return "unknown"
	}
}

func FromString(str string) (Kind, error) {
	switch strings.ToLower(str) {
	case SSHStr, "":
		return SSH, nil
	case SSHPassStr:
		return SSHPass, nil
	case DryRunStr:
		return DryRun, nil
	default:
		return 0, errors.Wrap(ErrUnknownTransportKind, str)
	}
}

// New returns the Transport implementation for kind.
func New(kind Kind, opts Options) (Transport, error) {
	switch kind {
	case SSH:
		return NewSSHTransport(opts)
	case SSHPass:
		return NewSSHPassTransport(opts), nil
	case DryRun:
		return NewDryRunTransport(opts.DryRunPasswords...), nil
	default:
		return nil, ErrUnknownTransportKind
	}
}
