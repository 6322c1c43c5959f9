package remote

import (
	"bytes"
	"context"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrSSHPassMissing = errors.New("sshpass not found, install it or use the ssh transport")
)

// SSHPassTransport shells out to sshpass, ssh and scp.
// The password is handed to sshpass through the SSHPASS environment variable.
type SSHPassTransport struct {
	opts Options
	// command builds the process to run, replaced in tests.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewSSHPassTransport(opts Options) *SSHPassTransport {
	return &SSHPassTransport{opts: opts, command: exec.CommandContext}
}

// Check verifies that sshpass is installed.
func (t *SSHPassTransport) Check(ctx context.Context) error {
	if err := t.command(ctx, "sshpass", "-V").Run(); err != nil {
		return errors.Wrap(ErrSSHPassMissing, err.Error())
	}

	return nil
}

func (t *SSHPassTransport) EnsureDir(ctx context.Context, creds Credentials, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	host, port, err := net.SplitHostPort(creds.Address)
	if err != nil {
		return errors.Wrap(err, "invalid address")
	}

	args := append(t.sshOptions(t.opts.ConnectTimeout), "-p", port, creds.Username+"@"+host, "mkdir -p "+ShellQuote(dir))

	return t.run(ctx, creds.Password, "ssh", args)
}

func (t *SSHPassTransport) CopyFile(ctx context.Context, creds Credentials, localPath, remotePath string) error {
	host, port, err := net.SplitHostPort(creds.Address)
	if err != nil {
		return errors.Wrap(err, "invalid address")
	}

	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	// drop a device that goes silent mid-copy, same bound as the native transport
	args := append(t.sshOptions(t.opts.CopyTimeout),
		"-o", "ServerAliveInterval="+seconds(t.opts.CopyTimeout),
		"-o", "ServerAliveCountMax=1",
	)
	args = append(args, "-P", port, localPath, creds.Username+"@"+host+":"+remotePath)

	return t.run(ctx, creds.Password, "scp", args)
}

func (t *SSHPassTransport) sshOptions(timeout time.Duration) []string {
	opts := []string{"-o", "ConnectTimeout=" + seconds(timeout)}

	if t.opts.KnownHostsFile == "" {
		return append(opts,
			"-o", "StrictHostKeyChecking=no",
			"-o", "UserKnownHostsFile=/dev/null",
		)
	}

	return append(opts,
		"-o", "StrictHostKeyChecking=yes",
		"-o", "UserKnownHostsFile="+t.opts.KnownHostsFile,
	)
}

func (t *SSHPassTransport) run(ctx context.Context, password, tool string, args []string) error {
	cmd := t.command(ctx, "sshpass", append([]string{"-e", tool}, args...)...)
	cmd.Env = append(cmd.Environ(), "SSHPASS="+password)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s: %s", tool, strings.TrimSpace(stderr.String()))
	}

	return nil
}

func seconds(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	if s < 1 {
		s = 1
	}

	return strconv.Itoa(s)
}
