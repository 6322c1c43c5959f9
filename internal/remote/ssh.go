package remote

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	pkgName = "internal/remote"
)

// SSHTransport talks to devices with golang.org/x/crypto/ssh and the scp sink protocol.
type SSHTransport struct {
	opts            Options
	hostKeyCallback ssh.HostKeyCallback
}

// NewSSHTransport returns a native SSH transport.
// Host keys are not verified unless opts.KnownHostsFile is set.
func NewSSHTransport(opts Options) (*SSHTransport, error) {
	callback := ssh.InsecureIgnoreHostKey() // nolint:gosec // devices are headless and on a trusted LAN

	if opts.KnownHostsFile != "" {
		var err error

		callback, err = knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, errors.Wrap(err, "load known hosts")
		}
	}

	return &SSHTransport{opts: opts, hostKeyCallback: callback}, nil
}

// EnsureDir runs mkdir -p on the device, bounded by the connect timeout.
func (t *SSHTransport) EnsureDir(ctx context.Context, creds Credentials, dir string) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "SSHTransport.EnsureDir",
		trace.WithAttributes(attribute.String("remote.dir", dir)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	client, err := t.dial(ctx, creds, t.opts.ConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return errors.Wrap(err, "open session")
	}
	defer session.Close()

	out, err := session.CombinedOutput("mkdir -p " + ShellQuote(dir))
	if err != nil {
		return errors.Wrapf(err, "mkdir %s: %s", dir, strings.TrimSpace(string(out)))
	}

	return nil
}

// CopyFile copies localPath into remotePath with scp -t.
func (t *SSHTransport) CopyFile(ctx context.Context, creds Credentials, localPath, remotePath string) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "SSHTransport.CopyFile",
		trace.WithAttributes(attribute.String("remote.path", remotePath)))
	defer span.End()

	fh, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open local file")
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return errors.Wrap(err, "stat local file")
	}

	client, err := t.dial(ctx, creds, t.opts.CopyTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return errors.Wrap(err, "open session")
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "scp stdin")
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "scp stdout")
	}

	var stderr strings.Builder
	session.Stderr = &stderr

	dir, name := path.Split(remotePath)
	if dir == "" {
		dir = "."
	}

	if err := session.Start("scp -t " + ShellQuote(dir)); err != nil {
		return errors.Wrap(err, "start scp")
	}

	sendErr := scpSend(stdin, bufio.NewReader(stdout), name, info.Mode(), info.Size(), fh)
	stdin.Close()

	waitErr := session.Wait()

	switch {
	case sendErr != nil:
		return errors.Wrapf(sendErr, "scp %s", strings.TrimSpace(stderr.String()))
	case waitErr != nil:
		return errors.Wrapf(waitErr, "scp %s", strings.TrimSpace(stderr.String()))
	}

	slog.Debug("Copied file", "address", creds.Address, "remotePath", remotePath, "bytes", info.Size())

	return nil
}

// dial opens an authenticated client, every read and write on the underlying
// connection must make progress within timeout.
func (t *SSHTransport) dial(ctx context.Context, creds Credentials, timeout time.Duration) (*sshClient, error) {
	password := creds.Password

	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}

				return answers, nil
			}),
		},
		HostKeyCallback: t.hostKeyCallback,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", creds.Address)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	idle := &idleTimeoutConn{Conn: conn, timeout: timeout}

	// tear the connection down when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(idle, creds.Address, config)
	if err != nil {
		stop()
		conn.Close()

		return nil, errors.Wrap(err, "ssh handshake")
	}

	return &sshClient{Client: ssh.NewClient(c, chans, reqs), stop: stop}, nil
}

// sshClient releases the context hook registered by dial when closed.
type sshClient struct {
	*ssh.Client
	stop func() bool
}

func (c *sshClient) Close() error {
	c.stop()

	return c.Client.Close()
}

// idleTimeoutConn pushes the deadline forward on every read and write.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}

	return c.Conn.Read(b)
}

func (c *idleTimeoutConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}

	return c.Conn.Write(b)
}
