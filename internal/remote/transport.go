// Package remote copies files onto retro handhelds over SSH.
//
// Delivery only needs two operations, creating the platform directory and
// copying the ROM into it, so every transport implements just those. Each call
// opens and closes its own connection with the credentials it is given.
package remote

import (
	"context"
	"path"
	"strings"
	"time"
)

// Credentials identify a login on a device.
type Credentials struct {
	// Address is host:port.
	Address  string
	Username string
	Password string
}

// Transport abstracts calls to remote devices
type Transport interface {
	// EnsureDir creates dir and its parents on the device, like mkdir -p.
	EnsureDir(ctx context.Context, creds Credentials, dir string) error
	// CopyFile copies localPath to remotePath on the device.
	CopyFile(ctx context.Context, creds Credentials, localPath, remotePath string) error
}

// Options configures the transports.
type Options struct {
	// ConnectTimeout bounds directory creation.
	ConnectTimeout time.Duration
	// CopyTimeout bounds connection setup of a copy, and any stall while copying.
	CopyTimeout time.Duration
	// KnownHostsFile enables host key verification, it is disabled when empty.
	KnownHostsFile string
	// DryRunPasswords are the passwords accepted by the DryRun transport.
	DryRunPasswords []string
}

// ShellQuote single quotes s for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// JoinPath joins remote path elements with forward slashes.
func JoinPath(elem ...string) string {
	return path.Join(elem...)
}
