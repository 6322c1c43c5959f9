package remote

import (
	"context"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrDryRunAuth        = errors.New("dryrun device rejected the password")
	ErrDryRunNoDirectory = errors.New("dryrun device has no such directory")
)

type device struct {
	dirs  map[string]struct{}
	files map[string]int64
}

// DryRunTransport is a simulated set of devices kept in memory.
type DryRunTransport struct {
	passwords map[string]struct{}

	mu      sync.Mutex
	devices map[string]*device
}

// NewDryRunTransport returns a simulated transport accepting the given passwords.
func NewDryRunTransport(passwords ...string) *DryRunTransport {
	accepted := make(map[string]struct{}, len(passwords))
	for _, p := range passwords {
		accepted[p] = struct{}{}
	}

	return &DryRunTransport{
		passwords: accepted,
		devices:   map[string]*device{},
	}
}

// EnsureDir simulates mkdir -p
func (t *DryRunTransport) EnsureDir(_ context.Context, creds Credentials, dir string) error {
	dev, err := t.login(creds)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for p := path.Clean(dir); p != "/" && p != "."; p = path.Dir(p) {
		dev.dirs[p] = struct{}{}
	}

	return nil
}

// CopyFile simulates scp, the destination directory must exist.
func (t *DryRunTransport) CopyFile(_ context.Context, creds Credentials, localPath, remotePath string) error {
	dev, err := t.login(creds)
	if err != nil {
		return err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrap(err, "stat local file")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := dev.dirs[path.Dir(path.Clean(remotePath))]; !ok {
		return errors.Wrap(ErrDryRunNoDirectory, path.Dir(remotePath))
	}

	dev.files[path.Clean(remotePath)] = info.Size()

	return nil
}

// Files lists the files copied to address.
func (t *DryRunTransport) Files(address string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	dev, ok := t.devices[address]
	if !ok {
		return nil
	}

	files := make([]string, 0, len(dev.files))
	for f := range dev.files {
		files = append(files, f)
	}

	sort.Strings(files)

	return files
}

func (t *DryRunTransport) login(creds Credentials) (*device, error) {
	if _, ok := t.passwords[creds.Password]; !ok {
		return nil, ErrDryRunAuth
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dev, ok := t.devices[creds.Address]
	if !ok {
		dev = &device{
			dirs:  map[string]struct{}{},
			files: map[string]int64{},
		}
		t.devices[creds.Address] = dev
	}

	return dev, nil
}
