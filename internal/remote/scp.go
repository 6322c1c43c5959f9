package remote

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrSCPProtocol = errors.New("scp protocol error")
)

// scpSend speaks the sink side of "scp -t" for a single file.
//
// w is the remote scp stdin, r its stdout.
func scpSend(w io.Writer, r *bufio.Reader, name string, mode os.FileMode, size int64, content io.Reader) error {
	if strings.ContainsAny(name, "/\n") {
		return errors.Wrap(ErrSCPProtocol, "invalid file name "+name)
	}

	// the sink acknowledges that it is ready
	if err := scpAck(r); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "C%04o %d %s\n", mode.Perm(), size, name); err != nil {
		return errors.Wrap(err, "scp header")
	}

	if err := scpAck(r); err != nil {
		return err
	}

	n, err := io.CopyN(w, content, size)
	if err != nil {
		return errors.Wrapf(err, "scp copy after %d of %d bytes", n, size)
	}

	if _, err := w.Write([]byte{0}); err != nil {
		return errors.Wrap(err, "scp trailer")
	}

	return scpAck(r)
}

func scpAck(r *bufio.Reader) error {
	code, err := r.ReadByte()
	if err != nil {
		return errors.Wrap(err, "scp read ack")
	}

	switch code {
	case 0:
		return nil
	case 1, 2:
		msg, _ := r.ReadString('\n')
		return errors.Wrap(ErrSCPProtocol, strings.TrimSpace(msg))
	default:
		return errors.Wrapf(ErrSCPProtocol, "unexpected ack byte %#x", code)
	}
}
