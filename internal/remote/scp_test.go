package remote

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSCPSend(t *testing.T) {
	var sent bytes.Buffer

	acks := bufio.NewReader(strings.NewReader("\x00\x00\x00"))

	err := scpSend(&sent, acks, "Mario.zip", 0o644, 5, strings.NewReader("hello"))
	require.NoError(t, err)

	assert.Equal(t, "C0644 5 Mario.zip\nhello\x00", sent.String())
}

func TestSCPSendRemoteError(t *testing.T) {
	var sent bytes.Buffer

	acks := bufio.NewReader(strings.NewReader("\x00\x01scp: /mnt/mmc/ROMS/gb: No such file or directory\n"))

	err := scpSend(&sent, acks, "Mario.zip", 0o644, 5, strings.NewReader("hello"))
	require.ErrorIs(t, err, ErrSCPProtocol)
	assert.Contains(t, err.Error(), "No such file or directory")
	assert.Equal(t, "C0644 5 Mario.zip\n", sent.String())
}

func TestSCPSendShortContent(t *testing.T) {
	var sent bytes.Buffer

	acks := bufio.NewReader(strings.NewReader("\x00\x00\x00"))

	err := scpSend(&sent, acks, "Mario.zip", 0o644, 10, strings.NewReader("hello"))
	require.Error(t, err)
}

func TestSCPSendRejectsBadNames(t *testing.T) {
	for _, name := range []string{"a/b.zip", "evil\nC0644 1 x"} {
		err := scpSend(&bytes.Buffer{}, bufio.NewReader(strings.NewReader("")), name, 0o644, 0, strings.NewReader(""))
		assert.ErrorIs(t, err, ErrSCPProtocol)
	}
}

func TestSCPAckUnexpected(t *testing.T) {
	err := scpAck(bufio.NewReader(strings.NewReader("X")))
	assert.ErrorIs(t, err, ErrSCPProtocol)

	err = scpAck(bufio.NewReader(strings.NewReader("")))
	assert.Error(t, err)
}
