package device

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/stretchr/testify/require"
)

func TestLineRoundTrip(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(WriteLine(&buf, "UUID:dev-1"))
	require.Equal("UUID:dev-1\n", buf.String())

	line, err := ReadLine(bufio.NewReader(&buf))
	require.NoError(err)
	require.Equal("UUID:dev-1", line)
}

func TestReadLineStripsCarriageReturn(t *testing.T) {
	line, err := ReadLine(bufio.NewReader(bytes.NewBufferString("DATA_RECEIVED\r\n")))
	require.NoError(t, err)
	require.Equal(t, "DATA_RECEIVED", line)
}

func TestReadLineEOF(t *testing.T) {
	_, err := ReadLine(bufio.NewReader(bytes.NewBuffer(nil)))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadLineTruncated(t *testing.T) {
	// bytes with no terminator are a framing violation, not a clean close
	_, err := ReadLine(bufio.NewReader(bytes.NewBufferString("UUID:dev")))
	require.ErrorIs(t, err, gwerrors.ErrFraming)
}

func TestFrameRoundTrip(t *testing.T) {
	require := require.New(t)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	var buf bytes.Buffer
	require.NoError(WriteFrame(&buf, payload))

	// length prefix is little-endian
	require.Equal(uint32(4), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

	got, err := ReadFrame(&buf)
	require.NoError(err)
	require.Equal(payload, got)
}

func TestReadFrameEmptyPayload(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(WriteFrame(&buf, nil))
	got, err := ReadFrame(&buf)
	require.NoError(err)
	require.Empty(got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], MaxFrameSize+1)
	buf.Write(prefix[:])

	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, gwerrors.ErrFraming)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], 10)
	buf.Write(prefix[:])
	buf.Write([]byte("short"))

	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, gwerrors.ErrFraming)
}
