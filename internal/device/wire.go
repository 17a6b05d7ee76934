// Package device implements the gateway side of the device wire protocol:
// the TCP session listener and the outbound per-call client. Framing is
// UTF-8 newline-terminated lines; binary payloads are length-prefixed with
// exactly 4 bytes little-endian.
package device

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/upflux/upflux-gateway/internal/gwerrors"
)

const (
	TokenRequestUUID        = "REQUEST_UUID"
	TokenUUIDPrefix         = "UUID:"
	TokenLicenseInvalid     = "LICENSE_INVALID"
	TokenLicensePrefix      = "LICENSE:"
	TokenMonitoringPrefix   = "MONITORING_DATA:"
	TokenDataReceived       = "DATA_RECEIVED"
	TokenNotificationPrefix = "NOTIFICATION:"
	TokenSendPackagePrefix  = "SEND_PACKAGE:"
	TokenReadyForPackage    = "READY_FOR_PACKAGE"
	TokenRollbackPrefix     = "ROLLBACK:"
	TokenRollbackInitiated  = "ROLLBACK_INITIATED"
	TokenRollbackCompleted  = "ROLLBACK_COMPLETED"
	TokenGetVersions        = "GET_VERSIONS"
	TokenRequestLogs        = "REQUEST_LOGS"
)

// MaxFrameSize caps a single length-prefixed payload. A peer announcing more
// than this is treated as a framing violation rather than trusted with the
// allocation.
const MaxFrameSize = 512 << 20

// WriteLine writes one newline-terminated protocol line.
func WriteLine(w io.Writer, line string) error {
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("%w: writing line: %v", gwerrors.ErrTransport, err)
	}
	return nil
}

// ReadLine reads one protocol line, stripping the terminator.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", io.EOF
		}
		return "", fmt.Errorf("%w: reading line: %w", gwerrors.ErrFraming, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteFrame writes a 4-byte little-endian length prefix followed by the raw
// bytes.
func WriteFrame(w io.Writer, data []byte) error {
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("%w: writing frame length: %v", gwerrors.ErrTransport, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: writing frame payload: %v", gwerrors.ErrTransport, err)
	}
	return nil
}

// ReadUint32 reads one little-endian length or count prefix.
func ReadUint32(r io.Reader) (uint32, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, fmt.Errorf("%w: reading length prefix: %w", gwerrors.ErrFraming, err)
	}
	return binary.LittleEndian.Uint32(prefix[:]), nil
}

// ReadFrame reads one length-prefixed payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", gwerrors.ErrFraming, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: truncated frame: %w", gwerrors.ErrFraming, err)
	}
	return data, nil
}
