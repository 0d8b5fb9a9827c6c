package log

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"strings"
)

var errInvalidChecksum = errors.New("invalid checksum length")

// LogLineChecksum computes a CRC32 over the log line, which can be checked to
// ensure no unexpected log corruption has occurred.
func LogLineChecksum(line string) string {
	crc := crc32.ChecksumIEEE([]byte(line))
	buf := make([]byte, crc32.Size)
	// Error is unreachable because we provide a supported type and buffer size
	_, _ = binary.Encode(buf, binary.LittleEndian, crc)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ValidateLine checks that a "<checksum> <message>" pair, as written after
// the level field of every stdout line, is intact.
func ValidateLine(checksummed string) error {
	checksum, msg, found := strings.Cut(checksummed, " ")
	if !found {
		return errors.New("line is missing a checksum")
	}
	if len(checksum) != 6 {
		return errInvalidChecksum
	}
	if LogLineChecksum(msg) != checksum {
		return errors.New("checksum mismatch")
	}
	return nil
}
