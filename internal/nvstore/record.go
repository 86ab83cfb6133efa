package nvstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Record envelope layout:
//
//	byte 0        version
//	bytes 1..n-5  payload
//	last 4 bytes  CRC32 (IEEE) over version+payload, big-endian
//
// A record that fails any of these checks is reported as ErrCorrupt and
// never partially trusted. Flash-backed storage on battery devices does
// lose bytes across brown-outs; the envelope turns silent corruption into
// a detectable condition the owner can recover from.
const (
	recordVersion  = 1
	recordChecksum = 4
	recordOverhead = 1 + recordChecksum
)

// encodeRecord wraps payload in a versioned, checksummed envelope.
func encodeRecord(payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+recordOverhead)
	buf = append(buf, recordVersion)
	buf = append(buf, payload...)

	sum := crc32.ChecksumIEEE(buf)
	buf = binary.BigEndian.AppendUint32(buf, sum)
	return buf
}

// decodeRecord validates an envelope and returns its payload.
//
// Returns:
//   - []byte: Payload with version and checksum stripped
//   - error: ErrCorrupt (wrapped with detail) if validation fails
func decodeRecord(value []byte) ([]byte, error) {
	if len(value) < recordOverhead {
		return nil, fmt.Errorf("%w: record too short (%d bytes)", ErrCorrupt, len(value))
	}

	body := value[:len(value)-recordChecksum]
	want := binary.BigEndian.Uint32(value[len(value)-recordChecksum:])

	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	if body[0] != recordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", ErrCorrupt, body[0])
	}

	return body[1:], nil
}
