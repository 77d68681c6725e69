package persist

import (
	"encoding/binary"
	"hash/crc32"
)

// Outbox entry value: version(1) | enqueuedAtMs(8, BE) | payload | crc32c(all preceding bytes)

const (
	frameVersion    = 1
	frameHeaderSize = 1 + 8
	frameCRCSize    = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeEntry frames a message payload with its enqueue time.
func encodeEntry(enqueuedAtMs int64, payload []byte) []byte {
	out := make([]byte, frameHeaderSize, frameHeaderSize+len(payload)+frameCRCSize)
	out[0] = frameVersion
	binary.BigEndian.PutUint64(out[1:frameHeaderSize], uint64(enqueuedAtMs))
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
}

// decodeEntry validates v and returns the enqueue time and a copy of the
// payload. ok is false for unknown versions, short values and CRC mismatches.
func decodeEntry(v []byte) (enqueuedAtMs int64, payload []byte, ok bool) {
	if len(v) < frameHeaderSize+frameCRCSize || v[0] != frameVersion {
		return 0, nil, false
	}
	body := v[:len(v)-frameCRCSize]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(v[len(body):]) {
		return 0, nil, false
	}
	enqueuedAtMs = int64(binary.BigEndian.Uint64(v[1:frameHeaderSize]))
	return enqueuedAtMs, append([]byte(nil), body[frameHeaderSize:]...), true
}
