package hlc

import (
	"encoding/binary"
	"fmt"
)

// EncodedLen is the fixed wire length of a Timestamp: 8 bytes wall-ms, 4
// bytes counter, 4 bytes node id, all big-endian.
const EncodedLen = 16

// Encode appends the fixed-width big-endian encoding of t to buf and
// returns the extended slice.
func Encode(buf []byte, t Timestamp) []byte {
	var b [EncodedLen]byte
	binary.BigEndian.PutUint64(b[0:8], t.WallMS)
	binary.BigEndian.PutUint32(b[8:12], t.Counter)
	binary.BigEndian.PutUint32(b[12:16], t.NodeID)
	return append(buf, b[:]...)
}

// Decode reads a fixed-width Timestamp from the front of buf, returning
// the decoded Timestamp and the remaining bytes.
func Decode(buf []byte) (Timestamp, []byte, error) {
	if len(buf) < EncodedLen {
		return Timestamp{}, nil, fmt.Errorf("hlc: short buffer decoding timestamp: have %d want %d", len(buf), EncodedLen)
	}
	t := Timestamp{
		WallMS:  binary.BigEndian.Uint64(buf[0:8]),
		Counter: binary.BigEndian.Uint32(buf[8:12]),
		NodeID:  binary.BigEndian.Uint32(buf[12:16]),
	}
	return t, buf[EncodedLen:], nil
}
