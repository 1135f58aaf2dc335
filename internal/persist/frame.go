package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame is the opaque binary layout of a persisted transmission: three
// length-prefixed fields (content type, content encoding, content).
type Frame struct {
	Content         []byte
	ContentType     string
	ContentEncoding string
}

// maxFieldLen guards decoding against corrupt or truncated files.
const maxFieldLen = 64 << 20

var errFrameCorrupt = errors.New("persist: corrupt frame")

// EncodeFrame serializes a frame with 4-byte big-endian length prefixes.
func EncodeFrame(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	for _, field := range [][]byte{[]byte(f.ContentType), []byte(f.ContentEncoding), f.Content} {
		if len(field) > maxFieldLen {
			return nil, fmt.Errorf("persist: frame field too large (%d bytes)", len(field))
		}
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(field)))
		buf.Write(prefix[:])
		buf.Write(field)
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses a frame produced by EncodeFrame.
func DecodeFrame(data []byte) (Frame, error) {
	fields := make([][]byte, 0, 3)
	rest := data
	for i := 0; i < 3; i++ {
		if len(rest) < 4 {
			return Frame{}, errFrameCorrupt
		}
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if n > maxFieldLen || uint32(len(rest)) < n {
			return Frame{}, errFrameCorrupt
		}
		field := make([]byte, n)
		copy(field, rest[:n])
		fields = append(fields, field)
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return Frame{}, errFrameCorrupt
	}
	return Frame{
		ContentType:     string(fields[0]),
		ContentEncoding: string(fields[1]),
		Content:         fields[2],
	}, nil
}
