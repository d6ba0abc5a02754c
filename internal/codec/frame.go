package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/brennhill/tracebackbone/internal/errs"
)

// FrameType tags a binary frame's payload kind (§6 "Wire encoding").
type FrameType uint32

const (
	FrameTraceEvent FrameType = 1
	FrameHeartbeat  FrameType = 2
	FrameControl    FrameType = 3
)

const frameHeaderSize = 4 + 4 + 4 // type + length + checksum, all LE uint32

// EncodeFrame builds the optional binary wire form: 4-byte LE type tag,
// 4-byte LE payload length, 4-byte LE rolling-sum checksum, then payload
// (§6 "Wire encoding").
func EncodeFrame(typ FrameType, payload []byte) []byte {
	out := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], uint32(typ))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(out[8:12], rollingSum(payload))
	copy(out[frameHeaderSize:], payload)
	return out
}

// DecodeFrame parses a binary frame, rejecting on length or checksum
// mismatch per §6.
func DecodeFrame(data []byte) (FrameType, []byte, error) {
	if len(data) < frameHeaderSize {
		return 0, nil, errs.New(errs.InvalidEvent, "frame too short: %d bytes", len(data))
	}
	typ := FrameType(binary.LittleEndian.Uint32(data[0:4]))
	length := binary.LittleEndian.Uint32(data[4:8])
	checksum := binary.LittleEndian.Uint32(data[8:12])
	payload := data[frameHeaderSize:]
	if uint32(len(payload)) != length {
		return 0, nil, errs.New(errs.InvalidEvent, "frame length mismatch: header %d, got %d", length, len(payload))
	}
	if rollingSum(payload) != checksum {
		return 0, nil, errs.New(errs.InvalidEvent, "frame checksum mismatch")
	}
	return typ, payload, nil
}

// rollingSum is the rolling sum of payload bytes mod 2^32 (§6).
func rollingSum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// String renders the frame type name, used in log fields and error text.
func (t FrameType) String() string {
	switch t {
	case FrameTraceEvent:
		return "trace_event"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameControl:
		return "control"
	default:
		return fmt.Sprintf("frame_type(%d)", uint32(t))
	}
}
