package patmux

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MaxFrameSize caps the declared payload length a decoder will accept.
// A prefix above this is treated as a corrupt stream rather than an
// instruction to buffer gigabytes.
const MaxFrameSize = 16 << 20

// frame codec errors.
var (
	// ErrShortFrame is returned when the buffer does not contain the full
	// declared payload. Stream consumers treat it as "wait for more bytes".
	ErrShortFrame = errors.New("short frame")

	// ErrFrameTooLarge is returned when the length prefix exceeds
	// MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")

	// ErrBadPayload wraps payload deserialization failures. It is fatal
	// for the single frame that carried the payload, not for the
	// connection: stream readers stay positioned at the next frame.
	ErrBadPayload = errors.New("malformed frame payload")
)

// Frame is the wire unit every transport exchanges. Requests carry an ID
// used to correlate the response; events carry no ID and receive no
// response. A response frame carries the request's ID plus either Response
// or Error.
type Frame struct {
	ID       string          `json:"id,omitempty"`
	Pattern  string          `json:"pattern,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Meta     json.RawMessage `json:"meta,omitempty"`
	IsEvent  bool            `json:"isEvent,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// NewRequestFrame creates a request frame. The id must be unique within
// the connection's in-flight set.
func NewRequestFrame(id, pattern string, data, meta json.RawMessage) *Frame {
	return &Frame{ID: id, Pattern: pattern, Data: data, Meta: meta}
}

// NewEventFrame creates a fire-and-forget event frame.
func NewEventFrame(pattern string, data, meta json.RawMessage) *Frame {
	return &Frame{Pattern: pattern, Data: data, Meta: meta, IsEvent: true}
}

// NewResponseFrame creates a success response correlated to a request.
func NewResponseFrame(id string, response json.RawMessage) *Frame {
	return &Frame{ID: id, Response: response}
}

// NewErrorFrame creates an error response correlated to a request.
func NewErrorFrame(id string, err error) *Frame {
	return &Frame{ID: id, Error: err.Error()}
}

// Encode serializes the frame and prefixes it with a 4-byte big-endian
// unsigned payload length.
func (f *Frame) Encode() ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf, nil
}

// DecodeFrame reads one length-prefixed frame from the start of b and
// returns it along with the total number of bytes consumed.
//
// ErrShortFrame means b does not yet hold the full frame; the caller
// should read more bytes and retry. Any other error is fatal for this
// frame only, not for the connection.
func DecodeFrame(b []byte) (*Frame, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrShortFrame
	}
	n := binary.BigEndian.Uint32(b[:4])
	if n > MaxFrameSize {
		return nil, 0, ErrFrameTooLarge
	}
	total := 4 + int(n)
	if len(b) < total {
		return nil, 0, ErrShortFrame
	}
	var f Frame
	if err := json.Unmarshal(b[4:total], &f); err != nil {
		return nil, total, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &f, total, nil
}

// PeekPattern extracts the pattern from an encoded frame without a full
// decode. Broker-style transports use this to pick a subject before
// handing the frame to the dispatch engine.
func PeekPattern(encoded []byte) (string, bool) {
	return peekString(encoded, "pattern")
}

// PeekID extracts the correlation ID from an encoded frame without a full
// decode.
func PeekID(encoded []byte) (string, bool) {
	return peekString(encoded, "id")
}

func peekString(encoded []byte, path string) (string, bool) {
	if len(encoded) < 4 {
		return "", false
	}
	r := gjson.GetBytes(encoded[4:], path)
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.String(), true
}

// StampMeta sets a metadata field on an already encoded frame, returning a
// re-encoded frame. Transports use this to inject correlation or trace
// metadata on relay without decoding the whole payload.
func StampMeta(encoded []byte, path string, value any) ([]byte, error) {
	if len(encoded) < 4 {
		return nil, ErrShortFrame
	}
	payload, err := sjson.SetBytes(encoded[4:], "meta."+path, value)
	if err != nil {
		return nil, fmt.Errorf("stamp meta %q: %w", path, err)
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf, nil
}
