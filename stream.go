package patmux

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// FrameReader splits a byte stream into frames using the length-prefixed
// framing contract. It blocks until a full frame is buffered, so partial
// reads from the underlying stream never surface as errors.
//
// A payload that fails to deserialize is fatal for that single frame only:
// Read returns the error with the stream positioned at the next frame, and
// the caller may keep reading.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps a stream for frame-at-a-time reading.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Read returns the next frame from the stream. io.EOF (or
// io.ErrUnexpectedEOF mid-frame) signals the end of the stream.
func (fr *FrameReader) Read() (*Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(fr.r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &f, nil
}

// FrameWriter writes length-prefixed frames to a stream. It is safe for
// concurrent use: each frame is written atomically under a mutex, so
// concurrent responders on one connection cannot interleave bytes.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter wraps a stream for frame-at-a-time writing.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write encodes and writes one frame.
func (fw *FrameWriter) Write(f *Frame) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(buf)
	return err
}
