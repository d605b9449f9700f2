package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jmylchreest/archsense/internal/model"
)

// Frame limits.
const (
	HeaderSize = 4
	MaxPayload = 64 << 10
)

// ErrIncomplete is returned by the Decode functions when buf does not yet
// hold a complete frame.
var ErrIncomplete = errors.New("incomplete frame")

// SplitFrame returns the payload of the first frame in buf and the number of
// bytes the frame occupies. An oversized length prefix is a protocol
// violation; n then covers only the header since the stream cannot be
// resynchronized.
func SplitFrame(buf []byte) (payload []byte, n int, err error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrIncomplete
	}
	size := binary.BigEndian.Uint32(buf[:HeaderSize])
	if size > MaxPayload {
		return nil, HeaderSize, oversize(size)
	}
	end := HeaderSize + int(size)
	if len(buf) < end {
		return nil, 0, ErrIncomplete
	}
	return buf[HeaderSize:end], end, nil
}

// AppendFrame appends payload as a frame to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, oversize(uint32(len(payload)))
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// ReadFrame reads one frame from r and returns its payload. It returns
// io.EOF only when r ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxPayload {
		return nil, oversize(size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload to w as a single frame.
func WriteFrame(w io.Writer, payload []byte) error {
	buf, err := AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func oversize(size uint32) *DecodeError {
	return &DecodeError{
		Kind:    model.KindProtocolViolation,
		Message: fmt.Sprintf("frame of %d bytes exceeds limit of %d", size, MaxPayload),
	}
}
