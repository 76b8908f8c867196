package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxRequestSize is the buffer size of the single read that receives a command.
	MaxRequestSize = 8192

	// MaxFrameSize bounds the payload a reader will allocate for one frame.
	MaxFrameSize = 64 * 1024 * 1024

	frameHeaderLength = 8
)

var (
	// ErrConnectionClosed is returned when the peer closes the connection before a read completes.
	// Readers treat it as the graceful end of a session.
	ErrConnectionClosed = errors.New("connection closed")

	ErrFrameTooLarge = errors.New("frame too large")
)

// WriteFrame writes the 8-byte big-endian length of payload followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [frameHeaderLength]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))
	if err := writeFull(w, header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if err := writeFull(w, payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// writeFull retries short writes until b is written or w errors.
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		b = b[n:]
		if err != nil && !(errors.Is(err, io.ErrShortWrite) && n > 0) {
			return err
		}
		if n == 0 && err == nil {
			return io.ErrShortWrite
		}
	}
	return nil
}

// ReadFrame blocks until one complete frame is read from r and returns its payload.
// A peer close before the header or payload is complete returns an error wrapping ErrConnectionClosed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, readErr("read frame header", err)
	}
	length := binary.BigEndian.Uint64(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload length %d exceeds maximum %d", ErrFrameTooLarge, length, MaxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, readErr("read frame payload", err)
	}
	return payload, nil
}

// ReadRaw does a single best-effort read of up to max bytes.
// It is used only for the unframed command sent by the client.
func ReadRaw(r io.Reader, max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, ErrConnectionClosed
	}
	return nil, fmt.Errorf("read request: %w", err)
}

// ReadResponse reads one frame from r and decodes it.
func ReadResponse(r io.Reader) (Response, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(payload)
}

func readErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", what, ErrConnectionClosed)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// FrameWriter writes whole frames to an underlying writer. Frames written by
// concurrent callers are never interleaved.
type FrameWriter struct {
	m sync.Mutex
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (f *FrameWriter) WriteFrame(payload []byte) error {
	f.m.Lock()
	defer f.m.Unlock()
	return WriteFrame(f.w, payload)
}

// WriteResponse encodes resp and writes it as one frame.
func (f *FrameWriter) WriteResponse(resp Response) error {
	b, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return f.WriteFrame(b)
}
