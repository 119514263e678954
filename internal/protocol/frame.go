package protocol

import (
	"bufio"
	"fmt"
	"io"
)

// FrameReader reads ULEB128-length-prefixed frames off a byte stream.
type FrameReader struct {
	br *bufio.Reader
}

// NewFrameReader wraps r for frame-at-a-time reads.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{br: bufio.NewReader(r)}
}

// ReadFrame reads one length-prefixed frame and returns its raw payload.
// A length prefix over MaxFrameLength is a fatal protocol error; EOF
// occurring mid-length or mid-payload is returned as io.ErrUnexpectedEOF via
// io.ReadFull's semantics (a clean EOF before any bytes are read surfaces as
// io.EOF so callers can distinguish a graceful close from a torn frame).
func (f *FrameReader) ReadFrame() ([]byte, error) {
	length, err := readULEB128(f.br)
	if err != nil {
		return nil, err
	}
	if err := checkFrameLength(length); err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(f.br, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("protocol: read frame payload: %w", err)
	}
	return payload, nil
}

// ReadByte exposes the single leading version byte read at connection start,
// before any framing applies.
func (f *FrameReader) ReadByte() (byte, error) {
	return f.br.ReadByte()
}

// readULEB128 mirrors Reader.ReadULEB128 but works directly off a
// *bufio.Reader so FrameReader need not allocate a Reader per frame.
func readULEB128(br *bufio.Reader) (uint32, error) {
	var result uint64
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if result > 0xffffffff {
				return 0, ErrVarintTooWide
			}
			return uint32(result), nil
		}
		shift += 7
	}
	return 0, ErrVarintTooWide
}

// FrameWriter writes ULEB128-length-prefixed frames to a byte stream,
// flushing after every frame so writes are visible to the peer promptly.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w for frame-at-a-time writes.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one length-prefixed frame as two writes (length prefix,
// then payload). FrameWriter takes no lock, so concurrent WriteFrame calls on
// the same FrameWriter can interleave; callers must serialize writes
// themselves (see session.Pipeline's single sender goroutine).
func (f *FrameWriter) WriteFrame(payload []byte) error {
	lenBuf := NewWriter()
	lenBuf.WriteULEB128(uint32(len(payload)))
	if _, err := f.w.Write(lenBuf.Bytes()); err != nil {
		return fmt.Errorf("protocol: write frame length: %w", err)
	}
	if _, err := f.w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write frame payload: %w", err)
	}
	if flusher, ok := f.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}
