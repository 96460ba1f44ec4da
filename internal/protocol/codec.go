package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// encoder accumulates a message body in memory so the size limit can be
// checked before anything reaches the wire.
type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) i32(v int32) { e.u32(uint32(v)) }

func (e *encoder) u8(v byte) { e.buf.WriteByte(v) }

func (e *encoder) str(s string) {
	if e.err != nil {
		return
	}
	raw, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		e.err = fmt.Errorf("encode string: %w", err)
		return
	}
	e.u32(uint32(len(raw) / 2))
	e.buf.Write(raw)
}

// frame returns the length-prefixed message, or ErrMessageTooLarge.
func (e *encoder) frame() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.buf.Len() > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, e.buf.Len())
	}
	out := make([]byte, 4+e.buf.Len())
	binary.LittleEndian.PutUint32(out, uint32(e.buf.Len()))
	copy(out[4:], e.buf.Bytes())
	return out, nil
}

// decoder reads fields from a fully buffered body. The first failure sticks.
type decoder struct {
	body []byte
	off  int
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.body)-d.off < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, d.off, len(d.body)-d.off)
		return nil
	}
	b := d.body[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if uint64(n)*2 > uint64(len(d.body)-d.off) {
		d.err = fmt.Errorf("%w: string of %d chars exceeds remaining body", ErrMalformed, n)
		return ""
	}
	raw := d.take(int(n) * 2)
	if d.err != nil {
		return ""
	}
	s, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		d.err = fmt.Errorf("%w: %w", ErrMalformed, err)
		return ""
	}
	return string(s)
}

// readFrame reads the u32 length prefix and, when it is within bounds, the body.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrMessageTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
