package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Reader reads the fixed-width big-endian primitives every payload is made
// of. A string is a 2-byte unsigned length followed by that many raw bytes.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, ErrTruncatedPayload
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUint8()
	return b != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Writer is the encoding counterpart of Reader. The first failure is kept
// and every later write is a no-op; check Err once at the end.
type Writer struct {
	buf bytes.Buffer
	err error
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
		return
	}
	w.WriteUint8(0)
}

func (w *Writer) WriteUint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf.Write(binary.BigEndian.AppendUint16(nil, v))
}

func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf.Write(binary.BigEndian.AppendUint32(nil, v))
}

func (w *Writer) WriteUint64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf.Write(binary.BigEndian.AppendUint64(nil, v))
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteString(s string) {
	if w.err != nil {
		return
	}
	if len(s) > math.MaxUint16 {
		w.err = ErrStringTooLong
		return
	}
	w.WriteUint16(uint16(len(s)))
	w.buf.WriteString(s)
}

// WriteCount writes a 2-byte entry count.
func (w *Writer) WriteCount(n int) {
	if w.err != nil {
		return
	}
	if n < 0 || n > math.MaxUint16 {
		w.err = ErrTooManyEntries
		return
	}
	w.WriteUint16(uint16(n))
}

// Fail records err unless an earlier failure is already recorded.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}
