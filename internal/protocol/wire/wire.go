// Package wire is the flat payload codec every replicated value uses.
//
// Composite values are written as a fixed sequence of primitive fields.
// Encode and decode order must match field for field; nothing on the wire
// describes the layout.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
)

var (
	ErrShortBuffer   = errors.New("wire: short buffer")
	ErrTrailingBytes = errors.New("wire: trailing bytes")
	ErrInvalidBool   = errors.New("wire: invalid bool")
	ErrTooLong       = errors.New("wire: length prefix exceeds limit")
)

// objectIDLen is the encoded size of one ObjectID: token then sequence.
const objectIDLen = 16 + 8

// MaxSequenceLen bounds length-prefixed strings, byte slices and id arrays.
const MaxSequenceLen = 1 << 20

// Writer appends big-endian primitives to a growing buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Count writes the element count that prefixes a composite sequence.
func (w *Writer) Count(n int) {
	w.U32(uint32(n))
}

func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) U16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) U64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) I32(v int32) {
	w.U32(uint32(v))
}

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

// F32 writes the IEEE-754 bits, so NaN payloads survive unchanged.
func (w *Writer) F32(v float32) {
	w.U32(math.Float32bits(v))
}

func (w *Writer) String(v string) {
	w.U32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *Writer) Token(t ident.HostToken) {
	w.buf = append(w.buf, t[:]...)
}

func (w *Writer) ObjectID(id ident.ObjectID) {
	w.Token(id.Owner)
	w.U64(id.Seq)
}

func (w *Writer) ObjectIDs(ids []ident.ObjectID) {
	w.U32(uint32(len(ids)))
	for _, id := range ids {
		w.ObjectID(id)
	}
}

func (w *Writer) Address(a ident.PeerAddress) {
	w.String(string(a))
}

// Reader consumes primitives written by Writer. The first failure sticks;
// later reads return zero values and Err reports the original cause.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error {
	return r.err
}

// Done reports the sticky error, or ErrTrailingBytes if input remains.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, len(r.buf)-r.off)
	}
	return nil
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d have %d", ErrShortBuffer, n, len(r.buf)-r.off)
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) I32() int32 {
	return int32(r.U32())
}

func (r *Reader) Bool() bool {
	switch r.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = ErrInvalidBool
		}
		return false
	}
}

func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

// Count reads a prefix written by Writer.Count.
func (r *Reader) Count() int {
	return r.length()
}

func (r *Reader) length() int {
	n := r.U32()
	if r.err == nil && n > MaxSequenceLen {
		r.err = fmt.Errorf("%w: %d", ErrTooLong, n)
		return 0
	}
	return int(n)
}

func (r *Reader) String() string {
	n := r.length()
	return string(r.take(n))
}

func (r *Reader) Token() ident.HostToken {
	var t ident.HostToken
	copy(t[:], r.take(len(t)))
	return t
}

func (r *Reader) ObjectID() ident.ObjectID {
	owner := r.Token()
	seq := r.U64()
	return ident.ObjectID{Owner: owner, Seq: seq}
}

// ObjectIDs reads a list written by Writer.ObjectIDs. An empty list decodes
// as nil; nil and empty slices share one encoding.
func (r *Reader) ObjectIDs() []ident.ObjectID {
	n := r.length()
	if r.err != nil || n == 0 {
		return nil
	}
	// Size from the bytes actually present, not the untrusted count.
	out := make([]ident.ObjectID, 0, min(n, r.Remaining()/objectIDLen))
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.ObjectID())
	}
	if r.err != nil {
		return nil
	}
	return out
}

func (r *Reader) Address() ident.PeerAddress {
	return ident.PeerAddress(r.String())
}
