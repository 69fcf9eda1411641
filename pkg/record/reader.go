package record

import (
	"encoding/binary"
	"math"

	"github.com/librescoot/m2mlink/pkg/linkerr"
)

// Reader walks the field stream of one inbound DATA frame.
type Reader struct {
	buf   []byte
	pos   int
	count int
}

// NewReader wraps the record stream of an inbound DATA frame (the bytes
// after the frame's type and field-count bytes) together with that field
// count.
func NewReader(fieldCount byte, records []byte) *Reader {
	return &Reader{buf: records, count: int(fieldCount)}
}

// DataAvailable returns the number of fields not yet retrieved.
func (r *Reader) DataAvailable() int { return r.count }

// NextTag returns the masked (array bit stripped) tag of the next field, or
// Unavailable if none remain.
func (r *Reader) NextTag() Tag {
	if r.count == 0 || r.pos >= len(r.buf) {
		return Unavailable
	}
	return Tag(r.buf[r.pos]).Scalar()
}

// NextLength returns the element count of the next field if it is an array
// or string/blob, or 1 for a plain scalar.
func (r *Reader) NextLength() int {
	if r.count == 0 || r.pos >= len(r.buf) {
		return 0
	}
	wire := Tag(r.buf[r.pos])
	if wire.IsArray() || wire.Scalar() == TagString || wire.Scalar() == TagBlob {
		if r.pos+1 >= len(r.buf) {
			return 0
		}
		return int(r.buf[r.pos+1])
	}
	return 1
}

// Skip discards the next field without returning its value.
func (r *Reader) Skip() error {
	if r.count == 0 {
		return linkerr.ErrBufferFull
	}
	wire := Tag(r.buf[r.pos])
	n, err := r.fieldByteLen(wire)
	if err != nil {
		return err
	}
	r.advance(n)
	return nil
}

// fieldByteLen returns the total wire length (tag byte inclusive) of the
// field starting at r.pos.
func (r *Reader) fieldByteLen(wire Tag) (int, error) {
	if wire == TagBool || wire == TagTrue {
		return 1, nil
	}
	if wire.IsArray() {
		if r.pos+1 >= len(r.buf) {
			return 0, linkerr.ErrShortFrame
		}
		n := int(r.buf[r.pos+1])
		elem := scalarSize(wire.Scalar())
		return 2 + n*elem, nil
	}
	switch wire {
	case TagString, TagBlob:
		if r.pos+1 >= len(r.buf) {
			return 0, linkerr.ErrShortFrame
		}
		return 2 + int(r.buf[r.pos+1]), nil
	default:
		sz := scalarSize(wire)
		if sz == 0 {
			return 0, linkerr.ErrUnknownType
		}
		return 1 + sz, nil
	}
}

func (r *Reader) advance(n int) {
	r.pos += n
	r.count--
	if r.count == 0 {
		r.pos = 0
	}
}

func (r *Reader) retrieveScalar(want Tag) ([]byte, error) {
	if r.count == 0 {
		return nil, linkerr.ErrTypeMismatch
	}
	wire := Tag(r.buf[r.pos])
	if wire.Scalar() != want {
		return nil, linkerr.ErrTypeMismatch
	}
	sz := scalarSize(want)
	if r.pos+1+sz > len(r.buf) {
		return nil, linkerr.ErrShortFrame
	}
	payload := r.buf[r.pos+1 : r.pos+1+sz]
	r.advance(1 + sz)
	return payload, nil
}

// RetrieveBool reads a boolean field. Both TagBool and TagTrue are accepted.
func (r *Reader) RetrieveBool() (bool, error) {
	if r.count == 0 {
		return false, linkerr.ErrTypeMismatch
	}
	wire := Tag(r.buf[r.pos])
	if wire != TagBool && wire != TagTrue {
		return false, linkerr.ErrTypeMismatch
	}
	v := wire == TagTrue
	r.advance(1)
	return v, nil
}

func (r *Reader) RetrieveUint8() (uint8, error) {
	b, err := r.retrieveScalar(TagUint8)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) RetrieveInt8() (int8, error) {
	b, err := r.retrieveScalar(TagInt8)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *Reader) RetrieveChar() (byte, error) {
	b, err := r.retrieveScalar(TagChar)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) RetrieveUint16() (uint16, error) {
	b, err := r.retrieveScalar(TagUint16)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) RetrieveInt16() (int16, error) {
	b, err := r.retrieveScalar(TagInt16)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (r *Reader) RetrieveUint32() (uint32, error) {
	b, err := r.retrieveScalar(TagUint32)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) RetrieveInt32() (int32, error) {
	b, err := r.retrieveScalar(TagInt32)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) RetrieveUint64() (uint64, error) {
	b, err := r.retrieveScalar(TagUint64)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) RetrieveInt64() (int64, error) {
	b, err := r.retrieveScalar(TagInt64)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *Reader) RetrieveFloat32() (float32, error) {
	b, err := r.retrieveScalar(TagFloat32)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) RetrieveFloat64() (float64, error) {
	b, err := r.retrieveScalar(TagFloat64)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// RetrieveString reads a byte-counted string field.
func (r *Reader) RetrieveString() (string, error) {
	if r.count == 0 || Tag(r.buf[r.pos]).Scalar() != TagString {
		return "", linkerr.ErrTypeMismatch
	}
	if r.pos+1 >= len(r.buf) {
		return "", linkerr.ErrShortFrame
	}
	n := int(r.buf[r.pos+1])
	if r.pos+2+n > len(r.buf) {
		return "", linkerr.ErrShortFrame
	}
	s := string(r.buf[r.pos+2 : r.pos+2+n])
	r.advance(2 + n)
	return s, nil
}

// RetrieveBlob reads an opaque length-prefixed byte field.
func (r *Reader) RetrieveBlob() ([]byte, error) {
	if r.count == 0 || Tag(r.buf[r.pos]).Scalar() != TagBlob {
		return nil, linkerr.ErrTypeMismatch
	}
	if r.pos+1 >= len(r.buf) {
		return nil, linkerr.ErrShortFrame
	}
	n := int(r.buf[r.pos+1])
	if r.pos+2+n > len(r.buf) {
		return nil, linkerr.ErrShortFrame
	}
	b := append([]byte(nil), r.buf[r.pos+2:r.pos+2+n]...)
	r.advance(2 + n)
	return b, nil
}

func (r *Reader) retrieveArray(want Tag) ([]byte, int, error) {
	if r.count == 0 {
		return nil, 0, linkerr.ErrTypeMismatch
	}
	wire := Tag(r.buf[r.pos])
	if !wire.IsArray() || wire.Scalar() != want {
		return nil, 0, linkerr.ErrTypeMismatch
	}
	if r.pos+1 >= len(r.buf) {
		return nil, 0, linkerr.ErrShortFrame
	}
	n := int(r.buf[r.pos+1])
	elem := scalarSize(want)
	if r.pos+2+n*elem > len(r.buf) {
		return nil, 0, linkerr.ErrShortFrame
	}
	payload := r.buf[r.pos+2 : r.pos+2+n*elem]
	r.advance(2 + n*elem)
	return payload, n, nil
}

func (r *Reader) RetrieveUint8Array() ([]uint8, error) {
	b, n, err := r.retrieveArray(TagUint8)
	if err != nil {
		return nil, err
	}
	out := make([]uint8, n)
	copy(out, b)
	return out, nil
}

func (r *Reader) RetrieveInt8Array() ([]int8, error) {
	b, n, err := r.retrieveArray(TagInt8)
	if err != nil {
		return nil, err
	}
	out := make([]int8, n)
	for i := range out {
		out[i] = int8(b[i])
	}
	return out, nil
}

func (r *Reader) RetrieveUint16Array() ([]uint16, error) {
	b, n, err := r.retrieveArray(TagUint16)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return out, nil
}

func (r *Reader) RetrieveInt16Array() ([]int16, error) {
	b, n, err := r.retrieveArray(TagInt16)
	if err != nil {
		return nil, err
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

func (r *Reader) RetrieveUint32Array() ([]uint32, error) {
	b, n, err := r.retrieveArray(TagUint32)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out, nil
}

func (r *Reader) RetrieveInt32Array() ([]int32, error) {
	b, n, err := r.retrieveArray(TagInt32)
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (r *Reader) RetrieveUint64Array() ([]uint64, error) {
	b, n, err := r.retrieveArray(TagUint64)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return out, nil
}

func (r *Reader) RetrieveInt64Array() ([]int64, error) {
	b, n, err := r.retrieveArray(TagInt64)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}

func (r *Reader) RetrieveFloat32Array() ([]float32, error) {
	b, n, err := r.retrieveArray(TagFloat32)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (r *Reader) RetrieveFloat64Array() ([]float64, error) {
	b, n, err := r.retrieveArray(TagFloat64)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}

// Clear discards any remaining unread fields and resets the cursor, per
// SPEC_FULL.md §4.2 ("the whole record discarded on next clear").
func (r *Reader) Clear() {
	r.pos = 0
	r.count = 0
	r.buf = nil
}
