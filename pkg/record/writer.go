package record

import (
	"encoding/binary"
	"math"

	"github.com/librescoot/m2mlink/pkg/frame"
	"github.com/librescoot/m2mlink/pkg/linkerr"
)

// maxBody is the largest a record stream may grow to before the frame
// header (type + field count) and trailing CRC32 are added.
const maxBody = frame.MaxFrame - frame.CRCLen - frame.PacketOverhead

// Writer accumulates typed fields for one outbound DATA frame.
type Writer struct {
	buf        []byte
	fieldCount byte
}

// NewWriter returns an empty field writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, maxBody)}
}

// Reset clears the writer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.fieldCount = 0
}

// FieldCount returns the number of fields written so far.
func (w *Writer) FieldCount() byte { return w.fieldCount }

// Bytes returns the encoded record stream, not including the frame's type
// byte or field-count byte.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) add(tagOverhead int, tagByte byte, payload []byte) error {
	if w.fieldCount == 0xFF {
		return linkerr.ErrBufferFull
	}
	if len(w.buf)+tagOverhead+len(payload) > maxBody {
		return linkerr.ErrBufferFull
	}
	w.buf = append(w.buf, tagByte)
	if tagOverhead == 2 {
		n := len(payload)
		if Tag(tagByte).IsArray() {
			n /= scalarSize(Tag(tagByte).Scalar())
		}
		w.buf = append(w.buf, byte(n))
	}
	w.buf = append(w.buf, payload...)
	w.fieldCount++
	return nil
}

// AddBool appends a boolean field. Booleans need no payload byte: the tag
// itself is TagBool (false) or TagTrue (true).
func (w *Writer) AddBool(v bool) error {
	tag := byte(TagBool)
	if v {
		tag = byte(TagTrue)
	}
	return w.add(1, tag, nil)
}

func (w *Writer) AddUint8(v uint8) error { return w.add(1, byte(TagUint8), []byte{v}) }
func (w *Writer) AddInt8(v int8) error   { return w.add(1, byte(TagInt8), []byte{byte(v)}) }
func (w *Writer) AddChar(v byte) error   { return w.add(1, byte(TagChar), []byte{v}) }

func (w *Writer) AddUint16(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return w.add(1, byte(TagUint16), b[:])
}

func (w *Writer) AddInt16(v int16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	return w.add(1, byte(TagInt16), b[:])
}

func (w *Writer) AddUint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return w.add(1, byte(TagUint32), b[:])
}

func (w *Writer) AddInt32(v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return w.add(1, byte(TagInt32), b[:])
}

func (w *Writer) AddUint64(v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return w.add(1, byte(TagUint64), b[:])
}

func (w *Writer) AddInt64(v int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return w.add(1, byte(TagInt64), b[:])
}

func (w *Writer) AddFloat32(v float32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return w.add(1, byte(TagFloat32), b[:])
}

func (w *Writer) AddFloat64(v float64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return w.add(1, byte(TagFloat64), b[:])
}

// AddString appends a byte-counted string field (no NUL terminator).
func (w *Writer) AddString(s string) error {
	if len(s) > 0xFF {
		return linkerr.ErrBufferFull
	}
	return w.add(2, byte(TagString), []byte(s))
}

// AddBlob appends an opaque, caller-length-prefixed byte blob.
func (w *Writer) AddBlob(b []byte) error {
	if len(b) > 0xFF {
		return linkerr.ErrBufferFull
	}
	return w.add(2, byte(TagBlob), b)
}

// AddUint8Array appends a fixed-width array field.
func (w *Writer) AddUint8Array(vs []uint8) error {
	return w.add(2, byte(TagUint8)|arrayBit, vs)
}

func (w *Writer) AddInt8Array(vs []int8) error {
	buf := make([]byte, len(vs))
	for i, v := range vs {
		buf[i] = byte(v)
	}
	return w.add(2, byte(TagInt8)|arrayBit, buf)
}

func (w *Writer) AddUint16Array(vs []uint16) error {
	buf := make([]byte, len(vs)*2)
	for i, v := range vs {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return w.add(2, byte(TagUint16)|arrayBit, buf)
}

func (w *Writer) AddInt16Array(vs []int16) error {
	buf := make([]byte, len(vs)*2)
	for i, v := range vs {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return w.add(2, byte(TagInt16)|arrayBit, buf)
}

func (w *Writer) AddUint32Array(vs []uint32) error {
	buf := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return w.add(2, byte(TagUint32)|arrayBit, buf)
}

func (w *Writer) AddInt32Array(vs []int32) error {
	buf := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return w.add(2, byte(TagInt32)|arrayBit, buf)
}

func (w *Writer) AddUint64Array(vs []uint64) error {
	buf := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return w.add(2, byte(TagUint64)|arrayBit, buf)
}

func (w *Writer) AddInt64Array(vs []int64) error {
	buf := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return w.add(2, byte(TagInt64)|arrayBit, buf)
}

func (w *Writer) AddFloat32Array(vs []float32) error {
	buf := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return w.add(2, byte(TagFloat32)|arrayBit, buf)
}

func (w *Writer) AddFloat64Array(vs []float64) error {
	buf := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return w.add(2, byte(TagFloat64)|arrayBit, buf)
}
