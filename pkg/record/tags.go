// Package record implements the typed application-record writer and reader
// carried inside m2mlink DATA frames (SPEC_FULL.md §4.2). Every field begins
// with a one-byte tag; scalar tags occupy 0x00-0x0F, array tags are the
// scalar tag OR'd with 0x80 followed by a one-byte element count. Multi-byte
// scalar payloads are little-endian, matching the source library's
// memcpy-of-native-order behaviour on a little-endian MCU.
package record

import "fmt"

// Tag identifies the wire type of one record field.
type Tag byte

const (
	TagBool    Tag = 0x00 // also doubles as "false"
	TagTrue    Tag = 0x01 // BOOL true; never combined with the array bit
	TagUint8   Tag = 0x02
	TagUint16  Tag = 0x03
	TagUint32  Tag = 0x04
	TagUint64  Tag = 0x05
	TagInt8    Tag = 0x06
	TagInt16   Tag = 0x07
	TagInt32   Tag = 0x08
	TagInt64   Tag = 0x09
	TagFloat32 Tag = 0x0A
	TagFloat64 Tag = 0x0B
	TagChar    Tag = 0x0C
	TagString  Tag = 0x0D
	// 0x0E is reserved: the source library distinguishes a null-terminated
	// C string from an Arduino String object; both collapse to Go's string
	// and TagString here.
	TagBlob Tag = 0x0F

	arrayBit = 0x80
)

// Unavailable is returned by readers in place of a tag when no data is left.
const Unavailable Tag = 0xFF

func (t Tag) String() string {
	switch t &^ arrayBit {
	case TagBool, TagTrue:
		if t == TagTrue {
			return "BOOL(true)"
		}
		return "BOOL(false)"
	case TagUint8:
		return arrayed(t, "UINT8")
	case TagUint16:
		return arrayed(t, "UINT16")
	case TagUint32:
		return arrayed(t, "UINT32")
	case TagUint64:
		return arrayed(t, "UINT64")
	case TagInt8:
		return arrayed(t, "INT8")
	case TagInt16:
		return arrayed(t, "INT16")
	case TagInt32:
		return arrayed(t, "INT32")
	case TagInt64:
		return arrayed(t, "INT64")
	case TagFloat32:
		return arrayed(t, "FLOAT32")
	case TagFloat64:
		return arrayed(t, "FLOAT64")
	case TagChar:
		return arrayed(t, "CHAR")
	case TagString:
		return "STRING"
	case TagBlob:
		return "BLOB"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

func arrayed(t Tag, name string) string {
	if t&arrayBit != 0 {
		return name + "[]"
	}
	return name
}

// IsArray reports whether the wire tag carries the array bit.
func (t Tag) IsArray() bool { return t&arrayBit != 0 }

// Scalar strips the array bit, yielding the element type tag.
func (t Tag) Scalar() Tag { return t &^ arrayBit }

// scalarSize returns the encoded width of one element of the given scalar
// tag, or 0 for variable-length tags (string, blob, bool).
func scalarSize(t Tag) int {
	switch t {
	case TagUint8, TagInt8, TagChar:
		return 1
	case TagUint16, TagInt16:
		return 2
	case TagUint32, TagInt32, TagFloat32:
		return 4
	case TagUint64, TagInt64, TagFloat64:
		return 8
	default:
		return 0
	}
}
