package bacnet

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Application tag numbers.
const (
	TAG_NULL              byte = 0
	TAG_BOOLEAN           byte = 1
	TAG_UNSIGNED_INT      byte = 2
	TAG_SIGNED_INT        byte = 3
	TAG_REAL              byte = 4
	TAG_DOUBLE            byte = 5
	TAG_OCTET_STRING      byte = 6
	TAG_CHARACTER_STRING  byte = 7
	TAG_BIT_STRING        byte = 8
	TAG_ENUMERATED        byte = 9
	TAG_DATE              byte = 10
	TAG_TIME              byte = 11
	TAG_OBJECT_IDENTIFIER byte = 12
)

const (
	tagClassContext byte = 0x08
	tagOpening      byte = 0x06
	tagClosing      byte = 0x07
	tagExtendedLen  byte = 0x05
)

// encodeTag writes a tag header. Lengths above 4 use the extended length octets.
func encodeTag(buf *bytes.Buffer, number byte, context bool, length uint32) {
	first := byte(0)
	if context {
		first |= tagClassContext
	}
	extendedNumber := number >= 15
	if extendedNumber {
		first |= 0xF0
	} else {
		first |= number << 4
	}

	if length < 5 {
		buf.WriteByte(first | byte(length))
		if extendedNumber {
			buf.WriteByte(number)
		}
		return
	}

	buf.WriteByte(first | tagExtendedLen)
	if extendedNumber {
		buf.WriteByte(number)
	}
	switch {
	case length <= 253:
		buf.WriteByte(byte(length))
	case length <= 0xFFFF:
		buf.WriteByte(254)
		_ = binary.Write(buf, binary.BigEndian, uint16(length))
	default:
		buf.WriteByte(255)
		_ = binary.Write(buf, binary.BigEndian, length)
	}
}

func encodeOpeningTag(buf *bytes.Buffer, number byte) {
	if number >= 15 {
		buf.WriteByte(0xF0 | tagClassContext | tagOpening)
		buf.WriteByte(number)
		return
	}
	buf.WriteByte(number<<4 | tagClassContext | tagOpening)
}

func encodeClosingTag(buf *bytes.Buffer, number byte) {
	if number >= 15 {
		buf.WriteByte(0xF0 | tagClassContext | tagClosing)
		buf.WriteByte(number)
		return
	}
	buf.WriteByte(number<<4 | tagClassContext | tagClosing)
}

// unsignedBytes returns v in the fewest big-endian octets, at least one.
func unsignedBytes(v uint32) []byte {
	switch {
	case v <= 0xFF:
		return []byte{byte(v)}
	case v <= 0xFFFF:
		return []byte{byte(v >> 8), byte(v)}
	case v <= 0xFFFFFF:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

func signedBytes(v int32) []byte {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return []byte{byte(v)}
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return []byte{byte(v >> 8), byte(v)}
	case v >= -(1<<23) && v < 1<<23:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

func encodeApplicationUnsigned(buf *bytes.Buffer, v uint32) {
	b := unsignedBytes(v)
	encodeTag(buf, TAG_UNSIGNED_INT, false, uint32(len(b)))
	buf.Write(b)
}

func encodeApplicationEnumerated(buf *bytes.Buffer, v uint32) {
	b := unsignedBytes(v)
	encodeTag(buf, TAG_ENUMERATED, false, uint32(len(b)))
	buf.Write(b)
}

func encodeApplicationObjectID(buf *bytes.Buffer, o BACnetObject) {
	encodeTag(buf, TAG_OBJECT_IDENTIFIER, false, 4)
	_ = binary.Write(buf, binary.BigEndian, o.encode())
}

func encodeContextUnsigned(buf *bytes.Buffer, number byte, v uint32) {
	b := unsignedBytes(v)
	encodeTag(buf, number, true, uint32(len(b)))
	buf.Write(b)
}

func encodeContextEnumerated(buf *bytes.Buffer, number byte, v uint32) {
	encodeContextUnsigned(buf, number, v)
}

func encodeContextObjectID(buf *bytes.Buffer, number byte, o BACnetObject) {
	encodeTag(buf, number, true, 4)
	_ = binary.Write(buf, binary.BigEndian, o.encode())
}

// Context booleans carry the value in a one-octet body, unlike application booleans.
func encodeContextBoolean(buf *bytes.Buffer, number byte, v bool) {
	encodeTag(buf, number, true, 1)
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func encodeContextReal(buf *bytes.Buffer, number byte, v float32) {
	encodeTag(buf, number, true, 4)
	_ = binary.Write(buf, binary.BigEndian, math.Float32bits(v))
}

// encodeApplicationValue encodes the Go value types decodeApplicationValue produces.
func encodeApplicationValue(buf *bytes.Buffer, value interface{}) bool {
	switch v := value.(type) {
	case nil:
		encodeTag(buf, TAG_NULL, false, 0)
	case bool:
		if v {
			encodeTag(buf, TAG_BOOLEAN, false, 1)
		} else {
			encodeTag(buf, TAG_BOOLEAN, false, 0)
		}
	case uint32:
		encodeApplicationUnsigned(buf, v)
	case int32:
		b := signedBytes(v)
		encodeTag(buf, TAG_SIGNED_INT, false, uint32(len(b)))
		buf.Write(b)
	case float32:
		encodeTag(buf, TAG_REAL, false, 4)
		_ = binary.Write(buf, binary.BigEndian, math.Float32bits(v))
	case float64:
		encodeTag(buf, TAG_DOUBLE, false, 8)
		_ = binary.Write(buf, binary.BigEndian, math.Float64bits(v))
	case string:
		encodeTag(buf, TAG_CHARACTER_STRING, false, uint32(len(v)+1))
		buf.WriteByte(0) // UTF-8
		buf.WriteString(v)
	case StatusFlags:
		encodeTag(buf, TAG_BIT_STRING, false, 2)
		buf.WriteByte(4)
		buf.WriteByte(v.bits())
	case Enumerated:
		encodeApplicationEnumerated(buf, uint32(v))
	case BACnetObject:
		encodeApplicationObjectID(buf, v)
	default:
		return false
	}
	return true
}

// encodeFrame wraps an APDU in a BVLC header and a local NPDU.
func encodeFrame(function byte, expectingReply bool, apdu []byte) []byte {
	control := NPDU_CONTROL_NORMAL_MESSAGE
	if expectingReply {
		control |= NPDU_CONTROL_EXPECTING_REPLY
	}

	var buffer bytes.Buffer
	bvlc := BVLCHeader{
		Type:     BVLC_TYPE_BACNET_IP,
		Function: function,
		Length:   uint16(4 + 2 + len(apdu)),
	}
	_ = binary.Write(&buffer, binary.BigEndian, bvlc)
	_ = binary.Write(&buffer, binary.BigEndian, NPDU{Version: 0x01, Control: control})
	buffer.Write(apdu)
	return buffer.Bytes()
}
