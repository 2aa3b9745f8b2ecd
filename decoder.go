package bacnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Enumerated is an application-tagged ENUMERATED value.
type Enumerated uint32

// Date is a BACnet date. 0xFF fields are unspecified.
type Date struct {
	Year    int // 0 when unspecified
	Month   byte
	Day     byte
	Weekday byte
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time is a BACnet time of day.
type Time struct {
	Hour       byte
	Minute     byte
	Second     byte
	Hundredths byte
}

func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d:%02d.%02d", t.Hour, t.Minute, t.Second, t.Hundredths)
}

// tag is a decoded tag header.
type tag struct {
	Number  byte
	Context bool
	Opening bool
	Closing bool
	// Length is the body length, or the value of an application boolean.
	Length uint32
}

func (t tag) isOpening(number byte) bool { return t.Context && t.Opening && t.Number == number }
func (t tag) isClosing(number byte) bool { return t.Context && t.Closing && t.Number == number }
func (t tag) isContext(number byte) bool {
	return t.Context && !t.Opening && !t.Closing && t.Number == number
}

func readTag(r *bytes.Reader) (tag, error) {
	first, err := r.ReadByte()
	if err != nil {
		return tag{}, fmt.Errorf("failed to read tag: %w", ErrMalformed)
	}

	t := tag{
		Number:  first >> 4,
		Context: first&tagClassContext != 0,
	}
	if t.Number == 0x0F {
		n, err := r.ReadByte()
		if err != nil {
			return tag{}, fmt.Errorf("failed to read extended tag number: %w", ErrMalformed)
		}
		t.Number = n
	}

	lvt := first & 0x07
	switch {
	case t.Context && lvt == tagOpening:
		t.Opening = true
		return t, nil
	case t.Context && lvt == tagClosing:
		t.Closing = true
		return t, nil
	case lvt == tagExtendedLen:
		ext, err := r.ReadByte()
		if err != nil {
			return tag{}, fmt.Errorf("failed to read extended length: %w", ErrMalformed)
		}
		switch ext {
		case 254:
			var l uint16
			if err := binary.Read(r, binary.BigEndian, &l); err != nil {
				return tag{}, fmt.Errorf("failed to read 16-bit length: %w", ErrMalformed)
			}
			t.Length = uint32(l)
		case 255:
			if err := binary.Read(r, binary.BigEndian, &t.Length); err != nil {
				return tag{}, fmt.Errorf("failed to read 32-bit length: %w", ErrMalformed)
			}
		default:
			t.Length = uint32(ext)
		}
	default:
		t.Length = uint32(lvt)
	}

	// Application booleans have no body.
	if !t.Context && t.Number == TAG_BOOLEAN {
		return t, nil
	}
	if t.Length > uint32(r.Len()) {
		return tag{}, fmt.Errorf("tag %d length %d exceeds remaining %d bytes: %w", t.Number, t.Length, r.Len(), ErrMalformed)
	}
	return t, nil
}

// peekTag decodes the next tag without consuming it.
func peekTag(r *bytes.Reader) (tag, bool) {
	if r.Len() == 0 {
		return tag{}, false
	}
	pos, _ := r.Seek(0, io.SeekCurrent)
	t, err := readTag(r)
	_, _ = r.Seek(pos, io.SeekStart)
	return t, err == nil
}

func readBody(r *bytes.Reader, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read %d byte value: %w", length, ErrMalformed)
	}
	return buf, nil
}

func readUnsigned(r *bytes.Reader, length uint32) (uint32, error) {
	if length == 0 || length > 4 {
		return 0, fmt.Errorf("unsigned length %d: %w", length, ErrMalformed)
	}
	buf, err := readBody(r, length)
	if err != nil {
		return 0, err
	}
	var val uint32
	for _, b := range buf {
		val = (val << 8) | uint32(b)
	}
	return val, nil
}

func readSigned(r *bytes.Reader, length uint32) (int32, error) {
	if length == 0 || length > 4 {
		return 0, fmt.Errorf("signed length %d: %w", length, ErrMalformed)
	}
	buf, err := readBody(r, length)
	if err != nil {
		return 0, err
	}
	val := int32(int8(buf[0]))
	for _, b := range buf[1:] {
		val = (val << 8) | int32(b)
	}
	return val, nil
}

func readObjectID(r *bytes.Reader, length uint32) (BACnetObject, error) {
	if length != 4 {
		return BACnetObject{}, fmt.Errorf("object identifier length %d: %w", length, ErrMalformed)
	}
	var raw uint32
	if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
		return BACnetObject{}, fmt.Errorf("failed to read object identifier: %w", ErrMalformed)
	}
	return decodeObjectIdentifier(raw), nil
}

// expectContextUnsigned reads a context tag with the given number and an unsigned body.
func expectContextUnsigned(r *bytes.Reader, number byte) (uint32, error) {
	t, err := readTag(r)
	if err != nil {
		return 0, err
	}
	if !t.isContext(number) {
		return 0, fmt.Errorf("expected context tag %d, got %+v: %w", number, t, ErrMalformed)
	}
	return readUnsigned(r, t.Length)
}

func expectContextObjectID(r *bytes.Reader, number byte) (BACnetObject, error) {
	t, err := readTag(r)
	if err != nil {
		return BACnetObject{}, err
	}
	if !t.isContext(number) {
		return BACnetObject{}, fmt.Errorf("expected context tag %d, got %+v: %w", number, t, ErrMalformed)
	}
	return readObjectID(r, t.Length)
}

func expectApplicationTag(r *bytes.Reader, number byte) (tag, error) {
	t, err := readTag(r)
	if err != nil {
		return tag{}, err
	}
	if t.Context || t.Number != number {
		return tag{}, fmt.Errorf("expected application tag %d, got %+v: %w", number, t, ErrMalformed)
	}
	return t, nil
}

func expectOpening(r *bytes.Reader, number byte) error {
	t, err := readTag(r)
	if err != nil {
		return err
	}
	if !t.isOpening(number) {
		return fmt.Errorf("expected opening tag %d, got %+v: %w", number, t, ErrMalformed)
	}
	return nil
}

func expectClosing(r *bytes.Reader, number byte) error {
	t, err := readTag(r)
	if err != nil {
		return err
	}
	if !t.isClosing(number) {
		return fmt.Errorf("expected closing tag %d, got %+v: %w", number, t, ErrMalformed)
	}
	return nil
}

// optionalContextUnsigned consumes a context tag with the given number if it is next.
func optionalContextUnsigned(r *bytes.Reader, number byte) (*uint32, error) {
	t, ok := peekTag(r)
	if !ok || !t.isContext(number) {
		return nil, nil
	}
	v, err := expectContextUnsigned(r, number)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// decodeStatusFlags decodes the Status_Flags bit string. Bit 0 (in-alarm) is the
// most significant bit of the first data octet.
func decodeStatusFlags(b byte) StatusFlags {
	return StatusFlags{
		InAlarm:      b&0x80 != 0,
		Fault:        b&0x40 != 0,
		Overridden:   b&0x20 != 0,
		OutOfService: b&0x10 != 0,
	}
}

func (f StatusFlags) bits() byte {
	var b byte
	if f.InAlarm {
		b |= 0x80
	}
	if f.Fault {
		b |= 0x40
	}
	if f.Overridden {
		b |= 0x20
	}
	if f.OutOfService {
		b |= 0x10
	}
	return b
}

func (f StatusFlags) String() string {
	return fmt.Sprintf("[%d, %d, %d, %d]", b2i(f.InAlarm), b2i(f.Fault), b2i(f.Overridden), b2i(f.OutOfService))
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decodeBitString(body []byte) (interface{}, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty bit string: %w", ErrMalformed)
	}
	unused := body[0]
	if unused > 7 {
		return nil, fmt.Errorf("bit string unused bits %d: %w", unused, ErrMalformed)
	}
	// Four significant bits in one octet is the Status_Flags shape.
	if len(body) == 2 && unused == 4 {
		return decodeStatusFlags(body[1]), nil
	}
	return BitString{UnusedBits: unused, Bytes: body[1:]}, nil
}

// decodeApplicationValue decodes one application-tagged value.
func decodeApplicationValue(r *bytes.Reader) (interface{}, error) {
	t, err := readTag(r)
	if err != nil {
		return nil, err
	}
	if t.Context {
		return nil, fmt.Errorf("expected application tag, got context tag %d: %w", t.Number, ErrMalformed)
	}
	return decodeApplicationBody(r, t)
}

func decodeApplicationBody(r *bytes.Reader, t tag) (interface{}, error) {
	switch t.Number {
	case TAG_NULL:
		return nil, nil
	case TAG_BOOLEAN:
		return t.Length == 1, nil
	case TAG_UNSIGNED_INT:
		return readUnsigned(r, t.Length)
	case TAG_SIGNED_INT:
		return readSigned(r, t.Length)
	case TAG_REAL:
		if t.Length != 4 {
			return nil, fmt.Errorf("real length %d: %w", t.Length, ErrMalformed)
		}
		var bits uint32
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return nil, fmt.Errorf("failed to read real: %w", ErrMalformed)
		}
		return math.Float32frombits(bits), nil
	case TAG_DOUBLE:
		if t.Length != 8 {
			return nil, fmt.Errorf("double length %d: %w", t.Length, ErrMalformed)
		}
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return nil, fmt.Errorf("failed to read double: %w", ErrMalformed)
		}
		return math.Float64frombits(bits), nil
	case TAG_OCTET_STRING:
		return readBody(r, t.Length)
	case TAG_CHARACTER_STRING:
		if t.Length == 0 {
			return "", nil
		}
		body, err := readBody(r, t.Length)
		if err != nil {
			return nil, err
		}
		// body[0] is the character set; UTF-8 and ANSI X3.4 are passed through.
		return string(body[1:]), nil
	case TAG_BIT_STRING:
		body, err := readBody(r, t.Length)
		if err != nil {
			return nil, err
		}
		return decodeBitString(body)
	case TAG_ENUMERATED:
		v, err := readUnsigned(r, t.Length)
		return Enumerated(v), err
	case TAG_DATE:
		body, err := readBody(r, t.Length)
		if err != nil {
			return nil, err
		}
		if len(body) != 4 {
			return nil, fmt.Errorf("date length %d: %w", len(body), ErrMalformed)
		}
		d := Date{Month: body[1], Day: body[2], Weekday: body[3]}
		if body[0] != 0xFF {
			d.Year = 1900 + int(body[0])
		}
		return d, nil
	case TAG_TIME:
		body, err := readBody(r, t.Length)
		if err != nil {
			return nil, err
		}
		if len(body) != 4 {
			return nil, fmt.Errorf("time length %d: %w", len(body), ErrMalformed)
		}
		return Time{Hour: body[0], Minute: body[1], Second: body[2], Hundredths: body[3]}, nil
	case TAG_OBJECT_IDENTIFIER:
		return readObjectID(r, t.Length)
	default:
		return readBody(r, t.Length)
	}
}

// decodeValues decodes values up to the closing tag with the given number, which
// is consumed. Context-tagged primitives come back as raw bytes and constructed
// values as nested slices.
func decodeValues(r *bytes.Reader, closing byte) ([]interface{}, error) {
	var values []interface{}
	for {
		t, err := readTag(r)
		if err != nil {
			return nil, err
		}
		switch {
		case t.isClosing(closing):
			return values, nil
		case t.Closing:
			return nil, fmt.Errorf("unexpected closing tag %d inside %d: %w", t.Number, closing, ErrMalformed)
		case t.Opening:
			nested, err := decodeValues(r, t.Number)
			if err != nil {
				return nil, err
			}
			values = append(values, nested)
		case t.Context:
			body, err := readBody(r, t.Length)
			if err != nil {
				return nil, err
			}
			values = append(values, body)
		default:
			v, err := decodeApplicationBody(r, t)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
	}
}

// singleValue collapses a one-element value list to the element itself.
func singleValue(values []interface{}) interface{} {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	default:
		return values
	}
}
