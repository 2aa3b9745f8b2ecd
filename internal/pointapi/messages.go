package pointapi

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	bacnet "github.com/normalframework/bacnet-cov-demo"
)

// message is implemented by every request and reply of the Configuration
// service.
type message interface {
	marshal() []byte
	unmarshal(b []byte) error
}

// ObjectID identifies a local object. Object types and property ids use the
// BACnet numbering.
type ObjectID struct {
	ObjectType bacnet.ObjectType
	Instance   uint32
}

// String renders the id the way the server names it, e.g. OBJECT_ANALOG_INPUT 1.
func (id ObjectID) String() string {
	return fmt.Sprintf("%s %d", ObjectTypeName(id.ObjectType), id.Instance)
}

// ObjectTypeName returns the server's enum name for t, e.g. OBJECT_BINARY_VALUE.
func ObjectTypeName(t bacnet.ObjectType) string {
	return "OBJECT_" + upperSnake(t.String())
}

// PropertyName returns the server's enum name for p, e.g. PROP_PRESENT_VALUE.
func PropertyName(p bacnet.PropertyIdentifier) string {
	return "PROP_" + upperSnake(p.String())
}

func upperSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func (id ObjectID) marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(id.ObjectType))
	b = appendVarintField(b, 2, uint64(id.Instance))
	return b
}

func (id *ObjectID) unmarshal(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			id.ObjectType = bacnet.ObjectType(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			id.Instance = uint32(v)
			return n, err
		}
		return 0, nil
	})
}

// ValueKind selects the populated member of an ApplicationDataValue.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindNull
	KindBoolean
	KindUnsigned
	KindSigned
	KindReal
	KindDouble
	KindCharacterString
	KindEnumerated
)

// Field numbers of the ApplicationDataValue oneof.
const (
	fieldNull            protowire.Number = 1
	fieldBoolean         protowire.Number = 2
	fieldUnsigned        protowire.Number = 3
	fieldSigned          protowire.Number = 4
	fieldReal            protowire.Number = 5
	fieldDouble          protowire.Number = 6
	fieldCharacterString protowire.Number = 8
	fieldEnumerated      protowire.Number = 10
)

// ApplicationDataValue is a tagged BACnet application value.
type ApplicationDataValue struct {
	Kind            ValueKind
	Boolean         bool
	Unsigned        uint32
	Signed          int32
	Real            float32
	Double          float64
	CharacterString string
	Enumerated      uint32
}

func Real(v float32) ApplicationDataValue {
	return ApplicationDataValue{Kind: KindReal, Real: v}
}

func Enumerated(v uint32) ApplicationDataValue {
	return ApplicationDataValue{Kind: KindEnumerated, Enumerated: v}
}

func CharacterString(s string) ApplicationDataValue {
	return ApplicationDataValue{Kind: KindCharacterString, CharacterString: s}
}

func (v ApplicationDataValue) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBoolean:
		return strconv.FormatBool(v.Boolean)
	case KindUnsigned:
		return strconv.FormatUint(uint64(v.Unsigned), 10)
	case KindSigned:
		return strconv.FormatInt(int64(v.Signed), 10)
	case KindReal:
		return formatFloat(float64(v.Real), 32)
	case KindDouble:
		return formatFloat(v.Double, 64)
	case KindCharacterString:
		return v.CharacterString
	case KindEnumerated:
		return strconv.FormatUint(uint64(v.Enumerated), 10)
	default:
		return "<none>"
	}
}

func formatFloat(f float64, bits int) string {
	s := strconv.FormatFloat(f, 'f', -1, bits)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func (v ApplicationDataValue) marshal() []byte {
	var b []byte
	switch v.Kind {
	case KindNull:
		b = appendVarintField(b, fieldNull, 1)
	case KindBoolean:
		b = appendVarintField(b, fieldBoolean, protowire.EncodeBool(v.Boolean))
	case KindUnsigned:
		b = appendVarintField(b, fieldUnsigned, uint64(v.Unsigned))
	case KindSigned:
		b = appendVarintField(b, fieldSigned, uint64(int64(v.Signed)))
	case KindReal:
		b = appendFloatField(b, fieldReal, v.Real)
	case KindDouble:
		b = appendDoubleField(b, fieldDouble, v.Double)
	case KindCharacterString:
		b = appendBytesField(b, fieldCharacterString, []byte(v.CharacterString))
	case KindEnumerated:
		b = appendVarintField(b, fieldEnumerated, uint64(v.Enumerated))
	}
	return b
}

func (v *ApplicationDataValue) unmarshal(b []byte) error {
	*v = ApplicationDataValue{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldNull:
			_, n, err := consumeVarint(typ, b)
			v.Kind = KindNull
			return n, err
		case fieldBoolean:
			x, n, err := consumeVarint(typ, b)
			v.Kind, v.Boolean = KindBoolean, protowire.DecodeBool(x)
			return n, err
		case fieldUnsigned:
			x, n, err := consumeVarint(typ, b)
			v.Kind, v.Unsigned = KindUnsigned, uint32(x)
			return n, err
		case fieldSigned:
			x, n, err := consumeVarint(typ, b)
			v.Kind, v.Signed = KindSigned, int32(x)
			return n, err
		case fieldReal:
			x, n, err := consumeFixed32(typ, b)
			v.Kind, v.Real = KindReal, math.Float32frombits(x)
			return n, err
		case fieldDouble:
			x, n, err := consumeFixed64(typ, b)
			v.Kind, v.Double = KindDouble, math.Float64frombits(x)
			return n, err
		case fieldCharacterString:
			x, n, err := consumeBytes(typ, b)
			v.Kind, v.CharacterString = KindCharacterString, string(x)
			return n, err
		case fieldEnumerated:
			x, n, err := consumeVarint(typ, b)
			v.Kind, v.Enumerated = KindEnumerated, uint32(x)
			return n, err
		}
		return 0, nil
	})
}

// PropertyValue is one property of a local object.
type PropertyValue struct {
	Property bacnet.PropertyIdentifier
	Value    ApplicationDataValue
}

func (p PropertyValue) marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(p.Property))
	b = appendBytesField(b, 2, p.Value.marshal())
	return b
}

func (p *PropertyValue) unmarshal(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			p.Property = bacnet.PropertyIdentifier(v)
			return n, err
		case 2:
			return consumeMessage(typ, b, &p.Value)
		}
		return 0, nil
	})
}

func consumeMessage(typ protowire.Type, b []byte, m message) (int, error) {
	body, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	return n, m.unmarshal(body)
}

func appendProps(b []byte, num protowire.Number, props []PropertyValue) []byte {
	for _, p := range props {
		b = appendBytesField(b, num, p.marshal())
	}
	return b
}

func consumeProp(typ protowire.Type, b []byte, props *[]PropertyValue) (int, error) {
	var p PropertyValue
	n, err := consumeMessage(typ, b, &p)
	if err == nil {
		*props = append(*props, p)
	}
	return n, err
}

// LocalObject is an object hosted by the server.
type LocalObject struct {
	ObjectID ObjectID
	Props    []PropertyValue
}

// Property returns the value of p, if present.
func (o LocalObject) Property(p bacnet.PropertyIdentifier) (ApplicationDataValue, bool) {
	for _, pv := range o.Props {
		if pv.Property == p {
			return pv.Value, true
		}
	}
	return ApplicationDataValue{}, false
}

func (o LocalObject) marshal() []byte {
	b := appendBytesField(nil, 1, o.ObjectID.marshal())
	return appendProps(b, 2, o.Props)
}

func (o *LocalObject) unmarshal(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeMessage(typ, b, &o.ObjectID)
		case 2:
			return consumeProp(typ, b, &o.Props)
		}
		return 0, nil
	})
}

type GetLocalObjectsRequest struct{}

func (*GetLocalObjectsRequest) marshal() []byte { return nil }

func (*GetLocalObjectsRequest) unmarshal(b []byte) error {
	return decodeFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return 0, nil })
}

type GetLocalObjectsReply struct {
	Objects []LocalObject
}

func (r *GetLocalObjectsReply) marshal() []byte {
	var b []byte
	for _, o := range r.Objects {
		b = appendBytesField(b, 1, o.marshal())
	}
	return b
}

func (r *GetLocalObjectsReply) unmarshal(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		var o LocalObject
		n, err := consumeMessage(typ, b, &o)
		if err == nil {
			r.Objects = append(r.Objects, o)
		}
		return n, err
	})
}

// objectRequest is the shared shape of create and update requests.
type objectRequest struct {
	ObjectID ObjectID
	Props    []PropertyValue
}

func (r *objectRequest) marshal() []byte {
	b := appendBytesField(nil, 1, r.ObjectID.marshal())
	return appendProps(b, 2, r.Props)
}

func (r *objectRequest) unmarshal(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeMessage(typ, b, &r.ObjectID)
		case 2:
			return consumeProp(typ, b, &r.Props)
		}
		return 0, nil
	})
}

type CreateLocalObjectRequest struct{ objectRequest }

type UpdateLocalObjectRequest struct{ objectRequest }

func NewCreateLocalObjectRequest(id ObjectID, props []PropertyValue) *CreateLocalObjectRequest {
	return &CreateLocalObjectRequest{objectRequest{ObjectID: id, Props: props}}
}

func NewUpdateLocalObjectRequest(id ObjectID, props []PropertyValue) *UpdateLocalObjectRequest {
	return &UpdateLocalObjectRequest{objectRequest{ObjectID: id, Props: props}}
}

type DeleteLocalObjectRequest struct {
	ObjectID ObjectID
}

func (r *DeleteLocalObjectRequest) marshal() []byte {
	return appendBytesField(nil, 1, r.ObjectID.marshal())
}

func (r *DeleteLocalObjectRequest) unmarshal(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeMessage(typ, b, &r.ObjectID)
		}
		return 0, nil
	})
}

// Empty is the reply of the create, update and delete methods.
type Empty struct{}

func (*Empty) marshal() []byte { return nil }

func (*Empty) unmarshal(b []byte) error {
	return decodeFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return 0, nil })
}
