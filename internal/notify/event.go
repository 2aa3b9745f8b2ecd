package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	bacnet "github.com/normalframework/bacnet-cov-demo"
)

// Value is one property carried by a notification.
type Value struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
	Text     string `json:"text"`
}

// Event is a CoV notification accepted for a known subscription.
type Event struct {
	ID             string    `json:"id"`
	Time           time.Time `json:"time"`
	Device         string    `json:"device"`
	DeviceInstance uint32    `json:"device_instance"`
	Object         string    `json:"object"`
	ObjectType     string    `json:"object_type"`
	Instance       uint32    `json:"instance"`
	ProcessID      uint32    `json:"process_id"`
	TimeRemaining  uint32    `json:"time_remaining"`
	Confirmed      bool      `json:"confirmed"`
	Values         []Value   `json:"values"`
}

// FromNotification converts a decoded notification into an Event stamped with now.
func FromNotification(n bacnet.COVNotification, now time.Time) Event {
	ev := Event{
		ID:             uuid.NewString(),
		Time:           now.UTC(),
		Device:         ObjectName(n.InitiatingDeviceIdentifier),
		DeviceInstance: n.InitiatingDeviceIdentifier.Instance,
		Object:         ObjectName(n.MonitoredObjectIdentifier),
		ObjectType:     lowerFirst(n.MonitoredObjectIdentifier.Type.String()),
		Instance:       n.MonitoredObjectIdentifier.Instance,
		ProcessID:      n.SubscriberProcessIdentifier,
		TimeRemaining:  n.TimeRemaining,
		Confirmed:      n.Confirmed,
		Values:         make([]Value, 0, len(n.ListOfValues)),
	}
	for _, pv := range n.ListOfValues {
		ev.Values = append(ev.Values, Value{
			Property: PropertyName(pv.PropertyID),
			Value:    pv.Value,
			Text:     FormatValue(pv.Value),
		})
	}
	return ev
}

// Lookup returns the value of the named property.
func (e Event) Lookup(property string) (Value, bool) {
	for _, v := range e.Values {
		if v.Property == property {
			return v, true
		}
	}
	return Value{}, false
}

// ObjectName renders an object identifier as type:instance with a lowerCamel
// type, e.g. analogInput:1.
func ObjectName(o bacnet.BACnetObject) string {
	return fmt.Sprintf("%s:%d", lowerFirst(o.Type.String()), o.Instance)
}

// PropertyName returns the lowerCamel property name, e.g. presentValue.
func PropertyName(p bacnet.PropertyIdentifier) string {
	return lowerFirst(p.String())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// FormatValue renders a decoded property value for display. Reals always
// carry a decimal point.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	case string:
		return x
	case []byte:
		return fmt.Sprintf("%x", x)
	case bacnet.StatusFlags:
		return x.String()
	case bacnet.BACnetObject:
		return ObjectName(x)
	case []interface{}:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, FormatValue(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64, bits int) string {
	s := strconv.FormatFloat(f, 'f', -1, bits)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Numeric converts a decoded value to float64 when it has a numeric meaning.
func Numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case uint32:
		return float64(x), true
	case int32:
		return float64(x), true
	case bacnet.Enumerated:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
