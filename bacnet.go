package bacnet

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// invokeIDManager provides thread-safe, unique Invoke IDs for BACnet requests.
type invokeIDManager struct {
	mu     sync.Mutex
	lastID byte
}

// Next returns the next Invoke ID for which inUse reports false. It wraps from
// 255 back to 0 and gives up after a full cycle.
func (m *invokeIDManager) Next(inUse func(byte) bool) (byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < 256; i++ {
		m.lastID++
		if !inUse(m.lastID) {
			return m.lastID, true
		}
	}
	return 0, false
}

type ObjectType uint32

const (
	OBJECT_ANALOG_INPUT       ObjectType = 0
	OBJECT_ANALOG_OUTPUT      ObjectType = 1
	OBJECT_ANALOG_VALUE       ObjectType = 2
	OBJECT_BINARY_INPUT       ObjectType = 3
	OBJECT_BINARY_OUTPUT      ObjectType = 4
	OBJECT_BINARY_VALUE       ObjectType = 5
	OBJECT_CALENDAR           ObjectType = 6
	OBJECT_COMMAND            ObjectType = 7
	OBJECT_DEVICE             ObjectType = 8
	OBJECT_EVENT_ENROLLMENT   ObjectType = 9
	OBJECT_FILE               ObjectType = 10
	OBJECT_GROUP              ObjectType = 11
	OBJECT_LOOP               ObjectType = 12
	OBJECT_MULTI_STATE_INPUT  ObjectType = 13
	OBJECT_MULTI_STATE_OUTPUT ObjectType = 14
	OBJECT_NOTIFICATION_CLASS ObjectType = 15
	OBJECT_PROGRAM            ObjectType = 16
	OBJECT_SCHEDULE           ObjectType = 17
	OBJECT_AVERAGING          ObjectType = 18
	OBJECT_MULTI_STATE_VALUE  ObjectType = 19
	OBJECT_TREND_LOG          ObjectType = 20
	OBJECT_LIFE_SAFETY_POINT  ObjectType = 21
	OBJECT_LIFE_SAFETY_ZONE   ObjectType = 22
	OBJECT_ACCUMULATOR        ObjectType = 23
	OBJECT_PULSE_CONVERTER    ObjectType = 24
)

var ObjectTypeNames = map[ObjectType]string{
	OBJECT_ANALOG_INPUT:       "AnalogInput",
	OBJECT_ANALOG_OUTPUT:      "AnalogOutput",
	OBJECT_ANALOG_VALUE:       "AnalogValue",
	OBJECT_BINARY_INPUT:       "BinaryInput",
	OBJECT_BINARY_OUTPUT:      "BinaryOutput",
	OBJECT_BINARY_VALUE:       "BinaryValue",
	OBJECT_CALENDAR:           "Calendar",
	OBJECT_COMMAND:            "Command",
	OBJECT_DEVICE:             "Device",
	OBJECT_EVENT_ENROLLMENT:   "EventEnrollment",
	OBJECT_FILE:               "File",
	OBJECT_GROUP:              "Group",
	OBJECT_LOOP:               "Loop",
	OBJECT_MULTI_STATE_INPUT:  "MultiStateInput",
	OBJECT_MULTI_STATE_OUTPUT: "MultiStateOutput",
	OBJECT_NOTIFICATION_CLASS: "NotificationClass",
	OBJECT_PROGRAM:            "Program",
	OBJECT_SCHEDULE:           "Schedule",
	OBJECT_AVERAGING:          "Averaging",
	OBJECT_MULTI_STATE_VALUE:  "MultiStateValue",
	OBJECT_TREND_LOG:          "TrendLog",
	OBJECT_LIFE_SAFETY_POINT:  "LifeSafetyPoint",
	OBJECT_LIFE_SAFETY_ZONE:   "LifeSafetyZone",
	OBJECT_ACCUMULATOR:        "Accumulator",
	OBJECT_PULSE_CONVERTER:    "PulseConverter",
}

func (t ObjectType) String() string {
	if name, ok := ObjectTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ObjectType(%d)", uint32(t))
}

// IsAnalog reports whether t is an analog input, output or value.
func (t ObjectType) IsAnalog() bool {
	return t == OBJECT_ANALOG_INPUT || t == OBJECT_ANALOG_OUTPUT || t == OBJECT_ANALOG_VALUE
}

// IsBinary reports whether t is a binary input, output or value.
func (t ObjectType) IsBinary() bool {
	return t == OBJECT_BINARY_INPUT || t == OBJECT_BINARY_OUTPUT || t == OBJECT_BINARY_VALUE
}

var PropertyNames = map[PropertyIdentifier]string{
	PROP_ACKED_TRANSITIONS:                  "AckedTransitions",
	PROP_ACK_REQUIRED:                       "AckRequired",
	PROP_ACTION:                             "Action",
	PROP_ACTION_TEXT:                        "ActionText",
	PROP_ACTIVE_TEXT:                        "ActiveText",
	PROP_ACTIVE_VT_SESSIONS:                 "ActiveVtSessions",
	PROP_ALARM_VALUE:                        "AlarmValue",
	PROP_ALARM_VALUES:                       "AlarmValues",
	PROP_ALL:                                "All",
	PROP_ALL_WRITES_SUCCESSFUL:              "AllWritesSuccessful",
	PROP_APDU_SEGMENT_TIMEOUT:               "ApduSegmentTimeout",
	PROP_APDU_TIMEOUT:                       "ApduTimeout",
	PROP_APPLICATION_SOFTWARE_VERSION:       "ApplicationSoftwareVersion",
	PROP_ARCHIVE:                            "Archive",
	PROP_BIAS:                               "Bias",
	PROP_CHANGE_OF_STATE_COUNT:              "ChangeOfStateCount",
	PROP_CHANGE_OF_STATE_TIME:               "ChangeOfStateTime",
	PROP_NOTIFICATION_CLASS:                 "NotificationClass",
	PROP_COV_INCREMENT:                      "CovIncrement",
	PROP_DATE_LIST:                          "DateList",
	PROP_DAYLIGHT_SAVINGS_STATUS:            "DaylightSavingsStatus",
	PROP_DEADBAND:                           "Deadband",
	PROP_DESCRIPTION:                        "Description",
	PROP_DEVICE_ADDRESS_BINDING:             "DeviceAddressBinding",
	PROP_DEVICE_TYPE:                        "DeviceType",
	PROP_EFFECTIVE_PERIOD:                   "EffectivePeriod",
	PROP_ELAPSED_ACTIVE_TIME:                "ElapsedActiveTime",
	PROP_ERROR_LIMIT:                        "ErrorLimit",
	PROP_EVENT_ENABLE:                       "EventEnable",
	PROP_EVENT_STATE:                        "EventState",
	PROP_EVENT_TYPE:                         "EventType",
	PROP_EXCEPTION_SCHEDULE:                 "ExceptionSchedule",
	PROP_FILE_ACCESS_METHOD:                 "FileAccessMethod",
	PROP_FILE_SIZE:                          "FileSize",
	PROP_FILE_TYPE:                          "FileType",
	PROP_FIRMWARE_REVISION:                  "FirmwareRevision",
	PROP_HIGH_LIMIT:                         "HighLimit",
	PROP_INACTIVE_TEXT:                      "InactiveText",
	PROP_INSTANCE_OF:                        "InstanceOf",
	PROP_LIMIT_ENABLE:                       "LimitEnable",
	PROP_LIST_OF_GROUP_MEMBERS:              "ListOfGroupMembers",
	PROP_LIST_OF_OBJECT_PROPERTY_REFERENCES: "ListOfObjectPropertyReferences",
	PROP_LOW_LIMIT:                          "LowLimit",
	PROP_MAX_APDU_LENGTH_ACCEPTED:           "MaxApduLengthAccepted",
	PROP_MODEL_NAME:                         "ModelName",
	PROP_OBJECT_IDENTIFIER:                  "ObjectIdentifier",
	PROP_OBJECT_LIST:                        "ObjectList",
	PROP_OBJECT_NAME:                        "ObjectName",
	PROP_OBJECT_PROPERTY_REFERENCE:          "ObjectPropertyReference",
	PROP_OBJECT_TYPE:                        "ObjectType",
	PROP_OPTIONAL:                           "Optional",
	PROP_OUT_OF_SERVICE:                     "OutOfService",
	PROP_POLARITY:                           "Polarity",
	PROP_PRESENT_VALUE:                      "PresentValue",
	PROP_PRIORITY_ARRAY:                     "PriorityArray",
	PROP_PROFILE_NAME:                       "ProfileName",
	PROP_PROTOCOL_CONFORMANCE_CLASS:         "ProtocolConformanceClass",
	PROP_PROTOCOL_OBJECT_TYPES_SUPPORTED:    "ProtocolObjectTypesSupported",
	PROP_PROTOCOL_SERVICES_SUPPORTED:        "ProtocolServicesSupported",
	PROP_PROTOCOL_VERSION:                   "ProtocolVersion",
	PROP_RELIABILITY:                        "Reliability",
	PROP_RELINQUISH_DEFAULT:                 "RelinquishDefault",
	PROP_SEGMENTATION_SUPPORTED:             "SegmentationSupported",
	PROP_STATUS_FLAGS:                       "StatusFlags",
	PROP_SYSTEM_STATUS:                      "SystemStatus",
	PROP_UNITS:                              "Units",
	PROP_UPDATE_INTERVAL:                    "UpdateInterval",
	PROP_VENDOR_IDENTIFIER:                  "VendorIdentifier",
	PROP_VENDOR_NAME:                        "VendorName",
}

func (p PropertyIdentifier) String() string {
	if name, ok := PropertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Property(%d)", uint32(p))
}

type BACnetObject struct {
	Type     ObjectType
	Instance uint32
}

// String renders the object as Type:Instance, e.g. AnalogInput:1.
func (o BACnetObject) String() string {
	return fmt.Sprintf("%s:%d", o.Type, o.Instance)
}

func (o BACnetObject) encode() uint32 {
	return (uint32(o.Type) << 22) | (o.Instance & BACNET_MAX_INSTANCE)
}

func decodeObjectIdentifier(raw uint32) BACnetObject {
	return BACnetObject{Type: ObjectType(raw >> 22), Instance: raw & BACNET_MAX_INSTANCE}
}

// StatusFlags represents the BACnet Status_Flags property.
type StatusFlags struct {
	InAlarm      bool
	Fault        bool
	Overridden   bool
	OutOfService bool
}

// BitString is a decoded BACnet bit string other than Status_Flags.
type BitString struct {
	UnusedBits byte
	Bytes      []byte
}

type BACnetPropertyValue struct {
	PropertyID PropertyIdentifier
	ArrayIndex *uint32
	Value      interface{}
	Priority   *uint8
}

type COVNotification struct {
	SubscriberProcessIdentifier uint32
	InitiatingDeviceIdentifier  BACnetObject
	MonitoredObjectIdentifier   BACnetObject
	TimeRemaining               uint32
	ListOfValues                []BACnetPropertyValue

	// Confirmed is true when the notification arrived as a confirmed request.
	Confirmed bool
	// Source is the BACnet/IP address the notification came from.
	Source *net.UDPAddr
}

// BVLCHeader represents the BACnet/IP Virtual Link Control header.
type BVLCHeader struct {
	Type     byte
	Function byte
	Length   uint16
}

// NPDU represents the fixed part of the Network Protocol Data Unit header.
type NPDU struct {
	Version byte
	Control byte
}

// DeviceInfo represents a discovered BACnet device.
type DeviceInfo struct {
	DeviceID     uint32
	IPAddress    net.IP
	Port         int
	MaxAPDU      uint32 // Max APDU length supported by the device
	Segmentation uint32
	VendorID     uint32
}

// Addr returns the device's BACnet/IP address.
func (d DeviceInfo) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: d.IPAddress, Port: d.Port}
}

// ClientOptions holds configuration for a BACnetClient.
type ClientOptions struct {
	// LocalAddr is the local address to bind to. If nil, an ephemeral port on all interfaces is used.
	LocalAddr *net.UDPAddr
	// BroadcastAddr is where Who-Is and I-Am broadcasts are sent.
	// Defaults to the limited broadcast address on the default port.
	BroadcastAddr *net.UDPAddr
	// Timeout specifies the default timeout for BACnet requests.
	Timeout time.Duration
	// DeviceID is this client's own device instance, announced in I-Am.
	// Zero disables answering Who-Is.
	DeviceID uint32
	// VendorID and MaxAPDU are announced in I-Am. They default to
	// BACNET_VENDOR_ID and BACNET_MAX_APDU.
	VendorID uint16
	MaxAPDU  uint16
	// Logger receives protocol-level debug output. Defaults to slog.Default().
	Logger *slog.Logger
}

const defaultTimeout = 3 * time.Second

// COVHandler receives COV notifications. For confirmed notifications the
// returned error selects the reply: nil sends a Simple-ACK, an *ErrorPDU is
// sent back as is and any other error is reported as services/other.
//
// The handler runs on the receive loop and must not issue requests through
// the same client synchronously.
type COVHandler func(n COVNotification) error

// BACnetClient manages network connections and configurations for BACnet interactions.
type BACnetClient struct {
	conn    *net.UDPConn
	options ClientOptions
	log     *slog.Logger

	invokeIDs invokeIDManager

	pendingMu sync.Mutex
	pending   map[byte]*pendingRequest

	iAmMu      sync.Mutex
	iAmWaiters map[int]chan DeviceInfo
	nextWaiter int

	covMu      sync.RWMutex
	covHandler COVHandler

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates and initializes a new BACnetClient and starts its receive loop.
func NewClient(options ClientOptions) (*BACnetClient, error) {
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	if options.VendorID == 0 {
		options.VendorID = BACNET_VENDOR_ID
	}
	if options.MaxAPDU == 0 {
		options.MaxAPDU = BACNET_MAX_APDU
	}
	if options.BroadcastAddr == nil {
		options.BroadcastAddr = &net.UDPAddr{IP: net.IPv4bcast, Port: BACNET_DEFAULT_PORT}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := net.ListenUDP("udp4", options.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	c := &BACnetClient{
		conn:       conn,
		options:    options,
		log:        logger,
		pending:    make(map[byte]*pendingRequest),
		iAmWaiters: make(map[int]chan DeviceInfo),
		done:       make(chan struct{}),
	}

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// Close stops the receive loop and closes the socket. Outstanding requests fail with ErrClosed.
func (c *BACnetClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

// LocalAddr returns the address the client is bound to.
func (c *BACnetClient) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// HandleCOV registers the handler for incoming COV notifications, replacing any previous one.
func (c *BACnetClient) HandleCOV(handler COVHandler) {
	c.covMu.Lock()
	c.covHandler = handler
	c.covMu.Unlock()
}

func (c *BACnetClient) receiveLoop() {
	defer c.wg.Done()

	readBuffer := make([]byte, 2048)
	for {
		n, addr, err := c.conn.ReadFromUDP(readBuffer)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warn("failed to read from UDP", "error", err)
			continue
		}

		packet := make([]byte, n)
		copy(packet, readBuffer[:n])
		c.handlePacket(packet, addr)
	}
}

func (c *BACnetClient) handlePacket(data []byte, addr *net.UDPAddr) {
	f, err := decodeFrame(data, addr)
	if err != nil {
		c.log.Debug("dropping packet", "from", addr, "error", err)
		return
	}
	if f.Control&NPDU_CONTROL_NETWORK_LAYER_MESSAGE != 0 || len(f.APDU) == 0 {
		return
	}

	switch f.APDU[0] & 0xF0 {
	case APDU_UNCONFIRMED_REQUEST:
		c.handleUnconfirmed(f)
	case APDU_CONFIRMED_REQUEST:
		c.handleConfirmed(f)
	case APDU_SIMPLE_ACK, APDU_COMPLEX_ACK, APDU_ERROR, APDU_REJECT, APDU_ABORT:
		c.completePending(f)
	default:
		c.log.Debug("ignoring APDU", "type", fmt.Sprintf("0x%02x", f.APDU[0]), "from", f.Source)
	}
}

func (c *BACnetClient) handleUnconfirmed(f frame) {
	if len(f.APDU) < 2 {
		return
	}
	service := f.APDU[1]
	params := f.APDU[2:]

	switch service {
	case SERVICE_UNCONFIRMED_I_AM:
		device, err := parseIAm(params, f.Source)
		if err != nil {
			c.log.Debug("malformed I-Am", "from", f.Source, "error", err)
			return
		}
		if c.options.DeviceID != 0 && device.DeviceID == c.options.DeviceID {
			return
		}
		c.deliverIAm(device)
	case SERVICE_UNCONFIRMED_WHO_IS:
		low, high, err := parseWhoIs(params)
		if err != nil {
			c.log.Debug("malformed Who-Is", "from", f.Source, "error", err)
			return
		}
		c.answerWhoIs(low, high)
	case SERVICE_UNCONFIRMED_COV_NOTIFICATION:
		notification, err := parseCOVNotification(params)
		if err != nil {
			c.log.Warn("error parsing COV notification", "from", f.Source, "error", err)
			return
		}
		notification.Source = f.Source
		if handler := c.getCOVHandler(); handler != nil {
			_ = handler(notification)
		}
	default:
		c.log.Debug("ignoring unconfirmed service", "service", service, "from", f.Source)
	}
}

func (c *BACnetClient) handleConfirmed(f frame) {
	if len(f.APDU) < 4 {
		return
	}
	flags := f.APDU[0] & 0x0F
	invokeID := f.APDU[2]
	if flags&APDU_FLAG_SEGMENTED != 0 {
		c.sendAbort(f.Source, invokeID, ABORT_REASON_SEGMENTATION_NOT_SUPPORTED)
		return
	}
	service := f.APDU[3]
	params := f.APDU[4:]

	if service != SERVICE_CONFIRMED_COV_NOTIFICATION {
		c.sendReject(f.Source, invokeID, REJECT_REASON_UNRECOGNIZED_SERVICE)
		return
	}

	notification, err := parseCOVNotification(params)
	if err != nil {
		c.log.Warn("error parsing confirmed COV notification", "from", f.Source, "error", err)
		c.sendReject(f.Source, invokeID, REJECT_REASON_INVALID_TAG)
		return
	}
	notification.Source = f.Source
	notification.Confirmed = true

	handler := c.getCOVHandler()
	if handler == nil {
		c.sendError(f.Source, invokeID, service, &ErrorPDU{Class: ERROR_CLASS_SERVICES, Code: ERROR_CODE_UNKNOWN_SUBSCRIPTION})
		return
	}

	if err := handler(notification); err != nil {
		var pduErr *ErrorPDU
		if !errors.As(err, &pduErr) {
			pduErr = &ErrorPDU{Class: ERROR_CLASS_SERVICES, Code: ERROR_CODE_OTHER}
		}
		c.sendError(f.Source, invokeID, service, pduErr)
		return
	}
	c.sendSimpleAck(f.Source, invokeID, service)
}

func (c *BACnetClient) getCOVHandler() COVHandler {
	c.covMu.RLock()
	defer c.covMu.RUnlock()
	return c.covHandler
}

// deliverIAm hands an I-Am to every active Who-Is collector. Slow collectors lose replies.
func (c *BACnetClient) deliverIAm(device DeviceInfo) {
	c.iAmMu.Lock()
	defer c.iAmMu.Unlock()
	for _, ch := range c.iAmWaiters {
		select {
		case ch <- device:
		default:
		}
	}
}

func (c *BACnetClient) addIAmWaiter() (int, <-chan DeviceInfo) {
	c.iAmMu.Lock()
	defer c.iAmMu.Unlock()
	c.nextWaiter++
	ch := make(chan DeviceInfo, 64)
	c.iAmWaiters[c.nextWaiter] = ch
	return c.nextWaiter, ch
}

func (c *BACnetClient) removeIAmWaiter(id int) {
	c.iAmMu.Lock()
	delete(c.iAmWaiters, id)
	c.iAmMu.Unlock()
}

func (c *BACnetClient) answerWhoIs(low, high *uint32) {
	id := c.options.DeviceID
	if id == 0 {
		return
	}
	if low != nil && high != nil && (id < *low || id > *high) {
		return
	}
	if err := c.sendIAm(); err != nil {
		c.log.Warn("failed to send I-Am", "error", err)
	}
}
