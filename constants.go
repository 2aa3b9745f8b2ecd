package bacnet

// BACnet constants
const (
	// BVLC (BACnet/IP Virtual Link Control)
	BVLC_TYPE_BACNET_IP byte = 0x81

	// BVLC Functions
	BVLC_RESULT                          byte = 0x00
	BVLC_FORWARDED_NPDU                  byte = 0x04
	BVLC_REGISTER_FOREIGN_DEVICE         byte = 0x05
	BVLC_DISTRIBUTE_BROADCAST_TO_NETWORK byte = 0x09
	BVLC_ORIGINAL_UNICAST_NPDU           byte = 0x0a
	BVLC_ORIGINAL_BROADCAST_NPDU         byte = 0x0b

	// NPDU (Network Protocol Data Unit) Control Field bits
	NPDU_CONTROL_NORMAL_MESSAGE        byte = 0x00
	NPDU_CONTROL_PRIORITY_MASK         byte = 0x03
	NPDU_CONTROL_EXPECTING_REPLY       byte = 0x04
	NPDU_CONTROL_SOURCE_SPECIFIER      byte = 0x08
	NPDU_CONTROL_DESTINATION_SPECIFIER byte = 0x20
	NPDU_CONTROL_NETWORK_LAYER_MESSAGE byte = 0x80

	// APDU (Application Protocol Data Unit) Types
	APDU_CONFIRMED_REQUEST   byte = 0x00
	APDU_UNCONFIRMED_REQUEST byte = 0x10
	APDU_SIMPLE_ACK          byte = 0x20
	APDU_COMPLEX_ACK         byte = 0x30
	APDU_SEGMENT_ACK         byte = 0x40
	APDU_ERROR               byte = 0x50
	APDU_REJECT              byte = 0x60
	APDU_ABORT               byte = 0x70

	// APDU header flags
	APDU_FLAG_SEGMENTED          byte = 0x08
	APDU_FLAG_MORE_FOLLOWS       byte = 0x04
	APDU_FLAG_SEGMENTED_ACCEPTED byte = 0x02
	APDU_FLAG_ABORT_SERVER       byte = 0x01

	// Max segments / max APDU octet: unspecified segments, 1476 octets.
	APDU_MAX_SEGMENTS_AND_APDU_1476 byte = 0x05

	// Unconfirmed Service Choice
	SERVICE_UNCONFIRMED_I_AM               byte = 0x00
	SERVICE_UNCONFIRMED_COV_NOTIFICATION   byte = 0x02
	SERVICE_UNCONFIRMED_EVENT_NOTIFICATION byte = 0x03
	SERVICE_UNCONFIRMED_WHO_IS             byte = 0x08

	// Confirmed Service Choice
	SERVICE_CONFIRMED_COV_NOTIFICATION       byte = 0x01
	SERVICE_CONFIRMED_SUBSCRIBE_COV          byte = 0x05
	SERVICE_CONFIRMED_READ_PROPERTY          byte = 0x0c
	SERVICE_CONFIRMED_READ_PROPERTY_MULTIPLE byte = 0x0e
	SERVICE_CONFIRMED_SUBSCRIBE_COV_PROPERTY byte = 0x1c

	// Segmentation support values carried in I-Am.
	SEGMENTATION_BOTH     uint32 = 0
	SEGMENTATION_TRANSMIT uint32 = 1
	SEGMENTATION_RECEIVE  uint32 = 2
	SEGMENTATION_NONE     uint32 = 3

	// Engineering units used by the demo points.
	UNITS_DEGREES_FAHRENHEIT uint32 = 64

	BACNET_DEFAULT_PORT = 47808

	// BACNET_MAX_INSTANCE is the largest valid object instance number.
	BACNET_MAX_INSTANCE uint32 = 0x3FFFFF

	// BACNET_MAX_APDU is the APDU size advertised and accepted over BACnet/IP.
	BACNET_MAX_APDU uint16 = 1476

	// BACNET_VENDOR_ID is the vendor identifier announced in I-Am.
	BACNET_VENDOR_ID uint16 = 15
)

// PropertyIdentifier is a BACnet property identifier.
type PropertyIdentifier uint32

// Property IDs
const (
	PROP_ACKED_TRANSITIONS                  PropertyIdentifier = 0
	PROP_ACK_REQUIRED                       PropertyIdentifier = 1
	PROP_ACTION                             PropertyIdentifier = 2
	PROP_ACTION_TEXT                        PropertyIdentifier = 3
	PROP_ACTIVE_TEXT                        PropertyIdentifier = 4
	PROP_ACTIVE_VT_SESSIONS                 PropertyIdentifier = 5
	PROP_ALARM_VALUE                        PropertyIdentifier = 6
	PROP_ALARM_VALUES                       PropertyIdentifier = 7
	PROP_ALL                                PropertyIdentifier = 8
	PROP_ALL_WRITES_SUCCESSFUL              PropertyIdentifier = 9
	PROP_APDU_SEGMENT_TIMEOUT               PropertyIdentifier = 10
	PROP_APDU_TIMEOUT                       PropertyIdentifier = 11
	PROP_APPLICATION_SOFTWARE_VERSION       PropertyIdentifier = 12
	PROP_ARCHIVE                            PropertyIdentifier = 13
	PROP_BIAS                               PropertyIdentifier = 14
	PROP_CHANGE_OF_STATE_COUNT              PropertyIdentifier = 15
	PROP_CHANGE_OF_STATE_TIME               PropertyIdentifier = 16
	PROP_NOTIFICATION_CLASS                 PropertyIdentifier = 17
	PROP_COV_INCREMENT                      PropertyIdentifier = 22
	PROP_DATE_LIST                          PropertyIdentifier = 23
	PROP_DAYLIGHT_SAVINGS_STATUS            PropertyIdentifier = 24
	PROP_DEADBAND                           PropertyIdentifier = 25
	PROP_DESCRIPTION                        PropertyIdentifier = 28
	PROP_DEVICE_ADDRESS_BINDING             PropertyIdentifier = 30
	PROP_DEVICE_TYPE                        PropertyIdentifier = 31
	PROP_EFFECTIVE_PERIOD                   PropertyIdentifier = 32
	PROP_ELAPSED_ACTIVE_TIME                PropertyIdentifier = 33
	PROP_ERROR_LIMIT                        PropertyIdentifier = 34
	PROP_EVENT_ENABLE                       PropertyIdentifier = 35
	PROP_EVENT_STATE                        PropertyIdentifier = 36
	PROP_EVENT_TYPE                         PropertyIdentifier = 37
	PROP_EXCEPTION_SCHEDULE                 PropertyIdentifier = 38
	PROP_FILE_ACCESS_METHOD                 PropertyIdentifier = 41
	PROP_FILE_SIZE                          PropertyIdentifier = 42
	PROP_FILE_TYPE                          PropertyIdentifier = 43
	PROP_FIRMWARE_REVISION                  PropertyIdentifier = 44
	PROP_HIGH_LIMIT                         PropertyIdentifier = 45
	PROP_INACTIVE_TEXT                      PropertyIdentifier = 46
	PROP_INSTANCE_OF                        PropertyIdentifier = 48
	PROP_LIMIT_ENABLE                       PropertyIdentifier = 52
	PROP_LIST_OF_GROUP_MEMBERS              PropertyIdentifier = 53
	PROP_LIST_OF_OBJECT_PROPERTY_REFERENCES PropertyIdentifier = 54
	PROP_LOW_LIMIT                          PropertyIdentifier = 59
	PROP_MAX_APDU_LENGTH_ACCEPTED           PropertyIdentifier = 62
	PROP_MODEL_NAME                         PropertyIdentifier = 70
	PROP_OBJECT_IDENTIFIER                  PropertyIdentifier = 75
	PROP_OBJECT_LIST                        PropertyIdentifier = 76
	PROP_OBJECT_NAME                        PropertyIdentifier = 77
	PROP_OBJECT_PROPERTY_REFERENCE          PropertyIdentifier = 78
	PROP_OBJECT_TYPE                        PropertyIdentifier = 79
	PROP_OPTIONAL                           PropertyIdentifier = 80
	PROP_OUT_OF_SERVICE                     PropertyIdentifier = 81
	PROP_POLARITY                           PropertyIdentifier = 84
	PROP_PRESENT_VALUE                      PropertyIdentifier = 85
	PROP_PRIORITY_ARRAY                     PropertyIdentifier = 87
	PROP_PROFILE_NAME                       PropertyIdentifier = 90
	PROP_PROTOCOL_CONFORMANCE_CLASS         PropertyIdentifier = 92
	PROP_PROTOCOL_OBJECT_TYPES_SUPPORTED    PropertyIdentifier = 97
	PROP_PROTOCOL_SERVICES_SUPPORTED        PropertyIdentifier = 98
	PROP_PROTOCOL_VERSION                   PropertyIdentifier = 100
	PROP_RELIABILITY                        PropertyIdentifier = 103
	PROP_RELINQUISH_DEFAULT                 PropertyIdentifier = 104
	PROP_SEGMENTATION_SUPPORTED             PropertyIdentifier = 107
	PROP_STATUS_FLAGS                       PropertyIdentifier = 111
	PROP_SYSTEM_STATUS                      PropertyIdentifier = 112
	PROP_UNITS                              PropertyIdentifier = 117
	PROP_UPDATE_INTERVAL                    PropertyIdentifier = 118
	PROP_VENDOR_IDENTIFIER                  PropertyIdentifier = 120
	PROP_VENDOR_NAME                        PropertyIdentifier = 121
)
