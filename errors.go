package bacnet

import (
	"errors"
	"fmt"
)

// Sentinel errors for client operations.
var (
	// ErrTimeout is returned when no reply arrives within the request timeout.
	ErrTimeout = errors.New("bacnet: request timed out")

	// ErrClosed is returned for requests outstanding when the client is closed.
	ErrClosed = errors.New("bacnet: client closed")

	// ErrNoInvokeID is returned when all 256 invoke IDs are outstanding.
	ErrNoInvokeID = errors.New("bacnet: no free invoke ID")

	// ErrSegmentationNotSupported is returned for segmented Complex-ACKs.
	ErrSegmentationNotSupported = errors.New("bacnet: segmented response not supported")

	// ErrUnexpectedResponse is returned when a reply does not match its request.
	ErrUnexpectedResponse = errors.New("bacnet: unexpected response")

	// ErrMalformed is returned when a packet cannot be decoded.
	ErrMalformed = errors.New("bacnet: malformed packet")

	// ErrDeviceNotFound is returned when discovery ends without the requested device.
	ErrDeviceNotFound = errors.New("bacnet: device not found")
)

// Error classes.
const (
	ERROR_CLASS_DEVICE        uint32 = 0
	ERROR_CLASS_OBJECT        uint32 = 1
	ERROR_CLASS_PROPERTY      uint32 = 2
	ERROR_CLASS_RESOURCES     uint32 = 3
	ERROR_CLASS_SECURITY      uint32 = 4
	ERROR_CLASS_SERVICES      uint32 = 5
	ERROR_CLASS_VT            uint32 = 6
	ERROR_CLASS_COMMUNICATION uint32 = 7
)

var errorClassNames = map[uint32]string{
	ERROR_CLASS_DEVICE:        "device",
	ERROR_CLASS_OBJECT:        "object",
	ERROR_CLASS_PROPERTY:      "property",
	ERROR_CLASS_RESOURCES:     "resources",
	ERROR_CLASS_SECURITY:      "security",
	ERROR_CLASS_SERVICES:      "services",
	ERROR_CLASS_VT:            "vt",
	ERROR_CLASS_COMMUNICATION: "communication",
}

// Error codes.
const (
	ERROR_CODE_OTHER                            uint32 = 0
	ERROR_CODE_DEVICE_BUSY                      uint32 = 3
	ERROR_CODE_INCONSISTENT_PARAMETERS          uint32 = 7
	ERROR_CODE_INVALID_DATA_TYPE                uint32 = 9
	ERROR_CODE_MISSING_REQUIRED_PARAMETER       uint32 = 16
	ERROR_CODE_NO_SPACE_FOR_OBJECT              uint32 = 18
	ERROR_CODE_READ_ACCESS_DENIED               uint32 = 27
	ERROR_CODE_SERVICE_REQUEST_DENIED           uint32 = 29
	ERROR_CODE_TIMEOUT                          uint32 = 30
	ERROR_CODE_UNKNOWN_OBJECT                   uint32 = 31
	ERROR_CODE_UNKNOWN_PROPERTY                 uint32 = 32
	ERROR_CODE_UNSUPPORTED_OBJECT_TYPE          uint32 = 36
	ERROR_CODE_VALUE_OUT_OF_RANGE               uint32 = 37
	ERROR_CODE_WRITE_ACCESS_DENIED              uint32 = 40
	ERROR_CODE_INVALID_ARRAY_INDEX              uint32 = 42
	ERROR_CODE_COV_SUBSCRIPTION_FAILED          uint32 = 43
	ERROR_CODE_NOT_COV_PROPERTY                 uint32 = 44
	ERROR_CODE_OPTIONAL_FUNCTIONALITY_NOT_SUPP  uint32 = 45
	ERROR_CODE_PROPERTY_IS_NOT_AN_ARRAY         uint32 = 50
	ERROR_CODE_ABORT_SEGMENTATION_NOT_SUPPORTED uint32 = 54
	ERROR_CODE_UNKNOWN_SUBSCRIPTION             uint32 = 79
)

var errorCodeNames = map[uint32]string{
	ERROR_CODE_OTHER:                            "other",
	ERROR_CODE_DEVICE_BUSY:                      "deviceBusy",
	ERROR_CODE_INCONSISTENT_PARAMETERS:          "inconsistentParameters",
	ERROR_CODE_INVALID_DATA_TYPE:                "invalidDataType",
	ERROR_CODE_MISSING_REQUIRED_PARAMETER:       "missingRequiredParameter",
	ERROR_CODE_NO_SPACE_FOR_OBJECT:              "noSpaceForObject",
	ERROR_CODE_READ_ACCESS_DENIED:               "readAccessDenied",
	ERROR_CODE_SERVICE_REQUEST_DENIED:           "serviceRequestDenied",
	ERROR_CODE_TIMEOUT:                          "timeout",
	ERROR_CODE_UNKNOWN_OBJECT:                   "unknownObject",
	ERROR_CODE_UNKNOWN_PROPERTY:                 "unknownProperty",
	ERROR_CODE_UNSUPPORTED_OBJECT_TYPE:          "unsupportedObjectType",
	ERROR_CODE_VALUE_OUT_OF_RANGE:               "valueOutOfRange",
	ERROR_CODE_WRITE_ACCESS_DENIED:              "writeAccessDenied",
	ERROR_CODE_INVALID_ARRAY_INDEX:              "invalidArrayIndex",
	ERROR_CODE_COV_SUBSCRIPTION_FAILED:          "covSubscriptionFailed",
	ERROR_CODE_NOT_COV_PROPERTY:                 "notCovProperty",
	ERROR_CODE_OPTIONAL_FUNCTIONALITY_NOT_SUPP:  "optionalFunctionalityNotSupported",
	ERROR_CODE_PROPERTY_IS_NOT_AN_ARRAY:         "propertyIsNotAnArray",
	ERROR_CODE_ABORT_SEGMENTATION_NOT_SUPPORTED: "abortSegmentationNotSupported",
	ERROR_CODE_UNKNOWN_SUBSCRIPTION:             "unknownSubscription",
}

// Reject reasons.
const (
	REJECT_REASON_OTHER                       byte = 0
	REJECT_REASON_BUFFER_OVERFLOW             byte = 1
	REJECT_REASON_INCONSISTENT_PARAMETERS     byte = 2
	REJECT_REASON_INVALID_PARAMETER_DATA_TYPE byte = 3
	REJECT_REASON_INVALID_TAG                 byte = 4
	REJECT_REASON_MISSING_REQUIRED_PARAMETER  byte = 5
	REJECT_REASON_PARAMETER_OUT_OF_RANGE      byte = 6
	REJECT_REASON_TOO_MANY_ARGUMENTS          byte = 7
	REJECT_REASON_UNDEFINED_ENUMERATION       byte = 8
	REJECT_REASON_UNRECOGNIZED_SERVICE        byte = 9
)

var rejectReasonNames = map[byte]string{
	REJECT_REASON_OTHER:                       "other",
	REJECT_REASON_BUFFER_OVERFLOW:             "bufferOverflow",
	REJECT_REASON_INCONSISTENT_PARAMETERS:     "inconsistentParameters",
	REJECT_REASON_INVALID_PARAMETER_DATA_TYPE: "invalidParameterDatatype",
	REJECT_REASON_INVALID_TAG:                 "invalidTag",
	REJECT_REASON_MISSING_REQUIRED_PARAMETER:  "missingRequiredParameter",
	REJECT_REASON_PARAMETER_OUT_OF_RANGE:      "parameterOutOfRange",
	REJECT_REASON_TOO_MANY_ARGUMENTS:          "tooManyArguments",
	REJECT_REASON_UNDEFINED_ENUMERATION:       "undefinedEnumeration",
	REJECT_REASON_UNRECOGNIZED_SERVICE:        "unrecognizedService",
}

// Abort reasons.
const (
	ABORT_REASON_OTHER                           byte = 0
	ABORT_REASON_BUFFER_OVERFLOW                 byte = 1
	ABORT_REASON_INVALID_APDU_IN_THIS_STATE      byte = 2
	ABORT_REASON_PREEMPTED_BY_HIGHER_PRIORITY    byte = 3
	ABORT_REASON_SEGMENTATION_NOT_SUPPORTED      byte = 4
	ABORT_REASON_SECURITY_ERROR                  byte = 5
	ABORT_REASON_INSUFFICIENT_SECURITY           byte = 6
	ABORT_REASON_WINDOW_SIZE_OUT_OF_RANGE        byte = 7
	ABORT_REASON_APPLICATION_EXCEEDED_REPLY_TIME byte = 8
	ABORT_REASON_OUT_OF_RESOURCES                byte = 9
	ABORT_REASON_TSM_TIMEOUT                     byte = 10
	ABORT_REASON_APDU_TOO_LONG                   byte = 11
)

var abortReasonNames = map[byte]string{
	ABORT_REASON_OTHER:                           "other",
	ABORT_REASON_BUFFER_OVERFLOW:                 "bufferOverflow",
	ABORT_REASON_INVALID_APDU_IN_THIS_STATE:      "invalidApduInThisState",
	ABORT_REASON_PREEMPTED_BY_HIGHER_PRIORITY:    "preemptedByHigherPriorityTask",
	ABORT_REASON_SEGMENTATION_NOT_SUPPORTED:      "segmentationNotSupported",
	ABORT_REASON_SECURITY_ERROR:                  "securityError",
	ABORT_REASON_INSUFFICIENT_SECURITY:           "insufficientSecurity",
	ABORT_REASON_WINDOW_SIZE_OUT_OF_RANGE:        "windowSizeOutOfRange",
	ABORT_REASON_APPLICATION_EXCEEDED_REPLY_TIME: "applicationExceededReplyTime",
	ABORT_REASON_OUT_OF_RESOURCES:                "outOfResources",
	ABORT_REASON_TSM_TIMEOUT:                     "tsmTimeout",
	ABORT_REASON_APDU_TOO_LONG:                   "apduTooLong",
}

// ErrorPDU is a BACnet Error-PDU returned by a device, or sent by this client.
type ErrorPDU struct {
	Service byte
	Class   uint32
	Code    uint32
}

// ClassName returns the camelCase name of the error class.
func (e *ErrorPDU) ClassName() string {
	if name, ok := errorClassNames[e.Class]; ok {
		return name
	}
	return fmt.Sprintf("errorClass(%d)", e.Class)
}

// CodeName returns the camelCase name of the error code.
func (e *ErrorPDU) CodeName() string {
	if name, ok := errorCodeNames[e.Code]; ok {
		return name
	}
	return fmt.Sprintf("errorCode(%d)", e.Code)
}

func (e *ErrorPDU) Error() string {
	return fmt.Sprintf("bacnet: error PDU: %s - %s", e.ClassName(), e.CodeName())
}

// RejectError is a BACnet Reject-PDU.
type RejectError struct {
	Reason byte
}

// ReasonName returns the camelCase name of the reject reason.
func (e *RejectError) ReasonName() string {
	if name, ok := rejectReasonNames[e.Reason]; ok {
		return name
	}
	return fmt.Sprintf("rejectReason(%d)", e.Reason)
}

func (e *RejectError) Error() string {
	return "bacnet: reject PDU: " + e.ReasonName()
}

// AbortError is a BACnet Abort-PDU.
type AbortError struct {
	Reason byte
	Server bool
}

// ReasonName returns the camelCase name of the abort reason.
func (e *AbortError) ReasonName() string {
	if name, ok := abortReasonNames[e.Reason]; ok {
		return name
	}
	return fmt.Sprintf("abortReason(%d)", e.Reason)
}

func (e *AbortError) Error() string {
	return "bacnet: abort PDU: " + e.ReasonName()
}
