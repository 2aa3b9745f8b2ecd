package bacnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// pendingRequest is a confirmed request waiting for its reply.
type pendingRequest struct {
	peer    *net.UDPAddr
	service byte
	reply   chan frame
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a != nil && b != nil && a.IP.Equal(b.IP) && a.Port == b.Port
}

// completePending routes an ACK, Error, Reject or Abort to the request that
// owns its invoke ID. Replies from another peer are dropped.
func (c *BACnetClient) completePending(f frame) {
	if len(f.APDU) < 2 {
		return
	}
	invokeID := f.APDU[1]

	c.pendingMu.Lock()
	req, ok := c.pending[invokeID]
	if ok && sameAddr(req.peer, f.Source) {
		delete(c.pending, invokeID)
	} else {
		ok = false
	}
	c.pendingMu.Unlock()

	if !ok {
		c.log.Debug("dropping unmatched reply", "invoke_id", invokeID, "from", f.Source)
		return
	}
	req.reply <- f
}

func (c *BACnetClient) send(addr *net.UDPAddr, packet []byte) error {
	if _, err := c.conn.WriteToUDP(packet, addr); err != nil {
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	return nil
}

// confirmedRequest sends a confirmed service request and waits for its reply.
// It returns the service ACK parameters, which are empty for a Simple-ACK.
func (c *BACnetClient) confirmedRequest(ctx context.Context, addr *net.UDPAddr, service byte, params []byte) ([]byte, error) {
	req := &pendingRequest{peer: addr, service: service, reply: make(chan frame, 1)}

	c.pendingMu.Lock()
	invokeID, ok := c.invokeIDs.Next(func(id byte) bool {
		_, busy := c.pending[id]
		return busy
	})
	if ok {
		c.pending[invokeID] = req
	}
	c.pendingMu.Unlock()
	if !ok {
		return nil, ErrNoInvokeID
	}

	defer func() {
		c.pendingMu.Lock()
		if c.pending[invokeID] == req {
			delete(c.pending, invokeID)
		}
		c.pendingMu.Unlock()
	}()

	var apdu bytes.Buffer
	apdu.WriteByte(APDU_CONFIRMED_REQUEST)
	apdu.WriteByte(APDU_MAX_SEGMENTS_AND_APDU_1476)
	apdu.WriteByte(invokeID)
	apdu.WriteByte(service)
	apdu.Write(params)

	if err := c.send(addr, encodeFrame(BVLC_ORIGINAL_UNICAST_NPDU, true, apdu.Bytes())); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.options.Timeout)
	defer timer.Stop()

	select {
	case f := <-req.reply:
		return decodeReply(service, f.APDU)
	case <-timer.C:
		return nil, fmt.Errorf("service %d to %s: %w", service, addr, ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func decodeReply(service byte, apdu []byte) ([]byte, error) {
	switch apdu[0] & 0xF0 {
	case APDU_SIMPLE_ACK:
		if len(apdu) < 3 || apdu[2] != service {
			return nil, ErrUnexpectedResponse
		}
		return nil, nil
	case APDU_COMPLEX_ACK:
		if apdu[0]&APDU_FLAG_SEGMENTED != 0 {
			return nil, ErrSegmentationNotSupported
		}
		if len(apdu) < 3 || apdu[2] != service {
			return nil, ErrUnexpectedResponse
		}
		return apdu[3:], nil
	case APDU_ERROR:
		if len(apdu) < 3 {
			return nil, ErrMalformed
		}
		pduErr, err := parseErrorPDU(apdu[2], apdu[3:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode error PDU: %w", err)
		}
		return nil, pduErr
	case APDU_REJECT:
		if len(apdu) < 3 {
			return nil, ErrMalformed
		}
		return nil, &RejectError{Reason: apdu[2]}
	case APDU_ABORT:
		if len(apdu) < 3 {
			return nil, ErrMalformed
		}
		return nil, &AbortError{Reason: apdu[2], Server: apdu[0]&APDU_FLAG_ABORT_SERVER != 0}
	default:
		return nil, ErrUnexpectedResponse
	}
}

func (c *BACnetClient) sendUnconfirmed(addr *net.UDPAddr, service byte, params []byte) error {
	apdu := append([]byte{APDU_UNCONFIRMED_REQUEST, service}, params...)
	function := BVLC_ORIGINAL_UNICAST_NPDU
	if addr.IP.Equal(c.options.BroadcastAddr.IP) {
		function = BVLC_ORIGINAL_BROADCAST_NPDU
	}
	return c.send(addr, encodeFrame(function, false, apdu))
}

func (c *BACnetClient) sendReply(addr *net.UDPAddr, apdu []byte) {
	if err := c.send(addr, encodeFrame(BVLC_ORIGINAL_UNICAST_NPDU, false, apdu)); err != nil {
		c.log.Warn("failed to send reply", "to", addr, "error", err)
	}
}

func (c *BACnetClient) sendSimpleAck(addr *net.UDPAddr, invokeID, service byte) {
	c.sendReply(addr, []byte{APDU_SIMPLE_ACK, invokeID, service})
}

func (c *BACnetClient) sendError(addr *net.UDPAddr, invokeID, service byte, pduErr *ErrorPDU) {
	var apdu bytes.Buffer
	apdu.Write([]byte{APDU_ERROR, invokeID, service})
	encodeApplicationEnumerated(&apdu, pduErr.Class)
	encodeApplicationEnumerated(&apdu, pduErr.Code)
	c.sendReply(addr, apdu.Bytes())
}

func (c *BACnetClient) sendReject(addr *net.UDPAddr, invokeID, reason byte) {
	c.sendReply(addr, []byte{APDU_REJECT, invokeID, reason})
}

// sendAbort aborts a confirmed request this client received.
func (c *BACnetClient) sendAbort(addr *net.UDPAddr, invokeID, reason byte) {
	c.sendReply(addr, []byte{APDU_ABORT | APDU_FLAG_ABORT_SERVER, invokeID, reason})
}

// sendIAm broadcasts this client's I-Am.
func (c *BACnetClient) sendIAm() error {
	var params bytes.Buffer
	encodeApplicationObjectID(&params, BACnetObject{Type: OBJECT_DEVICE, Instance: c.options.DeviceID})
	encodeApplicationUnsigned(&params, uint32(c.options.MaxAPDU))
	encodeApplicationEnumerated(&params, SEGMENTATION_NONE)
	encodeApplicationUnsigned(&params, uint32(c.options.VendorID))
	return c.sendUnconfirmed(c.options.BroadcastAddr, SERVICE_UNCONFIRMED_I_AM, params.Bytes())
}

func encodeWhoIs(low, high *uint32) []byte {
	var params bytes.Buffer
	if low != nil && high != nil {
		encodeContextUnsigned(&params, 0, *low)
		encodeContextUnsigned(&params, 1, *high)
	}
	return params.Bytes()
}

// WhoIs broadcasts a Who-Is, limited to [low, high] when both are set, and
// collects I-Am replies until the client timeout or ctx ends. Each device
// is reported once.
func (c *BACnetClient) WhoIs(ctx context.Context, low, high *uint32) ([]DeviceInfo, error) {
	id, replies := c.addIAmWaiter()
	defer c.removeIAmWaiter(id)

	if err := c.sendUnconfirmed(c.options.BroadcastAddr, SERVICE_UNCONFIRMED_WHO_IS, encodeWhoIs(low, high)); err != nil {
		return nil, fmt.Errorf("failed to send Who-Is: %w", err)
	}

	timer := time.NewTimer(c.options.Timeout)
	defer timer.Stop()

	seen := make(map[uint32]bool)
	var devices []DeviceInfo
	for {
		select {
		case device := <-replies:
			if low != nil && high != nil && (device.DeviceID < *low || device.DeviceID > *high) {
				continue
			}
			if seen[device.DeviceID] {
				continue
			}
			seen[device.DeviceID] = true
			devices = append(devices, device)
		case <-timer.C:
			return devices, nil
		case <-ctx.Done():
			return devices, nil
		case <-c.done:
			return devices, ErrClosed
		}
	}
}

// FindDevice sends a Who-Is ranged to deviceID and returns the first I-Am from it.
func (c *BACnetClient) FindDevice(ctx context.Context, deviceID uint32) (DeviceInfo, error) {
	id, replies := c.addIAmWaiter()
	defer c.removeIAmWaiter(id)

	if err := c.sendUnconfirmed(c.options.BroadcastAddr, SERVICE_UNCONFIRMED_WHO_IS, encodeWhoIs(&deviceID, &deviceID)); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to send Who-Is: %w", err)
	}

	timer := time.NewTimer(c.options.Timeout)
	defer timer.Stop()

	for {
		select {
		case device := <-replies:
			if device.DeviceID == deviceID {
				return device, nil
			}
		case <-timer.C:
			return DeviceInfo{}, fmt.Errorf("device %d: %w", deviceID, ErrDeviceNotFound)
		case <-ctx.Done():
			return DeviceInfo{}, ctx.Err()
		case <-c.done:
			return DeviceInfo{}, ErrClosed
		}
	}
}

// ReadProperty reads one property, or one array element when index is set.
// Lists come back as []interface{}.
func (c *BACnetClient) ReadProperty(ctx context.Context, device DeviceInfo, object BACnetObject, property PropertyIdentifier, index *uint32) (interface{}, error) {
	var params bytes.Buffer
	encodeContextObjectID(&params, 0, object)
	encodeContextEnumerated(&params, 1, uint32(property))
	if index != nil {
		encodeContextUnsigned(&params, 2, *index)
	}

	ack, err := c.confirmedRequest(ctx, device.Addr(), SERVICE_CONFIRMED_READ_PROPERTY, params.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s of %s: %w", property, object, err)
	}

	gotObject, pv, err := parseReadPropertyACK(ack)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ReadProperty-ACK: %w", err)
	}
	if gotObject != object || pv.PropertyID != property {
		return nil, fmt.Errorf("ReadProperty-ACK for %s %s: %w", gotObject, pv.PropertyID, ErrUnexpectedResponse)
	}
	return pv.Value, nil
}

func isSegmentationFailure(err error) bool {
	if errors.Is(err, ErrSegmentationNotSupported) {
		return true
	}
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		return abortErr.Reason == ABORT_REASON_SEGMENTATION_NOT_SUPPORTED || abortErr.Reason == ABORT_REASON_BUFFER_OVERFLOW
	}
	var pduErr *ErrorPDU
	if errors.As(err, &pduErr) {
		return pduErr.Code == ERROR_CODE_ABORT_SEGMENTATION_NOT_SUPPORTED
	}
	return false
}

// maxObjectListLength bounds the element count a device may report when the
// object list is read element by element.
const maxObjectListLength = 65535

// ReadObjectList reads the device's object list. When the list does not fit in
// one APDU it reads the array length and then every element on its own.
func (c *BACnetClient) ReadObjectList(ctx context.Context, device DeviceInfo) ([]BACnetObject, error) {
	deviceObject := BACnetObject{Type: OBJECT_DEVICE, Instance: device.DeviceID}

	value, err := c.ReadProperty(ctx, device, deviceObject, PROP_OBJECT_LIST, nil)
	if err == nil {
		return toObjects(value)
	}
	if !isSegmentationFailure(err) {
		return nil, err
	}

	c.log.Debug("object list too large, reading elements", "device", device.DeviceID)
	zero := uint32(0)
	lengthValue, err := c.ReadProperty(ctx, device, deviceObject, PROP_OBJECT_LIST, &zero)
	if err != nil {
		return nil, err
	}
	length, ok := lengthValue.(uint32)
	if !ok {
		return nil, fmt.Errorf("object list length is %T: %w", lengthValue, ErrUnexpectedResponse)
	}
	if length > maxObjectListLength {
		return nil, fmt.Errorf("object list length %d exceeds %d: %w", length, maxObjectListLength, ErrUnexpectedResponse)
	}

	objects := make([]BACnetObject, 0, length)
	for i := uint32(1); i <= length; i++ {
		index := i
		v, err := c.ReadProperty(ctx, device, deviceObject, PROP_OBJECT_LIST, &index)
		if err != nil {
			return nil, err
		}
		object, ok := v.(BACnetObject)
		if !ok {
			return nil, fmt.Errorf("object list element %d is %T: %w", i, v, ErrUnexpectedResponse)
		}
		objects = append(objects, object)
	}
	return objects, nil
}

func toObjects(value interface{}) ([]BACnetObject, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case BACnetObject:
		return []BACnetObject{v}, nil
	case []interface{}:
		objects := make([]BACnetObject, 0, len(v))
		for _, item := range v {
			object, ok := item.(BACnetObject)
			if !ok {
				return nil, fmt.Errorf("object list contains %T: %w", item, ErrUnexpectedResponse)
			}
			objects = append(objects, object)
		}
		return objects, nil
	default:
		return nil, fmt.Errorf("object list is %T: %w", value, ErrUnexpectedResponse)
	}
}

// readMultiple issues one ReadPropertyMultiple asking every object for every property.
func (c *BACnetClient) readMultiple(ctx context.Context, device DeviceInfo, objects []BACnetObject, properties []PropertyIdentifier) ([]ReadAccessResult, error) {
	var params bytes.Buffer
	for _, object := range objects {
		encodeContextObjectID(&params, 0, object)
		encodeOpeningTag(&params, 1)
		for _, property := range properties {
			encodeContextEnumerated(&params, 0, uint32(property))
		}
		encodeClosingTag(&params, 1)
	}

	ack, err := c.confirmedRequest(ctx, device.Addr(), SERVICE_CONFIRMED_READ_PROPERTY_MULTIPLE, params.Bytes())
	if err != nil {
		return nil, err
	}
	results, err := parseReadPropertyMultipleACK(ack)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ReadPropertyMultiple-ACK: %w", err)
	}
	return results, nil
}

// ReadPropertyMultiple reads several properties of one object in one request.
func (c *BACnetClient) ReadPropertyMultiple(ctx context.Context, device DeviceInfo, object BACnetObject, properties []PropertyIdentifier) (ReadAccessResult, error) {
	results, err := c.readMultiple(ctx, device, []BACnetObject{object}, properties)
	if err != nil {
		return ReadAccessResult{}, fmt.Errorf("failed to read properties of %s: %w", object, err)
	}
	for _, res := range results {
		if res.Object == object {
			return res, nil
		}
	}
	return ReadAccessResult{}, fmt.Errorf("no result for %s: %w", object, ErrUnexpectedResponse)
}

// ReadAllProperties reads every property of an object through the ALL selector.
func (c *BACnetClient) ReadAllProperties(ctx context.Context, device DeviceInfo, object BACnetObject) (ReadAccessResult, error) {
	return c.ReadPropertyMultiple(ctx, device, object, []PropertyIdentifier{PROP_ALL})
}

// ReadPropertyFromObjects reads one property of many objects in a single
// ReadPropertyMultiple. Objects whose read failed are absent from the map.
func (c *BACnetClient) ReadPropertyFromObjects(ctx context.Context, device DeviceInfo, objects []BACnetObject, property PropertyIdentifier) (map[BACnetObject]interface{}, error) {
	results, err := c.readMultiple(ctx, device, objects, []PropertyIdentifier{property})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s of %d objects: %w", property, len(objects), err)
	}
	values := make(map[BACnetObject]interface{}, len(results))
	for _, res := range results {
		for _, pv := range res.Values {
			if pv.PropertyID == property {
				values[res.Object] = pv.Value
			}
		}
	}
	return values, nil
}
