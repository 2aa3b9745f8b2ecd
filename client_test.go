package bacnet

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopback = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}

// fakeDevice is a loopback BACnet/IP peer that answers Who-Is and hands
// confirmed requests to a handler.
type fakeDevice struct {
	id       uint32
	conn     *net.UDPConn
	handle   func(invokeID, service byte, params []byte) []byte
	received chan frame
}

func newFakeDevice(t *testing.T, id uint32, handle func(invokeID, service byte, params []byte) []byte) *fakeDevice {
	t.Helper()
	conn, err := net.ListenUDP("udp4", loopback)
	require.NoError(t, err)

	d := &fakeDevice{id: id, conn: conn, handle: handle, received: make(chan frame, 16)}
	go d.serve()
	t.Cleanup(func() { _ = conn.Close() })
	return d
}

func (d *fakeDevice) addr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

func (d *fakeDevice) serve() {
	buf := make([]byte, 2048)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packet := append([]byte(nil), buf[:n]...)
		f, err := decodeFrame(packet, from)
		if err != nil || len(f.APDU) < 2 {
			continue
		}

		switch f.APDU[0] & 0xF0 {
		case APDU_UNCONFIRMED_REQUEST:
			if f.APDU[1] == SERVICE_UNCONFIRMED_WHO_IS {
				low, high, err := parseWhoIs(f.APDU[2:])
				if err == nil && (low == nil || (d.id >= *low && d.id <= *high)) {
					d.sendIAm(from)
				}
				continue
			}
		case APDU_CONFIRMED_REQUEST:
			if len(f.APDU) >= 4 && d.handle != nil {
				if reply := d.handle(f.APDU[2], f.APDU[3], f.APDU[4:]); reply != nil {
					_, _ = d.conn.WriteToUDP(encodeFrame(BVLC_ORIGINAL_UNICAST_NPDU, false, reply), from)
				}
				continue
			}
		}
		select {
		case d.received <- f:
		default:
		}
	}
}

func (d *fakeDevice) sendIAm(to *net.UDPAddr) {
	var params bytes.Buffer
	encodeApplicationObjectID(&params, BACnetObject{Type: OBJECT_DEVICE, Instance: d.id})
	encodeApplicationUnsigned(&params, 1476)
	encodeApplicationEnumerated(&params, SEGMENTATION_NONE)
	encodeApplicationUnsigned(&params, 260)
	apdu := append([]byte{APDU_UNCONFIRMED_REQUEST, SERVICE_UNCONFIRMED_I_AM}, params.Bytes()...)
	_, _ = d.conn.WriteToUDP(encodeFrame(BVLC_ORIGINAL_UNICAST_NPDU, false, apdu), to)
}

func (d *fakeDevice) sendTo(to *net.UDPAddr, apdu []byte) {
	_, _ = d.conn.WriteToUDP(encodeFrame(BVLC_ORIGINAL_UNICAST_NPDU, true, apdu), to)
}

func (d *fakeDevice) expectFrame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-d.received:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame at fake device")
		return frame{}
	}
}

func newTestClient(t *testing.T, device *fakeDevice) *BACnetClient {
	t.Helper()
	client, err := NewClient(ClientOptions{
		LocalAddr:     loopback,
		BroadcastAddr: device.addr(),
		Timeout:       500 * time.Millisecond,
		DeviceID:      599,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func complexAck(invokeID, service byte, params []byte) []byte {
	return append([]byte{APDU_COMPLEX_ACK, invokeID, service}, params...)
}

// decodeReadProperty extracts the object, property and optional index of a ReadProperty request.
func decodeReadProperty(t *testing.T, params []byte) (BACnetObject, PropertyIdentifier, *uint32) {
	r := bytes.NewReader(params)
	object, err := expectContextObjectID(r, 0)
	assert.NoError(t, err)
	prop, err := expectContextUnsigned(r, 1)
	assert.NoError(t, err)
	index, err := optionalContextUnsigned(r, 2)
	assert.NoError(t, err)
	return object, PropertyIdentifier(prop), index
}

func readPropertyAck(object BACnetObject, prop PropertyIdentifier, index *uint32, values ...interface{}) []byte {
	var params bytes.Buffer
	encodeContextObjectID(&params, 0, object)
	encodeContextEnumerated(&params, 1, uint32(prop))
	if index != nil {
		encodeContextUnsigned(&params, 2, *index)
	}
	encodeOpeningTag(&params, 3)
	for _, v := range values {
		encodeApplicationValue(&params, v)
	}
	encodeClosingTag(&params, 3)
	return params.Bytes()
}

var testObjects = []interface{}{
	BACnetObject{Type: OBJECT_DEVICE, Instance: 10},
	BACnetObject{Type: OBJECT_ANALOG_INPUT, Instance: 1},
	BACnetObject{Type: OBJECT_BINARY_VALUE, Instance: 1},
}

func TestFindDevice(t *testing.T) {
	device := newFakeDevice(t, 10, nil)
	client := newTestClient(t, device)

	info, err := client.FindDevice(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), info.DeviceID)
	assert.Equal(t, device.addr().String(), info.Addr().String())

	_, err = client.FindDevice(context.Background(), 11)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestWhoIsCollectsDevices(t *testing.T) {
	device := newFakeDevice(t, 10, nil)
	client := newTestClient(t, device)

	devices, err := client.WhoIs(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, uint32(10), devices[0].DeviceID)
}

func TestReadObjectList(t *testing.T) {
	device := newFakeDevice(t, 10, func(invokeID, service byte, params []byte) []byte {
		if service != SERVICE_CONFIRMED_READ_PROPERTY {
			return []byte{APDU_REJECT, invokeID, REJECT_REASON_UNRECOGNIZED_SERVICE}
		}
		object, prop, index := decodeReadProperty(t, params)
		if prop != PROP_OBJECT_LIST || index != nil {
			return []byte{APDU_ERROR, invokeID, service, 0x91, 0x02, 0x91, 0x20}
		}
		return complexAck(invokeID, service, readPropertyAck(object, prop, nil, testObjects...))
	})
	client := newTestClient(t, device)

	info, err := client.FindDevice(context.Background(), 10)
	require.NoError(t, err)

	objects, err := client.ReadObjectList(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, []BACnetObject{
		{Type: OBJECT_DEVICE, Instance: 10},
		{Type: OBJECT_ANALOG_INPUT, Instance: 1},
		{Type: OBJECT_BINARY_VALUE, Instance: 1},
	}, objects)

	_, err = client.ReadProperty(context.Background(), info, BACnetObject{Type: OBJECT_DEVICE, Instance: 10}, PROP_OBJECT_NAME, nil)
	var pduErr *ErrorPDU
	require.True(t, errors.As(err, &pduErr))
	assert.Equal(t, "property - unknownProperty", pduErr.ClassName()+" - "+pduErr.CodeName())
}

func TestReadObjectListFallsBackToElements(t *testing.T) {
	device := newFakeDevice(t, 10, func(invokeID, service byte, params []byte) []byte {
		object, prop, index := decodeReadProperty(t, params)
		switch {
		case index == nil:
			return []byte{APDU_ABORT | APDU_FLAG_ABORT_SERVER, invokeID, ABORT_REASON_SEGMENTATION_NOT_SUPPORTED}
		case *index == 0:
			return complexAck(invokeID, service, readPropertyAck(object, prop, index, uint32(len(testObjects))))
		default:
			return complexAck(invokeID, service, readPropertyAck(object, prop, index, testObjects[*index-1]))
		}
	})
	client := newTestClient(t, device)

	info, err := client.FindDevice(context.Background(), 10)
	require.NoError(t, err)

	objects, err := client.ReadObjectList(context.Background(), info)
	require.NoError(t, err)
	require.Len(t, objects, 3)
	assert.Equal(t, BACnetObject{Type: OBJECT_BINARY_VALUE, Instance: 1}, objects[2])
}

func TestReadObjectListRejectsHugeLength(t *testing.T) {
	var elementReads int
	device := newFakeDevice(t, 10, func(invokeID, service byte, params []byte) []byte {
		object, prop, index := decodeReadProperty(t, params)
		switch {
		case index == nil:
			return []byte{APDU_ABORT | APDU_FLAG_ABORT_SERVER, invokeID, ABORT_REASON_SEGMENTATION_NOT_SUPPORTED}
		case *index == 0:
			return complexAck(invokeID, service, readPropertyAck(object, prop, index, uint32(0xFFFFFFF0)))
		default:
			elementReads++
			return complexAck(invokeID, service, readPropertyAck(object, prop, index, testObjects[0]))
		}
	})
	client := newTestClient(t, device)

	info, err := client.FindDevice(context.Background(), 10)
	require.NoError(t, err)

	_, err = client.ReadObjectList(context.Background(), info)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Contains(t, err.Error(), "exceeds 65535")
	assert.Zero(t, elementReads)
}

func TestSubscribeCOVResults(t *testing.T) {
	device := newFakeDevice(t, 10, func(invokeID, service byte, params []byte) []byte {
		r := bytes.NewReader(params)
		_, _ = expectContextUnsigned(r, 0)
		object, _ := expectContextObjectID(r, 1)
		switch object.Type {
		case OBJECT_ANALOG_INPUT:
			return []byte{APDU_SIMPLE_ACK, invokeID, service}
		case OBJECT_BINARY_INPUT:
			return []byte{APDU_REJECT, invokeID, REJECT_REASON_INVALID_TAG}
		default:
			return []byte{APDU_ERROR, invokeID, service, 0x91, 0x01, 0x91, 0x1F}
		}
	})
	client := newTestClient(t, device)

	info, err := client.FindDevice(context.Background(), 10)
	require.NoError(t, err)

	err = client.SubscribeCOV(context.Background(), info, SubscribeCOVRequest{ProcessID: 1, Object: BACnetObject{Type: OBJECT_ANALOG_INPUT, Instance: 1}})
	require.NoError(t, err)

	err = client.SubscribeCOV(context.Background(), info, SubscribeCOVRequest{ProcessID: 2, Object: BACnetObject{Type: OBJECT_BINARY_INPUT, Instance: 1}})
	var rejectErr *RejectError
	require.True(t, errors.As(err, &rejectErr))
	assert.Equal(t, "invalidTag", rejectErr.ReasonName())

	err = client.SubscribeCOV(context.Background(), info, SubscribeCOVRequest{ProcessID: 3, Object: BACnetObject{Type: OBJECT_ANALOG_VALUE, Instance: 9}})
	var pduErr *ErrorPDU
	require.True(t, errors.As(err, &pduErr))
	assert.Equal(t, "unknownObject", pduErr.CodeName())

	require.NoError(t, client.CancelCOV(context.Background(), info, SubscribeCOVRequest{ProcessID: 1, Object: BACnetObject{Type: OBJECT_ANALOG_INPUT, Instance: 1}}))
}

func TestConfirmedRequestTimeout(t *testing.T) {
	device := newFakeDevice(t, 10, func(invokeID, service byte, params []byte) []byte { return nil })
	client := newTestClient(t, device)

	info, err := client.FindDevice(context.Background(), 10)
	require.NoError(t, err)

	_, err = client.ReadProperty(context.Background(), info, BACnetObject{Type: OBJECT_DEVICE, Instance: 10}, PROP_OBJECT_NAME, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestConfirmedNotificationReplies(t *testing.T) {
	device := newFakeDevice(t, 10, nil)
	client := newTestClient(t, device)

	notifications := make(chan COVNotification, 1)
	client.HandleCOV(func(n COVNotification) error {
		if n.SubscriberProcessIdentifier != 1 {
			return &ErrorPDU{Class: ERROR_CLASS_SERVICES, Code: ERROR_CODE_UNKNOWN_SUBSCRIPTION}
		}
		notifications <- n
		return nil
	})

	values := func(b *bytes.Buffer) {
		encodeContextEnumerated(b, 0, uint32(PROP_PRESENT_VALUE))
		encodeOpeningTag(b, 2)
		encodeApplicationValue(b, float32(72))
		encodeClosingTag(b, 2)
	}

	apdu := append([]byte{APDU_CONFIRMED_REQUEST, APDU_MAX_SEGMENTS_AND_APDU_1476, 7, SERVICE_CONFIRMED_COV_NOTIFICATION}, encodeTestNotification(1, values)...)
	device.sendTo(client.LocalAddr(), apdu)

	f := device.expectFrame(t)
	assert.Equal(t, []byte{APDU_SIMPLE_ACK, 7, SERVICE_CONFIRMED_COV_NOTIFICATION}, f.APDU)

	select {
	case n := <-notifications:
		assert.True(t, n.Confirmed)
		assert.Equal(t, float32(72), n.ListOfValues[0].Value)
		assert.Equal(t, device.addr().String(), n.Source.String())
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	apdu = append([]byte{APDU_CONFIRMED_REQUEST, APDU_MAX_SEGMENTS_AND_APDU_1476, 8, SERVICE_CONFIRMED_COV_NOTIFICATION}, encodeTestNotification(42, values)...)
	device.sendTo(client.LocalAddr(), apdu)

	f = device.expectFrame(t)
	assert.Equal(t, []byte{APDU_ERROR, 8, SERVICE_CONFIRMED_COV_NOTIFICATION, 0x91, 0x05, 0x91, 0x4F}, f.APDU)
}

func TestUnknownConfirmedServiceIsRejected(t *testing.T) {
	device := newFakeDevice(t, 10, nil)
	client := newTestClient(t, device)

	device.sendTo(client.LocalAddr(), []byte{APDU_CONFIRMED_REQUEST, APDU_MAX_SEGMENTS_AND_APDU_1476, 3, SERVICE_CONFIRMED_READ_PROPERTY})

	f := device.expectFrame(t)
	assert.Equal(t, []byte{APDU_REJECT, 3, REJECT_REASON_UNRECOGNIZED_SERVICE}, f.APDU)
}

func TestClientAnswersWhoIs(t *testing.T) {
	device := newFakeDevice(t, 10, nil)
	client := newTestClient(t, device)

	id := uint32(599)
	apdu := append([]byte{APDU_UNCONFIRMED_REQUEST, SERVICE_UNCONFIRMED_WHO_IS}, encodeWhoIs(&id, &id)...)
	device.sendTo(client.LocalAddr(), apdu)

	f := device.expectFrame(t)
	require.Equal(t, SERVICE_UNCONFIRMED_I_AM, f.APDU[1])
	info, err := parseIAm(f.APDU[2:], f.Source)
	require.NoError(t, err)
	assert.Equal(t, uint32(599), info.DeviceID)
	assert.Equal(t, uint32(BACNET_MAX_APDU), info.MaxAPDU)
	assert.Equal(t, SEGMENTATION_NONE, info.Segmentation)
	assert.Equal(t, uint32(BACNET_VENDOR_ID), info.VendorID)
}

func TestRepliesFromOtherPeersAreDropped(t *testing.T) {
	device := newFakeDevice(t, 10, func(invokeID, service byte, params []byte) []byte { return nil })
	impostor := newFakeDevice(t, 11, nil)
	client := newTestClient(t, device)

	info, err := client.FindDevice(context.Background(), 10)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := client.ReadProperty(context.Background(), info, BACnetObject{Type: OBJECT_DEVICE, Instance: 10}, PROP_OBJECT_NAME, nil)
		done <- err
	}()

	// Invoke IDs start at 1 for a fresh client.
	time.Sleep(50 * time.Millisecond)
	impostor.sendTo(client.LocalAddr(), complexAck(1, SERVICE_CONFIRMED_READ_PROPERTY,
		readPropertyAck(BACnetObject{Type: OBJECT_DEVICE, Instance: 10}, PROP_OBJECT_NAME, nil, "spoofed")))

	assert.ErrorIs(t, <-done, ErrTimeout)
}
