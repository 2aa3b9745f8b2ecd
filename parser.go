package bacnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frame is a received BACnet/IP packet with BVLC and NPDU stripped.
type frame struct {
	Function byte
	Control  byte
	// Source is the originating BACnet/IP address. For Forwarded-NPDU frames
	// this is the address carried in the BVLC, not the forwarding BBMD.
	Source *net.UDPAddr
	APDU   []byte
}

func decodeFrame(data []byte, addr *net.UDPAddr) (frame, error) {
	r := bytes.NewReader(data)

	bvlc := BVLCHeader{}
	if err := binary.Read(r, binary.BigEndian, &bvlc); err != nil {
		return frame{}, fmt.Errorf("error reading BVLC header: %w", ErrMalformed)
	}
	if bvlc.Type != BVLC_TYPE_BACNET_IP {
		return frame{}, fmt.Errorf("not a BACnet/IP packet: %w", ErrMalformed)
	}
	if int(bvlc.Length) != len(data) {
		return frame{}, fmt.Errorf("BVLC length %d does not match packet length %d: %w", bvlc.Length, len(data), ErrMalformed)
	}

	f := frame{Function: bvlc.Function, Source: addr}
	switch bvlc.Function {
	case BVLC_ORIGINAL_UNICAST_NPDU, BVLC_ORIGINAL_BROADCAST_NPDU:
	case BVLC_FORWARDED_NPDU:
		var orig [6]byte
		if _, err := io.ReadFull(r, orig[:]); err != nil {
			return frame{}, fmt.Errorf("error reading forwarded address: %w", ErrMalformed)
		}
		f.Source = &net.UDPAddr{
			IP:   net.IPv4(orig[0], orig[1], orig[2], orig[3]),
			Port: int(binary.BigEndian.Uint16(orig[4:])),
		}
	default:
		return frame{}, fmt.Errorf("unsupported BVLC function 0x%02x", bvlc.Function)
	}

	npdu := NPDU{}
	if err := binary.Read(r, binary.BigEndian, &npdu); err != nil {
		return frame{}, fmt.Errorf("error reading NPDU header: %w", ErrMalformed)
	}
	if npdu.Version != 0x01 {
		return frame{}, fmt.Errorf("unsupported NPDU version %d: %w", npdu.Version, ErrMalformed)
	}
	f.Control = npdu.Control

	if npdu.Control&NPDU_CONTROL_DESTINATION_SPECIFIER != 0 {
		if err := skipNetworkAddress(r); err != nil {
			return frame{}, fmt.Errorf("error reading NPDU destination: %w", err)
		}
	}
	if npdu.Control&NPDU_CONTROL_SOURCE_SPECIFIER != 0 {
		if err := skipNetworkAddress(r); err != nil {
			return frame{}, fmt.Errorf("error reading NPDU source: %w", err)
		}
	}
	if npdu.Control&NPDU_CONTROL_DESTINATION_SPECIFIER != 0 {
		if _, err := r.ReadByte(); err != nil {
			return frame{}, fmt.Errorf("error reading hop count: %w", ErrMalformed)
		}
	}

	f.APDU = data[len(data)-r.Len():]
	return f, nil
}

// skipNetworkAddress consumes a NET (2), LEN (1), ADR (LEN) triple.
func skipNetworkAddress(r *bytes.Reader) error {
	var network uint16
	if err := binary.Read(r, binary.BigEndian, &network); err != nil {
		return ErrMalformed
	}
	length, err := r.ReadByte()
	if err != nil {
		return ErrMalformed
	}
	if int(length) > r.Len() {
		return ErrMalformed
	}
	_, err = r.Seek(int64(length), io.SeekCurrent)
	return err
}

// parseIAm decodes I-Am service parameters.
func parseIAm(params []byte, addr *net.UDPAddr) (DeviceInfo, error) {
	r := bytes.NewReader(params)

	t, err := expectApplicationTag(r, TAG_OBJECT_IDENTIFIER)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to read object identifier tag: %w", err)
	}
	object, err := readObjectID(r, t.Length)
	if err != nil {
		return DeviceInfo{}, err
	}
	if object.Type != OBJECT_DEVICE {
		return DeviceInfo{}, fmt.Errorf("I-Am object %s is not a device: %w", object, ErrMalformed)
	}

	if t, err = expectApplicationTag(r, TAG_UNSIGNED_INT); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to read max APDU tag: %w", err)
	}
	maxAPDU, err := readUnsigned(r, t.Length)
	if err != nil {
		return DeviceInfo{}, err
	}

	if t, err = expectApplicationTag(r, TAG_ENUMERATED); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to read segmentation tag: %w", err)
	}
	segmentation, err := readUnsigned(r, t.Length)
	if err != nil {
		return DeviceInfo{}, err
	}

	if t, err = expectApplicationTag(r, TAG_UNSIGNED_INT); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to read vendor ID tag: %w", err)
	}
	vendorID, err := readUnsigned(r, t.Length)
	if err != nil {
		return DeviceInfo{}, err
	}

	return DeviceInfo{
		DeviceID:     object.Instance,
		IPAddress:    addr.IP,
		Port:         addr.Port,
		MaxAPDU:      maxAPDU,
		Segmentation: segmentation,
		VendorID:     vendorID,
	}, nil
}

// parseWhoIs decodes the optional device instance range of a Who-Is.
func parseWhoIs(params []byte) (low, high *uint32, err error) {
	if len(params) == 0 {
		return nil, nil, nil
	}
	r := bytes.NewReader(params)
	l, err := expectContextUnsigned(r, 0)
	if err != nil {
		return nil, nil, err
	}
	h, err := expectContextUnsigned(r, 1)
	if err != nil {
		return nil, nil, err
	}
	return &l, &h, nil
}

// parsePropertyValues decodes a SEQUENCE OF BACnetPropertyValue up to the
// closing tag with the given number.
func parsePropertyValues(r *bytes.Reader, closing byte) ([]BACnetPropertyValue, error) {
	var values []BACnetPropertyValue
	for {
		t, ok := peekTag(r)
		if !ok {
			return nil, fmt.Errorf("unterminated property value list: %w", ErrMalformed)
		}
		if t.isClosing(closing) {
			_, _ = readTag(r)
			return values, nil
		}

		var pv BACnetPropertyValue
		prop, err := expectContextUnsigned(r, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to read property identifier: %w", err)
		}
		pv.PropertyID = PropertyIdentifier(prop)

		if pv.ArrayIndex, err = optionalContextUnsigned(r, 1); err != nil {
			return nil, err
		}

		if err := expectOpening(r, 2); err != nil {
			return nil, fmt.Errorf("failed to read value of %s: %w", pv.PropertyID, err)
		}
		vals, err := decodeValues(r, 2)
		if err != nil {
			return nil, fmt.Errorf("failed to decode value of %s: %w", pv.PropertyID, err)
		}
		pv.Value = singleValue(vals)

		priority, err := optionalContextUnsigned(r, 3)
		if err != nil {
			return nil, err
		}
		if priority != nil {
			p := uint8(*priority)
			pv.Priority = &p
		}
		values = append(values, pv)
	}
}

// parseCOVNotification decodes the parameters of a confirmed or unconfirmed
// COV notification.
func parseCOVNotification(params []byte) (COVNotification, error) {
	r := bytes.NewReader(params)
	var n COVNotification
	var err error

	if n.SubscriberProcessIdentifier, err = expectContextUnsigned(r, 0); err != nil {
		return n, fmt.Errorf("failed to read subscriber process identifier: %w", err)
	}
	if n.InitiatingDeviceIdentifier, err = expectContextObjectID(r, 1); err != nil {
		return n, fmt.Errorf("failed to read initiating device identifier: %w", err)
	}
	if n.MonitoredObjectIdentifier, err = expectContextObjectID(r, 2); err != nil {
		return n, fmt.Errorf("failed to read monitored object identifier: %w", err)
	}
	if n.TimeRemaining, err = expectContextUnsigned(r, 3); err != nil {
		return n, fmt.Errorf("failed to read time remaining: %w", err)
	}
	if err := expectOpening(r, 4); err != nil {
		return n, fmt.Errorf("failed to read list of values: %w", err)
	}
	if n.ListOfValues, err = parsePropertyValues(r, 4); err != nil {
		return n, err
	}
	return n, nil
}

// parseReadPropertyACK decodes ReadProperty-ACK parameters.
func parseReadPropertyACK(params []byte) (BACnetObject, BACnetPropertyValue, error) {
	r := bytes.NewReader(params)
	var pv BACnetPropertyValue

	object, err := expectContextObjectID(r, 0)
	if err != nil {
		return object, pv, fmt.Errorf("failed to read object identifier: %w", err)
	}
	prop, err := expectContextUnsigned(r, 1)
	if err != nil {
		return object, pv, fmt.Errorf("failed to read property identifier: %w", err)
	}
	pv.PropertyID = PropertyIdentifier(prop)
	if pv.ArrayIndex, err = optionalContextUnsigned(r, 2); err != nil {
		return object, pv, err
	}
	if err := expectOpening(r, 3); err != nil {
		return object, pv, fmt.Errorf("failed to read property value: %w", err)
	}
	vals, err := decodeValues(r, 3)
	if err != nil {
		return object, pv, err
	}
	pv.Value = singleValue(vals)
	return object, pv, nil
}

// ReadAccessResult is one object's part of a ReadPropertyMultiple-ACK.
type ReadAccessResult struct {
	Object BACnetObject
	Values []BACnetPropertyValue
	// Errors holds per-property access errors, keyed by property.
	Errors map[PropertyIdentifier]*ErrorPDU
}

// parseReadPropertyMultipleACK decodes ReadPropertyMultiple-ACK parameters.
func parseReadPropertyMultipleACK(params []byte) ([]ReadAccessResult, error) {
	r := bytes.NewReader(params)
	var results []ReadAccessResult

	for r.Len() > 0 {
		var res ReadAccessResult
		var err error
		if res.Object, err = expectContextObjectID(r, 0); err != nil {
			return nil, fmt.Errorf("failed to read object identifier: %w", err)
		}
		if err := expectOpening(r, 1); err != nil {
			return nil, fmt.Errorf("failed to read list of results: %w", err)
		}

		for {
			t, ok := peekTag(r)
			if !ok {
				return nil, fmt.Errorf("unterminated list of results: %w", ErrMalformed)
			}
			if t.isClosing(1) {
				_, _ = readTag(r)
				break
			}

			var pv BACnetPropertyValue
			prop, err := expectContextUnsigned(r, 2)
			if err != nil {
				return nil, fmt.Errorf("failed to read property identifier: %w", err)
			}
			pv.PropertyID = PropertyIdentifier(prop)
			if pv.ArrayIndex, err = optionalContextUnsigned(r, 3); err != nil {
				return nil, err
			}

			t, err = readTag(r)
			if err != nil {
				return nil, err
			}
			switch {
			case t.isOpening(4):
				vals, err := decodeValues(r, 4)
				if err != nil {
					return nil, fmt.Errorf("failed to decode value of %s: %w", pv.PropertyID, err)
				}
				pv.Value = singleValue(vals)
				res.Values = append(res.Values, pv)
			case t.isOpening(5):
				pduErr, err := parseErrorBody(r)
				if err != nil {
					return nil, err
				}
				if err := expectClosing(r, 5); err != nil {
					return nil, err
				}
				if res.Errors == nil {
					res.Errors = make(map[PropertyIdentifier]*ErrorPDU)
				}
				res.Errors[pv.PropertyID] = pduErr
			default:
				return nil, fmt.Errorf("unexpected tag %+v in read result: %w", t, ErrMalformed)
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// parseErrorBody decodes an error class and error code pair.
func parseErrorBody(r *bytes.Reader) (*ErrorPDU, error) {
	t, err := expectApplicationTag(r, TAG_ENUMERATED)
	if err != nil {
		return nil, fmt.Errorf("failed to read error class: %w", err)
	}
	class, err := readUnsigned(r, t.Length)
	if err != nil {
		return nil, err
	}
	if t, err = expectApplicationTag(r, TAG_ENUMERATED); err != nil {
		return nil, fmt.Errorf("failed to read error code: %w", err)
	}
	code, err := readUnsigned(r, t.Length)
	if err != nil {
		return nil, err
	}
	return &ErrorPDU{Class: class, Code: code}, nil
}

// parseErrorPDU decodes the parameters of an Error-PDU. Some services wrap
// the error in an opening/closing tag 0.
func parseErrorPDU(service byte, params []byte) (*ErrorPDU, error) {
	r := bytes.NewReader(params)
	wrapped := false
	if t, ok := peekTag(r); ok && t.isOpening(0) {
		_, _ = readTag(r)
		wrapped = true
	}
	pduErr, err := parseErrorBody(r)
	if err != nil {
		return nil, err
	}
	if wrapped {
		if err := expectClosing(r, 0); err != nil {
			return nil, err
		}
	}
	pduErr.Service = service
	return pduErr, nil
}
