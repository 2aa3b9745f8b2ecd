package bacnet

import (
	"bytes"
	"context"
	"fmt"
)

// SubscribeCOVRequest describes a SubscribeCOV or SubscribeCOVProperty request.
type SubscribeCOVRequest struct {
	ProcessID uint32
	Object    BACnetObject
	// Confirmed asks the device to send confirmed notifications.
	Confirmed bool
	// Lifetime in seconds; zero subscribes indefinitely.
	Lifetime uint32
	// Property switches the request to SubscribeCOVProperty on that property.
	Property *PropertyIdentifier
	// COVIncrement is only sent with SubscribeCOVProperty.
	COVIncrement *float32
}

func (r SubscribeCOVRequest) service() byte {
	if r.Property != nil {
		return SERVICE_CONFIRMED_SUBSCRIBE_COV_PROPERTY
	}
	return SERVICE_CONFIRMED_SUBSCRIBE_COV
}

// encode writes the request parameters. A cancellation omits both the
// confirmed flag and the lifetime.
func (r SubscribeCOVRequest) encode(cancel bool) []byte {
	var params bytes.Buffer
	encodeContextUnsigned(&params, 0, r.ProcessID)
	encodeContextObjectID(&params, 1, r.Object)
	if !cancel {
		encodeContextBoolean(&params, 2, r.Confirmed)
		encodeContextUnsigned(&params, 3, r.Lifetime)
	}
	if r.Property != nil {
		encodeOpeningTag(&params, 4)
		encodeContextEnumerated(&params, 0, uint32(*r.Property))
		encodeClosingTag(&params, 4)
		if r.COVIncrement != nil {
			encodeContextReal(&params, 5, *r.COVIncrement)
		}
	}
	return params.Bytes()
}

// SubscribeCOV subscribes to change-of-value notifications and waits for the
// Simple-ACK. Rejects, errors and aborts come back as *RejectError,
// *ErrorPDU and *AbortError. Notifications are delivered to the HandleCOV
// handler; renewal before Lifetime runs out is up to the caller.
func (c *BACnetClient) SubscribeCOV(ctx context.Context, device DeviceInfo, req SubscribeCOVRequest) error {
	if _, err := c.confirmedRequest(ctx, device.Addr(), req.service(), req.encode(false)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", req.Object, err)
	}
	c.log.Debug("subscribed", "object", req.Object.String(), "process_id", req.ProcessID, "lifetime", req.Lifetime)
	return nil
}

// CancelCOV cancels the subscription identified by the request's process ID and object.
func (c *BACnetClient) CancelCOV(ctx context.Context, device DeviceInfo, req SubscribeCOVRequest) error {
	if _, err := c.confirmedRequest(ctx, device.Addr(), req.service(), req.encode(true)); err != nil {
		return fmt.Errorf("failed to cancel subscription to %s: %w", req.Object, err)
	}
	return nil
}
