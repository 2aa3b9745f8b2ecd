package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

type mockConn struct {
	connected bool
	subject   string
	data      []byte
	err       error
	drained   bool
}

func (m *mockConn) Publish(subject string, data []byte) error {
	m.subject, m.data = subject, data
	return m.err
}

func (m *mockConn) IsConnected() bool { return m.connected }

func (m *mockConn) Drain() error {
	m.drained = true
	return nil
}

func testEvent() notify.Event {
	return notify.FromNotification(bacnet.COVNotification{
		SubscriberProcessIdentifier: 2,
		InitiatingDeviceIdentifier:  bacnet.BACnetObject{Type: bacnet.OBJECT_DEVICE, Instance: 10},
		MonitoredObjectIdentifier:   bacnet.BACnetObject{Type: bacnet.OBJECT_ANALOG_INPUT, Instance: 1},
		ListOfValues: []bacnet.BACnetPropertyValue{
			{PropertyID: bacnet.PROP_PRESENT_VALUE, Value: float32(72.5)},
		},
	}, time.Now())
}

func TestSink_Publish(t *testing.T) {
	t.Parallel()

	nc := &mockConn{connected: true}
	s := newSink(nc, "bacnet.cov.")

	require.NoError(t, s.Publish(context.Background(), testEvent()))
	assert.Equal(t, "bacnet.cov.10.analogInput.1", nc.subject)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(nc.data, &ev))
	assert.Equal(t, "analogInput:1", ev.Object)
	assert.Equal(t, uint32(2), ev.ProcessID)

	require.NoError(t, s.Close())
	assert.True(t, nc.drained)
}

func TestSink_Errors(t *testing.T) {
	t.Parallel()

	s := newSink(&mockConn{connected: false}, "p")
	assert.ErrorIs(t, s.Publish(context.Background(), testEvent()), ErrNotConnected)

	boom := errors.New("slow consumer")
	s = newSink(&mockConn{connected: true, err: boom}, "p")
	assert.ErrorIs(t, s.Publish(context.Background(), testEvent()), boom)
}
