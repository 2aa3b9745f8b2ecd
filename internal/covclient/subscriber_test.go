package covclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

var testDevice = bacnet.DeviceInfo{
	DeviceID:  10,
	IPAddress: net.IPv4(192, 168, 1, 20),
	Port:      47808,
	MaxAPDU:   1476,
	VendorID:  15,
}

type fakeClient struct {
	mu         sync.Mutex
	findErr    error
	objects    []bacnet.BACnetObject
	readErr    error
	subErrs    map[bacnet.BACnetObject]error
	subscribed []bacnet.SubscribeCOVRequest
	cancelled  []bacnet.SubscribeCOVRequest
	handler    bacnet.COVHandler
}

func (f *fakeClient) FindDevice(context.Context, uint32) (bacnet.DeviceInfo, error) {
	if f.findErr != nil {
		return bacnet.DeviceInfo{}, f.findErr
	}
	return testDevice, nil
}

func (f *fakeClient) ReadObjectList(context.Context, bacnet.DeviceInfo) ([]bacnet.BACnetObject, error) {
	return f.objects, f.readErr
}

func (f *fakeClient) SubscribeCOV(_ context.Context, _ bacnet.DeviceInfo, req bacnet.SubscribeCOVRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, req)
	return f.subErrs[req.Object]
}

func (f *fakeClient) CancelCOV(_ context.Context, _ bacnet.DeviceInfo, req bacnet.SubscribeCOVRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, req)
	return nil
}

func (f *fakeClient) HandleCOV(h bacnet.COVHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeClient) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func (f *fakeClient) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Submit(ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

var (
	ai1 = bacnet.BACnetObject{Type: bacnet.OBJECT_ANALOG_INPUT, Instance: 1}
	bv1 = bacnet.BACnetObject{Type: bacnet.OBJECT_BINARY_VALUE, Instance: 1}
	av1 = bacnet.BACnetObject{Type: bacnet.OBJECT_ANALOG_VALUE, Instance: 1}
)

func newTestSubscriber(client *fakeClient, events Submitter, opts Options) (*Subscriber, *bytes.Buffer) {
	var out bytes.Buffer
	opts.TargetDeviceID = 10
	opts.Out = &out
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, events, opts), &out
}

// runStages ticks until the subscriber has subscribed.
func runStages(t *testing.T, s *Subscriber) {
	t.Helper()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(context.Background()))
	}
}

func TestTick_Stages(t *testing.T) {
	client := &fakeClient{objects: []bacnet.BACnetObject{
		{Type: bacnet.OBJECT_DEVICE, Instance: 10}, ai1, bv1,
	}}
	s, out := newTestSubscriber(client, nil, Options{Confirmed: true})
	ctx := context.Background()

	require.NoError(t, s.Tick(ctx))
	snap := s.Snapshot()
	require.NotNil(t, snap.Device)
	assert.Equal(t, "192.168.1.20:47808", snap.Device.Address)
	assert.Empty(t, snap.Objects)

	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, []string{"device:10", "analogInput:1", "binaryValue:1"}, s.Snapshot().Objects)
	assert.Zero(t, client.subscribeCount())

	require.NoError(t, s.Tick(ctx))
	require.Equal(t, 2, client.subscribeCount())
	byPID := map[uint32]bacnet.BACnetObject{}
	for _, req := range client.subscribed {
		byPID[req.ProcessID] = req.Object
		assert.True(t, req.Confirmed)
		assert.Nil(t, req.Property)
	}
	assert.Equal(t, map[uint32]bacnet.BACnetObject{1: ai1, 2: bv1}, byPID)

	subs := s.Snapshot().Subscriptions
	require.Len(t, subs, 2)
	assert.Equal(t, "analogInput:1", subs[0].Object)
	assert.True(t, subs[0].Active)
	assert.True(t, subs[1].Active)
	assert.Empty(t, out.String())

	// nothing left to do without a lifetime
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 2, client.subscribeCount())
}

func TestTick_DeviceNotFound(t *testing.T) {
	client := &fakeClient{findErr: bacnet.ErrDeviceNotFound}
	s, _ := newTestSubscriber(client, nil, Options{})

	require.NoError(t, s.Tick(context.Background()))
	assert.Nil(t, s.Snapshot().Device)

	client.findErr = errors.New("socket closed")
	assert.Error(t, s.Tick(context.Background()))
}

func TestTick_ObjectListError(t *testing.T) {
	client := &fakeClient{readErr: errors.New("bacnet: request timed out")}
	s, out := newTestSubscriber(client, nil, Options{})

	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, "had error: bacnet: request timed out\n", out.String())
	assert.Empty(t, s.Snapshot().Objects)
}

func TestTick_SubscriptionFailures(t *testing.T) {
	client := &fakeClient{
		objects: []bacnet.BACnetObject{ai1, bv1, av1},
		subErrs: map[bacnet.BACnetObject]error{
			ai1: &bacnet.RejectError{Reason: bacnet.REJECT_REASON_UNRECOGNIZED_SERVICE},
			bv1: &bacnet.ErrorPDU{Class: bacnet.ERROR_CLASS_OBJECT, Code: bacnet.ERROR_CODE_UNKNOWN_OBJECT},
			av1: bacnet.ErrTimeout,
		},
	}
	s, out := newTestSubscriber(client, nil, Options{PropertyRequest: true})
	runStages(t, s)

	assert.Contains(t, out.String(), "Subscribing to analogInput:1 produced RejectPDU: unrecognizedService\n")
	assert.Contains(t, out.String(), "Subscribing to binaryValue:1 produced ErrorPDU: object - unknownObject\n")
	assert.Contains(t, out.String(), "had error: bacnet: request timed out\n")
	for _, req := range client.subscribed {
		require.NotNil(t, req.Property)
		assert.Equal(t, bacnet.PROP_PRESENT_VALUE, *req.Property)
	}

	for _, sub := range s.Snapshot().Subscriptions {
		assert.False(t, sub.Active)
		assert.NotEmpty(t, sub.Error)
	}

	// failed objects are not retried
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 3, client.subscribeCount())
}

func TestTick_Renewal(t *testing.T) {
	client := &fakeClient{objects: []bacnet.BACnetObject{ai1}}
	s, _ := newTestSubscriber(client, nil, Options{Lifetime: 100})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	runStages(t, s)
	require.Equal(t, 1, client.subscribeCount())
	sub := s.Snapshot().Subscriptions[0]
	require.NotNil(t, sub.RenewAt)
	assert.Equal(t, now.Add(80*time.Second), *sub.RenewAt)

	now = now.Add(79 * time.Second)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, 1, client.subscribeCount())

	now = now.Add(time.Second)
	require.NoError(t, s.Tick(context.Background()))
	require.Equal(t, 2, client.subscribeCount())
	assert.Equal(t, client.subscribed[0].ProcessID, client.subscribed[1].ProcessID)
	assert.Equal(t, uint32(100), client.subscribed[1].Lifetime)
	assert.Equal(t, now.Add(80*time.Second), *s.Snapshot().Subscriptions[0].RenewAt)
}

func notification(pid uint32, source *net.UDPAddr, confirmed bool) bacnet.COVNotification {
	return bacnet.COVNotification{
		SubscriberProcessIdentifier: pid,
		InitiatingDeviceIdentifier:  bacnet.BACnetObject{Type: bacnet.OBJECT_DEVICE, Instance: 10},
		MonitoredObjectIdentifier:   ai1,
		ListOfValues: []bacnet.BACnetPropertyValue{
			{PropertyID: bacnet.PROP_PRESENT_VALUE, Value: float32(71.5)},
			{PropertyID: bacnet.PROP_STATUS_FLAGS, Value: bacnet.StatusFlags{}},
		},
		Confirmed: confirmed,
		Source:    source,
	}
}

func TestHandleNotification(t *testing.T) {
	client := &fakeClient{objects: []bacnet.BACnetObject{ai1}}
	events := &recorder{}
	s, _ := newTestSubscriber(client, events, Options{})
	runStages(t, s)

	require.NoError(t, s.HandleNotification(notification(1, testDevice.Addr(), true)))
	require.Len(t, events.events, 1)
	ev := events.events[0]
	assert.Equal(t, "device:10", ev.Device)
	assert.Equal(t, "analogInput:1", ev.Object)
	assert.Equal(t, "device:10 analogInput:1 changed\n    presentValue = 71.5,\n    statusFlags = [0, 0, 0, 0]\n", notify.Format(ev))

	snap := s.Snapshot()
	assert.Equal(t, map[string]string{"presentValue": "71.5", "statusFlags": "[0, 0, 0, 0]"}, snap.Values["analogInput:1"])
	assert.Equal(t, 1, snap.Subscriptions[0].Notifications)
	assert.NotNil(t, snap.Subscriptions[0].LastNotification)
}

func TestHandleNotification_Unknown(t *testing.T) {
	client := &fakeClient{objects: []bacnet.BACnetObject{ai1}}
	events := &recorder{}
	s, _ := newTestSubscriber(client, events, Options{})
	runStages(t, s)

	stranger := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 99), Port: 47808}
	tests := []struct {
		name string
		n    bacnet.COVNotification
	}{
		{"unknown process id", notification(42, testDevice.Addr(), true)},
		{"wrong source", notification(1, stranger, true)},
		{"no source", notification(1, nil, true)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := s.HandleNotification(tc.n)
			var pdu *bacnet.ErrorPDU
			require.ErrorAs(t, err, &pdu)
			assert.Equal(t, bacnet.ERROR_CLASS_SERVICES, pdu.Class)
			assert.Equal(t, bacnet.ERROR_CODE_UNKNOWN_SUBSCRIPTION, pdu.Code)
		})
	}

	assert.NoError(t, s.HandleNotification(notification(42, testDevice.Addr(), false)))
	assert.Empty(t, events.events)
}

func TestRun_CancelsOnShutdown(t *testing.T) {
	client := &fakeClient{objects: []bacnet.BACnetObject{ai1, bv1}}
	s, _ := newTestSubscriber(client, nil, Options{Interval: 5 * time.Millisecond, Lifetime: 300})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return client.subscribeCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 2, client.cancelCount())
	client.mu.Lock()
	assert.NotNil(t, client.handler)
	client.mu.Unlock()
	for _, sub := range s.Snapshot().Subscriptions {
		assert.False(t, sub.Active)
	}
}
