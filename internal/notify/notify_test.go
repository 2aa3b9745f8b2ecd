package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bacnet "github.com/normalframework/bacnet-cov-demo"
)

func testNotification() bacnet.COVNotification {
	return bacnet.COVNotification{
		SubscriberProcessIdentifier: 3,
		InitiatingDeviceIdentifier:  bacnet.BACnetObject{Type: bacnet.OBJECT_DEVICE, Instance: 10},
		MonitoredObjectIdentifier:   bacnet.BACnetObject{Type: bacnet.OBJECT_ANALOG_VALUE, Instance: 1},
		TimeRemaining:               120,
		ListOfValues: []bacnet.BACnetPropertyValue{
			{PropertyID: bacnet.PROP_PRESENT_VALUE, Value: float32(71.5)},
			{PropertyID: bacnet.PROP_STATUS_FLAGS, Value: bacnet.StatusFlags{Fault: true}},
		},
		Confirmed: true,
	}
}

func TestFromNotification(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := FromNotification(testNotification(), now)

	want := Event{
		Time:           now,
		Device:         "device:10",
		DeviceInstance: 10,
		Object:         "analogValue:1",
		ObjectType:     "analogValue",
		Instance:       1,
		ProcessID:      3,
		TimeRemaining:  120,
		Confirmed:      true,
		Values: []Value{
			{Property: "presentValue", Value: float32(71.5), Text: "71.5"},
			{Property: "statusFlags", Value: bacnet.StatusFlags{Fault: true}, Text: "[0, 1, 0, 0]"},
		},
	}
	if diff := cmp.Diff(want, ev, cmpopts.IgnoreFields(Event{}, "ID")); diff != "" {
		t.Errorf("FromNotification() mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, ev.ID, 36)

	v, ok := ev.Lookup("presentValue")
	require.True(t, ok)
	assert.Equal(t, float32(71.5), v.Value)
	_, ok = ev.Lookup("units")
	assert.False(t, ok)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float32(70), "70.0"},
		{float32(71.5), "71.5"},
		{float64(55), "55.0"},
		{uint32(7), "7"},
		{bacnet.Enumerated(1), "1"},
		{true, "true"},
		{nil, "null"},
		{"Active", "Active"},
		{bacnet.BACnetObject{Type: bacnet.OBJECT_BINARY_INPUT, Instance: 2}, "binaryInput:2"},
		{[]interface{}{uint32(1), float32(2)}, "[1, 2.0]"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatValue(tc.in), "%#v", tc.in)
	}
}

func TestNumeric(t *testing.T) {
	f, ok := Numeric(float32(1.5))
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)

	f, ok = Numeric(bacnet.Enumerated(1))
	assert.True(t, ok)
	assert.Equal(t, 1.0, f)

	_, ok = Numeric("text")
	assert.False(t, ok)
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	require.NoError(t, c.Publish(context.Background(), FromNotification(testNotification(), time.Now())))

	want := "device:10 analogValue:1 changed\n" +
		"    presentValue = 71.5,\n" +
		"    statusFlags = [0, 1, 0, 0]\n"
	assert.Equal(t, want, buf.String())
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestFanout_DeliversDespiteFailingSink(t *testing.T) {
	bad := &recordingSink{name: "bad", err: errors.New("broker down")}
	good := &recordingSink{name: "good"}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewFanout(log, 4, bad, good)
	assert.Equal(t, []string{"bad", "good"}, f.Sinks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	ev := FromNotification(testNotification(), time.Now())
	require.NoError(t, f.Submit(ev))
	require.NoError(t, f.Submit(ev))

	assert.Eventually(t, func() bool { return good.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 2, bad.count())
	assert.Equal(t, map[string]int{"bad": 2}, f.Errors())

	require.NoError(t, f.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

func TestFanout_QueueFull(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewFanout(log, 1)
	ev := FromNotification(testNotification(), time.Now())

	require.NoError(t, f.Submit(ev))
	assert.ErrorIs(t, f.Submit(ev), ErrQueueFull)
}

func TestFanout_DrainOnCancel(t *testing.T) {
	sink := &recordingSink{name: "s"}
	f := NewFanout(nil, 4, sink)
	ev := FromNotification(testNotification(), time.Now())
	require.NoError(t, f.Submit(ev))
	require.NoError(t, f.Submit(ev))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.Run(ctx))
	// Run may pick the queue or the cancelled context first; both paths
	// deliver everything queued.
	assert.Equal(t, 2, sink.count())
}
