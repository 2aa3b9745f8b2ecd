package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

// mockStore records HSET calls and answers the rest from canned values.
type mockStore struct {
	key    string
	fields []interface{}
	err    error
	hash   map[string]string
	pong   string
}

func (m *mockStore) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	m.key, m.fields = key, values
	return redis.NewIntResult(int64(len(values)/2), m.err)
}

func (m *mockStore) HGetAll(_ context.Context, _ string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(m.hash, m.err)
}

func (m *mockStore) Ping(_ context.Context) *redis.StatusCmd {
	return redis.NewStatusResult(m.pong, m.err)
}

func (m *mockStore) Close() error { return nil }

func testEvent() notify.Event {
	return notify.FromNotification(bacnet.COVNotification{
		InitiatingDeviceIdentifier: bacnet.BACnetObject{Type: bacnet.OBJECT_DEVICE, Instance: 10},
		MonitoredObjectIdentifier:  bacnet.BACnetObject{Type: bacnet.OBJECT_ANALOG_OUTPUT, Instance: 1},
		ListOfValues: []bacnet.BACnetPropertyValue{
			{PropertyID: bacnet.PROP_PRESENT_VALUE, Value: float32(70)},
			{PropertyID: bacnet.PROP_STATUS_FLAGS, Value: bacnet.StatusFlags{}},
		},
	}, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestCache_Publish(t *testing.T) {
	t.Parallel()

	m := &mockStore{}
	c := &Cache{rdb: m}

	require.NoError(t, c.Publish(context.Background(), testEvent()))
	assert.Equal(t, "covdemo:device:10:analogOutput:1", m.key)
	assert.Equal(t, []interface{}{
		"presentValue", "70.0",
		"statusFlags", "[0, 0, 0, 0]",
		"updated", "2024-01-02T03:04:05Z",
	}, m.fields)
}

func TestCache_PublishError(t *testing.T) {
	t.Parallel()

	c := &Cache{rdb: &mockStore{err: errors.New("connection refused")}}
	err := c.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCache_LatestAndPing(t *testing.T) {
	t.Parallel()

	c := &Cache{rdb: &mockStore{hash: map[string]string{"presentValue": "71.5"}, pong: "PONG"}}

	vals, err := c.Latest(context.Background(), "device:10", "analogOutput:1")
	require.NoError(t, err)
	assert.Equal(t, "71.5", vals["presentValue"])

	pong, err := c.PingResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)
}
