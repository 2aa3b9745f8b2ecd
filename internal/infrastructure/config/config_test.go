package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: t.Parallel() is intentionally omitted in this package.
// These tests share process-global environment variables.

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, uint32(10), cfg.BACnet.TargetDeviceID)
	assert.Equal(t, uint32(599), cfg.BACnet.LocalDeviceID)
	assert.False(t, cfg.BACnet.SubscribeConfirmed)
	assert.False(t, cfg.BACnet.SubscribePropertyRequest)
	assert.Equal(t, uint32(0), cfg.BACnet.SubscriptionLifetime)
	assert.Equal(t, 24, cfg.BACnet.SubnetBits)
	assert.Equal(t, 47808, cfg.BACnet.Port)
	assert.Equal(t, 2*time.Second, cfg.BACnet.TaskInterval)

	assert.Equal(t, "localhost:8080", cfg.Points.Target())
	assert.Equal(t, 10*time.Second, cfg.Points.UpdateInterval)

	assert.Empty(t, cfg.Sinks.MQTT.Broker)
	assert.Equal(t, "bacnet/cov", cfg.Sinks.MQTT.TopicPrefix)
	assert.Equal(t, "bacnet.cov", cfg.Sinks.NATS.SubjectPrefix)
	assert.Empty(t, cfg.Status.Addr)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TARGET_DEVICE_ID", "260001")
	t.Setenv("SUBSCRIBE_CONFIRMED", "Yes")
	t.Setenv("SUBSCRIBE_PROPERTY_REQUEST", "t")
	t.Setenv("SUBSCRIPTION_LIFETIME", "300")
	t.Setenv("SUBNET_BITS", "16")
	t.Setenv("GRPC_HOST", "nf")
	t.Setenv("GRPC_PORT", "9090")
	t.Setenv("TASK_INTERVAL", "500ms")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("DEBUG", "covclient,bacnet")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, uint32(260001), cfg.BACnet.TargetDeviceID)
	assert.True(t, cfg.BACnet.SubscribeConfirmed)
	assert.True(t, cfg.BACnet.SubscribePropertyRequest)
	assert.Equal(t, uint32(300), cfg.BACnet.SubscriptionLifetime)
	assert.Equal(t, 16, cfg.BACnet.SubnetBits)
	assert.Equal(t, 500*time.Millisecond, cfg.BACnet.TaskInterval)
	assert.Equal(t, "nf:9090", cfg.Points.Target())
	assert.Equal(t, "redis:6379", cfg.Sinks.Redis.Addr)
	assert.Equal(t, "covclient,bacnet", cfg.Logging.Debug)
}

func TestLoad_YAMLFile(t *testing.T) {
	content := `
bacnet:
  target_device_id: 42
  subscribe_confirmed: "y"
points:
  grpc_host: "points.local"
sinks:
  history:
    path: "/tmp/history.db"
`
	path := filepath.Join(t.TempDir(), "covdemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), cfg.BACnet.TargetDeviceID)
	assert.True(t, cfg.BACnet.SubscribeConfirmed)
	assert.Equal(t, "points.local", cfg.Points.GRPCHost)
	assert.Equal(t, "/tmp/history.db", cfg.Sinks.History.Path)
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"subnet bits out of range", "SUBNET_BITS", "33"},
		{"device id out of range", "TARGET_DEVICE_ID", "4194303"},
		{"port out of range", "BACNET_PORT", "70000"},
		{"interface ip not ipv4", "BACNET_INTERFACE_IP", "not-an-ip"},
		{"unknown log level", "LOG_LEVEL", "verbose"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.val)
			_, err := Load("")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "TRUE", "1", "t", "Y", "yes", " yes "} {
		assert.True(t, ParseBool(s), s)
	}
	for _, s := range []string{"", "false", "0", "no", "on", "enabled"} {
		assert.False(t, ParseBool(s), s)
	}
}
