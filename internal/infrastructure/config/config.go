package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("config: invalid configuration")

// validate is a package-level singleton; building a validator is expensive.
var validate = validator.New()

// Config is the root configuration.
type Config struct {
	BACnet  BACnetConfig  `mapstructure:"bacnet"`
	Points  PointsConfig  `mapstructure:"points"`
	Sinks   SinksConfig   `mapstructure:"sinks"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BACnetConfig configures the CoV client.
type BACnetConfig struct {
	TargetDeviceID uint32 `mapstructure:"target_device_id" validate:"lte=4194302"`
	LocalDeviceID  uint32 `mapstructure:"local_device_id" validate:"lte=4194302"`

	// Set from SUBSCRIBE_CONFIRMED and SUBSCRIBE_PROPERTY_REQUEST with the
	// lenient boolean parser.
	SubscribeConfirmed       bool `mapstructure:"-"`
	SubscribePropertyRequest bool `mapstructure:"-"`

	// SubscriptionLifetime is in seconds; zero subscribes indefinitely.
	SubscriptionLifetime uint32 `mapstructure:"subscription_lifetime"`

	SubnetBits   int           `mapstructure:"subnet_bits" validate:"min=0,max=32"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	InterfaceIP  string        `mapstructure:"interface_ip" validate:"omitempty,ipv4"`
	Interface    string        `mapstructure:"interface"`
	TaskInterval time.Duration `mapstructure:"task_interval" validate:"gt=0"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// PointsConfig configures the point creator/updater.
type PointsConfig struct {
	GRPCHost       string        `mapstructure:"grpc_host" validate:"required"`
	GRPCPort       int           `mapstructure:"grpc_port" validate:"min=1,max=65535"`
	UpdateInterval time.Duration `mapstructure:"update_interval" validate:"gt=0"`
	// File overrides the embedded point catalog.
	File string `mapstructure:"file"`
}

// Target returns the gRPC dial target of the point server.
func (p PointsConfig) Target() string {
	return fmt.Sprintf("%s:%d", p.GRPCHost, p.GRPCPort)
}

// SinksConfig lists the optional notification sinks. A sink is enabled when
// its address is set.
type SinksConfig struct {
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Influx  InfluxConfig  `mapstructure:"influx"`
	History HistoryConfig `mapstructure:"history"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker" validate:"omitempty,url"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	QoS         byte   `mapstructure:"qos" validate:"lte=2"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url" validate:"omitempty,url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org" validate:"required_with=URL"`
	Bucket string `mapstructure:"bucket" validate:"required_with=URL"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// StatusConfig configures the HTTP status API. Empty Addr disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	Output string `mapstructure:"output" validate:"omitempty,oneof=stdout stderr"`
	// Debug is a comma-separated list of components logged at debug level.
	Debug string `mapstructure:"debug"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"bacnet.target_device_id":      "TARGET_DEVICE_ID",
	"bacnet.local_device_id":       "LOCAL_DEVICE_IDENTIFIER",
	"bacnet.subscribe_confirmed":   "SUBSCRIBE_CONFIRMED",
	"bacnet.subscribe_property":    "SUBSCRIBE_PROPERTY_REQUEST",
	"bacnet.subscription_lifetime": "SUBSCRIPTION_LIFETIME",
	"bacnet.subnet_bits":           "SUBNET_BITS",
	"bacnet.port":                  "BACNET_PORT",
	"bacnet.interface_ip":          "BACNET_INTERFACE_IP",
	"bacnet.interface":             "BACNET_INTERFACE",
	"bacnet.task_interval":         "TASK_INTERVAL",
	"bacnet.timeout":               "BACNET_TIMEOUT",

	"points.grpc_host":       "GRPC_HOST",
	"points.grpc_port":       "GRPC_PORT",
	"points.update_interval": "UPDATE_INTERVAL",
	"points.file":            "POINTS_FILE",

	"sinks.mqtt.broker":         "MQTT_BROKER",
	"sinks.mqtt.topic_prefix":   "MQTT_TOPIC_PREFIX",
	"sinks.mqtt.client_id":      "MQTT_CLIENT_ID",
	"sinks.mqtt.qos":            "MQTT_QOS",
	"sinks.nats.url":            "NATS_URL",
	"sinks.nats.subject_prefix": "NATS_SUBJECT_PREFIX",
	"sinks.redis.addr":          "REDIS_ADDR",
	"sinks.redis.password":      "REDIS_PASSWORD",
	"sinks.redis.db":            "REDIS_DB",
	"sinks.influx.url":          "INFLUX_URL",
	"sinks.influx.token":        "INFLUX_TOKEN",
	"sinks.influx.org":          "INFLUX_ORG",
	"sinks.influx.bucket":       "INFLUX_BUCKET",
	"sinks.history.path":        "HISTORY_DB",

	"status.addr": "STATUS_ADDR",

	"logging.level":  "LOG_LEVEL",
	"logging.format": "LOG_FORMAT",
	"logging.output": "LOG_OUTPUT",
	"logging.debug":  "DEBUG",
}

// Load reads config from the optional YAML file at path, then overlays the
// environment variables in envBindings, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.BACnet.SubscribeConfirmed = ParseBool(v.GetString("bacnet.subscribe_confirmed"))
	cfg.BACnet.SubscribePropertyRequest = ParseBool(v.GetString("bacnet.subscribe_property"))

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return &cfg, nil
}

// ParseBool accepts true, 1, t, y and yes in any case. Everything else is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "t", "y", "yes":
		return true
	default:
		return false
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bacnet.target_device_id", 10)
	v.SetDefault("bacnet.local_device_id", 599)
	v.SetDefault("bacnet.subscribe_confirmed", "false")
	v.SetDefault("bacnet.subscribe_property", "false")
	v.SetDefault("bacnet.subscription_lifetime", 0)
	v.SetDefault("bacnet.subnet_bits", 24)
	v.SetDefault("bacnet.port", 47808)
	v.SetDefault("bacnet.task_interval", 2*time.Second)
	v.SetDefault("bacnet.timeout", 3*time.Second)

	v.SetDefault("points.grpc_host", "localhost")
	v.SetDefault("points.grpc_port", 8080)
	v.SetDefault("points.update_interval", 10*time.Second)

	v.SetDefault("sinks.mqtt.topic_prefix", "bacnet/cov")
	v.SetDefault("sinks.mqtt.client_id", "covdemo")
	v.SetDefault("sinks.mqtt.qos", 1)
	v.SetDefault("sinks.nats.subject_prefix", "bacnet.cov")
	v.SetDefault("sinks.redis.db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}
