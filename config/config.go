// Package config loads attendance-ping settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/wire"
)

// EnvPrefix prefixes every environment override, e.g. ATTENDANCE_LOG_LEVEL=debug
const EnvPrefix = "ATTENDANCE"

// Config is the root application configuration.
type Config struct {
	// DataDir holds the simulated air: sockets and advertisement records.
	// Empty means $ATTENDANCE_PING_DIR or ~/.attendance-ping-data.
	DataDir string `mapstructure:"data_dir"`

	Device  DeviceConfig  `mapstructure:"device"`
	Radio   RadioConfig   `mapstructure:"radio"`
	Session SessionConfig `mapstructure:"session"`
	Log     logger.Config `mapstructure:"log"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
}

// DeviceConfig identifies this simulated phone
type DeviceConfig struct {
	// HardwareUUID is generated and cached per Name when empty
	HardwareUUID string `mapstructure:"hardware_uuid"`
	Name         string `mapstructure:"name"`
}

// RadioConfig describes the simulated hardware
type RadioConfig struct {
	Classic               bool `mapstructure:"classic"`
	LE                    bool `mapstructure:"le"`
	MultipleAdvertisement bool `mapstructure:"multiple_advertisement"`
	MaxAdvertisers        int  `mapstructure:"max_advertisers"`
	// AdvertiseFaultCode makes every advertise attempt fail with this code
	AdvertiseFaultCode int `mapstructure:"advertise_fault_code"`
	// PacketTrace writes GATT server frames to <data_dir>/<hardware_uuid>/debug
	PacketTrace bool       `mapstructure:"packet_trace"`
	Link        LinkConfig `mapstructure:"link"`
}

// LinkConfig shapes outbound connection attempts
type LinkConfig struct {
	MinConnectDelay time.Duration `mapstructure:"min_connect_delay"`
	MaxConnectDelay time.Duration `mapstructure:"max_connect_delay"`
	FailureRate     float64       `mapstructure:"failure_rate"`
	Seed            int64         `mapstructure:"seed"`
}

// SessionConfig holds the identifiers both sides agree on out of band
type SessionConfig struct {
	StreamUUID         string        `mapstructure:"stream_uuid"`
	ServiceUUID        string        `mapstructure:"service_uuid"`
	CharacteristicUUID string        `mapstructure:"characteristic_uuid"`
	ServiceName        string        `mapstructure:"service_name"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	HandlerTimeout     time.Duration `mapstructure:"handler_timeout"`
	IncludeDeviceName  bool          `mapstructure:"include_device_name"`
}

// BridgeConfig controls the gRPC command/event bridge
type BridgeConfig struct {
	Listen      string `mapstructure:"listen"`
	EventBuffer int    `mapstructure:"event_buffer"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{Name: "attendance-phone"},
		Radio: RadioConfig{
			Classic:               true,
			LE:                    true,
			MultipleAdvertisement: true,
			MaxAdvertisers:        4,
		},
		Session: SessionConfig{
			StreamUUID:         "00001101-0000-1000-8000-00805f9b34fb",
			ServiceUUID:        "87654321-4321-4321-4321-cba987654321",
			CharacteristicUUID: "11111111-2222-3333-4444-555555555555",
			ServiceName:        "AttendanceServer",
			ConnectTimeout:     10 * time.Second,
			HandlerTimeout:     5 * time.Second,
		},
		Log: logger.Config{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: logger.RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Bridge: BridgeConfig{
			Listen:      "127.0.0.1:50551",
			EventBuffer: 64,
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// ./, ./configs and ~/.attendance-ping for attendance-ping.yaml. Environment
// variables override both, with `.` replaced by `_`: ATTENDANCE_RADIO_LE=false.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("device.hardware_uuid", cfg.Device.HardwareUUID)
	v.SetDefault("device.name", cfg.Device.Name)
	v.SetDefault("radio.classic", cfg.Radio.Classic)
	v.SetDefault("radio.le", cfg.Radio.LE)
	v.SetDefault("radio.multiple_advertisement", cfg.Radio.MultipleAdvertisement)
	v.SetDefault("radio.max_advertisers", cfg.Radio.MaxAdvertisers)
	v.SetDefault("radio.advertise_fault_code", cfg.Radio.AdvertiseFaultCode)
	v.SetDefault("radio.packet_trace", cfg.Radio.PacketTrace)
	v.SetDefault("radio.link.min_connect_delay", cfg.Radio.Link.MinConnectDelay)
	v.SetDefault("radio.link.max_connect_delay", cfg.Radio.Link.MaxConnectDelay)
	v.SetDefault("radio.link.failure_rate", cfg.Radio.Link.FailureRate)
	v.SetDefault("radio.link.seed", cfg.Radio.Link.Seed)
	v.SetDefault("session.stream_uuid", cfg.Session.StreamUUID)
	v.SetDefault("session.service_uuid", cfg.Session.ServiceUUID)
	v.SetDefault("session.characteristic_uuid", cfg.Session.CharacteristicUUID)
	v.SetDefault("session.service_name", cfg.Session.ServiceName)
	v.SetDefault("session.connect_timeout", cfg.Session.ConnectTimeout)
	v.SetDefault("session.handler_timeout", cfg.Session.HandlerTimeout)
	v.SetDefault("session.include_device_name", cfg.Session.IncludeDeviceName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("bridge.listen", cfg.Bridge.Listen)
	v.SetDefault("bridge.event_buffer", cfg.Bridge.EventBuffer)

	if path == "" {
		if envPath := os.Getenv(EnvPrefix + "_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("attendance-ping")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".attendance-ping"))
		}
	}

	// A missing config file is fine; defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	for key, value := range map[string]string{
		"session.stream_uuid":         c.Session.StreamUUID,
		"session.service_uuid":        c.Session.ServiceUUID,
		"session.characteristic_uuid": c.Session.CharacteristicUUID,
	} {
		if _, err := uuid.Parse(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
	}

	if id := strings.TrimSpace(c.Device.HardwareUUID); id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("invalid device.hardware_uuid %q: %w", id, err)
		}
	}
	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid session.connect_timeout: %s", c.Session.ConnectTimeout)
	}
	if c.Session.HandlerTimeout <= 0 {
		return fmt.Errorf("invalid session.handler_timeout: %s", c.Session.HandlerTimeout)
	}
	if r := c.Radio.Link.FailureRate; r < 0 || r > 1 {
		return fmt.Errorf("invalid radio.link.failure_rate: %v", r)
	}
	if c.Radio.Link.MinConnectDelay < 0 || c.Radio.Link.MaxConnectDelay < 0 {
		return fmt.Errorf("invalid radio.link connect delay")
	}
	if c.Radio.MaxAdvertisers < 0 {
		return fmt.Errorf("invalid radio.max_advertisers: %d", c.Radio.MaxAdvertisers)
	}
	if c.Bridge.EventBuffer <= 0 {
		c.Bridge.EventBuffer = 64
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Capabilities converts the radio section for wire.NewAdapter
func (c *Config) Capabilities() wire.Capabilities {
	return wire.Capabilities{
		Classic:               c.Radio.Classic,
		LowEnergy:             c.Radio.LE,
		MultipleAdvertisement: c.Radio.MultipleAdvertisement,
		MaxAdvertisers:        c.Radio.MaxAdvertisers,
		AdvertiseFaultCode:    c.Radio.AdvertiseFaultCode,
		Link: wire.LinkProfile{
			MinConnectDelay:    c.Radio.Link.MinConnectDelay,
			MaxConnectDelay:    c.Radio.Link.MaxConnectDelay,
			ConnectFailureRate: c.Radio.Link.FailureRate,
			Seed:               c.Radio.Link.Seed,
		},
	}
}

// Adapter builds the simulated radio described by the device and radio sections
func (c *Config) Adapter() *wire.Adapter {
	return wire.NewAdapter(c.Device.HardwareUUID, c.Device.Name, c.Capabilities())
}

// ServiceUUID returns the validated GATT service identifier
func (c *Config) ServiceUUID() uuid.UUID {
	return uuid.MustParse(c.Session.ServiceUUID)
}

// CharacteristicUUID returns the validated GATT characteristic identifier
func (c *Config) CharacteristicUUID() uuid.UUID {
	return uuid.MustParse(c.Session.CharacteristicUUID)
}
