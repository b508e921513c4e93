package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/attendance-ping/util"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attendance-ping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "AttendanceServer", cfg.Session.ServiceName)
	assert.Equal(t, "87654321-4321-4321-4321-cba987654321", cfg.ServiceUUID().String())
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", cfg.CharacteristicUUID().String())
	assert.Equal(t, 10*time.Second, cfg.Session.ConnectTimeout)
	assert.True(t, cfg.Radio.Classic)
	assert.True(t, cfg.Radio.LE)
	assert.Empty(t, cfg.Device.HardwareUUID, "hardware uuid is resolved later")
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
device:
  hardware_uuid: 3f2504e0-4f89-11d3-9a0c-0305e82c3301
  name: Room 101
radio:
  multiple_advertisement: false
  advertise_fault_code: 42
  packet_trace: true
  link:
    min_connect_delay: 30ms
    max_connect_delay: 100ms
    failure_rate: 0.016
session:
  handler_timeout: 250ms
  include_device_name: true
log:
  level: debug
  format: json
bridge:
  listen: 127.0.0.1:0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Room 101", cfg.Device.Name)
	assert.False(t, cfg.Radio.MultipleAdvertisement)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.HandlerTimeout)
	assert.True(t, cfg.Session.IncludeDeviceName)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:0", cfg.Bridge.Listen)

	caps := cfg.Capabilities()
	assert.Equal(t, 42, caps.AdvertiseFaultCode)
	assert.True(t, caps.Classic)
	assert.True(t, cfg.Radio.PacketTrace)
	assert.Equal(t, 30*time.Millisecond, caps.Link.MinConnectDelay)
	assert.Equal(t, 100*time.Millisecond, caps.Link.MaxConnectDelay)
	assert.InDelta(t, 0.016, caps.Link.ConnectFailureRate, 1e-9)

	a := cfg.Adapter()
	assert.Equal(t, "3E:25:04:E0:4F:89", a.Address())
	assert.Equal(t, "Room 101", a.Name())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	t.Setenv("ATTENDANCE_LOG_LEVEL", "trace")
	t.Setenv("ATTENDANCE_RADIO_CLASSIC", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.Log.Level)
	assert.False(t, cfg.Radio.Classic)
}

func TestConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "device:\n  name: From Env\n")
	t.Setenv("ATTENDANCE_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "From Env", cfg.Device.Name)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad level", "log:\n  level: loud\n"},
		{"bad stream uuid", "session:\n  stream_uuid: nope\n"},
		{"bad service uuid", "session:\n  service_uuid: 1234\n"},
		{"zero timeout", "session:\n  connect_timeout: 0s\n"},
		{"bad hardware uuid", "device:\n  hardware_uuid: phone-1\n"},
		{"failure rate above one", "radio:\n  link:\n    failure_rate: 1.5\n"},
		{"negative advertisers", "radio:\n  max_advertisers: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "log: [unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestResolveHardwareUUIDIsStable(t *testing.T) {
	util.SetDataDir(t.TempDir())
	t.Cleanup(func() { util.SetDataDir("") })

	first := Default()
	first.Device.Name = "Room 101"
	require.NoError(t, first.ResolveHardwareUUID())
	_, err := uuid.Parse(first.Device.HardwareUUID)
	require.NoError(t, err)

	again := Default()
	again.Device.Name = "Room 101"
	require.NoError(t, again.ResolveHardwareUUID())
	assert.Equal(t, first.Device.HardwareUUID, again.Device.HardwareUUID)
	assert.Equal(t, first.Adapter().Address(), again.Adapter().Address())

	other := Default()
	other.Device.Name = "Room 102"
	require.NoError(t, other.ResolveHardwareUUID())
	assert.NotEqual(t, first.Device.HardwareUUID, other.Device.HardwareUUID)

	pinned := Default()
	pinned.Device.HardwareUUID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	require.NoError(t, pinned.ResolveHardwareUUID())
	assert.Equal(t, "3f2504e0-4f89-11d3-9a0c-0305e82c3301", pinned.Device.HardwareUUID)
}

func TestDeviceKey(t *testing.T) {
	assert.Equal(t, "room-101", deviceKey("Room 101"))
	assert.Equal(t, "default", deviceKey("  "))
}
