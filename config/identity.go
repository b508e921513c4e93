package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/user/attendance-ping/util"
)

// identity is the cached radio identity of one named device
type identity struct {
	HardwareUUID string    `cbor:"1,keyasint"`
	Name         string    `cbor:"2,keyasint"`
	CreatedAt    time.Time `cbor:"3,keyasint"`
}

// ResolveHardwareUUID fills Device.HardwareUUID when the config leaves it
// empty. The generated UUID is cached under the data directory per device
// name, so a host keeps its address across restarts.
func (c *Config) ResolveHardwareUUID() error {
	if strings.TrimSpace(c.Device.HardwareUUID) != "" {
		return nil
	}
	id, err := LoadOrGenerateHardwareUUID(c.Device.Name)
	if err != nil {
		return err
	}
	c.Device.HardwareUUID = id
	return nil
}

// LoadOrGenerateHardwareUUID loads the cached hardware UUID for name or
// generates and caches a new one.
func LoadOrGenerateHardwareUUID(name string) (string, error) {
	path := identityPath(name)

	if data, err := os.ReadFile(path); err == nil {
		var cached identity
		if err := cbor.Unmarshal(data, &cached); err == nil {
			if _, err := uuid.Parse(cached.HardwareUUID); err == nil {
				return cached.HardwareUUID, nil
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read identity: %w", err)
	}

	id := identity{HardwareUUID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	data, err := cbor.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("encode identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write identity: %w", err)
	}
	return id.HardwareUUID, nil
}

func identityPath(name string) string {
	return filepath.Join(util.GetDeviceCacheDir("devices"), deviceKey(name), "identity.cbor")
}

// deviceKey turns a display name into a directory name
func deviceKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
