package util

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DataDirEnv overrides the data directory shared by every simulated device
const DataDirEnv = "ATTENDANCE_PING_DIR"

var (
	dataDirOverride string
	dataDirMu       sync.RWMutex
)

// SetDataDir pins the data directory (used by config loading). An empty
// string restores the env/home lookup.
func SetDataDir(dir string) {
	dataDirMu.Lock()
	defer dataDirMu.Unlock()
	dataDirOverride = dir
}

// GetDataDir returns the data directory path
func GetDataDir() string {
	dataDirMu.RLock()
	override := dataDirOverride
	dataDirMu.RUnlock()
	if override != "" {
		return override
	}

	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".attendance-ping-data")
}

// GetDeviceCacheDir returns the cache directory for a specific device
func GetDeviceCacheDir(deviceID string) string {
	return filepath.Join(GetDataDir(), deviceID)
}

// GetSocketDir returns the directory where Unix domain sockets are stored
func GetSocketDir() string {
	socketDir := filepath.Join(GetDataDir(), "sockets")
	// Ensure the directory exists
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		panic(err)
	}
	return socketDir
}

// SocketPath returns the socket file a device listens on for one radio role,
// e.g. SocketPath("rfcomm", "AA:BB:CC:DD:EE:FF") -> .../sockets/rfcomm-aabbccddeeff.sock
func SocketPath(kind, address string) string {
	name := strings.ToLower(strings.ReplaceAll(address, ":", ""))
	return filepath.Join(GetSocketDir(), kind+"-"+name+".sock")
}
