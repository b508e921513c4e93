package wire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidAddress is returned for strings that are not AA:BB:CC:DD:EE:FF addresses
var ErrInvalidAddress = errors.New("invalid device address")

// Capabilities describes what the simulated radio hardware can do
type Capabilities struct {
	Classic               bool // stream (RFCOMM-style) sockets
	LowEnergy             bool // GATT server role
	MultipleAdvertisement bool // LE advertising while acting as a server
	MaxAdvertisers        int  // concurrent advertising sets, 0 means 1
	AdvertiseFaultCode    int  // non-zero: the stack fails every advertise with this code

	Link LinkProfile // outbound connection timing and failures
}

// FullCapabilities is a phone that supports both transports
func FullCapabilities() Capabilities {
	return Capabilities{
		Classic:               true,
		LowEnergy:             true,
		MultipleAdvertisement: true,
		MaxAdvertisers:        4,
	}
}

// Adapter is the local radio. One per simulated device; shared by the host
// and peer roles on that device.
type Adapter struct {
	hardwareUUID string
	address      string
	name         string
	caps         Capabilities
	sim          *Simulator

	mu          sync.Mutex
	advertisers int
}

// NewAdapter creates an adapter. The device address is derived from the
// hardware UUID so it stays stable across restarts.
func NewAdapter(hardwareUUID, name string, caps Capabilities) *Adapter {
	return &Adapter{
		hardwareUUID: hardwareUUID,
		address:      AddressFromUUID(hardwareUUID),
		name:         name,
		caps:         caps,
		sim:          NewSimulator(caps.Link),
	}
}

// HardwareUUID returns this device's hardware UUID, or "" for a nil adapter
func (a *Adapter) HardwareUUID() string {
	if a == nil {
		return ""
	}
	return a.hardwareUUID
}

// Address returns the device address peers dial
func (a *Adapter) Address() string {
	if a == nil {
		return ""
	}
	return a.address
}

// Name returns the device name used in advertisements
func (a *Adapter) Name() string {
	return a.name
}

// Capabilities returns the hardware description
func (a *Adapter) Capabilities() Capabilities {
	return a.caps
}

// SupportsClassic reports whether stream sockets are available. A nil
// adapter means the device has no radio at all.
func (a *Adapter) SupportsClassic() bool {
	return a != nil && a.caps.Classic
}

// SupportsLE reports whether the device can run a GATT server
func (a *Adapter) SupportsLE() bool {
	return a != nil && a.caps.LowEnergy
}

// SimulateConnect applies the link profile to one outbound attempt
func (a *Adapter) SimulateConnect(ctx context.Context) error {
	if a == nil || a.sim == nil {
		return nil
	}
	return a.sim.Connect(ctx)
}

// AcquireAdvertiser reserves one advertising set. Returns false when all
// hardware slots are taken.
func (a *Adapter) AcquireAdvertiser() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	limit := a.caps.MaxAdvertisers
	if limit <= 0 {
		limit = 1
	}
	if a.advertisers >= limit {
		return false
	}
	a.advertisers++
	return true
}

// ReleaseAdvertiser frees a slot taken by AcquireAdvertiser
func (a *Adapter) ReleaseAdvertiser() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.advertisers > 0 {
		a.advertisers--
	}
}

// AddressFromUUID derives a locally administered unicast address from the
// first six bytes of a UUID. Non-UUID input is hashed through uuid.NewSHA1.
func AddressFromUUID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		u = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	}
	b := u[:6]
	first := (b[0] | 0x02) &^ 0x01
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", first, b[1], b[2], b[3], b[4], b[5])
}

// ParseAddress validates and normalizes a device address to upper case
func ParseAddress(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for _, p := range parts {
		if len(p) != 2 || !isHex(p[0]) || !isHex(p[1]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
	}
	return s, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}
