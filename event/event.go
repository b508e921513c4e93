// Package event carries session outcomes from the radio goroutines to the
// single consumer that renders them (the bridge or the CLI).
package event

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Kind tags an Event
type Kind string

const (
	KindDebug              Kind = "debug"
	KindIdentityReceived   Kind = "identity-received"
	KindHardwareFatal      Kind = "hardware-fatal"
	KindAdvertiseConfirmed Kind = "advertise-confirmed"
)

// AdvertiseConfirmedMessage is reported once the radio confirms the broadcast
const AdvertiseConfirmedMessage = "OS confirmed broadcast is active on hardware."

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind
	Message  string // debug, hardware-fatal and advertise-confirmed
	Identity string // identity-received
	Code     int    // hardware-fatal: advertise failure code
}

func Debug(format string, args ...interface{}) Event {
	return Event{Kind: KindDebug, Message: fmt.Sprintf(format, args...)}
}

func IdentityReceived(identity string) Event {
	return Event{Kind: KindIdentityReceived, Identity: identity}
}

func HardwareFatal(code int, message string) Event {
	return Event{Kind: KindHardwareFatal, Code: code, Message: message}
}

func AdvertiseConfirmed() Event {
	return Event{Kind: KindAdvertiseConfirmed, Message: AdvertiseConfirmedMessage}
}

// Flatten renders e for consumers that only take strings
func Flatten(e Event) string {
	switch e.Kind {
	case KindIdentityReceived:
		return "ACK:" + e.Identity
	case KindHardwareFatal:
		return "FATAL:HARDWARE: " + e.Message
	case KindDebug, KindAdvertiseConfirmed:
		return "LOG: " + e.Message
	default:
		return "LOG: " + e.Message
	}
}

// ToStruct converts e to the map shape forwarded by the bridge
func ToStruct(e Event) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"event": string(e.Kind),
		"text":  Flatten(e),
	}
	switch e.Kind {
	case KindIdentityReceived:
		fields["identity"] = e.Identity
	case KindHardwareFatal:
		fields["message"] = e.Message
		fields["code"] = e.Code
	default:
		fields["message"] = e.Message
	}
	return structpb.NewStruct(fields)
}

func (e Event) String() string {
	return Flatten(e)
}
