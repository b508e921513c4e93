package gatt

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRadioSupport means the adapter cannot act as a GATT server or client
	ErrNoRadioSupport = errors.New("gatt: no LE radio support")
	// ErrStopped is delivered when StopAdvertising wins the race with a pending start
	ErrStopped = errors.New("gatt: advertising stopped before it started")
	// ErrUnreachable means nothing is serving GATT at the dialed address
	ErrUnreachable = errors.New("gatt: device unreachable")
	// ErrClosed is returned by client calls after the link went away
	ErrClosed = errors.New("gatt: link closed")
)

// AdvertiseFailure is the stack's advertise-start error code
type AdvertiseFailure int

const (
	FailureNone               AdvertiseFailure = 0
	FailureDataTooLarge       AdvertiseFailure = 1
	FailureTooManyAdvertisers AdvertiseFailure = 2
	FailureAlreadyStarted     AdvertiseFailure = 3
	FailureInternalError      AdvertiseFailure = 4
	FailureFeatureUnsupported AdvertiseFailure = 5
)

func (f AdvertiseFailure) String() string {
	switch f {
	case FailureNone:
		return "NONE"
	case FailureDataTooLarge:
		return "DATA_TOO_LARGE"
	case FailureTooManyAdvertisers:
		return "TOO_MANY_ADVERTISERS"
	case FailureAlreadyStarted:
		return "ALREADY_STARTED"
	case FailureInternalError:
		return "INTERNAL_ERROR"
	case FailureFeatureUnsupported:
		return "FEATURE_UNSUPPORTED"
	default:
		return fmt.Sprintf("UNKNOWN_HARDWARE_ERROR_%d", int(f))
	}
}

// Describe renders the code the way it is reported to the user
func (f AdvertiseFailure) Describe() string {
	switch f {
	case FailureTooManyAdvertisers:
		return f.String() + " (advertiser slots exhausted)"
	case FailureInternalError:
		return f.String() + " (radio stack failure)"
	case FailureFeatureUnsupported:
		return f.String() + " (hardware limitation)"
	default:
		return f.String()
	}
}

// AdvertiseResult is the one-shot outcome of Advertise. Success has
// Failure == FailureNone and Err == nil; Err may carry the cause of a failure.
type AdvertiseResult struct {
	Failure AdvertiseFailure
	Err     error
}

// OK reports whether advertising is live
func (r AdvertiseResult) OK() bool {
	return r.Failure == FailureNone && r.Err == nil
}

func (r AdvertiseResult) Error() string {
	switch {
	case r.Failure != FailureNone && r.Err != nil:
		return fmt.Sprintf("advertise failed: %s: %v", r.Failure, r.Err)
	case r.Failure != FailureNone:
		return "advertise failed: " + r.Failure.String()
	case r.Err != nil:
		return r.Err.Error()
	}
	return ""
}

// AdvertiseState tracks the server's advertising lifecycle
type AdvertiseState int

const (
	StateStopped AdvertiseState = iota
	StateStarting
	StateAdvertising
	StateFailed
)

func (s AdvertiseState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateAdvertising:
		return "advertising"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("AdvertiseState(%d)", int(s))
}
