package session

import (
	"errors"
	"fmt"

	"github.com/user/attendance-ping/wire/gatt"
	"github.com/user/attendance-ping/wire/rfcomm"
)

var (
	// ErrNoRadioSupport means the hardware cannot run the requested role at all
	ErrNoRadioSupport = errors.New("no radio support")
	// ErrAlreadyHosting is returned by StartHosting while a run is active
	ErrAlreadyHosting = errors.New("already hosting")
	// ErrInvalidArgument wraps caller mistakes caught before any radio work
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSuperseded is delivered to a ping that a newer PingOnce replaced
	ErrSuperseded = errors.New("ping superseded by a newer attempt")
	// ErrDisconnected is delivered to a ping interrupted by Disconnect
	ErrDisconnected = errors.New("ping interrupted by disconnect")

	ErrUnreachable = rfcomm.ErrUnreachable
	ErrRejected    = rfcomm.ErrRejected
	ErrTimeout     = rfcomm.ErrTimeout
)

// PingError describes which step of a ping failed
type PingError struct {
	Op      string // connect, send or receive
	Address string
	Err     error
}

func (e *PingError) Error() string {
	return fmt.Sprintf("ping %s: %s failed: %v", e.Address, e.Op, e.Err)
}

func (e *PingError) Unwrap() error {
	return e.Err
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsNoRadio reports whether err came from missing stream or LE hardware
func IsNoRadio(err error) bool {
	return errors.Is(err, ErrNoRadioSupport) ||
		errors.Is(err, rfcomm.ErrNoRadioSupport) ||
		errors.Is(err, gatt.ErrNoRadioSupport)
}
