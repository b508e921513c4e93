package rfcomm

import "errors"

var (
	// ErrNoRadioSupport means the device cannot open stream sockets at all
	ErrNoRadioSupport = errors.New("rfcomm: bluetooth not supported on this device")

	// ErrClosed is returned by Accept after the listener was closed
	ErrClosed = errors.New("rfcomm: listener closed")

	// ErrUnreachable means no service socket exists at the remote address
	ErrUnreachable = errors.New("rfcomm: remote device unreachable")

	// ErrRejected means the remote device refused the service handshake
	ErrRejected = errors.New("rfcomm: connection rejected by remote service")

	// ErrTimeout means the connection attempt ran past its deadline
	ErrTimeout = errors.New("rfcomm: connection timed out")
)
