package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
)

// Dial makes exactly one attempt to open a link to the service record for
// sessionID on remoteAddress. timeout <= 0 means ctx alone bounds the attempt.
func Dial(ctx context.Context, adapter *wire.Adapter, remoteAddress string, sessionID uuid.UUID, timeout time.Duration) (*Conn, error) {
	if !adapter.SupportsClassic() {
		return nil, ErrNoRadioSupport
	}
	addr, err := wire.ParseAddress(remoteAddress)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tag := util.ShortHash(adapter.HardwareUUID()) + " RFCOMM"
	logger.Trace(tag, "📞 Dialing %s for session %s", addr, sessionID)

	if err := adapter.SimulateConnect(ctx); err != nil {
		if errors.Is(err, wire.ErrConnectionFailed) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
		}
		return nil, classifyDialError(ctx, addr, err)
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", util.SocketPath("rfcomm", addr))
	if err != nil {
		return nil, classifyDialError(ctx, addr, err)
	}

	// Abort the handshake as soon as ctx ends
	stop := context.AfterFunc(ctx, func() {
		nc.SetDeadline(time.Now())
	})

	status, err := clientHandshake(nc, adapter.HardwareUUID(), sessionID)
	if !stop() {
		nc.Close()
		return nil, classifyDialError(ctx, addr, ctx.Err())
	}
	if err != nil {
		nc.Close()
		return nil, classifyDialError(ctx, addr, err)
	}
	if status != statusAccepted {
		nc.Close()
		return nil, fmt.Errorf("%w: %s", ErrRejected, addr)
	}

	logger.Trace(tag, "✅ Connected to %s", addr)
	return newConn(nc, addr, RolePeer), nil
}

func clientHandshake(nc net.Conn, hardwareUUID string, sessionID uuid.UUID) (byte, error) {
	if err := writeHello(nc, hardwareUUID, sessionID); err != nil {
		return 0, err
	}
	var status [1]byte
	if _, err := io.ReadFull(nc, status[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// The listener hung up without answering
			return statusRejected, nil
		}
		return 0, err
	}
	return status[0], nil
}

func classifyDialError(ctx context.Context, addr string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrTimeout, addr)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("rfcomm: dial %s: %w", addr, context.Canceled)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}
	return fmt.Errorf("rfcomm: dial %s: %w", addr, err)
}
