package rfcomm

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/attendance-ping/frame"
)

// Role records which side created a connection
type Role string

const (
	RoleHost Role = "host" // accepted by a Listener
	RolePeer Role = "peer" // created by Dial
)

// Conn is one established stream link. A Conn is owned by exactly one
// goroutine; Close may be called from anywhere.
type Conn struct {
	nc            net.Conn
	remoteAddress string
	role          Role
	closeOnce     sync.Once
	closed        atomic.Bool
}

func newConn(nc net.Conn, remoteAddress string, role Role) *Conn {
	return &Conn{nc: nc, remoteAddress: remoteAddress, role: role}
}

// RemoteAddress returns the peer's address, or "" when it is unknown
func (c *Conn) RemoteAddress() string {
	return c.remoteAddress
}

// Role returns whether this side accepted or initiated the link
func (c *Conn) Role() Role {
	return c.role
}

// Send writes b in full
func (c *Conn) Send(b []byte) error {
	if _, err := c.nc.Write(b); err != nil {
		return fmt.Errorf("rfcomm: send failed: %w", err)
	}
	return nil
}

// Receive performs a single read of at most max bytes. Callers get whatever
// is available on the link at that moment; no message boundary is implied.
func (c *Conn) Receive(max int) ([]byte, error) {
	b, err := frame.ReadFrame(c.nc, max)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: receive failed: %w", err)
	}
	return b, nil
}

// SetDeadline bounds subsequent Send/Receive calls
func (c *Conn) SetDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}

// Close is idempotent and never reports errors from an already broken link
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.nc.Close()
	})
	return nil
}

// IsClosed reports whether Close has been called
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}
