package rfcomm

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
)

// HandshakeTimeout bounds how long an inbound link may take to identify itself
const HandshakeTimeout = 5 * time.Second

// Listener is an insecure (no pairing prompt) service record bound to one
// session UUID. Raw links are handshaken on their own goroutines, so a slow
// dialer never holds up Accept for the others.
type Listener struct {
	adapter     *wire.Adapter
	serviceName string
	sessionID   uuid.UUID
	socketPath  string
	ln          net.Listener

	ready     chan *Conn
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Listen binds the service record. It returns as soon as the socket exists;
// blocking happens in Accept.
func Listen(adapter *wire.Adapter, serviceName string, sessionID uuid.UUID) (*Listener, error) {
	if !adapter.SupportsClassic() {
		return nil, ErrNoRadioSupport
	}

	socketPath := util.SocketPath("rfcomm", adapter.Address())
	// Clean up a socket file left behind by a previous process
	os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: failed to listen on %s: %w", socketPath, err)
	}

	l := &Listener{
		adapter:     adapter,
		serviceName: serviceName,
		sessionID:   sessionID,
		socketPath:  socketPath,
		ln:          ln,
		ready:       make(chan *Conn),
		closed:      make(chan struct{}),
	}

	logger.Debug(l.tag(), "📡 Service record %q listening for session %s", serviceName, sessionID)

	l.wg.Add(1)
	go l.serve()
	return l, nil
}

// Accept blocks until a remote device completes the handshake or the
// listener is closed.
func (l *Listener) Accept() (*Conn, error) {
	select {
	case c := <-l.ready:
		return c, nil
	case <-l.closed:
		if err := l.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
}

// Close unblocks Accept and removes the socket file. Safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.ln.Close()
		os.Remove(l.socketPath)
		logger.Debug(l.tag(), "🔌 Service record %q closed", l.serviceName)
	})
	return nil
}

// Wait blocks until the internal accept and handshake goroutines have exited
func (l *Listener) Wait() {
	l.wg.Wait()
}

// Err returns the listener-level failure that ended the accept loop, if any
func (l *Listener) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// SessionID returns the session UUID this record serves
func (l *Listener) SessionID() uuid.UUID {
	return l.sessionID
}

// Address returns the address remote devices dial to reach this record
func (l *Listener) Address() string {
	return l.adapter.Address()
}

func (l *Listener) serve() {
	defer l.wg.Done()
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.errMu.Lock()
			l.err = fmt.Errorf("rfcomm: accept failed: %w", err)
			l.errMu.Unlock()
			logger.Warn(l.tag(), "❌ Accept loop failed: %v", err)
			l.Close()
			return
		}

		l.wg.Add(1)
		go l.handshake(nc)
	}
}

func (l *Listener) handshake(nc net.Conn) {
	defer l.wg.Done()

	nc.SetDeadline(time.Now().Add(HandshakeTimeout))
	hardwareUUID, sessionID, err := readHello(nc)
	if err != nil {
		logger.Trace(l.tag(), "⚠️  Dropping link with bad handshake: %v", err)
		nc.Close()
		return
	}

	if sessionID != l.sessionID {
		logger.Debug(l.tag(), "🚫 Rejecting %s: session %s does not match record", util.ShortHash(hardwareUUID), sessionID)
		nc.Write([]byte{statusRejected})
		nc.Close()
		return
	}

	if _, err := nc.Write([]byte{statusAccepted}); err != nil {
		nc.Close()
		return
	}
	nc.SetDeadline(time.Time{})

	c := newConn(nc, wire.AddressFromUUID(hardwareUUID), RoleHost)
	logger.Trace(l.tag(), "🤝 Handshake complete with %s", c.RemoteAddress())

	select {
	case l.ready <- c:
	case <-l.closed:
		c.Close()
	}
}

func (l *Listener) tag() string {
	return util.ShortHash(l.adapter.HardwareUUID()) + " RFCOMM"
}
