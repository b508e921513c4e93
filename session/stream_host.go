package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/attendance-ping/event"
	"github.com/user/attendance-ping/frame"
	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
	"github.com/user/attendance-ping/wire/gatt"
	"github.com/user/attendance-ping/wire/rfcomm"
)

// DefaultServiceName is the service record name peers see
const DefaultServiceName = "AttendanceServer"

// DefaultHandlerTimeout bounds one read/ack exchange on an accepted link
const DefaultHandlerTimeout = 5 * time.Second

// StreamHostOptions configures a StreamHost; zero values take the defaults
type StreamHostOptions struct {
	ServiceName    string
	HandlerTimeout time.Duration
}

// StreamHost answers every inbound stream link with an acknowledgment of the
// identity it carried. It reports nothing per peer; a listener failure
// reaches the relay as a hardware-fatal event.
type StreamHost struct {
	adapter *wire.Adapter
	relay   *event.Relay
	opts    StreamHostOptions

	mu    sync.Mutex
	state State
	run   *streamRun
	err   error

	handlers sync.WaitGroup
}

type streamRun struct {
	listener *rfcomm.Listener
	mu       sync.Mutex
	stopped  bool
	done     chan struct{}
}

func (r *streamRun) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// NewStreamHost returns an idle host on adapter publishing to relay
func NewStreamHost(adapter *wire.Adapter, relay *event.Relay, opts StreamHostOptions) *StreamHost {
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	return &StreamHost{adapter: adapter, relay: relay, opts: opts}
}

// StartHosting binds the service record for sessionID and starts the accept
// loop. It returns as soon as the record is listening.
func (h *StreamHost) StartHosting(sessionID string) error {
	id, err := ParseSessionID(sessionID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.run != nil {
		return ErrAlreadyHosting
	}
	prev := h.state
	h.state = StateStarting

	if !h.adapter.SupportsClassic() {
		h.state = prev
		logger.Warn(h.tag(), "❌ No stream radio on this device")
		return fmt.Errorf("%w: stream transport unavailable", ErrNoRadioSupport)
	}

	l, err := rfcomm.Listen(h.adapter, h.opts.ServiceName, id)
	if err != nil {
		h.state = StateStopped
		h.err = err
		h.relay.Publish(event.Debug("Stream server failed to start: %v", err))
		return fmt.Errorf("start stream host: %w", err)
	}

	run := &streamRun{listener: l, done: make(chan struct{})}
	h.run = run
	h.err = nil
	h.state = StateListening
	go h.acceptLoop(run)

	logger.Info(h.tag(), "🎧 Hosting session %s on %s", id, h.adapter.Address())
	return nil
}

func (h *StreamHost) acceptLoop(run *streamRun) {
	defer close(run.done)
	for {
		c, err := run.listener.Accept()
		if err != nil {
			if run.isStopped() {
				return
			}
			h.listenerFailed(run, err)
			return
		}
		if run.isStopped() {
			c.Close()
			continue
		}

		h.handlers.Add(1)
		go h.handle(c)
	}
}

func (h *StreamHost) listenerFailed(run *streamRun, err error) {
	run.listener.Close()

	h.mu.Lock()
	if h.run == run {
		h.run = nil
		h.state = StateStopped
		h.err = err
	}
	h.mu.Unlock()

	logger.Error(h.tag(), "❌ Accept loop ended: %v", err)
	h.relay.Publish(event.HardwareFatal(int(gatt.FailureInternalError),
		fmt.Sprintf("%s. Stream server stopped: %v", gatt.FailureInternalError, err)))
}

// handle services exactly one request/response cycle and always closes c
func (h *StreamHost) handle(c *rfcomm.Conn) {
	defer h.handlers.Done()
	defer c.Close()

	c.SetDeadline(time.Now().Add(h.opts.HandlerTimeout))

	b, err := c.Receive(frame.MaxFrameSize)
	if err != nil {
		logger.Debug(h.tag(), "⚠️  Read from %s failed: %v", c.RemoteAddress(), err)
		return
	}
	identity := frame.DecodeIdentity(b)

	if err := c.Send(frame.EncodeAck(identity)); err != nil {
		logger.Debug(h.tag(), "⚠️  Ack to %s failed: %v", c.RemoteAddress(), err)
		return
	}
	logger.Debug(h.tag(), "✅ Acknowledged %q from %s", identity, c.RemoteAddress())
}

// StopHosting closes the service record. Handlers already running finish on
// their own (bounded by the handler timeout). Safe to call in any state.
func (h *StreamHost) StopHosting() error {
	h.mu.Lock()
	run := h.run
	h.run = nil
	h.state = StateStopped
	h.mu.Unlock()

	if run == nil {
		return nil
	}
	run.mu.Lock()
	run.stopped = true
	run.mu.Unlock()
	run.listener.Close()
	<-run.done

	logger.Info(h.tag(), "🛑 Stopped hosting")
	return nil
}

// Drain waits for in-flight handlers, or until ctx ends
func (h *StreamHost) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state
func (h *StreamHost) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure that stopped the last run, if any
func (h *StreamHost) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *StreamHost) tag() string {
	return util.ShortHash(h.adapter.HardwareUUID()) + " StreamHost"
}
