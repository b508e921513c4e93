package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/user/attendance-ping/event"
	"github.com/user/attendance-ping/frame"
	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
	"github.com/user/attendance-ping/wire/gatt"
)

// Identifiers of the attendance GATT service
var (
	DefaultServiceUUID        = uuid.MustParse("87654321-4321-4321-4321-cba987654321")
	DefaultCharacteristicUUID = uuid.MustParse("11111111-2222-3333-4444-555555555555")
)

type AttributeHostOptions struct {
	ServiceUUID        uuid.UUID
	CharacteristicUUID uuid.UUID
	Server             gatt.ServerOptions
}

// AttributeHost advertises the attendance service and reports every identity
// written to its characteristic. The radio has already acknowledged a write
// by the time its identity event is published.
type AttributeHost struct {
	adapter *wire.Adapter
	relay   *event.Relay
	opts    AttributeHostOptions

	mu      sync.Mutex
	state   State
	run     *attributeRun
	last    *gatt.Server
	failure gatt.AdvertiseFailure
}

type attributeRun struct {
	server *gatt.Server

	// held while publishing so StopHosting cannot return mid-publish
	mu      sync.RWMutex
	stopped bool
}

func NewAttributeHost(adapter *wire.Adapter, relay *event.Relay, opts AttributeHostOptions) *AttributeHost {
	if opts.ServiceUUID == uuid.Nil {
		opts.ServiceUUID = DefaultServiceUUID
	}
	if opts.CharacteristicUUID == uuid.Nil {
		opts.CharacteristicUUID = DefaultCharacteristicUUID
	}
	return &AttributeHost{adapter: adapter, relay: relay, opts: opts}
}

// StartHosting asks the radio to advertise and returns without waiting for
// the outcome, which arrives as an advertise-confirmed or a single
// hardware-fatal event. Cancelling ctx before the outcome abandons the start.
func (h *AttributeHost) StartHosting(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.run != nil {
		return ErrAlreadyHosting
	}
	prev := h.state
	h.state = StateStarting

	if !h.adapter.SupportsLE() {
		h.state = prev
		logger.Warn(h.tag(), "❌ No LE radio on this device")
		h.relay.Publish(event.HardwareFatal(int(gatt.FailureFeatureUnsupported),
			"FEATURE_UNSUPPORTED. This device cannot host a GATT server."))
		return fmt.Errorf("%w: attribute transport unavailable", ErrNoRadioSupport)
	}

	run := &attributeRun{server: gatt.NewServer(h.adapter, h.opts.Server)}
	run.server.OnWrite(func(remote string, value []byte) {
		h.onWrite(run, remote, value)
	})
	h.run = run
	h.last = run.server
	h.failure = gatt.FailureNone

	result := run.server.Advertise(h.opts.ServiceUUID, h.opts.CharacteristicUUID)
	go h.awaitAdvertise(ctx, run, result)

	logger.Info(h.tag(), "📣 Advertise requested for service %s", h.opts.ServiceUUID)
	return nil
}

func (h *AttributeHost) awaitAdvertise(ctx context.Context, run *attributeRun, result <-chan gatt.AdvertiseResult) {
	var r gatt.AdvertiseResult
	select {
	case r = <-result:
	case <-ctx.Done():
		run.server.StopAdvertising()
		r = <-result
		h.mu.Lock()
		if h.run == run {
			h.run = nil
			h.state = StateStopped
		}
		h.mu.Unlock()
		logger.Debug(h.tag(), "Advertise start abandoned: %v", ctx.Err())
		return
	}

	run.mu.RLock()
	defer run.mu.RUnlock()
	if run.stopped {
		return
	}

	if r.OK() {
		h.mu.Lock()
		if h.run == run {
			h.state = StateListening
		}
		h.mu.Unlock()
		logger.Info(h.tag(), "✅ Advertising confirmed")
		h.relay.Publish(event.AdvertiseConfirmed())
		return
	}

	code := r.Failure
	if code == gatt.FailureNone {
		code = gatt.FailureInternalError
	}
	h.mu.Lock()
	if h.run == run {
		h.run = nil
		h.state = StateStopped
		h.failure = code
	}
	h.mu.Unlock()
	run.server.StopAdvertising()

	logger.Error(h.tag(), "❌ Advertise failed: %s", r.Error())
	h.relay.Publish(event.HardwareFatal(int(code), code.Describe()))
}

func (h *AttributeHost) onWrite(run *attributeRun, remote string, value []byte) {
	run.mu.RLock()
	defer run.mu.RUnlock()
	if run.stopped {
		return
	}
	identity := frame.DecodeIdentity(value)
	logger.Debug(h.tag(), "📥 Identity %q from %s", identity, remote)
	h.relay.Publish(event.IdentityReceived(identity))
}

// StopHosting withdraws the advertisement and closes every link. No identity
// event is published once it returns. Safe to call in any state, including
// after a failed start.
func (h *AttributeHost) StopHosting() error {
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

	run.server.StopAdvertising()
	logger.Info(h.tag(), "🛑 Stopped advertising")
	return nil
}

// Drain waits for the last server's link goroutines, or until ctx ends
func (h *AttributeHost) Drain(ctx context.Context) error {
	h.mu.Lock()
	s := h.last
	h.mu.Unlock()
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *AttributeHost) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Failure returns the advertise failure that stopped the last run
func (h *AttributeHost) Failure() gatt.AdvertiseFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

func (h *AttributeHost) tag() string {
	return util.ShortHash(h.adapter.HardwareUUID()) + " AttrHost"
}
