package session

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/user/attendance-ping/frame"
	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
	"github.com/user/attendance-ping/wire/rfcomm"
)

// DefaultPingTimeout bounds a whole ping when the request sets none
const DefaultPingTimeout = 10 * time.Second

// PingRequest names the host record to reach and the identity to send
type PingRequest struct {
	Address   string
	SessionID string
	Payload   string        // empty means frame.DefaultPingPayload unless ExactPayload
	Timeout   time.Duration // whole attempt; 0 means the peer default

	// ExactPayload sends Payload as given, even when it is empty
	ExactPayload bool
}

// PingResult is the outcome of a completed exchange. DistanceHint is always
// nil: the stream link exposes no signal strength.
type PingResult struct {
	Success      bool
	AckPayload   string
	DistanceHint *float64
	RoundTrip    time.Duration
}

// PingOutcome is what PingOnce delivers
type PingOutcome struct {
	Result PingResult
	Err    error
}

// PeerOptions configures a Peer. Timeout is the default whole-attempt bound.
type PeerOptions struct {
	Timeout time.Duration
}

// Peer runs at most one outbound ping at a time. Starting a new one
// interrupts the one in flight.
type Peer struct {
	adapter *wire.Adapter
	opts    PeerOptions

	mu      sync.Mutex
	attempt uint64
	cancel  context.CancelCauseFunc
}

// NewPeer returns an idle Peer dialing from adapter
func NewPeer(adapter *wire.Adapter, opts PeerOptions) *Peer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPingTimeout
	}
	return &Peer{adapter: adapter, opts: opts}
}

// PingOnce starts an attempt on its own goroutine. The channel receives
// exactly one outcome. A still-running previous attempt is cancelled and
// its own channel receives ErrSuperseded.
func (p *Peer) PingOnce(ctx context.Context, req PingRequest) <-chan PingOutcome {
	out := make(chan PingOutcome, 1)

	addr, err := p.validate(&req)
	if err != nil {
		out <- PingOutcome{Err: err}
		return out
	}

	ctx, cancel := context.WithCancelCause(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel(ErrSuperseded)
	}
	p.attempt++
	n := p.attempt
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		res, err := p.run(ctx, addr, req)

		p.mu.Lock()
		if p.attempt == n {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel(nil)

		out <- PingOutcome{Result: res, Err: err}
	}()
	return out
}

// Ping blocks until the attempt completes
func (p *Peer) Ping(ctx context.Context, req PingRequest) (PingResult, error) {
	o := <-p.PingOnce(ctx, req)
	return o.Result, o.Err
}

// Disconnect interrupts the attempt in flight, closing its link. Safe to
// call at any time.
func (p *Peer) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel(ErrDisconnected)
		p.cancel = nil
	}
}

func (p *Peer) validate(req *PingRequest) (string, error) {
	if strings.TrimSpace(req.Address) == "" {
		return "", invalidArgument("remote address is required")
	}
	addr, err := wire.ParseAddress(req.Address)
	if err != nil {
		return "", invalidArgument("%v", err)
	}
	if _, err := ParseSessionID(req.SessionID); err != nil {
		return "", err
	}
	if req.Payload == "" && !req.ExactPayload {
		req.Payload = frame.DefaultPingPayload
	}
	if req.Timeout <= 0 {
		req.Timeout = p.opts.Timeout
	}
	return addr, nil
}

func (p *Peer) run(parent context.Context, addr string, req PingRequest) (PingResult, error) {
	id, _ := ParseSessionID(req.SessionID)
	ctx, cancel := context.WithTimeout(parent, req.Timeout)
	defer cancel()

	start := time.Now()
	c, err := rfcomm.Dial(ctx, p.adapter, addr, id, 0)
	if err != nil {
		return PingResult{}, p.fail(ctx, "connect", addr, err)
	}
	defer c.Close()

	// Interrupting the attempt closes the link under any blocked IO
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		c.SetDeadline(deadline)
	}

	if err := c.Send(frame.EncodeIdentity(req.Payload)); err != nil {
		return PingResult{}, p.fail(ctx, "send", addr, err)
	}

	b, err := c.Receive(frame.MaxFrameSize)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, io.EOF) && ctx.Err() == nil {
			logger.Debug(p.tag(), "⚠️  %s closed without an ack", addr)
			return PingResult{Success: true, AckPayload: frame.NoAck, RoundTrip: elapsed}, nil
		}
		return PingResult{}, p.fail(ctx, "receive", addr, err)
	}

	ack := string(b)
	logger.Debug(p.tag(), "✅ %s answered %q in %v", addr, ack, elapsed)
	return PingResult{Success: true, AckPayload: ack, RoundTrip: elapsed}, nil
}

func (p *Peer) fail(ctx context.Context, op, addr string, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrSuperseded):
		err = ErrSuperseded
	case errors.Is(cause, ErrDisconnected):
		err = ErrDisconnected
	case errors.Is(err, rfcomm.ErrTimeout):
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		err = ErrTimeout
	}
	logger.Debug(p.tag(), "❌ Ping %s: %s failed: %v", addr, op, err)
	return &PingError{Op: op, Address: addr, Err: err}
}

func (p *Peer) tag() string {
	return util.ShortHash(p.adapter.HardwareUUID()) + " Peer"
}
