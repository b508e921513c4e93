package att

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTransactionTimeout is the ATT transaction timeout (Vol 3, Part F, 3.3.3)
const DefaultTransactionTimeout = 30 * time.Second

var (
	ErrRequestPending    = errors.New("att: request already pending")
	ErrNoPendingRequest  = errors.New("att: no pending request")
	ErrUnexpectedOpcode  = errors.New("att: unexpected response opcode")
	ErrTransactionClosed = errors.New("att: request cancelled (link closed)")
)

// RequestTracker enforces the one-outstanding-request rule on a link and
// routes the matching response back to the waiting caller.
type RequestTracker struct {
	mu      sync.Mutex
	pending *pendingRequest
}

type pendingRequest struct {
	opcode   uint8
	response chan Response
	sentAt   time.Time
}

// Response is either the decoded response PDU or the error that ended the request
type Response struct {
	Packet interface{}
	Err    error
}

func NewRequestTracker() *RequestTracker {
	return &RequestTracker{}
}

// Start registers a request. The returned channel receives exactly one Response.
func (rt *RequestTracker) Start(opcode uint8) (<-chan Response, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending != nil {
		return nil, fmt.Errorf("%w (opcode 0x%02X)", ErrRequestPending, rt.pending.opcode)
	}
	ch := make(chan Response, 1)
	rt.pending = &pendingRequest{opcode: opcode, response: ch, sentAt: time.Now()}
	return ch, nil
}

// Complete hands a response PDU to the pending request. Error responses are
// delivered as *Error values.
func (rt *RequestTracker) Complete(opcode uint8, pkt interface{}) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return fmt.Errorf("%w for opcode 0x%02X", ErrNoPendingRequest, opcode)
	}
	if opcode == OpErrorResponse {
		if er, ok := pkt.(*ErrorResponse); ok {
			rt.finishLocked(Response{Err: er.AsError()})
			return nil
		}
	}
	if want := ResponseOpcode(rt.pending.opcode); opcode != want {
		return fmt.Errorf("%w 0x%02X for request 0x%02X (expected 0x%02X)",
			ErrUnexpectedOpcode, opcode, rt.pending.opcode, want)
	}
	rt.finishLocked(Response{Packet: pkt})
	return nil
}

// Fail ends the pending request with err. It is a no-op when nothing is pending.
func (rt *RequestTracker) Fail(err error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pending != nil {
		rt.finishLocked(Response{Err: err})
	}
}

// CancelPending fails any pending request because the link went away
func (rt *RequestTracker) CancelPending() {
	rt.Fail(ErrTransactionClosed)
}

// HasPending reports whether a request is outstanding
func (rt *RequestTracker) HasPending() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending != nil
}

// Await waits for the response to a request started with Start. When ctx ends
// first, the request is abandoned so the next one can be issued.
func (rt *RequestTracker) Await(ctx context.Context, ch <-chan Response) (interface{}, error) {
	select {
	case r := <-ch:
		return r.Packet, r.Err
	case <-ctx.Done():
		rt.mu.Lock()
		if rt.pending != nil && rt.pending.response == ch {
			rt.pending = nil
		}
		rt.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (rt *RequestTracker) finishLocked(r Response) {
	rt.pending.response <- r
	close(rt.pending.response)
	rt.pending = nil
}
