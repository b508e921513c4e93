package gatt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
	"github.com/user/attendance-ping/wire/advertising"
	"github.com/user/attendance-ping/wire/att"
	"github.com/user/attendance-ping/wire/l2cap"
)

// Client is the central side of one GATT link
type Client struct {
	adapter       *wire.Adapter
	remoteAddress string
	nc            net.Conn
	tracker       *att.RequestTracker

	writeMu sync.Mutex // one frame at a time on the link
	reqMu   sync.Mutex // one outstanding ATT request

	mu      sync.Mutex
	mtu     int
	handles map[uuid.UUID]uint16

	closeOnce sync.Once
	done      chan struct{}
}

// Scan lists devices currently advertising serviceUUID
func Scan(serviceUUID uuid.UUID) ([]*advertising.Record, error) {
	return advertising.Scan(serviceUUID)
}

// Dial connects to the GATT server at address
func Dial(ctx context.Context, adapter *wire.Adapter, address string) (*Client, error) {
	if !adapter.SupportsLE() {
		return nil, ErrNoRadioSupport
	}
	addr, err := wire.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	if err := adapter.SimulateConnect(ctx); err != nil {
		if errors.Is(err, wire.ErrConnectionFailed) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
		}
		return nil, fmt.Errorf("gatt: dial %s: %w", addr, err)
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", util.SocketPath("gatt", addr))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("gatt: dial %s: %w", addr, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}

	c := &Client{
		adapter:       adapter,
		remoteAddress: addr,
		nc:            nc,
		tracker:       att.NewRequestTracker(),
		mtu:           att.DefaultMTU,
		handles:       make(map[uuid.UUID]uint16),
		done:          make(chan struct{}),
	}

	// Identify ourselves so the server can report who wrote
	hello := &l2cap.Packet{ChannelID: l2cap.ChannelLESignal, Payload: []byte(adapter.HardwareUUID())}
	if err := c.writePacket(hello); err != nil {
		nc.Close()
		return nil, fmt.Errorf("gatt: connect to %s: %w", addr, err)
	}

	go c.readLoop()
	logger.Trace(c.tag(), "🔗 Connected to %s", addr)
	return c, nil
}

// RemoteAddress returns the server's address
func (c *Client) RemoteAddress() string {
	return c.remoteAddress
}

// MTU returns the negotiated ATT MTU
func (c *Client) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// ExchangeMTU negotiates the ATT MTU and returns the value in effect
func (c *Client) ExchangeMTU(ctx context.Context, clientRxMTU int) (int, error) {
	if clientRxMTU < att.DefaultMTU {
		clientRxMTU = att.DefaultMTU
	}
	if clientRxMTU > att.MaxMTU {
		clientRxMTU = att.MaxMTU
	}
	resp, err := c.request(ctx, &att.ExchangeMTURequest{ClientRxMTU: uint16(clientRxMTU)})
	if err != nil {
		return 0, err
	}
	server := int(resp.(*att.ExchangeMTUResponse).ServerRxMTU)
	mtu := clientRxMTU
	if server < mtu {
		mtu = server
	}
	if mtu < att.DefaultMTU {
		mtu = att.DefaultMTU
	}
	c.mu.Lock()
	c.mtu = mtu
	c.mu.Unlock()
	return mtu, nil
}

// Write sends value to the characteristic charUUID. With withResponse it
// returns once the server's Write Response has arrived, which is the
// acknowledgment. Values longer than MTU-3 are truncated.
func (c *Client) Write(ctx context.Context, charUUID uuid.UUID, value []byte, withResponse bool) error {
	handle, err := c.valueHandle(ctx, charUUID)
	if err != nil {
		return err
	}

	if limit := c.MTU() - 3; len(value) > limit {
		logger.Warn(c.tag(), "⚠️  Truncating %d-byte write to %d bytes (MTU %d)", len(value), limit, c.MTU())
		value = value[:limit]
	}

	if !withResponse {
		return c.send(&att.WriteCommand{Handle: handle, Value: value})
	}
	_, err = c.request(ctx, &att.WriteRequest{Handle: handle, Value: value})
	return err
}

func (c *Client) valueHandle(ctx context.Context, charUUID uuid.UUID) (uint16, error) {
	c.mu.Lock()
	h, ok := c.handles[charUUID]
	c.mu.Unlock()
	if ok {
		return h, nil
	}

	resp, err := c.request(ctx, &att.ReadByTypeRequest{
		StartHandle: 0x0001,
		EndHandle:   0xFFFF,
		Type:        advertising.UUIDBytesLE(charUUID),
	})
	if err != nil {
		return 0, fmt.Errorf("gatt: characteristic %s not found: %w", charUUID, err)
	}
	r := resp.(*att.ReadByTypeResponse)
	if len(r.AttributeData) < 2 {
		return 0, fmt.Errorf("gatt: characteristic %s not found", charUUID)
	}
	h = binary.LittleEndian.Uint16(r.AttributeData[0:2])

	c.mu.Lock()
	c.handles[charUUID] = h
	c.mu.Unlock()
	return h, nil
}

func (c *Client) request(ctx context.Context, pkt interface{}) (interface{}, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	data, err := att.EncodePacket(pkt)
	if err != nil {
		return nil, err
	}
	ch, err := c.tracker.Start(att.Opcode(data))
	if err != nil {
		return nil, err
	}
	if err := c.writePacket(l2cap.NewATTPacket(data)); err != nil {
		c.tracker.Fail(err)
		<-ch
		return nil, fmt.Errorf("gatt: send to %s: %w", c.remoteAddress, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, att.DefaultTransactionTimeout)
		defer cancel()
	}
	resp, err := c.tracker.Await(ctx, ch)
	if errors.Is(err, att.ErrTransactionClosed) {
		return nil, ErrClosed
	}
	return resp, err
}

func (c *Client) send(pkt interface{}) error {
	data, err := att.EncodePacket(pkt)
	if err != nil {
		return err
	}
	if err := c.writePacket(l2cap.NewATTPacket(data)); err != nil {
		return fmt.Errorf("gatt: send to %s: %w", c.remoteAddress, err)
	}
	return nil
}

func (c *Client) writePacket(p *l2cap.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return l2cap.WritePacket(c.nc, p)
}

func (c *Client) readLoop() {
	defer func() {
		c.tracker.CancelPending()
		c.closeOnce.Do(func() {
			close(c.done)
			c.nc.Close()
		})
	}()

	for {
		pkt, err := l2cap.ReadPacket(c.nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Trace(c.tag(), "⚠️  Link to %s ended: %v", c.remoteAddress, err)
			}
			return
		}
		if pkt.ChannelID != l2cap.ChannelATT {
			continue
		}
		opcode := att.Opcode(pkt.Payload)
		if !att.IsResponse(opcode) {
			continue
		}
		decoded, err := att.DecodePacket(pkt.Payload)
		if err != nil {
			c.tracker.Fail(err)
			continue
		}
		if err := c.tracker.Complete(opcode, decoded); err != nil {
			logger.Trace(c.tag(), "⚠️  Unmatched response from %s: %v", c.remoteAddress, err)
		}
	}
}

// Close disconnects. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.nc.Close()
	})
	return nil
}

func (c *Client) tag() string {
	return util.ShortHash(c.adapter.HardwareUUID()) + " GATT"
}
