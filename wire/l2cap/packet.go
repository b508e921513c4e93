// Package l2cap frames attribute-protocol traffic on a simulated LE link.
// Every PDU travels as one basic-mode frame:
//
//	[Length: 2 bytes LE][Channel ID: 2 bytes LE][Payload: Length bytes]
package l2cap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Fixed channels used on the link
const (
	ChannelATT      uint16 = 0x0004
	ChannelLESignal uint16 = 0x0005
)

const (
	HeaderLen = 4
	// MaxPayload caps a frame so a corrupt length cannot force a large allocation
	MaxPayload = 517 + 3
)

var ErrPayloadTooLarge = errors.New("l2cap: payload too large")

// Packet is one basic-mode frame
type Packet struct {
	ChannelID uint16
	Payload   []byte
}

// NewATTPacket wraps an ATT PDU for the attribute channel
func NewATTPacket(payload []byte) *Packet {
	return &Packet{ChannelID: ChannelATT, Payload: payload}
}

// Encode serializes the frame
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.Payload)))
	binary.LittleEndian.PutUint16(buf[2:4], p.ChannelID)
	copy(buf[HeaderLen:], p.Payload)
	return buf
}

// Decode parses a single frame held entirely in data
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("l2cap: packet too short (need at least %d bytes, got %d)", HeaderLen, len(data))
	}
	length := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < HeaderLen+length {
		return nil, fmt.Errorf("l2cap: incomplete packet (claimed length %d, got %d)", length, len(data)-HeaderLen)
	}
	payload := make([]byte, length)
	copy(payload, data[HeaderLen:HeaderLen+length])
	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(data[2:4]),
		Payload:   payload,
	}, nil
}

// WritePacket writes p to w in one call so concurrent writers never interleave
// partial frames (callers still serialize writes on a shared link).
func WritePacket(w io.Writer, p *Packet) error {
	if len(p.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.Payload))
	}
	_, err := w.Write(p.Encode())
	return err
}

// ReadPacket blocks until one complete frame has arrived on r
func ReadPacket(r io.Reader) (*Packet, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(header[0:2]))
	if length > MaxPayload {
		return nil, fmt.Errorf("%w: header claims %d bytes", ErrPayloadTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(header[2:4]),
		Payload:   payload,
	}, nil
}
