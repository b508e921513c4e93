// Package frame encodes the tiny payloads exchanged during a proximity ping:
// the peer's identity token and the host's acknowledgment.
//
// Frames are raw UTF-8 with no length prefix or terminator. A frame ends
// wherever a single read on the link ends, so payloads split across link
// packets are truncated. This is accepted for short identity tokens.
package frame

import (
	"io"
	"strings"
)

const (
	// MaxFrameSize is the read buffer used on both sides of the stream link
	MaxFrameSize = 1024

	// AckPrefix is prepended to the identity to form the stream acknowledgment
	AckPrefix = "ACK_"

	// NoAck is reported when the host closed the link without answering
	NoAck = "NO_ACK"

	// DefaultPingPayload is sent when the caller supplies no identity
	DefaultPingPayload = "PING"
)

// EncodeIdentity returns the wire bytes for an identity token
func EncodeIdentity(payload string) []byte {
	return []byte(payload)
}

// DecodeIdentity interprets raw bytes as an identity token. Invalid UTF-8 is
// passed through untouched.
func DecodeIdentity(b []byte) string {
	return string(b)
}

// Ack builds the acknowledgment string for an identity
func Ack(payload string) string {
	return AckPrefix + payload
}

// EncodeAck returns the wire bytes of the acknowledgment for payload
func EncodeAck(payload string) []byte {
	return []byte(Ack(payload))
}

// DecodeAck strips AckPrefix. ok is false when b is not an acknowledgment.
func DecodeAck(b []byte) (payload string, ok bool) {
	s := string(b)
	if !strings.HasPrefix(s, AckPrefix) {
		return s, false
	}
	return strings.TrimPrefix(s, AckPrefix), true
}

// ReadFrame performs exactly one Read of at most max bytes. It returns
// whatever that read produced; a read of zero bytes followed by io.EOF
// returns (nil, io.EOF).
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = MaxFrameSize
	}
	buf := make([]byte, max)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}
