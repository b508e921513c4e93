package l2cap

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name      string
		packet    *Packet
		wantBytes []byte
	}{
		{
			name:      "empty payload",
			packet:    &Packet{ChannelID: ChannelATT, Payload: []byte{}},
			wantBytes: []byte{0x00, 0x00, 0x04, 0x00},
		},
		{
			name:      "write request",
			packet:    NewATTPacket([]byte{0x12, 0x03, 0x00, 's'}),
			wantBytes: []byte{0x04, 0x00, 0x04, 0x00, 0x12, 0x03, 0x00, 's'},
		},
		{
			name:      "signaling channel",
			packet:    &Packet{ChannelID: ChannelLESignal, Payload: []byte{0xAA}},
			wantBytes: []byte{0x01, 0x00, 0x05, 0x00, 0xAA},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.packet.Encode()
			if !bytes.Equal(encoded, tt.wantBytes) {
				t.Errorf("Encode() = %v, want %v", encoded, tt.wantBytes)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if decoded.ChannelID != tt.packet.ChannelID {
				t.Errorf("ChannelID = %d, want %d", decoded.ChannelID, tt.packet.ChannelID)
			}
			if !bytes.Equal(decoded.Payload, tt.packet.Payload) {
				t.Errorf("Payload = %v, want %v", decoded.Payload, tt.packet.Payload)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0x01, 0x00}},
		{"incomplete payload", []byte{0x05, 0x00, 0x04, 0x00, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestReadPacketFromStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, NewATTPacket([]byte("first"))); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}
	if err := WritePacket(&buf, NewATTPacket([]byte("second"))); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}

	for _, want := range []string{"first", "second"} {
		p, err := ReadPacket(&buf)
		if err != nil {
			t.Fatalf("ReadPacket failed: %v", err)
		}
		if string(p.Payload) != want {
			t.Errorf("Payload = %q, want %q", p.Payload, want)
		}
	}

	if _, err := ReadPacket(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF on empty stream, got %v", err)
	}
}

func TestReadPacketTruncated(t *testing.T) {
	r := bytes.NewReader([]byte{0x05, 0x00, 0x04, 0x00, 'a', 'b'})
	if _, err := ReadPacket(r); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestPayloadLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, NewATTPacket(make([]byte, MaxPayload+1))); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge on write, got %v", err)
	}

	r := bytes.NewReader([]byte{0xFF, 0xFF, 0x04, 0x00})
	if _, err := ReadPacket(r); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge on read, got %v", err)
	}
}
