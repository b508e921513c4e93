// Package debug writes human-readable JSONL traces of the packets a device
// exchanges. Traces are write-only; nothing in the stack reads them back.
package debug

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire/att"
	"github.com/user/attendance-ping/wire/l2cap"
)

// Direction of a traced packet
const (
	TX = "tx"
	RX = "rx"
)

// Tracer appends packet records under <data>/<hardwareUUID>/debug. A nil or
// disabled Tracer does nothing.
type Tracer struct {
	dir string
	mu  sync.Mutex
}

// L2CAPRecord is one line of l2cap_packets.jsonl
type L2CAPRecord struct {
	Timestamp   string `json:"timestamp"`
	Direction   string `json:"direction"`
	Peer        string `json:"peer"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	PayloadLen  int    `json:"payload_len"`
	PayloadHex  string `json:"payload_hex"`
}

// ATTRecord is one line of att_packets.jsonl
type ATTRecord struct {
	Timestamp  string                 `json:"timestamp"`
	Direction  string                 `json:"direction"`
	Peer       string                 `json:"peer"`
	Opcode     string                 `json:"opcode"`
	OpcodeName string                 `json:"opcode_name"`
	Data       map[string]interface{} `json:"data,omitempty"`
	RawHex     string                 `json:"raw_hex"`
}

// NewTracer returns nil when disabled
func NewTracer(hardwareUUID string, enabled bool) *Tracer {
	if !enabled {
		return nil
	}
	dir := filepath.Join(util.GetDeviceCacheDir(hardwareUUID), "debug")
	os.MkdirAll(dir, 0755)
	return &Tracer{dir: dir}
}

// Dir is where the trace files live
func (t *Tracer) Dir() string {
	if t == nil {
		return ""
	}
	return t.dir
}

// L2CAP records one frame. ATT frames also get a decoded att_packets.jsonl line.
func (t *Tracer) L2CAP(direction, peer string, p *l2cap.Packet) {
	if t == nil || p == nil {
		return
	}
	now := time.Now().Format(time.RFC3339Nano)
	t.append("l2cap_packets.jsonl", L2CAPRecord{
		Timestamp:   now,
		Direction:   direction,
		Peer:        peer,
		ChannelID:   fmt.Sprintf("0x%04X", p.ChannelID),
		ChannelName: channelName(p.ChannelID),
		PayloadLen:  len(p.Payload),
		PayloadHex:  hex.EncodeToString(p.Payload),
	})
	if p.ChannelID != l2cap.ChannelATT || len(p.Payload) == 0 {
		return
	}

	opcode := att.Opcode(p.Payload)
	name, ok := att.OpcodeNames[opcode]
	if !ok {
		name = "Unknown"
	}
	rec := ATTRecord{
		Timestamp:  now,
		Direction:  direction,
		Peer:       peer,
		Opcode:     fmt.Sprintf("0x%02X", opcode),
		OpcodeName: name,
		RawHex:     hex.EncodeToString(p.Payload),
	}
	if decoded, err := att.DecodePacket(p.Payload); err == nil {
		rec.Data = describe(decoded)
	}
	t.append("att_packets.jsonl", rec)
}

func (t *Tracer) append(filename string, v interface{}) {
	line, err := json.Marshal(v)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(t.dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return // best effort
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

func channelName(id uint16) string {
	switch id {
	case l2cap.ChannelATT:
		return "ATT"
	case l2cap.ChannelLESignal:
		return "LE L2CAP Signaling"
	default:
		return "Unknown"
	}
}

// describe pulls the interesting fields out of a decoded PDU
func describe(pkt interface{}) map[string]interface{} {
	data := make(map[string]interface{})
	switch p := pkt.(type) {
	case *att.ExchangeMTURequest:
		data["client_rx_mtu"] = p.ClientRxMTU
	case *att.ExchangeMTUResponse:
		data["server_rx_mtu"] = p.ServerRxMTU
	case *att.ReadByTypeRequest:
		data["start_handle"] = fmt.Sprintf("0x%04X", p.StartHandle)
		data["end_handle"] = fmt.Sprintf("0x%04X", p.EndHandle)
		data["type_hex"] = hex.EncodeToString(p.Type)
	case *att.ReadByTypeResponse:
		data["length"] = p.Length
		data["records_hex"] = hex.EncodeToString(p.AttributeData)
	case *att.WriteRequest:
		data["handle"] = fmt.Sprintf("0x%04X", p.Handle)
		data["value_len"] = len(p.Value)
		data["value_hex"] = hex.EncodeToString(p.Value)
	case *att.WriteCommand:
		data["handle"] = fmt.Sprintf("0x%04X", p.Handle)
		data["value_len"] = len(p.Value)
		data["value_hex"] = hex.EncodeToString(p.Value)
	case *att.ErrorResponse:
		data["request_opcode"] = fmt.Sprintf("0x%02X", p.RequestOpcode)
		data["request_opcode_name"] = att.OpcodeNames[p.RequestOpcode]
		data["handle"] = fmt.Sprintf("0x%04X", p.Handle)
		data["error_code"] = fmt.Sprintf("0x%02X", p.ErrorCode)
		data["error_name"] = att.ErrorNames[p.ErrorCode]
	}
	if len(data) == 0 {
		return nil
	}
	return data
}
