package debug

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire/att"
	"github.com/user/attendance-ping/wire/l2cap"
)

func setupTestEnv(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "apd-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	util.SetDataDir(tmpDir)
	t.Cleanup(func() {
		util.SetDataDir("")
		os.RemoveAll(tmpDir)
	})
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("Bad JSON line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestDisabledTracerIsNil(t *testing.T) {
	var tr *Tracer = NewTracer("hw", false)
	if tr != nil {
		t.Fatal("Disabled tracer should be nil")
	}
	// must not panic
	tr.L2CAP(RX, "peer", &l2cap.Packet{ChannelID: l2cap.ChannelATT, Payload: []byte{0x13}})
	if tr.Dir() != "" {
		t.Error("Nil tracer has no dir")
	}
}

func TestTraceWriteRequest(t *testing.T) {
	setupTestEnv(t)
	tr := NewTracer("hw-uuid", true)

	pdu, err := att.EncodePacket(&att.WriteRequest{Handle: 0x0003, Value: []byte("stu42")})
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}
	tr.L2CAP(RX, "02:11:22:33:44:55", l2cap.NewATTPacket(pdu))
	tr.L2CAP(TX, "02:11:22:33:44:55", &l2cap.Packet{ChannelID: l2cap.ChannelLESignal, Payload: []byte("id")})

	frames := readLines(t, filepath.Join(tr.Dir(), "l2cap_packets.jsonl"))
	if len(frames) != 2 {
		t.Fatalf("Expected 2 l2cap records, got %d", len(frames))
	}
	if frames[1]["channel_name"] != "LE L2CAP Signaling" {
		t.Errorf("channel_name = %v", frames[1]["channel_name"])
	}

	pdus := readLines(t, filepath.Join(tr.Dir(), "att_packets.jsonl"))
	if len(pdus) != 1 {
		t.Fatalf("Expected 1 att record, got %d", len(pdus))
	}
	rec := pdus[0]
	if rec["direction"] != RX || rec["opcode"] != "0x12" {
		t.Errorf("Unexpected record %v", rec)
	}
	data := rec["data"].(map[string]interface{})
	if data["handle"] != "0x0003" || data["value_hex"] != "7374753432" {
		t.Errorf("Unexpected data %v", data)
	}
}
