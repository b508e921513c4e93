package rfcomm

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
)

// setupTestEnv points the shared data directory at a short temp dir
// (Unix socket paths are length limited)
func setupTestEnv(t *testing.T) string {
	tmpDir, err := os.MkdirTemp("/tmp", "apr-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	util.SetDataDir(tmpDir)
	t.Cleanup(func() {
		util.SetDataDir("")
		os.RemoveAll(tmpDir)
	})
	return tmpDir
}

func newTestAdapter(id string) *wire.Adapter {
	return wire.NewAdapter(id, "Test "+id, wire.FullCapabilities())
}

func TestListenRequiresClassicRadio(t *testing.T) {
	setupTestEnv(t)
	a := wire.NewAdapter("le-only", "LE Only", wire.Capabilities{LowEnergy: true})
	if _, err := Listen(a, "AttendanceServer", uuid.New()); !errors.Is(err, ErrNoRadioSupport) {
		t.Fatalf("Expected ErrNoRadioSupport, got %v", err)
	}
	if _, err := Listen(nil, "AttendanceServer", uuid.New()); !errors.Is(err, ErrNoRadioSupport) {
		t.Fatalf("Expected ErrNoRadioSupport for nil adapter, got %v", err)
	}
}

func TestDialAcceptExchange(t *testing.T) {
	setupTestEnv(t)
	host := newTestAdapter("host-uuid")
	peer := newTestAdapter("peer-uuid")
	session := uuid.New()

	l, err := Listen(host, "AttendanceServer", session)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer l.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			t.Errorf("Accept failed: %v", err)
			return
		}
		accepted <- c
	}()

	c, err := Dial(context.Background(), peer, host.Address(), session, time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()
	if c.Role() != RolePeer || c.RemoteAddress() != host.Address() {
		t.Errorf("Unexpected dialer conn: role=%s addr=%s", c.Role(), c.RemoteAddress())
	}

	var hc *Conn
	select {
	case hc = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for accept")
	}
	defer hc.Close()
	if hc.Role() != RoleHost || hc.RemoteAddress() != peer.Address() {
		t.Errorf("Unexpected accepted conn: role=%s addr=%s", hc.Role(), hc.RemoteAddress())
	}

	if err := c.Send([]byte("stu42")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := hc.Receive(1024)
	if err != nil || string(got) != "stu42" {
		t.Fatalf("Receive = %q, %v", got, err)
	}
}

func TestDialUnreachable(t *testing.T) {
	setupTestEnv(t)
	peer := newTestAdapter("peer-uuid")
	_, err := Dial(context.Background(), peer, "02:00:00:00:00:01", uuid.New(), time.Second)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
}

func TestDialRejectedOnSessionMismatch(t *testing.T) {
	setupTestEnv(t)
	host := newTestAdapter("host-uuid")
	l, err := Listen(host, "AttendanceServer", uuid.New())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer l.Close()

	_, err = Dial(context.Background(), newTestAdapter("peer-uuid"), host.Address(), uuid.New(), time.Second)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Expected ErrRejected, got %v", err)
	}
}

func TestDialInvalidAddress(t *testing.T) {
	setupTestEnv(t)
	_, err := Dial(context.Background(), newTestAdapter("peer-uuid"), "not-a-mac", uuid.New(), time.Second)
	if !errors.Is(err, wire.ErrInvalidAddress) {
		t.Fatalf("Expected ErrInvalidAddress, got %v", err)
	}
}

func TestDialTimesOutOnSilentService(t *testing.T) {
	setupTestEnv(t)
	addr := "02:00:00:00:00:02"

	// A socket that accepts but never answers the handshake
	ln, err := net.Listen("unix", util.SocketPath("rfcomm", addr))
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	start := time.Now()
	_, err = Dial(context.Background(), newTestAdapter("peer-uuid"), addr, uuid.New(), 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Dial should give up near its timeout, took %v", elapsed)
	}
}

func TestDialCanceled(t *testing.T) {
	setupTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, newTestAdapter("peer-uuid"), "02:00:00:00:00:03", uuid.New(), 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestAcceptAfterCloseReturnsErrClosed(t *testing.T) {
	setupTestEnv(t)
	l, err := Listen(newTestAdapter("host-uuid"), "AttendanceServer", uuid.New())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	l.Close()
	l.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Accept did not unblock after Close")
	}
	l.Wait()
}

func TestConnCloseIsIdempotent(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := newConn(a, "", RolePeer)
	if err := c.Close(); err != nil {
		t.Fatalf("First close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Second close should swallow errors: %v", err)
	}
	if !c.IsClosed() {
		t.Error("Expected IsClosed after Close")
	}
	if err := c.Send([]byte("x")); err == nil {
		t.Error("Send on closed conn should fail")
	}
}

func TestDialDroppedByLossyLink(t *testing.T) {
	setupTestEnv(t)
	host := newTestAdapter("host-uuid")
	session := uuid.New()
	l, err := Listen(host, "AttendanceServer", session)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer l.Close()

	caps := wire.FullCapabilities()
	caps.Link = wire.LinkProfile{ConnectFailureRate: 1}
	lossy := wire.NewAdapter("lossy-uuid", "Lossy", caps)
	_, err = Dial(context.Background(), lossy, host.Address(), session, time.Second)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable from a dropped attempt, got %v", err)
	}
}
