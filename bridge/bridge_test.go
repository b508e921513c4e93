package bridge

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/user/attendance-ping/event"
	"github.com/user/attendance-ping/session"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
	"github.com/user/attendance-ping/wire/gatt"
)

const testSession = "00001101-0000-1000-8000-00805f9b34fb"

func setupTestEnv(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "apb-*")
	require.NoError(t, err)
	util.SetDataDir(tmpDir)
	t.Cleanup(func() {
		util.SetDataDir("")
		os.RemoveAll(tmpDir)
	})
}

func newBridge(t *testing.T, caps wire.Capabilities) (*Bridge, *wire.Adapter) {
	t.Helper()
	a := wire.NewAdapter(uuid.NewString(), "bridge-test", caps)
	b := New(a, event.NewRelay(), Options{})
	t.Cleanup(func() { b.Close() })
	return b, a
}

func nextEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
	return event.Event{}
}

func TestClassicPingThroughBridge(t *testing.T) {
	setupTestEnv(t)
	host, hostAdapter := newBridge(t, wire.FullCapabilities())
	student, _ := newBridge(t, wire.FullCapabilities())
	ctx := context.Background()

	res, err := host.Invoke(ctx, ChannelClassicBT, "startServer", map[string]interface{}{"uuid": testSession})
	require.NoError(t, err)
	assert.Equal(t, ResultServerStarted, res)

	res, err = student.Invoke(ctx, ChannelClassicBT, "connectAndPing", map[string]interface{}{
		"mac":     hostAdapter.Address(),
		"uuid":    testSession,
		"payload": "stu42",
	})
	require.NoError(t, err)
	m, ok := res.(map[string]interface{})
	require.True(t, ok, "result is a map")
	assert.Equal(t, true, m["success"])
	assert.Equal(t, 0, m["rssi"])
	assert.Nil(t, m["distanceHint"])
	assert.Equal(t, "ACK_stu42", m["ackPayload"])

	// default payload
	res, err = student.Invoke(ctx, ChannelClassicBT, "connectAndPing", map[string]interface{}{
		"mac":  hostAdapter.Address(),
		"uuid": testSession,
	})
	require.NoError(t, err)
	assert.Equal(t, "ACK_PING", res.(map[string]interface{})["ackPayload"])

	res, err = host.Invoke(ctx, ChannelClassicBT, "stopServer", nil)
	require.NoError(t, err)
	assert.Equal(t, ResultServerStopped, res)

	res, err = student.Invoke(ctx, ChannelClassicBT, "disconnectClient", nil)
	require.NoError(t, err)
	assert.Equal(t, ResultClientStopped, res)
}

func TestEmptyPayloadIsSentAsIs(t *testing.T) {
	setupTestEnv(t)
	hostAdapter := wire.NewAdapter(uuid.NewString(), "bridge-host", wire.FullCapabilities())
	host := New(hostAdapter, event.NewRelay(), Options{
		Stream: session.StreamHostOptions{HandlerTimeout: 200 * time.Millisecond},
	})
	t.Cleanup(func() { host.Close() })
	student, _ := newBridge(t, wire.FullCapabilities())
	ctx := context.Background()

	_, err := host.Invoke(ctx, ChannelClassicBT, "startServer", map[string]interface{}{"uuid": testSession})
	require.NoError(t, err)

	// An explicit "" is not replaced with PING: the host reads nothing and
	// closes after its handler timeout, so no ack comes back.
	res, err := student.Invoke(ctx, ChannelClassicBT, "connectAndPing", map[string]interface{}{
		"mac":     hostAdapter.Address(),
		"uuid":    testSession,
		"payload": "",
	})
	require.NoError(t, err)
	m := res.(map[string]interface{})
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "NO_ACK", m["ackPayload"])

	// null behaves like a missing key
	res, err = student.Invoke(ctx, ChannelClassicBT, "connectAndPing", map[string]interface{}{
		"mac":     hostAdapter.Address(),
		"uuid":    testSession,
		"payload": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "ACK_PING", res.(map[string]interface{})["ackPayload"])
}

func TestArgumentErrors(t *testing.T) {
	setupTestEnv(t)
	b, _ := newBridge(t, wire.FullCapabilities())
	ctx := context.Background()

	tests := []struct {
		name    string
		channel string
		method  string
		args    map[string]interface{}
		code    string
		message string
	}{
		{"start without uuid", ChannelClassicBT, "startServer", nil, CodeErr, "No UUID"},
		{"ping without mac", ChannelClassicBT, "connectAndPing", map[string]interface{}{"uuid": testSession}, CodeErr, "No MAC"},
		{"ping without uuid", ChannelClassicBT, "connectAndPing", map[string]interface{}{"mac": "AA:BB:CC:DD:EE:FF"}, CodeErr, "No UUID"},
		{"bad session id", ChannelClassicBT, "startServer", map[string]interface{}{"uuid": "not-a-uuid"}, CodeErr, ""},
		{"bad mac", ChannelClassicBT, "connectAndPing", map[string]interface{}{"mac": "nope", "uuid": testSession}, CodeErr, ""},
		{"payload not a string", ChannelClassicBT, "connectAndPing", map[string]interface{}{"mac": "AA:BB:CC:DD:EE:FF", "uuid": testSession, "payload": 42}, CodeErr, "payload must be a string"},
		{"unknown method", ChannelClassicBT, "pair", nil, CodeNotImplemented, ""},
		{"unknown command", ChannelCommand, "reboot", nil, CodeNotImplemented, ""},
		{"unknown channel", "wifi", "startServer", nil, CodeNotImplemented, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Invoke(ctx, tt.channel, tt.method, tt.args)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			if tt.message != "" {
				var be *Error
				require.ErrorAs(t, err, &be)
				assert.Equal(t, tt.message, be.Message)
			}
		})
	}
}

func TestUnreachableHostIsClientError(t *testing.T) {
	setupTestEnv(t)
	b, _ := newBridge(t, wire.FullCapabilities())

	_, err := b.Invoke(context.Background(), ChannelClassicBT, "connectAndPing", map[string]interface{}{
		"mac":  "02:11:22:33:44:55",
		"uuid": testSession,
	})
	require.Error(t, err)
	assert.Equal(t, CodeClientErr, CodeOf(err))
	assert.ErrorIs(t, err, session.ErrUnreachable)
}

func TestNoRadio(t *testing.T) {
	setupTestEnv(t)
	b, _ := newBridge(t, wire.Capabilities{})
	events, detach := b.Events()
	defer detach()

	_, err := b.Invoke(context.Background(), ChannelClassicBT, "startServer", map[string]interface{}{"uuid": testSession})
	assert.Equal(t, CodeNoBT, CodeOf(err))

	_, err = b.Invoke(context.Background(), ChannelCommand, "startServer", nil)
	assert.Equal(t, CodeNoBT, CodeOf(err))

	e := nextEvent(t, events)
	assert.Equal(t, event.KindHardwareFatal, e.Kind)
	assert.Equal(t, int(gatt.FailureFeatureUnsupported), e.Code)

	res, err := b.Invoke(context.Background(), ChannelCommand, "stopServer", nil)
	require.NoError(t, err)
	assert.Equal(t, ResultServerStopped, res)
}

func TestAttributeHostThroughBridge(t *testing.T) {
	setupTestEnv(t)
	host, hostAdapter := newBridge(t, wire.FullCapabilities())
	events, detach := host.Events()
	defer detach()

	res, err := host.Invoke(context.Background(), ChannelCommand, "startServer", nil)
	require.NoError(t, err)
	assert.Equal(t, ResultServerRequested, res)

	e := nextEvent(t, events)
	require.Equal(t, event.KindAdvertiseConfirmed, e.Kind)
	assert.Equal(t, "LOG: "+event.AdvertiseConfirmedMessage, event.Flatten(e))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	student := wire.NewAdapter(uuid.NewString(), "student", wire.FullCapabilities())
	c, err := gatt.Dial(ctx, student, hostAdapter.Address())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Write(ctx, session.DefaultCharacteristicUUID, []byte("stu42"), true))

	e = nextEvent(t, events)
	assert.Equal(t, event.KindIdentityReceived, e.Kind)
	assert.Equal(t, "ACK:stu42", event.Flatten(e))
}

func TestAdvertiseFailureEvent(t *testing.T) {
	setupTestEnv(t)
	caps := wire.FullCapabilities()
	caps.MultipleAdvertisement = false
	b, _ := newBridge(t, caps)
	events, detach := b.Events()
	defer detach()

	_, err := b.Invoke(context.Background(), ChannelCommand, "startServer", nil)
	require.NoError(t, err, "the outcome is reported as an event")

	e := nextEvent(t, events)
	assert.Equal(t, event.KindHardwareFatal, e.Kind)
	assert.Contains(t, event.Flatten(e), "FATAL:HARDWARE: ")

	_, err = b.Invoke(context.Background(), ChannelCommand, "stopServer", nil)
	assert.NoError(t, err)
}

func TestStatusRoundTrip(t *testing.T) {
	err := toStatus(newError(CodeNoBT, "Bluetooth not supported"))
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
	assert.Equal(t, "NO_BT: Bluetooth not supported", st.Message())

	back := fromStatus(err)
	assert.Equal(t, CodeNoBT, CodeOf(back))

	for code, want := range map[string]codes.Code{
		CodeErr:            codes.InvalidArgument,
		CodeClientErr:      codes.Unavailable,
		CodeServerErr:      codes.Unavailable,
		CodeNotImplemented: codes.Unimplemented,
	} {
		assert.Equal(t, want, grpcCode(code), code)
	}

	assert.Empty(t, CodeOf(fromStatus(status.Error(codes.Internal, "boom"))))
}

func dialBufconn(t *testing.T, b *Bridge) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterBridgeServer(srv, NewService(b))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestGRPCInvokeAndEvents(t *testing.T) {
	setupTestEnv(t)
	host, hostAdapter := newBridge(t, wire.FullCapabilities())
	student, _ := newBridge(t, wire.FullCapabilities())
	hc := dialBufconn(t, host)
	sc := dialBufconn(t, student)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := hc.Events(ctx)
	require.NoError(t, err)

	// wait until the stream has attached before causing events
	require.Eventually(t, host.relay.Attached, 2*time.Second, 10*time.Millisecond)

	res, err := hc.Call(ctx, ChannelCommand, "startServer", nil)
	require.NoError(t, err)
	assert.Equal(t, ResultServerRequested, res)

	m, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, string(event.KindAdvertiseConfirmed), m.GetFields()["event"].GetStringValue())

	res, err = hc.Call(ctx, ChannelClassicBT, "startServer", map[string]interface{}{"uuid": testSession})
	require.NoError(t, err)
	assert.Equal(t, ResultServerStarted, res)

	res, err = sc.Call(ctx, ChannelClassicBT, "connectAndPing", map[string]interface{}{
		"mac":     hostAdapter.Address(),
		"uuid":    testSession,
		"payload": "stu7",
	})
	require.NoError(t, err)
	got := res.(map[string]interface{})
	assert.Equal(t, "ACK_stu7", got["ackPayload"])
	assert.Equal(t, true, got["success"])
	assert.Equal(t, float64(0), got["rssi"])
	assert.Nil(t, got["distanceHint"])

	_, err = sc.Call(ctx, ChannelClassicBT, "connectAndPing", map[string]interface{}{"uuid": testSession})
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, CodeErr, be.Code)
	assert.Equal(t, codes.InvalidArgument, status.Code(be.Err))

	_, err = sc.Call(ctx, "classic_bt", "bond", nil)
	assert.Equal(t, CodeNotImplemented, CodeOf(err))
}

func TestServerAddressValidation(t *testing.T) {
	b, _ := newBridge(t, wire.FullCapabilities())
	_, err := NewServer("", b)
	assert.Error(t, err)
	_, err = NewServer("localhost", b)
	assert.Error(t, err)

	s, err := NewServer("127.0.0.1:0", b)
	require.NoError(t, err)
	addr, err := s.Listen()
	require.NoError(t, err)
	assert.NotEmpty(t, addr.String())

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}
