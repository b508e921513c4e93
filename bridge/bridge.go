// Package bridge exposes the host and peer roles to a UI process as named
// method calls on two channels, plus a stream of events.
package bridge

import (
	"context"
	"fmt"

	"github.com/user/attendance-ping/event"
	"github.com/user/attendance-ping/frame"
	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/session"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
)

// Method channels
const (
	ChannelCommand   = "command"
	ChannelClassicBT = "classic_bt"
)

// Results returned to the UI
const (
	ResultServerRequested = "Server Initialization Command Sent to OS"
	ResultServerStarted   = "Server Started"
	ResultServerStopped   = "Server Stopped"
	ResultClientStopped   = "Client Stopped"
)

type Options struct {
	Stream    session.StreamHostOptions
	Attribute session.AttributeHostOptions
	Peer      session.PeerOptions
	// EventBuffer sizes the consumer channel handed to Events
	EventBuffer int
}

// Bridge owns one manager per role on a single adapter
type Bridge struct {
	adapter   *wire.Adapter
	relay     *event.Relay
	stream    *session.StreamHost
	attribute *session.AttributeHost
	peer      *session.Peer
	opts      Options
}

func New(adapter *wire.Adapter, relay *event.Relay, opts Options) *Bridge {
	if relay == nil {
		relay = event.NewRelay()
	}
	return &Bridge{
		adapter:   adapter,
		relay:     relay,
		stream:    session.NewStreamHost(adapter, relay, opts.Stream),
		attribute: session.NewAttributeHost(adapter, relay, opts.Attribute),
		peer:      session.NewPeer(adapter, opts.Peer),
		opts:      opts,
	}
}

// Invoke runs one method call. The result is a string or, for
// connectAndPing, a map. Failures are always *Error.
func (b *Bridge) Invoke(ctx context.Context, channel, method string, args map[string]interface{}) (interface{}, error) {
	logger.Debug(b.tag(), "📞 %s.%s", channel, method)
	switch channel {
	case ChannelCommand:
		return b.invokeCommand(method)
	case ChannelClassicBT:
		return b.invokeClassic(ctx, method, args)
	default:
		return nil, newError(CodeNotImplemented, fmt.Sprintf("unknown channel %q", channel))
	}
}

func (b *Bridge) invokeCommand(method string) (interface{}, error) {
	switch method {
	case "startServer":
		// the advertise outcome arrives on the event stream
		if err := b.attribute.StartHosting(context.Background()); err != nil {
			return nil, classify(err, CodeServerErr)
		}
		return ResultServerRequested, nil
	case "stopServer":
		if err := b.attribute.StopHosting(); err != nil {
			logger.Warn(b.tag(), "stop attribute host: %v", err)
		}
		return ResultServerStopped, nil
	default:
		return nil, newError(CodeNotImplemented, fmt.Sprintf("%s.%s", ChannelCommand, method))
	}
}

func (b *Bridge) invokeClassic(ctx context.Context, method string, args map[string]interface{}) (interface{}, error) {
	switch method {
	case "startServer":
		id, ok := stringArg(args, "uuid")
		if !ok {
			return nil, newError(CodeErr, "No UUID")
		}
		if err := b.stream.StartHosting(id); err != nil {
			return nil, classify(err, CodeServerErr)
		}
		return ResultServerStarted, nil

	case "stopServer":
		if err := b.stream.StopHosting(); err != nil {
			logger.Warn(b.tag(), "stop stream host: %v", err)
		}
		return ResultServerStopped, nil

	case "connectAndPing":
		mac, ok := stringArg(args, "mac")
		if !ok {
			return nil, newError(CodeErr, "No MAC")
		}
		id, ok := stringArg(args, "uuid")
		if !ok {
			return nil, newError(CodeErr, "No UUID")
		}
		req := session.PingRequest{Address: mac, SessionID: id, Payload: frame.DefaultPingPayload}
		switch v := args["payload"].(type) {
		case nil:
		case string:
			req.Payload, req.ExactPayload = v, true
		default:
			return nil, newError(CodeErr, "payload must be a string")
		}
		res, err := b.peer.Ping(ctx, req)
		if err != nil {
			return nil, classify(err, CodeClientErr)
		}
		return map[string]interface{}{
			"success":      res.Success,
			"rssi":         0,
			"distanceHint": nil,
			"ackPayload":   res.AckPayload,
		}, nil

	case "disconnectClient":
		b.peer.Disconnect()
		return ResultClientStopped, nil

	default:
		return nil, newError(CodeNotImplemented, fmt.Sprintf("%s.%s", ChannelClassicBT, method))
	}
}

// Events attaches the single event consumer, detaching any previous one.
func (b *Bridge) Events() (<-chan event.Event, func()) {
	return b.relay.Attach(b.opts.EventBuffer)
}

// Close stops both hosts and interrupts any ping in flight
func (b *Bridge) Close() error {
	b.peer.Disconnect()
	err1 := b.stream.StopHosting()
	err2 := b.attribute.StopHosting()
	if err1 != nil {
		return err1
	}
	return err2
}

func (b *Bridge) tag() string {
	return util.ShortHash(b.adapter.HardwareUUID()) + " Bridge"
}

// stringArg returns a non-empty string argument
func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
