package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/attendance-ping/event"
	"github.com/user/attendance-ping/session"
	"github.com/user/attendance-ping/wire/gatt"
)

func newHostCmd(a *app) *cobra.Command {
	host := &cobra.Command{
		Use:   "host",
		Short: "Answer pings from nearby students",
	}

	var sessionID string
	stream := &cobra.Command{
		Use:   "stream",
		Short: "Listen on the stream service record and acknowledge every identity",
		Example: `  attendance-ping host stream
  attendance-ping host stream --session 00001101-0000-1000-8000-00805f9b34fb`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = a.cfg.Session.StreamUUID
			}
			return a.runStreamHost(sessionID)
		},
	}
	stream.Flags().StringVarP(&sessionID, "session", "s", "", "session UUID (default: session.stream_uuid)")

	attribute := &cobra.Command{
		Use:   "attribute",
		Short: "Advertise the attendance GATT service and print every identity written to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAttributeHost()
		},
	}

	host.AddCommand(stream, attribute)
	return host
}

func (a *app) runStreamHost(sessionID string) error {
	adapter := a.cfg.Adapter()
	relay := event.NewRelay()
	events, detach := relay.Attach(a.cfg.Bridge.EventBuffer)
	defer detach()

	h := session.NewStreamHost(adapter, relay, a.streamOptions())
	if err := h.StartHosting(sessionID); err != nil {
		return err
	}
	fmt.Printf("🎧 %s hosting session %s at %s\n", adapter.Name(), sessionID, adapter.Address())

	ctx, cancel := signalContext()
	defer cancel()
	printEvents(ctx, events)

	if err := h.StopHosting(); err != nil {
		return err
	}
	drainCtx, done := context.WithTimeout(context.Background(), a.cfg.Session.HandlerTimeout)
	defer done()
	h.Drain(drainCtx)
	fmt.Println("🛑 Stopped")
	return h.Err()
}

func (a *app) runAttributeHost() error {
	adapter := a.cfg.Adapter()
	relay := event.NewRelay()
	events, detach := relay.Attach(a.cfg.Bridge.EventBuffer)
	defer detach()

	h := session.NewAttributeHost(adapter, relay, a.attributeOptions())

	ctx, cancel := signalContext()
	defer cancel()
	if err := h.StartHosting(ctx); err != nil {
		// the hardware-fatal event is already queued
		drainEvents(events)
		return err
	}
	fmt.Printf("📣 %s advertising %s at %s\n", adapter.Name(), a.cfg.ServiceUUID(), adapter.Address())

	printEvents(ctx, events)
	h.StopHosting()

	drainCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	h.Drain(drainCtx)
	if f := h.Failure(); f != gatt.FailureNone {
		return fmt.Errorf("advertise failed: %s", f)
	}
	fmt.Println("🛑 Stopped")
	return nil
}

// printEvents writes flattened events until ctx ends or the radio reports a
// hardware-fatal error
func printEvents(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fmt.Println(event.Flatten(e))
			if e.Kind == event.KindHardwareFatal {
				return
			}
		}
	}
}

func drainEvents(events <-chan event.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			fmt.Println(event.Flatten(e))
		default:
			return
		}
	}
}

func (a *app) streamOptions() session.StreamHostOptions {
	return session.StreamHostOptions{
		ServiceName:    a.cfg.Session.ServiceName,
		HandlerTimeout: a.cfg.Session.HandlerTimeout,
	}
}

func (a *app) attributeOptions() session.AttributeHostOptions {
	opts := gatt.DefaultServerOptions()
	opts.IncludeDeviceName = a.cfg.Session.IncludeDeviceName
	opts.PacketTrace = a.cfg.Radio.PacketTrace
	return session.AttributeHostOptions{
		ServiceUUID:        a.cfg.ServiceUUID(),
		CharacteristicUUID: a.cfg.CharacteristicUUID(),
		Server:             opts,
	}
}

func (a *app) peerOptions() session.PeerOptions {
	return session.PeerOptions{Timeout: a.cfg.Session.ConnectTimeout}
}
