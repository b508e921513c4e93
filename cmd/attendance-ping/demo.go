package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/attendance-ping/event"
	"github.com/user/attendance-ping/session"
	"github.com/user/attendance-ping/util"
	"github.com/user/attendance-ping/wire"
	"github.com/user/attendance-ping/wire/gatt"
)

func newDemoCmd(a *app) *cobra.Command {
	var students int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a whole classroom in one process: one host, many students, both transports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDemo(students)
		},
	}
	cmd.Flags().IntVarP(&students, "students", "n", 5, "number of student devices")
	return cmd
}

func (a *app) runDemo(students int) error {
	fmt.Println("=== Attendance Ping Demo ===")
	fmt.Println()

	// a private air so the demo never sees real hosts
	dir, err := os.MkdirTemp("", "attendance-demo-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	util.SetDataDir(dir)

	hostAdapter := wire.NewAdapter(uuid.NewString(), "Classroom Host", a.cfg.Capabilities())
	relay := event.NewRelay()
	events, detach := relay.Attach(students * 2)
	defer detach()

	stream := session.NewStreamHost(hostAdapter, relay, a.streamOptions())
	attr := session.NewAttributeHost(hostAdapter, relay, a.attributeOptions())

	fmt.Printf("Host %s (%s)\n", hostAdapter.Name(), hostAdapter.Address())
	if err := stream.StartHosting(a.cfg.Session.StreamUUID); err != nil {
		fmt.Printf("  ❌ Stream host: %v\n", err)
	} else {
		fmt.Println("  ✅ Stream host listening")
		defer stream.StopHosting()
	}
	if err := attr.StartHosting(context.Background()); err != nil {
		fmt.Printf("  ❌ Attribute host: %v\n", err)
	} else {
		defer attr.StopHosting()
	}
	fmt.Println()

	// Scenario 1: every student pings over the stream link at once
	fmt.Println("Scenario 1: stream ping")
	var wg sync.WaitGroup
	results := make([]string, students)
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("stu%02d", i+1)
			p := session.NewPeer(wire.NewAdapter(uuid.NewString(), id, wire.FullCapabilities()), a.peerOptions())
			res, err := p.Ping(context.Background(), session.PingRequest{
				Address:   hostAdapter.Address(),
				SessionID: a.cfg.Session.StreamUUID,
				Payload:   id,
			})
			if err != nil {
				results[i] = fmt.Sprintf("  ❌ %s: %v", id, err)
				return
			}
			results[i] = fmt.Sprintf("  ✅ %s → %s in %v", id, res.AckPayload, res.RoundTrip.Round(time.Microsecond))
		}(i)
	}
	wg.Wait()
	for _, line := range results {
		fmt.Println(line)
	}
	fmt.Println()

	// Scenario 2: every student writes its identity to the characteristic
	fmt.Println("Scenario 2: attribute write")
	if !waitForAdvertise(events) {
		fmt.Println("  ❌ Host is not advertising; skipping")
		return nil
	}
	for i := 0; i < students; i++ {
		id := fmt.Sprintf("stu%02d", i+1)
		if err := writeIdentity(hostAdapter.Address(), id, a); err != nil {
			fmt.Printf("  ❌ %s: %v\n", id, err)
		}
	}

	got := 0
	timeout := time.After(2 * time.Second)
	for got < students {
		select {
		case e := <-events:
			fmt.Printf("  %s\n", event.Flatten(e))
			if e.Kind == event.KindIdentityReceived {
				got++
			}
		case <-timeout:
			fmt.Printf("  ❌ Only %d of %d identities arrived\n", got, students)
			return nil
		}
	}
	fmt.Println()
	fmt.Println("=== Demo Complete ===")
	return nil
}

// waitForAdvertise prints events until the broadcast is confirmed or fails
func waitForAdvertise(events <-chan event.Event) bool {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			fmt.Printf("  %s\n", event.Flatten(e))
			switch e.Kind {
			case event.KindAdvertiseConfirmed:
				return true
			case event.KindHardwareFatal:
				return false
			}
		case <-timeout:
			return false
		}
	}
}

func writeIdentity(address, id string, a *app) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Session.ConnectTimeout)
	defer cancel()

	c, err := gatt.Dial(ctx, wire.NewAdapter(uuid.NewString(), id, wire.FullCapabilities()), address)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Write(ctx, a.cfg.CharacteristicUUID(), []byte(id), true)
}
