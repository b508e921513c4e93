package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/attendance-ping/session"
	"github.com/user/attendance-ping/wire/gatt"
)

func newPingCmd(a *app) *cobra.Command {
	var (
		sessionID string
		payload   string
		timeout   time.Duration
		count     int
	)
	cmd := &cobra.Command{
		Use:   "ping <address>",
		Short: "Send an identity over the stream link and wait for the acknowledgment",
		Example: `  attendance-ping ping 3E:25:04:E0:4F:89 --payload stu42
  attendance-ping ping 3E:25:04:E0:4F:89 -n 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = a.cfg.Session.StreamUUID
			}
			p := session.NewPeer(a.cfg.Adapter(), a.peerOptions())
			ctx, cancel := signalContext()
			defer cancel()

			for i := 0; i < count; i++ {
				res, err := p.Ping(ctx, session.PingRequest{
					Address:   args[0],
					SessionID: sessionID,
					Payload:   payload,
					Timeout:   timeout,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ %s answered %q in %v\n", args[0], res.AckPayload, res.RoundTrip.Round(time.Microsecond))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session UUID (default: session.stream_uuid)")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "identity to send (default PING)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "whole-attempt timeout (default: session.connect_timeout)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of pings")
	return cmd
}

func newWriteCmd(a *app) *cobra.Command {
	var (
		noResponse bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "write <address> <identity>",
		Short: "Write an identity to a host's attendance characteristic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			ctx, done := context.WithTimeout(ctx, timeout)
			defer done()

			start := time.Now()
			c, err := gatt.Dial(ctx, a.cfg.Adapter(), args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Write(ctx, a.cfg.CharacteristicUUID(), []byte(args[1]), !noResponse); err != nil {
				return err
			}
			if noResponse {
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %q to %s (no response requested)\n", args[1], c.RemoteAddress())
				return nil
			}
			// The Write Response is the acknowledgment
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s acknowledged %q in %v\n", c.RemoteAddress(), args[1], time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noResponse, "no-response", false, "use a write command instead of a write request")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "timeout for connect and write")
	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List devices advertising the attendance service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service := a.cfg.ServiceUUID()
			if all {
				service = uuid.Nil
			}
			records, err := gatt.Scan(service)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices found")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "📡 %s  %-20s connectable=%v  seen %s ago\n",
					r.Address, r.LocalName(), r.Connectable, time.Since(r.UpdatedAt).Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list every advertiser, not just the attendance service")
	return cmd
}
