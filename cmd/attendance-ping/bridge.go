package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/attendance-ping/bridge"
	"github.com/user/attendance-ping/event"
)

func newBridgeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve the command and event channels to a UI process over gRPC",
		Example: `  attendance-ping bridge --listen 127.0.0.1:50551
  grpcurl -plaintext -d '{"channel":"classic_bt","method":"startServer","args":{"uuid":"..."}}' \
    127.0.0.1:50551 attendance.v1.Bridge/Invoke`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Bridge.Listen
			}
			adapter := a.cfg.Adapter()
			b := bridge.New(adapter, event.NewRelay(), bridge.Options{
				Stream:      a.streamOptions(),
				Attribute:   a.attributeOptions(),
				Peer:        a.peerOptions(),
				EventBuffer: a.cfg.Bridge.EventBuffer,
			})
			defer b.Close()

			srv, err := bridge.NewServer(listen, b)
			if err != nil {
				return err
			}
			addr, err := srv.Listen()
			if err != nil {
				return err
			}
			fmt.Printf("🌉 Bridge for %s listening on %s\n", adapter.Address(), addr)

			ctx, cancel := signalContext()
			defer cancel()
			go func() {
				<-ctx.Done()
				srv.Stop()
			}()
			return srv.Serve()
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default: bridge.listen)")
	return cmd
}
