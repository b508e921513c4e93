package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/attendance-ping/config"
	"github.com/user/attendance-ping/logger"
	"github.com/user/attendance-ping/util"
)

// app is shared by every subcommand once PersistentPreRunE has loaded it
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "attendance-ping",
		Short: "Proximity attendance over a simulated Bluetooth radio",
		Long: `attendance-ping proves a student device is near a host device.

The host listens on a stream service record and/or advertises a GATT
service. A student pings with its identity; the host acknowledges it.
Devices talk over unix sockets under the data directory, so several
processes on one machine behave like phones in one room.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: attendance-ping.yaml in ., ./configs, ~/.attendance-ping)")

	root.AddCommand(
		newHostCmd(a),
		newPingCmd(a),
		newWriteCmd(a),
		newScanCmd(a),
		newBridgeCmd(a),
		newDemoCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if _, err := logger.Setup(cfg.Log); err != nil {
		return err
	}
	if cfg.DataDir != "" {
		util.SetDataDir(cfg.DataDir)
	}
	if err := cfg.ResolveHardwareUUID(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
