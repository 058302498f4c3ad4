// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ffutop/relayctl/internal/config"
	"github.com/ffutop/relayctl/internal/logging"
	"github.com/ffutop/relayctl/internal/runner"
	"github.com/ffutop/relayctl/internal/snapshot"
	"github.com/ffutop/relayctl/modbus"
	"github.com/ffutop/relayctl/relay"
	"github.com/ffutop/relayctl/transport"
	"github.com/ffutop/relayctl/transport/rtu"
	"github.com/ffutop/relayctl/transport/serialport"
)

var (
	cfgFile   string
	logger    *zap.Logger
	logLevel  zap.AtomicLevel
	appViper  *viper.Viper
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Modbus RTU master for relay and LED boards",
	Long: `relayctl switches coils and reads holding registers on 8-channel
Modbus RTU relay boards over a serial (RS232/RS485) bus.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		v, cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		appViper, appConfig = v, cfg

		logger, logLevel, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var coilCmd = &cobra.Command{
	Use:   "coil <address> <coil 1-8> <on|off>",
	Short: "Switch one coil",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		coil, err := parseCoil(args[1])
		if err != nil {
			return err
		}
		on, err := parseState(args[2])
		if err != nil {
			return err
		}

		store, err := snapshot.Open(appConfig.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to open snapshot: %w", err)
		}
		defer closeStore(store)

		return withClient(func(client *rtu.Client) error {
			if err := relay.WriteCoil(cmd.Context(), client, addr, coil, on); err != nil {
				return err
			}
			if err := store.RecordCoil(addr, coil, on, time.Now()); err != nil {
				logger.Warn("Failed to update snapshot", zap.Error(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "device %d coil %d %s\n", addr, coil, stateName(on))
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <address> <register> [count]",
	Short: "Read holding registers",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		start, err := parseUint16(args[1])
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		count := uint16(1)
		if len(args) == 3 {
			if count, err = parseUint16(args[2]); err != nil {
				return fmt.Errorf("count: %w", err)
			}
		}

		return withClient(func(client *rtu.Client) error {
			values, err := relay.ReadRegisters(cmd.Context(), client, addr, start, count)
			if err != nil {
				return err
			}
			printRegisters(cmd.OutOrStdout(), start, values)
			return nil
		})
	},
}

var baudCmd = &cobra.Command{
	Use:   "baud <address>",
	Short: "Read the baud rate configured on a board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		return withClient(func(client *rtu.Client) error {
			rate, err := relay.ReadBaudRate(cmd.Context(), client, addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "device %d baud rate %d\n", addr, rate)
			return nil
		})
	},
}

var blinkCmd = &cobra.Command{
	Use:   "blink",
	Short: "Toggle the configured coils until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd.Context(), func(deps runner.Deps) loop {
			b := runner.NewBlinker(deps, appConfig.Blink)
			return loop{run: b.Run, update: func(c *config.Config) { b.Update(c.Blink) }}
		})
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Read the configured registers at a fixed interval until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd.Context(), func(deps runner.Deps) loop {
			p := runner.NewPoller(deps, appConfig.Poll)
			return loop{run: p.Run, update: func(c *config.Config) { p.Update(c.Poll) }}
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the last known device state from the snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if appConfig.Snapshot.Type == "memory" {
			return fmt.Errorf("snapshot.type is memory: nothing is kept between runs")
		}
		store, err := snapshot.Open(appConfig.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to open snapshot: %w", err)
		}
		defer closeStore(store)
		return printStatus(cmd.OutOrStdout(), store.State())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "relayctl version %s\n", Version)
		fmt.Fprintf(out, "  Build: %s\n", BuildTime)
		fmt.Fprintf(out, "  Commit: %s\n", GitCommit)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Path to config file")
	flags.StringP("device", "p", "", "Serial device")
	flags.IntP("baud-rate", "s", 0, "Serial baud rate")
	flags.String("driver", "", "Serial driver: gridx or bugst")
	flags.DurationP("timeout", "W", 0, "Response timeout")
	flags.DurationP("pause", "R", 0, "Minimum pause between requests")
	flags.StringP("log-level", "v", "", "Log level: debug, info, warn, error")
	flags.Bool("trace", false, "Log every frame at debug level")

	rootCmd.AddCommand(
		coilCmd,
		readCmd,
		baudCmd,
		blinkCmd,
		pollCmd,
		statusCmd,
		versionCmd,
	)
}

// Execute runs the command line.
func Execute() error {
	return rootCmd.Execute()
}

// withClient opens the bus, runs fn with a client on it and closes the bus
// on every path.
func withClient(fn func(*rtu.Client) error) error {
	return transport.WithPort(serialport.Opener(appConfig.Serial), func(port transport.Port) error {
		logger.Debug("Serial port opened",
			zap.String("device", appConfig.Serial.Device),
			zap.String("driver", appConfig.Serial.Driver),
			zap.Int("baud_rate", appConfig.Serial.BaudRate),
		)
		return fn(newClient(port))
	})
}

func newClient(port transport.Port) *rtu.Client {
	opts := []rtu.Option{
		rtu.WithTimeout(appConfig.Modbus.Timeout),
		rtu.WithPause(appConfig.Modbus.Pause),
		rtu.WithBaudRate(appConfig.Serial.BaudRate),
	}
	if appConfig.Modbus.Trace {
		opts = append(opts, rtu.WithTrace(logging.FrameTracer(logger)))
	}
	return rtu.NewClient(port, opts...)
}

type loop struct {
	run    func(context.Context) error
	update func(*config.Config)
}

// runLoop runs a long-lived loop until SIGINT or SIGTERM. Configuration file
// changes are applied to the loop and to the log level while it runs.
func runLoop(parent context.Context, build func(runner.Deps) loop) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := snapshot.Open(appConfig.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer closeStore(store)

	return withClient(func(client *rtu.Client) error {
		l := build(runner.Deps{
			Exchanger: client,
			Logger:    logger,
			Retry:     appConfig.Retry,
			Store:     store,
		})

		if appViper.ConfigFileUsed() != "" {
			config.Watch(appViper, func(c *config.Config) {
				logger.Info("Configuration reloaded", zap.String("file", appViper.ConfigFileUsed()))
				if err := logging.SetLevel(logLevel, c.Log.Level); err != nil {
					logger.Warn("Ignoring log level", zap.Error(err))
				}
				l.update(c)
			}, func(err error) {
				logger.Warn("Ignoring invalid configuration change", zap.Error(err))
			})
		}

		logger.Info("Loop started")
		err := l.run(ctx)
		logger.Info("Loop stopped")
		return err
	})
}

func closeStore(store *snapshot.Store) {
	if err := store.Close(); err != nil {
		logger.Warn("Failed to close snapshot", zap.Error(err))
	}
}

func parseAddress(s string) (modbus.Address, error) {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, err)
	}
	addr := modbus.Address(n)
	if err := addr.Validate(); err != nil {
		return 0, err
	}
	return addr, nil
}

func parseCoil(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("coil %q: %w", s, err)
	}
	if _, err := relay.CoilAddress(n); err != nil {
		return 0, err
	}
	return n, nil
}

func parseState(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("state %q: want on or off", s)
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

func stateName(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func printRegisters(w io.Writer, start uint16, values []uint16) {
	for i, v := range values {
		fmt.Fprintf(w, "0x%04X: %d (0x%04X)\n", int(start)+i, v, v)
	}
}

func printStatus(w io.Writer, state *snapshot.State) error {
	devices := state.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(w, "no devices recorded")
		return nil
	}
	for _, addr := range devices {
		coils, err := state.Coils(addr)
		if err != nil {
			return err
		}
		regs, err := state.Registers(addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "device %d\n", addr)
		if !coils.Updated.IsZero() {
			names := make([]string, len(coils.States))
			for i, c := range coils.States {
				names[i] = fmt.Sprintf("%d:%s", i+1, c)
			}
			fmt.Fprintf(w, "  coils     %s (%s)\n", strings.Join(names, " "), coils.Updated.Format(time.RFC3339))
		}
		if !regs.Updated.IsZero() {
			fmt.Fprintf(w, "  registers (%s)\n", regs.Updated.Format(time.RFC3339))
			var b strings.Builder
			printRegisters(&b, regs.Start, regs.Values)
			for _, line := range strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	return nil
}
