// Package main provides the CLI entry point for poping.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/postalsys/poping/internal/chaos"
	"github.com/postalsys/poping/internal/config"
	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/metrics"
	"github.com/postalsys/poping/internal/sysinfo"
	"github.com/postalsys/poping/internal/wizard"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "poping",
		Short: "poping - ICMP echo client and listener",
		Long: `poping sends ICMP Echo Requests and prints the decoded reply, or
listens for echo traffic and reports every message it sees.

Raw sockets (the default) need root or CAP_NET_RAW. On Linux the
unprivileged datagram socket can be used instead with --network udp4.`,
		Version:       sysinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (text, json)")

	// Add subcommands
	rootCmd.AddCommand(pingCmd(g))
	rootCmd.AddCommand(listenCmd(g))
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Fprintln(cmd.OutOrStdout(), "Setup aborted.")
				return nil
			}
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := sysinfo.Collect()
			fmt.Fprintf(cmd.OutOrStdout(), "poping %s (%s, %s/%s)\n",
				info.Version, info.GoVersion, info.OS, info.Arch)
		},
	}
}

// loadConfig reads the config file, if any, and applies the global flags.
func loadConfig(g *globalOptions) (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		loaded, err := config.Load(g.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return cfg, nil
}

func socketConfig(cfg *config.Config) icmp.SocketConfig {
	sc := icmp.DefaultSocketConfig()
	if cfg.Socket.Network != "" {
		sc.Network = cfg.Socket.Network
	}
	if cfg.Socket.Address != "" {
		sc.Address = cfg.Socket.Address
	}
	if cfg.Socket.ReceiveBuffer > 0 {
		sc.ReceiveBufferSize = int(cfg.Socket.ReceiveBuffer)
	}
	sc.TTL = cfg.Socket.TTL
	return sc
}

// withChaos wraps t in a fault injector when the chaos section is enabled.
// The injector is nil when no fault is configured.
func withChaos(t icmp.Transport, c config.ChaosConfig, logger *slog.Logger, m *metrics.Metrics) (icmp.Transport, *chaos.FaultInjector) {
	if !c.Enabled {
		return t, nil
	}

	var faults []chaos.FaultConfig
	for _, f := range []struct {
		typ chaos.FaultType
		p   float64
	}{
		{chaos.FaultDrop, c.Drop},
		{chaos.FaultCorrupt, c.Corrupt},
		{chaos.FaultTruncate, c.Truncate},
		{chaos.FaultDelay, c.Delay},
	} {
		if f.p <= 0 {
			continue
		}
		faults = append(faults, chaos.FaultConfig{
			Type:        f.typ,
			Probability: f.p,
			MinDelay:    c.MinDelay,
			MaxDelay:    c.MaxDelay,
		})
	}
	if len(faults) == 0 {
		return t, nil
	}

	logger.Warn("fault injection enabled on received datagrams",
		"drop", c.Drop,
		"corrupt", c.Corrupt,
		"truncate", c.Truncate,
		"delay", c.Delay)
	injector := chaos.NewFaultInjector(faults...).WithMetrics(m)
	return chaos.Wrap(t, injector), injector
}
