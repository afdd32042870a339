package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/poping/internal/config"
	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/logging"
	"github.com/postalsys/poping/internal/metrics"
	"github.com/postalsys/poping/internal/ping"
)

// pingFlags override the client and socket sections of the config.
type pingFlags struct {
	count      int
	interval   time.Duration
	timeout    time.Duration
	identifier string
	sequence   uint16
	ttl        int
	network    string
}

func (f *pingFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("count") {
		cfg.Client.Count = f.count
	}
	if flags.Changed("interval") {
		cfg.Client.Interval = f.interval
	}
	if flags.Changed("timeout") {
		cfg.Client.Timeout = f.timeout
	}
	if flags.Changed("id") {
		cfg.Client.Identifier = f.identifier
	}
	if flags.Changed("seq") {
		cfg.Client.Sequence = f.sequence
	}
	if flags.Changed("ttl") {
		cfg.Socket.TTL = f.ttl
	}
	if flags.Changed("network") {
		cfg.Socket.Network = f.network
	}
}

func pingCmd(g *globalOptions) *cobra.Command {
	f := &pingFlags{}

	cmd := &cobra.Command{
		Use:   "ping <ipv4> [message]",
		Short: "Send echo requests and print the decoded replies",
		Long: `Send an ICMP Echo Request carrying message to the given IPv4 host and
print the first datagram received in return.

With --count other than 1 the exchange is repeated, once per interval,
and a summary is printed at the end. --count 0 runs until interrupted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			var payload []byte
			if len(args) > 1 {
				payload = []byte(args[1])
			}
			return runPing(cmd, cfg, args[0], payload)
		},
	}

	cmd.Flags().IntVarP(&f.count, "count", "c", 1, "Number of requests (0 runs until interrupted)")
	cmd.Flags().DurationVarP(&f.interval, "interval", "i", time.Second, "Pause between requests")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 5*time.Second, "Reply timeout (0 waits forever)")
	cmd.Flags().StringVar(&f.identifier, "id", "auto", "Echo identifier (auto uses the process id)")
	cmd.Flags().Uint16Var(&f.sequence, "seq", 1, "First sequence number")
	cmd.Flags().IntVar(&f.ttl, "ttl", 0, "IPv4 time to live (0 keeps the system default)")
	cmd.Flags().StringVar(&f.network, "network", icmp.NetworkRaw, "Socket type (ip4:icmp or udp4)")

	return cmd
}

func runPing(cmd *cobra.Command, cfg *config.Config, host string, payload []byte) error {
	dst, err := resolveIPv4(host)
	if err != nil {
		return err
	}
	id, err := config.ParseIdentifier(cfg.Client.Identifier)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	sock, err := icmp.Listen(socketConfig(cfg))
	if err != nil {
		return err
	}
	defer sock.Close()

	m := metrics.Default()
	transport, injector := withChaos(sock, cfg.Chaos, logger, m)
	client := ping.NewClient(
		transport,
		ping.Config{
			Timeout:    cfg.Client.Timeout,
			BufferSize: int(cfg.Socket.ReceiveBuffer),
		},
		logger,
		m,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRenderer()
	size := icmp.HeaderLen + len(payload)
	opts := ping.RunOptions{
		Count:      cfg.Client.Count,
		Interval:   cfg.Client.Interval,
		Identifier: id,
		Sequence:   cfg.Client.Sequence,
		Payload:    payload,
	}

	stats, err := client.Run(ctx, dst, opts, func(res ping.Result) {
		r.sent(size, dst)
		if res.Err != nil {
			r.failure(res.Err)
			return
		}
		r.reply(res.Reply)
	})
	if err != nil {
		return err
	}

	if cfg.Client.Count != 1 {
		r.summary(dst, stats)
	}
	if injector != nil {
		r.faults(injector.GetStats())
	}
	if stats.Sent > 0 && stats.Received == 0 {
		return fmt.Errorf("no reply from %s", dst)
	}
	return nil
}

// resolveIPv4 accepts an IPv4 literal or a host name with an IPv4 address.
func resolveIPv4(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("%s is not an IPv4 address", host)
	}

	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	return addr.IP.To4(), nil
}
