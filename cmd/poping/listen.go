package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postalsys/poping/internal/config"
	"github.com/postalsys/poping/internal/health"
	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/logging"
	"github.com/postalsys/poping/internal/metrics"
	"github.com/postalsys/poping/internal/server"
	"github.com/postalsys/poping/internal/store"
)

// listenFlags override the server, socket and health sections of the config.
type listenFlags struct {
	reply        bool
	replyPayload string
	network      string
	health       string
	quiet        bool
}

func (f *listenFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("reply") {
		cfg.Server.Reply = f.reply
	}
	if flags.Changed("reply-payload") {
		cfg.Server.ReplyPayload = f.replyPayload
	}
	if flags.Changed("network") {
		cfg.Socket.Network = f.network
	}
	if flags.Changed("health") {
		cfg.Health.Enabled = f.health != ""
		if f.health != "" {
			cfg.Health.Address = f.health
		}
	}
}

func listenCmd(g *globalOptions) *cobra.Command {
	f := &listenFlags{}

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Report every echo message received",
		Long: `Listen for ICMP echo traffic and print each request or reply that
decodes. Malformed and unrelated ICMP messages are discarded.

By default nothing is sent back: the kernel already answers echo requests
addressed to this host. --reply makes the listener answer as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runListen(cmd.Context(), cfg, f.quiet)
		},
	}

	cmd.Flags().BoolVar(&f.reply, "reply", false, "Answer echo requests")
	cmd.Flags().StringVar(&f.replyPayload, "reply-payload", "", "Payload for replies (default echoes the request)")
	cmd.Flags().StringVar(&f.network, "network", icmp.NetworkRaw, "Socket type (ip4:icmp or udp4)")
	cmd.Flags().StringVar(&f.health, "health", "", "Serve health and metrics on this address")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print observations to stdout")

	return cmd
}

func runListen(ctx context.Context, cfg *config.Config, quiet bool) error {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	m := metrics.Default()

	sock, err := icmp.Listen(socketConfig(cfg))
	if err != nil {
		return err
	}
	defer sock.Close()

	srvCfg := server.DefaultConfig()
	srvCfg.Reply = cfg.Server.Reply
	if cfg.Server.ReplyPayload != "" {
		srvCfg.ReplyPayload = []byte(cfg.Server.ReplyPayload)
	}
	srvCfg.BufferSize = int(cfg.Socket.ReceiveBuffer)

	r := newRenderer()
	transport, injector := withChaos(sock, cfg.Chaos, logger, m)
	srv := server.New(transport, srvCfg, logger, m)
	if !quiet {
		srv.AddObserver(server.ObserverFunc(func(_ context.Context, obs server.Observation) {
			r.observation(obs)
		}))
	}
	if cfg.Server.Log {
		srv.AddObserver(server.NewLogObserver(logger))
	}

	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.Open(store.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}, logger, m)
		if err != nil {
			return err
		}
		defer st.Close()
		srv.AddObserver(st)
	}

	if cfg.Health.Enabled {
		hs := health.NewServer(healthConfig(cfg), srv, logger)
		if st != nil {
			hs.SetObservationSource(st)
		}
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.listening(sock.Network(), sock.LocalAddr(), cfg.Server.Reply)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	r.serverSummary(srv.Stats())
	if injector != nil {
		r.faults(injector.GetStats())
	}
	return nil
}

// healthConfig overlays the health section on the HTTP server defaults.
func healthConfig(cfg *config.Config) health.ServerConfig {
	hc := health.DefaultServerConfig()
	if cfg.Health.Address != "" {
		hc.Address = cfg.Health.Address
	}
	if cfg.Health.ReadTimeout > 0 {
		hc.ReadTimeout = cfg.Health.ReadTimeout
	}
	if cfg.Health.WriteTimeout > 0 {
		hc.WriteTimeout = cfg.Health.WriteTimeout
	}
	return hc
}
