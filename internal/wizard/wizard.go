// Package wizard provides an interactive setup wizard for poping.
package wizard

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/poping/internal/config"
	"github.com/postalsys/poping/internal/logging"
	"github.com/postalsys/poping/internal/store"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Answers holds everything the wizard asks for. Zero values mean the
// defaults from config.Default.
type Answers struct {
	ConfigPath string

	// Socket
	Network string
	Address string

	// Client
	Timeout  string
	Interval string
	Count    string

	// Listener
	Reply        bool
	ReplyPayload string
	StoreEnabled bool
	StoreDriver  string
	StoreDSN     string

	// Advanced
	HealthEnabled bool
	HealthAddress string
	LogLevel      string
	LogFormat     string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
	out   io.Writer
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
		out:   os.Stdout,
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := defaultAnswers()

	// Step 1: Basic setup
	if err := w.askBasicSetup(&a); err != nil {
		return nil, err
	}

	// Step 2: Socket
	if err := w.askSocketConfig(&a); err != nil {
		return nil, err
	}

	// Step 3: Ping defaults
	if err := w.askClientConfig(&a); err != nil {
		return nil, err
	}

	// Step 4: Listener
	if err := w.askListenerConfig(&a); err != nil {
		return nil, err
	}

	// Step 5: Advanced options
	if err := w.askAdvancedOptions(&a); err != nil {
		return nil, err
	}

	cfg, err := w.buildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := w.writeConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a.ConfigPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
	}, nil
}

func defaultAnswers() Answers {
	d := config.Default()
	return Answers{
		ConfigPath:    "./poping.yaml",
		Network:       d.Socket.Network,
		Address:       d.Socket.Address,
		Timeout:       d.Client.Timeout.String(),
		Interval:      d.Client.Interval.String(),
		Count:         strconv.Itoa(d.Client.Count),
		StoreDriver:   d.Store.Driver,
		StoreDSN:      d.Store.DSN,
		HealthAddress: d.Health.Address,
		LogLevel:      d.Log.Level,
		LogFormat:     d.Log.Format,
	}
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
                   _
  _ __   ___  _ __ (_)_ __   __ _
 | '_ \ / _ \| '_ \| | '_ \ / _' |
 | |_) | (_) | |_) | | | | | (_| |
 | .__/ \___/| .__/|_|_| |_|\__, |
 |_|         |_|            |___/
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  ICMP Echo Client and Listener - Setup Wizard\n")

	fmt.Fprintln(w.out, banner)
	fmt.Fprintln(w.out, subtitle)
}

func (w *Wizard) askBasicSetup(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose where the configuration file is written."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./poping.yaml").
				Value(&a.ConfigPath).
				Validate(validateConfigPath),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askSocketConfig(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Socket").
				Description("Raw sockets need root or CAP_NET_RAW.\nDatagram sockets work unprivileged where\nnet.ipv4.ping_group_range allows it."),

			huh.NewSelect[string]().
				Title("Socket Type").
				Options(
					huh.NewOption("Raw (ip4:icmp, sees all echo traffic)", "ip4:icmp"),
					huh.NewOption("Datagram (udp4, unprivileged)", "udp4"),
				).
				Value(&a.Network),

			huh.NewInput().
				Title("Bind Address").
				Description("IPv4 address to bind, 0.0.0.0 for all").
				Placeholder("0.0.0.0").
				Value(&a.Address).
				Validate(validateIPv4),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askClientConfig(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Ping Defaults").
				Description("Defaults for the ping command. Flags override them."),

			huh.NewInput().
				Title("Reply Timeout").
				Description("How long to wait for each reply (0 waits forever)").
				Placeholder("5s").
				Value(&a.Timeout).
				Validate(validateDuration),

			huh.NewInput().
				Title("Interval").
				Description("Pause between requests").
				Placeholder("1s").
				Value(&a.Interval).
				Validate(validateDuration),

			huh.NewInput().
				Title("Count").
				Description("Requests per run (0 runs until interrupted)").
				Placeholder("1").
				Value(&a.Count).
				Validate(validateCount),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askListenerConfig(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Listener").
				Description("The listen command logs every echo message it receives."),

			huh.NewConfirm().
				Title("Answer echo requests?").
				Description("Most hosts already answer pings in the kernel; enabling this may produce duplicate replies").
				Value(&a.Reply),

			huh.NewConfirm().
				Title("Store observations in a database?").
				Value(&a.StoreEnabled),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}

	if a.Reply {
		replyForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Reply Payload").
					Description("Leave empty to echo the request payload back").
					Value(&a.ReplyPayload),
			),
		).WithTheme(w.theme)

		if err := replyForm.Run(); err != nil {
			return err
		}
	}

	if a.StoreEnabled {
		storeForm := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Database").
					Options(
						huh.NewOption("SQLite (local file)", store.DriverSQLite),
						huh.NewOption("PostgreSQL", store.DriverPostgres),
					).
					Value(&a.StoreDriver),

				huh.NewInput().
					Title("DSN").
					Description("File path for SQLite, connection string for PostgreSQL").
					Value(&a.StoreDSN).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("DSN is required")
						}
						return nil
					}),
			),
		).WithTheme(w.theme)

		if err := storeForm.Run(); err != nil {
			return err
		}
	}

	return nil
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	levels := make([]huh.Option[string], 0, len(logging.Levels))
	for _, l := range logging.Levels {
		levels = append(levels, huh.NewOption(l, l))
	}
	formats := make([]huh.Option[string], 0, len(logging.Formats))
	for _, f := range logging.Formats {
		formats = append(formats, huh.NewOption(f, f))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options"),

			huh.NewConfirm().
				Title("Enable health and metrics endpoint?").
				Value(&a.HealthEnabled),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(levels...).
				Value(&a.LogLevel),

			huh.NewSelect[string]().
				Title("Log Format").
				Options(formats...).
				Value(&a.LogFormat),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}

	if a.HealthEnabled {
		healthForm := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Health Address").
					Placeholder("127.0.0.1:9110").
					Value(&a.HealthAddress).
					Validate(func(s string) error {
						if _, _, err := net.SplitHostPort(s); err != nil {
							return fmt.Errorf("invalid address format (use host:port)")
						}
						return nil
					}),
			),
		).WithTheme(w.theme)

		if err := healthForm.Run(); err != nil {
			return err
		}
	}

	return nil
}

// buildConfig turns answers into a validated configuration.
func (w *Wizard) buildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()

	if a.Network != "" {
		cfg.Socket.Network = a.Network
	}
	if a.Address != "" {
		cfg.Socket.Address = a.Address
	}

	if a.Timeout != "" {
		d, err := time.ParseDuration(a.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		cfg.Client.Timeout = d
	}
	if a.Interval != "" {
		d, err := time.ParseDuration(a.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %w", err)
		}
		cfg.Client.Interval = d
	}
	if a.Count != "" {
		n, err := strconv.Atoi(a.Count)
		if err != nil {
			return nil, fmt.Errorf("invalid count: %w", err)
		}
		cfg.Client.Count = n
	}

	cfg.Server.Reply = a.Reply
	if a.Reply {
		cfg.Server.ReplyPayload = a.ReplyPayload
	}

	cfg.Store.Enabled = a.StoreEnabled
	if a.StoreEnabled {
		if a.StoreDriver != "" {
			cfg.Store.Driver = a.StoreDriver
		}
		if a.StoreDSN != "" {
			cfg.Store.DSN = a.StoreDSN
		}
	}

	cfg.Health.Enabled = a.HealthEnabled
	if a.HealthEnabled && a.HealthAddress != "" {
		cfg.Health.Address = a.HealthAddress
	}

	if a.LogLevel != "" {
		cfg.Log.Level = a.LogLevel
	}
	if a.LogFormat != "" {
		cfg.Log.Format = a.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (w *Wizard) writeConfig(cfg *config.Config, path string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# poping configuration
# Generated by setup wizard

`
	mode := os.FileMode(0644)
	if cfg.Store.Enabled && cfg.Store.Driver == store.DriverPostgres {
		// DSN may carry a password
		mode = 0600
	}
	if err := os.WriteFile(path, []byte(header+string(data)), mode); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, divider)
	fmt.Fprintln(w.out, style.Render("✓ Setup Complete!"))
	fmt.Fprintln(w.out, divider)
	fmt.Fprintln(w.out)

	fmt.Fprintf(w.out, "  Config file:  %s\n", configPath)
	fmt.Fprintf(w.out, "  Socket:       %s on %s\n", cfg.Socket.Network, cfg.Socket.Address)
	fmt.Fprintf(w.out, "  Ping:         count=%d interval=%s timeout=%s\n",
		cfg.Client.Count, cfg.Client.Interval, cfg.Client.Timeout)

	if cfg.Server.Reply {
		fmt.Fprintln(w.out, "  Listener:     answers echo requests")
	} else {
		fmt.Fprintln(w.out, "  Listener:     observe only")
	}

	if cfg.Store.Enabled {
		fmt.Fprintf(w.out, "  Store:        %s\n", cfg.Store.Driver)
	}

	if cfg.Health.Enabled {
		fmt.Fprintf(w.out, "  Health:       http://%s/health\n", cfg.Health.Address)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  To start listening:")
	fmt.Fprintf(w.out, "    poping listen --config %s\n", configPath)
	fmt.Fprintln(w.out, "  To send a ping:")
	fmt.Fprintf(w.out, "    poping ping --config %s 127.0.0.1 hello\n", configPath)
	fmt.Fprintln(w.out)
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateIPv4(s string) error {
	if ip := net.ParseIP(s); ip == nil || ip.To4() == nil {
		return fmt.Errorf("enter an IPv4 address")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("enter a duration such as 500ms or 2s")
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	return nil
}

func validateCount(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("enter a whole number, 0 or more")
	}
	return nil
}
