// Package wizard provides an interactive setup wizard for the relay.
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
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/wg-relay/internal/config"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Answers holds the raw form values. Numeric and duration fields are kept
// as strings since that is what the form inputs edit.
type Answers struct {
	ConfigPath    string
	Target        string
	Bind          string
	Workers       string
	SessionTTL    string
	LogLevel      string
	LogFormat     string
	HealthEnabled bool
	HealthAddress string
}

// DefaultAnswers returns the values the forms start with.
func DefaultAnswers() Answers {
	def := config.Default()
	return Answers{
		ConfigPath:    "./wg-relay.yaml",
		Bind:          def.Relay.Bind,
		Workers:       strconv.Itoa(def.Relay.Workers),
		SessionTTL:    def.Session.ValidTime.String(),
		LogLevel:      def.Log.Level,
		LogFormat:     def.Log.Format,
		HealthEnabled: false,
		HealthAddress: def.Health.Address,
	}
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
	out   io.Writer
}

// New creates a new setup wizard writing its banner and summary to out.
func New(out io.Writer) *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
		out:   out,
	}
}

// IsInteractive reports whether f is a terminal the forms can drive.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := DefaultAnswers()

	// Step 1: Config file
	if err := w.askBasicSetup(&a); err != nil {
		return nil, err
	}

	// Step 2: Relay endpoints
	if err := w.askRelayConfig(&a); err != nil {
		return nil, err
	}

	// Step 3: Advanced options
	if err := w.askAdvancedOptions(&a); err != nil {
		return nil, err
	}

	cfg, err := BuildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := WriteConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a.ConfigPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
                                 _
 __      ____ _       _ __ ___| | __ _ _   _
 \ \ /\ / / _' |_____| '__/ _ \ |/ _' | | | |
  \ V  V / (_| |_____| | |  __/ | (_| | |_| |
   \_/\_/ \__, |     |_|  \___|_|\__,_|\__, |
          |___/                        |___/
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  WireGuard UDP Relay - Setup Wizard\n")

	fmt.Fprintln(w.out, banner)
	fmt.Fprintln(w.out, subtitle)
}

func (w *Wizard) askBasicSetup(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose where to write the relay configuration."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./wg-relay.yaml").
				Value(&a.ConfigPath).
				Validate(ValidateConfigPath),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askRelayConfig(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Relay").
				Description("Peers connect to the bind address; all of their\ntraffic is forwarded to the target."),

			huh.NewInput().
				Title("Target Address").
				Description("WireGuard endpoint behind the relay (host:port)").
				Placeholder("vpn.example.com:51820").
				Value(&a.Target).
				Validate(ValidateHostPort),

			huh.NewInput().
				Title("Bind Address").
				Description("Local UDP address peers send to").
				Placeholder("0.0.0.0:5678").
				Value(&a.Bind).
				Validate(ValidateHostPort),

			huh.NewInput().
				Title("Workers").
				Description("Concurrent receive loops on the shared socket").
				Placeholder("1").
				Value(&a.Workers).
				Validate(ValidateWorkers),

			huh.NewInput().
				Title("Session Lifetime").
				Description("How long a peer stays routable after its last handshake").
				Placeholder("3m0s").
				Value(&a.SessionTTL).
				Validate(ValidateDuration),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),

			huh.NewSelect[string]().
				Title("Log Format").
				Options(
					huh.NewOption("Text", "text"),
					huh.NewOption("JSON", "json"),
				).
				Value(&a.LogFormat),

			huh.NewConfirm().
				Title("Enable health check endpoint?").
				Description("HTTP endpoint for monitoring (/healthz, /sessions, /metrics)").
				Value(&a.HealthEnabled),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Health Address").
				Description("Address the health server listens on").
				Placeholder(":9090").
				Value(&a.HealthAddress).
				Validate(ValidateHostPort),
		).WithHideFunc(func() bool { return !a.HealthEnabled }),
	).WithTheme(w.theme)

	return form.Run()
}

// ValidateConfigPath checks a config file path.
func ValidateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

// ValidateHostPort checks a host:port address.
func ValidateHostPort(s string) error {
	if s == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("invalid address format (use host:port)")
	}
	return nil
}

// ValidateWorkers checks a worker count.
func ValidateWorkers(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

// ValidateDuration checks a positive Go duration.
func ValidateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 180s or 3m")
	}
	return nil
}

// BuildConfig turns wizard answers into a validated configuration.
func BuildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()

	cfg.Relay.Target = a.Target
	cfg.Relay.Bind = a.Bind
	cfg.Log.Level = a.LogLevel
	cfg.Log.Format = a.LogFormat

	workers, err := strconv.Atoi(a.Workers)
	if err != nil {
		return nil, fmt.Errorf("invalid workers %q: %w", a.Workers, err)
	}
	cfg.Relay.Workers = workers

	ttl, err := time.ParseDuration(a.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid session lifetime %q: %w", a.SessionTTL, err)
	}
	cfg.Session.ValidTime = ttl

	cfg.Health.Enabled = a.HealthEnabled
	if a.HealthEnabled {
		cfg.Health.Address = a.HealthAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteConfig writes cfg as YAML to path.
func WriteConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# wg-relay configuration
# Generated by setup wizard

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
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
	fmt.Fprintf(w.out, "  Relay:        udp://%s -> %s\n", cfg.Relay.Bind, cfg.Relay.Target)
	fmt.Fprintf(w.out, "  Workers:      %d\n", cfg.Relay.Workers)
	fmt.Fprintf(w.out, "  Sessions:     valid for %s\n", cfg.Session.ValidTime)

	if cfg.Health.Enabled {
		fmt.Fprintf(w.out, "  Health:       http://%s/healthz\n", cfg.Health.Address)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "  To start the relay:")
	fmt.Fprintf(w.out, "    wg-relay -c %s\n", configPath)
	fmt.Fprintln(w.out)
}
