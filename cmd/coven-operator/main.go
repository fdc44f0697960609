// ABOUTME: Entry point for the coven-operator console
// ABOUTME: Connects to a coven gateway as an operator and exposes subcommands

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-operator/internal/auth"
	"github.com/2389/coven-operator/internal/config"
	"github.com/2389/coven-operator/internal/journal"
	"github.com/2389/coven-operator/internal/operator"
	"github.com/2389/coven-operator/internal/tailnet"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the operator config file.
// Priority: COVEN_OPERATOR_CONFIG env var > XDG_CONFIG_HOME/coven/operator.yaml > ~/.config/coven/operator.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_OPERATOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "operator.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "operator.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-operator <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  health                       Check gateway health over the operator session")
		fmt.Println("  info                         Show server info, methods, and events")
		fmt.Println("  send --method M [--params J] Send a raw request and print the response")
		fmt.Println("  tail [--event NAME]          Stream events to the terminal")
		fmt.Println("  init                         Write a starter config file")
		fmt.Println("  version                      Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "health":
		err = runHealth(ctx)
	case "info":
		err = runInfo(ctx)
	case "send":
		err = runSend(ctx, os.Args[2:])
	case "tail":
		err = runTail(ctx, os.Args[2:])
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connectClient loads config, sets up logging, and establishes an operator
// session. The returned cleanup closes the session and any tailnet node.
func connectClient(ctx context.Context) (*operator.Client, *config.Config, func(), error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogging(cfg.Logging)
	slog.SetDefault(logger)

	tokens, err := tokenSource(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	var dial operator.DialFunc
	var tn *tailnet.Dialer
	if cfg.Tailscale.Enabled {
		tn, err = tailnet.Start(ctx, tailnet.Config{
			Hostname:  cfg.Tailscale.Hostname,
			AuthKey:   cfg.Tailscale.AuthKey,
			StateDir:  cfg.Tailscale.StateDir,
			Ephemeral: cfg.Tailscale.Ephemeral,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		dial = tn.DialContext
	}

	client, err := operator.New(operator.Options{
		URL:              cfg.Gateway.URL,
		Tokens:           tokens,
		ClientID:         cfg.Gateway.ClientID,
		ClientName:       cfg.Gateway.ClientName,
		Version:          version,
		Scopes:           cfg.Gateway.Scopes,
		Capabilities:     cfg.Gateway.Capabilities,
		Dial:             dial,
		Logger:           logger,
		RequestTimeout:   cfg.Timeouts.Request,
		HandshakeTimeout: cfg.Timeouts.Handshake,
		ReconnectInitial: cfg.Timeouts.ReconnectInitial,
		ReconnectMax:     cfg.Timeouts.ReconnectMax,
		TickFallback:     cfg.Timeouts.TickFallback,
	})
	if err != nil {
		if tn != nil {
			_ = tn.Close()
		}
		return nil, nil, nil, err
	}

	if err := client.Connect(ctx); err != nil {
		if tn != nil {
			_ = tn.Close()
		}
		return nil, nil, nil, fmt.Errorf("connecting to gateway: %w", err)
	}

	cleanup := func() {
		_ = client.Disconnect()
		if tn != nil {
			_ = tn.Close()
		}
	}
	return client, cfg, cleanup, nil
}

// tokenSource picks the credential: an explicit token wins, otherwise a JWT
// is minted from the shared secret with client_id as the subject.
func tokenSource(cfg *config.Config) (auth.TokenSource, error) {
	if cfg.Auth.Token != "" {
		return auth.Static(cfg.Auth.Token), nil
	}
	return auth.NewJWTMinter([]byte(cfg.Auth.JWTSecret), cfg.Gateway.ClientID, cfg.Auth.TokenTTL)
}

func runHealth(ctx context.Context) error {
	client, _, cleanup, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	start := time.Now()
	payload, err := client.Send(ctx, "health", nil)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}

	green.Println("✓ gateway is healthy")
	gray.Printf("  round trip: %s\n", time.Since(start).Round(time.Millisecond))
	if len(payload) > 0 {
		gray.Printf("  payload: %s\n", payload)
	}
	return nil
}

func runInfo(ctx context.Context) error {
	client, _, cleanup, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	if info, ok := client.ServerInfo(); ok {
		cyan.Println("Server")
		fmt.Printf("  id:      %s\n", info.ID)
		fmt.Printf("  version: %s\n", info.Version)
	}
	if defs, ok := client.SessionDefaults(); ok && defs.AgentID != "" {
		cyan.Println("Defaults")
		fmt.Printf("  agent:   %s\n", defs.AgentID)
		fmt.Printf("  session: %s\n", defs.MainSessionKey)
	}

	cyan.Println("Methods")
	for _, m := range client.AvailableMethods() {
		fmt.Printf("  %s\n", m)
	}
	cyan.Println("Events")
	for _, e := range client.AvailableEvents() {
		fmt.Printf("  %s\n", e)
	}

	if snap := client.Snapshot(); snap != nil && snap.Presence != nil {
		cyan.Println("Presence")
		if body, err := json.MarshalIndent(snap.Presence, "  ", "  "); err == nil {
			fmt.Printf("  %s\n", body)
		}
	}
	gray.Println("connected")
	return nil
}

func runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	method := fs.String("method", "", "method name to invoke")
	params := fs.String("params", "", "JSON params object")
	timeout := fs.Duration("timeout", 0, "per-request timeout override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *method == "" {
		return fmt.Errorf("--method is required")
	}

	var body any
	if *params != "" {
		if err := json.Unmarshal([]byte(*params), &body); err != nil {
			return fmt.Errorf("parsing --params: %w", err)
		}
	}

	client, _, cleanup, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var opts []operator.SendOption
	if *timeout > 0 {
		opts = append(opts, operator.WithTimeout(*timeout))
	}

	payload, err := client.Send(ctx, *method, body, opts...)
	if err != nil {
		return err
	}

	var pretty any
	if len(payload) > 0 && json.Unmarshal(payload, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(payload))
	}
	return nil
}

func runTail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	eventName := fs.String("event", "", "only show events with this name")
	replay := fs.Int("replay", 0, "print the last N journaled events before streaming")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, cfg, cleanup, err := connectClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer jnl.Close()
	}

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)

	if *replay > 0 {
		if jnl == nil {
			return fmt.Errorf("--replay requires journal.enabled in config")
		}
		entries, err := jnl.Recent(ctx, *eventName, *replay)
		if err != nil {
			return err
		}
		// Recent is newest-first; replay in arrival order.
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			printEvent(gray, cyan, e.ReceivedAt, e.Event, e.Seq, e.Payload)
		}
		gray.Println("--- live ---")
	}

	gray.Println("streaming events (ctrl-c to stop)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-client.Events():
			if *eventName != "" && ev.Name != *eventName {
				continue
			}
			if jnl != nil {
				if err := jnl.Append(ctx, ev.Name, ev.Seq, ev.Payload); err != nil {
					slog.Warn("journal append failed", "error", err)
				}
			}
			printEvent(gray, cyan, time.Now(), ev.Name, ev.Seq, ev.Payload)
		}
	}
}

func printEvent(gray, cyan *color.Color, ts time.Time, name string, seq int64, payload map[string]any) {
	gray.Printf("%s ", ts.Format("15:04:05"))
	cyan.Printf("%-24s", name)
	if seq > 0 {
		gray.Printf(" seq=%d", seq)
	}
	if len(payload) > 0 {
		body, err := json.Marshal(payload)
		if err == nil {
			fmt.Printf(" %s", body)
		}
	}
	fmt.Println()
}

const starterConfig = `# coven-operator configuration
gateway:
  url: "wss://coven-gateway.example.ts.net/ws"
  client_id: "operator-console"
  client_name: "Operator Console"
  scopes: ["chat", "sessions"]

auth:
  # Either a pre-issued operator token:
  token: "${COVEN_OPERATOR_TOKEN}"
  # ...or a shared secret to mint short-lived JWTs from:
  # jwt_secret: "${COVEN_JWT_SECRET}"
  # token_ttl: "5m"

timeouts:
  request: "30s"
  handshake: "15s"
  reconnect_initial: "1s"
  reconnect_max: "30s"

# tailscale:
#   enabled: true
#   hostname: "operator-console"
#   ephemeral: true

journal:
  enabled: false
  # path: "~/.local/share/coven/operator-journal.db"

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ wrote %s\n", path)
	fmt.Println("Edit the gateway URL and credential, then run: coven-operator health")
	return nil
}

// setupLogging builds the slog logger from the logging config.
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}

// colorHandler writes colorized single-line logs to stderr, keeping the
// terminal output readable next to subcommand results on stdout.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs}
}

func (h *colorHandler) WithGroup(_ string) slog.Handler {
	return h
}
