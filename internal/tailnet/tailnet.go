// ABOUTME: Tailnet dialer for reaching gateways that only listen on Tailscale
// ABOUTME: Wraps tsnet to provide a NetDialContext for the websocket dialer

package tailnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

// Config mirrors the tailscale section of the operator configuration.
type Config struct {
	Hostname  string
	AuthKey   string
	StateDir  string
	Ephemeral bool
}

// Dialer joins the tailnet as an ephemeral-or-persistent node and dials
// gateway addresses through it.
type Dialer struct {
	srv    *tsnet.Server
	logger *slog.Logger
}

// Start brings up a tailnet node and returns a Dialer bound to it. It
// blocks until the node is connected to the tailnet.
func Start(ctx context.Context, cfg Config) (*Dialer, error) {
	logger := slog.Default().With("component", "tailnet")

	stateDir, err := resolveStateDir(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveAuthKey(cfg.AuthKey)
	if err != nil {
		return nil, err
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Ephemeral,
		AuthKey:   authKey,
	}

	logger.Info("starting tailscale node", "hostname", cfg.Hostname, "state_dir", stateDir, "ephemeral", cfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if status != nil && status.Self != nil {
		logger.Info("tailscale node up", "dns_name", status.Self.DNSName)
	}

	return &Dialer{srv: srv, logger: logger}, nil
}

// DialContext dials an address over the tailnet. It matches the signature
// of websocket.Dialer.NetDialContext.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.srv.Dial(ctx, network, addr)
}

// Close shuts the tailnet node down.
func (d *Dialer) Close() error {
	return d.srv.Close()
}

// resolveStateDir returns the state directory, using the default under the
// user's home when not configured.
func resolveStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-operator", "tailscale"), nil
}

// resolveAuthKey returns the auth key from config or environment.
func resolveAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}
