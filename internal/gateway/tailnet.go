// ABOUTME: tsnet node that carries both servers when tailscale is enabled
// ABOUTME: Opens the backend and HTTP listeners on the tailnet and dials the backend over it

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/tsnet"

	"github.com/2389/todovex/internal/config"
)

// tailnetGRPCPort is where the backend surface listens on the tailnet.
const tailnetGRPCPort = ":50051"

var errTailnetDown = errors.New("tailscale is not running")

// tailnet owns a tsnet node. It is nil-safe for Dial and Close so the
// gateway can hold one before the node is up.
type tailnet struct {
	cfg    config.TailscaleConfig
	srv    *tsnet.Server
	logger *slog.Logger

	// dnsName is the node's MagicDNS name without the trailing dot.
	dnsName string
}

// tailnetStateDir defaults to the todovex data directory.
func tailnetStateDir(cfg config.TailscaleConfig) (string, error) {
	if cfg.StateDir != "" {
		return cfg.StateDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(home, ".local", "share", "todovex", "tailscale"), nil
}

// tailnetAuthKey prefers the configured key over TS_AUTHKEY.
func tailnetAuthKey(cfg config.TailscaleConfig) (string, error) {
	for _, key := range []string{cfg.AuthKey, os.Getenv("TS_AUTHKEY")} {
		if key != "" {
			return key, nil
		}
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// startTailnet brings the node up and waits until it has joined.
func startTailnet(ctx context.Context, cfg config.TailscaleConfig, logger *slog.Logger) (*tailnet, error) {
	dir, err := tailnetStateDir(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	key, err := tailnetAuthKey(cfg)
	if err != nil {
		return nil, err
	}

	t := &tailnet{
		cfg:    cfg,
		logger: logger,
		srv: &tsnet.Server{
			Hostname:  cfg.Hostname,
			Dir:       dir,
			Ephemeral: cfg.Ephemeral,
			AuthKey:   key,
		},
	}

	logger.Info("starting tailscale node", "hostname", cfg.Hostname, "state_dir", dir, "ephemeral", cfg.Ephemeral)
	status, err := t.srv.Up(ctx)
	if err != nil {
		_ = t.srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var ip string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	} else {
		logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		t.dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	logger.Info("tailscale node ready", "hostname", cfg.Hostname, "tailscale_ip", ip, "dns_name", t.dnsName)
	return t, nil
}

// listen opens the backend listener and the HTTP listener that matches the
// configured mode: funnel, tailnet HTTPS, or plain HTTP on :80.
func (t *tailnet) listen() (net.Listener, net.Listener, error) {
	backendLn, err := t.srv.Listen("tcp", tailnetGRPCPort)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	var httpLn net.Listener
	switch {
	case t.cfg.Funnel:
		t.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		httpLn, err = t.srv.ListenFunnel("tcp", ":443")
	case t.cfg.HTTPS:
		t.logger.Info("enabling HTTPS with tailscale certs on :443")
		httpLn, err = t.listenTLS()
	default:
		httpLn, err = t.srv.Listen("tcp", ":80")
	}
	if err != nil {
		_ = backendLn.Close()
		return nil, nil, fmt.Errorf("listening for HTTP on the tailnet: %w", err)
	}
	return backendLn, httpLn, nil
}

func (t *tailnet) listenTLS() (net.Listener, error) {
	lc, err := t.srv.LocalClient()
	if err != nil {
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	ln, err := t.srv.Listen("tcp", ":443")
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// Dial reaches another node on the tailnet.
func (t *tailnet) Dial(ctx context.Context, target string) (net.Conn, error) {
	if t == nil || t.srv == nil {
		return nil, errTailnetDown
	}
	return t.srv.Dial(ctx, "tcp", target)
}

// Close shuts the node down.
func (t *tailnet) Close() error {
	if t == nil || t.srv == nil {
		return nil
	}
	return t.srv.Close()
}
