package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the flat, JSON-friendly configuration a node is built from
// (spec §6 "Configuration"): a data directory, the transport endpoints to
// bring up, and the engine's arq cadence. Grounded on the teacher's
// node/config.go shape, with the Bitcoin-specific Network field dropped and
// transport endpoints split per link kind instead of one generic peer list.
type Config struct {
	DataDir       string        `json:"data_dir"`
	BindAddr      string        `json:"bind_addr"`      // websocket server bind address; empty disables it
	MulticastAddr string        `json:"multicast_addr"` // UDP multicast group; empty disables it
	Peers         []string      `json:"peers"`           // UDP unicast peer addresses
	LogLevel      string        `json:"log_level"`
	ArqInterval   time.Duration `json:"arq_interval"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".tinyssb"
	}
	return filepath.Join(home, ".tinyssb")
}

func DefaultConfig() Config {
	return Config{
		DataDir:       DefaultDataDir(),
		BindAddr:      "0.0.0.0:11111",
		MulticastAddr: "239.7.13.13:11112",
		Peers:         nil,
		LogLevel:      "info",
		ArqInterval:   5 * time.Second,
	}
}

// NormalizePeers flattens comma-separated and repeated --peer tokens into a
// deduplicated, order-preserving list.
func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if cfg.BindAddr != "" {
		if err := validateAddr(cfg.BindAddr); err != nil {
			return fmt.Errorf("invalid bind_addr: %w", err)
		}
	}
	if cfg.MulticastAddr != "" {
		if err := validateAddr(cfg.MulticastAddr); err != nil {
			return fmt.Errorf("invalid multicast_addr: %w", err)
		}
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.ArqInterval <= 0 {
		return errors.New("arq_interval must be > 0")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
