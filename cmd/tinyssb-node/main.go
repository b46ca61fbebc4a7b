// Command tinyssb-node runs a gossip log replication node, or one of its
// identity-management subcommands (keygen, export-seed). Grounded on the
// teacher's cmd/rubin-node/main.go testable-main pattern.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tinyssb.dev/node/identity"
	"tinyssb.dev/node/node"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "keygen":
			return cmdKeygenMain(args[1:], stdout, stderr)
		case "export-seed":
			return cmdExportSeedMain(args[1:], stdout, stderr)
		}
	}
	return runNode(args, stdout, stderr)
}

func runNode(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	var peers multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("tinyssb-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	peerCSV := fs.String("peers", "", "unicast peers, comma-separated host:port")
	fs.Var(&peers, "peer", "single unicast peer host:port (repeatable)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "bind", defaults.BindAddr, "websocket bind address host:port (empty disables)")
	fs.StringVar(&cfg.MulticastAddr, "multicast", defaults.MulticastAddr, "UDP multicast group host:port (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.DurationVar(&cfg.ArqInterval, "arq-interval", defaults.ArqInterval, "WANT/CHNK round interval")
	keystorePath := fs.String("keystore", "", "path to an identity keystore json file (required)")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Peers = node.NormalizePeers(append([]string{*peerCSV}, peers...)...)
	if err := node.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if *keystorePath == "" {
		fmt.Fprintln(stderr, "missing required flag: --keystore")
		return 2
	}
	kp, err := identity.Load(*keystorePath)
	if err != nil {
		fmt.Fprintf(stderr, "keystore load failed: %v\n", err)
		return 2
	}

	if err := printConfig(stdout, cfg); err != nil {
		fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "identity: pubkey=%x\n", kp.Pub)
	if *dryRun {
		return 0
	}

	n, err := node.New(cfg, kp)
	if err != nil {
		fmt.Fprintf(stderr, "node init failed: %v\n", err)
		return 2
	}
	defer n.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(stdout, "tinyssb-node running")
	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx) }()
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(stderr, "node run error: %v\n", err)
			return 1
		}
	}
	fmt.Fprintln(stdout, "tinyssb-node stopped")
	return 0
}

func printConfig(w io.Writer, cfg node.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func cmdKeygenMain(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tinyssb-node keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "output keystore json path")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *out == "" {
		fmt.Fprintln(stderr, "missing required flag: --out")
		return 2
	}
	kp, err := identity.Generate()
	if err != nil {
		fmt.Fprintf(stderr, "keygen error: %v\n", err)
		return 1
	}
	if err := kp.Save(*out); err != nil {
		fmt.Fprintf(stderr, "keygen save error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "pubkey=%s\n", hex.EncodeToString(kp.Pub[:]))
	return 0
}

func cmdExportSeedMain(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tinyssb-node export-seed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "", "input keystore json path")
	label := fs.String("label", "backup", "HKDF label distinguishing exported seeds")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(stderr, "missing required flag: --in")
		return 2
	}
	kp, err := identity.Load(*in)
	if err != nil {
		fmt.Fprintf(stderr, "export-seed load error: %v\n", err)
		return 1
	}
	seed, err := identity.ExportBackupSeed(kp, *label)
	if err != nil {
		fmt.Fprintf(stderr, "export-seed error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s\n", hex.EncodeToString(seed[:]))
	return 0
}
