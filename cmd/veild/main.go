// Command veild is the daemon entry point (§6 CLI surface): it loads
// configuration, the PSK and obfuscation seed, then drives a Tunnel
// until terminated. Exit code 0 on clean shutdown; non-zero on
// unrecoverable init failure, per §6.
//
// Grounded on the teacher's cmd/ layout conventions and the
// spf13/cobra root-command-plus-flags shape in
// postalsys-Muti-Metroo/cmd/muti-metroo/main.go, generalized here from
// the teacher's mesh-agent subcommands to the single long-running
// daemon process this spec describes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/iface"
	"github.com/veilnet/veil/internal/logging"
	"github.com/veilnet/veil/internal/metrics"
	"github.com/veilnet/veil/internal/tunnel"
	"github.com/veilnet/veil/internal/verr"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		keyPath    string
		seedPath   string
		server     string
		localPort  int
		verbose    bool
		install    bool
		uninstall  bool
	)

	root := &cobra.Command{
		Use:     "veild",
		Short:   "veild is the data-plane daemon for a veil point-to-point tunnel",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if install {
				return installService()
			}
			if uninstall {
				return uninstallService()
			}
			return runDaemon(configPath, keyPath, seedPath, server, localPort, verbose)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	root.Flags().StringVar(&keyPath, "key", "", "path to the 32-byte PSK file (overrides config)")
	root.Flags().StringVar(&seedPath, "seed", "", "path to the 32-byte obfuscation seed file (overrides config)")
	root.Flags().StringVar(&server, "server", "", "remote server addr:port (client mode; overrides config)")
	root.Flags().IntVar(&localPort, "local-port", 0, "local UDP port (0 = ephemeral in client mode)")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	root.Flags().BoolVar(&install, "install", false, "install veild as a platform service")
	root.Flags().BoolVar(&uninstall, "uninstall", false, "uninstall the platform service")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "veild:", err)
		return exitCodeFor(err)
	}
	return 0
}

// exitCodeFor maps the error taxonomy of §7 to a process exit code:
// anything that reached main as an error is by definition unrecoverable
// init failure (ConfigFatal) or a Bug, both non-zero.
func exitCodeFor(err error) int {
	var kind verr.Kind
	if k, ok := verr.KindOf(err); ok {
		kind = k
	} else {
		kind = verr.ConfigFatal
	}
	switch kind {
	case verr.Bug:
		return 2
	default:
		return 1
	}
}

func runDaemon(configPath, keyPath, seedPath, server string, localPort int, verbose bool) error {
	cfg, err := loadConfig(configPath, keyPath, seedPath, server, localPort, verbose)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting veild", "mode", cfg.Mode, "version", Version)

	psk, err := cfg.LoadPSK(logger)
	if err != nil {
		return err
	}
	seed, err := cfg.LoadSeed()
	if err != nil {
		return err
	}

	m := metrics.Default()
	dev := iface.NewLoopbackDevice(256)

	t := tunnel.New(cfg, logger, m, dev, psk, seed)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := t.Run(ctx); err != nil {
		logger.Error("tunnel exited", logging.KeyReason, err.Error())
		return err
	}
	logger.Info("veild shut down cleanly")
	return nil
}

func loadConfig(configPath, keyPath, seedPath, server string, localPort int, verbose bool) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if keyPath != "" {
		cfg.KeyFile = keyPath
	}
	if seedPath != "" {
		cfg.SeedFile = seedPath
	}
	if server != "" {
		cfg.Server = server
	}
	if localPort != 0 {
		cfg.LocalPort = localPort
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// installService and uninstallService are placeholders for the
// platform-specific service-manager integration named in §6; veild has
// no service manager binding in this tree, so both report the
// limitation rather than silently no-op.
func installService() error {
	return verr.Actionable("service installation is platform-specific and not implemented in this build")
}

func uninstallService() error {
	return verr.Actionable("service removal is platform-specific and not implemented in this build")
}
