package main

import (
	"fmt"
	"os"
	"path/filepath"

	logger "github.com/Easy-Infra-Ltd/easy-logger"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/config"
)

const configFileName = "quarantine-host.json"

func newRootCommand() *cobra.Command {
	var configFlag string
	var force bool

	rootCmd := &cobra.Command{
		Use:           "quarantine-host [origin]",
		Short:         "Native messaging host that quarantines and scans browser downloads",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Browsers append the extension origin and flags such as
		// --parent-window that the host does not define.
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force && isTerminal(os.Stdin) {
				return fmt.Errorf("stdin is a terminal; the host expects to be launched by the browser (use --force to override)")
			}
			cfg, err := loadConfig(configFlag)
			if err != nil {
				return err
			}
			log := logger.CreateLoggerFromEnv(nil, "blue").With("process", "quarantinehost")
			return runHost(cmd.Context(), cfg, os.Stdin, os.Stdout, log)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (JSON or TOML)")
	rootCmd.Flags().BoolVar(&force, "force", false, "Run the protocol loop even when stdin is a terminal")

	rootCmd.AddCommand(newManifestCommand())
	rootCmd.AddCommand(newParseReportCommand())

	return rootCmd
}

// loadConfig reads path, or the config file next to the executable when
// path is empty. A missing default file yields the defaults.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	dir, err := executableDir()
	if err != nil {
		return config.Config{}, err
	}
	return config.LoadOrDefault(filepath.Join(dir, configFileName))
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
