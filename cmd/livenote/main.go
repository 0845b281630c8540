package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"livenote/internal/config"
	"livenote/internal/document"
	"livenote/internal/logging"
)

var (
	// Global flags
	verbose    bool
	vaultDir   string
	configPath string
	timeout    time.Duration

	// Loaded in PersistentPreRunE
	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "livenote",
	Short: "livenote - live JSX/TSX snippets inside markdown notes",
	Long: "livenote renders fenced react/jsx/tsx blocks of markdown notes into live UI.\n\n" +
		"Snippets run in a sandbox against a small capability scope: note context,\n" +
		"frontmatter-backed storage, market data and UI primitives. Render a note to\n" +
		"HTML or the terminal, check its snippets, or serve the vault with live reload.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		zc.DisableStacktrace = true
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		vault, err := resolveVault()
		if err != nil {
			return err
		}
		vaultDir = vault
		if configPath == "" {
			configPath = config.DefaultPath(vault)
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}

		if err := logging.Initialize(vault, cfg.Logging); err != nil {
			logger.Warn("file logging disabled", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit log disabled", zap.Error(err))
		}
		logging.SetStderr(logger)
		logger.Debug("vault ready", zap.String("vault", vault), zap.String("config", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&vaultDir, "vault", "w", "", "Vault directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <vault>/.livenote/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(marketCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveVault() (string, error) {
	dir := vaultDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// commandContext is cancelled by SIGINT/SIGTERM or the --timeout flag.
// Long-running commands pass zero to disable the timeout.
func commandContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		cancel()
		stop()
	}
}

func openVault() (*document.FSStore, error) {
	docs, err := document.NewFSStore(vaultDir)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// docArg turns a CLI path (absolute or relative to the working directory)
// into a vault-relative document path.
func docArg(arg string) (string, error) {
	p := arg
	if !filepath.IsAbs(p) {
		if _, err := os.Stat(filepath.Join(vaultDir, p)); err == nil {
			return document.Clean(p), nil
		}
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		p = filepath.Join(wd, p)
	}
	rel, err := filepath.Rel(vaultDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		if !filepath.IsAbs(arg) {
			return document.Clean(arg), nil
		}
		return "", fmt.Errorf("%s is outside the vault %s", arg, vaultDir)
	}
	return document.Clean(rel), nil
}
