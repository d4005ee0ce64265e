package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tvuorela/msgraph-go/internal/auth"
	"github.com/tvuorela/msgraph-go/internal/config"
	"github.com/tvuorela/msgraph-go/internal/graph"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagClientID   string
	flagTenantID   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// Available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "msgraph",
		Short:   "Microsoft Graph CLI client",
		Long:    "A CLI for delegated Microsoft Graph access: mail, calendar, files, and search.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagClientID, "client-id", "", "Azure app registration client ID")
	cmd.PersistentFlags().StringVar(&flagTenantID, "tenant", "", "Entra ID tenant (default \"common\")")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newSearchCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands.
func loadConfig() error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		ClientID:   flagClientID,
		TenantID:   flagTenantID,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. The "auto" format picks
// human-readable text on a terminal and JSON when output is redirected.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	format := config.LogFormatAuto
	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case config.LogLevelDebug:
			level = slog.LevelDebug
		case config.LogLevelWarn:
			level = slog.LevelWarn
		case config.LogLevelError:
			level = slog.LevelError
		}

		format = resolvedCfg.LogFormat
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == config.LogFormatAuto {
		format = config.LogFormatText
		if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = config.LogFormatJSON
		}
	}

	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// authConfig maps the resolved configuration into the auth layer's Config.
func authConfig() auth.Config {
	cfg := auth.Config{
		ClientID:    resolvedCfg.ClientID,
		TenantID:    resolvedCfg.TenantID,
		RedirectURI: resolvedCfg.RedirectURI,
		RecordPath:  resolvedCfg.RecordPath,
		Scopes:      resolvedCfg.Scopes,
	}

	if cfg.RecordPath == "" {
		cfg.RecordPath = auth.DefaultRecordPath()
	}

	return cfg
}

// newManager builds the token lifecycle manager from the resolved config.
func newManager(logger *slog.Logger) *auth.Manager {
	return auth.NewManager(authConfig(), logger)
}

// newGraphClient wires a Graph client to the token manager.
func newGraphClient(manager *auth.Manager, logger *slog.Logger) *graph.Client {
	baseURL := resolvedCfg.BaseURL
	if baseURL == "" {
		baseURL = graph.DefaultBaseURL
	}

	httpClient := &http.Client{Timeout: resolvedCfg.Timeout()}

	return graph.NewClient(baseURL, httpClient, manager, logger)
}
