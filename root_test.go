package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvuorela/msgraph-go/internal/config"
)

func resetFlags(t *testing.T) {
	t.Helper()

	prevCfg := resolvedCfg
	prevVerbose, prevQuiet := flagVerbose, flagQuiet

	t.Cleanup(func() {
		resolvedCfg = prevCfg
		flagVerbose, flagQuiet = prevVerbose, prevQuiet
	})

	resolvedCfg = config.DefaultConfig()
	flagVerbose = false
	flagQuiet = false
}

func TestBuildLoggerLevels(t *testing.T) {
	ctx := context.Background()

	t.Run("config level baseline", func(t *testing.T) {
		resetFlags(t)
		resolvedCfg.LogLevel = config.LogLevelWarn

		logger := buildLogger()
		assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
		assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	})

	t.Run("verbose flag wins", func(t *testing.T) {
		resetFlags(t)
		resolvedCfg.LogLevel = config.LogLevelError
		flagVerbose = true

		logger := buildLogger()
		assert.True(t, logger.Enabled(ctx, slog.LevelDebug))
	})

	t.Run("quiet flag wins", func(t *testing.T) {
		resetFlags(t)
		flagQuiet = true

		logger := buildLogger()
		assert.False(t, logger.Enabled(ctx, slog.LevelWarn))
		assert.True(t, logger.Enabled(ctx, slog.LevelError))
	})
}

func TestAuthConfigDefaults(t *testing.T) {
	resetFlags(t)
	resolvedCfg.ClientID = "client-1"
	resolvedCfg.TenantID = "contoso"

	cfg := authConfig()
	assert.Equal(t, "client-1", cfg.ClientID)
	assert.Equal(t, "contoso", cfg.TenantID)
	assert.NotEmpty(t, cfg.RecordPath, "record path should fall back to the default")
}

func TestRootCmdRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"login", "logout", "status", "whoami", "search"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %q should be registered", name)
		assert.Equal(t, name, sub.Name())
	}
}
