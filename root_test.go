package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychopy/osfsync/internal/config"
)

// --- buildLogger tests ---

func TestBuildLogger_Default(t *testing.T) {
	resetLogFlags(t)

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Verbose(t *testing.T) {
	resetLogFlags(t)
	flagVerbose = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Debug(t *testing.T) {
	resetLogFlags(t)
	flagDebug = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Quiet(t *testing.T) {
	resetLogFlags(t)
	flagQuiet = true

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestBuildLogger_ConfigDebug(t *testing.T) {
	resetLogFlags(t)

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "debug"

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_FlagsOverrideConfig(t *testing.T) {
	resetLogFlags(t)
	flagDebug = true

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "error"

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func resetLogFlags(t *testing.T) {
	t.Helper()

	flagVerbose, flagDebug, flagQuiet = false, false, false
	t.Cleanup(func() { flagVerbose, flagDebug, flagQuiet = false, false, false })
}

// --- effectiveLogFormat tests ---

func TestEffectiveLogFormat_NonAutoPassesThrough(t *testing.T) {
	assert.Equal(t, "json", effectiveLogFormat("json"))
	assert.Equal(t, "text", effectiveLogFormat("text"))
}

// --- cliContextFrom / mustCLIContext tests ---

func TestCliContextFrom_NilContext(t *testing.T) {
	cc := cliContextFrom(context.Background())
	assert.Nil(t, cc)
}

func TestCliContextFrom_WithCLIContext(t *testing.T) {
	expected := &CLIContext{
		Cfg:    config.DefaultConfig(),
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)

	cc := cliContextFrom(ctx)
	assert.Equal(t, expected, cc)
}

func TestMustCLIContext_Panics(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestMustCLIContext_Returns(t *testing.T) {
	expected := &CLIContext{Cfg: config.DefaultConfig()}
	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)

	assert.Equal(t, expected, mustCLIContext(ctx))
}

// --- Cobra structure tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"login", "projects", "sync", "status", "resolve", "verify", "config"}
	for _, name := range expected {
		_, _, err := cmd.Find([]string{name})
		assert.NoError(t, err, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "root", "json", "verbose", "debug", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	pairs := [][]string{
		{"--verbose", "--debug"},
		{"--verbose", "--quiet"},
		{"--debug", "--quiet"},
	}

	for _, flags := range pairs {
		t.Run(flags[0]+"_"+flags[1], func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(append(append([]string{}, flags...), "config", "show"))

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "none of the others can be")
		})
	}
}

func TestNewRootCmd_LoginSkipsConfig(t *testing.T) {
	cmd := newRootCmd()

	sub, _, err := cmd.Find([]string{"login"})
	require.NoError(t, err)

	assert.Equal(t, "true", sub.Annotations[skipConfigAnnotation])
}

func TestNewRootCmd_ProjectsSkipsConfig(t *testing.T) {
	cmd := newRootCmd()

	sub, _, err := cmd.Find([]string{"projects"})
	require.NoError(t, err)

	assert.Equal(t, "true", sub.Annotations[skipConfigAnnotation])
}

func TestAnnotationBasedSkipConfig(t *testing.T) {
	cmd := newRootCmd()

	configRequiring := [][]string{{"sync"}, {"status"}, {"resolve"}, {"verify"}, {"config", "show"}}
	for _, args := range configRequiring {
		sub, _, err := cmd.Find(args)
		require.NoError(t, err)

		assert.Empty(t, sub.Annotations[skipConfigAnnotation],
			"command %q should NOT have skipConfig annotation", sub.CommandPath())
	}
}

// --- HTTP client tests ---

func TestControlHTTPClient_HasTimeout(t *testing.T) {
	client := controlHTTPClient()
	assert.Equal(t, controlHTTPTimeout, client.Timeout)
}

func TestTransferHTTPClient_NoTimeout(t *testing.T) {
	client := transferHTTPClient()
	assert.Zero(t, client.Timeout)
}

// --- loadConfig tests ---

func TestLoadConfig_ResolvesFromFile(t *testing.T) {
	resetLogFlags(t)

	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")

	tomlContent := `[sync]
root_path = "` + tmpDir + `"
project_id = "abc12"
account_id = "acct-1"
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(tomlContent), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgFile, "config", "show"})

	require.NoError(t, cmd.Execute())

	sub, _, err := cmd.Find([]string{"config", "show"})
	require.NoError(t, err)

	cc := cliContextFrom(sub.Context())
	require.NotNil(t, cc)
	assert.Equal(t, "abc12", cc.Cfg.Sync.ProjectID)
}

func TestLoadConfig_RootFlagOverridesConfig(t *testing.T) {
	resetLogFlags(t)

	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`[sync]
root_path = "/from-file"
`), 0o600))

	overrideRoot := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgFile, "--root", overrideRoot, "config", "show"})

	require.NoError(t, cmd.Execute())

	sub, _, err := cmd.Find([]string{"config", "show"})
	require.NoError(t, err)

	cc := cliContextFrom(sub.Context())
	require.NotNil(t, cc)
	assert.Equal(t, overrideRoot, cc.Cfg.Sync.RootPath)
}
