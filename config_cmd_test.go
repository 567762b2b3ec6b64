package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/psychopy/osfsync/internal/config"
)

func TestRunConfigShow_TOML(t *testing.T) {
	cmd := &cobra.Command{}
	cc := &CLIContext{Cfg: config.DefaultConfig()}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	require.NoError(t, runConfigShow(cmd, nil))
}

func TestRunConfigShow_JSON(t *testing.T) {
	flagJSON = true
	defer func() { flagJSON = false }()

	cmd := &cobra.Command{}
	cc := &CLIContext{Cfg: config.DefaultConfig()}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	require.NoError(t, runConfigShow(cmd, nil))
}
