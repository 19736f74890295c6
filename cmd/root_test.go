package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCommand(t *testing.T, parent *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("command %q not registered under %q", name, parent.Name())
	return nil
}

func TestCommandTree(t *testing.T) {
	for _, name := range []string{"ingest", "prune", "fix-max-act", "migrate", "status"} {
		findCommand(t, rootCmd, name)
	}

	ing := findCommand(t, rootCmd, "ingest")
	for _, name := range []string{"explanations", "activations", "features", "run"} {
		findCommand(t, ing, name)
	}
}

func TestActivationsFlags(t *testing.T) {
	cmd := findCommand(t, findCommand(t, rootCmd, "ingest"), "activations")

	for flag, def := range map[string]string{
		"clear":        "false",
		"skip-pruning": "false",
		"top-k":        "0",
		"yes":          "false",
		"max-records":  "0",
	} {
		f := cmd.Flags().Lookup(flag)
		require.NotNil(t, f, "flag %q missing", flag)
		assert.Equal(t, def, f.DefValue, "flag %q default", flag)
	}
}

func TestRunRequiresADirectory(t *testing.T) {
	cmd := findCommand(t, findCommand(t, rootCmd, "ingest"), "run")
	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of")
}
