package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(&Env{Out: &bytes.Buffer{}})

	assert.Equal(t, "bastionctl", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{"migrate", "seed", "roles", "permissions", "check", "stats", "audit-archive"}
	for _, name := range expectedCommands {
		assert.Contains(t, root.Subcommands, name)
	}
	assert.Len(t, root.Subcommands, len(expectedCommands))
}

func TestCommandExecute_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--HELP"}, {"help"}} {
		var out bytes.Buffer
		root := NewRootCommand(&Env{Out: &out})

		require.NoError(t, root.Execute(args))
		assert.Contains(t, out.String(), "Usage: bastionctl <command> [args]")
		assert.Contains(t, out.String(), "permissions")
		assert.Contains(t, out.String(), "seed")
	}
}

func TestCommandExecute_Subcommand(t *testing.T) {
	root := NewRootCommand(&Env{Out: &bytes.Buffer{}})

	var received []string
	root.Subcommands["test"] = &Command{
		Name: "test",
		Run: func(args []string) error {
			received = args
			return nil
		},
	}

	require.NoError(t, root.Execute([]string{"test", "--flag", "value"}))
	assert.Equal(t, []string{"--flag", "value"}, received)
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	root := NewRootCommand(&Env{Out: &bytes.Buffer{}})

	err := root.Execute([]string{"nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, "debug", NewLogger("debug").GetLevel().String())
	assert.Equal(t, "info", NewLogger("bogus").GetLevel().String())
}

func TestOpenPostgres_RequiresURL(t *testing.T) {
	_, err := openPostgres("")
	assert.Error(t, err)
}
