package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "swrctl", cmd.Use)
	assert.Contains(t, cmd.Long, "SWR_*")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"get", "watch", "emit", "inspect"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	envFile := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFile)
	assert.Equal(t, ".env", envFile.DefValue)

	logFlag := cmd.PersistentFlags().Lookup("log")
	require.NotNil(t, logFlag)
	assert.Equal(t, "", logFlag.DefValue)
}

func TestGetCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	get, _, err := cmd.Find([]string{"get"})
	require.NoError(t, err)

	page := get.Flags().Lookup("page")
	require.NotNil(t, page)
	assert.Equal(t, "0", page.DefValue)

	size := get.Flags().Lookup("size")
	require.NotNil(t, size)
	assert.Equal(t, "0", size.DefValue)
}

func TestWatchAndInspectFlags(t *testing.T) {
	cmd := NewRootCommand()

	watch, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)
	assert.NotNil(t, watch.Flags().Lookup("event"))

	inspect, _, err := cmd.Find([]string{"inspect"})
	require.NoError(t, err)
	listen := inspect.Flags().Lookup("listen")
	require.NotNil(t, listen)
	assert.Equal(t, "", listen.DefValue)
}

func TestInvalidLoggerRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--log", "printf", "get", "todo"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid logger")
}

func TestEmitRequiresTwoArgs(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"emit", "todo.updated"})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	require.Error(t, cmd.Execute())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitFailure, "fetch failed", errors.New("503"))
	assert.Equal(t, "fetch failed: 503", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "503")
}
