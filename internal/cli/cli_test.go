package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "batchkit", cmd.Use, "root command should be 'batchkit'")
	assert.Equal(t, "1.0.0", cmd.Version, "version should be 1.0.0")

	commands := cmd.Commands()
	assert.Len(t, commands, 4, "should have 4 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Use] = true
	}
	assert.True(t, commandNames["run"], "should have 'run' command")
	assert.True(t, commandNames["submit"], "should have 'submit' command")
	assert.True(t, commandNames["cancel"], "should have 'cancel' command")
	assert.True(t, commandNames["status"], "should have 'status' command")

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "should have --config flag")
	assert.Equal(t, "configs/runtime.yaml", configFlag.DefValue, "default config path should be configs/runtime.yaml")
	assert.Equal(t, "c", configFlag.Shorthand, "should have -c shorthand")
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.NotNil(t, cmd, "buildRunCommand should return a non-nil command")
	assert.Equal(t, "run", cmd.Use)
	assert.Contains(t, cmd.Short, "Start")
	assert.NotNil(t, cmd.RunE)
}

func TestBuildSubmitCommand(t *testing.T) {
	cmd := buildSubmitCommand()

	assert.NotNil(t, cmd, "buildSubmitCommand should return a non-nil command")
	assert.Equal(t, "submit", cmd.Use)
	assert.NotNil(t, cmd.RunE)

	dirFlag := cmd.Flags().Lookup("dir")
	require.NotNil(t, dirFlag, "should have --dir flag")
	assert.Equal(t, "d", dirFlag.Shorthand, "should have -d shorthand")

	languageFlag := cmd.Flags().Lookup("language")
	assert.NotNil(t, languageFlag, "should have --language flag")

	combineFlag := cmd.Flags().Lookup("combine")
	assert.NotNil(t, combineFlag, "should have --combine flag")
}

func TestBuildSubmitCommand_RequiresDir(t *testing.T) {
	cmd := buildSubmitCommand()
	err := cmd.RunE(cmd, nil)
	assert.Error(t, err, "submit should require --dir")
	assert.Contains(t, err.Error(), "input directory is required")
}

func TestBuildCancelCommand(t *testing.T) {
	cmd := buildCancelCommand()

	assert.NotNil(t, cmd, "buildCancelCommand should return a non-nil command")
	assert.Equal(t, "cancel", cmd.Use)
	assert.NotNil(t, cmd.RunE)

	batchIDFlag := cmd.Flags().Lookup("batch-id")
	require.NotNil(t, batchIDFlag, "should have --batch-id flag")
}

func TestBuildCancelCommand_RequiresBatchID(t *testing.T) {
	cmd := buildCancelCommand()
	err := cmd.RunE(cmd, nil)
	assert.Error(t, err, "cancel should require --batch-id")
	assert.Contains(t, err.Error(), "--batch-id is required")
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.NotNil(t, cmd, "buildStatusCommand should return a non-nil command")
	assert.Equal(t, "status", cmd.Use)
	assert.Contains(t, cmd.Short, "runtime configuration")
	assert.NotNil(t, cmd.RunE)
}

func TestShowStatus(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "runtime.yaml")
	content := `
config_file: configs/endpoints.yaml
max_retries: 5
status_root_dir: batches
metrics:
  enabled: true
  port: 9191
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	configFile = path
	defer func() { configFile = "" }()

	err := showStatus()
	assert.NoError(t, err, "showStatus should not return an error for a valid config")
}

func TestShowStatus_MissingConfig(t *testing.T) {
	configFile = "/nonexistent/runtime.yaml"
	defer func() { configFile = "" }()

	err := showStatus()
	assert.Error(t, err, "showStatus should surface a missing config file")
}
