package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nexus.json")
	content := `{"data_dir": "` + tmpDir + `"}`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestVaultStatusCommand(t *testing.T) {
	cfgFile = writeTestConfig(t)
	defer func() { cfgFile = "" }()

	output := &bytes.Buffer{}
	cmd := GetRootCmd()
	cmd.SetOut(output)
	cmd.SetArgs([]string{"vault", "status"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "Initialized: false")
	assert.Contains(t, output.String(), "Legacy data present: false")
}

func TestVaultResetRequiresForce(t *testing.T) {
	cfgFile = writeTestConfig(t)
	defer func() { cfgFile = "" }()

	cmd := GetRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"vault", "reset"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestVaultResetWithForce(t *testing.T) {
	cfgFile = writeTestConfig(t)
	defer func() { cfgFile = "" }()

	output := &bytes.Buffer{}
	cmd := GetRootCmd()
	cmd.SetOut(output)
	cmd.SetArgs([]string{"vault", "reset", "--force"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "Vault reset")
}
