package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"corpusdedup/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{fmt.Errorf("%w: bad threshold", types.ErrConfig), 2},
		{&types.StageError{Stage: types.StageFuzzy, Err: fmt.Errorf("%w: removed twice", types.ErrConsistency)}, 3},
		{&types.StageError{Stage: types.StageSemantic, Err: errors.New("provider unavailable")}, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestNewLoggerRejectsBadFlags(t *testing.T) {
	_, err := newLogger("loud", "console")
	assert.ErrorIs(t, err, types.ErrConfig)
	_, err = newLogger("info", "xml")
	assert.ErrorIs(t, err, types.ErrConfig)
	_, err = newLogger("debug", "json")
	assert.NoError(t, err)
}

func TestConfigValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("fuzzy:\n  jaccard_threshold: 0.7\n"), 0o644))
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[fuzzy]\njaccard_threshold = 1.5\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	rootCmd.SetArgs([]string{"config", "validate", "--config", good, "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.Contains(t, out.String(), "jaccard=0.70")

	rootCmd.SetArgs([]string{"config", "validate", "--config", bad, "--log-level", "error"})
	err := rootCmd.Execute()
	assert.Equal(t, 2, exitCode(err))
}
