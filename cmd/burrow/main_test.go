package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/config"
)

func TestLoadTaskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - action: sleep
    request:
      duration: 10m
  - action: echo
    node: node-2
    removeOnCompletion: true
`), 0o600))

	file, err := loadTaskFile(path)
	require.NoError(t, err)
	require.Len(t, file.Tasks, 2)

	req, err := file.Tasks[0].request()
	require.NoError(t, err)
	assert.JSONEq(t, `{"duration":"10m"}`, string(req))

	req, err = file.Tasks[1].request()
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Equal(t, "node-2", file.Tasks[1].Node)
	assert.True(t, file.Tasks[1].RemoveOnCompletion)
}

func TestLoadTaskFileRequiresAction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  - node: node-1\n"), 0o600))

	_, err := loadTaskFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action is required")
}

func TestParseTaskID(t *testing.T) {
	id, err := parseTaskID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := parseTaskID(bad)
		assert.Error(t, err, bad)
	}
}

func TestApplyNodeFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "defaults untouched",
			args: nil,
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, config.Default().APIAddr, cfg.APIAddr)
				assert.True(t, cfg.Bootstrap)
			},
		},
		{
			name: "join implies no bootstrap",
			args: []string{"--join", "10.0.0.1:7947", "--node-id", "node-2"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "10.0.0.1:7947", cfg.Join)
				assert.Equal(t, "node-2", cfg.NodeID)
				assert.False(t, cfg.Bootstrap)
			},
		},
		{
			name: "timeouts and logging",
			args: []string{"--rpc-timeout", "3s", "--placement-recheck", "1m", "--log-json", "--log-level", "debug"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 3*time.Second, cfg.RPC.Timeout)
				assert.Equal(t, time.Minute, cfg.Placement.RecheckInterval)
				assert.True(t, cfg.Log.JSON)
				assert.Equal(t, "debug", cfg.Log.Level)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "start"}
			addNodeStartFlags(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg := config.Default()
			applyNodeFlags(cmd, cfg)
			tt.check(t, cfg)
		})
	}
}
