package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demandline/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default()
	require.Len(t, cfg.Identities, 5)
	assert.Equal(t, config.CompleteAssignee, cfg.Policies.Complete)
	assert.Equal(t, "Demand Report", cfg.Report.Title)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.True(t, reg.IsLeader("1"))
}

func TestFromYAMLValidation(t *testing.T) {
	_, err := config.FromYAML([]byte("identities: []\n"))
	assert.Error(t, err)

	_, err = config.FromYAML([]byte(`identities:
  - {id: "1", name: "Boss", role: leader}
policies:
  complete: everybody
`))
	assert.Error(t, err)

	cfg, err := config.FromYAML([]byte(`identities:
  - {id: "1", name: "Boss", role: leader}
  - {id: "2", name: "Dev", role: collaborator}
policies:
  complete: any
`))
	require.NoError(t, err)
	assert.Equal(t, config.CompleteAny, cfg.Policies.Complete)
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Identities, 5)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "demandline.yml"), []byte(`identities:
  - {id: "a", name: "Alice", role: leader}
`), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Identities, 1)
	assert.Equal(t, "Alice", cfg.Identities[0].Name)
}
