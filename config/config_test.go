package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/survey"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "surveyd.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	seed, err := identity.NewSeed()
	require.NoError(t, err)

	path := writeConfigFile(t, fmt.Sprintf("node_seed: %s\n", seed))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, seed.String(), cfg.NodeSeed)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:11626", cfg.Admin.ListenAddress)
	assert.Equal(t, uint32(survey.MinOverlayVersionForSurvey), cfg.Overlay.Version)
	assert.Equal(t, 5, cfg.Overlay.ExpectedRoundSeconds)
	assert.Equal(t, uint32(survey.MinOverlayVersionForSurvey), cfg.Survey.MinOverlayVersion)
	assert.Equal(t, uint32(survey.ThrottleTimeoutMult), cfg.Survey.ThrottleMult)
	assert.Empty(t, cfg.Survey.SurveyorKeys)
	assert.Empty(t, cfg.Archive.Path)
}

func TestLoadConfigFull(t *testing.T) {
	seed, err := identity.NewSeed()
	require.NoError(t, err)
	surveyor, err := identity.NewSeed()
	require.NoError(t, err)
	trusted, err := identity.NewSeed()
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "data", "survey.db")
	path := writeConfigFile(t, fmt.Sprintf(`node_seed: %s
log_level: debug
admin:
  listen_address: 127.0.0.1:9999
overlay:
  version: 21
  version_str: surveyd-2.1.0
  expected_round_seconds: 7
survey:
  surveyor_keys:
    - %s
  min_overlay_version: 18
  throttle_mult: 5
quorum:
  trusted_nodes:
    - %s
archive:
  path: %s
`, seed, surveyor.NodeID(), trusted.NodeID(), archivePath))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9999", cfg.Admin.ListenAddress)
	assert.Equal(t, uint32(21), cfg.Overlay.Version)
	assert.Equal(t, "surveyd-2.1.0", cfg.Overlay.VersionStr)
	assert.Equal(t, 7, cfg.Overlay.ExpectedRoundSeconds)
	assert.Equal(t, []string{surveyor.NodeID().String()}, cfg.Survey.SurveyorKeys)
	assert.Equal(t, uint32(18), cfg.Survey.MinOverlayVersion)
	assert.Equal(t, uint32(5), cfg.Survey.ThrottleMult)
	assert.Equal(t, []string{trusted.NodeID().String()}, cfg.Quorum.TrustedNodes)
	assert.Equal(t, archivePath, cfg.Archive.Path)
	assert.DirExists(t, filepath.Dir(archivePath))
}

func TestLoadConfigErrors(t *testing.T) {
	seed, err := identity.NewSeed()
	require.NoError(t, err)

	cases := map[string]string{
		"missing seed":     "log_level: debug\n",
		"malformed seed":   "node_seed: not-a-seed\n",
		"node id as seed":  fmt.Sprintf("node_seed: %s\n", seed.NodeID()),
		"bad surveyor key": fmt.Sprintf("node_seed: %s\nsurvey:\n  surveyor_keys:\n    - garbage\n", seed),
		"bad trusted node": fmt.Sprintf("node_seed: %s\nquorum:\n  trusted_nodes:\n    - garbage\n", seed),
		"not yaml":         "{{{",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, content))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
		assert.Error(t, err)
	})
}
