package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withXDG(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestGetStreampullDirHonorsXDG(t *testing.T) {
	dir := withXDG(t)
	assert.Equal(t, filepath.Join(dir, "streampull"), GetStreampullDir())
}

func TestGetLogsAndStateDirsAreUnderBase(t *testing.T) {
	dir := withXDG(t)
	base := filepath.Join(dir, "streampull")
	assert.Equal(t, filepath.Join(base, "logs"), GetLogsDir())
	assert.Equal(t, filepath.Join(base, "state"), GetStateDir())
}

func TestEnsureDirsCreatesTree(t *testing.T) {
	withXDG(t)

	require.NoError(t, EnsureDirs())

	for _, dir := range []string{GetStreampullDir(), GetLogsDir(), GetStateDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoadSettingsMissingFileReturnsZeroValue(t *testing.T) {
	withXDG(t)

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, &Settings{}, s)
}

func TestSaveThenLoadSettingsRoundTrips(t *testing.T) {
	withXDG(t)

	want := &Settings{
		General: GeneralSettings{DefaultDownloadDir: "/downloads"},
		Engine: EngineSettings{
			MaxConnectionsPerHost: 6,
			GlobalSpeedLimitBps:   1024 * 1024,
			AutoResume:            true,
		},
	}
	require.NoError(t, SaveSettings(want))

	got, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadSettingsCorruptFileReturnsError(t *testing.T) {
	withXDG(t)
	require.NoError(t, EnsureDirs())

	require.NoError(t, os.WriteFile(settingsPath(), []byte("general: [unterminated"), 0644))

	_, err := LoadSettings()
	assert.Error(t, err)
}
