package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigValuePrecedence(t *testing.T) {
	t.Setenv("PODIUM_TEST_KEY", "from-env")

	// Flag wins over env.
	assert.Equal(t, "from-flag", getConfigValue("from-flag", "PODIUM_TEST_KEY", "default"))
	// Env wins over default.
	assert.Equal(t, "from-env", getConfigValue("", "PODIUM_TEST_KEY", "default"))
	// Default when nothing is set.
	assert.Equal(t, "default", getConfigValue("", "PODIUM_TEST_UNSET", "default"))
}

func TestGetBoolConfigValue(t *testing.T) {
	t.Setenv("PODIUM_TEST_BOOL", "yes")
	assert.True(t, getBoolConfigValue("", "PODIUM_TEST_BOOL", false))

	t.Setenv("PODIUM_TEST_BOOL", "nope")
	assert.False(t, getBoolConfigValue("", "PODIUM_TEST_BOOL", true))

	assert.True(t, getBoolConfigValue("", "PODIUM_TEST_BOOL_UNSET", true))
}

func TestGetIntConfigValue(t *testing.T) {
	t.Setenv("PODIUM_TEST_INT", "42")
	assert.Equal(t, 42, getIntConfigValue("", "PODIUM_TEST_INT", 7))

	t.Setenv("PODIUM_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getIntConfigValue("", "PODIUM_TEST_INT", 7))
}

func TestParseDurationValue(t *testing.T) {
	d, err := parseDurationValue("", "PODIUM_TEST_DUR_UNSET", "15s")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)

	t.Setenv("PODIUM_TEST_DUR", "2m")
	d, err = parseDurationValue("", "PODIUM_TEST_DUR", "15s")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	t.Setenv("PODIUM_TEST_DUR", "bogus")
	_, err = parseDurationValue("", "PODIUM_TEST_DUR", "15s")
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")

	content := "# comment\nPODIUM_FILE_KEY=file-value\nPODIUM_QUOTED=\"quoted\"\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	t.Setenv("PODIUM_FILE_KEY", "")
	t.Setenv("PODIUM_QUOTED", "")
	os.Unsetenv("PODIUM_FILE_KEY")
	os.Unsetenv("PODIUM_QUOTED")

	require.NoError(t, loadEnvFile(envPath))
	assert.Equal(t, "file-value", os.Getenv("PODIUM_FILE_KEY"))
	assert.Equal(t, "quoted", os.Getenv("PODIUM_QUOTED"))
}

func TestLoadEnvFileDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("PODIUM_PRESET=from-file\n"), 0o600))

	t.Setenv("PODIUM_PRESET", "from-env")
	require.NoError(t, loadEnvFile(envPath))
	assert.Equal(t, "from-env", os.Getenv("PODIUM_PRESET"))
}

func validConfig() *Config {
	return &Config{
		App:       AppConfig{Environment: "development"},
		Logger:    LoggerConfig{Level: "info"},
		Data:      DataConfig{BasePath: "/var/lib/podium"},
		Ranking:   RankingConfig{WindowSize: 100},
		Broadcast: BroadcastConfig{SubscriberEventsPerSec: 10},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	bad := validConfig()
	bad.App.Environment = "prod"
	assert.Error(t, bad.Validate())

	bad = validConfig()
	bad.Logger.Level = "verbose"
	assert.Error(t, bad.Validate())

	bad = validConfig()
	bad.Ranking.WindowSize = 0
	assert.Error(t, bad.Validate())
}

func TestLedgerPath(t *testing.T) {
	c := validConfig()
	assert.Equal(t, filepath.Join("/var/lib/podium", "ledger"), c.LedgerPath())
}
