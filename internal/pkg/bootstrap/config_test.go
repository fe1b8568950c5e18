package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.Economy.ReferralBonus)
	assert.Equal(t, "0 1 * * 1", cfg.Jobs.WeeklyCompositionCron)
	assert.Equal(t, 7*24*time.Hour, cfg.Economy.GroupTTL)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
app:
  port: 9100
economy:
  daily_bonus: 7
  group_ttl: 48h
infra:
  kafka:
    brokers: ["k1:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("KAFKA_BROKERS", "a:1, b:2")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, int64(7), cfg.Economy.DailyBonus)
	assert.Equal(t, 48*time.Hour, cfg.Economy.GroupTTL)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfigRejectsNonPositiveRewards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("economy:\n  referral_bonus: 0\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
