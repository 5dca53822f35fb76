package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
bot:
  token: "123:abc"
  username: stalkbot
database:
  driver: postgres
  user: bot
  name: stalk
redis:
  addr: "localhost:6379"
admin:
  username: root
  password: secret
referral:
  threshold: 10
  reward: 72h
pricing:
  exchange_rate: 32.5
  plans:
    - key: daily
      price_tl: 30
      period: 24h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_AppliesDefaults(t *testing.T) {
	cfg, v, err := LoadFile(writeConfig(t, validYAML))
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, "polling", cfg.Bot.Mode)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 10, cfg.Referral.Threshold)
	assert.Equal(t, 72*time.Hour, cfg.Referral.Reward)
	assert.Equal(t, 32.5, cfg.Pricing.ExchangeRate)
	assert.Equal(t, 5, cfg.Profiles.Count)
	require.Len(t, cfg.Pricing.Plans, 1)
	assert.Equal(t, 24*time.Hour, cfg.Pricing.Plans[0].Period)
	assert.Equal(t, "host=localhost port=5432 user=bot password= dbname=stalk sslmode=disable", cfg.GetDBConnectionString())
}

func TestLoadFile_MissingToken(t *testing.T) {
	body := `
redis:
  addr: "localhost:6379"
database:
  driver: memory
admin:
  username: root
  password: secret
`
	_, _, err := LoadFile(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoadFile_MemoryDriverSkipsDatabaseCredentials(t *testing.T) {
	body := `
bot:
  token: "123:abc"
database:
  driver: memory
redis:
  addr: "localhost:6379"
admin:
  username: root
  password: secret
`
	cfg, _, err := LoadFile(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
}
