package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loyalty.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "loyalty.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Minute, cfg.Loyalty.ClaimTTL)

	ratio, err := cfg.DefaultRatio()
	require.NoError(t, err)
	assert.Equal(t, "500", ratio.AmountUnit.String())
	assert.Equal(t, "5", ratio.PointsPerUnit.String())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9090
  allowed_origins: ["https://admin.example.com"]
database:
  path: /var/lib/loyalty/data.db
loyalty:
  default_amount_unit: "100"
  default_points_per_unit: "2"
  claim_ttl: 90s
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/var/lib/loyalty/data.db", cfg.Database.Path)
	assert.Equal(t, 90*time.Second, cfg.Loyalty.ClaimTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "loyalty-engine", cfg.Logging.Service, "unset keys keep defaults")
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)

	ratio, err := cfg.DefaultRatio()
	require.NoError(t, err)
	assert.Equal(t, "100", ratio.AmountUnit.String())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 9090\n")
	t.Setenv("LOYALTY_PORT", "7070")
	t.Setenv("LOYALTY_DB_PATH", ":memory:")
	t.Setenv("LOYALTY_CLAIM_TTL", "2m")
	t.Setenv("LOYALTY_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOYALTY_METRICS_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, 2*time.Minute, cfg.Loyalty.ClaimTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":7070", cfg.Addr())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"bad yaml", "server: [port"},
		{"port out of range", "server:\n  port: 70000\n"},
		{"zero ratio", "loyalty:\n  default_amount_unit: \"0\"\n"},
		{"non numeric ratio", "loyalty:\n  default_points_per_unit: five\n"},
		{"empty db path", "database:\n  path: \"\"\n"},
		{"negative ttl", "loyalty:\n  claim_ttl: -1s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tt.contents))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("LOYALTY_PORT", "eighty")

	_, err := Load("")
	assert.Error(t, err)
}
