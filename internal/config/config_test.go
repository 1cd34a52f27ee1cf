package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottlescout/price-ingest/internal/domain"
)

func TestLoadIngestConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *IngestConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
run_retention: "720h"
database:
  host: localhost
  port: 5432
  user: testuser
  password: testpass
  dbname: testdb
  sslmode: require
nats:
  url: "nats://localhost:4222"
  stream_name: "TEST_REPORTS"
  subject_prefix: "test.reports"
scheduler:
  chain_timeout: "30m"
  inter_chain_delay: "10s"
rate_limit:
  page_delay: "2s"
  category_delay: "8s"
  store_delay: "15s"
chains:
  - name: northcellar
    kind: html
    base_url: "https://northcellar.example"
    categories: ["beer", "wine"]
    page_size: 48
  - name: vintra
    kind: api
    mode: store_scoped
    base_url: "https://vintra.example"
    authenticated: true
    token_url: "https://vintra.example/oauth/token"
    probe_path: "/api/ping"
`,
			expectError: false,
			validate: func(t *testing.T, cfg *IngestConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, 720*time.Hour, cfg.RunRetention)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "require", cfg.Database.SSLMode)
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
				assert.Equal(t, "TEST_REPORTS", cfg.NATS.StreamName)
				assert.Equal(t, 30*time.Minute, cfg.Scheduler.ChainTimeout)
				assert.Equal(t, 10*time.Second, cfg.Scheduler.InterChainDelay)
				assert.Equal(t, 2*time.Second, cfg.RateLimit.PageDelay)
				assert.Equal(t, 15*time.Second, cfg.RateLimit.StoreDelay)

				require.Len(t, cfg.Chains, 2)
				assert.Equal(t, "html", cfg.Chains[0].Kind)
				assert.Equal(t, domain.PricingBroadcast, cfg.Chains[0].Mode, "mode defaults to broadcast")
				assert.Equal(t, 48, cfg.Chains[0].PageSize)
				assert.Equal(t, 500, cfg.Chains[0].MaxPages, "pagination ceiling gets a default")
				assert.Equal(t, domain.PricingStoreScoped, cfg.Chains[1].Mode)
				assert.True(t, cfg.Chains[1].Authenticated)
			},
		},
		{
			name: "config with defaults",
			configFile: `
database:
  host: localhost
  user: testuser
  password: testpass
  dbname: testdb
`,
			expectError: false,
			validate: func(t *testing.T, cfg *IngestConfig) {
				// Check defaults
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, "INGEST_REPORTS", cfg.NATS.StreamName)
				assert.Equal(t, "ingest.reports", cfg.NATS.SubjectPrefix)
				assert.Equal(t, 45*time.Minute, cfg.Scheduler.ChainTimeout)
				assert.Equal(t, 30*time.Second, cfg.Scheduler.InterChainDelay)
				assert.Equal(t, time.Second, cfg.RateLimit.PageDelay)
				assert.Equal(t, 5*time.Second, cfg.RateLimit.CategoryDelay)
				assert.Equal(t, 10*time.Second, cfg.RateLimit.StoreDelay)
				assert.Equal(t, uint64(3), cfg.Retry.MaxRetries)
				assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
				assert.Equal(t, 90*24*time.Hour, cfg.RunRetention)
			},
		},
		{
			name: "missing database host",
			configFile: `
database:
  dbname: testdb
`,
			expectError: true,
		},
		{
			name: "duplicate chain names",
			configFile: `
database:
  host: localhost
  dbname: testdb
chains:
  - name: northcellar
    base_url: "https://a.example"
  - name: northcellar
    base_url: "https://b.example"
`,
			expectError: true,
		},
		{
			name: "unknown pricing mode",
			configFile: `
database:
  host: localhost
  dbname: testdb
chains:
  - name: northcellar
    base_url: "https://a.example"
    mode: regional
`,
			expectError: true,
		},
		{
			name: "unknown source kind",
			configFile: `
database:
  host: localhost
  dbname: testdb
chains:
  - name: northcellar
    base_url: "https://a.example"
    kind: ftp
`,
			expectError: true,
		},
		{
			name: "authenticated chain without acquisition path",
			configFile: `
database:
  host: localhost
  dbname: testdb
chains:
  - name: vintra
    kind: api
    base_url: "https://vintra.example"
    authenticated: true
`,
			expectError: true,
		},
		{
			name: "chain without base url",
			configFile: `
database:
  host: localhost
  dbname: testdb
chains:
  - name: northcellar
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configFile, []byte(tt.configFile), 0600)
			require.NoError(t, err)

			cfg, err := LoadIngestConfig(configFile, tmpDir)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				if tt.validate != nil {
					tt.validate(t, cfg)
				}
			}
		})
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "ingest",
		Password: "secret",
		DBName:   "prices",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=localhost port=5432 user=ingest password=secret dbname=prices sslmode=disable", cfg.DSN())
}
