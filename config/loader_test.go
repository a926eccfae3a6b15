// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "balanced", cfg.Routing.DefaultPriority)
	assert.Equal(t, 3, cfg.Routing.MaxAttempts)
	assert.Equal(t, "soft", cfg.Routing.BudgetPolicy)
	assert.Equal(t, 5, cfg.Routing.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Routing.BreakerResetTimeout)

	assert.Equal(t, 0.7, cfg.Cache.FuzzyThreshold)
	assert.Equal(t, 0.85, cfg.Cache.SemanticThreshold)

	assert.Equal(t, 0.7, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 0.3, cfg.Retrieval.KeywordWeight)
	assert.Equal(t, "memory", cfg.Retrieval.Store)
	assert.Equal(t, "knowledge", cfg.Retrieval.KnowledgeDir)

	// 等级限额严格递增
	assert.Less(t, cfg.Tiers.Free.ResponseCacheLimit, cfg.Tiers.Pro.ResponseCacheLimit)
	assert.Less(t, cfg.Tiers.Pro.ResponseCacheLimit, cfg.Tiers.Enterprise.ResponseCacheLimit)
	assert.False(t, cfg.Tiers.Free.PrefetchEnabled)
	assert.True(t, cfg.Tiers.Enterprise.PrefetchEnabled)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "soft", cfg.Routing.BudgetPolicy)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

routing:
  default_priority: "quality"
  budget_policy: "hard"

cache:
  fuzzy_threshold: 0.8

tiers:
  pro:
    response_cache_limit: 42
    semantic_cache_limit: 21
    prefetch_enabled: true

redis:
  enabled: true
  addr: "redis.example.com:6379"

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "quality", cfg.Routing.DefaultPriority)
	assert.Equal(t, "hard", cfg.Routing.BudgetPolicy)
	assert.Equal(t, 0.8, cfg.Cache.FuzzyThreshold)
	assert.Equal(t, 42, cfg.Tiers.Pro.ResponseCacheLimit)
	assert.Equal(t, 21, cfg.Tiers.Pro.SemanticCacheLimit)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 0.85, cfg.Cache.SemanticThreshold)
	assert.Equal(t, 100, cfg.Tiers.Free.SemanticCacheLimit)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("INFERFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("INFERFLOW_ROUTING_MAX_ATTEMPTS", "2")
	t.Setenv("INFERFLOW_ROUTING_FEEDBACK_TIMEOUT", "750ms")
	t.Setenv("INFERFLOW_CACHE_SEMANTIC_THRESHOLD", "0.9")
	t.Setenv("INFERFLOW_TIERS_FREE_DAILY_BUDGET_UNITS", "3.5")
	t.Setenv("INFERFLOW_TIERS_ENTERPRISE_PREFETCH_ENABLED", "false")
	t.Setenv("INFERFLOW_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 2, cfg.Routing.MaxAttempts)
	assert.Equal(t, 750*time.Millisecond, cfg.Routing.FeedbackTimeout)
	assert.Equal(t, 0.9, cfg.Cache.SemanticThreshold)
	assert.Equal(t, 3.5, cfg.Tiers.Free.DailyBudgetUnits)
	assert.False(t, cfg.Tiers.Enterprise.PrefetchEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
llm:
  provider: "yaml-provider"
  base_url: "https://yaml.example"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("INFERFLOW_SERVER_HTTP_PORT", "9999")
	t.Setenv("INFERFLOW_LLM_PROVIDER", "env-provider")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-provider", cfg.LLM.Provider)
	assert.Equal(t, "https://yaml.example", cfg.LLM.BaseURL)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("INFERFLOW_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("INFERFLOW_ROUTING_BUDGET_POLICY", "maybe")

	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: [invalid\n"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_TiersFileOverridesInline(t *testing.T) {
	tmpDir := t.TempDir()
	tiersPath := filepath.Join(tmpDir, "tiers.yaml")
	require.NoError(t, os.WriteFile(tiersPath, []byte(`
free:
  response_cache_limit: 7
  semantic_cache_limit: 3
`), 0644))

	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
tiers:
  file: "`+tiersPath+`"
  free:
    response_cache_limit: 999
`), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Tiers.Free.ResponseCacheLimit)
	assert.Equal(t, 3, cfg.Tiers.Free.SemanticCacheLimit)
	assert.Equal(t, tiersPath, cfg.Tiers.File)
	// 文件中缺失的等级使用内置默认
	assert.Equal(t, DefaultTiersConfig().Pro, cfg.Tiers.Pro)
}

func TestLoader_MissingTiersFile(t *testing.T) {
	t.Setenv("INFERFLOW_TIERS_FILE", "/non/existent/tiers.yaml")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}, wantErr: false},
		{name: "invalid HTTP port", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: true},
		{name: "unknown budget policy", modify: func(c *Config) { c.Routing.BudgetPolicy = "strict" }, wantErr: true},
		{name: "zero attempts", modify: func(c *Config) { c.Routing.MaxAttempts = 0 }, wantErr: true},
		{name: "fuzzy threshold above one", modify: func(c *Config) { c.Cache.FuzzyThreshold = 1.5 }, wantErr: true},
		{name: "negative retrieval weight", modify: func(c *Config) { c.Retrieval.KeywordWeight = -0.1 }, wantErr: true},
		{name: "unknown retrieval store", modify: func(c *Config) { c.Retrieval.Store = "milvus" }, wantErr: true},
		{name: "zero tier cache limit", modify: func(c *Config) { c.Tiers.Pro.ResponseCacheLimit = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "user", Password: "pass", Name: "dbname", SSLMode: "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306,
				User: "user", Password: "pass", Name: "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{name: "unknown driver", config: DatabaseConfig{Driver: "unknown"}, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_MigrationURL(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", pg.MigrationURL())

	lite := DatabaseConfig{Driver: "sqlite", Name: "data.db"}
	assert.Equal(t, "file:data.db?mode=rwc", lite.MigrationURL())
}

// --- MustLoad 测试 ---

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}
