// =============================================================================
// 📦 InferFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Routing:   DefaultRoutingConfig(),
		Cache:     DefaultCacheConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Prefetch:  DefaultPrefetchConfig(),
		Tiers:     DefaultTiersConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "inferflow",
		Name:            "inferflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:      "openai",
		BaseURL:       "https://api.openai.com",
		Timeout:       60 * time.Second,
		Temperature:   0.7,
		MaxTokens:     2048,
		ContextWindow: 8192,
	}
}

// DefaultEmbeddingConfig 返回默认向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Enabled:    false,
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-small",
		Dimensions: 384,
		Timeout:    5 * time.Second,
	}
}

// DefaultRoutingConfig 返回默认路由配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		DefaultPriority:     "balanced",
		MaxAttempts:         3,
		BudgetPolicy:        "soft",
		FeedbackTimeout:     2 * time.Second,
		BackgroundTimeout:   30 * time.Second,
		BackgroundWorkers:   16,
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		FuzzyThreshold:         0.7,
		SemanticThreshold:      0.85,
		SemanticFuzzyThreshold: 0.6,
		PromptCacheSize:        256,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Enabled:          true,
		Limit:            5,
		Threshold:        0.1,
		VectorWeight:     0.7,
		KeywordWeight:    0.3,
		Timeout:          3 * time.Second,
		MaxContextTokens: 2000,
		KnowledgeDir:     "knowledge",
		Store:            "memory",
		QdrantURL:        "http://localhost:6333",
	}
}

// DefaultPrefetchConfig 返回默认预取配置
func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		Enabled:    true,
		Model:      "gpt-4o-mini",
		Timeout:    10 * time.Second,
		PredictRPS: 5,
	}
}

// DefaultTiersConfig 返回内置的等级限额
func DefaultTiersConfig() TiersConfig {
	return TiersConfig{
		Free: TierLimitsConfig{
			DailyBudgetUnits:   10,
			MaxSessionMessages: 20,
			MaxSessions:        3,
			SemanticCacheLimit: 100,
			ResponseCacheLimit: 200,
			PrefetchEnabled:    false,
		},
		Pro: TierLimitsConfig{
			DailyBudgetUnits:   200,
			MaxSessionMessages: 200,
			MaxSessions:        50,
			SemanticCacheLimit: 1000,
			ResponseCacheLimit: 2000,
			PrefetchEnabled:    true,
		},
		Enterprise: TierLimitsConfig{
			DailyBudgetUnits:   5000,
			MaxSessionMessages: 2000,
			MaxSessions:        1000,
			SemanticCacheLimit: 10000,
			ResponseCacheLimit: 20000,
			PrefetchEnabled:    true,
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		MaxSizeMB:        100,
		MaxBackups:       5,
		MaxAgeDays:       14,
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "inferflow",
		SampleRate:   0.1,
	}
}
