// =============================================================================
// 📦 InferFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("INFERFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 InferFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis 缓存配置（每日用量计数）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置（反馈、用户档案、用量）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Embedding 向量化配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Routing 路由管线配置
	Routing RoutingConfig `yaml:"routing" env:"ROUTING"`

	// Cache 缓存层配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Retrieval 混合检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Prefetch 预取配置
	Prefetch PrefetchConfig `yaml:"prefetch" env:"PREFETCH"`

	// Tiers 订阅等级限额
	Tiers TiersConfig `yaml:"tiers" env:"TIERS"`

	// JWT 认证配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端的限流速率
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 跨域白名单
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 未启用 JWT 时是否信任请求体中的 user_id（默认不信任，按匿名处理）
	TrustClientUserID bool `yaml:"trust_client_user_id" env:"TRUST_CLIENT_USER_ID"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用，关闭时用量计数退化为进程内存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider 名称
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（OpenAI 兼容）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 默认温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 默认最大输出 Token
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 模型上下文窗口（用于检索上下文截断）
	ContextWindow int `yaml:"context_window" env:"CONTEXT_WINDOW"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	// 是否调用远端服务；关闭时只使用哈希向量
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型
	Model string `yaml:"model" env:"MODEL"`
	// 向量维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RoutingConfig 路由管线配置
type RoutingConfig struct {
	// 默认优先级: speed, quality, cost, balanced
	DefaultPriority string `yaml:"default_priority" env:"DEFAULT_PRIORITY"`
	// 回退链最大尝试次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 预算策略: soft, hard
	BudgetPolicy string `yaml:"budget_policy" env:"BUDGET_POLICY"`
	// 反馈统计查询超时
	FeedbackTimeout time.Duration `yaml:"feedback_timeout" env:"FEEDBACK_TIMEOUT"`
	// 后台任务（反馈写入、预取）超时
	BackgroundTimeout time.Duration `yaml:"background_timeout" env:"BACKGROUND_TIMEOUT"`
	// 后台任务并发上限
	BackgroundWorkers int `yaml:"background_workers" env:"BACKGROUND_WORKERS"`
	// 单个模型连续失败多少次后熔断，0 表示不启用熔断
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断后多久放行试探请求
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// CacheConfig 缓存层配置
type CacheConfig struct {
	// 模糊匹配阈值（Jaccard）
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" env:"FUZZY_THRESHOLD"`
	// 语义匹配阈值（余弦）
	SemanticThreshold float64 `yaml:"semantic_threshold" env:"SEMANTIC_THRESHOLD"`
	// 语义层先行的廉价模糊匹配阈值
	SemanticFuzzyThreshold float64 `yaml:"semantic_fuzzy_threshold" env:"SEMANTIC_FUZZY_THRESHOLD"`
	// 提示词缓存容量
	PromptCacheSize int `yaml:"prompt_cache_size" env:"PROMPT_CACHE_SIZE"`
}

// RetrievalConfig 混合检索配置
type RetrievalConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 返回条数
	Limit int `yaml:"limit" env:"LIMIT"`
	// 最低分数
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`
	// 向量权重
	VectorWeight float64 `yaml:"vector_weight" env:"VECTOR_WEIGHT"`
	// 关键词权重
	KeywordWeight float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	// 检索超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 上下文 Token 上限
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	// 启动时导入的知识库目录，为空则不导入
	KnowledgeDir string `yaml:"knowledge_dir" env:"KNOWLEDGE_DIR"`
	// 知识库实现: memory | qdrant
	Store string `yaml:"store" env:"STORE"`
	// Qdrant REST 地址
	QdrantURL string `yaml:"qdrant_url" env:"QDRANT_URL"`
	// Qdrant API Key
	QdrantAPIKey string `yaml:"qdrant_api_key" env:"QDRANT_API_KEY"`
}

// PrefetchConfig 预取配置
type PrefetchConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 预测调用使用的模型
	Model string `yaml:"model" env:"MODEL"`
	// 预测调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 预测调用每秒上限
	PredictRPS float64 `yaml:"predict_rps" env:"PREDICT_RPS"`
}

// TiersConfig 各订阅等级的限额
type TiersConfig struct {
	// 限额文件路径（可热加载）
	File string `yaml:"file" env:"FILE"`
	// 免费版
	Free TierLimitsConfig `yaml:"free" env:"FREE"`
	// 专业版
	Pro TierLimitsConfig `yaml:"pro" env:"PRO"`
	// 企业版
	Enterprise TierLimitsConfig `yaml:"enterprise" env:"ENTERPRISE"`
}

// TierLimitsConfig 单个等级的限额
type TierLimitsConfig struct {
	DailyBudgetUnits   float64 `yaml:"daily_budget_units" env:"DAILY_BUDGET_UNITS"`
	MaxSessionMessages int     `yaml:"max_session_messages" env:"MAX_SESSION_MESSAGES"`
	MaxSessions        int     `yaml:"max_sessions" env:"MAX_SESSIONS"`
	SemanticCacheLimit int     `yaml:"semantic_cache_limit" env:"SEMANTIC_CACHE_LIMIT"`
	ResponseCacheLimit int     `yaml:"response_cache_limit" env:"RESPONSE_CACHE_LIMIT"`
	PrefetchEnabled    bool    `yaml:"prefetch_enabled" env:"PREFETCH_ENABLED"`
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HMAC 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RSA 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 签发者
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 受众
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 滚动日志文件（为空时不写文件）
	File string `yaml:"file" env:"FILE"`
	// 单个文件最大 MB
	MaxSizeMB int `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	// 保留的旧文件数
	MaxBackups int `yaml:"max_backups" env:"MAX_BACKUPS"`
	// 保留天数
	MaxAgeDays int `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "INFERFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 等级限额文件优先于主配置中的 tiers 段
	if cfg.Tiers.File != "" {
		tiers, err := LoadTiersFile(cfg.Tiers.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load tiers file: %w", err)
		}
		tiers.File = cfg.Tiers.File
		cfg.Tiers = *tiers
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadTiersFile 读取独立的等级限额文件，缺失的等级沿用默认值
func LoadTiersFile(path string) (*TiersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiers file: %w", err)
	}

	tiers := DefaultTiersConfig()
	if err := yaml.Unmarshal(data, &tiers); err != nil {
		return nil, fmt.Errorf("failed to parse tiers file: %w", err)
	}
	return &tiers, nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 需要按时长解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	switch c.Routing.BudgetPolicy {
	case "soft", "hard":
	default:
		errs = append(errs, "budget_policy must be soft or hard")
	}
	if c.Routing.MaxAttempts <= 0 {
		errs = append(errs, "max_attempts must be positive")
	}

	if c.Cache.FuzzyThreshold <= 0 || c.Cache.FuzzyThreshold > 1 {
		errs = append(errs, "fuzzy_threshold must be in (0, 1]")
	}
	if c.Cache.SemanticThreshold <= 0 || c.Cache.SemanticThreshold > 1 {
		errs = append(errs, "semantic_threshold must be in (0, 1]")
	}

	if c.Retrieval.VectorWeight < 0 || c.Retrieval.KeywordWeight < 0 {
		errs = append(errs, "retrieval weights must not be negative")
	}
	switch c.Retrieval.Store {
	case "", "memory", "qdrant":
	default:
		errs = append(errs, "retrieval store must be memory or qdrant")
	}

	for name, t := range map[string]TierLimitsConfig{
		"free": c.Tiers.Free, "pro": c.Tiers.Pro, "enterprise": c.Tiers.Enterprise,
	} {
		if t.ResponseCacheLimit <= 0 || t.SemanticCacheLimit <= 0 {
			errs = append(errs, fmt.Sprintf("tier %s cache limits must be positive", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// MigrationURL 返回 golang-migrate 使用的连接串
func (d *DatabaseConfig) MigrationURL() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return fmt.Sprintf("file:%s?mode=rwc", d.Name)
	default:
		return ""
	}
}
