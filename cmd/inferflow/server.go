package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/inferflow/api/handlers"
	"github.com/BaSui01/inferflow/config"
	"github.com/BaSui01/inferflow/internal/cache"
	"github.com/BaSui01/inferflow/internal/database"
	"github.com/BaSui01/inferflow/internal/metrics"
	"github.com/BaSui01/inferflow/internal/migration"
	"github.com/BaSui01/inferflow/internal/pool"
	"github.com/BaSui01/inferflow/internal/server"
	"github.com/BaSui01/inferflow/internal/telemetry"
	"github.com/BaSui01/inferflow/llm"
	"github.com/BaSui01/inferflow/llm/budget"
	"github.com/BaSui01/inferflow/llm/circuitbreaker"
	"github.com/BaSui01/inferflow/llm/embedding"
	"github.com/BaSui01/inferflow/llm/feedback"
	"github.com/BaSui01/inferflow/llm/prefetch"
	"github.com/BaSui01/inferflow/llm/providers/openaicompat"
	"github.com/BaSui01/inferflow/llm/router"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/llm/tokenizer"
	"github.com/BaSui01/inferflow/pipeline"
	"github.com/BaSui01/inferflow/rag"
	"github.com/BaSui01/inferflow/rag/loader"
)

// metricsNamespace Prometheus 指标前缀
const metricsNamespace = "inferflow"

// skipAuthPaths 不经过 JWT 校验的探针路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装路由管线及其依赖，持有需要按序关闭的资源
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	otel      *telemetry.Providers

	db      *gorm.DB
	dbPool  *database.PoolManager
	redis   *cache.Manager
	watcher *config.TierWatcher
	workers *pool.GoroutinePool

	provider llm.Provider
	pipeline *pipeline.Pipeline
	health   *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建服务器，collector 由调用方创建（进程内只能注册一次）
func NewServer(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, collector: collector, logger: logger}
}

// =============================================================================
// 🚀 初始化
// =============================================================================

// Init 按依赖顺序初始化全部组件，失败时已创建的资源由 Close 回收
func (s *Server) Init(ctx context.Context) error {
	if Version != "dev" {
		telemetry.Version = Version
	}
	otel, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otel

	if err := s.initDatabase(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	limits := tier.NewConfigLimits(s.cfg.Tiers)
	if err := s.initTierWatcher(ctx, limits); err != nil {
		return fmt.Errorf("init tier watcher: %w", err)
	}

	users := tier.NewGormUserStore(s.db)
	gate := tier.NewGate(users, limits, s.logger)
	feedbackStore := feedback.NewGormStore(s.db)
	prices := router.DefaultPriceTable()
	selector := router.NewModelSelector(feedbackStore,
		router.WithTierResolver(gate),
		router.WithPriceTable(prices),
		router.WithAggregateTimeout(s.cfg.Routing.FeedbackTimeout),
		router.WithLogger(s.logger),
	)

	s.provider = s.newProvider()

	tracker, err := s.initBudgetTracker()
	if err != nil {
		return fmt.Errorf("init budget tracker: %w", err)
	}

	workerCfg := pool.DefaultGoroutinePoolConfig()
	if s.cfg.Routing.BackgroundWorkers > 0 {
		workerCfg.MaxWorkers = s.cfg.Routing.BackgroundWorkers
	}
	workerCfg.TaskTimeout = s.cfg.Routing.BackgroundTimeout
	s.workers = pool.NewGoroutinePool(workerCfg,
		pool.WithLogger(s.logger),
		pool.WithCompletionHook(s.collector.RecordBackgroundTask),
	)

	embedder := s.newEmbedder()

	opts := []pipeline.Option{
		pipeline.WithConfig(s.pipelineConfig()),
		pipeline.WithFeedbackStore(feedbackStore),
		pipeline.WithUserStore(users),
		pipeline.WithBudgetTracker(tracker),
		pipeline.WithEmbedder(embedder),
		pipeline.WithBudgeter(tokenizer.NewBudgeter(
			tokenizer.NewTiktokenCounter(tier.DefaultModel(tier.TierFree)), s.logger)),
		pipeline.WithPriceTable(prices),
		pipeline.WithSpawner(s.workers),
		pipeline.WithMetrics(s.collector),
		pipeline.WithLogger(s.logger),
	}

	if s.cfg.Retrieval.Enabled {
		retriever, err := s.initRetriever(ctx, embedder)
		if err != nil {
			return fmt.Errorf("init retriever: %w", err)
		}
		opts = append(opts, pipeline.WithRetriever(retriever))
	}

	if s.cfg.Prefetch.Enabled {
		opts = append(opts, pipeline.WithPrefetcher(prefetch.New(
			prefetch.WithProvider(s.provider, s.cfg.Prefetch.Model),
			prefetch.WithTimeout(s.cfg.Prefetch.Timeout),
			prefetch.WithRateLimit(s.cfg.Prefetch.PredictRPS, 1),
			prefetch.WithSpawner(s.workers),
			prefetch.WithLimits(gate.Limits),
			prefetch.WithPlaceholderHook(func(t tier.Tier, n int) {
				s.collector.RecordPrefetch(t.String(), n)
			}),
			prefetch.WithLogger(s.logger),
		)))
	}

	p, err := pipeline.New(gate, selector, s.provider, opts...)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	s.pipeline = p

	s.initHealthChecks()
	return nil
}

// initDatabase 打开连接并挂载查询耗时与连接池指标
func (s *Server) initDatabase() error {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	s.db = db

	driver := s.cfg.Database.Driver
	if err := database.RegisterQueryMetrics(db, func(op string, d time.Duration) {
		s.collector.RecordDBQuery(driver, op, d)
	}); err != nil {
		return err
	}

	pc := database.PoolConfigFrom(s.cfg.Database)
	pc.StatsHook = func(open, idle int) {
		s.collector.RecordDBConnections(driver, open, idle)
	}
	pm, err := database.NewPoolManager(db, pc, s.logger)
	if err != nil {
		return err
	}
	s.dbPool = pm
	return nil
}

// initTierWatcher 配置了等级文件时监听变更并热更新限额
func (s *Server) initTierWatcher(ctx context.Context, limits *tier.ConfigLimits) error {
	if s.cfg.Tiers.File == "" {
		return nil
	}
	w, err := config.NewTierWatcher(s.cfg.Tiers.File, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnReload(func(tc config.TiersConfig) {
		limits.Update(tc)
		resized := 0
		if s.pipeline != nil {
			resized = s.pipeline.ReloadLimits()
		}
		s.logger.Info("tier limits reloaded",
			zap.String("file", s.cfg.Tiers.File),
			zap.Int("scopes_resized", resized))
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// initBudgetTracker Redis 可用时共享计数，否则落库
func (s *Server) initBudgetTracker() (*budget.Tracker, error) {
	var counter budget.UsageCounter
	if s.cfg.Redis.Enabled {
		rc := cache.DefaultConfig()
		rc.Addr = s.cfg.Redis.Addr
		rc.Password = s.cfg.Redis.Password
		rc.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			rc.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			rc.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		m, err := cache.NewManager(rc, s.logger)
		if err != nil {
			return nil, err
		}
		s.redis = m
		counter = budget.NewRedisUsageCounter(m)
	} else {
		counter = budget.NewGormUsageCounter(s.db)
	}

	tracker := budget.NewTracker(counter, s.logger)
	tracker.OnAlert(func(a budget.Alert) {
		s.logger.Warn("daily budget threshold reached",
			zap.String("user_id", a.UserID),
			zap.String("category", a.Category),
			zap.Float64("used", a.Used),
			zap.Float64("limit", a.Limit))
	})
	return tracker, nil
}

// newProvider 上游 OpenAI 兼容接口，按模型熔断
func (s *Server) newProvider() llm.Provider {
	var p llm.Provider = openaicompat.New(openaicompat.Config{
		ProviderName: s.cfg.LLM.Provider,
		APIKey:       s.cfg.LLM.APIKey,
		BaseURL:      s.cfg.LLM.BaseURL,
		DefaultModel: tier.DefaultModel(tier.TierFree),
		Timeout:      s.cfg.LLM.Timeout,
	}, s.logger)
	if s.cfg.Routing.BreakerThreshold <= 0 {
		return p
	}
	return circuitbreaker.WrapProvider(p, circuitbreaker.Config{
		Threshold:    s.cfg.Routing.BreakerThreshold,
		ResetTimeout: s.cfg.Routing.BreakerResetTimeout,
		OnStateChange: func(model string, _, to circuitbreaker.State) {
			s.collector.SetBreakerState(model, int(to))
		},
	}, s.logger)
}

func (s *Server) newEmbedder() *embedding.Embedder {
	var primary embedding.Provider
	if s.cfg.Embedding.Enabled {
		primary = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:     s.cfg.Embedding.APIKey,
			BaseURL:    s.cfg.Embedding.BaseURL,
			Model:      s.cfg.Embedding.Model,
			Dimensions: s.cfg.Embedding.Dimensions,
			Timeout:    s.cfg.Embedding.Timeout,
		})
	}
	return embedding.NewEmbedder(primary,
		embedding.WithTimeout(s.cfg.Embedding.Timeout),
		embedding.WithLogger(s.logger))
}

// initRetriever 选择知识库并导入本地知识目录
func (s *Server) initRetriever(ctx context.Context, embedder *embedding.Embedder) (*rag.HybridRetriever, error) {
	rc := s.cfg.Retrieval

	var (
		store rag.KnowledgeStore
		sink  loader.Sink
	)
	switch rc.Store {
	case "qdrant":
		qs := rag.NewQdrantKnowledgeStore(rag.QdrantConfig{
			BaseURL: rc.QdrantURL,
			APIKey:  rc.QdrantAPIKey,
			Timeout: rc.Timeout,
		}, s.logger)
		store, sink = qs, &qdrantSink{ctx: ctx, store: qs}
	default:
		ms := rag.NewMemoryKnowledgeStore()
		store, sink = ms, ms
	}

	if rc.KnowledgeDir != "" {
		if _, err := os.Stat(rc.KnowledgeDir); err == nil {
			stats, err := loader.Ingest(ctx, rc.KnowledgeDir, sink, embedder, s.logger)
			if err != nil {
				return nil, err
			}
			s.logger.Info("knowledge ingested",
				zap.String("dir", rc.KnowledgeDir),
				zap.Int("files", stats.Files),
				zap.Int("documents", stats.Documents))
		} else {
			s.logger.Warn("knowledge directory not found, retrieval starts empty",
				zap.String("dir", rc.KnowledgeDir))
		}
	}

	defaults := rag.DefaultSearchOptions()
	if rc.Limit > 0 {
		defaults.Limit = rc.Limit
	}
	if rc.Threshold > 0 {
		defaults.Threshold = rc.Threshold
	}
	if rc.VectorWeight > 0 || rc.KeywordWeight > 0 {
		defaults.VectorWeight = rc.VectorWeight
		defaults.KeywordWeight = rc.KeywordWeight
	}
	return rag.NewHybridRetriever(store, embedder,
		rag.WithSearchDefaults(defaults),
		rag.WithRetrievalTimeout(rc.Timeout),
		rag.WithRetrieverLogger(s.logger),
	), nil
}

// qdrantSink 将导入批次写入 Qdrant
type qdrantSink struct {
	ctx   context.Context
	store *rag.QdrantKnowledgeStore
}

func (q *qdrantSink) Add(partition string, docs ...rag.Document) error {
	return q.store.Upsert(q.ctx, partition, docs)
}

func (s *Server) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		MaxAttempts:       s.cfg.Routing.MaxAttempts,
		BudgetPolicy:      pipeline.ParseBudgetPolicy(s.cfg.Routing.BudgetPolicy),
		FuzzyThreshold:    s.cfg.Cache.FuzzyThreshold,
		SemanticThreshold: s.cfg.Cache.SemanticThreshold,
		SemanticPrecheck:  s.cfg.Cache.SemanticFuzzyThreshold,
		MaxContextTokens:  s.cfg.Retrieval.MaxContextTokens,
		MaxTokens:         s.cfg.LLM.MaxTokens,
		Temperature:       float32(s.cfg.LLM.Temperature),
		ModelTimeout:      s.cfg.LLM.Timeout,
		BackgroundTimeout: s.cfg.Routing.BackgroundTimeout,
		PromptCacheSize:   s.cfg.Cache.PromptCacheSize,
	}
}

func (s *Server) initHealthChecks() {
	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewFuncCheck("database", s.dbPool.Ping))
	if s.redis != nil {
		s.health.RegisterCheck(handlers.NewFuncCheck("redis", s.redis.Ping))
	}
	s.health.RegisterCheck(handlers.NewProviderHealthCheck(s.provider))
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

// Handler 构建 API 路由与中间件链
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	)
	if s.cfg.JWT.Enabled {
		r.Use(JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	}
	r.Use(RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))

	r.Get("/health", s.health.HandleHealth)
	r.Get("/healthz", s.health.HandleHealthz)
	r.Get("/ready", s.health.HandleReady)
	r.Get("/readyz", s.health.HandleReady)
	r.Get("/version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewRoutingHandler(s.pipeline, s.logger).
		WithDefaultPriority(router.ParsePriority(s.cfg.Routing.DefaultPriority)).
		WithTrustedClientUserID(s.cfg.Server.TrustClientUserID && !s.cfg.JWT.Enabled).
		Register(r)
	return r
}

// Run 启动 API 与指标服务，阻塞到 ctx 取消或任一服务出错
func (s *Server) Run(ctx context.Context) error {
	s.httpManager = server.NewManager(s.Handler(ctx),
		server.FromServerConfig(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux,
		server.FromServerConfig(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)

	s.logger.Info("InferFlow started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("retrieval", s.cfg.Retrieval.Enabled),
		zap.Bool("prefetch", s.cfg.Prefetch.Enabled))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })
	return g.Wait()
}

// =============================================================================
// 🛑 关闭
// =============================================================================

// Close 先停后台任务，再释放存储与遥测
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.workers != nil {
		s.workers.Close()
	}
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("tier watcher: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// runMigrations 启动前执行 up
func runMigrations(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	m, err := migration.NewMigratorFromDatabaseConfig(dbCfg)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(ctx); err != nil {
		return err
	}
	logger.Info("database migrations applied")
	return nil
}
