// =============================================================================
// InferFlow 主入口
// =============================================================================
// 使用方法:
//
//	inferflow serve                       # 启动服务
//	inferflow serve --config config.yaml  # 指定配置文件
//	inferflow version                     # 显示版本信息
//	inferflow health                      # 健康检查
//	inferflow migrate up                  # 运行数据库迁移
//	inferflow migrate down                # 回滚最后一次迁移
//	inferflow migrate status              # 查看迁移状态
// =============================================================================

// @title InferFlow API
// @version 1.0.0
// @description 按用户等级路由 LLM 请求：多层缓存、混合检索与模型回退。

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/config"
	"github.com/BaSui01/inferflow/internal/metrics"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// envPrefix 环境变量前缀，例如 INFERFLOW_SERVER_HTTP_PORT
const envPrefix = "INFERFLOW"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "inferflow",
		Short:         "Adaptive inference routing, caching and retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	load := func() (*config.Config, error) {
		return loadConfig(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newVersionCmd(),
		newHealthCmd(),
	)
	return root
}

// loadConfig 默认值 → YAML → 环境变量 → 校验
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix(envPrefix)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the routing API and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting InferFlow",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if migrate {
				if err := runMigrations(ctx, cfg.Database, logger); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			srv := NewServer(cfg, metrics.NewCollector(metricsNamespace, logger), logger)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := srv.Close(closeCtx); err != nil {
					logger.Error("shutdown error", zap.Error(err))
				}
				logger.Info("InferFlow stopped")
			}()

			if err := srv.Init(ctx); err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending database migrations before serving")
	return cmd
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func newHealthCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a running server's /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: status %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server address")
	return cmd
}

// =============================================================================
// 📋 版本
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "InferFlow %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}
