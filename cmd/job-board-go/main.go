package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/pflag"

	"job-board-go/internal/api/handler"
	"job-board-go/internal/api/router"
	"job-board-go/internal/config"
	"job-board-go/internal/evaluator"
	"job-board-go/internal/logger"
	"job-board-go/internal/queue"
	"job-board-go/internal/storage"
)

func main() {
	var configPath string
	var addr string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.StringVarP(&addr, "addr", "a", "", "Listen address, overrides config")
	pflag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	initLogger(cfg)
	logger.Info().Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 初始化存储管理器
	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	logger.Info().Msg("存储服务初始化成功")

	// 3. 初始化AI评估器
	var evaluatorOpts []evaluator.OpenAIEvaluatorOption
	if cfg.OpenAI.RequestsPerMinute > 0 {
		evaluatorOpts = append(evaluatorOpts,
			evaluator.WithRateLimiter(evaluator.NewRateLimiter(cfg.OpenAI.RequestsPerMinute, 0)))
	}
	aiEvaluator, err := evaluator.NewOpenAIEvaluator(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.APIURL,
		cfg.OpenAI.FilesAPIURL,
		evaluatorOpts...,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化AI评估器失败")
	}
	logger.Info().Str("model", cfg.OpenAI.Model).Msg("AI评估器初始化成功")

	// 4. 初始化评估队列并启动工作协程
	queueOpts := []queue.Option{
		queue.WithThreshold(cfg.OpenAI.ScoreThreshold),
		queue.WithEvaluateTimeout(time.Duration(cfg.OpenAI.EvaluateTimeoutSeconds) * time.Second),
		queue.WithCapacity(cfg.Queue.Capacity),
	}
	if storageManager.RabbitMQ != nil {
		queueOpts = append(queueOpts, queue.WithEventPublisher(storageManager.RabbitMQ))
	}
	evalQueue, err := queue.NewEvaluationQueue(storageManager.MySQL, aiEvaluator, queueOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化评估队列失败")
	}
	evalQueue.Start(ctx)
	logger.Info().
		Int("threshold", cfg.OpenAI.ScoreThreshold).
		Int("capacity", cfg.Queue.Capacity).
		Msg("评估队列已启动")

	// 5. 初始化业务处理器
	applicationHandler := handler.NewApplicationHandler(cfg, storageManager, aiEvaluator, evalQueue)
	jobHandler := handler.NewJobHandler(cfg, storageManager)
	hrHandler := handler.NewHRHandler(cfg, storageManager)

	// 6. 创建HTTP服务器并注册路由
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		glog.CtxInfof(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
		ctx.Next(c)
		glog.CtxInfof(c, "Response: status %d", ctx.Response.StatusCode())
	})
	router.RegisterRoutes(h, cfg, applicationHandler, jobHandler, hrHandler, evalQueue)
	logger.Info().Msg("HTTP路由注册成功")

	logger.Info().Str("addr", cfg.Server.Address).Msg("HTTP服务器启动中")
	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	// 7. 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出...")

	// 先关HTTP入口，再等队列把手头的条目处理完
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
	}

	evalQueue.Stop()
	if remaining := evalQueue.Size(); remaining > 0 {
		logger.Warn().Int("remaining", remaining).Msg("队列中仍有未处理的申请，状态保持pending")
	}
	logger.Info().Msg("优雅退出完成")
}

// initLogger 初始化日志系统并接管Hertz的日志输出
func initLogger(cfg *config.Config) {
	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	logger.Logger = logger.Logger.With().
		Str("app", "job-board-go").
		Logger()

	hertzCompatibleLogger := hertzadapter.From(logger.Logger)
	glog.SetLogger(hertzCompatibleLogger)
}
