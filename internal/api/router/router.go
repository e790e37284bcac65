package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"job-board-go/internal/api/handler"
	"job-board-go/internal/config"
	"job-board-go/internal/queue"
)

// RegisterRoutes 注册 API 路由
func RegisterRoutes(
	h *server.Hertz,
	cfg *config.Config,
	applicationHandler *handler.ApplicationHandler,
	jobHandler *handler.JobHandler,
	hrHandler *handler.HRHandler,
	evalQueue *queue.EvaluationQueue,
) {
	api := h.Group("/api/v1")

	// 公开接口
	api.GET("/jobs", jobHandler.HandleListJobs)
	api.GET("/jobs/:job_id", jobHandler.HandleGetJob)
	api.POST("/applications", applicationHandler.HandleSubmitApplication)
	api.GET("/applications/:application_id", applicationHandler.HandleGetApplication)
	api.GET("/applicants/:applicant_id/applications", applicationHandler.HandleListMyApplications)

	// HR接口，API Key认证
	hr := api.Group("/hr", hrAuthMiddleware(cfg))
	hr.GET("/jobs", jobHandler.HandleListJobs)
	hr.POST("/jobs", jobHandler.HandleCreateJob)
	hr.PUT("/jobs/:job_id", jobHandler.HandleUpdateJob)
	hr.DELETE("/jobs/:job_id", jobHandler.HandleDeleteJob)
	hr.GET("/applications", hrHandler.HandleListApplications)
	hr.GET("/applications/:application_id", hrHandler.HandleGetApplicationDetail)
	hr.PATCH("/applications/:application_id/status", hrHandler.HandleOverrideStatus)
	hr.GET("/stats", hrHandler.HandleStats)

	// 健康检查带上队列深度，方便探测积压
	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{
			"status":      "ok",
			"queue_depth": evalQueue.Size(),
			"draining":    evalQueue.IsDraining(),
		})
	})
}

// hrAuthMiddleware HR接口的API Key校验，Key来自配置
func hrAuthMiddleware(cfg *config.Config) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:X-API-Key", ""),
		keyauth.WithContextKey("hr_key"),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			return cfg.Auth.HRAPIKey != "" && key == cfg.Auth.HRAPIKey, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.JSON(consts.StatusUnauthorized, utils.H{"error": "未授权访问"})
			c.Abort()
		}),
	)
}
