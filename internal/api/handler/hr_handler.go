package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"job-board-go/internal/config"
	"job-board-go/internal/logger"
	"job-board-go/internal/storage"
	"job-board-go/internal/storage/models"
	"job-board-go/internal/types"
)

// 简历下载链接的有效期
const resumeURLExpiry = 15 * time.Minute

// HRHandler 负责HR侧的申请管理
type HRHandler struct {
	cfg     *config.Config
	storage *storage.Storage
}

// NewHRHandler 创建HR处理器
func NewHRHandler(cfg *config.Config, storage *storage.Storage) *HRHandler {
	return &HRHandler{
		cfg:     cfg,
		storage: storage,
	}
}

// HRApplicationView HR视角的申请信息，包含评分明细
type HRApplicationView struct {
	ApplicationID string     `json:"application_id"`
	JobID         string     `json:"job_id"`
	JobTitle      string     `json:"job_title,omitempty"`
	FullName      string     `json:"full_name"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	Status        string     `json:"status"`
	AIScore       *int       `json:"ai_score,omitempty"`
	AIFeedback    string     `json:"ai_feedback,omitempty"`
	ResumeURL     string     `json:"resume_url,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	EvaluatedAt   *time.Time `json:"evaluated_at,omitempty"`
}

// HandleListApplications 按状态和岗位过滤申请列表
func (h *HRHandler) HandleListApplications(ctx context.Context, c *app.RequestContext) {
	var status types.ApplicationStatus
	if statusStr := c.Query("status"); statusStr != "" {
		parsed, err := types.ParseStatus(statusStr)
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "无效的状态过滤条件"})
			return
		}
		status = parsed
	}
	jobID := c.Query("job_id")

	apps, err := h.storage.MySQL.ListApplications(ctx, status, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("查询申请列表失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询申请列表失败"})
		return
	}

	views := make([]HRApplicationView, 0, len(apps))
	for i := range apps {
		views = append(views, h.toHRView(ctx, &apps[i], false))
	}
	c.JSON(consts.StatusOK, utils.H{"applications": views, "total": len(views)})
}

// HandleGetApplicationDetail 申请详情，附带简历下载链接
func (h *HRHandler) HandleGetApplicationDetail(ctx context.Context, c *app.RequestContext) {
	applicationID := c.Param("application_id")

	app, err := h.storage.MySQL.FindApplicationByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "申请不存在"})
			return
		}
		logger.Error().Err(err).Str("application_id", applicationID).Msg("查询申请失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询申请失败"})
		return
	}

	view := h.toHRView(ctx, app, true)
	if view.ResumeURL == "" && app.ResumePath != "" {
		logger.Warn().Str("application_id", applicationID).Msg("生成简历下载链接失败")
	}
	c.JSON(consts.StatusOK, view)
}

// StatusOverrideRequest HR人工覆写状态的请求体
type StatusOverrideRequest struct {
	Status string `json:"status"`
}

// HandleOverrideStatus HR人工覆写申请状态。
// 状态值必须是已知枚举之一，非法值在落库前被拒绝。
func (h *HRHandler) HandleOverrideStatus(ctx context.Context, c *app.RequestContext) {
	applicationID := c.Param("application_id")

	var req StatusOverrideRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}

	status, err := types.ParseStatus(req.Status)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "无效的申请状态: " + req.Status})
		return
	}

	if err := h.storage.MySQL.SetStatus(ctx, applicationID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "申请不存在"})
			return
		}
		logger.Error().Err(err).Str("application_id", applicationID).Msg("覆写申请状态失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "覆写申请状态失败"})
		return
	}

	logger.Info().
		Str("application_id", applicationID).
		Str("status", status.String()).
		Msg("HR已覆写申请状态")
	c.JSON(consts.StatusOK, utils.H{"application_id": applicationID, "status": status.String()})
}

// DashboardStats HR看板统计
type DashboardStats struct {
	TotalApplications int64            `json:"total_applications"`
	ByStatus          map[string]int64 `json:"by_status"`
	TotalJobs         int64            `json:"total_jobs"`
	ActiveJobs        int64            `json:"active_jobs"`
	AverageAIScore    *float64         `json:"average_ai_score,omitempty"`
}

// HandleStats HR看板统计，结果在Redis里短暂缓存
func (h *HRHandler) HandleStats(ctx context.Context, c *app.RequestContext) {
	if h.storage.Redis != nil {
		if cached, ok, err := h.storage.Redis.GetCachedStats(ctx); err != nil {
			logger.Warn().Err(err).Msg("读取统计缓存失败")
		} else if ok {
			var stats DashboardStats
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				c.JSON(consts.StatusOK, stats)
				return
			}
		}
	}

	statusCounts, err := h.storage.MySQL.StatusCounts(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("统计申请状态失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "统计申请状态失败"})
		return
	}

	totalJobs, activeJobs, err := h.storage.MySQL.JobCounts(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("统计岗位数量失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "统计岗位数量失败"})
		return
	}

	avgScore, err := h.storage.MySQL.AverageAIScore(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("统计平均分失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "统计平均分失败"})
		return
	}

	stats := DashboardStats{
		ByStatus:       make(map[string]int64, len(statusCounts)),
		TotalJobs:      totalJobs,
		ActiveJobs:     activeJobs,
		AverageAIScore: avgScore,
	}
	for status, count := range statusCounts {
		stats.ByStatus[status.String()] = count
		stats.TotalApplications += count
	}

	if h.storage.Redis != nil {
		if data, err := json.Marshal(stats); err == nil {
			if err := h.storage.Redis.SetCachedStats(ctx, string(data)); err != nil {
				logger.Warn().Err(err).Msg("写入统计缓存失败")
			}
		}
	}

	c.JSON(consts.StatusOK, stats)
}

// toHRView 组装HR视角的申请视图，withResumeURL为真时生成预签名下载链接
func (h *HRHandler) toHRView(ctx context.Context, app *models.Application, withResumeURL bool) HRApplicationView {
	view := HRApplicationView{
		ApplicationID: app.ApplicationID,
		JobID:         app.JobID,
		FullName:      app.FullName,
		Email:         app.Email,
		Phone:         app.Phone,
		Status:        app.Status.String(),
		AIScore:       app.AIScore,
		AIFeedback:    app.AIFeedback,
		CreatedAt:     app.CreatedAt,
		EvaluatedAt:   app.EvaluatedAt,
	}
	if app.Job != nil {
		view.JobTitle = app.Job.Title
	}
	if withResumeURL && h.storage.MinIO != nil && app.ResumePath != "" {
		url, err := h.storage.MinIO.GetPresignedURL(ctx, app.ResumePath, resumeURLExpiry)
		if err == nil {
			view.ResumeURL = url
		}
	}
	return view
}
