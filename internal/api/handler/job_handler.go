package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"

	"job-board-go/internal/config"
	"job-board-go/internal/logger"
	"job-board-go/internal/storage"
	"job-board-go/internal/storage/models"
)

// JobHandler 负责岗位的发布与查询
type JobHandler struct {
	cfg     *config.Config
	storage *storage.Storage
}

// NewJobHandler 创建岗位处理器
func NewJobHandler(cfg *config.Config, storage *storage.Storage) *JobHandler {
	return &JobHandler{
		cfg:     cfg,
		storage: storage,
	}
}

// JobRequest 岗位创建与更新的请求体
type JobRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
	Location     string `json:"location"`
	SalaryRange  string `json:"salary_range"`
	Status       string `json:"status"`
}

// HandleListJobs 列出岗位，公开访问只返回在招岗位
func (h *JobHandler) HandleListJobs(ctx context.Context, c *app.RequestContext) {
	// HR中间件会在上下文里放入标记，带标记时可以看到全部岗位
	_, isHR := c.Get("hr_key")
	onlyActive := !isHR || c.Query("all") != "true"

	jobs, err := h.storage.MySQL.ListJobs(ctx, onlyActive)
	if err != nil {
		logger.Error().Err(err).Msg("查询岗位列表失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询岗位列表失败"})
		return
	}

	c.JSON(consts.StatusOK, utils.H{"jobs": jobs, "total": len(jobs)})
}

// HandleGetJob 查询单个岗位
func (h *JobHandler) HandleGetJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	job, err := h.storage.MySQL.FindJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
			return
		}
		logger.Error().Err(err).Str("job_id", jobID).Msg("查询岗位失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询岗位失败"})
		return
	}

	c.JSON(consts.StatusOK, job)
}

// HandleCreateJob 创建岗位，仅HR可调用
func (h *JobHandler) HandleCreateJob(ctx context.Context, c *app.RequestContext) {
	var req JobRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "岗位标题不能为空"})
		return
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "生成岗位ID失败"})
		return
	}

	job := &models.Job{
		JobID:        uuidV7.String(),
		Title:        req.Title,
		Description:  req.Description,
		Requirements: req.Requirements,
		Location:     req.Location,
		SalaryRange:  req.SalaryRange,
		Status:       models.JobStatusActive,
	}
	if req.Status == models.JobStatusClosed {
		job.Status = models.JobStatusClosed
	}

	if err := h.storage.MySQL.CreateJob(ctx, job); err != nil {
		logger.Error().Err(err).Str("title", req.Title).Msg("创建岗位失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "创建岗位失败"})
		return
	}

	logger.Info().Str("job_id", job.JobID).Str("title", job.Title).Msg("岗位已创建")
	c.JSON(consts.StatusCreated, job)
}

// HandleUpdateJob 更新岗位，仅HR可调用
func (h *JobHandler) HandleUpdateJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	job, err := h.storage.MySQL.FindJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
			return
		}
		logger.Error().Err(err).Str("job_id", jobID).Msg("查询岗位失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询岗位失败"})
		return
	}

	var req JobRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}

	if req.Title != "" {
		job.Title = req.Title
	}
	if req.Description != "" {
		job.Description = req.Description
	}
	if req.Requirements != "" {
		job.Requirements = req.Requirements
	}
	if req.Location != "" {
		job.Location = req.Location
	}
	if req.SalaryRange != "" {
		job.SalaryRange = req.SalaryRange
	}
	if req.Status != "" {
		if req.Status != models.JobStatusActive && req.Status != models.JobStatusClosed {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "无效的岗位状态"})
			return
		}
		job.Status = req.Status
	}

	if err := h.storage.MySQL.UpdateJob(ctx, job); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("更新岗位失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "更新岗位失败"})
		return
	}

	c.JSON(consts.StatusOK, job)
}

// HandleDeleteJob 删除岗位，仅HR可调用。
// 已删除岗位的在途申请会在评估阶段被拒绝。
func (h *JobHandler) HandleDeleteJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	deleted, err := h.storage.MySQL.DeleteJob(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("删除岗位失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "删除岗位失败"})
		return
	}
	if !deleted {
		c.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
		return
	}

	logger.Info().Str("job_id", jobID).Msg("岗位已删除")
	c.JSON(consts.StatusOK, utils.H{"deleted": true})
}
