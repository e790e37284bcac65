package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"

	"job-board-go/internal/config"
	"job-board-go/internal/constants"
	"job-board-go/internal/evaluator"
	"job-board-go/internal/logger"
	"job-board-go/internal/queue"
	"job-board-go/internal/storage"
	"job-board-go/internal/storage/models"
	"job-board-go/internal/types"
)

// applicationDirectory 申请提交与查询路径依赖的数据库操作
type applicationDirectory interface {
	FindJobByID(ctx context.Context, jobID string) (*models.Job, error)
	CreateApplication(ctx context.Context, app *models.Application) error
	UpdateExternalDocumentID(ctx context.Context, applicationID string, documentID string) error
	FindApplicationByID(ctx context.Context, applicationID string) (*models.Application, error)
	ListApplicationsByApplicant(ctx context.Context, applicantID string) ([]models.Application, error)
}

// resumeObjectStore 简历原件的对象存储
type resumeObjectStore interface {
	UploadResume(ctx context.Context, applicationID, fileExt string, reader io.Reader, fileSize int64) (string, string, error)
}

// resumeDedupIndex 简历文件MD5去重索引
type resumeDedupIndex interface {
	CheckResumeFileMD5Exists(ctx context.Context, md5Hex string) (bool, error)
	AddResumeFileMD5(ctx context.Context, md5Hex string) error
}

// ApplicationHandler 负责申请提交与申请人视角的查询
type ApplicationHandler struct {
	cfg       *config.Config
	db        applicationDirectory
	objects   resumeObjectStore
	dedup     resumeDedupIndex // nil表示去重索引不可用
	events    storage.EventPublisher
	evaluator evaluator.AIEvaluator
	queue     *queue.EvaluationQueue
}

// NewApplicationHandler 创建申请处理器
// 可选的存储组件未初始化时对应能力降级
func NewApplicationHandler(
	cfg *config.Config,
	store *storage.Storage,
	eval evaluator.AIEvaluator,
	evalQueue *queue.EvaluationQueue,
) *ApplicationHandler {
	h := &ApplicationHandler{
		cfg:       cfg,
		evaluator: eval,
		queue:     evalQueue,
	}
	if store != nil {
		if store.MySQL != nil {
			h.db = store.MySQL
		}
		if store.MinIO != nil {
			h.objects = store.MinIO
		}
		if store.Redis != nil {
			h.dedup = store.Redis
		}
		if store.RabbitMQ != nil {
			h.events = store.RabbitMQ
		}
	}
	return h
}

// ApplicationSubmitResponse 申请提交响应
type ApplicationSubmitResponse struct {
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
}

// submittedEvent 申请提交成功后发往事件交换机的消息体
type submittedEvent struct {
	ApplicationID string    `json:"application_id"`
	JobID         string    `json:"job_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// HandleSubmitApplication 处理申请提交请求。
// 流程：校验岗位在招、上传简历到MinIO并做MD5去重、落库、
// 上传简历到评估服务（失败降级）、入队评估、发布提交事件。
func (h *ApplicationHandler) HandleSubmitApplication(ctx context.Context, c *app.RequestContext) {
	jobID := c.PostForm("job_id")
	fullName := strings.TrimSpace(c.PostForm("full_name"))
	email := strings.TrimSpace(c.PostForm("email"))
	phone := strings.TrimSpace(c.PostForm("phone"))
	applicantID := c.PostForm("applicant_id")

	if jobID == "" || fullName == "" || email == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_id、full_name、email为必填项"})
		return
	}

	fileHeader, err := c.FormFile("resume")
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "简历文件未找到"})
		return
	}

	// 1. 岗位必须存在且在招
	job, err := h.db.FindJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
			return
		}
		logger.Error().Err(err).Str("job_id", jobID).Msg("查询岗位失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询岗位失败"})
		return
	}
	if job.Status != models.JobStatusActive {
		c.JSON(consts.StatusConflict, utils.H{"error": "岗位已停止招聘"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	fileBytes, err := io.ReadAll(file)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "读取文件失败"})
		return
	}
	if len(fileBytes) == 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "简历文件为空"})
		return
	}

	// 2. 生成申请ID
	uuidV7, err := uuid.NewV7()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "生成申请ID失败"})
		return
	}
	applicationID := uuidV7.String()

	ext := filepath.Ext(fileHeader.Filename)
	if ext == "" {
		ext = ".pdf"
	}

	// 3. 上传原始简历到MinIO，顺带得到文件MD5
	objectKey, fileMD5Hex, err := h.objects.UploadResume(
		ctx, applicationID, ext, bytes.NewReader(fileBytes), int64(len(fileBytes)))
	if err != nil {
		logger.Error().Err(err).Str("application_id", applicationID).Msg("上传简历到MinIO失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "上传简历失败"})
		return
	}

	// MD5记录只用于重复提交的观测，Redis不可用时直接跳过
	if h.dedup != nil {
		duplicate, checkErr := h.dedup.CheckResumeFileMD5Exists(ctx, fileMD5Hex)
		if checkErr != nil {
			logger.Warn().Err(checkErr).Str("md5", fileMD5Hex).Msg("查询简历MD5记录失败")
		} else if duplicate {
			logger.Info().
				Str("md5", fileMD5Hex).
				Str("application_id", applicationID).
				Msg("检测到重复的简历文件，仍按新申请处理")
		}
		if addErr := h.dedup.AddResumeFileMD5(ctx, fileMD5Hex); addErr != nil {
			logger.Warn().Err(addErr).Str("md5", fileMD5Hex).Msg("写入简历MD5记录失败")
		}
	}

	// 4. 落库，初始状态pending
	application := &models.Application{
		ApplicationID: applicationID,
		JobID:         jobID,
		FullName:      fullName,
		Email:         email,
		Phone:         phone,
		ResumePath:    objectKey,
		Status:        types.StatusPending,
	}
	if applicantID != "" {
		application.ApplicantID = &applicantID
	}
	if err := h.db.CreateApplication(ctx, application); err != nil {
		logger.Error().Err(err).Str("application_id", applicationID).Msg("创建申请记录失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "创建申请记录失败"})
		return
	}

	// 5. 上传简历到评估服务。失败不阻断提交：
	// 文档引用缺失的申请会在评估阶段按失败话术拒绝。
	documentID, uploadErr := h.evaluator.UploadDocument(ctx, bytes.NewReader(fileBytes), fileHeader.Filename)
	if uploadErr != nil {
		logger.Warn().Err(uploadErr).
			Str("application_id", applicationID).
			Msg("上传简历到评估服务失败，申请将按评估失败处理")
	} else if err := h.db.UpdateExternalDocumentID(ctx, applicationID, documentID); err != nil {
		logger.Error().Err(err).Str("application_id", applicationID).Msg("记录评估文档ID失败")
	}

	// 6. 入队评估
	if err := h.queue.Enqueue(applicationID); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "系统繁忙，请稍后重试"})
			return
		}
		logger.Error().Err(err).Str("application_id", applicationID).Msg("申请入队失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "申请入队失败"})
		return
	}

	h.publishSubmitted(ctx, applicationID, jobID)

	c.JSON(consts.StatusCreated, ApplicationSubmitResponse{
		ApplicationID: applicationID,
		Status:        types.StatusPending.String(),
	})
}

// ApplicationView 申请人视角的申请信息
type ApplicationView struct {
	ApplicationID string     `json:"application_id"`
	JobID         string     `json:"job_id"`
	JobTitle      string     `json:"job_title,omitempty"`
	Status        string     `json:"status"`
	AIFeedback    string     `json:"feedback,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	EvaluatedAt   *time.Time `json:"evaluated_at,omitempty"`
}

// HandleGetApplication 查询单个申请的当前状态
func (h *ApplicationHandler) HandleGetApplication(ctx context.Context, c *app.RequestContext) {
	applicationID := c.Param("application_id")

	app, err := h.db.FindApplicationByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "申请不存在"})
			return
		}
		logger.Error().Err(err).Str("application_id", applicationID).Msg("查询申请失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询申请失败"})
		return
	}

	c.JSON(consts.StatusOK, toApplicationView(app))
}

// HandleListMyApplications 列出某个申请人的全部申请
func (h *ApplicationHandler) HandleListMyApplications(ctx context.Context, c *app.RequestContext) {
	applicantID := c.Param("applicant_id")
	if applicantID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "applicant_id为必填项"})
		return
	}

	apps, err := h.db.ListApplicationsByApplicant(ctx, applicantID)
	if err != nil {
		logger.Error().Err(err).Str("applicant_id", applicantID).Msg("查询申请列表失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询申请列表失败"})
		return
	}

	views := make([]ApplicationView, 0, len(apps))
	for i := range apps {
		views = append(views, toApplicationView(&apps[i]))
	}
	c.JSON(consts.StatusOK, utils.H{"applications": views, "total": len(views)})
}

func toApplicationView(app *models.Application) ApplicationView {
	view := ApplicationView{
		ApplicationID: app.ApplicationID,
		JobID:         app.JobID,
		Status:        app.Status.String(),
		CreatedAt:     app.CreatedAt,
		EvaluatedAt:   app.EvaluatedAt,
	}
	if app.Job != nil {
		view.JobTitle = app.Job.Title
	}
	// 反馈只在评估结束后对申请人可见
	if app.Status.IsTerminalForQueue() {
		view.AIFeedback = app.AIFeedback
	}
	return view
}

// publishSubmitted 发布申请提交事件，发布失败不影响提交结果
func (h *ApplicationHandler) publishSubmitted(ctx context.Context, applicationID, jobID string) {
	if h.events == nil {
		return
	}
	event := submittedEvent{
		ApplicationID: applicationID,
		JobID:         jobID,
		SubmittedAt:   time.Now().UTC(),
	}
	if err := h.events.PublishJSON(ctx, constants.ApplicationSubmittedRoutKey, event); err != nil {
		logger.Warn().Err(err).
			Str("application_id", applicationID).
			Msg("发布申请提交事件失败")
	}
}
