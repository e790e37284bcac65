package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"job-board-go/internal/config"
	"job-board-go/internal/storage/models"
	"job-board-go/internal/tracing"
	"job-board-go/internal/types"
)

var mysqlTracer = otel.Tracer("job-board-go/storage/mysql")

// ErrNotFound 记录不存在
var ErrNotFound = gorm.ErrRecordNotFound

// ApplicationStore 评估队列依赖的持久化契约
// 队列只通过这四个操作触碰数据库，测试里用内存实现替换
type ApplicationStore interface {
	// FindApplicationByID 读取一条申请，不存在时返回 ErrNotFound
	FindApplicationByID(ctx context.Context, applicationID string) (*models.Application, error)

	// FindJobByID 读取一个岗位，不存在时返回 ErrNotFound
	FindJobByID(ctx context.Context, jobID string) (*models.Job, error)

	// SetStatus 只改状态，HR覆写路径也走这里
	SetStatus(ctx context.Context, applicationID string, status types.ApplicationStatus) error

	// SetEvaluation 原子写入分数、反馈、状态和 evaluated_at 四个字段
	SetEvaluation(ctx context.Context, applicationID string, score int, feedback string, status types.ApplicationStatus) error
}

// 确保MySQL实现了ApplicationStore接口
var _ ApplicationStore = (*MySQL)(nil)

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	// 构建DSN，带超时设置
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	// 配置GORM日志级别
	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	// 连接池参数
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	if err := m.autoMigrateSchema(); err != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	currentLogger := m.db.Logger

	// 迁移期间关闭SQL日志
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.User{},
		&models.Job{},
		&models.Application{},
	)

	m.db = m.db.Session(&gorm.Session{Logger: currentLogger})

	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// ---- ApplicationStore ----

// FindApplicationByID 读取一条申请
func (m *MySQL) FindApplicationByID(ctx context.Context, applicationID string) (*models.Application, error) {
	var app models.Application
	if err := m.db.WithContext(ctx).Where("application_id = ?", applicationID).First(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

// FindJobByID 读取一个岗位
func (m *MySQL) FindJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// SetStatus 更新申请状态，状态值必须在枚举域内
func (m *MySQL) SetStatus(ctx context.Context, applicationID string, status types.ApplicationStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("拒绝写入非法状态 %q", status)
	}

	ctx, span := mysqlTracer.Start(ctx, "MySQL.SetStatus",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.sql.table", "applications"),
			attribute.String("application.id", applicationID),
			attribute.String("application.status", status.String()),
		))
	defer span.End()

	result := m.db.WithContext(ctx).Model(&models.Application{}).
		Where("application_id = ?", applicationID).
		Update("status", status)
	if result.Error != nil {
		tracing.RecordError(span, result.Error, tracing.ErrorTypeDB)
		return result.Error
	}
	if result.RowsAffected == 0 {
		span.SetStatus(codes.Ok, "record not found")
		return gorm.ErrRecordNotFound
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// SetEvaluation 原子写入评估结果：分数、反馈、状态、evaluated_at
func (m *MySQL) SetEvaluation(ctx context.Context, applicationID string, score int, feedback string, status types.ApplicationStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("拒绝写入非法状态 %q", status)
	}

	ctx, span := mysqlTracer.Start(ctx, "MySQL.SetEvaluation",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMySQL,
			attribute.String("db.sql.table", "applications"),
			attribute.String("application.id", applicationID),
			attribute.Int("application.ai_score", score),
			attribute.String("application.status", status.String()),
		))
	defer span.End()

	now := time.Now()
	updates := map[string]interface{}{
		"ai_score":     score,
		"ai_feedback":  feedback,
		"status":       status,
		"evaluated_at": now,
	}
	result := m.db.WithContext(ctx).Model(&models.Application{}).
		Where("application_id = ?", applicationID).
		Updates(updates)
	if result.Error != nil {
		tracing.RecordError(span, result.Error, tracing.ErrorTypeDB)
		return result.Error
	}
	if result.RowsAffected == 0 {
		span.SetStatus(codes.Ok, "record not found")
		return gorm.ErrRecordNotFound
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// ---- 岗位与申请的其余访问器（提交/HR面使用） ----

// CreateJob 创建岗位
func (m *MySQL) CreateJob(ctx context.Context, job *models.Job) error {
	return m.db.WithContext(ctx).Create(job).Error
}

// UpdateJob 整体更新岗位
func (m *MySQL) UpdateJob(ctx context.Context, job *models.Job) error {
	return m.db.WithContext(ctx).Save(job).Error
}

// DeleteJob 删除岗位，返回是否真的删掉了
func (m *MySQL) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	result := m.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&models.Job{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListJobs 按创建时间倒序列出岗位；onlyActive为真时只列有效岗位
func (m *MySQL) ListJobs(ctx context.Context, onlyActive bool) ([]models.Job, error) {
	var jobs []models.Job
	q := m.db.WithContext(ctx).Order("created_at DESC")
	if onlyActive {
		q = q.Where("status = ?", models.JobStatusActive)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CreateApplication 创建申请记录（pending，无分数）
func (m *MySQL) CreateApplication(ctx context.Context, app *models.Application) error {
	return m.db.WithContext(ctx).Create(app).Error
}

// UpdateExternalDocumentID 回填AI服务商侧的文件ID
func (m *MySQL) UpdateExternalDocumentID(ctx context.Context, applicationID string, documentID string) error {
	return m.db.WithContext(ctx).Model(&models.Application{}).
		Where("application_id = ?", applicationID).
		Update("external_document_id", documentID).Error
}

// ListApplicationsByApplicant 申请人视角，按提交时间倒序
func (m *MySQL) ListApplicationsByApplicant(ctx context.Context, applicantID string) ([]models.Application, error) {
	var apps []models.Application
	err := m.db.WithContext(ctx).
		Preload("Job").
		Where("applicant_id = ?", applicantID).
		Order("created_at DESC").
		Find(&apps).Error
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// ListApplications HR视角，可按状态和岗位过滤，带岗位信息
func (m *MySQL) ListApplications(ctx context.Context, status types.ApplicationStatus, jobID string) ([]models.Application, error) {
	var apps []models.Application
	q := m.db.WithContext(ctx).Preload("Job").Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	}
	if err := q.Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

// StatusCounts 各状态的申请数量
func (m *MySQL) StatusCounts(ctx context.Context) (map[types.ApplicationStatus]int64, error) {
	type row struct {
		Status types.ApplicationStatus
		Count  int64
	}
	var rows []row
	err := m.db.WithContext(ctx).Model(&models.Application{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[types.ApplicationStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// JobCounts 岗位总数与有效岗位数
func (m *MySQL) JobCounts(ctx context.Context) (total int64, active int64, err error) {
	if err = m.db.WithContext(ctx).Model(&models.Job{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = m.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", models.JobStatusActive).Count(&active).Error; err != nil {
		return 0, 0, err
	}
	return total, active, nil
}

// AverageAIScore 已评分申请的平均分，没有评分记录时返回nil
func (m *MySQL) AverageAIScore(ctx context.Context) (*float64, error) {
	var avg *float64
	err := m.db.WithContext(ctx).Model(&models.Application{}).
		Where("ai_score IS NOT NULL").
		Select("AVG(ai_score)").
		Scan(&avg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return avg, nil
}
