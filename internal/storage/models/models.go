package models

import (
	"time"

	"job-board-go/internal/types"
)

// User 用户表，区分申请人和HR两种角色
type User struct {
	UserID       string    `gorm:"type:char(36);primaryKey"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex:idx_users_email_unique;not null"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	FullName     string    `gorm:"type:varchar(255);not null"`
	Role         string    `gorm:"type:varchar(20);not null"` // applicant / hr
	CreatedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (User) TableName() string {
	return "users"
}

// 岗位状态
const (
	JobStatusActive = "active"
	JobStatusClosed = "closed"
)

// Job 岗位表
type Job struct {
	JobID string `gorm:"type:char(36);primaryKey"`
	Title string `gorm:"type:varchar(255);not null"`
	// Description 岗位描述，Requirements 任职要求，两者原文进入AI评估的Prompt
	Description     string    `gorm:"type:text;not null"`
	Requirements    string    `gorm:"type:text;not null"`
	Location        string    `gorm:"type:varchar(255)"`
	SalaryRange     string    `gorm:"type:varchar(100)"`
	Status          string    `gorm:"type:varchar(20);default:'active';index:idx_jobs_status"`
	CreatedByUserID string    `gorm:"type:char(36)"`
	CreatedAt       time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt       time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// Application 应聘申请表
type Application struct {
	ApplicationID string  `gorm:"type:char(36);primaryKey"`
	JobID         string  `gorm:"type:char(36);not null;index:idx_applications_job_id"`
	ApplicantID   *string `gorm:"type:char(36);index:idx_applications_applicant_id"` // 允许匿名投递
	FullName      string  `gorm:"type:varchar(255);not null"`
	Email         string  `gorm:"type:varchar(255);not null"`
	Phone         string  `gorm:"type:varchar(50)"`
	// ResumePath MinIO里简历原件的对象键
	ResumePath string `gorm:"type:varchar(1024);not null"`
	// ExternalDocumentID AI服务商侧的文件ID，上传失败时为空（降级路径）
	ExternalDocumentID *string `gorm:"type:varchar(255)"`
	// AIScore 1-10的匹配分；评估失败时记0分
	AIScore    *int                    `gorm:"type:int"`
	AIFeedback string                  `gorm:"type:text"`
	Status     types.ApplicationStatus `gorm:"type:varchar(20);default:'pending';index:idx_applications_status"`
	CreatedAt  time.Time               `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	// EvaluatedAt 评估尝试完成（成功或已处理的失败）时写入，之后不会回退为NULL
	EvaluatedAt *time.Time `gorm:"type:datetime(6)"`

	// 岗位不加外键约束：岗位删除后在途申请仍需保留，由评估阶段按岗位缺失拒绝
	Job       *Job  `gorm:"foreignKey:JobID;references:JobID;constraint:-"`
	Applicant *User `gorm:"foreignKey:ApplicantID;references:UserID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (Application) TableName() string {
	return "applications"
}
