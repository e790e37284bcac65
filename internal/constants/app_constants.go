package constants

import "time"

const (
	// 评估相关默认值
	DefaultScoreThreshold  = 5                // 低于该分数自动拒绝
	DefaultEvaluateTimeout = 60 * time.Second // 单次AI评估调用的超时上限
	DefaultQueueCapacity   = 1024             // 评估队列容量，写满后拒绝入队

	// EvaluationFailedFeedback 评估失败时写入 ai_feedback 的标准话术
	// 内部错误细节绝不落到这个字段里
	EvaluationFailedFeedback = "An error occurred during evaluation. Please contact support."
	// MissingJobFeedback 目标岗位已不存在时写入的话术
	MissingJobFeedback = "The position you applied for is no longer available."
)

// Redis键
const (
	ResumeFileMD5SetKey = "applications:resume_md5s" // 原始简历文件MD5集合，用于上传去重
	HRStatsCacheKey     = "hr:dashboard_stats"       // HR看板统计缓存
	HRStatsCacheTTL     = 30 * time.Second
)

// RabbitMQ事件面
const (
	ApplicationEventsExchange   = "application.events.exchange"
	ApplicationSubmittedRoutKey = "application.submitted"
	ApplicationEvaluatedRoutKey = "application.evaluated"
)
