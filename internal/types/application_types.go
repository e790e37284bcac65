package types

import "fmt"

// ApplicationStatus 应聘申请的状态，取值范围是封闭的
type ApplicationStatus string

const (
	// StatusPending 初始状态，申请已创建，尚未进入评估
	StatusPending ApplicationStatus = "pending"
	// StatusEvaluating 评估队列已接管，AI评估进行中
	StatusEvaluating ApplicationStatus = "evaluating"
	// StatusRejected 自动评估路径的终态之一（低分、缺失数据或评估失败）
	StatusRejected ApplicationStatus = "rejected"
	// StatusUnderReview 分数达标，等待HR人工审阅
	StatusUnderReview ApplicationStatus = "under_review"
	// StatusAccepted 录用，只能由HR人工写入，自动评估永远不会产生该状态
	StatusAccepted ApplicationStatus = "accepted"
)

// AllStatuses 返回全部合法状态，顺序固定
func AllStatuses() []ApplicationStatus {
	return []ApplicationStatus{
		StatusPending,
		StatusEvaluating,
		StatusRejected,
		StatusUnderReview,
		StatusAccepted,
	}
}

// ParseStatus 将字符串解析为状态，未知值返回错误
// 持久化层和HR覆写入口都必须经过这里，拒绝枚举之外的值
func ParseStatus(s string) (ApplicationStatus, error) {
	switch ApplicationStatus(s) {
	case StatusPending, StatusEvaluating, StatusRejected, StatusUnderReview, StatusAccepted:
		return ApplicationStatus(s), nil
	default:
		return "", fmt.Errorf("未知的申请状态: %q", s)
	}
}

// IsValid 判断状态是否属于枚举域
func (s ApplicationStatus) IsValid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// String 实现 fmt.Stringer
func (s ApplicationStatus) String() string {
	return string(s)
}

// IsTerminalForQueue 队列是否不会再触碰该状态
// 队列在单次评估中只走 pending → evaluating → {rejected | under_review}，
// 离开 evaluating 之后不会重新进入
func (s ApplicationStatus) IsTerminalForQueue() bool {
	switch s {
	case StatusRejected, StatusUnderReview, StatusAccepted:
		return true
	case StatusPending, StatusEvaluating:
		return false
	}
	return false
}

// CanQueueTransition 判断自动评估路径上 from → to 是否合法
// accepted 只属于HR覆写路径，自动路径永远返回 false
func CanQueueTransition(from, to ApplicationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusEvaluating
	case StatusEvaluating:
		return to == StatusRejected || to == StatusUnderReview
	case StatusRejected, StatusUnderReview, StatusAccepted:
		return false
	}
	return false
}

// EvaluationResult AI评估的结构化结果
type EvaluationResult struct {
	// Score 1-10的匹配分，适配器负责钳制到合法区间
	Score int `json:"score"`
	// Feedback 面向申请人的简短反馈
	Feedback string `json:"feedback"`
}

// ClampScore 将分数钳制到 [1, 10]
func ClampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}
