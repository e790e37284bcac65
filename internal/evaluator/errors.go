package evaluator

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	// ErrUpload 简历上传到AI服务商失败；提交路径捕获后走降级（无文档引用继续）
	ErrUpload = errors.New("上传简历到AI服务商失败")
	// ErrEvaluation 评估调用失败：服务商不可达、响应为空、分数非数字或结构化输出无法解析
	ErrEvaluation = errors.New("AI评估失败")
)

// EvaluatorError 包含详细错误信息的自定义错误
type EvaluatorError struct {
	Op      string // upload / evaluate
	BaseErr error
	Detail  string
}

func (e *EvaluatorError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s): %s", e.BaseErr, e.Op, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s)", e.BaseErr, e.Op)
}

func (e *EvaluatorError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 以支持错误比较
func (e *EvaluatorError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// NewUploadError 构造上传错误
func NewUploadError(detail string) error {
	return &EvaluatorError{Op: "upload", BaseErr: ErrUpload, Detail: detail}
}

// NewEvaluationError 构造评估错误
func NewEvaluationError(detail string) error {
	return &EvaluatorError{Op: "evaluate", BaseErr: ErrEvaluation, Detail: detail}
}
