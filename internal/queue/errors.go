package queue

import "errors"

var (
	// ErrQueueFull 待评估队列已满，入队被拒绝（显式背压信号，提交路径自行决定如何响应）
	ErrQueueFull = errors.New("评估队列已满")
	// ErrQueueClosed 队列已停止，不再接受入队
	ErrQueueClosed = errors.New("评估队列已停止")

	// 排空循环内部的失败分类，只用于日志与落库话术的选择，从不向调用方传播
	errMissingJob      = errors.New("关联岗位不存在")
	errMissingDocument = errors.New("申请缺少文档引用")
)
