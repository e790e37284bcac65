package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"job-board-go/internal/constants"
	"job-board-go/internal/evaluator"
	"job-board-go/internal/logger"
	"job-board-go/internal/storage"
	"job-board-go/internal/storage/models"
	"job-board-go/internal/tracing"
	"job-board-go/internal/types"
)

// queueTracer 评估队列的 Tracer
var queueTracer = otel.Tracer("job-board-go/queue")

// evaluatedEvent 评估完成后发往事件交换机的消息体
type evaluatedEvent struct {
	ApplicationID string    `json:"application_id"`
	JobID         string    `json:"job_id,omitempty"`
	Score         int       `json:"score"`
	Status        string    `json:"status"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// EvaluationQueue 进程内 FIFO 评估队列。
// 申请 ID 经有界 channel 进入唯一的工作协程，串行逐条评估；
// 单条失败只影响该条记录，排空循环永不因单条错误中断。
type EvaluationQueue struct {
	store     storage.ApplicationStore
	evaluator evaluator.AIEvaluator
	publisher storage.EventPublisher

	threshold   int
	evalTimeout time.Duration

	pending chan string
	quit    chan struct{}
	wg      sync.WaitGroup

	size     atomic.Int64 // 已入队且尚未开始处理的条数
	draining atomic.Bool  // 工作协程当前是否处于排空期
	started  atomic.Bool
	closed   atomic.Bool

	workerStarts atomic.Int32 // 工作协程启动次数，只应为 1
}

// Option 队列的可选配置
type Option func(*EvaluationQueue)

// WithThreshold 设置通过阈值，得分低于该值的申请被拒绝
func WithThreshold(threshold int) Option {
	return func(q *EvaluationQueue) {
		if threshold > 0 {
			q.threshold = threshold
		}
	}
}

// WithEvaluateTimeout 设置单次评估调用的超时上限
func WithEvaluateTimeout(timeout time.Duration) Option {
	return func(q *EvaluationQueue) {
		if timeout > 0 {
			q.evalTimeout = timeout
		}
	}
}

// WithCapacity 设置队列容量，满后 Enqueue 返回 ErrQueueFull
func WithCapacity(capacity int) Option {
	return func(q *EvaluationQueue) {
		if capacity > 0 {
			q.pending = make(chan string, capacity)
		}
	}
}

// WithEventPublisher 设置评估完成事件的发布器，nil 表示不发布
func WithEventPublisher(publisher storage.EventPublisher) Option {
	return func(q *EvaluationQueue) {
		q.publisher = publisher
	}
}

// NewEvaluationQueue 创建评估队列，store 与 eval 不可为空
func NewEvaluationQueue(store storage.ApplicationStore, eval evaluator.AIEvaluator, opts ...Option) (*EvaluationQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("创建评估队列失败: 存储实例为空")
	}
	if eval == nil {
		return nil, fmt.Errorf("创建评估队列失败: 评估器实例为空")
	}

	q := &EvaluationQueue{
		store:       store,
		evaluator:   eval,
		threshold:   constants.DefaultScoreThreshold,
		evalTimeout: constants.DefaultEvaluateTimeout,
		pending:     make(chan string, constants.DefaultQueueCapacity),
		quit:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q, nil
}

// Start 启动唯一的工作协程，重复调用无效果
func (q *EvaluationQueue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}

	q.wg.Add(1)
	go q.run(ctx)
}

// Stop 停止接收新任务并等待当前条目处理完毕。
// channel 中未开始的条目会被丢弃，其状态保持 pending，可在下次启动时重新入队。
func (q *EvaluationQueue) Stop() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	close(q.quit)
	q.wg.Wait()
}

// Enqueue 将申请 ID 加入队尾，立即返回。
// 队列已满时返回 ErrQueueFull，队列停止后返回 ErrQueueClosed。
// 不做去重：同一 ID 重复入队会被处理多次。
func (q *EvaluationQueue) Enqueue(applicationID string) error {
	if applicationID == "" {
		return fmt.Errorf("入队失败: 申请 ID 为空")
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}

	select {
	case q.pending <- applicationID:
		depth := q.size.Add(1)
		logger.Info().
			Str("application_id", applicationID).
			Int64("queue_depth", depth).
			Msg("申请已加入评估队列")
		return nil
	default:
		logger.Warn().
			Str("application_id", applicationID).
			Int("capacity", cap(q.pending)).
			Msg("评估队列已满，拒绝入队")
		return ErrQueueFull
	}
}

// Size 返回已入队且尚未开始处理的条数
func (q *EvaluationQueue) Size() int {
	return int(q.size.Load())
}

// IsDraining 返回工作协程当前是否正在排空队列
func (q *EvaluationQueue) IsDraining() bool {
	return q.draining.Load()
}

// WorkerStarts 返回工作协程的启动次数，供测试验证单循环不变量
func (q *EvaluationQueue) WorkerStarts() int {
	return int(q.workerStarts.Load())
}

// run 唯一的排空循环，直到 Stop 或 ctx 取消才退出
func (q *EvaluationQueue) run(ctx context.Context) {
	defer q.wg.Done()
	q.workerStarts.Add(1)

	for {
		select {
		case <-q.quit:
			return
		case <-ctx.Done():
			return
		case applicationID := <-q.pending:
			q.size.Add(-1)
			if q.draining.CompareAndSwap(false, true) {
				logger.Info().Msg("评估队列开始排空")
			}

			q.processOne(ctx, applicationID)

			if len(q.pending) == 0 {
				q.draining.Store(false)
				logger.Info().Msg("评估队列排空完成")
			}
		}
	}
}

// processOne 处理单条申请，任何失败都落回错误话术并拒绝，从不向外抛出
func (q *EvaluationQueue) processOne(ctx context.Context, applicationID string) {
	ctx, span := queueTracer.Start(ctx, "queue.evaluate_application",
		trace.WithAttributes(attribute.String("application.id", applicationID)))
	defer span.End()

	// 单条评估的 panic 不允许击穿排空循环
	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "panic during evaluation")
			logger.Error().
				Str("application_id", applicationID).
				Interface("panic", r).
				Msg("评估过程发生 panic，已按失败处理")
			q.writeFailure(ctx, applicationID, constants.EvaluationFailedFeedback)
		}
	}()

	logger.Info().Str("application_id", applicationID).Msg("开始评估申请")

	// 标记为评估中；记录不存在则静默跳过，不做任何落库
	if err := q.store.SetStatus(ctx, applicationID, types.StatusEvaluating); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn().
				Str("application_id", applicationID).
				Msg("申请记录不存在，跳过评估")
			return
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		logger.Error().Err(err).
			Str("application_id", applicationID).
			Msg("标记申请为评估中失败")
		q.writeFailure(ctx, applicationID, constants.EvaluationFailedFeedback)
		return
	}

	result, job, err := q.evaluate(ctx, applicationID)
	if err != nil {
		switch {
		case errors.Is(err, errMissingJob):
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			logger.Warn().
				Str("application_id", applicationID).
				Msg("申请关联的岗位不存在，按拒绝处理")
			q.writeFailure(ctx, applicationID, constants.MissingJobFeedback)
		case errors.Is(err, errMissingDocument):
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			logger.Warn().
				Str("application_id", applicationID).
				Msg("申请缺少简历文档引用，无法评估")
			q.writeFailure(ctx, applicationID, constants.EvaluationFailedFeedback)
		case errors.Is(err, context.DeadlineExceeded):
			tracing.RecordError(span, err, tracing.ErrorTypeTimeout)
			logger.Error().Err(err).
				Str("application_id", applicationID).
				Msg("评估调用超时")
			q.writeFailure(ctx, applicationID, constants.EvaluationFailedFeedback)
		default:
			retryable := evaluator.IsRetryable(err)
			tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeExternal,
				attribute.Bool("error.retryable", retryable))
			logger.Error().Err(err).
				Str("application_id", applicationID).
				Bool("retryable", retryable).
				Msg("评估申请失败")
			q.writeFailure(ctx, applicationID, constants.EvaluationFailedFeedback)
		}
		return
	}

	score := types.ClampScore(result.Score)
	status := types.StatusUnderReview
	if score < q.threshold {
		status = types.StatusRejected
	}

	// 自动路径只允许从 evaluating 进入 rejected / under_review
	if !types.CanQueueTransition(types.StatusEvaluating, status) {
		logger.Error().
			Str("application_id", applicationID).
			Str("status", status.String()).
			Msg("评估结果指向非法状态转移，按拒绝处理")
		status = types.StatusRejected
	}

	if err := q.store.SetEvaluation(ctx, applicationID, score, result.Feedback, status); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		logger.Error().Err(err).
			Str("application_id", applicationID).
			Int("score", score).
			Msg("写入评估结果失败")
		return
	}

	span.SetAttributes(
		attribute.Int("evaluation.score", score),
		attribute.String("evaluation.status", status.String()),
		attribute.String("evaluation.feedback", tracing.SafeFeedback(result.Feedback)),
	)
	logger.Info().
		Str("application_id", applicationID).
		Int("score", score).
		Str("status", status.String()).
		Msg("申请评估完成")

	jobID := ""
	if job != nil {
		jobID = job.JobID
	}
	q.publishEvaluated(ctx, applicationID, jobID, score, status)
}

// evaluate 取出申请与岗位并调用评估器，返回原始评估结果
func (q *EvaluationQueue) evaluate(ctx context.Context, applicationID string) (*types.EvaluationResult, *models.Job, error) {
	app, err := q.store.FindApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, nil, fmt.Errorf("查询申请失败: %w", err)
	}

	job, err := q.store.FindJobByID(ctx, app.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, errMissingJob
		}
		return nil, nil, fmt.Errorf("查询岗位失败: %w", err)
	}

	if app.ExternalDocumentID == nil || *app.ExternalDocumentID == "" {
		return nil, job, errMissingDocument
	}

	evalCtx, cancel := context.WithTimeout(ctx, q.evalTimeout)
	defer cancel()

	result, err := q.evaluator.Evaluate(evalCtx, *app.ExternalDocumentID, job)
	if err != nil {
		return nil, job, fmt.Errorf("调用评估器失败: %w", err)
	}

	return result, job, nil
}

// writeFailure 失败路径统一落库：零分、错误话术、拒绝。
// 落库本身失败时仅记录日志，排空循环继续处理后续条目。
func (q *EvaluationQueue) writeFailure(ctx context.Context, applicationID string, feedback string) {
	if err := q.store.SetEvaluation(ctx, applicationID, 0, feedback, types.StatusRejected); err != nil {
		logger.Error().Err(err).
			Str("application_id", applicationID).
			Msg("写入评估失败结果时出错")
		return
	}
	q.publishEvaluated(ctx, applicationID, "", 0, types.StatusRejected)
}

// publishEvaluated 发布评估完成事件，发布失败不影响评估结果
func (q *EvaluationQueue) publishEvaluated(ctx context.Context, applicationID, jobID string, score int, status types.ApplicationStatus) {
	if q.publisher == nil {
		return
	}

	event := evaluatedEvent{
		ApplicationID: applicationID,
		JobID:         jobID,
		Score:         score,
		Status:        status.String(),
		EvaluatedAt:   time.Now().UTC(),
	}
	if err := q.publisher.PublishJSON(ctx, constants.ApplicationEvaluatedRoutKey, event); err != nil {
		logger.Warn().Err(err).
			Str("application_id", applicationID).
			Msg("发布评估完成事件失败")
	}
}
