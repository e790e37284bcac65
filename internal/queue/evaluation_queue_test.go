package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-board-go/internal/constants"
	"job-board-go/internal/storage"
	"job-board-go/internal/storage/models"
	"job-board-go/internal/types"
)

// evaluationRecord 记录一次 SetEvaluation 调用的参数
type evaluationRecord struct {
	ApplicationID string
	Score         int
	Feedback      string
	Status        types.ApplicationStatus
}

// fakeStore 内存版 ApplicationStore，记录所有写入供断言
type fakeStore struct {
	mu           sync.Mutex
	applications map[string]*models.Application
	jobs         map[string]*models.Job
	statusWrites []types.ApplicationStatus
	evaluations  []evaluationRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		applications: make(map[string]*models.Application),
		jobs:         make(map[string]*models.Job),
	}
}

func (s *fakeStore) addApplication(app *models.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ApplicationID] = app
}

func (s *fakeStore) addJob(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
}

func (s *fakeStore) FindApplicationByID(_ context.Context, applicationID string) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[applicationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *app
	return &copied, nil
}

func (s *fakeStore) FindJobByID(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) SetStatus(_ context.Context, applicationID string, status types.ApplicationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[applicationID]
	if !ok {
		return storage.ErrNotFound
	}
	app.Status = status
	s.statusWrites = append(s.statusWrites, status)
	return nil
}

func (s *fakeStore) SetEvaluation(_ context.Context, applicationID string, score int, feedback string, status types.ApplicationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[applicationID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	app.AIScore = &score
	app.AIFeedback = feedback
	app.Status = status
	app.EvaluatedAt = &now
	s.evaluations = append(s.evaluations, evaluationRecord{
		ApplicationID: applicationID,
		Score:         score,
		Feedback:      feedback,
		Status:        status,
	})
	return nil
}

func (s *fakeStore) evaluationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.evaluations)
}

func (s *fakeStore) evaluationAt(i int) evaluationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluations[i]
}

func (s *fakeStore) application(id string) models.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.applications[id]
}

// fakeEvaluator 可编程的评估器桩
type fakeEvaluator struct {
	mu       sync.Mutex
	calls    int
	evalFunc func(ctx context.Context, documentID string, job *models.Job) (*types.EvaluationResult, error)
}

func (e *fakeEvaluator) UploadDocument(_ context.Context, _ io.Reader, _ string) (string, error) {
	return "file-test", nil
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, documentID string, job *models.Job) (*types.EvaluationResult, error) {
	e.mu.Lock()
	e.calls++
	fn := e.evalFunc
	e.mu.Unlock()
	if fn != nil {
		return fn(ctx, documentID, job)
	}
	return &types.EvaluationResult{Score: 7, Feedback: "不错的候选人"}, nil
}

func (e *fakeEvaluator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// seedApplication 插入一个带岗位和文档引用、可直接评估的申请
func seedApplication(store *fakeStore, applicationID string) {
	docID := "file-" + applicationID
	store.addJob(&models.Job{
		JobID:        "job-1",
		Title:        "Go后端工程师",
		Requirements: "三年以上Go经验",
		Description:  "负责招聘平台后端开发",
		Location:     "远程",
		Status:       models.JobStatusActive,
	})
	store.addApplication(&models.Application{
		ApplicationID:      applicationID,
		JobID:              "job-1",
		FullName:           "张三",
		Email:              "zhangsan@example.com",
		ResumePath:         applicationID + "/resume.pdf",
		ExternalDocumentID: &docID,
		Status:             types.StatusPending,
	})
}

// waitFor 轮询等待条件成立，评估在后台协程里异步完成
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func startQueue(t *testing.T, store *fakeStore, eval *fakeEvaluator, opts ...Option) *EvaluationQueue {
	t.Helper()
	q, err := NewEvaluationQueue(store, eval, opts...)
	require.NoError(t, err)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestNewEvaluationQueueValidation(t *testing.T) {
	eval := &fakeEvaluator{}

	_, err := NewEvaluationQueue(nil, eval)
	assert.Error(t, err)

	_, err = NewEvaluationQueue(newFakeStore(), nil)
	assert.Error(t, err)
}

func TestEvaluateAboveThreshold(t *testing.T) {
	store := newFakeStore()
	seedApplication(store, "app-1")
	eval := &fakeEvaluator{evalFunc: func(context.Context, string, *models.Job) (*types.EvaluationResult, error) {
		return &types.EvaluationResult{Score: 8, Feedback: "经验匹配度高"}, nil
	}}

	q := startQueue(t, store, eval)
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 1 })

	rec := store.evaluationAt(0)
	assert.Equal(t, 8, rec.Score)
	assert.Equal(t, "经验匹配度高", rec.Feedback)
	assert.Equal(t, types.StatusUnderReview, rec.Status)

	app := store.application("app-1")
	require.NotNil(t, app.EvaluatedAt)
	assert.Equal(t, types.StatusUnderReview, app.Status)
}

func TestEvaluateBelowThresholdRejects(t *testing.T) {
	store := newFakeStore()
	seedApplication(store, "app-1")
	eval := &fakeEvaluator{evalFunc: func(context.Context, string, *models.Job) (*types.EvaluationResult, error) {
		return &types.EvaluationResult{Score: 4, Feedback: "经验不足"}, nil
	}}

	q := startQueue(t, store, eval)
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 1 })

	rec := store.evaluationAt(0)
	assert.Equal(t, 4, rec.Score)
	assert.Equal(t, types.StatusRejected, rec.Status)
}

// 得分恰好等于阈值时进入人工复核而不是拒绝
func TestEvaluateScoreEqualsThreshold(t *testing.T) {
	store := newFakeStore()
	seedApplication(store, "app-1")
	eval := &fakeEvaluator{evalFunc: func(context.Context, string, *models.Job) (*types.EvaluationResult, error) {
		return &types.EvaluationResult{Score: 5, Feedback: "刚好达标"}, nil
	}}

	q := startQueue(t, store, eval)
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 1 })

	assert.Equal(t, types.StatusUnderReview, store.evaluationAt(0).Status)
}

func TestEvaluateClampsOutOfRangeScore(t *testing.T) {
	tests := []struct {
		name     string
		rawScore int
		want     int
	}{
		{"超出上限", 42, 10},
		{"低于下限", -3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			seedApplication(store, "app-1")
			eval := &fakeEvaluator{evalFunc: func(context.Context, string, *models.Job) (*types.EvaluationResult, error) {
				return &types.EvaluationResult{Score: tt.rawScore, Feedback: "越界分数"}, nil
			}}

			q := startQueue(t, store, eval)
			require.NoError(t, q.Enqueue("app-1"))
			waitFor(t, func() bool { return store.evaluationCount() == 1 })

			assert.Equal(t, tt.want, store.evaluationAt(0).Score)
		})
	}
}

func TestCustomThreshold(t *testing.T) {
	store := newFakeStore()
	seedApplication(store, "app-1")
	eval := &fakeEvaluator{evalFunc: func(context.Context, string, *models.Job) (*types.EvaluationResult, error) {
		return &types.EvaluationResult{Score: 6, Feedback: "中等水平"}, nil
	}}

	q := startQueue(t, store, eval, WithThreshold(7))
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 1 })

	assert.Equal(t, types.StatusRejected, store.evaluationAt(0).Status)
}

// 申请记录不存在时只记日志跳过，不产生任何评估写入
func TestMissingApplicationSkipsSilently(t *testing.T) {
	store := newFakeStore()
	seedApplication(store, "app-1")
	eval := &fakeEvaluator{}

	q := startQueue(t, store, eval)
	require.NoError(t, q.Enqueue("ghost"))
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 1 })

	assert.Equal(t, "app-1", store.evaluationAt(0).ApplicationID)
	assert.Equal(t, 1, eval.callCount())
}

// 岗位已被删除时按拒绝落库，附带岗位下线话术
func TestMissingJobRejectsWithFeedback(t *testing.T) {
	store := newFakeStore()
	docID := "file-app-1"
	store.addApplication(&models.Application{
		ApplicationID:      "app-1",
		JobID:              "job-gone",
		ExternalDocumentID: &docID,
		Status:             types.StatusPending,
	})
	eval := &fakeEvaluator{}

	q := startQueue(t, store, eval)
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 1 })

	rec := store.evaluationAt(0)
	assert.Equal(t, 0, rec.Score)
	assert.Equal(t, constants.MissingJobFeedback, rec.Feedback)
	assert.Equal(t, types.StatusRejected, rec.Status)
	assert.Equal(t, 0, eval.callCount())
}

// 缺少文档引用时不调用评估器，直接按失败拒绝
func TestMissingDocumentShortCircuits(t *testing.T) {
	store := newFakeStore()
	store.addJob(&models.Job{JobID: "job-1", Title: "Go后端工程师", Status: models.JobStatusActive})
	store.addApplication(&models.Application{
		ApplicationID: "app-1",
		JobID:         "job-1",
		Status:        types.StatusPending,
	})
	eval := &fakeEvaluator{}

	q := startQueue(t, store, eval)
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 1 })

	rec := store.evaluationAt(0)
	assert.Equal(t, 0, rec.Score)
	assert.Equal(t, constants.EvaluationFailedFeedback, rec.Feedback)
	assert.Equal(t, types.StatusRejected, rec.Status)
	assert.Equal(t, 0, eval.callCount())
}

// 评估器报错时落库失败话术，不影响后续条目
func TestEvaluatorErrorIsIsolated(t *testing.T) {
	store := newFakeStore()
	seedApplication(store, "app-1")
	store.addApplication(&models.Application{
		ApplicationID:      "app-2",
		JobID:              "job-1",
		ExternalDocumentID: strPtr("file-app-2"),
		Status:             types.StatusPending,
	})
	eval := &fakeEvaluator{evalFunc: func(_ context.Context, documentID string, _ *models.Job) (*types.EvaluationResult, error) {
		if documentID == "file-app-1" {
			return nil, fmt.Errorf("模型服务不可用")
		}
		return &types.EvaluationResult{Score: 9, Feedback: "优秀"}, nil
	}}

	q := startQueue(t, store, eval)
	require.NoError(t, q.Enqueue("app-1"))
	require.NoError(t, q.Enqueue("app-2"))
	waitFor(t, func() bool { return store.evaluationCount() == 2 })

	first := store.evaluationAt(0)
	assert.Equal(t, "app-1", first.ApplicationID)
	assert.Equal(t, 0, first.Score)
	assert.Equal(t, constants.EvaluationFailedFeedback, first.Feedback)
	assert.Equal(t, types.StatusRejected, first.Status)

	second := store.evaluationAt(1)
	assert.Equal(t, "app-2", second.ApplicationID)
	assert.Equal(t, 9, second.Score)
	assert.Equal(t, types.StatusUnderReview, second.Status)
}

// 评估调用超过超时上限时按失败处理
func TestEvaluateTimeout(t *testing.T) {
	store := newFakeStore()
	seedApplication(store, "app-1")
	eval := &fakeEvaluator{evalFunc: func(ctx context.Context, _ string, _ *models.Job) (*types.EvaluationResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	q := startQueue(t, store, eval, WithEvaluateTimeout(20*time.Millisecond))
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 1 })

	rec := store.evaluationAt(0)
	assert.Equal(t, 0, rec.Score)
	assert.Equal(t, types.StatusRejected, rec.Status)
}

// 同一 ID 不去重，重复入队会被评估两次
func TestDuplicateEnqueueProcessedTwice(t *testing.T) {
	store := newFakeStore()
	seedApplication(store, "app-1")
	eval := &fakeEvaluator{}

	q := startQueue(t, store, eval)
	require.NoError(t, q.Enqueue("app-1"))
	require.NoError(t, q.Enqueue("app-1"))
	waitFor(t, func() bool { return store.evaluationCount() == 2 })

	assert.Equal(t, 2, eval.callCount())
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	store := newFakeStore()
	eval := &fakeEvaluator{}
	q, err := NewEvaluationQueue(store, eval, WithCapacity(2))
	require.NoError(t, err)
	// 不启动工作协程，让条目滞留在队列里

	require.NoError(t, q.Enqueue("app-1"))
	require.NoError(t, q.Enqueue("app-2"))
	assert.ErrorIs(t, q.Enqueue("app-3"), ErrQueueFull)
	assert.Equal(t, 2, q.Size())
}

func TestEnqueueAfterStop(t *testing.T) {
	store := newFakeStore()
	eval := &fakeEvaluator{}
	q, err := NewEvaluationQueue(store, eval)
	require.NoError(t, err)
	q.Start(context.Background())
	q.Stop()

	assert.ErrorIs(t, q.Enqueue("app-1"), ErrQueueClosed)
}

func TestEnqueueEmptyID(t *testing.T) {
	store := newFakeStore()
	eval := &fakeEvaluator{}
	q, err := NewEvaluationQueue(store, eval)
	require.NoError(t, err)

	assert.Error(t, q.Enqueue(""))
}

// 并发突发入队时始终只有一个工作协程在排空
func TestSingleWorkerUnderConcurrentEnqueues(t *testing.T) {
	store := newFakeStore()
	eval := &fakeEvaluator{}

	const (
		producers = 8
		perWorker = 25
	)
	total := producers * perWorker
	for i := 0; i < total; i++ {
		seedApplication(store, fmt.Sprintf("app-%d", i))
	}

	q := startQueue(t, store, eval)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("app-%d", p*perWorker+i)
				assert.NoError(t, q.Enqueue(id))
			}
		}(p)
	}
	wg.Wait()

	waitFor(t, func() bool { return store.evaluationCount() == total })

	assert.Equal(t, 1, q.WorkerStarts())
	assert.Equal(t, total, eval.callCount())
	assert.Equal(t, 0, q.Size())
}

// FIFO：条目按入队顺序被评估
func TestFIFOOrder(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		seedApplication(store, fmt.Sprintf("app-%d", i))
	}
	eval := &fakeEvaluator{}

	q, err := NewEvaluationQueue(store, eval)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(fmt.Sprintf("app-%d", i)))
	}
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	waitFor(t, func() bool { return store.evaluationCount() == 5 })
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("app-%d", i), store.evaluationAt(i).ApplicationID)
	}
}

func strPtr(s string) *string {
	return &s
}
