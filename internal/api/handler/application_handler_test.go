package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-board-go/internal/config"
	"job-board-go/internal/queue"
	"job-board-go/internal/storage"
	"job-board-go/internal/storage/models"
	"job-board-go/internal/types"
)

// fakeDirectory 提交路径的内存版数据库
type fakeDirectory struct {
	job        *models.Job
	jobErr     error
	created    []*models.Application
	documentID string
}

func (f *fakeDirectory) FindJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return f.job, nil
}

func (f *fakeDirectory) CreateApplication(ctx context.Context, application *models.Application) error {
	f.created = append(f.created, application)
	return nil
}

func (f *fakeDirectory) UpdateExternalDocumentID(ctx context.Context, applicationID string, documentID string) error {
	f.documentID = documentID
	return nil
}

func (f *fakeDirectory) FindApplicationByID(ctx context.Context, applicationID string) (*models.Application, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeDirectory) ListApplicationsByApplicant(ctx context.Context, applicantID string) ([]models.Application, error) {
	return nil, nil
}

// fakeObjects 内存版简历对象存储
type fakeObjects struct {
	uploads int
}

func (f *fakeObjects) UploadResume(ctx context.Context, applicationID, fileExt string, reader io.Reader, fileSize int64) (string, string, error) {
	f.uploads++
	return "resumes/originals/" + applicationID + fileExt, "d41d8cd98f00b204e9800998ecf8427e", nil
}

// stubEvaluator 固定返回同一个文档ID与结果
type stubEvaluator struct {
	fileID string
}

func (s *stubEvaluator) UploadDocument(ctx context.Context, reader io.Reader, filename string) (string, error) {
	return s.fileID, nil
}

func (s *stubEvaluator) Evaluate(ctx context.Context, documentID string, job *models.Job) (*types.EvaluationResult, error) {
	return &types.EvaluationResult{Score: 5, Feedback: "一般"}, nil
}

// stubQueueStore 让队列能构造出来，但本文件的测试不启动worker
type stubQueueStore struct{}

func (stubQueueStore) FindApplicationByID(ctx context.Context, applicationID string) (*models.Application, error) {
	return nil, storage.ErrNotFound
}

func (stubQueueStore) FindJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	return nil, storage.ErrNotFound
}

func (stubQueueStore) SetStatus(ctx context.Context, applicationID string, status types.ApplicationStatus) error {
	return nil
}

func (stubQueueStore) SetEvaluation(ctx context.Context, applicationID string, score int, feedback string, status types.ApplicationStatus) error {
	return nil
}

func newTestQueue(t *testing.T) *queue.EvaluationQueue {
	t.Helper()
	q, err := queue.NewEvaluationQueue(stubQueueStore{}, &stubEvaluator{fileID: "file-test"})
	require.NoError(t, err)
	return q
}

// multipartSubmission 构造一个带简历文件的提交请求
func multipartSubmission(t *testing.T, fields map[string]string, resume []byte) *app.RequestContext {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	part, err := writer.CreateFormFile("resume", "resume.pdf")
	require.NoError(t, err)
	_, err = part.Write(resume)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return ut.CreateUtRequestContext("POST", "/api/v1/applications",
		&ut.Body{Body: bytes.NewReader(body.Bytes()), Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: writer.FormDataContentType()})
}

func submissionHandler(db *fakeDirectory, q *queue.EvaluationQueue) *ApplicationHandler {
	return &ApplicationHandler{
		cfg:       &config.Config{},
		db:        db,
		objects:   &fakeObjects{},
		evaluator: &stubEvaluator{fileID: "file-test"},
		queue:     q,
	}
}

// 必填字段缺失时在触碰任何外部依赖之前返回400
func TestHandleSubmitApplicationMissingFields(t *testing.T) {
	h := NewApplicationHandler(&config.Config{}, &storage.Storage{}, nil, nil)

	c := ut.CreateUtRequestContext("POST", "/api/v1/applications", nil)

	h.HandleSubmitApplication(context.Background(), c)
	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
}

// 岗位已停止招聘的申请被拒绝，不会落库也不会入队
func TestHandleSubmitApplicationClosedJob(t *testing.T) {
	db := &fakeDirectory{job: &models.Job{JobID: "job-1", Title: "Go后端工程师", Status: models.JobStatusClosed}}
	q := newTestQueue(t)
	h := submissionHandler(db, q)

	c := multipartSubmission(t, map[string]string{
		"job_id":    "job-1",
		"full_name": "张三",
		"email":     "zhangsan@example.com",
	}, []byte("resume bytes"))

	h.HandleSubmitApplication(context.Background(), c)
	assert.Equal(t, consts.StatusConflict, c.Response.StatusCode())
	assert.Empty(t, db.created)
	assert.Equal(t, 0, q.Size())
}

// 岗位不存在返回404
func TestHandleSubmitApplicationJobNotFound(t *testing.T) {
	db := &fakeDirectory{jobErr: storage.ErrNotFound}
	h := submissionHandler(db, newTestQueue(t))

	c := multipartSubmission(t, map[string]string{
		"job_id":    "job-gone",
		"full_name": "张三",
		"email":     "zhangsan@example.com",
	}, []byte("resume bytes"))

	h.HandleSubmitApplication(context.Background(), c)
	assert.Equal(t, consts.StatusNotFound, c.Response.StatusCode())
}

// 完整提交链路：落库pending、记录文档ID、入队，返回201
func TestHandleSubmitApplicationSuccess(t *testing.T) {
	db := &fakeDirectory{job: &models.Job{JobID: "job-1", Title: "Go后端工程师", Status: models.JobStatusActive}}
	q := newTestQueue(t)
	h := submissionHandler(db, q)

	c := multipartSubmission(t, map[string]string{
		"job_id":    "job-1",
		"full_name": "张三",
		"email":     "zhangsan@example.com",
	}, []byte("resume bytes"))

	h.HandleSubmitApplication(context.Background(), c)
	assert.Equal(t, consts.StatusCreated, c.Response.StatusCode())

	require.Len(t, db.created, 1)
	assert.Equal(t, types.StatusPending, db.created[0].Status)
	assert.Equal(t, "job-1", db.created[0].JobID)
	assert.Equal(t, "file-test", db.documentID)
	assert.Equal(t, 1, q.Size())
}

// 空简历文件返回400
func TestHandleSubmitApplicationEmptyResume(t *testing.T) {
	db := &fakeDirectory{job: &models.Job{JobID: "job-1", Status: models.JobStatusActive}}
	h := submissionHandler(db, newTestQueue(t))

	c := multipartSubmission(t, map[string]string{
		"job_id":    "job-1",
		"full_name": "张三",
		"email":     "zhangsan@example.com",
	}, nil)

	h.HandleSubmitApplication(context.Background(), c)
	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
	assert.Empty(t, db.created)
}

// 反馈在评估结束前对申请人不可见
func TestApplicationViewFeedbackVisibility(t *testing.T) {
	tests := []struct {
		status  types.ApplicationStatus
		visible bool
	}{
		{types.StatusPending, false},
		{types.StatusEvaluating, false},
		{types.StatusRejected, true},
		{types.StatusUnderReview, true},
		{types.StatusAccepted, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			view := toApplicationView(&models.Application{
				ApplicationID: "app-1",
				JobID:         "job-1",
				Status:        tt.status,
				AIFeedback:    "匹配度不错",
			})
			if tt.visible {
				assert.Equal(t, "匹配度不错", view.AIFeedback)
			} else {
				assert.Empty(t, view.AIFeedback)
			}
		})
	}
}

func TestHandleListMyApplicationsMissingApplicantID(t *testing.T) {
	h := NewApplicationHandler(&config.Config{}, &storage.Storage{}, nil, nil)

	c := ut.CreateUtRequestContext("GET", "/api/v1/applicants//applications", nil)

	h.HandleListMyApplications(context.Background(), c)
	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
}
