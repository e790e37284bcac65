package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"job-board-go/internal/storage/models"
	"job-board-go/internal/tracing"
	"job-board-go/internal/types"
)

var evaluatorTracer = otel.Tracer("job-board-go/evaluator")

const (
	defaultChatCompletionsURL = "https://api.openai.com/v1/chat/completions"
	defaultFilesAPIURL        = "https://api.openai.com/v1/files"
	defaultModelName          = "gpt-4o-mini"
)

// AIEvaluator 外部AI评分能力的适配器契约
// 两个操作都是无状态的网络调用，调用之间不保留任何本地状态
type AIEvaluator interface {
	// UploadDocument 把本地简历原件传到AI服务商的文件存储，返回服务商侧文件ID
	// 在提交路径（队列之外）调用；失败返回 ErrUpload
	UploadDocument(ctx context.Context, reader io.Reader, filename string) (string, error)

	// Evaluate 基于服务商侧文件ID与岗位信息评估匹配度
	// 分数钳制到 [1,10]；失败返回 ErrEvaluation
	Evaluate(ctx context.Context, documentID string, job *models.Job) (*types.EvaluationResult, error)
}

// 确保OpenAIEvaluator实现了AIEvaluator接口
var _ AIEvaluator = (*OpenAIEvaluator)(nil)

// OpenAIEvaluator 基于OpenAI兼容接口的评估器实现
type OpenAIEvaluator struct {
	apiKey         string
	modelName      string
	apiURL         string
	filesAPIURL    string
	httpClient     *http.Client
	promptTemplate string
	limiter        *RateLimiter // nil表示不限流
}

// OpenAIEvaluatorOption 评估器的配置选项
type OpenAIEvaluatorOption func(*OpenAIEvaluator)

// WithHTTPClient 替换HTTP客户端（测试用）
func WithHTTPClient(client *http.Client) OpenAIEvaluatorOption {
	return func(e *OpenAIEvaluator) {
		e.httpClient = client
	}
}

// WithCustomPromptTemplate 设置自定义提示词模板
func WithCustomPromptTemplate(template string) OpenAIEvaluatorOption {
	return func(e *OpenAIEvaluator) {
		e.promptTemplate = template
	}
}

// WithRateLimiter 设置请求速率限制，上传和评估共享同一配额
func WithRateLimiter(limiter *RateLimiter) OpenAIEvaluatorOption {
	return func(e *OpenAIEvaluator) {
		e.limiter = limiter
	}
}

// NewOpenAIEvaluator 创建一个新的评估器实例
func NewOpenAIEvaluator(apiKey, modelName, apiURL, filesAPIURL string, options ...OpenAIEvaluatorOption) (*OpenAIEvaluator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultModelName
	}
	url := apiURL
	if strings.TrimSpace(url) == "" {
		url = defaultChatCompletionsURL
	}
	filesURL := filesAPIURL
	if strings.TrimSpace(filesURL) == "" {
		filesURL = defaultFilesAPIURL
	}

	e := &OpenAIEvaluator{
		apiKey:      apiKey,
		modelName:   mn,
		apiURL:      url,
		filesAPIURL: filesURL,
		httpClient:  &http.Client{},
	}

	e.generatePromptTemplate()

	for _, opt := range options {
		opt(e)
	}

	return e, nil
}

// generatePromptTemplate 生成默认的评估Prompt模板
// 占位符顺序: 岗位标题 / 任职要求 / 岗位描述 / 工作地点
func (e *OpenAIEvaluator) generatePromptTemplate() {
	e.promptTemplate = `Evaluate this candidate's resume against the following job requirements:

Job Title: %s
Requirements: %s
Description: %s
Location: %s

Please provide:
1. A score from 1-10 (10 being perfect match)
2. Brief feedback (2-3 sentences) explaining the score

Focus on:
- Relevant skills and experience
- Education background
- Cultural fit indicators
- Years of experience match

Format your response as JSON:
{
  "score": <number>,
  "feedback": "<string>"
}`
}

// --- OpenAI Files API 结构 ---

type openAIFileResponse struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

// UploadDocument 用multipart把简历传到Files API，purpose固定为assistants
func (e *OpenAIEvaluator) UploadDocument(ctx context.Context, reader io.Reader, filename string) (string, error) {
	ctx, span := evaluatorTracer.Start(ctx, "OpenAIEvaluator.UploadDocument",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("file.name", filename)))
	defer span.End()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return "", NewUploadError(fmt.Sprintf("写入purpose字段失败: %v", err))
	}
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", NewUploadError(fmt.Sprintf("创建multipart字段失败: %v", err))
	}
	if _, err := io.Copy(part, reader); err != nil {
		return "", NewUploadError(fmt.Sprintf("读取简历内容失败: %v", err))
	}
	if err := writer.Close(); err != nil {
		return "", NewUploadError(fmt.Sprintf("关闭multipart写入器失败: %v", err))
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", NewUploadError(fmt.Sprintf("等待限流配额失败: %v", err))
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.filesAPIURL, &body)
	if err != nil {
		return "", NewUploadError(fmt.Sprintf("创建 HTTP 请求失败: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return "", NewUploadError(fmt.Sprintf("发送 HTTP 请求失败: %v", err))
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", NewUploadError(fmt.Sprintf("读取响应体失败: %v", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, httpResp.Status)
		return "", NewUploadError(fmt.Sprintf("API 请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes)))
	}

	var fileResp openAIFileResponse
	if err := json.Unmarshal(bodyBytes, &fileResp); err != nil {
		return "", NewUploadError(fmt.Sprintf("反序列化 API 响应失败: %v", err))
	}
	if fileResp.ID == "" {
		return "", NewUploadError("API 响应中缺少文件ID")
	}

	span.SetAttributes(attribute.String("file.id", fileResp.ID))
	span.SetStatus(codes.Ok, "")
	return fileResp.ID, nil
}

// --- Chat Completions 结构 ---

// 消息内容既可以是纯文本也可以是内容分片数组（文件引用+文本）
type openAIContentPart struct {
	Type string          `json:"type"` // "file" 或 "text"
	File *openAIFilePart `json:"file,omitempty"`
	Text string          `json:"text,omitempty"`
}

type openAIFilePart struct {
	FileID string `json:"file_id"`
}

type openAIChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatCompletionRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
	Temperature    float64               `json:"temperature"`
}

type openAIChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openAICompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
}

// rawEvaluation LLM返回的原始JSON结构
// score按float64解析，模型偶尔会给出7.5这类小数分
type rawEvaluation struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Evaluate 发送结构化Prompt引用已上传的简历文件，要求严格的score+feedback JSON输出
func (e *OpenAIEvaluator) Evaluate(ctx context.Context, documentID string, job *models.Job) (*types.EvaluationResult, error) {
	if documentID == "" {
		return nil, NewEvaluationError("文档ID为空")
	}
	if job == nil {
		return nil, NewEvaluationError("岗位信息为空")
	}

	ctx, span := evaluatorTracer.Start(ctx, "OpenAIEvaluator.Evaluate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("document.id", documentID),
			attribute.String("job.id", job.JobID),
			attribute.String("llm.model", e.modelName),
		))
	defer span.End()

	prompt := fmt.Sprintf(e.promptTemplate, job.Title, job.Requirements, job.Description, job.Location)

	reqPayload := openAIChatCompletionRequest{
		Model: e.modelName,
		Messages: []openAIChatMessage{
			{
				Role:    "system",
				Content: "You are an expert HR recruiter evaluating candidate resumes. Provide honest, constructive feedback in JSON format.",
			},
			{
				Role: "user",
				Content: []openAIContentPart{
					{Type: "file", File: &openAIFilePart{FileID: documentID}},
					{Type: "text", Text: prompt},
				},
			},
		},
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
		Temperature:    0.3,
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, NewEvaluationError(fmt.Sprintf("序列化请求体失败: %v", err))
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, NewEvaluationError(fmt.Sprintf("等待限流配额失败: %v", err))
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewEvaluationError(fmt.Sprintf("创建 HTTP 请求失败: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return nil, NewEvaluationError(fmt.Sprintf("发送 HTTP 请求失败: %v", err))
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewEvaluationError(fmt.Sprintf("读取响应体失败: %v", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, httpResp.Status)
		return nil, NewEvaluationError(fmt.Sprintf("API 请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes)))
	}

	var openAIResp openAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &openAIResp); err != nil {
		return nil, NewEvaluationError(fmt.Sprintf("反序列化 API 响应失败: %v", err))
	}
	if len(openAIResp.Choices) == 0 {
		return nil, NewEvaluationError("从 API 收到空选项")
	}

	content := openAIResp.Choices[0].Message.Content
	if content == nil || *content == "" {
		return nil, NewEvaluationError("LLM返回了空响应")
	}

	result, err := parseEvaluationContent(*content)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return nil, err
	}

	span.SetAttributes(attribute.Int("evaluation.score", result.Score))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// parseEvaluationContent 从LLM输出中提取并校验评估JSON
func parseEvaluationContent(content string) (*types.EvaluationResult, error) {
	// 去掉BOM
	processed := strings.TrimPrefix(content, "\uFEFF")

	jsonStr := extractJSONFromResponse(processed)
	if jsonStr == "" {
		return nil, NewEvaluationError(fmt.Sprintf("无法从LLM响应中提取JSON: %.200s", processed))
	}

	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var raw rawEvaluation
	// ① 正常解析
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		// ② 解析失败 -> 自动修复再试一次
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &raw); jsonErr != nil {
			return nil, NewEvaluationError(fmt.Sprintf("反序列化LLM JSON响应失败: %v (修复后: %v)", err, jsonErr))
		}
	}

	if raw.Feedback == "" {
		return nil, NewEvaluationError("LLM响应缺少feedback字段")
	}

	// 四舍五入到整数后再钳制
	return &types.EvaluationResult{
		Score:    types.ClampScore(int(math.Round(raw.Score))),
		Feedback: raw.Feedback,
	}, nil
}

// extractJSONFromResponse 从文本中提取第一个配平的JSON对象
func extractJSONFromResponse(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == '{' {
			level++
		} else if text[i] == '}' {
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeJSON 把字符串字面量内部未转义的双引号改写成 \"
// 通过检查下一个非空白字符是否为 :, ], }, 或 , 来判断该 " 是否为字符串的真正结束
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					b.WriteString("\\\"")
				}
			}
			escaped = false

		} else if c == '\\' && !escaped {
			escaped = true
			b.WriteByte(c)

		} else {
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}
