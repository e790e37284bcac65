package tracing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "张*", MaskPII("张三"))
	assert.Equal(t, "王*明", MaskPII("王小明"))
	assert.Equal(t, "13*******78", MaskPII("13812345678"))

	masked := MaskPII("myemail@example.com")
	assert.True(t, strings.HasPrefix(masked, "my"))
	assert.True(t, strings.HasSuffix(masked, "om"))
	assert.Contains(t, masked, "*")
}

func TestSafeAttributeValue(t *testing.T) {
	// 敏感字段名触发掩码
	assert.Contains(t, SafeAttributeValue("applicant.email", "someone@example.com", DefaultMaxLength), "*")
	assert.Contains(t, SafeAttributeValue("phone_number", "13812345678", DefaultMaxLength), "*")

	// 普通字段只做截断
	long := strings.Repeat("x", 300)
	safe := SafeAttributeValue("job.description", long, DefaultMaxLength)
	assert.LessOrEqual(t, len([]rune(safe)), DefaultMaxLength)
	assert.Contains(t, safe, "...")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))

	truncated := TruncateString(strings.Repeat("a", 100)+strings.Repeat("b", 100), 21)
	assert.Contains(t, truncated, "...")
	assert.LessOrEqual(t, len([]rune(truncated)), 21)
}

func TestSafeFeedback(t *testing.T) {
	short := "经验匹配度高"
	assert.Equal(t, short, SafeFeedback(short))

	long := strings.Repeat("反馈", 200)
	assert.LessOrEqual(t, len([]rune(SafeFeedback(long))), MaxFeedbackLength)
}
