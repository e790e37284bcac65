package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, status := range AllStatuses() {
		parsed, err := ParseStatus(string(status))
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
	}

	invalid := []string{"", "unknown", "PENDING", "Pending", "approved", "pending "}
	for _, s := range invalid {
		_, err := ParseStatus(s)
		assert.Error(t, err, "应当拒绝 %q", s)
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, StatusPending.IsValid())
	assert.True(t, StatusAccepted.IsValid())
	assert.False(t, ApplicationStatus("bogus").IsValid())
	assert.False(t, ApplicationStatus("").IsValid())
}

func TestIsTerminalForQueue(t *testing.T) {
	assert.False(t, StatusPending.IsTerminalForQueue())
	assert.False(t, StatusEvaluating.IsTerminalForQueue())
	assert.True(t, StatusRejected.IsTerminalForQueue())
	assert.True(t, StatusUnderReview.IsTerminalForQueue())
	assert.True(t, StatusAccepted.IsTerminalForQueue())
}

func TestCanQueueTransition(t *testing.T) {
	// 自动评估路径上的合法转移
	assert.True(t, CanQueueTransition(StatusPending, StatusEvaluating))
	assert.True(t, CanQueueTransition(StatusEvaluating, StatusRejected))
	assert.True(t, CanQueueTransition(StatusEvaluating, StatusUnderReview))

	// accepted 只能由HR覆写产生
	assert.False(t, CanQueueTransition(StatusEvaluating, StatusAccepted))
	assert.False(t, CanQueueTransition(StatusPending, StatusAccepted))

	// 终态不再转移
	for _, from := range []ApplicationStatus{StatusRejected, StatusUnderReview, StatusAccepted} {
		for _, to := range AllStatuses() {
			assert.False(t, CanQueueTransition(from, to), "%s -> %s 不应合法", from, to)
		}
	}

	// 不能跳过 evaluating
	assert.False(t, CanQueueTransition(StatusPending, StatusRejected))
	assert.False(t, CanQueueTransition(StatusPending, StatusUnderReview))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1, ClampScore(-10))
	assert.Equal(t, 1, ClampScore(0))
	assert.Equal(t, 1, ClampScore(1))
	assert.Equal(t, 5, ClampScore(5))
	assert.Equal(t, 10, ClampScore(10))
	assert.Equal(t, 10, ClampScore(99))
}
