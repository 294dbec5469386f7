package llmrun

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/config"
	apperrors "z-novel-writer/pkg/errors"
)

func newTestRunner(maxRetries int) *Runner {
	return NewRunner(&config.WriterConfig{
		MaxRetries: maxRetries,
		// 测试中不等待
		RetryDelay:     0,
		RateLimitDelay: 0,
	})
}

func TestRunnerSuccessFirstTry(t *testing.T) {
	r := newTestRunner(3)
	calls := 0
	msg, err := r.Do(context.Background(), "test", func(context.Context) (*schema.Message, error) {
		calls++
		return schema.AssistantMessage("ok", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "ok", msg.Content)
}

func TestRunnerRetriesTransientErrors(t *testing.T) {
	r := newTestRunner(3)
	calls := 0
	msg, err := r.Do(context.Background(), "test", func(context.Context) (*schema.Message, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return schema.AssistantMessage("ok", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "ok", msg.Content)
}

func TestRunnerExhaustsRetries(t *testing.T) {
	r := newTestRunner(2)
	calls := 0
	_, err := r.Do(context.Background(), "test", func(context.Context) (*schema.Message, error) {
		calls++
		return nil, errors.New("rate limit exceeded")
	})
	require.Error(t, err)
	// 首次调用 + 2 次重试
	assert.Equal(t, 3, calls)
	assert.Equal(t, apperrors.CodeLLMTransient, apperrors.CodeOf(err))
}

func TestRunnerZeroRetriesMeansSingleCall(t *testing.T) {
	r := newTestRunner(0)
	calls := 0
	_, err := r.Do(context.Background(), "test", func(context.Context) (*schema.Message, error) {
		calls++
		return nil, errors.New("connection reset by peer")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunnerDoesNotRetryAuthErrors(t *testing.T) {
	r := newTestRunner(5)
	calls := 0
	_, err := r.Do(context.Background(), "test", func(context.Context) (*schema.Message, error) {
		calls++
		return nil, errors.New("401 unauthorized")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperrors.CodeLLMAuth, apperrors.CodeOf(err))
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	r := newTestRunner(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Do(ctx, "test", func(context.Context) (*schema.Message, error) {
		t.Fatal("should not be called")
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsInterrupted(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, apperrors.CodeLLMAuth, Classify(errors.New("invalid api key provided")))
	assert.Equal(t, apperrors.CodeLLMFatal, Classify(errors.New("400 invalid request")))
	assert.Equal(t, apperrors.CodeLLMTransient, Classify(errors.New("429 too many requests")))
	assert.Equal(t, apperrors.CodeLLMTransient, Classify(errors.New("something odd")))
}
