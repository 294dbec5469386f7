// Package llmrun 封装模型调用的重试、限速与指标上报
package llmrun

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"z-novel-writer/internal/config"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
	"z-novel-writer/pkg/metrics"
)

// CallFunc 一次模型调用
type CallFunc func(ctx context.Context) (*schema.Message, error)

// Runner 按配置执行模型调用：失败线性退避重试，限流单独加长等待，
// 每次成功调用后强制节流，避免触发上游限流。
type Runner struct {
	maxRetries     int
	retryDelay     time.Duration
	rateLimitDelay time.Duration
	throttleDelay  time.Duration
}

func NewRunner(cfg *config.WriterConfig) *Runner {
	return &Runner{
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		rateLimitDelay: cfg.RateLimitDelay,
		throttleDelay:  cfg.RateLimitDelay,
	}
}

// Do 执行调用直至成功或重试耗尽，首次调用之外最多重试 maxRetries 次。
// 上下文取消立即返回；认证类错误不重试。
func (r *Runner) Do(ctx context.Context, op string, fn CallFunc) (*schema.Message, error) {
	attempts := r.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInterrupted, "模型调用被中断", err)
		}

		start := time.Now()
		msg, err := fn(ctx)
		metrics.LLMCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.LLMCallTotal.WithLabelValues(op, "success").Inc()
			recordUsage(op, msg)
			if sleepErr := sleepCtx(ctx, r.throttleDelay); sleepErr != nil {
				return msg, nil
			}
			return msg, nil
		}

		metrics.LLMCallTotal.WithLabelValues(op, "error").Inc()
		lastErr = err

		code := Classify(err)
		if code == apperrors.CodeLLMAuth || code == apperrors.CodeLLMFatal {
			return nil, apperrors.Wrap(code, "模型调用失败", err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.CodeInterrupted, "模型调用被中断", err)
		}

		if attempt < attempts-1 {
			metrics.LLMRetryTotal.WithLabelValues(op).Inc()
			wait := r.retryDelay * time.Duration(attempt+1)
			if code == apperrors.CodeLLMTransient && isRateLimited(err) {
				wait = r.rateLimitDelay * time.Duration(attempt+1)
			}
			logger.Warn(ctx, "模型调用失败，等待重试", err,
				"op", op, "attempt", attempt+1, "wait", wait.String())
			if sleepErr := sleepCtx(ctx, wait); sleepErr != nil {
				return nil, apperrors.Wrap(apperrors.CodeInterrupted, "模型调用被中断", sleepErr)
			}
		}
	}

	return nil, apperrors.Wrap(apperrors.CodeLLMTransient, "模型调用重试耗尽", lastErr)
}

// Classify 根据错误信息推断错误类别。
// 上游 SDK 不暴露结构化错误码，这里按常见关键字归类，未知错误一律视为瞬时错误重试。
func Classify(err error) apperrors.ErrorCode {
	if err == nil {
		return apperrors.CodeUnknown
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "permission denied"):
		return apperrors.CodeLLMAuth
	case strings.Contains(msg, "400"), strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "context length"), strings.Contains(msg, "maximum context"):
		return apperrors.CodeLLMFatal
	default:
		return apperrors.CodeLLMTransient
	}
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "quota")
}

func recordUsage(op string, msg *schema.Message) {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return
	}
	usage := msg.ResponseMeta.Usage
	metrics.LLMTokensUsed.WithLabelValues(op, "prompt").Add(float64(usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(op, "completion").Add(float64(usage.CompletionTokens))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
