// Package editor 负责章节审阅与质量评分
package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"z-novel-writer/internal/application/llmrun"
	"z-novel-writer/internal/application/storyutil"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/entity"
	wfmodel "z-novel-writer/internal/workflow/model"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
)

const (
	StatusApproved      = "approved"
	StatusNeedsRevision = "needs_revision"
)

// 审阅 JSON 解析失败时的额外重试次数
const maxBadOutputRetries = 2

// 送审正文的最大字符数，超出部分省略中段
const reviewSampleMaxRunes = 3000

// ReviewChain 章节审阅链接口
type ReviewChain interface {
	Invoke(ctx context.Context, in *wfmodel.ChapterReviewInput) (*schema.Message, error)
}

// Review 审阅结果
type Review struct {
	Scores   map[string]float64
	Average  float64
	Feedback string
	Status   string

	// LengthOK 字数是否落在目标区间内，是提交的硬性门槛
	LengthOK bool
	// Approved 综合判定：状态通过、平均分达标且字数合格
	Approved bool
}

// Editor 章节审阅器
type Editor struct {
	chain  ReviewChain
	runner *llmrun.Runner
	cfg    *config.Config
}

func NewEditor(ch ReviewChain, runner *llmrun.Runner, cfg *config.Config) *Editor {
	return &Editor{chain: ch, runner: runner, cfg: cfg}
}

// Review 审阅章节并给出评分与修改意见。
// 响应 JSON 不合法时重新调用，重试耗尽返回错误由上层决定降级策略。
func (e *Editor) Review(ctx context.Context, state *entity.PipelineState, ch *entity.Chapter) (*Review, error) {
	minWords, maxWords := e.cfg.Novel.MinWords(), e.cfg.Novel.MaxWords()

	in := &wfmodel.ChapterReviewInput{
		Synopsis:        e.cfg.Novel.Synopsis,
		WritingStyle:    e.cfg.Novel.WritingStyle,
		StyleExample:    e.cfg.Novel.StyleExample,
		Characters:      e.cfg.Novel.CharactersText(),
		WorldSetting:    e.cfg.Novel.WorldSetting,
		ChapterNumber:   ch.Number,
		ChapterTitle:    ch.Title,
		Content:         storyutil.ElideMiddle(ch.Content, reviewSampleMaxRunes),
		WordCount:       ch.WordCount,
		ShortTermMemory: state.ShortTerm.PromptText(),
		LongTermMemory:  state.LongTerm.PromptText(),
		MinWords:        minWords,
		MaxWords:        maxWords,
		Options:         e.editorOptions(),
	}

	var lastErr error
	for attempt := 0; attempt <= maxBadOutputRetries; attempt++ {
		msg, err := e.runner.Do(ctx, "chapter_review", func(ctx context.Context) (*schema.Message, error) {
			return e.chain.Invoke(ctx, in)
		})
		if err != nil {
			return nil, err
		}

		review, err := e.parseReview(msg.Content, ch, minWords, maxWords)
		if err == nil {
			logger.Info(ctx, "审阅完成", "chapter", ch.Number,
				"score", review.Average, "status", review.Status,
				"length_ok", review.LengthOK, "approved", review.Approved)
			return review, nil
		}
		lastErr = err
		logger.Warn(ctx, "审阅结果解析失败，重新审阅", err, "chapter", ch.Number, "attempt", attempt+1)
	}

	return nil, lastErr
}

func (e *Editor) parseReview(raw string, ch *entity.Chapter, minWords, maxWords int) (*Review, error) {
	jsonText := storyutil.ExtractJSONObject(storyutil.StripCodeFence(raw))
	if jsonText == "" {
		return nil, apperrors.New(apperrors.CodeLLMBadOutput, "审阅响应中未找到 JSON 对象")
	}

	var payload wfmodel.ReviewPayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMBadOutput, "审阅 JSON 解析失败", err)
	}
	if len(payload.Scores) == 0 {
		return nil, apperrors.New(apperrors.CodeLLMBadOutput, "审阅结果缺少评分")
	}

	var sum float64
	for _, v := range payload.Scores {
		if v < 0 || v > 10 {
			return nil, apperrors.New(apperrors.CodeLLMBadOutput,
				fmt.Sprintf("评分越界: %.1f", v))
		}
		sum += v
	}
	avg := sum / float64(len(payload.Scores))

	status := strings.TrimSpace(strings.ToLower(payload.Status))
	if status != StatusApproved {
		status = StatusNeedsRevision
	}

	feedback := strings.TrimSpace(payload.Feedback)
	if feedback == "" {
		feedback = "无具体意见。"
	}

	lengthOK := ch.WordCount >= minWords && ch.WordCount <= maxWords
	if !lengthOK {
		if ch.WordCount < minWords {
			feedback += fmt.Sprintf("\n[字数不足: %d/%d]", ch.WordCount, minWords)
		} else {
			feedback += fmt.Sprintf("\n[字数超出: %d/%d]", ch.WordCount, maxWords)
		}
	}

	return &Review{
		Scores:   payload.Scores,
		Average:  avg,
		Feedback: feedback,
		Status:   status,
		LengthOK: lengthOK,
		Approved: status == StatusApproved && avg >= e.cfg.Writer.ApprovalScoreThreshold && lengthOK,
	}, nil
}

func (e *Editor) editorOptions() wfmodel.CallOptions {
	temp := float32(e.cfg.Writer.EditorTemperature)
	opts := wfmodel.CallOptions{
		Provider:    e.cfg.RoleProvider(e.cfg.Writer.EditorProvider),
		Model:       e.cfg.Writer.EditorModel,
		Temperature: &temp,
	}
	if e.cfg.Writer.MaxReviewTokens > 0 {
		maxTokens := e.cfg.Writer.MaxReviewTokens
		opts.MaxTokens = &maxTokens
	}
	return opts
}
