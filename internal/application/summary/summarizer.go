// Package summary 负责章节核心信息提取
package summary

import (
	"context"
	"encoding/json"
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

// 送入摘要提示词的正文最大字符数
const summarySampleRunes = 3000

// Chain 章节摘要链接口
type Chain interface {
	Invoke(ctx context.Context, in *wfmodel.ChapterSummarizeInput) (*schema.Message, error)
}

// Summarizer 章节摘要器
type Summarizer struct {
	chain  Chain
	runner *llmrun.Runner
	cfg    *config.Config
}

func NewSummarizer(ch Chain, runner *llmrun.Runner, cfg *config.Config) *Summarizer {
	return &Summarizer{chain: ch, runner: runner, cfg: cfg}
}

// Summarize 提取章节摘要、关键事件、人物变化与新设定
func (s *Summarizer) Summarize(ctx context.Context, ch *entity.Chapter) (*entity.ChapterSummary, error) {
	in := &wfmodel.ChapterSummarizeInput{
		ChapterNumber: ch.Number,
		ChapterTitle:  ch.Title,
		Content:       storyutil.ElideMiddle(ch.Content, summarySampleRunes),
		Options:       s.summarizerOptions(),
	}

	msg, err := s.runner.Do(ctx, "chapter_summary", func(ctx context.Context) (*schema.Message, error) {
		return s.chain.Invoke(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	jsonText := storyutil.ExtractJSONObject(storyutil.StripCodeFence(msg.Content))
	if jsonText == "" {
		return nil, apperrors.New(apperrors.CodeLLMBadOutput, "摘要响应中未找到 JSON 对象")
	}

	var payload wfmodel.SummaryPayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMBadOutput, "摘要 JSON 解析失败", err)
	}
	if strings.TrimSpace(payload.Summary) == "" {
		return nil, apperrors.New(apperrors.CodeLLMBadOutput, "摘要内容为空")
	}

	logger.Info(ctx, "摘要完成", "chapter", ch.Number,
		"key_events", len(payload.KeyEvents), "character_changes", len(payload.CharacterChanges))
	return &entity.ChapterSummary{
		Summary:          strings.TrimSpace(payload.Summary),
		KeyEvents:        payload.KeyEvents,
		CharacterChanges: payload.CharacterChanges,
		NewInfo:          payload.NewInfo,
	}, nil
}

func (s *Summarizer) summarizerOptions() wfmodel.CallOptions {
	temp := float32(s.cfg.Writer.SummarizerTemperature)
	return wfmodel.CallOptions{
		Provider:    s.cfg.RoleProvider(s.cfg.Writer.EditorProvider),
		Model:       s.cfg.Writer.EditorModel,
		Temperature: &temp,
	}
}
