// Package outline 负责全书章节结构的生成与校验
package outline

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

// Chain 大纲生成链接口，便于测试替换
type Chain interface {
	Invoke(ctx context.Context, in *wfmodel.OutlineGenerateInput) (*schema.Message, error)
}

// Generator 大纲生成器
type Generator struct {
	chain  Chain
	runner *llmrun.Runner
	cfg    *config.Config
}

func NewGenerator(ch Chain, runner *llmrun.Runner, cfg *config.Config) *Generator {
	return &Generator{chain: ch, runner: runner, cfg: cfg}
}

// Generate 生成并校验全书章节结构。
// 解析或校验失败时丢弃结果重新生成，重试耗尽返回校验失败错误。
func (g *Generator) Generate(ctx context.Context) ([]entity.ChapterPlan, error) {
	attempts := g.cfg.Writer.OutlineMaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		plans, err := g.generateOnce(ctx)
		if err == nil {
			logger.Info(ctx, "章节结构生成完成", "chapters", len(plans), "attempt", attempt)
			return plans, nil
		}
		if apperrors.IsInterrupted(err) {
			return nil, err
		}
		lastErr = err
		logger.Warn(ctx, "章节结构不合格，重新生成", err, "attempt", attempt, "max", attempts)
	}

	return nil, apperrors.Wrap(apperrors.CodeValidationFailed,
		fmt.Sprintf("章节结构生成失败（已尝试 %d 次）", attempts), lastErr)
}

func (g *Generator) generateOnce(ctx context.Context) ([]entity.ChapterPlan, error) {
	in := &wfmodel.OutlineGenerateInput{
		Synopsis:              g.cfg.Novel.Synopsis,
		WritingStyle:          g.cfg.Novel.WritingStyle,
		StyleExample:          g.cfg.Novel.StyleExample,
		Characters:            g.cfg.Novel.CharactersText(),
		WorldSetting:          g.cfg.Novel.WorldSetting,
		TargetChapters:        g.cfg.Novel.TargetChapters,
		TargetWordsPerChapter: g.cfg.Novel.TargetWordsPerChapter,
		Options:               g.callOptions(),
	}

	msg, err := g.runner.Do(ctx, "outline_generate", func(ctx context.Context) (*schema.Message, error) {
		return g.chain.Invoke(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	return parsePlans(msg.Content, g.cfg.Novel.TargetChapters)
}

func (g *Generator) callOptions() wfmodel.CallOptions {
	temp := float32(g.cfg.Writer.WriterTemperature)
	return wfmodel.CallOptions{
		Provider:    g.cfg.RoleProvider(g.cfg.Writer.WriterProvider),
		Model:       g.cfg.Writer.WriterModel,
		Temperature: &temp,
	}
}

// parsePlans 解析大纲 JSON 并做结构校验：数量、编号、标题与概要缺一不可
func parsePlans(raw string, want int) ([]entity.ChapterPlan, error) {
	jsonText := storyutil.ExtractJSONObject(storyutil.StripCodeFence(raw))
	if jsonText == "" {
		return nil, apperrors.New(apperrors.CodeLLMBadOutput, "大纲响应中未找到 JSON 对象")
	}

	var payload wfmodel.OutlinePayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMBadOutput, "大纲 JSON 解析失败", err)
	}

	if len(payload.Chapters) != want {
		return nil, apperrors.New(apperrors.CodeValidationFailed,
			fmt.Sprintf("章节数量不符：生成 %d 章，要求 %d 章", len(payload.Chapters), want))
	}

	plans := make([]entity.ChapterPlan, 0, want)
	for i, ch := range payload.Chapters {
		if ch.Number != i+1 {
			return nil, apperrors.New(apperrors.CodeValidationFailed,
				fmt.Sprintf("章节编号不连续：第 %d 项编号为 %d", i+1, ch.Number))
		}
		title := strings.TrimSpace(ch.Title)
		outline := strings.TrimSpace(ch.Outline)
		if title == "" || outline == "" {
			return nil, apperrors.New(apperrors.CodeValidationFailed,
				fmt.Sprintf("第 %d 章缺少标题或概要", ch.Number))
		}
		plans = append(plans, entity.ChapterPlan{Number: ch.Number, Title: title, Outline: outline})
	}
	return plans, nil
}
