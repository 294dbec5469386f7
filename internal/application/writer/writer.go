// Package writer 负责章节初稿写作与按审阅意见修订
package writer

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"z-novel-writer/internal/application/llmrun"
	"z-novel-writer/internal/application/storyutil"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/workflow/chain"
	wfmodel "z-novel-writer/internal/workflow/model"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
)

// 初稿字数不足时的最大重写次数
const maxDraftRewrites = 2

// 全文重写的篇幅失衡判定系数
const (
	fullRewriteLowRatio  = 0.8
	fullRewriteHighRatio = 1.2
)

// 修订时原文送入提示词的最大字符数
const (
	rewriteDraftMaxRunes = 2000
	polishDraftMaxRunes  = 3000
)

// GenChain 章节写作链接口
type GenChain interface {
	Invoke(ctx context.Context, in *wfmodel.ChapterGenerateInput) (*schema.Message, error)
}

// RefineChain 章节修订链接口
type RefineChain interface {
	Invoke(ctx context.Context, in *wfmodel.ChapterRefineInput) (*schema.Message, error)
}

// Writer 章节写作器
type Writer struct {
	gen    GenChain
	refine RefineChain
	runner *llmrun.Runner
	cfg    *config.Config
}

func NewWriter(gen GenChain, refine RefineChain, runner *llmrun.Runner, cfg *config.Config) *Writer {
	return &Writer{gen: gen, refine: refine, runner: runner, cfg: cfg}
}

// Draft 写作章节初稿。
// 字数低于下限时重写，重写次数耗尽后带着当前内容继续，由审阅环节把关。
func (w *Writer) Draft(ctx context.Context, state *entity.PipelineState, plan entity.ChapterPlan) (*entity.Chapter, error) {
	minWords, maxWords := w.cfg.Novel.MinWords(), w.cfg.Novel.MaxWords()

	in := &wfmodel.ChapterGenerateInput{
		Synopsis:        w.cfg.Novel.Synopsis,
		WritingStyle:    w.cfg.Novel.WritingStyle,
		StyleExample:    w.cfg.Novel.StyleExample,
		Characters:      w.cfg.Novel.CharactersText(),
		WorldSetting:    w.cfg.Novel.WorldSetting,
		ChapterNumber:   plan.Number,
		TotalChapters:   w.cfg.Novel.TargetChapters,
		ChapterTitle:    plan.Title,
		ChapterOutline:  plan.Outline,
		OutlineMap:      state.OutlineMap(plan.Number),
		ShortTermMemory: state.ShortTerm.PromptText(),
		LongTermMemory:  state.LongTerm.PromptText(),
		MinWords:        minWords,
		MaxWords:        maxWords,
		Options:         w.writerOptions(w.generationTokens(maxWords)),
	}
	if next := state.PlanAfter(plan.Number); next != nil {
		in.NextOutline = next.Outline
	}

	var content string
	var meta wfmodel.LLMUsageMeta
	for attempt := 0; ; attempt++ {
		msg, err := w.runner.Do(ctx, "chapter_generate", func(ctx context.Context) (*schema.Message, error) {
			return w.gen.Invoke(ctx, in)
		})
		if err != nil {
			return nil, err
		}

		content = storyutil.CleanChapterOutput(msg.Content)
		meta = chain.UsageFromMessage(msg, in.Options)
		if content == "" {
			return nil, apperrors.New(apperrors.CodeLLMBadOutput, "章节初稿内容为空")
		}

		words := storyutil.CountWords(content)
		if words >= minWords || attempt >= maxDraftRewrites {
			if words < minWords {
				logger.Warn(ctx, "初稿字数仍不足，带病继续", nil,
					"chapter", plan.Number, "words", words, "min", minWords)
			}
			break
		}
		logger.Warn(ctx, "初稿字数不足，重写", nil,
			"chapter", plan.Number, "words", words, "min", minWords, "attempt", attempt+1)
	}

	ch := &entity.Chapter{
		Number:    plan.Number,
		Title:     plan.Title,
		Outline:   plan.Outline,
		Content:   content,
		WordCount: storyutil.CountWords(content),
		Generation: &entity.GenerationMetadata{
			Provider:         meta.Provider,
			Model:            meta.Model,
			PromptTokens:     meta.PromptTokens,
			CompletionTokens: meta.CompletionTokens,
			GeneratedAt:      meta.GeneratedAt,
		},
	}
	logger.Info(ctx, "初稿完成", "chapter", ch.Number, "words", ch.WordCount,
		"target_min", minWords, "target_max", maxWords)
	return ch, nil
}

// Refine 按审阅意见修订章节。
// 篇幅严重失衡时整章重写，否则保量润色。
func (w *Writer) Refine(ctx context.Context, ch *entity.Chapter, feedback string) (string, error) {
	minWords, maxWords := w.cfg.Novel.MinWords(), w.cfg.Novel.MaxWords()
	fullRewrite := float64(ch.WordCount) < float64(minWords)*fullRewriteLowRatio ||
		float64(ch.WordCount) > float64(maxWords)*fullRewriteHighRatio

	draft := ch.Content
	maxTokens := w.generationTokens(ch.WordCount)
	if fullRewrite {
		draft = storyutil.ElideMiddle(draft, rewriteDraftMaxRunes)
		maxTokens = w.generationTokens(maxWords)
		logger.Info(ctx, "篇幅失衡，整章重写", "chapter", ch.Number,
			"words", ch.WordCount, "target_min", minWords, "target_max", maxWords)
	} else {
		draft = storyutil.ElideMiddle(draft, polishDraftMaxRunes)
	}

	in := &wfmodel.ChapterRefineInput{
		WritingStyle:  w.cfg.Novel.WritingStyle,
		StyleExample:  w.cfg.Novel.StyleExample,
		ChapterNumber: ch.Number,
		Draft:         draft,
		Feedback:      feedback,
		MinWords:      minWords,
		MaxWords:      maxWords,
		FullRewrite:   fullRewrite,
		Options:       w.writerOptions(maxTokens),
	}

	msg, err := w.runner.Do(ctx, "chapter_refine", func(ctx context.Context) (*schema.Message, error) {
		return w.refine.Invoke(ctx, in)
	})
	if err != nil {
		return "", err
	}

	content := storyutil.CleanChapterOutput(msg.Content)
	if content == "" {
		return "", apperrors.New(apperrors.CodeLLMBadOutput, "修订稿内容为空")
	}
	logger.Info(ctx, "修订完成", "chapter", ch.Number,
		"words_before", ch.WordCount, "words_after", storyutil.CountWords(content))
	return content, nil
}

// generationTokens 按目标字数估算生成 Token 上限，并受全局上限约束
func (w *Writer) generationTokens(words int) int {
	estimated := int(float64(words) * 1.5)
	if limit := w.cfg.Writer.MaxGenerationTokens; limit > 0 && estimated > limit {
		return limit
	}
	if estimated <= 0 {
		return w.cfg.Writer.MaxGenerationTokens
	}
	return estimated
}

func (w *Writer) writerOptions(maxTokens int) wfmodel.CallOptions {
	temp := float32(w.cfg.Writer.WriterTemperature)
	opts := wfmodel.CallOptions{
		Provider:    w.cfg.RoleProvider(w.cfg.Writer.WriterProvider),
		Model:       w.cfg.Writer.WriterModel,
		Temperature: &temp,
	}
	if maxTokens > 0 {
		opts.MaxTokens = &maxTokens
	}
	return opts
}
