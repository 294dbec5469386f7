package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	wfmodel "z-novel-writer/internal/workflow/model"
	workflowport "z-novel-writer/internal/workflow/port"
	workflowprompt "z-novel-writer/internal/workflow/prompt"
)

// ChapterChain 章节初稿写作链
type ChapterChain struct {
	factory workflowport.ChatModelFactory
}

func NewChapterChain(factory workflowport.ChatModelFactory) *ChapterChain {
	return &ChapterChain{factory: factory}
}

func (c *ChapterChain) Invoke(ctx context.Context, in *wfmodel.ChapterGenerateInput) (*schema.Message, error) {
	if c == nil || c.factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if in == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Options.Provider) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(in.ChapterOutline) == "" {
		return nil, fmt.Errorf("chapter outline is required")
	}
	if in.MinWords <= 0 || in.MaxWords < in.MinWords {
		return nil, fmt.Errorf("invalid word range: %d~%d", in.MinWords, in.MaxWords)
	}

	chatModel, err := c.factory.Get(ctx, strings.TrimSpace(in.Options.Provider))
	if err != nil {
		return nil, err
	}

	msgs, err := formatChapterMessages(ctx, in)
	if err != nil {
		return nil, err
	}

	outMsg, err := chatModel.Generate(ctx, msgs, buildModelOptions(in.Options)...)
	if err != nil {
		return nil, err
	}
	if outMsg == nil {
		return nil, fmt.Errorf("empty llm response")
	}
	return outMsg, nil
}

var chapterPromptRegistry = workflowprompt.NewRegistry()

func formatChapterMessages(ctx context.Context, in *wfmodel.ChapterGenerateInput) ([]*schema.Message, error) {
	tpl, err := chapterPromptRegistry.ChatTemplate(workflowprompt.PromptChapterGenV1)
	if err != nil {
		return nil, err
	}

	nextOutline := "这是全书的最后一章，请收束所有主要情节。"
	if strings.TrimSpace(in.NextOutline) != "" {
		nextOutline = fmt.Sprintf("下一章（第 %d 章）概要：%s", in.ChapterNumber+1, strings.TrimSpace(in.NextOutline))
	}

	vars := map[string]any{
		"synopsis":          strings.TrimSpace(in.Synopsis),
		"writing_style":     strings.TrimSpace(in.WritingStyle),
		"style_example":     strings.TrimSpace(in.StyleExample),
		"characters":        strings.TrimSpace(in.Characters),
		"world_setting":     strings.TrimSpace(in.WorldSetting),
		"outline_map":       strings.TrimSpace(in.OutlineMap),
		"short_term_memory": strings.TrimSpace(in.ShortTermMemory),
		"long_term_memory":  strings.TrimSpace(in.LongTermMemory),
		"chapter_number":    in.ChapterNumber,
		"total_chapters":    in.TotalChapters,
		"chapter_title":     strings.TrimSpace(in.ChapterTitle),
		"chapter_outline":   strings.TrimSpace(in.ChapterOutline),
		"next_outline":      nextOutline,
		"min_words":         in.MinWords,
		"max_words":         in.MaxWords,
	}
	return tpl.Format(ctx, vars)
}
