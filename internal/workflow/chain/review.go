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

// ReviewChain 章节审阅链
type ReviewChain struct {
	factory workflowport.ChatModelFactory
}

func NewReviewChain(factory workflowport.ChatModelFactory) *ReviewChain {
	return &ReviewChain{factory: factory}
}

func (c *ReviewChain) Invoke(ctx context.Context, in *wfmodel.ChapterReviewInput) (*schema.Message, error) {
	if c == nil || c.factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if in == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Options.Provider) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}

	chatModel, err := c.factory.Get(ctx, strings.TrimSpace(in.Options.Provider))
	if err != nil {
		return nil, err
	}

	msgs, err := formatReviewMessages(ctx, in)
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

var reviewPromptRegistry = workflowprompt.NewRegistry()

func formatReviewMessages(ctx context.Context, in *wfmodel.ChapterReviewInput) ([]*schema.Message, error) {
	tpl, err := reviewPromptRegistry.ChatTemplate(workflowprompt.PromptChapterReviewV1)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"synopsis":          strings.TrimSpace(in.Synopsis),
		"writing_style":     strings.TrimSpace(in.WritingStyle),
		"style_example":     strings.TrimSpace(in.StyleExample),
		"characters":        strings.TrimSpace(in.Characters),
		"world_setting":     strings.TrimSpace(in.WorldSetting),
		"short_term_memory": strings.TrimSpace(in.ShortTermMemory),
		"long_term_memory":  strings.TrimSpace(in.LongTermMemory),
		"chapter_number":    in.ChapterNumber,
		"chapter_title":     strings.TrimSpace(in.ChapterTitle),
		"word_count":        in.WordCount,
		"content":           strings.TrimSpace(in.Content),
		"min_words":         in.MinWords,
		"max_words":         in.MaxWords,
	}
	return tpl.Format(ctx, vars)
}
