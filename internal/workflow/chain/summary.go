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

// SummaryChain 章节摘要链
type SummaryChain struct {
	factory workflowport.ChatModelFactory
}

func NewSummaryChain(factory workflowport.ChatModelFactory) *SummaryChain {
	return &SummaryChain{factory: factory}
}

func (c *SummaryChain) Invoke(ctx context.Context, in *wfmodel.ChapterSummarizeInput) (*schema.Message, error) {
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

	msgs, err := formatSummaryMessages(ctx, in)
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

var summaryPromptRegistry = workflowprompt.NewRegistry()

func formatSummaryMessages(ctx context.Context, in *wfmodel.ChapterSummarizeInput) ([]*schema.Message, error) {
	tpl, err := summaryPromptRegistry.ChatTemplate(workflowprompt.PromptChapterSummaryV1)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"chapter_number": in.ChapterNumber,
		"chapter_title":  strings.TrimSpace(in.ChapterTitle),
		"content":        strings.TrimSpace(in.Content),
	}
	return tpl.Format(ctx, vars)
}
