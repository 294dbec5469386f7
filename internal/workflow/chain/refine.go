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

// RefineChain 章节修订链
type RefineChain struct {
	factory workflowport.ChatModelFactory
}

func NewRefineChain(factory workflowport.ChatModelFactory) *RefineChain {
	return &RefineChain{factory: factory}
}

func (c *RefineChain) Invoke(ctx context.Context, in *wfmodel.ChapterRefineInput) (*schema.Message, error) {
	if c == nil || c.factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if in == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Options.Provider) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(in.Draft) == "" {
		return nil, fmt.Errorf("draft is required")
	}
	if strings.TrimSpace(in.Feedback) == "" {
		return nil, fmt.Errorf("feedback is required")
	}

	chatModel, err := c.factory.Get(ctx, strings.TrimSpace(in.Options.Provider))
	if err != nil {
		return nil, err
	}

	msgs, err := formatRefineMessages(ctx, in)
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

var refinePromptRegistry = workflowprompt.NewRegistry()

func formatRefineMessages(ctx context.Context, in *wfmodel.ChapterRefineInput) ([]*schema.Message, error) {
	tpl, err := refinePromptRegistry.ChatTemplate(workflowprompt.PromptChapterRefineV1)
	if err != nil {
		return nil, err
	}

	rewriteInstruction := "在保持当前篇幅的前提下润色改进，重点解决审阅意见指出的问题。"
	if in.FullRewrite {
		rewriteInstruction = "篇幅严重失衡，请在目标字数范围内重写整章，原文仅作情节参考。"
	}

	vars := map[string]any{
		"writing_style":       strings.TrimSpace(in.WritingStyle),
		"style_example":       strings.TrimSpace(in.StyleExample),
		"chapter_number":      in.ChapterNumber,
		"draft":               strings.TrimSpace(in.Draft),
		"feedback":            strings.TrimSpace(in.Feedback),
		"min_words":           in.MinWords,
		"max_words":           in.MaxWords,
		"rewrite_instruction": rewriteInstruction,
	}
	return tpl.Format(ctx, vars)
}
