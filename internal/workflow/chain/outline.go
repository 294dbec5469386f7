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

// OutlineChain 全书章节结构生成链
type OutlineChain struct {
	factory workflowport.ChatModelFactory
}

func NewOutlineChain(factory workflowport.ChatModelFactory) *OutlineChain {
	return &OutlineChain{factory: factory}
}

func (c *OutlineChain) Invoke(ctx context.Context, in *wfmodel.OutlineGenerateInput) (*schema.Message, error) {
	if c == nil || c.factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if in == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Options.Provider) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(in.Synopsis) == "" {
		return nil, fmt.Errorf("synopsis is required")
	}
	if in.TargetChapters <= 0 {
		return nil, fmt.Errorf("target_chapters is required")
	}

	chatModel, err := c.factory.Get(ctx, strings.TrimSpace(in.Options.Provider))
	if err != nil {
		return nil, err
	}

	msgs, err := formatOutlineMessages(ctx, in)
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

var outlinePromptRegistry = workflowprompt.NewRegistry()

func formatOutlineMessages(ctx context.Context, in *wfmodel.OutlineGenerateInput) ([]*schema.Message, error) {
	tpl, err := outlinePromptRegistry.ChatTemplate(workflowprompt.PromptOutlineGenV1)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"synopsis":                 strings.TrimSpace(in.Synopsis),
		"writing_style":            strings.TrimSpace(in.WritingStyle),
		"style_example":            strings.TrimSpace(in.StyleExample),
		"characters":               strings.TrimSpace(in.Characters),
		"world_setting":            strings.TrimSpace(in.WorldSetting),
		"target_chapters":          in.TargetChapters,
		"target_words_per_chapter": in.TargetWordsPerChapter,
	}
	return tpl.Format(ctx, vars)
}
