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

// OptimizeChain 长期记忆压缩链
type OptimizeChain struct {
	factory workflowport.ChatModelFactory
}

func NewOptimizeChain(factory workflowport.ChatModelFactory) *OptimizeChain {
	return &OptimizeChain{factory: factory}
}

func (c *OptimizeChain) Invoke(ctx context.Context, in *wfmodel.MemoryOptimizeInput) (*schema.Message, error) {
	if c == nil || c.factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if in == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Options.Provider) == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if in.MaxCharacterFacts <= 0 || in.MaxPlotThreads <= 0 {
		return nil, fmt.Errorf("memory caps are required")
	}

	chatModel, err := c.factory.Get(ctx, strings.TrimSpace(in.Options.Provider))
	if err != nil {
		return nil, err
	}

	msgs, err := formatOptimizeMessages(ctx, in)
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

var optimizePromptRegistry = workflowprompt.NewRegistry()

func formatOptimizeMessages(ctx context.Context, in *wfmodel.MemoryOptimizeInput) ([]*schema.Message, error) {
	tpl, err := optimizePromptRegistry.ChatTemplate(workflowprompt.PromptMemoryOptimizeV1)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"synopsis":            strings.TrimSpace(in.Synopsis),
		"target_chapters":     in.TargetChapters,
		"current_chapter":     in.CurrentChapter,
		"remaining_outline":   strings.TrimSpace(in.RemainingOutline),
		"character_facts":     strings.TrimSpace(in.CharacterFacts),
		"plot_threads":        strings.TrimSpace(in.PlotThreads),
		"max_character_facts": in.MaxCharacterFacts,
		"max_plot_threads":    in.MaxPlotThreads,
	}
	return tpl.Format(ctx, vars)
}
