package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"

	"z-novel-writer/internal/application/llmrun"
	"z-novel-writer/internal/application/storyutil"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/entity"
	wfmodel "z-novel-writer/internal/workflow/model"
	apperrors "z-novel-writer/pkg/errors"
)

// OptimizeChain 记忆压缩链接口
type OptimizeChain interface {
	Invoke(ctx context.Context, in *wfmodel.MemoryOptimizeInput) (*schema.Message, error)
}

// LLMPolicy 由模型结合后续大纲判断去留的压缩策略
type LLMPolicy struct {
	chain  OptimizeChain
	runner *llmrun.Runner
	cfg    *config.Config
}

func NewLLMPolicy(ch OptimizeChain, runner *llmrun.Runner, cfg *config.Config) *LLMPolicy {
	return &LLMPolicy{chain: ch, runner: runner, cfg: cfg}
}

func (p *LLMPolicy) Name() string { return "llm" }

func (p *LLMPolicy) Compact(ctx context.Context, state *entity.PipelineState, currentChapter int) error {
	ltm := state.LongTerm

	in := &wfmodel.MemoryOptimizeInput{
		Synopsis:          p.cfg.Novel.Synopsis,
		TargetChapters:    p.cfg.Novel.TargetChapters,
		CurrentChapter:    currentChapter,
		CharacterFacts:    formatFacts(ltm),
		PlotThreads:       formatThreads(ltm),
		RemainingOutline:  formatRemainingOutline(state, currentChapter),
		MaxCharacterFacts: p.cfg.Writer.LTMMaxCharacterFacts,
		MaxPlotThreads:    p.cfg.Writer.LTMMaxPlotThreads,
		Options:           p.optimizerOptions(),
	}

	msg, err := p.runner.Do(ctx, "memory_optimize", func(ctx context.Context) (*schema.Message, error) {
		return p.chain.Invoke(ctx, in)
	})
	if err != nil {
		return err
	}

	jsonText := storyutil.ExtractJSONObject(storyutil.StripCodeFence(msg.Content))
	if jsonText == "" {
		return apperrors.New(apperrors.CodeLLMBadOutput, "压缩响应中未找到 JSON 对象")
	}
	var payload wfmodel.OptimizePayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return apperrors.Wrap(apperrors.CodeLLMBadOutput, "压缩 JSON 解析失败", err)
	}
	if len(payload.CharacterFacts) == 0 && len(payload.PlotThreads) == 0 {
		return apperrors.New(apperrors.CodeLLMBadOutput, "压缩结果为空")
	}

	applyPayload(ltm, &payload, currentChapter)
	return nil
}

func (p *LLMPolicy) optimizerOptions() wfmodel.CallOptions {
	temp := float32(p.cfg.Writer.LTMOptimizerTemperature)
	return wfmodel.CallOptions{
		Provider:    p.cfg.RoleProvider(p.cfg.Writer.EditorProvider),
		Model:       p.cfg.Writer.EditorModel,
		Temperature: &temp,
	}
}

// applyPayload 用压缩结果重建长期记忆。
// 能在原记忆中找到的条目保留其章节号，新条目记为当前章节。
func applyPayload(ltm *entity.LongTermMemory, payload *wfmodel.OptimizePayload, currentChapter int) {
	oldFacts := ltm.Facts
	newFacts := make(map[string][]entity.CharacterFact, len(payload.CharacterFacts))
	for name, texts := range payload.CharacterFacts {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		for _, text := range texts {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			fact := entity.CharacterFact{Text: text, Chapter: currentChapter}
			for _, old := range oldFacts[name] {
				if old.Text == text {
					fact.Chapter = old.Chapter
					fact.Significant = old.Significant
					break
				}
			}
			newFacts[name] = append(newFacts[name], fact)
		}
	}

	oldThreads := ltm.Threads
	newThreads := make([]entity.PlotThread, 0, len(payload.PlotThreads))
	for name, status := range payload.PlotThreads {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		thread := entity.PlotThread{Name: name, Status: threadStatus(status), Chapter: currentChapter}
		for _, old := range oldThreads {
			if old.Name == name {
				thread.Chapter = old.Chapter
				break
			}
		}
		newThreads = append(newThreads, thread)
	}

	ltm.Facts = newFacts
	ltm.Threads = newThreads
}

func threadStatus(s string) entity.ThreadStatus {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == string(entity.ThreadStatusResolved) ||
		strings.Contains(lower, "已解决") || strings.Contains(lower, "完结") {
		return entity.ThreadStatusResolved
	}
	return entity.ThreadStatusOpen
}

// HeuristicPolicy 不依赖模型的确定性压缩：清除已解决情节线、
// 按重要性与新近度裁剪角色事实、截断事件日志
type HeuristicPolicy struct {
	cfg *config.Config
}

func NewHeuristicPolicy(cfg *config.Config) *HeuristicPolicy {
	return &HeuristicPolicy{cfg: cfg}
}

func (p *HeuristicPolicy) Name() string { return "heuristic" }

// 事件日志保留的最近条数
const maxEventLog = 10

func (p *HeuristicPolicy) Compact(_ context.Context, state *entity.PipelineState, _ int) error {
	ltm := state.LongTerm

	ltm.Threads = ltm.OpenThreads()
	ltm.ApplyCaps(p.cfg.Writer.LTMMaxCharacterFacts, p.cfg.Writer.LTMMaxPlotThreads)
	if len(ltm.Events) > maxEventLog {
		ltm.Events = ltm.Events[len(ltm.Events)-maxEventLog:]
	}
	return nil
}

func formatFacts(ltm *entity.LongTermMemory) string {
	if len(ltm.Facts) == 0 {
		return "（暂无）"
	}
	names := make([]string, 0, len(ltm.Facts))
	for name := range ltm.Facts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		facts := ltm.Facts[name]
		if len(facts) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s：\n", name)
		for _, f := range facts {
			fmt.Fprintf(&b, "  - [第%d章] %s\n", f.Chapter, f.Text)
		}
	}
	if b.Len() == 0 {
		return "（暂无）"
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatThreads(ltm *entity.LongTermMemory) string {
	if len(ltm.Threads) == 0 {
		return "（暂无）"
	}
	var b strings.Builder
	for _, t := range ltm.Threads {
		fmt.Fprintf(&b, "- %s（%s，第%d章起）\n", t.Name, t.Status, t.Chapter)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRemainingOutline(state *entity.PipelineState, currentChapter int) string {
	remaining := state.RemainingPlans()
	if len(remaining) == 0 {
		return "（已是最后一章）"
	}
	var b strings.Builder
	for _, p := range remaining {
		if p.Number <= currentChapter {
			continue
		}
		fmt.Fprintf(&b, "第%d章 %s：%s\n", p.Number, p.Title, p.Outline)
	}
	if b.Len() == 0 {
		return "（已是最后一章）"
	}
	return strings.TrimRight(b.String(), "\n")
}
