package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/entity"
	wfmodel "z-novel-writer/internal/workflow/model"
	apperrors "z-novel-writer/pkg/errors"
)

type fakePolicy struct {
	name    string
	calls   int
	err     error
	compact func(state *entity.PipelineState)
}

func (f *fakePolicy) Name() string { return f.name }

func (f *fakePolicy) Compact(_ context.Context, state *entity.PipelineState, _ int) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.compact != nil {
		f.compact(state)
	}
	return nil
}

func newMemoryConfig() *config.Config {
	return &config.Config{
		Novel: config.NovelConfig{EnableLTMOptimization: true},
		Writer: config.WriterConfig{
			LTMOptimizationInterval: 2,
			LTMMaxCharacterFacts:    10,
			LTMMaxPlotThreads:       10,
		},
	}
}

func newMemoryState(factCount int) *entity.PipelineState {
	ltm := entity.NewLongTermMemory(nil)
	ltm.Facts = map[string][]entity.CharacterFact{}
	for i := 0; i < factCount; i++ {
		ltm.Facts["林远"] = append(ltm.Facts["林远"],
			entity.CharacterFact{Text: fmt.Sprintf("事实%d", i), Chapter: i + 1})
	}
	return &entity.PipelineState{
		ShortTerm: entity.NewShortTermMemory(2, 1000),
		LongTerm:  ltm,
	}
}

func TestCommitUpdatesBothMemories(t *testing.T) {
	cfg := newMemoryConfig()
	s := NewStore(cfg, &fakePolicy{name: "noop"}, nil)
	state := newMemoryState(0)

	ch := &entity.Chapter{Number: 1, Title: "启程", Content: "正文内容"}
	sum := &entity.ChapterSummary{
		Summary:          "摘要",
		CharacterChanges: map[string]string{"林远": "下定决心"},
	}
	s.Commit(context.Background(), state, ch, sum, "林远写得不错")

	assert.Equal(t, 1, state.ShortTerm.Len())
	require.Len(t, state.LongTerm.Facts["林远"], 1)
	assert.True(t, state.LongTerm.Facts["林远"][0].Significant)
}

func TestMaybeCompactRespectsInterval(t *testing.T) {
	cfg := newMemoryConfig()
	policy := &fakePolicy{name: "p"}
	s := NewStore(cfg, policy, nil)
	state := newMemoryState(3)

	s.MaybeCompact(context.Background(), state, 1)
	assert.Equal(t, 0, policy.calls)

	s.MaybeCompact(context.Background(), state, 2)
	assert.Equal(t, 1, policy.calls)
}

func TestMaybeCompactDisabled(t *testing.T) {
	cfg := newMemoryConfig()
	cfg.Novel.EnableLTMOptimization = false
	policy := &fakePolicy{name: "p"}
	s := NewStore(cfg, policy, nil)

	s.MaybeCompact(context.Background(), newMemoryState(3), 2)
	assert.Equal(t, 0, policy.calls)
}

func TestMaybeCompactFallsBackOnPrimaryFailure(t *testing.T) {
	cfg := newMemoryConfig()
	primary := &fakePolicy{name: "llm", err: apperrors.New(apperrors.CodeLLMTransient, "模型不可用")}
	fallback := &fakePolicy{name: "heuristic", compact: func(state *entity.PipelineState) {
		state.LongTerm.Facts["林远"] = state.LongTerm.Facts["林远"][:1]
	}}
	s := NewStore(cfg, primary, fallback)
	state := newMemoryState(3)

	s.MaybeCompact(context.Background(), state, 2)

	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	assert.Len(t, state.LongTerm.Facts["林远"], 1)
}

func TestMaybeCompactRollsBackWhenMemoryGrows(t *testing.T) {
	cfg := newMemoryConfig()
	policy := &fakePolicy{name: "bad", compact: func(state *entity.PipelineState) {
		state.LongTerm.Facts["苏青"] = []entity.CharacterFact{
			{Text: "凭空多出的事实一", Chapter: 2},
			{Text: "凭空多出的事实二", Chapter: 2},
		}
	}}
	s := NewStore(cfg, policy, nil)
	state := newMemoryState(3)
	before := state.LongTerm.Size()

	s.MaybeCompact(context.Background(), state, 2)

	// 压缩不允许增长记忆，整体回滚
	assert.Equal(t, before, state.LongTerm.Size())
	assert.NotContains(t, state.LongTerm.Facts, "苏青")
}

func TestMaybeCompactBothPoliciesFailKeepsOriginal(t *testing.T) {
	cfg := newMemoryConfig()
	primary := &fakePolicy{name: "llm", err: apperrors.New(apperrors.CodeLLMTransient, "挂了")}
	fallback := &fakePolicy{name: "heuristic", err: apperrors.New(apperrors.CodeMemoryFailed, "也挂了")}
	s := NewStore(cfg, primary, fallback)
	state := newMemoryState(3)

	s.MaybeCompact(context.Background(), state, 2)
	assert.Len(t, state.LongTerm.Facts["林远"], 3)
}

func TestHeuristicPolicyDropsResolvedThreads(t *testing.T) {
	cfg := newMemoryConfig()
	state := newMemoryState(0)
	state.LongTerm.Threads = []entity.PlotThread{
		{Name: "完结线", Status: entity.ThreadStatusResolved, Chapter: 1},
		{Name: "进行线", Status: entity.ThreadStatusOpen, Chapter: 2},
	}

	p := NewHeuristicPolicy(cfg)
	require.NoError(t, p.Compact(context.Background(), state, 2))

	require.Len(t, state.LongTerm.Threads, 1)
	assert.Equal(t, "进行线", state.LongTerm.Threads[0].Name)
}

func TestFormatFactsOrdersByCharacterName(t *testing.T) {
	ltm := entity.NewLongTermMemory(nil)
	ltm.Facts = map[string][]entity.CharacterFact{
		"苏青": {{Text: "乙", Chapter: 2}},
		"林远": {{Text: "甲", Chapter: 1}},
		"陈默": {{Text: "丙", Chapter: 3}},
	}

	text := formatFacts(ltm)
	// 按角色名排序，两次格式化结果一致
	assert.Less(t, strings.Index(text, "林远"), strings.Index(text, "苏青"))
	assert.Less(t, strings.Index(text, "苏青"), strings.Index(text, "陈默"))
	assert.Equal(t, text, formatFacts(ltm))
}

func TestLLMPolicyApplyPayloadPreservesKnownEntries(t *testing.T) {
	ltm := entity.NewLongTermMemory(nil)
	ltm.Facts = map[string][]entity.CharacterFact{
		"林远": {{Text: "旧事实", Chapter: 1, Significant: true}},
	}
	ltm.Threads = []entity.PlotThread{{Name: "寻找古庙", Status: entity.ThreadStatusOpen, Chapter: 1}}

	applyPayload(ltm, &wfmodel.OptimizePayload{
		CharacterFacts: map[string][]string{"林远": {"旧事实", "新事实"}},
		PlotThreads:    map[string]string{"寻找古庙": "已解决"},
	}, 4)

	facts := ltm.Facts["林远"]
	require.Len(t, facts, 2)
	// 原有条目保留章节号与重点标记，新条目记为当前章
	assert.Equal(t, 1, facts[0].Chapter)
	assert.True(t, facts[0].Significant)
	assert.Equal(t, 4, facts[1].Chapter)

	require.Len(t, ltm.Threads, 1)
	assert.Equal(t, entity.ThreadStatusResolved, ltm.Threads[0].Status)
	assert.Equal(t, 1, ltm.Threads[0].Chapter)
}
