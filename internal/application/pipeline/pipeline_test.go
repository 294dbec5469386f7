package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/application/editor"
	"z-novel-writer/internal/application/llmrun"
	"z-novel-writer/internal/application/memory"
	"z-novel-writer/internal/application/outline"
	"z-novel-writer/internal/application/summary"
	"z-novel-writer/internal/application/writer"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/entity"
	"z-novel-writer/internal/infrastructure/persistence/file"
	wfmodel "z-novel-writer/internal/workflow/model"
	apperrors "z-novel-writer/pkg/errors"
)

func newTestConfig(dir string) *config.Config {
	return &config.Config{
		Novel: config.NovelConfig{
			Synopsis:     "少年修行的故事",
			WritingStyle: "简洁白描",
			StyleExample: "他看了看天。",
			WorldSetting: "山中小城",
			Characters: []config.CharacterConfig{
				{Name: "林远", Description: "主角"},
			},
			TargetChapters:          2,
			TargetWordsPerChapter:   10,
			WordsTolerance:          0.5,
			ShortTermMemoryChapters: 2,
			ShortTermMemoryMaxChars: 1000,
		},
		Writer: config.WriterConfig{
			WriterProvider:         "test",
			EditorProvider:         "test",
			MaxRetries:             1,
			OutlineMaxRetries:      2,
			AutoSaveInterval:       1,
			MaxRefinementRounds:    2,
			ApprovalScoreThreshold: 7.0,
		},
		Pipeline: config.PipelineConfig{
			StateFile:  filepath.Join(dir, "state.json"),
			OutputFile: filepath.Join(dir, "novel.txt"),
		},
	}
}

func msg(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}

// --- 假链 ---

type fakeOutlineChain struct {
	response string
	calls    int
}

func (f *fakeOutlineChain) Invoke(context.Context, *wfmodel.OutlineGenerateInput) (*schema.Message, error) {
	f.calls++
	return msg(f.response), nil
}

type fakeGenChain struct {
	content func(in *wfmodel.ChapterGenerateInput) (string, error)
	calls   int
}

func (f *fakeGenChain) Invoke(_ context.Context, in *wfmodel.ChapterGenerateInput) (*schema.Message, error) {
	f.calls++
	content, err := f.content(in)
	if err != nil {
		return nil, err
	}
	return msg(content), nil
}

type fakeRefineChain struct {
	content string
	calls   int
}

func (f *fakeRefineChain) Invoke(context.Context, *wfmodel.ChapterRefineInput) (*schema.Message, error) {
	f.calls++
	return msg(f.content), nil
}

type fakeReviewChain struct {
	responses []string
	calls     int
}

func (f *fakeReviewChain) Invoke(context.Context, *wfmodel.ChapterReviewInput) (*schema.Message, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return msg(f.responses[i]), nil
}

type fakeSummaryChain struct{}

func (f *fakeSummaryChain) Invoke(_ context.Context, in *wfmodel.ChapterSummarizeInput) (*schema.Message, error) {
	return msg(fmt.Sprintf(`{
		"summary": "第%d章摘要",
		"key_events": ["事件%d"],
		"character_changes": {"林远": "有了变化"},
		"new_info": []
	}`, in.ChapterNumber, in.ChapterNumber)), nil
}

func reviewJSON(score float64, status string) string {
	return fmt.Sprintf(`{
		"scores": {"style": %.1f, "continuity": %.1f, "characters": %.1f, "plot": %.1f, "length_balance": %.1f},
		"feedback": "1. 节奏偏慢，建议压缩开头的环境描写部分",
		"status": %q
	}`, score, score, score, score, score, status)
}

const outlineTwoChapters = `{
	"chapters": [
		{"number": 1, "title": "启程", "outline": "主角离开家乡踏上旅途"},
		{"number": 2, "title": "归来", "outline": "主角带着答案回到故乡"}
	]
}`

type fixture struct {
	cfg     *config.Config
	gen     *fakeGenChain
	refine  *fakeRefineChain
	review  *fakeReviewChain
	outline *fakeOutlineChain
	store   *file.StateStore
	output  *file.NovelFile
	p       *Pipeline
}

func newFixture(t *testing.T, reviewResponses []string) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := newTestConfig(dir)
	runner := llmrun.NewRunner(&cfg.Writer)

	f := &fixture{
		cfg: cfg,
		gen: &fakeGenChain{content: func(in *wfmodel.ChapterGenerateInput) (string, error) {
			return fmt.Sprintf("第%d章的正文内容啊", in.ChapterNumber), nil
		}},
		refine:  &fakeRefineChain{content: "修订后的正文内容啊啊"},
		review:  &fakeReviewChain{responses: reviewResponses},
		outline: &fakeOutlineChain{response: outlineTwoChapters},
		store:   file.NewStateStore(cfg.Pipeline.StateFile),
		output:  file.NewNovelFile(cfg.Pipeline.OutputFile),
	}

	heuristic := memory.NewHeuristicPolicy(cfg)
	f.p = New(cfg, Deps{
		Outline:    outline.NewGenerator(f.outline, runner, cfg),
		Writer:     writer.NewWriter(f.gen, f.refine, runner, cfg),
		Editor:     editor.NewEditor(f.review, runner, cfg),
		Summarizer: summary.NewSummarizer(&fakeSummaryChain{}, runner, cfg),
		Memory:     memory.NewStore(cfg, heuristic, heuristic),
		Store:      f.store,
		Output:     f.output,
	})
	return f
}

func TestPipelineHappyPath(t *testing.T) {
	f := newFixture(t, []string{reviewJSON(8.0, "approved")})
	require.NoError(t, f.p.Run(context.Background()))

	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, entity.StatusCompleted, state.Status)
	require.Len(t, state.Chapters, 2)
	assert.Equal(t, "启程", state.Chapters[0].Title)
	assert.False(t, state.Chapters[0].Forced)
	assert.Equal(t, 0, state.Chapters[0].RevisionCount)
	assert.NotEmpty(t, state.Chapters[0].Summary)

	// 记忆随提交更新
	assert.Equal(t, 2, state.ShortTerm.Len())
	assert.NotEmpty(t, state.LongTerm.Facts["林远"])

	data, err := os.ReadFile(f.output.Path())
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# Chapter 1: 启程")
	assert.Contains(t, text, "# Chapter 2: 归来")
	assert.Contains(t, text, strings.Repeat("=", 80))
	assert.Equal(t, entity.PhaseDone, f.p.Phase())
}

func TestPipelineRevisionThenApproval(t *testing.T) {
	// 每章：第一次审阅不通过，修订后通过
	f := newFixture(t, []string{
		reviewJSON(5.0, "needs_revision"),
		reviewJSON(8.0, "approved"),
		reviewJSON(5.0, "needs_revision"),
		reviewJSON(8.0, "approved"),
	})
	require.NoError(t, f.p.Run(context.Background()))

	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Chapters, 2)
	assert.Equal(t, 1, state.Chapters[0].RevisionCount)
	assert.False(t, state.Chapters[0].Forced)
	assert.Equal(t, "修订后的正文内容啊啊", state.Chapters[0].Content)
	assert.Equal(t, 2, f.refine.calls)
}

func TestPipelineForceCommitOnExhaustedRounds(t *testing.T) {
	f := newFixture(t, []string{reviewJSON(5.0, "needs_revision")})
	require.NoError(t, f.p.Run(context.Background()))

	state, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Chapters, 2)
	for _, ch := range state.Chapters {
		assert.True(t, ch.Forced)
		assert.Equal(t, f.cfg.Writer.MaxRefinementRounds, ch.RevisionCount)
		assert.InDelta(t, 5.0, ch.Score, 0.01)
	}
	// 同分取较新稿
	assert.Equal(t, "修订后的正文内容啊啊", state.Chapters[0].Content)
}

func TestPipelineInterruptSavesProgress(t *testing.T) {
	f := newFixture(t, []string{reviewJSON(8.0, "approved")})

	ctx, cancel := context.WithCancel(context.Background())
	f.gen.content = func(in *wfmodel.ChapterGenerateInput) (string, error) {
		if in.ChapterNumber == 2 {
			cancel()
			return "", ctx.Err()
		}
		return "第一章的正文内容啊", nil
	}

	err := f.p.Run(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsInterrupted(err))
	assert.Equal(t, entity.PhaseInterrupted, f.p.Phase())

	state, loadErr := f.store.Load(context.Background())
	require.NoError(t, loadErr)
	require.NotNil(t, state)
	assert.Equal(t, entity.StatusInterrupted, state.Status)
	require.Len(t, state.Chapters, 1)

	// 中断时不产出成稿
	_, statErr := os.Stat(f.output.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipelineResumeFromCheckpoint(t *testing.T) {
	f := newFixture(t, []string{reviewJSON(8.0, "approved")})

	// 预置已完成第一章的检查点
	state := &entity.PipelineState{
		Version: entity.StateVersion,
		Status:  entity.StatusInterrupted,
		Plans: []entity.ChapterPlan{
			{Number: 1, Title: "启程", Outline: "主角离开家乡踏上旅途"},
			{Number: 2, Title: "归来", Outline: "主角带着答案回到故乡"},
		},
		Chapters: []entity.Chapter{
			{Number: 1, Title: "启程", Content: "第一章的正文内容啊", WordCount: 9},
		},
		ShortTerm: entity.NewShortTermMemory(2, 1000),
		LongTerm:  entity.NewLongTermMemory([]string{"林远"}),
	}
	require.NoError(t, f.store.Save(context.Background(), state))

	require.NoError(t, f.p.Run(context.Background()))

	// 只续写第二章，不重新生成大纲
	assert.Equal(t, 0, f.outline.calls)
	assert.Equal(t, 1, f.gen.calls)

	loaded, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, loaded.Status)
	require.Len(t, loaded.Chapters, 2)
	assert.Equal(t, "归来", loaded.Chapters[1].Title)
}

// clearThreadsPolicy 清空情节线的压缩策略，便于观察压缩是否真的发生
type clearThreadsPolicy struct {
	calls int
}

func (p *clearThreadsPolicy) Name() string { return "clear_threads" }

func (p *clearThreadsPolicy) Compact(_ context.Context, state *entity.PipelineState, _ int) error {
	p.calls++
	state.LongTerm.Threads = nil
	return nil
}

// recordingStore 记录每次保存时的情节线数量
type recordingStore struct {
	*file.StateStore
	threadCounts []int
}

func (r *recordingStore) Save(ctx context.Context, state *entity.PipelineState) error {
	r.threadCounts = append(r.threadCounts, len(state.LongTerm.Threads))
	return r.StateStore.Save(ctx, state)
}

func TestPipelineCheckpointContainsCompactedMemory(t *testing.T) {
	f := newFixture(t, []string{reviewJSON(8.0, "approved")})
	f.cfg.Novel.EnableLTMOptimization = true
	f.cfg.Writer.LTMOptimizationInterval = 2
	f.cfg.Writer.LTMMaxCharacterFacts = 10
	f.cfg.Writer.LTMMaxPlotThreads = 10

	policy := &clearThreadsPolicy{}
	rec := &recordingStore{StateStore: f.store}
	runner := llmrun.NewRunner(&f.cfg.Writer)
	p := New(f.cfg, Deps{
		Outline:    outline.NewGenerator(f.outline, runner, f.cfg),
		Writer:     writer.NewWriter(f.gen, f.refine, runner, f.cfg),
		Editor:     editor.NewEditor(f.review, runner, f.cfg),
		Summarizer: summary.NewSummarizer(&fakeSummaryChain{}, runner, f.cfg),
		Memory:     memory.NewStore(f.cfg, policy, nil),
		Store:      rec,
		Output:     f.output,
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, policy.calls)

	// 保存序列：大纲、第一章、第二章、完结
	require.Len(t, rec.threadCounts, 4)
	assert.Equal(t, 1, rec.threadCounts[1])
	// 第二章触发压缩，该章的检查点必须已是压缩后的记忆
	assert.Equal(t, 0, rec.threadCounts[2])

	loaded, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded.LongTerm.Threads)
}

func TestPipelineOutlineValidationFailure(t *testing.T) {
	f := newFixture(t, []string{reviewJSON(8.0, "approved")})
	// 只生成 1 章，要求 2 章
	f.outline.response = `{"chapters": [{"number": 1, "title": "独章", "outline": "唯一的章节"}]}`

	err := f.p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))
	assert.Equal(t, f.cfg.Writer.OutlineMaxRetries, f.outline.calls)

	state, loadErr := f.store.Load(context.Background())
	require.NoError(t, loadErr)
	require.NotNil(t, state)
	assert.Equal(t, entity.StatusFailed, state.Status)
	assert.Empty(t, state.Chapters)
}
