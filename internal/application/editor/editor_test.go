package editor

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/application/llmrun"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/entity"
	wfmodel "z-novel-writer/internal/workflow/model"
	apperrors "z-novel-writer/pkg/errors"
)

type fakeChain struct {
	responses []string
	calls     int
	lastIn    *wfmodel.ChapterReviewInput
}

func (f *fakeChain) Invoke(_ context.Context, in *wfmodel.ChapterReviewInput) (*schema.Message, error) {
	f.lastIn = in
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return schema.AssistantMessage(f.responses[i], nil), nil
}

func newTestEditor(responses ...string) (*Editor, *fakeChain) {
	cfg := &config.Config{
		Novel: config.NovelConfig{
			Synopsis:              "测试故事",
			TargetWordsPerChapter: 100,
			WordsTolerance:        0.5, // 区间 [50,150]
		},
		Writer: config.WriterConfig{
			EditorProvider:         "test",
			ApprovalScoreThreshold: 7.0,
		},
	}
	chain := &fakeChain{responses: responses}
	return NewEditor(chain, llmrun.NewRunner(&cfg.Writer), cfg), chain
}

func newReviewState() (*entity.PipelineState, *entity.Chapter) {
	state := &entity.PipelineState{
		ShortTerm: entity.NewShortTermMemory(2, 1000),
		LongTerm:  entity.NewLongTermMemory(nil),
	}
	ch := &entity.Chapter{Number: 1, Title: "启程", Content: "正文", WordCount: 100}
	return state, ch
}

func TestReviewApproved(t *testing.T) {
	e, _ := newTestEditor(`{
		"scores": {"style": 8, "continuity": 9, "plot": 7},
		"feedback": "整体不错",
		"status": "approved"
	}`)
	state, ch := newReviewState()

	review, err := e.Review(context.Background(), state, ch)
	require.NoError(t, err)
	assert.True(t, review.Approved)
	assert.True(t, review.LengthOK)
	assert.InDelta(t, 8.0, review.Average, 0.001)
	assert.Equal(t, "整体不错", review.Feedback)
}

func TestReviewScoreBelowThresholdNotApproved(t *testing.T) {
	e, _ := newTestEditor(`{
		"scores": {"style": 5, "plot": 5},
		"feedback": "",
		"status": "approved"
	}`)
	state, ch := newReviewState()

	review, err := e.Review(context.Background(), state, ch)
	require.NoError(t, err)
	assert.False(t, review.Approved)
	// 空反馈兜底
	assert.Equal(t, "无具体意见。", review.Feedback)
}

func TestReviewLengthGateBlocksApproval(t *testing.T) {
	e, _ := newTestEditor(`{
		"scores": {"style": 9, "plot": 9},
		"feedback": "写得很好",
		"status": "approved"
	}`)
	state, ch := newReviewState()
	ch.WordCount = 30 // 低于下限 50

	review, err := e.Review(context.Background(), state, ch)
	require.NoError(t, err)
	assert.False(t, review.LengthOK)
	assert.False(t, review.Approved)
	assert.Contains(t, review.Feedback, "[字数不足: 30/50]")
}

func TestReviewUnknownStatusTreatedAsNeedsRevision(t *testing.T) {
	e, _ := newTestEditor(`{
		"scores": {"style": 9},
		"feedback": "ok",
		"status": "LGTM"
	}`)
	state, ch := newReviewState()

	review, err := e.Review(context.Background(), state, ch)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsRevision, review.Status)
	assert.False(t, review.Approved)
}

func TestReviewRetriesOnBadJSON(t *testing.T) {
	e, chain := newTestEditor(
		"这不是 JSON",
		`{"scores": {"style": 8}, "feedback": "可以", "status": "approved"}`,
	)
	state, ch := newReviewState()

	review, err := e.Review(context.Background(), state, ch)
	require.NoError(t, err)
	assert.True(t, review.Approved)
	assert.Equal(t, 2, chain.calls)
}

func TestReviewExhaustedBadOutput(t *testing.T) {
	e, chain := newTestEditor("完全不是 JSON")
	state, ch := newReviewState()

	_, err := e.Review(context.Background(), state, ch)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeLLMBadOutput, apperrors.CodeOf(err))
	assert.Equal(t, maxBadOutputRetries+1, chain.calls)
}

func TestReviewElidesLongContentByRunes(t *testing.T) {
	e, chain := newTestEditor(`{"scores": {"style": 8}, "feedback": "可以", "status": "approved"}`)
	e.cfg.Writer.MaxReviewTokens = 6000
	state, ch := newReviewState()
	ch.Content = strings.Repeat("长", 7000)

	_, err := e.Review(context.Background(), state, ch)
	require.NoError(t, err)

	// 送审正文按字符数省略中段，与 token 配置无关
	require.NotNil(t, chain.lastIn)
	assert.LessOrEqual(t, utf8.RuneCountInString(chain.lastIn.Content), reviewSampleMaxRunes+50)
	assert.Contains(t, chain.lastIn.Content, "[...中间省略...]")

	// token 上限走调用选项
	require.NotNil(t, chain.lastIn.Options.MaxTokens)
	assert.Equal(t, 6000, *chain.lastIn.Options.MaxTokens)
}

func TestReviewScoreOutOfRangeRejected(t *testing.T) {
	e, _ := newTestEditor(`{"scores": {"style": 11}, "feedback": "x", "status": "approved"}`)
	state, ch := newReviewState()

	_, err := e.Review(context.Background(), state, ch)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeLLMBadOutput, apperrors.CodeOf(err))
}
