package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningState() *PipelineState {
	return &PipelineState{
		Version: StateVersion,
		Status:  StatusRunning,
		Plans: []ChapterPlan{
			{Number: 1, Title: "一", Outline: "o1"},
			{Number: 2, Title: "二", Outline: "o2"},
			{Number: 3, Title: "三", Outline: "o3"},
		},
		Chapters: []Chapter{
			{Number: 1, Title: "一", Content: "c1"},
		},
		ShortTerm: NewShortTermMemory(3, 1000),
		LongTerm:  NewLongTermMemory(nil),
	}
}

func TestChapterIndexDerivedFromChapters(t *testing.T) {
	s := newRunningState()
	assert.Equal(t, 1, s.ChapterIndex())

	s.Chapters = append(s.Chapters, Chapter{Number: 2, Title: "二", Content: "c2"})
	assert.Equal(t, 2, s.ChapterIndex())
}

func TestNextPlan(t *testing.T) {
	s := newRunningState()
	next := s.NextPlan()
	require.NotNil(t, next)
	assert.Equal(t, 2, next.Number)

	s.Chapters = []Chapter{
		{Number: 1, Title: "一", Content: "c1"},
		{Number: 2, Title: "二", Content: "c2"},
		{Number: 3, Title: "三", Content: "c3"},
	}
	assert.Nil(t, s.NextPlan())
}

func TestPlanAfter(t *testing.T) {
	s := newRunningState()
	next := s.PlanAfter(1)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.Number)
	assert.Nil(t, s.PlanAfter(3))
}

func TestRemainingPlans(t *testing.T) {
	s := newRunningState()
	remaining := s.RemainingPlans()
	require.Len(t, remaining, 2)
	assert.Equal(t, 2, remaining[0].Number)
}

func TestValidateRejectsInconsistentSnapshots(t *testing.T) {
	s := newRunningState()
	require.NoError(t, s.Validate())

	bad := newRunningState()
	bad.Version = StateVersion + 1
	assert.Error(t, bad.Validate())

	bad = newRunningState()
	bad.Plans = nil
	assert.Error(t, bad.Validate()) // 章节数超过大纲数

	bad = newRunningState()
	bad.Chapters[0].Number = 5
	assert.Error(t, bad.Validate())

	bad = newRunningState()
	bad.Chapters[0].Content = ""
	assert.Error(t, bad.Validate())

	bad = newRunningState()
	bad.ShortTerm = nil
	assert.Error(t, bad.Validate())
}

func TestOutlineMapMarksCurrentChapter(t *testing.T) {
	s := newRunningState()
	m := s.OutlineMap(2)
	assert.Contains(t, m, "▶")
	assert.Contains(t, m, "o2")
}
