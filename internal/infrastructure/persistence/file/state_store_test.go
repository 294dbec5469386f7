package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/internal/domain/entity"
	apperrors "z-novel-writer/pkg/errors"
)

func newTestState() *entity.PipelineState {
	return &entity.PipelineState{
		Version: entity.StateVersion,
		Status:  entity.StatusRunning,
		Plans: []entity.ChapterPlan{
			{Number: 1, Title: "启程", Outline: "主角离开家乡"},
			{Number: 2, Title: "相遇", Outline: "主角遇到同伴"},
		},
		Chapters: []entity.Chapter{
			{Number: 1, Title: "启程", Content: "第一章正文", WordCount: 5},
		},
		ShortTerm: entity.NewShortTermMemory(2, 1000),
		LongTerm:  entity.NewLongTermMemory(nil),
	}
}

func TestStateStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(filepath.Join(dir, "state.json"))
	ctx := context.Background()

	state := newTestState()
	require.NoError(t, store.Save(ctx, state))

	// 临时文件不应残留
	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.ChapterIndex())
	assert.Equal(t, "启程", loaded.Chapters[0].Title)
	assert.Equal(t, entity.StatusRunning, loaded.Status)
}

func TestStateStoreLoadMissingFile(t *testing.T) {
	store := NewStateStore(filepath.Join(t.TempDir(), "absent.json"))
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStateStoreLoadCorruptedFileKeepsIt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStateStore(path)
	loaded, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Nil(t, loaded)
	assert.Equal(t, apperrors.CodeStateCorrupted, apperrors.CodeOf(err))

	// 损坏的文件必须保留，供人工排查
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "{not json", string(data))
}

func TestStateStoreLoadInvalidSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	// 章节数超过大纲数
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": 1,
		"status": "running",
		"plans": [],
		"chapters": [{"number": 1, "title": "t", "content": "c"}],
		"short_term": {"window": 1, "max_chars": 10},
		"long_term": {}
	}`), 0o644))

	store := NewStateStore(path)
	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStateCorrupted, apperrors.CodeOf(err))
}

func TestStateStoreSaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(filepath.Join(dir, "state.json"))
	ctx := context.Background()

	state := newTestState()
	require.NoError(t, store.Save(ctx, state))

	state.Chapters = append(state.Chapters, entity.Chapter{Number: 2, Title: "相遇", Content: "第二章正文", WordCount: 5})
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.ChapterIndex())
}

func TestStateStoreExists(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(filepath.Join(dir, "state.json"))

	ok, err := store.Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(context.Background(), newTestState()))
	ok, err = store.Exists()
	require.NoError(t, err)
	assert.True(t, ok)
}
