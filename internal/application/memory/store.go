// Package memory 负责短期/长期记忆的更新与周期性压缩
package memory

import (
	"context"
	"encoding/json"

	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/entity"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
	"z-novel-writer/pkg/metrics"
)

// CompactionPolicy 长期记忆压缩策略
type CompactionPolicy interface {
	Name() string
	Compact(ctx context.Context, state *entity.PipelineState, currentChapter int) error
}

// Store 记忆管理器。持有压缩策略，主策略失败时退化到确定性策略。
type Store struct {
	cfg      *config.Config
	policy   CompactionPolicy
	fallback CompactionPolicy
}

func NewStore(cfg *config.Config, policy, fallback CompactionPolicy) *Store {
	return &Store{cfg: cfg, policy: policy, fallback: fallback}
}

// Commit 章节提交后更新记忆：正文入短期窗口，摘要并入长期记忆，
// 编辑反馈中点名的角色事实标记为重点保留。
func (s *Store) Commit(ctx context.Context, state *entity.PipelineState, ch *entity.Chapter, sum *entity.ChapterSummary, feedback string) {
	state.ShortTerm.Push(ch)
	state.LongTerm.MergeSummary(ch.Number, sum)
	state.LongTerm.MarkReferenced(feedback)
	metrics.MemorySize.Set(float64(state.LongTerm.Size()))
	logger.Debug(ctx, "记忆已更新", "chapter", ch.Number,
		"stm_len", state.ShortTerm.Len(), "ltm_size", state.LongTerm.Size())
}

// MaybeCompact 按优化间隔压缩长期记忆。
// 压缩永不增长记忆：策略执行后施加硬上限，结果变大则整体回滚。
// 压缩失败只降级不中断流水线。
func (s *Store) MaybeCompact(ctx context.Context, state *entity.PipelineState, currentChapter int) {
	if !s.cfg.Novel.EnableLTMOptimization {
		return
	}
	interval := s.cfg.Writer.LTMOptimizationInterval
	if interval <= 0 || currentChapter%interval != 0 {
		return
	}

	before := state.LongTerm.Size()
	snapshot, err := cloneMemory(state.LongTerm)
	if err != nil {
		logger.Warn(ctx, "记忆快照失败，跳过本轮压缩", err, "chapter", currentChapter)
		return
	}

	policy := s.policy
	if err := s.runPolicy(ctx, policy, state, currentChapter); err != nil {
		if apperrors.IsInterrupted(err) {
			return
		}
		if s.fallback == nil {
			logger.Warn(ctx, "记忆压缩失败，保留原记忆", err, "policy", policy.Name())
			return
		}
		logger.Warn(ctx, "主压缩策略失败，退化到确定性策略", err, "policy", policy.Name())
		state.LongTerm = snapshot
		snapshot, err = cloneMemory(state.LongTerm)
		if err != nil {
			return
		}
		policy = s.fallback
		if err := s.runPolicy(ctx, policy, state, currentChapter); err != nil {
			logger.Warn(ctx, "记忆压缩失败，保留原记忆", err, "policy", policy.Name())
			state.LongTerm = snapshot
			return
		}
	}

	state.LongTerm.ApplyCaps(s.cfg.Writer.LTMMaxCharacterFacts, s.cfg.Writer.LTMMaxPlotThreads)

	after := state.LongTerm.Size()
	if after > before {
		logger.Warn(ctx, "压缩后记忆反而变大，回滚", nil,
			"policy", policy.Name(), "before", before, "after", after)
		state.LongTerm = snapshot
		return
	}

	metrics.MemorySize.Set(float64(state.LongTerm.Size()))
	logger.Info(ctx, "长期记忆压缩完成", "policy", policy.Name(),
		"chapter", currentChapter, "before", before, "after", after)
}

func (s *Store) runPolicy(ctx context.Context, policy CompactionPolicy, state *entity.PipelineState, currentChapter int) error {
	err := policy.Compact(ctx, state, currentChapter)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.MemoryCompactionTotal.WithLabelValues(policy.Name(), status).Inc()
	return err
}

func cloneMemory(m *entity.LongTermMemory) (*entity.LongTermMemory, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out entity.LongTermMemory
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
