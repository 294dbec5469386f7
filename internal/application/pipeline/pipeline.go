// Package pipeline 串联大纲、写作、审阅、摘要与记忆的主控制循环
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"z-novel-writer/internal/application/editor"
	"z-novel-writer/internal/application/storyutil"
	"z-novel-writer/internal/config"
	"z-novel-writer/internal/domain/entity"
	apperrors "z-novel-writer/pkg/errors"
	"z-novel-writer/pkg/logger"
	"z-novel-writer/pkg/metrics"
)

// OutlineGenerator 大纲生成
type OutlineGenerator interface {
	Generate(ctx context.Context) ([]entity.ChapterPlan, error)
}

// ChapterWriter 初稿写作与修订
type ChapterWriter interface {
	Draft(ctx context.Context, state *entity.PipelineState, plan entity.ChapterPlan) (*entity.Chapter, error)
	Refine(ctx context.Context, ch *entity.Chapter, feedback string) (string, error)
}

// ChapterEditor 章节审阅
type ChapterEditor interface {
	Review(ctx context.Context, state *entity.PipelineState, ch *entity.Chapter) (*editor.Review, error)
}

// ChapterSummarizer 章节摘要
type ChapterSummarizer interface {
	Summarize(ctx context.Context, ch *entity.Chapter) (*entity.ChapterSummary, error)
}

// MemoryStore 记忆更新与压缩
type MemoryStore interface {
	Commit(ctx context.Context, state *entity.PipelineState, ch *entity.Chapter, sum *entity.ChapterSummary, feedback string)
	MaybeCompact(ctx context.Context, state *entity.PipelineState, currentChapter int)
}

// StateStore 检查点持久化
type StateStore interface {
	Load(ctx context.Context) (*entity.PipelineState, error)
	Save(ctx context.Context, state *entity.PipelineState) error
}

// NovelWriter 最终成稿输出
type NovelWriter interface {
	WriteNovel(chapters []entity.Chapter) error
}

// RevisionVerifier 修订稿语义校验（仅作参考，不阻断流程）
type RevisionVerifier interface {
	VerifyRevision(ctx context.Context, oldContent, newContent, feedback string) (bool, float64, error)
}

// Pipeline 小说生成流水线
type Pipeline struct {
	cfg        *config.Config
	outline    OutlineGenerator
	writer     ChapterWriter
	editor     ChapterEditor
	summarizer ChapterSummarizer
	memory     MemoryStore
	store      StateStore
	output     NovelWriter
	verifier   RevisionVerifier

	phase entity.Phase
}

// Deps 流水线依赖集合
type Deps struct {
	Outline    OutlineGenerator
	Writer     ChapterWriter
	Editor     ChapterEditor
	Summarizer ChapterSummarizer
	Memory     MemoryStore
	Store      StateStore
	Output     NovelWriter
	// Verifier 可为 nil，表示关闭修订校验
	Verifier RevisionVerifier
}

func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		outline:    deps.Outline,
		writer:     deps.Writer,
		editor:     deps.Editor,
		summarizer: deps.Summarizer,
		memory:     deps.Memory,
		store:      deps.Store,
		output:     deps.Output,
		verifier:   deps.Verifier,
		phase:      entity.PhaseInit,
	}
}

// Phase 当前阶段
func (p *Pipeline) Phase() entity.Phase {
	return p.phase
}

func (p *Pipeline) setPhase(ctx context.Context, phase entity.Phase) context.Context {
	p.phase = phase
	ctx = logger.WithContext(ctx, logger.PhaseKey, string(phase))
	logger.Debug(ctx, "阶段切换")
	return ctx
}

// Run 执行流水线直至全书完成。
// 中断时保存快照并返回中断错误；可用同一状态文件重新运行续写。
func (p *Pipeline) Run(ctx context.Context) error {
	state, err := p.loadOrInit(ctx)
	if err != nil {
		return err
	}

	if len(state.Plans) == 0 {
		ctx = p.setPhase(ctx, entity.PhaseOutlining)
		plans, err := p.outline.Generate(ctx)
		if err != nil {
			return p.finish(ctx, state, err)
		}
		state.Plans = plans
		if err := p.save(ctx, state); err != nil {
			return err
		}
	}

	logger.Info(ctx, "开始写作", "total_chapters", len(state.Plans),
		"completed_chapters", state.ChapterIndex())

	for plan := state.NextPlan(); plan != nil; plan = state.NextPlan() {
		chCtx := logger.WithContext(ctx, logger.ChapterKey, plan.Number)

		if err := chCtx.Err(); err != nil {
			return p.finish(chCtx, state, apperrors.Wrap(apperrors.CodeInterrupted, "收到停止信号", err))
		}

		ch, review, err := p.writeChapter(chCtx, state, *plan)
		if err != nil {
			return p.finish(chCtx, state, err)
		}

		chCtx = p.setPhase(chCtx, entity.PhaseCommitting)
		p.commitChapter(chCtx, state, ch, review)

		// 压缩先于保存，检查点里总是压缩后的记忆
		p.memory.MaybeCompact(chCtx, state, ch.Number)

		chCtx = p.setPhase(chCtx, entity.PhaseSaving)
		if p.shouldAutoSave(state.ChapterIndex()) {
			if err := p.save(chCtx, state); err != nil {
				return err
			}
		}
	}

	ctx = p.setPhase(ctx, entity.PhaseDone)
	state.Status = entity.StatusCompleted
	if err := p.save(ctx, state); err != nil {
		return err
	}
	if err := p.output.WriteNovel(state.Chapters); err != nil {
		return err
	}
	logger.Info(ctx, "全书完成", "chapters", len(state.Chapters))
	return nil
}

func (p *Pipeline) loadOrInit(ctx context.Context) (*entity.PipelineState, error) {
	state, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state != nil {
		logger.Info(ctx, "从检查点恢复",
			"completed_chapters", state.ChapterIndex(), "plans", len(state.Plans))
		state.Status = entity.StatusRunning
		return state, nil
	}

	return &entity.PipelineState{
		Version:   entity.StateVersion,
		Status:    entity.StatusRunning,
		ShortTerm: entity.NewShortTermMemory(p.cfg.Novel.ShortTermMemoryChapters, p.cfg.Novel.ShortTermMemoryMaxChars),
		LongTerm:  entity.NewLongTermMemory(p.cfg.Novel.CharacterNames()),
	}, nil
}

// writeChapter 单章的写作-审阅-修订循环。
// 始终保留得分最高的稿子（同分取较新者），轮次耗尽时强制提交最佳稿。
func (p *Pipeline) writeChapter(ctx context.Context, state *entity.PipelineState, plan entity.ChapterPlan) (*entity.Chapter, *editor.Review, error) {
	ctx = p.setPhase(ctx, entity.PhaseWriting)
	ch, err := p.writer.Draft(ctx, state, plan)
	if err != nil {
		return nil, nil, err
	}

	maxRounds := p.cfg.Writer.MaxRefinementRounds
	var bestContent string
	var bestWords int
	var bestReview *editor.Review

	for round := 0; ; round++ {
		ctx = p.setPhase(ctx, entity.PhaseReviewing)
		review, err := p.editor.Review(ctx, state, ch)
		if err != nil {
			if apperrors.IsInterrupted(err) {
				return nil, nil, err
			}
			// 审阅环节故障不应毁掉已写好的正文，降级为强制提交
			logger.Warn(ctx, "审阅失败，跳过质量把关强制提交", err, "chapter", ch.Number)
			ch.Forced = true
			ch.RevisionCount = round
			return ch, bestReview, nil
		}

		// 同分取较新稿，修订通常在细节上更好
		if bestReview == nil || review.Average >= bestReview.Average {
			bestContent = ch.Content
			bestWords = ch.WordCount
			bestReview = review
		}

		if review.Approved {
			ch.RevisionCount = round
			logger.Info(ctx, "章节通过审阅", "chapter", ch.Number,
				"score", review.Average, "rounds", round)
			return ch, review, nil
		}

		if round >= maxRounds {
			ch.Content = bestContent
			ch.WordCount = bestWords
			ch.RevisionCount = round
			ch.Forced = true
			logger.Warn(ctx, "修订轮次耗尽，强制提交最佳稿", nil,
				"chapter", ch.Number, "score", bestReview.Average, "rounds", round)
			return ch, bestReview, nil
		}

		ctx = p.setPhase(ctx, entity.PhaseRevising)
		logger.Info(ctx, "进入修订", "chapter", ch.Number,
			"round", round+1, "max_rounds", maxRounds, "score", review.Average)
		revised, err := p.writer.Refine(ctx, ch, review.Feedback)
		if err != nil {
			if apperrors.IsInterrupted(err) {
				return nil, nil, err
			}
			// 修订失败时放弃本轮，用当前最佳稿继续送审
			logger.Warn(ctx, "修订失败，沿用当前稿", err, "chapter", ch.Number)
			continue
		}

		p.verifyRevision(ctx, ch, revised, review.Feedback)
		ch.Content = revised
		ch.WordCount = storyutil.CountWords(revised)
	}
}

// verifyRevision 修订语义校验，结果仅记录日志
func (p *Pipeline) verifyRevision(ctx context.Context, ch *entity.Chapter, revised, feedback string) {
	if p.verifier == nil {
		return
	}
	ok, score, err := p.verifier.VerifyRevision(ctx, ch.Content, revised, feedback)
	if err != nil {
		logger.Warn(ctx, "修订校验失败，忽略", err, "chapter", ch.Number)
		return
	}
	if !ok {
		logger.Warn(ctx, "修订稿与审阅意见相关性偏低", nil,
			"chapter", ch.Number, "similarity", fmt.Sprintf("%.3f", score))
		return
	}
	logger.Debug(ctx, "修订校验通过", "chapter", ch.Number,
		"similarity", fmt.Sprintf("%.3f", score))
}

// commitChapter 摘要、记忆更新并把章节并入状态。
// 摘要失败降级为占位摘要，不阻断提交。
func (p *Pipeline) commitChapter(ctx context.Context, state *entity.PipelineState, ch *entity.Chapter, review *editor.Review) {
	sum, err := p.summarizer.Summarize(ctx, ch)
	if err != nil {
		logger.Warn(ctx, "摘要生成失败，使用占位摘要", err, "chapter", ch.Number)
		sum = &entity.ChapterSummary{
			Summary: fmt.Sprintf("第 %d 章《%s》摘要生成失败。", ch.Number, ch.Title),
		}
	}
	ch.Summary = sum.Summary
	ch.KeyEvents = sum.KeyEvents

	feedback := ""
	score := 0.0
	if review != nil {
		feedback = review.Feedback
		score = review.Average
	}
	ch.Score = score

	p.memory.Commit(ctx, state, ch, sum, feedback)
	state.Chapters = append(state.Chapters, *ch)

	outcome := "approved"
	if ch.Forced {
		outcome = "forced"
	}
	metrics.ChapterCommittedTotal.WithLabelValues(outcome).Inc()
	metrics.ChapterRevisionRounds.Observe(float64(ch.RevisionCount))
	metrics.ChapterWordCount.Observe(float64(ch.WordCount))
	metrics.ChapterScore.Observe(score)

	logger.Info(ctx, "章节已提交", "chapter", ch.Number, "words", ch.WordCount,
		"score", score, "revisions", ch.RevisionCount, "forced", ch.Forced)
}

func (p *Pipeline) shouldAutoSave(committed int) bool {
	interval := p.cfg.Writer.AutoSaveInterval
	if interval <= 1 {
		return true
	}
	return committed%interval == 0
}

func (p *Pipeline) save(ctx context.Context, state *entity.PipelineState) error {
	err := p.store.Save(ctx, state)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.CheckpointSaveTotal.WithLabelValues(status).Inc()
	if err != nil {
		return err
	}
	logger.Debug(ctx, "检查点已保存", "completed_chapters", state.ChapterIndex())
	return nil
}

// finish 出错收尾：中断时保存可续写的快照，其余错误原样上抛
func (p *Pipeline) finish(ctx context.Context, state *entity.PipelineState, err error) error {
	if apperrors.IsInterrupted(err) || errors.Is(err, context.Canceled) {
		p.phase = entity.PhaseInterrupted
		state.Status = entity.StatusInterrupted
		// 尽力保存，保存失败以中断错误为准
		if saveErr := p.save(context.WithoutCancel(ctx), state); saveErr != nil {
			logger.Error(ctx, "中断时保存检查点失败", saveErr)
		} else {
			logger.Info(ctx, "已中断，进度已保存",
				"completed_chapters", state.ChapterIndex())
		}
		if apperrors.IsInterrupted(err) {
			return err
		}
		return apperrors.Wrap(apperrors.CodeInterrupted, "写作被中断", err)
	}

	state.Status = entity.StatusFailed
	if saveErr := p.save(context.WithoutCancel(ctx), state); saveErr != nil {
		logger.Error(ctx, "失败时保存检查点失败", saveErr)
	}
	return err
}
