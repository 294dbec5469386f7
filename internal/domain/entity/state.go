package entity

import (
	"fmt"
)

// Phase 流水线阶段
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseOutlining   Phase = "outlining"
	PhaseWriting     Phase = "writing"
	PhaseReviewing   Phase = "reviewing"
	PhaseRevising    Phase = "revising"
	PhaseCommitting  Phase = "committing"
	PhaseSaving      Phase = "saving"
	PhaseDone        Phase = "done"
	PhaseInterrupted Phase = "interrupted"
)

// 运行状态常量（持久化快照中的 status 字段）
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// StateVersion 当前快照格式版本
const StateVersion = 1

// PipelineState 流水线持久化状态（检查点的完整单元）
// 恢复逻辑是快照的纯函数：章节索引由 len(Chapters) 派生，不单独持久化
type PipelineState struct {
	Version   int              `json:"version"`
	Status    string           `json:"status"`
	Plans     []ChapterPlan    `json:"plans"`
	Chapters  []Chapter        `json:"chapters"`
	ShortTerm *ShortTermMemory `json:"short_term"`
	LongTerm  *LongTermMemory  `json:"long_term"`
}

// ChapterIndex 已提交章节数，即下一章写作位置（0 基）
func (s *PipelineState) ChapterIndex() int {
	if s == nil {
		return 0
	}
	return len(s.Chapters)
}

// NextPlan 返回下一待写章节的规划，全部写完时返回 nil
func (s *PipelineState) NextPlan() *ChapterPlan {
	idx := s.ChapterIndex()
	if idx >= len(s.Plans) {
		return nil
	}
	return &s.Plans[idx]
}

// PlanAfter 返回指定章节之后的规划（用于"下一章预告"提示），无则返回 nil
func (s *PipelineState) PlanAfter(number int) *ChapterPlan {
	for i := range s.Plans {
		if s.Plans[i].Number == number+1 {
			return &s.Plans[i]
		}
	}
	return nil
}

// RemainingPlans 返回尚未写作的章节规划
func (s *PipelineState) RemainingPlans() []ChapterPlan {
	idx := s.ChapterIndex()
	if idx >= len(s.Plans) {
		return nil
	}
	return s.Plans[idx:]
}

// Validate 校验快照内部一致性，用于加载后的防御检查
func (s *PipelineState) Validate() error {
	if s == nil {
		return fmt.Errorf("state is nil")
	}
	if s.Version <= 0 || s.Version > StateVersion {
		return fmt.Errorf("unsupported state version %d", s.Version)
	}
	if len(s.Chapters) > len(s.Plans) {
		return fmt.Errorf("chapters (%d) exceed plans (%d)", len(s.Chapters), len(s.Plans))
	}
	for i := range s.Plans {
		if s.Plans[i].Number != i+1 {
			return fmt.Errorf("plan %d has number %d, want %d", i, s.Plans[i].Number, i+1)
		}
	}
	for i := range s.Chapters {
		ch := &s.Chapters[i]
		if ch.Number != i+1 {
			return fmt.Errorf("chapter %d has number %d, want %d", i, ch.Number, i+1)
		}
		if ch.Content == "" {
			return fmt.Errorf("chapter %d has empty content", ch.Number)
		}
	}
	if s.ShortTerm == nil || s.LongTerm == nil {
		return fmt.Errorf("memory sections missing")
	}
	return nil
}

// OutlineMap 全书大纲"地图"：标注当前位置与各章完成状态
func (s *PipelineState) OutlineMap(currentNumber int) string {
	if len(s.Plans) == 0 {
		return ""
	}
	out := "--- 全书大纲（当前位置：▶） ---\n"
	for i := range s.Plans {
		p := &s.Plans[i]
		marker := " "
		if p.Number == currentNumber {
			marker = "▶"
		}
		status := "（待写作）"
		detail := p.Outline
		if p.Number <= len(s.Chapters) {
			status = "（已完成）"
			if sum := s.Chapters[p.Number-1].Summary; sum != "" {
				detail = sum
			}
		}
		out += fmt.Sprintf(" %s 第%d章《%s》%s：%s\n", marker, p.Number, p.Title, status, truncateRunes(detail, 100))
	}
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
