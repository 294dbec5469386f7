package entity

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// STMEntry 短期记忆条目：最近章节的正文快照
type STMEntry struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ShortTermMemory 短期记忆：最近 k 章的有界滑动窗口
// 用于保持局部连续性与防止重复描写
type ShortTermMemory struct {
	Window   int        `json:"window"`
	MaxChars int        `json:"max_chars"`
	Entries  []STMEntry `json:"entries"`
}

// NewShortTermMemory 创建短期记忆窗口
func NewShortTermMemory(window, maxChars int) *ShortTermMemory {
	return &ShortTermMemory{
		Window:   window,
		MaxChars: maxChars,
		Entries:  make([]STMEntry, 0, window),
	}
}

// Push 追加新章节并淘汰窗口外的最旧条目
func (m *ShortTermMemory) Push(ch *Chapter) {
	if m == nil || ch == nil {
		return
	}
	m.Entries = append(m.Entries, STMEntry{
		Number:  ch.Number,
		Title:   ch.Title,
		Content: ch.Content,
	})
	if m.Window > 0 && len(m.Entries) > m.Window {
		m.Entries = m.Entries[len(m.Entries)-m.Window:]
	}
}

// Len 当前窗口内章节数
func (m *ShortTermMemory) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

// PromptText 生成提示词片段；超过字符预算时保留尾部
func (m *ShortTermMemory) PromptText() string {
	if m == nil || len(m.Entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("=== 短期记忆（最近章节正文，用于防止重复） ===\n")
	wrote := false
	for _, e := range m.Entries {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		wrote = true
		fmt.Fprintf(&b, "\n[第%d章：%s]\n%s\n", e.Number, e.Title, content)
	}
	if !wrote {
		return ""
	}

	full := b.String()
	if m.MaxChars > 0 && utf8.RuneCountInString(full) > m.MaxChars {
		runes := []rune(full)
		tail := string(runes[len(runes)-m.MaxChars:])
		return fmt.Sprintf("=== 短期记忆（仅保留最近 %d 字） ===\n[...前文省略...]\n%s", m.MaxChars, tail)
	}
	return full
}

// ThreadStatus 情节线状态
type ThreadStatus string

const (
	ThreadStatusOpen     ThreadStatus = "open"
	ThreadStatusResolved ThreadStatus = "resolved"
)

// CharacterFact 角色发展事实
// Significant 标记由写作产出的发展节点或被编辑反馈引用的事实；
// 压缩时优先保留
type CharacterFact struct {
	Text        string `json:"text"`
	Chapter     int    `json:"chapter"`
	Significant bool   `json:"significant,omitempty"`
}

// PlotThread 情节线
type PlotThread struct {
	Name    string       `json:"name"`
	Status  ThreadStatus `json:"status"`
	Chapter int          `json:"chapter"`
}

// LongTermMemory 长期记忆：角色发展与情节线的持久存储
// 随章节提交增量更新，按优化间隔周期性压缩
type LongTermMemory struct {
	Facts   map[string][]CharacterFact `json:"facts"`
	Threads []PlotThread               `json:"threads"`
	Events  []string                   `json:"events,omitempty"`
}

// NewLongTermMemory 创建长期记忆并初始化角色条目
func NewLongTermMemory(characters []string) *LongTermMemory {
	facts := make(map[string][]CharacterFact, len(characters))
	for _, name := range characters {
		if name != "" {
			facts[name] = nil
		}
	}
	return &LongTermMemory{
		Facts:   facts,
		Threads: nil,
	}
}

// MergeSummary 用章节摘要增量更新长期记忆
// 角色变化视为发展节点（significant），新信息与关键事件进入开放情节线
func (m *LongTermMemory) MergeSummary(chapterNum int, s *ChapterSummary) {
	if m == nil || s == nil {
		return
	}
	if m.Facts == nil {
		m.Facts = make(map[string][]CharacterFact)
	}

	if strings.TrimSpace(s.Summary) != "" {
		m.Events = append(m.Events, strings.TrimSpace(s.Summary))
	}

	for name, change := range s.CharacterChanges {
		name = strings.TrimSpace(name)
		change = strings.TrimSpace(change)
		if name == "" || change == "" {
			continue
		}
		m.Facts[name] = append(m.Facts[name], CharacterFact{
			Text:        change,
			Chapter:     chapterNum,
			Significant: true,
		})
	}

	for _, info := range append(append([]string{}, s.NewInfo...), s.KeyEvents...) {
		info = strings.TrimSpace(info)
		if info == "" || m.hasThread(info) {
			continue
		}
		m.Threads = append(m.Threads, PlotThread{
			Name:    info,
			Status:  ThreadStatusOpen,
			Chapter: chapterNum,
		})
	}
}

func (m *LongTermMemory) hasThread(name string) bool {
	for _, t := range m.Threads {
		if t.Name == name {
			return true
		}
	}
	return false
}

// MarkReferenced 根据编辑反馈标记被引用角色的最新事实为 significant
func (m *LongTermMemory) MarkReferenced(feedback string) {
	if m == nil || strings.TrimSpace(feedback) == "" {
		return
	}
	for name, facts := range m.Facts {
		if len(facts) == 0 || !strings.Contains(feedback, name) {
			continue
		}
		facts[len(facts)-1].Significant = true
	}
}

// Size 长期记忆条目数（事实 + 情节线），压缩的单调性依据
func (m *LongTermMemory) Size() int {
	if m == nil {
		return 0
	}
	n := len(m.Threads)
	for _, facts := range m.Facts {
		n += len(facts)
	}
	return n
}

// OpenThreads 返回未解决的情节线
func (m *LongTermMemory) OpenThreads() []PlotThread {
	if m == nil {
		return nil
	}
	out := make([]PlotThread, 0, len(m.Threads))
	for _, t := range m.Threads {
		if t.Status != ThreadStatusResolved {
			out = append(out, t)
		}
	}
	return out
}

// ApplyCaps 施加硬上限：每个角色最多 maxFacts 条事实（优先保留
// significant，其余按最新），情节线最多 maxThreads 条（已解决的优先淘汰）
func (m *LongTermMemory) ApplyCaps(maxFacts, maxThreads int) {
	if m == nil {
		return
	}

	if maxFacts > 0 {
		for name, facts := range m.Facts {
			if len(facts) <= maxFacts {
				continue
			}
			kept := make([]CharacterFact, 0, maxFacts)
			for _, f := range facts {
				if f.Significant {
					kept = append(kept, f)
				}
			}
			if len(kept) > maxFacts {
				kept = kept[len(kept)-maxFacts:]
			} else {
				// 剩余名额按最新补齐
				for i := len(facts) - 1; i >= 0 && len(kept) < maxFacts; i-- {
					if !facts[i].Significant {
						kept = append(kept, facts[i])
					}
				}
				sortFactsByChapter(kept)
			}
			m.Facts[name] = kept
		}
	}

	if maxThreads > 0 && len(m.Threads) > maxThreads {
		kept := make([]PlotThread, 0, maxThreads)
		for _, t := range m.Threads {
			if t.Status != ThreadStatusResolved {
				kept = append(kept, t)
			}
		}
		if len(kept) > maxThreads {
			kept = kept[len(kept)-maxThreads:]
		}
		m.Threads = kept
	}
}

func sortFactsByChapter(facts []CharacterFact) {
	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].Chapter < facts[j].Chapter
	})
}

// PromptText 生成提示词片段：角色近况（每人最多 3 条）与进行中的情节线
func (m *LongTermMemory) PromptText() string {
	if m == nil {
		return ""
	}

	var sections []string

	var charLines []string
	for name, facts := range m.Facts {
		if len(facts) == 0 {
			continue
		}
		recent := facts
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		texts := make([]string, 0, len(recent))
		for _, f := range recent {
			texts = append(texts, f.Text)
		}
		charLines = append(charLines, fmt.Sprintf("• %s：%s", name, strings.Join(texts, "；")))
	}
	if len(charLines) > 0 {
		sort.Strings(charLines)
		sections = append(sections, "--- 角色发展近况（长期记忆） ---\n"+strings.Join(charLines, "\n"))
	}

	open := m.OpenThreads()
	if len(open) > 0 {
		var b strings.Builder
		b.WriteString("--- 进行中的情节线（长期记忆） ---\n")
		for _, t := range open {
			fmt.Fprintf(&b, "• %s（第%d章起）\n", t.Name, t.Chapter)
		}
		sections = append(sections, strings.TrimSpace(b.String()))
	}

	return strings.Join(sections, "\n\n")
}
