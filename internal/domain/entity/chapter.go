// Package entity 定义领域实体
package entity

import (
	"time"
)

// GenerationMetadata 生成元数据
type GenerationMetadata struct {
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	GeneratedAt      time.Time `json:"generated_at,omitempty"`
}

// ChapterPlan 章节规划（大纲条目），由结构生成器一次性产出
type ChapterPlan struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Outline string `json:"outline"`
}

// Chapter 已提交章节
// 只有通过审核（或修订轮次耗尽后强制提交）的章节才会进入历史
type Chapter struct {
	Number        int                 `json:"number"`
	Title         string              `json:"title"`
	Outline       string              `json:"outline"`
	Content       string              `json:"content"`
	Summary       string              `json:"summary,omitempty"`
	KeyEvents     []string            `json:"key_events,omitempty"`
	WordCount     int                 `json:"word_count"`
	Score         float64             `json:"score"`
	RevisionCount int                 `json:"revision_count"`
	Forced        bool                `json:"forced,omitempty"`
	Generation    *GenerationMetadata `json:"generation,omitempty"`
}

// ChapterSummary 章节摘要提取结果，用于更新长期记忆
type ChapterSummary struct {
	Summary          string            `json:"summary"`
	KeyEvents        []string          `json:"key_events"`
	CharacterChanges map[string]string `json:"character_changes"`
	NewInfo          []string          `json:"new_info"`
}
