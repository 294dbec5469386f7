package model

// ChapterSummarizeInput 章节摘要链输入
type ChapterSummarizeInput struct {
	ChapterNumber int
	ChapterTitle  string
	Content       string

	Options CallOptions
}

// SummaryPayload 摘要的 JSON 输出结构
type SummaryPayload struct {
	Summary          string            `json:"summary"`
	KeyEvents        []string          `json:"key_events"`
	CharacterChanges map[string]string `json:"character_changes"`
	NewInfo          []string          `json:"new_info"`
}
