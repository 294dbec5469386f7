package model

import "time"

// LLMUsageMeta 单次模型调用的用量元数据
type LLMUsageMeta struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	GeneratedAt      time.Time
}

// CallOptions 每次调用可覆盖的模型参数
type CallOptions struct {
	Provider    string
	Model       string
	Temperature *float32
	MaxTokens   *int
}
