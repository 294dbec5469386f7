package model

// OutlineGenerateInput 大纲生成链输入
type OutlineGenerateInput struct {
	Synopsis     string
	WritingStyle string
	StyleExample string
	Characters   string
	WorldSetting string

	TargetChapters        int
	TargetWordsPerChapter int

	Options CallOptions
}

// OutlinePayload 大纲生成的 JSON 输出结构
type OutlinePayload struct {
	Chapters []OutlinePayloadChapter `json:"chapters"`
}

// OutlinePayloadChapter 大纲条目
type OutlinePayloadChapter struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Outline string `json:"outline"`
}
