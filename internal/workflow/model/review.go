package model

// ChapterReviewInput 章节审阅链输入
type ChapterReviewInput struct {
	Synopsis     string
	WritingStyle string
	StyleExample string
	Characters   string
	WorldSetting string

	ChapterNumber int
	ChapterTitle  string
	Content       string
	WordCount     int

	ShortTermMemory string
	LongTermMemory  string

	MinWords int
	MaxWords int

	Options CallOptions
}

// ReviewPayload 审阅的 JSON 输出结构
type ReviewPayload struct {
	Scores   map[string]float64 `json:"scores"`
	Feedback string             `json:"feedback"`
	Status   string             `json:"status"`
}
