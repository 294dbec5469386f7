package model

// ChapterGenerateInput 章节写作链输入
type ChapterGenerateInput struct {
	Synopsis     string
	WritingStyle string
	StyleExample string
	Characters   string
	WorldSetting string

	ChapterNumber  int
	TotalChapters  int
	ChapterTitle   string
	ChapterOutline string
	NextOutline    string

	OutlineMap      string
	ShortTermMemory string
	LongTermMemory  string

	MinWords int
	MaxWords int

	Options CallOptions
}

// ChapterRefineInput 章节修订链输入
type ChapterRefineInput struct {
	WritingStyle string
	StyleExample string

	ChapterNumber int
	Draft         string
	Feedback      string

	MinWords int
	MaxWords int

	// FullRewrite 分量严重失衡时整章重写，否则保量润色
	FullRewrite bool

	Options CallOptions
}
