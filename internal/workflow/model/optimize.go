package model

// MemoryOptimizeInput 长期记忆压缩链输入
type MemoryOptimizeInput struct {
	Synopsis       string
	TargetChapters int
	CurrentChapter int

	CharacterFacts   string
	PlotThreads      string
	RemainingOutline string

	MaxCharacterFacts int
	MaxPlotThreads    int

	Options CallOptions
}

// OptimizePayload 压缩的 JSON 输出结构
type OptimizePayload struct {
	CharacterFacts map[string][]string `json:"character_facts"`
	PlotThreads    map[string]string   `json:"plot_threads"`
	Removed        *OptimizeRemoved    `json:"removed_items,omitempty"`
}

// OptimizeRemoved 压缩移除项说明（仅用于日志）
type OptimizeRemoved struct {
	CharacterFacts []string `json:"removed_character_facts,omitempty"`
	PlotThreads    []string `json:"removed_plot_threads,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}
