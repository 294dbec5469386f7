// Package config 提供配置加载和管理功能
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Novel         NovelConfig         `yaml:"novel" mapstructure:"novel"`
	Writer        WriterConfig        `yaml:"writer" mapstructure:"writer"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// CharacterConfig 角色设定
type CharacterConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Description string `yaml:"description" mapstructure:"description"`
}

// NovelConfig 小说基础设定（不可变，整个运行期间只读）
type NovelConfig struct {
	Synopsis     string            `yaml:"synopsis" mapstructure:"synopsis"`
	WritingStyle string            `yaml:"writing_style" mapstructure:"writing_style"`
	StyleExample string            `yaml:"style_example" mapstructure:"style_example"`
	WorldSetting string            `yaml:"world_setting" mapstructure:"world_setting"`
	Characters   []CharacterConfig `yaml:"characters" mapstructure:"characters"`

	TargetChapters        int     `yaml:"target_chapters" mapstructure:"target_chapters"`
	TargetWordsPerChapter int     `yaml:"target_words_per_chapter" mapstructure:"target_words_per_chapter"`
	WordsTolerance        float64 `yaml:"words_tolerance" mapstructure:"words_tolerance"`

	// 短期记忆配置
	ShortTermMemoryChapters int `yaml:"short_term_memory_chapters" mapstructure:"short_term_memory_chapters"`
	ShortTermMemoryMaxChars int `yaml:"short_term_memory_max_chars" mapstructure:"short_term_memory_max_chars"`

	// 长期记忆优化开关
	EnableLTMOptimization bool `yaml:"enable_ltm_optimization" mapstructure:"enable_ltm_optimization"`
}

// MinWords 目标字数下限
func (n *NovelConfig) MinWords() int {
	return int(float64(n.TargetWordsPerChapter) * (1 - n.WordsTolerance))
}

// MaxWords 目标字数上限
func (n *NovelConfig) MaxWords() int {
	return int(float64(n.TargetWordsPerChapter) * (1 + n.WordsTolerance))
}

// CharactersText 人物列表的提示词文本
func (n *NovelConfig) CharactersText() string {
	var b strings.Builder
	for _, c := range n.Characters {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// CharacterNames 人物名列表
func (n *NovelConfig) CharacterNames() []string {
	names := make([]string, 0, len(n.Characters))
	for _, c := range n.Characters {
		names = append(names, c.Name)
	}
	return names
}

// WriterConfig 写作调度配置（API 调用及流程相关）
type WriterConfig struct {
	// 各角色使用的 LLM provider/model
	WriterProvider string `yaml:"writer_provider" mapstructure:"writer_provider"`
	WriterModel    string `yaml:"writer_model" mapstructure:"writer_model"`
	EditorProvider string `yaml:"editor_provider" mapstructure:"editor_provider"`
	EditorModel    string `yaml:"editor_model" mapstructure:"editor_model"`

	// Token 配置
	MaxGenerationTokens int `yaml:"max_generation_tokens" mapstructure:"max_generation_tokens"`
	MaxReviewTokens     int `yaml:"max_review_tokens" mapstructure:"max_review_tokens"`

	// 限速与重试配置
	RateLimitDelay    time.Duration `yaml:"rate_limit_delay" mapstructure:"rate_limit_delay"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	OutlineMaxRetries int           `yaml:"outline_max_retries" mapstructure:"outline_max_retries"`

	// 自动保存间隔（章）
	AutoSaveInterval int `yaml:"auto_save_interval" mapstructure:"auto_save_interval"`

	// 修订配置
	MaxRefinementRounds    int     `yaml:"max_refinement_rounds" mapstructure:"max_refinement_rounds"`
	ApprovalScoreThreshold float64 `yaml:"approval_score_threshold" mapstructure:"approval_score_threshold"`

	// Temperature 配置
	WriterTemperature     float64 `yaml:"writer_temperature" mapstructure:"writer_temperature"`
	EditorTemperature     float64 `yaml:"editor_temperature" mapstructure:"editor_temperature"`
	SummarizerTemperature float64 `yaml:"summarizer_temperature" mapstructure:"summarizer_temperature"`

	// 长期记忆优化配置
	LTMOptimizationInterval int     `yaml:"ltm_optimization_interval" mapstructure:"ltm_optimization_interval"`
	LTMMaxCharacterFacts    int     `yaml:"ltm_max_character_facts" mapstructure:"ltm_max_character_facts"`
	LTMMaxPlotThreads       int     `yaml:"ltm_max_plot_threads" mapstructure:"ltm_max_plot_threads"`
	LTMOptimizerTemperature float64 `yaml:"ltm_optimizer_temperature" mapstructure:"ltm_optimizer_temperature"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EmbeddingConfig Embedding 配置（修订校验用，可选）
type EmbeddingConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	APIKey    string  `yaml:"api_key" mapstructure:"api_key"`
	Endpoint  string  `yaml:"endpoint" mapstructure:"endpoint"`
	Model     string  `yaml:"model" mapstructure:"model"`
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// PipelineConfig 流水线文件路径配置
type PipelineConfig struct {
	StateFile  string `yaml:"state_file" mapstructure:"state_file"`
	OutputFile string `yaml:"output_file" mapstructure:"output_file"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Path    string `yaml:"path" mapstructure:"path"`
}
