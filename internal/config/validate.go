package config

import (
	"strconv"
	"strings"
)

// ValidationError 配置校验错误，聚合全部问题一次性返回
type ValidationError struct {
	Issues []string
}

func (e ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + strings.Join(e.Issues, "; ")
}

// Validate 对配置做强约束校验，避免脏配置进入流水线
func (c *Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Novel.Synopsis) == "" {
		issues = append(issues, "novel.synopsis is required")
	}
	if c.Novel.TargetChapters <= 0 {
		issues = append(issues, "novel.target_chapters must be positive")
	}
	if c.Novel.TargetWordsPerChapter <= 0 {
		issues = append(issues, "novel.target_words_per_chapter must be positive")
	}
	if c.Novel.WordsTolerance < 0 || c.Novel.WordsTolerance >= 1 {
		issues = append(issues, "novel.words_tolerance must be in [0,1)")
	}
	if c.Novel.ShortTermMemoryChapters < 0 {
		issues = append(issues, "novel.short_term_memory_chapters must be non-negative")
	}
	if c.Novel.ShortTermMemoryMaxChars < 0 {
		issues = append(issues, "novel.short_term_memory_max_chars must be non-negative")
	}
	for i, ch := range c.Novel.Characters {
		if strings.TrimSpace(ch.Name) == "" {
			issues = append(issues, "novel.characters["+strconv.Itoa(i)+"].name is required")
		}
	}

	if c.Writer.MaxGenerationTokens <= 0 {
		issues = append(issues, "writer.max_generation_tokens must be positive")
	}
	if c.Writer.MaxReviewTokens <= 0 {
		issues = append(issues, "writer.max_review_tokens must be positive")
	}
	if c.Writer.RateLimitDelay < 0 {
		issues = append(issues, "writer.rate_limit_delay must be non-negative")
	}
	if c.Writer.MaxRetries < 0 {
		issues = append(issues, "writer.max_retries must be non-negative")
	}
	if c.Writer.RetryDelay < 0 {
		issues = append(issues, "writer.retry_delay must be non-negative")
	}
	if c.Writer.OutlineMaxRetries < 0 {
		issues = append(issues, "writer.outline_max_retries must be non-negative")
	}
	if c.Writer.AutoSaveInterval <= 0 {
		issues = append(issues, "writer.auto_save_interval must be positive")
	}
	if c.Writer.MaxRefinementRounds < 0 {
		issues = append(issues, "writer.max_refinement_rounds must be non-negative")
	}
	if c.Writer.ApprovalScoreThreshold < 0 || c.Writer.ApprovalScoreThreshold > 10 {
		issues = append(issues, "writer.approval_score_threshold must be in [0,10]")
	}
	if c.Writer.LTMOptimizationInterval <= 0 {
		issues = append(issues, "writer.ltm_optimization_interval must be positive")
	}
	if c.Writer.LTMMaxCharacterFacts <= 0 {
		issues = append(issues, "writer.ltm_max_character_facts must be positive")
	}
	if c.Writer.LTMMaxPlotThreads <= 0 {
		issues = append(issues, "writer.ltm_max_plot_threads must be positive")
	}

	if len(c.LLM.Providers) == 0 {
		issues = append(issues, "llm.providers must not be empty")
	}
	defaultProvider := c.LLM.DefaultProvider
	if defaultProvider == "" {
		issues = append(issues, "llm.default_provider is required")
	} else if _, ok := c.LLM.Providers[defaultProvider]; !ok {
		issues = append(issues, "llm.default_provider not found in llm.providers: "+defaultProvider)
	}
	for name, p := range c.LLM.Providers {
		if strings.TrimSpace(p.APIKey) == "" {
			issues = append(issues, "llm.providers."+name+".api_key is required (set it via environment variable)")
		}
		if strings.TrimSpace(p.Model) == "" {
			issues = append(issues, "llm.providers."+name+".model is required")
		}
	}
	for _, role := range []struct{ field, provider string }{
		{"writer.writer_provider", c.Writer.WriterProvider},
		{"writer.editor_provider", c.Writer.EditorProvider},
	} {
		if role.provider == "" {
			continue // 空值回落到 default_provider
		}
		if _, ok := c.LLM.Providers[role.provider]; !ok {
			issues = append(issues, role.field+" not found in llm.providers: "+role.provider)
		}
	}

	if c.Embedding.Enabled {
		if strings.TrimSpace(c.Embedding.Endpoint) == "" {
			issues = append(issues, "embedding.endpoint is required when embedding is enabled")
		}
		if strings.TrimSpace(c.Embedding.Model) == "" {
			issues = append(issues, "embedding.model is required when embedding is enabled")
		}
	}

	if strings.TrimSpace(c.Pipeline.StateFile) == "" {
		issues = append(issues, "pipeline.state_file is required")
	}
	if strings.TrimSpace(c.Pipeline.OutputFile) == "" {
		issues = append(issues, "pipeline.output_file is required")
	}

	if len(issues) > 0 {
		return ValidationError{Issues: issues}
	}
	return nil
}

// RoleProvider 返回角色对应的 provider，空值回落到默认 provider
func (c *Config) RoleProvider(provider string) string {
	if provider != "" {
		return provider
	}
	return c.LLM.DefaultProvider
}
