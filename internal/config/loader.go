// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load 加载配置文件
// 按优先级加载：默认配置 -> 环境配置 -> 环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 1. 加载主配置
	if err := loadConfigFile(v, path, false); err != nil {
		return nil, err
	}

	// 2. 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	envFile := strings.TrimSuffix(path, ".yaml") + "." + env + ".yaml"
	if err := loadConfigFile(v, envFile, true); err != nil {
		return nil, err
	}

	// 3. 绑定环境变量 (直接覆盖)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值 (兜底)
	setDefaults(v)

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// 执行环境变量替换
	expanded := expandEnv(string(content))

	// 加载到 viper
	reader := strings.NewReader(expanded)
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		// 手动标记已加载文件，防止后续 ReadInConfig 报错
		v.SetConfigFile(path)
	} else {
		if err := v.MergeConfig(reader); err != nil {
			return fmt.Errorf("failed to merge processed config %s: %w", path, err)
		}
	}

	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符
func expandEnv(s string) string {
	// 匹配 ${VAR} 或 ${VAR:default}
	// g1: 变量名, g2: 默认值部分（含冒号）, g3: 默认值内容
	re := regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		submatch := re.FindStringSubmatch(match)
		key := submatch[1]
		hasDefault := submatch[2] != ""
		defVal := submatch[3]

		val, ok := os.LookupEnv(key)
		if ok {
			return val
		}
		if hasDefault {
			return defVal
		}
		return match // 原样返回，便于识别未定义的变量
	})
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 应用默认值
	v.SetDefault("app.name", "z-novel-writer")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// 小说设定默认值
	v.SetDefault("novel.target_words_per_chapter", 2000)
	v.SetDefault("novel.words_tolerance", 0.4)
	v.SetDefault("novel.short_term_memory_chapters", 3)
	v.SetDefault("novel.short_term_memory_max_chars", 8000)
	v.SetDefault("novel.enable_ltm_optimization", true)

	// 写作调度默认值
	v.SetDefault("writer.max_generation_tokens", 6000)
	v.SetDefault("writer.max_review_tokens", 6000)
	v.SetDefault("writer.rate_limit_delay", "10s")
	v.SetDefault("writer.max_retries", 5)
	v.SetDefault("writer.retry_delay", "30s")
	v.SetDefault("writer.outline_max_retries", 3)
	v.SetDefault("writer.auto_save_interval", 1)
	v.SetDefault("writer.max_refinement_rounds", 2)
	v.SetDefault("writer.approval_score_threshold", 7.0)
	v.SetDefault("writer.writer_temperature", 0.8)
	v.SetDefault("writer.editor_temperature", 0.5)
	v.SetDefault("writer.summarizer_temperature", 0.3)
	v.SetDefault("writer.ltm_optimization_interval", 3)
	v.SetDefault("writer.ltm_max_character_facts", 15)
	v.SetDefault("writer.ltm_max_plot_threads", 20)
	v.SetDefault("writer.ltm_optimizer_temperature", 0.3)

	// Embedding 默认值
	v.SetDefault("embedding.enabled", false)
	v.SetDefault("embedding.threshold", 0.6)

	// 流水线路径默认值
	v.SetDefault("pipeline.state_file", "novel_state.json")
	v.SetDefault("pipeline.output_file", "final_novel.txt")

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.metrics.enabled", false)
	v.SetDefault("observability.metrics.port", 9464)
	v.SetDefault("observability.metrics.path", "/metrics")
}
