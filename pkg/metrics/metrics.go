// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "z_novel_writer"
)

var (
	// LLM 指标
	LLMCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_total",
			Help:      "Total number of LLM calls",
		},
		[]string{"op", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total tokens used for LLM calls",
		},
		[]string{"op", "type"}, // type: prompt/completion
	)

	LLMRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retry_total",
			Help:      "Total number of transient LLM call retries",
		},
		[]string{"op"},
	)

	// 章节指标
	ChapterCommittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chapter",
			Name:      "committed_total",
			Help:      "Total number of committed chapters",
		},
		[]string{"outcome"}, // outcome: approved/forced
	)

	ChapterRevisionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chapter",
			Name:      "revision_rounds",
			Help:      "Revision rounds per committed chapter",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
	)

	ChapterWordCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chapter",
			Name:      "word_count",
			Help:      "Committed chapter word count",
			Buckets:   []float64{100, 500, 1000, 2000, 3000, 5000, 10000},
		},
	)

	ChapterScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chapter",
			Name:      "score",
			Help:      "Committed chapter review score",
			Buckets:   []float64{2, 4, 6, 7, 8, 9, 10},
		},
	)

	// 记忆指标
	MemoryCompactionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "compaction_total",
			Help:      "Total number of long-term memory compactions",
		},
		[]string{"policy", "status"},
	)

	MemorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "long_term_size",
			Help:      "Current number of long-term memory items (facts + threads)",
		},
	)

	// 检查点指标
	CheckpointSaveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "save_total",
			Help:      "Total number of state checkpoint saves",
		},
		[]string{"status"},
	)
)
