package chain

import (
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	wfmodel "z-novel-writer/internal/workflow/model"
)

func buildModelOptions(opts wfmodel.CallOptions) []model.Option {
	out := make([]model.Option, 0, 3)
	if opts.Temperature != nil {
		out = append(out, model.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens != nil {
		out = append(out, model.WithMaxTokens(*opts.MaxTokens))
	}
	if strings.TrimSpace(opts.Model) != "" {
		out = append(out, model.WithModel(strings.TrimSpace(opts.Model)))
	}
	return out
}

// UsageFromMessage 从模型响应中提取 Token 用量；响应未携带用量时仅填充来源信息。
func UsageFromMessage(msg *schema.Message, opts wfmodel.CallOptions) wfmodel.LLMUsageMeta {
	meta := wfmodel.LLMUsageMeta{
		Provider:    opts.Provider,
		Model:       opts.Model,
		GeneratedAt: time.Now(),
	}
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return meta
	}
	meta.PromptTokens = msg.ResponseMeta.Usage.PromptTokens
	meta.CompletionTokens = msg.ResponseMeta.Usage.CompletionTokens
	return meta
}
