package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelFactory 是工作流链对底层 ChatModel 的最小依赖（port）。
// name 为 llm.providers 中配置的 provider 名；实现负责按名惰性构建并缓存。
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}
