package prompt

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptOutlineGenV1     PromptID = "outline_gen_v1"
	PromptChapterGenV1     PromptID = "chapter_gen_v1"
	PromptChapterRefineV1  PromptID = "chapter_refine_v1"
	PromptChapterReviewV1  PromptID = "chapter_review_v1"
	PromptChapterSummaryV1 PromptID = "chapter_summary_v1"
	PromptMemoryOptimizeV1 PromptID = "memory_optimize_v1"
)

type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	systemPath, userPath, err := resolvePromptFiles(id)
	if err != nil {
		return nil, err
	}
	system, err := readEmbeddedText(systemPath)
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(userPath)
	if err != nil {
		return nil, err
	}

	tpl := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

func resolvePromptFiles(id PromptID) (systemFile string, userFile string, err error) {
	switch id {
	case PromptOutlineGenV1:
		return "templates/outline_gen_v1.system.txt", "templates/outline_gen_v1.user.txt", nil
	case PromptChapterGenV1:
		return "templates/chapter_gen_v1.system.txt", "templates/chapter_gen_v1.user.txt", nil
	case PromptChapterRefineV1:
		return "templates/chapter_refine_v1.system.txt", "templates/chapter_refine_v1.user.txt", nil
	case PromptChapterReviewV1:
		return "templates/chapter_review_v1.system.txt", "templates/chapter_review_v1.user.txt", nil
	case PromptChapterSummaryV1:
		return "templates/chapter_summary_v1.system.txt", "templates/chapter_summary_v1.user.txt", nil
	case PromptMemoryOptimizeV1:
		return "templates/memory_optimize_v1.system.txt", "templates/memory_optimize_v1.user.txt", nil
	default:
		return "", "", fmt.Errorf("unknown prompt id: %s", id)
	}
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
