package file

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"z-novel-writer/internal/domain/entity"
	apperrors "z-novel-writer/pkg/errors"
)

// 章节分隔线宽度
const dividerWidth = 80

// NovelFile 最终成稿输出
type NovelFile struct {
	path string
}

func NewNovelFile(path string) *NovelFile {
	return &NovelFile{path: path}
}

func (n *NovelFile) Path() string {
	return n.path
}

// WriteNovel 将全部章节拼装为最终成稿并原子写入。
// 每章以标题行开头，以分隔线结尾。
func (n *NovelFile) WriteNovel(chapters []entity.Chapter) error {
	divider := strings.Repeat("=", dividerWidth)

	var parts []string
	for _, ch := range chapters {
		parts = append(parts,
			"# Chapter "+strconv.Itoa(ch.Number)+": "+ch.Title+"\n",
			strings.TrimSpace(ch.Content),
			"\n\n"+divider+"\n",
		)
	}

	if dir := filepath.Dir(n.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.Wrap(apperrors.CodeStateIOFailed, "创建输出目录失败", err)
		}
	}
	if err := writeFileAtomic(n.path, []byte(strings.Join(parts, "\n")), 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodeStateIOFailed, "写入成稿失败", err)
	}
	return nil
}
