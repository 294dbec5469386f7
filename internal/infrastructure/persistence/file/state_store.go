// Package file 提供基于本地文件的流水线状态持久化
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"z-novel-writer/internal/domain/entity"
	apperrors "z-novel-writer/pkg/errors"
)

// StateStore 将流水线快照以 JSON 形式写入单个状态文件
type StateStore struct {
	path string
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

func (s *StateStore) Path() string {
	return s.path
}

// Exists 检查状态文件是否存在
func (s *StateStore) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CodeStateIOFailed, "无法访问状态文件", err)
}

// Load 读取并校验状态快照。
// 文件不存在返回 (nil, nil)；文件损坏返回 CodeStateCorrupted，且不会删除原文件。
func (s *StateStore) Load(ctx context.Context) (*entity.PipelineState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeStateIOFailed, "读取状态文件失败", err)
	}

	var state entity.PipelineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStateCorrupted,
			fmt.Sprintf("状态文件不是合法 JSON: %s", s.path), err)
	}
	if err := state.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStateCorrupted,
			fmt.Sprintf("状态文件校验失败: %s", s.path), err)
	}
	return &state, nil
}

// Save 原子写入状态快照，写入失败时保留旧文件
func (s *StateStore) Save(ctx context.Context, state *entity.PipelineState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil {
		return apperrors.New(apperrors.CodeInvalidParam, "状态快照为空")
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStateIOFailed, "序列化状态失败", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.Wrap(apperrors.CodeStateIOFailed, "创建状态目录失败", err)
		}
	}

	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodeStateIOFailed, "写入状态文件失败", err)
	}
	return nil
}

// writeFileAtomic 先写临时文件并 fsync，再 rename 到目标路径，避免写入中途崩溃导致文件损坏
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
