package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "Feelan-Chain/internal/errors"
)

// FileStore 在本地目录中为每个用户保存一个 JSON 文档。写入先落到
// 临时文件再重命名，避免进程中断留下半截文件。
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore 创建文件存储，目录不存在时自动创建。
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "存储目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建存储目录失败")
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

func (s *FileStore) path(userID string) string {
	// 用户标识是钱包地址，本身就是安全的文件名成分，但仍拒绝路径分隔符。
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, userID)
	return filepath.Join(s.dir, fmt.Sprintf("%s_conversations.json", sanitized))
}

// Load 读取用户文档，文件不存在时返回空文档。
func (s *FileStore) Load(ctx context.Context, userID string) (*UserDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := os.ReadFile(s.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return &UserDocument{Conversations: []Conversation{}}, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取用户文档失败")
	}

	var doc UserDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		// 坏档等同于空文档，后续保存会直接覆盖。
		return &UserDocument{Conversations: []Conversation{}}, nil
	}
	if doc.Conversations == nil {
		doc.Conversations = []Conversation{}
	}
	return &doc, nil
}

// Save 写回用户文档，版本不一致时返回 ErrVersionConflict。
func (s *FileStore) Save(ctx context.Context, userID string, doc *UserDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "doc 不能为空")
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(userID)
	current := int64(0)
	if raw, err := os.ReadFile(path); err == nil {
		var existing UserDocument
		if err := json.Unmarshal(raw, &existing); err == nil {
			current = existing.Version
		}
	} else if !os.IsNotExist(err) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取用户文档失败")
	}
	if doc.Version != current {
		return ErrVersionConflict
	}
	doc.Version = current + 1

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码用户文档失败")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入用户文档失败")
	}
	if err := os.Rename(tmp, path); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换用户文档失败")
	}
	return nil
}

// Close 实现 Store 接口，文件存储无需清理。
func (s *FileStore) Close() error { return nil }
