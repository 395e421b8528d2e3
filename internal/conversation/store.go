package conversation

import (
	"context"

	xerrors "Feelan-Chain/internal/errors"
)

// ErrVersionConflict 表示保存时文档已被并发修改，调用方应重读后重试。
var ErrVersionConflict = xerrors.New(xerrors.CodeConflict, "user document was concurrently modified")

// Store 抽象了用户文档的持久化接口。Save 只在 doc.Version 与存储中的
// 版本一致时写入，成功后递增版本。
type Store interface {
	Load(ctx context.Context, userID string) (*UserDocument, error)
	Save(ctx context.Context, userID string, doc *UserDocument) error
	Close() error
}

const applyMaxAttempts = 3

// Apply 以读-改-写的方式修改用户文档，版本冲突时有限次重试。
func Apply(ctx context.Context, store Store, userID string, mutate func(*UserDocument) error) (*UserDocument, error) {
	var lastErr error
	for attempt := 0; attempt < applyMaxAttempts; attempt++ {
		doc, err := store.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := mutate(doc); err != nil {
			return nil, err
		}
		if err := store.Save(ctx, userID, doc); err != nil {
			if xerrors.CodeOf(err) == xerrors.CodeConflict {
				lastErr = err
				continue
			}
			return nil, err
		}
		return doc, nil
	}
	return nil, lastErr
}
