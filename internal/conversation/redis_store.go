package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Feelan-Chain/internal/errors"
)

// RedisStoreConfig 描述 Redis 存储的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore 将用户文档整体存为一个 Redis 键，用 WATCH/MULTI 事务
// 保证版本检查与写入的原子性。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 存储实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "feelan:conversations:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

// Load 读取用户文档，键不存在时返回空文档。
func (s *RedisStore) Load(ctx context.Context, userID string) (*UserDocument, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
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

// Save 在事务中校验版本并写回，键被并发修改时返回 ErrVersionConflict。
func (s *RedisStore) Save(ctx context.Context, userID string, doc *UserDocument) error {
	if doc == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "doc 不能为空")
	}
	key := s.key(userID)

	txn := func(tx *redis.Tx) error {
		current := int64(0)
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var existing UserDocument
			if err := json.Unmarshal(raw, &existing); err == nil {
				current = existing.Version
			}
		}
		if doc.Version != current {
			return ErrVersionConflict
		}
		doc.Version = current + 1

		encoded, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	if err == redis.TxFailedErr {
		return ErrVersionConflict
	}
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeConflict {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存用户文档失败")
	}
	return nil
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
