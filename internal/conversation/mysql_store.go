package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "Feelan-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 持久化用户文档，version 列实现乐观并发控制。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS user_documents (
        user_id VARCHAR(64) PRIMARY KEY,
        doc LONGTEXT NOT NULL,
        version BIGINT NOT NULL DEFAULT 0,
        updated_at BIGINT NOT NULL
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 user_documents 表失败")
	}
	return nil
}

// Load 读取用户文档，记录不存在时返回空文档。
func (s *MySQLStore) Load(ctx context.Context, userID string) (*UserDocument, error) {
	const stmt = `SELECT doc, version FROM user_documents WHERE user_id = ?`

	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx, stmt, userID).Scan(&raw, &version)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return &UserDocument{Conversations: []Conversation{}}, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取用户文档失败")
	}

	var doc UserDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// 坏档等同于空文档。version 列仍然有效，保留以便条件更新覆盖旧行。
		return &UserDocument{Conversations: []Conversation{}, Version: version}, nil
	}
	if doc.Conversations == nil {
		doc.Conversations = []Conversation{}
	}
	doc.Version = version
	return &doc, nil
}

// Save 以条件更新写回用户文档，版本不匹配时返回 ErrVersionConflict。
func (s *MySQLStore) Save(ctx context.Context, userID string, doc *UserDocument) error {
	if doc == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "doc 不能为空")
	}
	next := doc.Version + 1
	doc.Version = next

	encoded, err := json.Marshal(doc)
	if err != nil {
		doc.Version = next - 1
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码用户文档失败")
	}
	now := time.Now().Unix()

	if next == 1 {
		const insert = `INSERT INTO user_documents (user_id, doc, version, updated_at) VALUES (?, ?, 1, ?)`
		if _, err := s.db.ExecContext(ctx, insert, userID, string(encoded), now); err != nil {
			doc.Version = next - 1
			// 主键冲突说明别的请求先建了文档。
			if strings.Contains(err.Error(), "Duplicate entry") {
				return ErrVersionConflict
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入用户文档失败")
		}
		return nil
	}

	const update = `UPDATE user_documents SET doc = ?, version = ?, updated_at = ? WHERE user_id = ? AND version = ?`
	result, err := s.db.ExecContext(ctx, update, string(encoded), next, now, userID, next-1)
	if err != nil {
		doc.Version = next - 1
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新用户文档失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		doc.Version = next - 1
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认更新结果失败")
	}
	if affected == 0 {
		doc.Version = next - 1
		return ErrVersionConflict
	}
	return nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
