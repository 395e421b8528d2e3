package conversation

import (
	"strings"

	xerrors "Feelan-Chain/internal/errors"
	"Feelan-Chain/internal/llm"
)

// Conversation 是单个会话的完整记录，消息以前端角色（Me/AI）存储。
type Conversation struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Timestamp int64         `json:"timestamp"`
	Messages  []llm.Message `json:"messages"`
	Name      string        `json:"name,omitempty"`
	IsNFT     bool          `json:"isNFT"`
	Shelved   bool          `json:"shelved"`
	TokenURI  string        `json:"tokenURI,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Type      string        `json:"type,omitempty"`
}

// UserDocument 是某个用户名下全部会话的持久化单元。Version 由存储层
// 维护，每次成功保存递增，用于乐观并发控制。
type UserDocument struct {
	Conversations []Conversation `json:"conversations"`
	Version       int64          `json:"version"`
}

// Find 按会话 ID 查找，返回可修改的指针。
func (d *UserDocument) Find(conversationID string) *Conversation {
	for i := range d.Conversations {
		if d.Conversations[i].ID == conversationID {
			return &d.Conversations[i]
		}
	}
	return nil
}

// Upsert 追加消息到指定会话。会话不存在时按给定元数据新建一条。
func (d *UserDocument) Upsert(conv Conversation, messages ...llm.Message) {
	if existing := d.Find(conv.ID); existing != nil {
		existing.Messages = append(existing.Messages, messages...)
		if conv.Timestamp > 0 {
			existing.Timestamp = conv.Timestamp
		}
		return
	}
	conv.Messages = append(conv.Messages, messages...)
	d.Conversations = append(d.Conversations, conv)
}

// MetaUpdate 描述一次会话元数据变更，nil 字段表示不修改。
type MetaUpdate struct {
	Name     *string
	IsNFT    *bool
	Shelved  *bool
	TokenURI *string
	Summary  *string
}

// UpdateMeta 应用元数据变更。会话不存在时返回 CodeNotFound。
func (d *UserDocument) UpdateMeta(conversationID string, update MetaUpdate) error {
	conv := d.Find(conversationID)
	if conv == nil {
		return xerrors.New(xerrors.CodeNotFound, "conversation not found: "+conversationID)
	}
	if update.Name != nil {
		conv.Name = strings.TrimSpace(*update.Name)
	}
	if update.IsNFT != nil {
		conv.IsNFT = *update.IsNFT
	}
	if update.Shelved != nil {
		conv.Shelved = *update.Shelved
	}
	if update.TokenURI != nil {
		conv.TokenURI = *update.TokenURI
	}
	if update.Summary != nil {
		conv.Summary = *update.Summary
	}
	return nil
}
