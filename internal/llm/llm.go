package llm

import (
	"context"
	"fmt"
)

// 对话角色。前端历史记录使用 Me/AI 标记，调用模型前需归一化。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	RoleFrontendUser      = "Me"
	RoleFrontendAssistant = "AI"
)

// Message 表示一条带角色标记的对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System 构造一条系统指令消息。
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User 构造一条用户消息。
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant 构造一条助手消息。
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Client 定义了调用大模型的统一接口：有序消息列表进，原始文本出。
type Client interface {
	Complete(ctx context.Context, transcript []Message) (string, error)
}

// NormalizeRoles 将前端角色（Me/AI）映射为模型接口角色，返回新切片。
// 出现未知角色时报错。
func NormalizeRoles(messages []Message) ([]Message, error) {
	normalized := make([]Message, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case RoleFrontendUser:
			msg.Role = RoleUser
		case RoleFrontendAssistant:
			msg.Role = RoleAssistant
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return nil, fmt.Errorf("invalid role %q: role must be either 'Me' or 'AI'", msg.Role)
		}
		normalized[i] = msg
	}
	return normalized, nil
}
