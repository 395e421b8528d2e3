package dispatch

import (
	"context"
	"strings"

	"Feelan-Chain/internal/conversation"
	xerrors "Feelan-Chain/internal/errors"
	"Feelan-Chain/internal/llm"
)

// Summarize 请模型为会话生成一个短标题并写进 summary 字段。单次模型
// 调用，不走修复循环。返回更新后的会话。
func (d *Dispatcher) Summarize(ctx context.Context, userID, conversationID string) (*conversation.Conversation, error) {
	if d.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	doc, err := d.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	conv := doc.Find(conversationID)
	if conv == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "conversation not found: "+conversationID)
	}

	history := append([]llm.Message(nil), conv.Messages...)
	history = append(history, llm.User(summaryRequest))
	transcript, err := llm.NormalizeRoles(history)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}

	raw, err := d.llmClient.Complete(ctx, transcript)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalService, err, "生成会话摘要失败")
	}
	summary := trimSummary(raw)

	updated, err := conversation.Apply(ctx, d.store, userID, func(doc *conversation.UserDocument) error {
		target := doc.Find(conversationID)
		if target == nil {
			return xerrors.New(xerrors.CodeNotFound, "conversation not found: "+conversationID)
		}
		target.Summary = summary
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := *updated.Find(conversationID)
	return &result, nil
}

// trimSummary 去掉模型惯常附带的引号与空白。
func trimSummary(raw string) string {
	summary := strings.TrimSpace(raw)
	summary = strings.Trim(summary, `"'`)
	return strings.TrimSpace(summary)
}
