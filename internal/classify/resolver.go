package classify

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	xerrors "Feelan-Chain/internal/errors"
	"Feelan-Chain/internal/intent"
	"Feelan-Chain/internal/llm"
	"Feelan-Chain/internal/observability/metrics"
	"Feelan-Chain/internal/prompt"
	"Feelan-Chain/pkg/logger"
)

// ErrUnresolved 表示修复循环耗尽全部尝试仍未得到合法记录。调用方
// 必须显式处理该终态，不得当作空结果。
var ErrUnresolved = xerrors.New(xerrors.CodeClassificationUnresolved, "")

// defaultMaxTrials 是解析失败后允许的修复调用次数。
const defaultMaxTrials = 3

// Resolver 将一次模型调用包裹在有界的解析-修复循环中。
type Resolver struct {
	client    llm.Client
	maxTrials int
	log       *slog.Logger
}

// Option 定义可选的 Resolver 配置。
type Option func(*Resolver)

// WithMaxTrials 设置修复尝试的上限。
func WithMaxTrials(trials int) Option {
	return func(r *Resolver) {
		if trials > 0 {
			r.maxTrials = trials
		}
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResolver 构造解析器。
func NewResolver(client llm.Client, opts ...Option) *Resolver {
	r := &Resolver{
		client:    client,
		maxTrials: defaultMaxTrials,
		log:       logger.Named("classify"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve 以给定的对话转写调用模型并返回通过模式校验的意图记录。
// 解析或校验失败时构造修复消息重试：丢弃当前的首条系统指令，把嵌有
// 失败原始输出的修复指令追加到末尾，再次调用模型。重试严格串行，
// 无退避。耗尽 maxTrials 次修复后返回 ErrUnresolved。
func (r *Resolver) Resolve(ctx context.Context, transcript []llm.Message) (*intent.Record, error) {
	if r.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	working := append([]llm.Message(nil), transcript...)

	raw, err := r.invoke(ctx, working)
	if err != nil {
		return nil, err
	}

	for trial := 0; ; trial++ {
		record, parseErr := intent.Parse(raw)
		if parseErr == nil {
			metrics.ObserveClassification(trial, true)
			return record, nil
		}

		r.log.Warn("classification_invalid",
			"trial", trial,
			"error", parseErr.Error(),
		)

		if trial >= r.maxTrials {
			metrics.ObserveClassification(trial, false)
			return nil, xerrors.Wrap(xerrors.CodeClassificationUnresolved, parseErr,
				fmt.Sprintf("%d 次修复后仍无法得到合法意图记录", r.maxTrials))
		}

		// 失败的原始输出原样嵌入修复指令，不做缓存或丢弃。
		working = repairTranscript(working, raw)
		raw, err = r.invoke(ctx, working)
		if err != nil {
			metrics.ObserveClassification(trial, false)
			return nil, err
		}
	}
}

// invoke 执行一次模型调用。模型侧的瞬时失败被折算为一次无效输出，
// 交由修复循环处理；上下文取消或超时则立即终止整轮。
func (r *Resolver) invoke(ctx context.Context, transcript []llm.Message) (string, error) {
	raw, err := r.client.Complete(ctx, transcript)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if stdErrors.Is(ctxErr, context.DeadlineExceeded) {
				return "", xerrors.Wrap(xerrors.CodeTimeout, err, "大模型调用超时")
			}
			return "", xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "大模型调用被取消")
		}
		return fmt.Sprintf(`{"error": "the request to the model failed: %v"}`, err), nil
	}
	return raw, nil
}

// repairTranscript 基于当前转写派生下一轮输入：去掉首条系统指令，
// 在末尾追加修复消息。不修改调用方持有的切片。
func repairTranscript(transcript []llm.Message, rawOutput string) []llm.Message {
	next := make([]llm.Message, 0, len(transcript)+1)
	dropped := false
	for _, msg := range transcript {
		if !dropped && msg.Role == llm.RoleSystem {
			dropped = true
			continue
		}
		next = append(next, msg)
	}
	return append(next, prompt.Repair(rawOutput))
}
