package classify

import (
	"context"
	"strings"
	"testing"

	xerrors "Feelan-Chain/internal/errors"
	"Feelan-Chain/internal/intent"
	"Feelan-Chain/internal/llm"
	"Feelan-Chain/internal/prompt"
)

// scriptedClient 按脚本依次返回输出，并记录每次收到的转写。
type scriptedClient struct {
	outputs     []string
	transcripts [][]llm.Message
}

func (c *scriptedClient) Complete(_ context.Context, transcript []llm.Message) (string, error) {
	c.transcripts = append(c.transcripts, append([]llm.Message(nil), transcript...))
	idx := len(c.transcripts) - 1
	if idx >= len(c.outputs) {
		idx = len(c.outputs) - 1
	}
	return c.outputs[idx], nil
}

func baseTranscript() []llm.Message {
	return []llm.Message{
		prompt.Compose(prompt.PhaseGeneral),
		llm.User("hello"),
	}
}

func TestResolveFirstTryValid(t *testing.T) {
	client := &scriptedClient{outputs: []string{`{"intent": "user-assistance", "response": "hi"}`}}
	resolver := NewResolver(client)

	rec, err := resolver.Resolve(context.Background(), baseTranscript())
	if err != nil {
		t.Fatalf("期望首轮成功: %v", err)
	}
	if rec.Intent != intent.UserAssistance {
		t.Fatalf("意图不符: %s", rec.Intent)
	}
	if len(client.transcripts) != 1 {
		t.Fatalf("期望恰好一次模型调用, 实际 %d", len(client.transcripts))
	}
}

func TestResolveRepairsThenSucceeds(t *testing.T) {
	client := &scriptedClient{outputs: []string{
		"not valid json",
		`{"intent": "user-assistance", "response": "fixed"}`,
	}}
	resolver := NewResolver(client)

	rec, err := resolver.Resolve(context.Background(), baseTranscript())
	if err != nil {
		t.Fatalf("期望修复后成功: %v", err)
	}
	if rec.Response != "fixed" {
		t.Fatalf("响应不符: %q", rec.Response)
	}
	if len(client.transcripts) != 2 {
		t.Fatalf("期望两次模型调用, 实际 %d", len(client.transcripts))
	}

	// 修复转写去掉了首条系统指令，并在末尾原样嵌入失败输出。
	second := client.transcripts[1]
	last := second[len(second)-1]
	if last.Role != llm.RoleSystem {
		t.Fatalf("修复消息应为 system 角色: %s", last.Role)
	}
	if !strings.Contains(last.Content, "not valid json") {
		t.Fatal("修复消息未嵌入失败的原始输出")
	}
	if second[0].Role == llm.RoleSystem && second[0].Content == baseTranscript()[0].Content {
		t.Fatal("原始系统指令应被移除")
	}
}

func TestResolveExhaustsTrials(t *testing.T) {
	client := &scriptedClient{outputs: []string{"garbage"}}
	resolver := NewResolver(client, WithMaxTrials(3))

	_, err := resolver.Resolve(context.Background(), baseTranscript())
	if err == nil {
		t.Fatal("期望耗尽重试后报错")
	}
	if xerrors.CodeOf(err) != xerrors.CodeClassificationUnresolved {
		t.Fatalf("期望 CodeClassificationUnresolved, 实际 %s", xerrors.CodeOf(err))
	}
	// 初始调用加上 maxTrials 次修复调用，不再多。
	if len(client.transcripts) != 4 {
		t.Fatalf("期望 4 次模型调用, 实际 %d", len(client.transcripts))
	}
}

func TestResolveLaterRepairsDropPreviousRepair(t *testing.T) {
	client := &scriptedClient{outputs: []string{"bad one", "bad two", "bad three", "bad four"}}
	resolver := NewResolver(client, WithMaxTrials(3))

	_, _ = resolver.Resolve(context.Background(), baseTranscript())

	// 每轮转写只含一条修复消息，用户消息从不被吃掉。
	for i, transcript := range client.transcripts[1:] {
		system := 0
		users := 0
		for _, msg := range transcript {
			switch msg.Role {
			case llm.RoleSystem:
				system++
			case llm.RoleUser:
				users++
			}
		}
		if system != 1 {
			t.Fatalf("第 %d 轮转写应恰有一条系统消息, 实际 %d", i+1, system)
		}
		if users != 1 {
			t.Fatalf("第 %d 轮转写应保留用户消息, 实际 %d", i+1, users)
		}
	}
}

// failingClient 模拟传输层故障。
type failingClient struct {
	calls int
}

func (c *failingClient) Complete(context.Context, []llm.Message) (string, error) {
	c.calls++
	return "", context.DeadlineExceeded
}

func TestResolveFoldsTransportErrorIntoRepair(t *testing.T) {
	client := &failingClient{}
	resolver := NewResolver(client, WithMaxTrials(2))

	_, err := resolver.Resolve(context.Background(), baseTranscript())
	if err == nil {
		t.Fatal("期望最终失败")
	}
	if xerrors.CodeOf(err) != xerrors.CodeClassificationUnresolved {
		t.Fatalf("传输错误应被折入修复循环, 实际 %s", xerrors.CodeOf(err))
	}
	if client.calls != 3 {
		t.Fatalf("期望 3 次调用, 实际 %d", client.calls)
	}
}
