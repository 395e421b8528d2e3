package events

import (
	"context"
	"fmt"
	"testing"
)

func TestNewActionAssignsIdentity(t *testing.T) {
	action := NewAction("0xabc", "swap_function", `{"tokenIn":"USDC"}`)
	if action.ID == "" {
		t.Fatal("事件应携带唯一标识")
	}
	if action.Timestamp == 0 {
		t.Fatal("事件应携带时间戳")
	}
	other := NewAction("0xabc", "swap_function", `{"tokenIn":"USDC"}`)
	if action.ID == other.ID {
		t.Fatal("标识不应重复")
	}
}

func TestMemoryPublisherKeepsRecent(t *testing.T) {
	publisher := NewMemoryPublisher(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		action := NewAction("0xabc", "swap_function", fmt.Sprintf("payload-%d", i))
		if err := publisher.Publish(ctx, action); err != nil {
			t.Fatalf("发布失败: %v", err)
		}
	}

	actions := publisher.Actions()
	if len(actions) != 3 {
		t.Fatalf("容量外事件应被丢弃, 实际 %d", len(actions))
	}
	if actions[0].Payload != "payload-2" || actions[2].Payload != "payload-4" {
		t.Fatalf("保留事件不符: %+v", actions)
	}
}

func TestMemoryPublisherRespectsContext(t *testing.T) {
	publisher := NewMemoryPublisher(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.Publish(ctx, NewAction("0xabc", "swap_function", "p")); err == nil {
		t.Fatal("已取消的上下文应报错")
	}
}
