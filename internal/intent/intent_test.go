package intent

import (
	"errors"
	"testing"
)

func TestParseUserAssistance(t *testing.T) {
	rec, err := Parse(`{"intent": "user-assistance", "response": "Hello there"}`)
	if err != nil {
		t.Fatalf("期望解析成功: %v", err)
	}
	if rec.Intent != UserAssistance {
		t.Fatalf("意图不符: %s", rec.Intent)
	}
	if rec.Response != "Hello there" {
		t.Fatalf("响应文本不符: %q", rec.Response)
	}
}

func TestParseStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"intent\": \"user-assistance\", \"response\": \"ok\"}\n```"
	rec, err := Parse(raw)
	if err != nil {
		t.Fatalf("期望剥离代码块后解析成功: %v", err)
	}
	if rec.Response != "ok" {
		t.Fatalf("响应文本不符: %q", rec.Response)
	}
}

func TestParseRejectsNonJSON(t *testing.T) {
	if _, err := Parse("I would love to help you with that!"); !errors.Is(err, ErrNotJSON) {
		t.Fatalf("期望 ErrNotJSON, 实际 %v", err)
	}
}

func TestParseRejectsMissingIntent(t *testing.T) {
	if _, err := Parse(`{"response": "hi"}`); !errors.Is(err, ErrMissingIntent) {
		t.Fatalf("期望 ErrMissingIntent, 实际 %v", err)
	}
}

func TestParseRejectsUnknownIntent(t *testing.T) {
	if _, err := Parse(`{"intent": "dance", "response": "hi"}`); !errors.Is(err, ErrUnknownIntent) {
		t.Fatalf("期望 ErrUnknownIntent, 实际 %v", err)
	}
}

func TestParseSwapIntentStructured(t *testing.T) {
	rec, err := Parse(`{"intent": "swap_intent", "response": {"tokenIn": "USDC", "tokenOut": "WETH", "amount": "10"}}`)
	if err != nil {
		t.Fatalf("期望解析成功: %v", err)
	}
	if rec.Swap == nil {
		t.Fatal("期望结构化兑换请求")
	}
	if rec.Swap.TokenIn != "USDC" || rec.Swap.TokenOut != "WETH" || rec.Swap.Amount != "10" {
		t.Fatalf("payload 不符: %+v", rec.Swap)
	}
}

func TestParseSwapIntentAllowsMissingAmount(t *testing.T) {
	rec, err := Parse(`{"intent": "swap_intent", "response": {"tokenIn": "USDC", "tokenOut": "WETH"}}`)
	if err != nil {
		t.Fatalf("收集类记录金额可缺省: %v", err)
	}
	if rec.Swap.Amount != "" {
		t.Fatalf("期望空金额, 实际 %q", rec.Swap.Amount)
	}
}

func TestParseSwapIntentAcceptsText(t *testing.T) {
	rec, err := Parse(`{"intent": "swap_intent", "response": "Which amount would you like to swap?"}`)
	if err != nil {
		t.Fatalf("收集类记录允许文本响应: %v", err)
	}
	if rec.Response == "" || rec.Swap != nil {
		t.Fatalf("期望文本记录: %+v", rec)
	}
}

func TestParseSwapFunctionRequiresAmount(t *testing.T) {
	_, err := Parse(`{"intent": "swap_function", "response": {"tokenIn": "USDC", "tokenOut": "WETH"}}`)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("执行类记录金额必填, 实际 %v", err)
	}
}

func TestParseSwapFunctionCoercesNumericAmount(t *testing.T) {
	rec, err := Parse(`{"intent": "swap_function", "response": {"tokenIn": "USDC", "tokenOut": "WETH", "amount": 2.5}}`)
	if err != nil {
		t.Fatalf("期望数字金额被归一化: %v", err)
	}
	if rec.Swap.Amount != "2.5" {
		t.Fatalf("金额归一化不符: %q", rec.Swap.Amount)
	}
}

func TestParseSwapFunctionRejectsNonNumericAmount(t *testing.T) {
	_, err := Parse(`{"intent": "swap_function", "response": {"tokenIn": "USDC", "tokenOut": "WETH", "amount": "a lot"}}`)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("期望非数值金额被拒绝, 实际 %v", err)
	}
}

func TestParseMultiswapFunction(t *testing.T) {
	raw := `{"intent": "multiswap_function", "response": [
		{"tokenIn": "USDC", "tokenOut": "WETH", "amount": "1"},
		{"tokenIn": "USDT", "tokenOut": "WBTC", "amount": "2"}
	]}`
	rec, err := Parse(raw)
	if err != nil {
		t.Fatalf("期望解析成功: %v", err)
	}
	if len(rec.Swaps) != 2 {
		t.Fatalf("期望两笔兑换, 实际 %d", len(rec.Swaps))
	}
}

func TestParseMultiswapRejectsEmptySequence(t *testing.T) {
	_, err := Parse(`{"intent": "multiswap_function", "response": []}`)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("期望空序列被拒绝, 实际 %v", err)
	}
}

func TestParseTransferFunction(t *testing.T) {
	rec, err := Parse(`{"intent": "transfer_function", "response": {"tokenIn": "USDC", "recipient": "0xabc", "amount": "3"}}`)
	if err != nil {
		t.Fatalf("期望解析成功: %v", err)
	}
	if rec.Transfer == nil || rec.Transfer.Recipient != "0xabc" {
		t.Fatalf("payload 不符: %+v", rec.Transfer)
	}
}

func TestParseTransferFunctionRequiresRecipient(t *testing.T) {
	_, err := Parse(`{"intent": "transfer_function", "response": {"tokenIn": "USDC", "amount": "3"}}`)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("期望缺少收款人被拒绝, 实际 %v", err)
	}
}

func TestParseCreateProcess(t *testing.T) {
	rec, err := Parse(`{"intent": "create-process", "response": {"tags": [{"name": "Name", "value": "bot"}]}}`)
	if err != nil {
		t.Fatalf("期望解析成功: %v", err)
	}
	if rec.Process == nil || len(rec.Process.Tags) != 1 {
		t.Fatalf("payload 不符: %+v", rec.Process)
	}
}

func TestParseCreateProcessRequiresTags(t *testing.T) {
	_, err := Parse(`{"intent": "create-process", "response": {"tags": []}}`)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("期望空标签被拒绝, 实际 %v", err)
	}
}

func TestParseRunProcessRequiresDataOrCode(t *testing.T) {
	if _, err := Parse(`{"intent": "run-process", "response": {}}`); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("期望空 payload 被拒绝, 实际 %v", err)
	}
	rec, err := Parse(`{"intent": "run-process", "response": {"code": "x = 1"}}`)
	if err != nil {
		t.Fatalf("期望解析成功: %v", err)
	}
	if rec.Run.Code != "x = 1" {
		t.Fatalf("payload 不符: %+v", rec.Run)
	}
}

func TestActionableRoundTripsPayloadVerbatim(t *testing.T) {
	raw := `{"intent": "swap_function", "response": {"tokenIn":"USDC","tokenOut":"WETH","amount":"10"}}`
	rec, err := Parse(raw)
	if err != nil {
		t.Fatalf("期望解析成功: %v", err)
	}
	actionable, err := rec.Actionable()
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	want := `{"intent":"swap_function","response":{"tokenIn":"USDC","tokenOut":"WETH","amount":"10"}}`
	if actionable != want {
		t.Fatalf("机器可执行消息不符:\n%s\n%s", actionable, want)
	}
}
