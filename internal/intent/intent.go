package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Intent 表示一次用户发言被分类后的目的，取值来自固定枚举。
type Intent string

const (
	UserAssistance    Intent = "user-assistance"
	SwapIntent        Intent = "swap_intent"
	SwapFunction      Intent = "swap_function"
	MultiswapIntent   Intent = "multiswap_intent"
	MultiswapFunction Intent = "multiswap_function"
	AccountBalance    Intent = "account_balance"
	TransferToken     Intent = "transfer_token"
	TransferFunction  Intent = "transfer_function"
	CreateProcess     Intent = "create-process"
	QueryProcess      Intent = "query-process"
	RunProcess        Intent = "run-process"
)

// 解析与校验失败的原因。
var (
	ErrNotJSON        = errors.New("output is not a JSON object")
	ErrMissingIntent  = errors.New("missing intent field")
	ErrUnknownIntent  = errors.New("unknown intent")
	ErrInvalidPayload = errors.New("invalid payload")
)

// SwapOrder 描述一笔代币兑换：用 TokenIn 换取 TokenOut。
type SwapOrder struct {
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	Amount   string `json:"amount"`
}

// TransferOrder 描述一笔 ERC20 转账。
type TransferOrder struct {
	TokenIn   string `json:"tokenIn"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// Tag 是 AO 进程的键值标签。
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ProcessSpec 描述待创建进程的标签集合。
type ProcessSpec struct {
	Tags []Tag `json:"tags"`
}

// ProcessQuery 描述对进程变量的查询。
type ProcessQuery struct {
	Query string `json:"query"`
}

// ProcessRun 描述要在进程内执行的 lua 代码或其说明。
type ProcessRun struct {
	Data string `json:"data,omitempty"`
	Code string `json:"code,omitempty"`
}

// Record 是一条通过校验的意图记录。payload 按 intent 分流到对应的
// 强类型字段；Raw 始终保留 response 的原始 JSON，供机器可执行消息
// 原样回传。
type Record struct {
	Intent Intent

	// Response 在 response 为纯文本时填充（收集意图类记录）。
	Response string

	Swap     *SwapOrder
	Swaps    []SwapOrder
	Transfer *TransferOrder
	Process  *ProcessSpec
	Query    *ProcessQuery
	Run      *ProcessRun

	Raw json.RawMessage
}

// wireRecord 是模型输出的最外层结构。
type wireRecord struct {
	Intent   *string         `json:"intent"`
	Response json.RawMessage `json:"response"`
}

// Parse 将模型原始输出解析为意图记录。输出可以是 JSON 文本，也可以
// 包裹在 markdown 代码块内。解析失败或 payload 不满足该意图的
// 模式时返回错误。
func Parse(raw string) (*Record, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, ErrNotJSON
	}

	var wire wireRecord
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if wire.Intent == nil || strings.TrimSpace(*wire.Intent) == "" {
		return nil, ErrMissingIntent
	}

	rec := &Record{Intent: Intent(strings.TrimSpace(*wire.Intent)), Raw: wire.Response}
	parse, ok := parsers[rec.Intent]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, rec.Intent)
	}
	if err := parse(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// parsers 将每个意图映射到它的 payload 解析函数。收集意图类记录宽松
// 校验，*_function 类记录严格校验。
var parsers = map[Intent]func(*Record) error{
	UserAssistance:    parseText,
	AccountBalance:    parseText,
	TransferToken:     parseText,
	SwapIntent:        parseLooseSwap,
	MultiswapIntent:   parseLooseMultiswap,
	SwapFunction:      parseSwapFunction,
	MultiswapFunction: parseMultiswapFunction,
	TransferFunction:  parseTransferFunction,
	CreateProcess:     parseCreateProcess,
	QueryProcess:      parseQueryProcess,
	RunProcess:        parseRunProcess,
}

// parseText 要求 response 是非空字符串。
func parseText(rec *Record) error {
	text, ok := decodeString(rec.Raw)
	if !ok || strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s requires a textual response", ErrInvalidPayload, rec.Intent)
	}
	rec.Response = text
	return nil
}

// parseLooseSwap 接受结构化的兑换请求（amount 可以缺省，由后续对话
// 补齐），也接受纯文本的追问。
func parseLooseSwap(rec *Record) error {
	if text, ok := decodeString(rec.Raw); ok {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: empty swap_intent response", ErrInvalidPayload)
		}
		rec.Response = text
		return nil
	}
	order, err := decodeSwapOrder(rec.Raw, false)
	if err != nil {
		return err
	}
	rec.Swap = order
	return nil
}

func parseLooseMultiswap(rec *Record) error {
	if text, ok := decodeString(rec.Raw); ok {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: empty multiswap_intent response", ErrInvalidPayload)
		}
		rec.Response = text
		return nil
	}
	orders, err := decodeSwapOrders(rec.Raw, false)
	if err != nil {
		return err
	}
	rec.Swaps = orders
	return nil
}

func parseSwapFunction(rec *Record) error {
	order, err := decodeSwapOrder(rec.Raw, true)
	if err != nil {
		return err
	}
	rec.Swap = order
	return nil
}

func parseMultiswapFunction(rec *Record) error {
	orders, err := decodeSwapOrders(rec.Raw, true)
	if err != nil {
		return err
	}
	rec.Swaps = orders
	return nil
}

func parseTransferFunction(rec *Record) error {
	var wire struct {
		TokenIn   string          `json:"tokenIn"`
		Recipient string          `json:"recipient"`
		Amount    json.RawMessage `json:"amount"`
	}
	if err := json.Unmarshal(rec.Raw, &wire); err != nil {
		return fmt.Errorf("%w: transfer_function payload: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(wire.TokenIn) == "" {
		return fmt.Errorf("%w: transfer_function requires tokenIn", ErrInvalidPayload)
	}
	if strings.TrimSpace(wire.Recipient) == "" {
		return fmt.Errorf("%w: transfer_function requires recipient", ErrInvalidPayload)
	}
	amount, err := coerceAmount(wire.Amount, true)
	if err != nil {
		return err
	}
	rec.Transfer = &TransferOrder{TokenIn: wire.TokenIn, Recipient: wire.Recipient, Amount: amount}
	return nil
}

func parseCreateProcess(rec *Record) error {
	var spec ProcessSpec
	if err := json.Unmarshal(rec.Raw, &spec); err != nil {
		return fmt.Errorf("%w: create-process payload: %v", ErrInvalidPayload, err)
	}
	if len(spec.Tags) == 0 {
		return fmt.Errorf("%w: create-process requires at least one tag", ErrInvalidPayload)
	}
	for _, tag := range spec.Tags {
		if strings.TrimSpace(tag.Name) == "" {
			return fmt.Errorf("%w: create-process tag without a name", ErrInvalidPayload)
		}
	}
	rec.Process = &spec
	return nil
}

func parseQueryProcess(rec *Record) error {
	var query ProcessQuery
	if err := json.Unmarshal(rec.Raw, &query); err != nil {
		return fmt.Errorf("%w: query-process payload: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(query.Query) == "" {
		return fmt.Errorf("%w: query-process requires a query", ErrInvalidPayload)
	}
	rec.Query = &query
	return nil
}

func parseRunProcess(rec *Record) error {
	var run ProcessRun
	if err := json.Unmarshal(rec.Raw, &run); err != nil {
		return fmt.Errorf("%w: run-process payload: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(run.Data) == "" && strings.TrimSpace(run.Code) == "" {
		return fmt.Errorf("%w: run-process requires data or code", ErrInvalidPayload)
	}
	rec.Run = &run
	return nil
}

func decodeSwapOrder(raw json.RawMessage, strict bool) (*SwapOrder, error) {
	var wire struct {
		TokenIn  string          `json:"tokenIn"`
		TokenOut string          `json:"tokenOut"`
		Amount   json.RawMessage `json:"amount"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: swap payload: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(wire.TokenIn) == "" || strings.TrimSpace(wire.TokenOut) == "" {
		return nil, fmt.Errorf("%w: swap requires tokenIn and tokenOut", ErrInvalidPayload)
	}
	amount, err := coerceAmount(wire.Amount, strict)
	if err != nil {
		return nil, err
	}
	return &SwapOrder{TokenIn: wire.TokenIn, TokenOut: wire.TokenOut, Amount: amount}, nil
}

func decodeSwapOrders(raw json.RawMessage, strict bool) ([]SwapOrder, error) {
	var wires []json.RawMessage
	if err := json.Unmarshal(raw, &wires); err != nil {
		return nil, fmt.Errorf("%w: multiswap payload must be a sequence: %v", ErrInvalidPayload, err)
	}
	if len(wires) == 0 {
		return nil, fmt.Errorf("%w: multiswap requires at least one swap", ErrInvalidPayload)
	}
	orders := make([]SwapOrder, 0, len(wires))
	for _, entry := range wires {
		order, err := decodeSwapOrder(entry, strict)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// coerceAmount 接受 JSON 字符串或数字形式的金额并归一化为数值字符串。
// strict 模式下金额必填且必须可解析为数值。
func coerceAmount(raw json.RawMessage, strict bool) (string, error) {
	if len(raw) == 0 {
		if strict {
			return "", fmt.Errorf("%w: amount is required", ErrInvalidPayload)
		}
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var number json.Number
		if err := json.Unmarshal(raw, &number); err != nil {
			return "", fmt.Errorf("%w: amount must be a numeric string", ErrInvalidPayload)
		}
		text = number.String()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		if strict {
			return "", fmt.Errorf("%w: amount is required", ErrInvalidPayload)
		}
		return "", nil
	}
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return "", fmt.Errorf("%w: amount %q is not numeric", ErrInvalidPayload, text)
	}
	return text, nil
}

// decodeString 尝试把原始 payload 解读为字符串。
func decodeString(raw json.RawMessage) (string, bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", false
	}
	return text, true
}

// extractJSON 剥离 markdown 代码块与两侧杂散文本，保留最外层的
// JSON 对象。找不到对象时返回空串。
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// Text 返回记录的人类可读文本：文本响应直接返回，结构化 payload
// 返回其 JSON 编码。
func (r *Record) Text() string {
	if r == nil {
		return ""
	}
	if r.Response != "" {
		return r.Response
	}
	return string(r.Raw)
}

// Actionable 将意图与原始 payload 原样序列化为机器可执行消息。
func (r *Record) Actionable() (string, error) {
	if r == nil {
		return "", errors.New("nil record")
	}
	encoded, err := json.Marshal(struct {
		Intent   Intent          `json:"intent"`
		Response json.RawMessage `json:"response"`
	}{Intent: r.Intent, Response: r.Raw})
	if err != nil {
		return "", fmt.Errorf("encode actionable message: %w", err)
	}
	return string(encoded), nil
}
