package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "Feelan-Chain/internal/errors"
	"Feelan-Chain/internal/intent"
)

const (
	defaultChainID      = 137
	defaultTradeTimeout = 30 * time.Second
)

// Config 描述交易协作方服务的访问参数。
type Config struct {
	BaseURL string
	ChainID int
	Timeout time.Duration
}

// ProviderError 携带交易协作方返回的非 2xx 响应，供调度器决定降级策略。
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("trade provider returned %d: %s", e.Status, e.Body)
}

// TransferResult 汇总一次 ERC20 转账的结果。
type TransferResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client 封装报价、兑换、转账与余额查询这几个下游 HTTP 协作方。
type Client struct {
	baseURL    string
	chainID    int
	tokens     *TokenTable
	httpClient *http.Client
}

// NewClient 构造交易客户端。
func NewClient(cfg Config, tokens *TokenTable) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易服务地址不能为空")
	}
	if tokens == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供代币清单")
	}
	chainID := cfg.ChainID
	if chainID <= 0 {
		chainID = defaultChainID
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTradeTimeout
	}
	return &Client{
		baseURL:    baseURL,
		chainID:    chainID,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Quote 获取单笔兑换的报价，并渲染成注入提示词的摘要文本。协作方
// 返回非 2xx 时，其响应体原样作为摘要返回，交由模型向用户解释。
func (c *Client) Quote(ctx context.Context, order intent.SwapOrder, accountAddress string) (string, error) {
	tokenInAddress, err := c.tokens.AddressOf(order.TokenIn)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	tokenOutAddress, err := c.tokens.AddressOf(order.TokenOut)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}

	payload := map[string]any{
		"chainId":         c.chainID,
		"walletAddress":   accountAddress,
		"tokenInAddress":  tokenInAddress,
		"tokenOutAddress": tokenOutAddress,
		"amountIn":        order.Amount,
	}

	status, body, err := c.post(ctx, "/quote", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return string(body), nil
	}

	var decoded struct {
		EstimatedOutput   json.Number `json:"estimatedOutput"`
		GasAdjustedQuote  json.Number `json:"gasAdjustedQuote"`
		GasUsedQuoteToken json.Number `json:"gasUsedQuoteToken"`
		GasUsedUSD        json.Number `json:"gasUsedUSD"`
		BalanceTokenIn    string      `json:"balanceTokenIn"`
		BalanceTokenOut   string      `json:"balanceTokenOut"`
		TokenIn           string      `json:"tokenIn"`
		TokenOut          string      `json:"tokenOut"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeExternalService, err, "解析报价响应失败")
	}

	summary := fmt.Sprintf(
		"%s %s for %s %s\nGas Adjusted Quote: %s\nGas Used (USD): %s\nThis account has a balance of %s %s \nAnd a balance of %s %s \n",
		order.Amount, decoded.TokenIn,
		roundSignificant(decoded.EstimatedOutput.String(), 3), decoded.TokenOut,
		roundSignificant(decoded.GasAdjustedQuote.String(), 3),
		roundSignificant(decoded.GasUsedUSD.String(), 3),
		decoded.BalanceTokenIn, decoded.TokenIn,
		decoded.BalanceTokenOut, decoded.TokenOut,
	)
	return summary, nil
}

// MultiQuote 批量获取报价。协作方报错时返回 ProviderError，调度器
// 据此改用余额报告兜底。
func (c *Client) MultiQuote(ctx context.Context, orders []intent.SwapOrder, accountAddress string) (string, error) {
	swaps := make([]map[string]any, 0, len(orders))
	for _, order := range orders {
		tokenInAddress, err := c.tokens.AddressOf(order.TokenIn)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
		}
		tokenOutAddress, err := c.tokens.AddressOf(order.TokenOut)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
		}
		swaps = append(swaps, map[string]any{
			"chainId":         c.chainID,
			"walletAddress":   accountAddress,
			"tokenIn":         order.TokenIn,
			"tokenOut":        order.TokenOut,
			"amount":          order.Amount,
			"amountIn":        order.Amount,
			"tokenInAddress":  tokenInAddress,
			"tokenOutAddress": tokenOutAddress,
		})
	}

	status, body, err := c.post(ctx, "/multiQuote", map[string]any{"swaps": swaps})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &ProviderError{Status: status, Body: string(body)}
	}

	var decoded struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeExternalService, err, "解析批量报价响应失败")
	}
	rendered, err := json.Marshal(decoded.Results)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeExternalService, err, "渲染批量报价失败")
	}
	return string(rendered), nil
}

// Swap 请求协作方执行单笔兑换。管道自身不调用它，兑换由客户端依据
// 机器可执行消息发起，这里仅实现接口边界。
func (c *Client) Swap(ctx context.Context, order intent.SwapOrder, accountAddress string) (string, error) {
	tokenInAddress, err := c.tokens.AddressOf(order.TokenIn)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	tokenOutAddress, err := c.tokens.AddressOf(order.TokenOut)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}

	payload := map[string]any{
		"chainId":         c.chainID,
		"walletAddress":   accountAddress,
		"tokenInAddress":  tokenInAddress,
		"tokenOutAddress": tokenOutAddress,
		"amountIn":        order.Amount,
	}
	status, body, err := c.post(ctx, "/swap", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &ProviderError{Status: status, Body: string(body)}
	}
	return string(body), nil
}

// TransferERC20 请求协作方执行转账。失败时附带协作方给出的原因，
// 原因会被折回对话修复阶段。
func (c *Client) TransferERC20(ctx context.Context, order intent.TransferOrder, accountAddress string) (*TransferResult, error) {
	tokenInAddress, err := c.tokens.AddressOf(order.TokenIn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}

	payload := map[string]any{
		"accountAddress": accountAddress,
		"tokenInAddress": tokenInAddress,
		"amount":         order.Amount,
		"recipient":      order.Recipient,
	}
	status, body, err := c.post(ctx, "/transferERC20", payload)
	if err != nil {
		return nil, err
	}

	var decoded TransferResult
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalService, err, "解析转账响应失败")
	}
	if status != http.StatusOK && decoded.Error == "" {
		decoded.Success = false
		decoded.Error = strings.TrimSpace(string(body))
	}
	// 协作方的错误信息往往冗长，只保留 Details 之后的关键部分。
	if idx := strings.LastIndex(decoded.Error, "Details"); idx >= 0 {
		decoded.Error = strings.TrimSpace(strings.TrimPrefix(decoded.Error[idx:], "Details"))
		decoded.Error = strings.TrimLeft(decoded.Error, ": ")
	}
	return &decoded, nil
}

// Balance 获取账户在代币清单内的余额报告，渲染为逐行文本。
func (c *Client) Balance(ctx context.Context, accountAddress string) (string, error) {
	tokenAddresses := make([]map[string]string, 0)
	for _, token := range c.tokens.Tokens() {
		tokenAddresses = append(tokenAddresses, map[string]string{
			"symbol":  token.Symbol,
			"address": token.Address,
		})
	}

	payload := map[string]any{
		"chainId":        c.chainID,
		"walletAddress":  accountAddress,
		"tokenAddresses": tokenAddresses,
	}
	status, body, err := c.post(ctx, "/tokenListBalance", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &ProviderError{Status: status, Body: string(body)}
	}
	return string(body), nil
}

// post 发送 JSON 请求并读取完整响应体。
func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, xerrors.Wrap(xerrors.CodeExternalService, err, "序列化交易请求失败")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, xerrors.Wrap(xerrors.CodeExternalService, err, "构建交易请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, xerrors.Wrap(xerrors.CodeExternalService, err, fmt.Sprintf("请求 %s 失败", path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, xerrors.Wrap(xerrors.CodeExternalService, err, "读取交易响应失败")
	}
	return resp.StatusCode, body, nil
}
