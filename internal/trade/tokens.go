package trade

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Token 描述一种可交易代币及其链上合约地址。
type Token struct {
	Name    string `yaml:"name" json:"name"`
	Symbol  string `yaml:"symbol" json:"symbol"`
	Address string `yaml:"address" json:"address"`
}

// TokenTable 是静态的符号到地址映射，启动时从 YAML 文件加载。
type TokenTable struct {
	tokens   []Token
	bySymbol map[string]Token
}

// LoadTokenTable 读取 YAML 代币清单。
func LoadTokenTable(path string) (*TokenTable, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("代币清单路径不能为空")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币清单失败: %w", err)
	}
	var doc struct {
		Tokens []Token `yaml:"tokens"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("解析代币清单失败: %w", err)
	}
	return NewTokenTable(doc.Tokens)
}

// NewTokenTable 由给定的代币集合构建查找表。
func NewTokenTable(tokens []Token) (*TokenTable, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("代币清单为空")
	}
	table := &TokenTable{
		tokens:   append([]Token(nil), tokens...),
		bySymbol: make(map[string]Token, len(tokens)),
	}
	for _, token := range tokens {
		symbol := strings.TrimSpace(token.Symbol)
		if symbol == "" || strings.TrimSpace(token.Address) == "" {
			return nil, fmt.Errorf("代币 %q 缺少符号或地址", token.Name)
		}
		table.bySymbol[symbol] = token
	}
	return table, nil
}

// AddressOf 查找代币符号对应的合约地址。
func (t *TokenTable) AddressOf(symbol string) (string, error) {
	token, ok := t.bySymbol[strings.TrimSpace(symbol)]
	if !ok {
		return "", fmt.Errorf("未知的代币符号: %s", symbol)
	}
	return token.Address, nil
}

// Tokens 返回清单中的全部代币。
func (t *TokenTable) Tokens() []Token {
	return append([]Token(nil), t.tokens...)
}
