package trade

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTokenTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	content := `tokens:
  - name: USD Coin
    symbol: USDC
    address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
  - name: Wrapped Ether
    symbol: WETH
    address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入清单失败: %v", err)
	}

	table, err := LoadTokenTable(path)
	if err != nil {
		t.Fatalf("加载清单失败: %v", err)
	}
	address, err := table.AddressOf("USDC")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if address != "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359" {
		t.Fatalf("地址不符: %s", address)
	}
	if len(table.Tokens()) != 2 {
		t.Fatalf("代币数量不符: %d", len(table.Tokens()))
	}
}

func TestNewTokenTableRejectsIncomplete(t *testing.T) {
	if _, err := NewTokenTable(nil); err == nil {
		t.Fatal("空清单应报错")
	}
	if _, err := NewTokenTable([]Token{{Name: "no symbol", Address: "0x1"}}); err == nil {
		t.Fatal("缺少符号应报错")
	}
}

func TestAddressOfUnknownSymbol(t *testing.T) {
	table := testTokens(t)
	if _, err := table.AddressOf("DOGE"); err == nil {
		t.Fatal("未知符号应报错")
	}
}
