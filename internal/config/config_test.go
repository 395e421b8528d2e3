package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "feelan.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("监听地址默认值不符: %s", cfg.Server.Address)
	}
	if cfg.Auth.Mode != "wallet" {
		t.Fatalf("认证模式默认值不符: %s", cfg.Auth.Mode)
	}
	if cfg.LLM.Model != "gpt-4-turbo" || cfg.LLM.MaxTrials != 3 {
		t.Fatalf("模型默认值不符: %+v", cfg.LLM)
	}
	if cfg.Trade.ChainID != 137 {
		t.Fatalf("链默认值不符: %d", cfg.Trade.ChainID)
	}
	if cfg.RateLimit.SendMessagePerHour != 50 || cfg.RateLimit.DefaultPerMinute != 10 {
		t.Fatalf("限流默认值不符: %+v", cfg.RateLimit)
	}
	if cfg.Storage.Driver != "file" || cfg.Events.Driver != "memory" {
		t.Fatalf("驱动默认值不符: %s/%s", cfg.Storage.Driver, cfg.Events.Driver)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{"trade": {"token_table": "my-tokens.yaml"}, "runtime": {"data_dir": "state"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	baseDir := filepath.Dir(path)
	if cfg.Trade.TokenTablePath != filepath.Join(baseDir, "my-tokens.yaml") {
		t.Fatalf("代币清单路径不符: %s", cfg.Trade.TokenTablePath)
	}
	if cfg.Runtime.DataDir != filepath.Join(baseDir, "state") {
		t.Fatalf("数据目录不符: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"address": ":9999"},
		"auth": {"mode": "disabled"},
		"llm": {"model": "gpt-4o", "max_trials": 5}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Server.Address != ":9999" || cfg.Auth.Mode != "disabled" {
		t.Fatalf("显式配置被覆盖: %+v", cfg)
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.MaxTrials != 5 {
		t.Fatalf("显式配置被覆盖: %+v", cfg.LLM)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("缺失文件应报错")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("非法 JSON 应报错")
	}
}
