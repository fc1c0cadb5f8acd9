package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	defaults()
	if config.Client.ConnectTimeout != "10s" {
		t.Errorf("expected default connect timeout 10s, got %s", config.Client.ConnectTimeout)
	}
	if config.Client.QueryTimeout != "10s" {
		t.Errorf("expected default query timeout 10s, got %s", config.Client.QueryTimeout)
	}
	if config.AppName == "" {
		t.Error("expected default app name to be populated")
	}
}

func TestReadConfigCreatesTemplate(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err = os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(wd) }()

	if _, err = ReadConfig(); err == nil {
		t.Fatal("expected error when config file is missing")
	}

	// 缺失时生成的模板文件必须写入了默认配置
	data, err := os.ReadFile("config.json")
	if err != nil {
		t.Fatalf("expected template file to be created, got %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected template file to contain the default config")
	}

	var cfg Config
	if err = json.Unmarshal(data, &cfg); err != nil {
		t.Errorf("template file is not valid JSON: %v", err)
	}
	if cfg.Client.ConnectTimeout != "10s" {
		t.Errorf("expected template connect timeout 10s, got %s", cfg.Client.ConnectTimeout)
	}
}
