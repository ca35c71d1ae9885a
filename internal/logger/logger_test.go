package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_InvalidLevel(t *testing.T) {
	if err := Init(Config{Level: "verbose"}); err == nil {
		t.Fatal("expected error for unsupported level")
	}
}

func TestInit_InvalidFormat(t *testing.T) {
	if err := Init(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestInit_FileOutput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "logs", "newslens.log")

	if err := Init(Config{Level: "debug", Format: "json", File: file}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Infof("[test] hello %s", "world")
	Sync()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "[test] hello world") {
		t.Errorf("log file missing message: %s", data)
	}

	// 恢复默认输出，避免影响其他测试
	if err := Init(Config{}); err != nil {
		t.Fatalf("reset Init failed: %v", err)
	}
}
