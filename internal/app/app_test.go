package app

import (
	"testing"

	"call-pipeline-go/internal/config"
	"call-pipeline-go/internal/logger"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("SWEEPER_SCHEDULE", "")
	cfg, err := config.LoadFile("does-not-exist.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg.DBPath = ":memory:"
	return cfg
}

func TestBuild(t *testing.T) {
	cfg := testConfig(t)
	log := &logger.Logger{Entry: logger.Discard()}

	a, err := Build(cfg, log)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()
	if a.Runner == nil || a.Batch == nil || a.Sweeper == nil {
		t.Errorf("app = %+v", a)
	}

	cfg.Sweeper.Schedule = "off"
	b, err := Build(cfg, log)
	if err != nil {
		t.Fatalf("Build without sweeper: %v", err)
	}
	defer b.Close()
	if b.Sweeper != nil {
		t.Error("sweeper should be disabled")
	}
}

func TestBuild_Errors(t *testing.T) {
	log := &logger.Logger{Entry: logger.Discard()}

	cfg := testConfig(t)
	cfg.Sweeper.Schedule = "every minute"
	if _, err := Build(cfg, log); err == nil {
		t.Error("expected error for bad schedule")
	}

	cfg = testConfig(t)
	cfg.LLM.Provider = "mystery"
	if _, err := Build(cfg, log); err == nil {
		t.Error("expected error for unknown provider")
	}
}
