package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nidhogg/nuka-council/internal/config"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/nidhogg/nuka-council/internal/workflow"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Workflow.Seed = 3
	cfg.Checkpoint.SQLitePath = filepath.Join(dir, "council.db")
	cfg.History.Path = filepath.Join(dir, "chat_history.json")
	return cfg
}

func TestAppRunAndResume(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	a, err := newApp(context.Background(), cfg, zap.NewNop(), &out)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	res, err := a.service.Invoke(context.Background(), workflow.RunRequest{Workflow: workflow.School, ThreadID: "cli-1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(out.String(), "Outcome  :") {
		t.Errorf("console transcript missing banner:\n%s", out.String())
	}
	entries, err := a.history.Recent(1)
	if err != nil || len(entries) != 1 || entries[0].ThreadID != "cli-1" {
		t.Errorf("history = %+v (%v)", entries, err)
	}
	a.close()

	// A second process sees the sqlite checkpoint.
	b, err := newApp(context.Background(), cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.close()
	cp, err := b.service.Checkpoint(context.Background(), "cli-1")
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !cp.Finished() || cp.State.Outcome != res.Outcome() {
		t.Errorf("checkpoint next=%q outcome=%q, want terminal and %q", cp.Next, cp.State.Outcome, res.Outcome())
	}
	if _, err := b.service.Resume(context.Background(), "cli-1"); err == nil {
		t.Error("expected finished run to refuse resume")
	}
}

func TestAppRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checkpoint.Driver = "postgres"
	if _, err := newApp(context.Background(), cfg, zap.NewNop(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestAppEmbeddedNATS(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checkpoint.Driver = "memory"
	cfg.NATS.Embedded = true

	a, err := newApp(context.Background(), cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()
	if a.bus == nil {
		t.Fatal("expected a NATS client")
	}
}

func TestTaskFromFlags(t *testing.T) {
	defer func() { runTitle, runDescription, runPriority = "", "", "" }()

	runTitle, runPriority = "Buy chairs", "low"
	task, err := taskFromFlags()
	if err != nil {
		t.Fatal(err)
	}
	if task.Title != "Buy chairs" || task.Priority != orchestrator.PriorityLow {
		t.Errorf("task = %+v", task)
	}

	runPriority = "urgent"
	if _, err := taskFromFlags(); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		if _, err := newLogger(level); err != nil {
			t.Errorf("level %q: %v", level, err)
		}
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestHistoryCommandNamesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	histPath := filepath.Join(dir, "runs.json")
	cfgPath := filepath.Join(dir, "council.json")
	body := `{"history": {"enabled": true, "path": "` + filepath.ToSlash(histPath) + `"}}`
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	prev := configPath
	configPath = cfgPath
	t.Cleanup(func() { configPath = prev })

	var out bytes.Buffer
	historyCmd.SetOut(&out)
	t.Cleanup(func() { historyCmd.SetOut(nil) })
	if err := historyCmd.RunE(historyCmd, nil); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "No runs recorded in "+filepath.ToSlash(histPath)) {
		t.Errorf("output = %q", out.String())
	}
}
