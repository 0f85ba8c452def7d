// Package history keeps a JSON file of finished run transcripts.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"go.uber.org/zap"
)

// DefaultPath is where the CLI keeps its history.
const DefaultPath = "data/chat_history.json"

// Entry is one finished run.
type Entry struct {
	Timestamp time.Time                      `json:"timestamp"`
	ThreadID  string                         `json:"thread_id"`
	Workflow  string                         `json:"workflow"`
	Outcome   orchestrator.Outcome           `json:"outcome"`
	Messages  []orchestrator.TranscriptEntry `json:"messages"`
}

// File is an append-only JSON array on disk.
type File struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFile uses path, or DefaultPath when empty.
func NewFile(path string, logger *zap.Logger) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path, logger: logger}
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

func (f *File) read() ([]Entry, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", f.path, err)
	}
	return entries, nil
}

// Append adds an entry. A corrupt file is replaced rather than blocking
// new runs from being saved.
func (f *File) Append(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		f.logger.Warn("history unreadable, starting over", zap.String("path", f.path), zap.Error(err))
		entries = nil
	}
	entries = append(entries, e)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Recent returns the last n entries, oldest first.
func (f *File) Recent(n int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.read()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Record implements orchestrator.Recorder and appends the run once it
// reaches its final step. Failures are logged, never returned.
func (f *File) Record(_ context.Context, step orchestrator.Step) error {
	if !step.Final() {
		return nil
	}
	e := Entry{
		Timestamp: step.At,
		ThreadID:  step.ThreadID,
		Workflow:  step.State.Workflow,
		Outcome:   step.State.Outcome,
		Messages:  step.State.Transcript,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := f.Append(e); err != nil {
		f.logger.Warn("save history", zap.String("thread", step.ThreadID), zap.Error(err))
	}
	return nil
}
