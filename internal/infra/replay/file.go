// Package replay feeds recorded intent events from a directory into the
// orchestrator. It stands in for the live bus during development and
// acceptance runs.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"home-orchestrator/internal/domain"
)

// Handler receives every replayed intent event.
type Handler func(ctx context.Context, ev domain.IntentEvent) error

// FileBus picks up *.json and *.jsonl files from dir in name order. A .json
// file holds one event or an array of events; a .jsonl file holds one event
// per line. Handled files are renamed with a .processed suffix; files with no
// decodable event are left in place and retried. Replies are logged and kept
// for inspection.
type FileBus struct {
	dir      string
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	processed map[string]bool
	replies   []domain.Reply
}

func NewFileBus(dir string, interval time.Duration, logger *slog.Logger) *FileBus {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &FileBus{
		dir:       dir,
		interval:  interval,
		logger:    logger,
		processed: make(map[string]bool),
	}
}

// Run polls the directory until ctx is done.
func (f *FileBus) Run(ctx context.Context, handler Handler) error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("creating replay dir: %w", err)
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if err := f.Drain(ctx, handler); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain replays every pending file once and returns the number of events
// handed to handler.
func (f *FileBus) Drain(ctx context.Context, handler Handler) error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("reading dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".json" && ext != ".jsonl" {
			continue
		}

		path := filepath.Join(f.dir, entry.Name())
		if f.seen(path) {
			continue
		}

		events, err := readEvents(path)
		if err != nil {
			if len(events) == 0 {
				// Possibly still being written; retried on the next poll.
				f.logger.Warn("unreadable replay file, retrying later", "path", path, "error", err)
				continue
			}
			f.logger.Warn("replaying readable part of file", "path", path, "events", len(events), "error", err)
		}
		for _, ev := range events {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := handler(ctx, ev); err != nil {
				f.logger.Error("handling replayed intent", "path", path, "session_id", ev.SessionID, "error", err)
			}
		}

		f.markProcessed(path)
	}
	return nil
}

func (f *FileBus) EndSession(_ context.Context, sessionID, text string) error {
	f.record(domain.EndReply(sessionID, text))
	return nil
}

func (f *FileBus) ContinueSession(_ context.Context, sessionID, text string, expect []string) error {
	f.record(domain.ContinueReply(sessionID, text, expect...))
	return nil
}

// Replies returns the replies published so far.
func (f *FileBus) Replies() []domain.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Reply(nil), f.replies...)
}

func (f *FileBus) record(r domain.Reply) {
	f.logger.Info("reply", "session_id", r.SessionID, "action", r.Action, "text", r.Text, "expect", r.Expect)
	f.mu.Lock()
	f.replies = append(f.replies, r)
	f.mu.Unlock()
}

func (f *FileBus) seen(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[path]
}

func (f *FileBus) markProcessed(path string) {
	f.mu.Lock()
	f.processed[path] = true
	f.mu.Unlock()

	if err := os.Rename(path, path+".processed"); err != nil {
		f.logger.Warn("renaming replay file", "path", path, "error", err)
	}
}

func readEvents(path string) ([]domain.IntentEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	if filepath.Ext(path) == ".jsonl" {
		var events []domain.IntentEvent
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for line := 1; scanner.Scan(); line++ {
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}
			var ev domain.IntentEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return events, fmt.Errorf("line %d: %w", line, err)
			}
			events = append(events, ev)
		}
		return events, scanner.Err()
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []domain.IntentEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decoding events: %w", err)
		}
		return events, nil
	}

	var ev domain.IntentEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return []domain.IntentEvent{ev}, nil
}
