package replay_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/infra/replay"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestFileBus_DrainReplaysInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "01-single.json", `{"intent":"turnOn","sessionId":"a","slots":{"house_room":["kitchen"]}}`)
	writeFile(t, dir, "02-array.json", `[{"intent":"turnOff","sessionId":"b"},{"intent":"turnOff","sessionId":"c"}]`)
	writeFile(t, dir, "03-lines.jsonl", "{\"intent\":\"setColor\",\"sessionId\":\"d\"}\n\n{\"intent\":\"setColor\",\"sessionId\":\"e\"}\n")
	writeFile(t, dir, "notes.txt", "ignored")

	bus := replay.NewFileBus(dir, time.Millisecond, discardLogger())

	var got []string
	err := bus.Drain(context.Background(), func(_ context.Context, ev domain.IntentEvent) error {
		got = append(got, ev.SessionID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)

	assert.FileExists(t, filepath.Join(dir, "01-single.json.processed"))
	assert.FileExists(t, filepath.Join(dir, "03-lines.jsonl.processed"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	got = nil
	require.NoError(t, bus.Drain(context.Background(), func(_ context.Context, ev domain.IntentEvent) error {
		got = append(got, ev.SessionID)
		return nil
	}))
	assert.Empty(t, got)
}

func TestFileBus_UnreadableFileIsRetried(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "partial.json", `{"intent":`)

	bus := replay.NewFileBus(dir, time.Millisecond, discardLogger())

	var got []string
	handler := func(_ context.Context, ev domain.IntentEvent) error {
		got = append(got, ev.SessionID)
		return nil
	}

	require.NoError(t, bus.Drain(context.Background(), handler))
	assert.Empty(t, got)
	assert.FileExists(t, filepath.Join(dir, "partial.json"))
	assert.NoFileExists(t, filepath.Join(dir, "partial.json.processed"))

	writeFile(t, dir, "partial.json", `{"intent":"turnOn","sessionId":"late"}`)
	require.NoError(t, bus.Drain(context.Background(), handler))
	assert.Equal(t, []string{"late"}, got)
	assert.FileExists(t, filepath.Join(dir, "partial.json.processed"))
}

func TestFileBus_PartlyReadableLinesAreReplayed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mixed.jsonl", "{\"intent\":\"turnOn\",\"sessionId\":\"a\"}\n{\"intent\":")

	bus := replay.NewFileBus(dir, time.Millisecond, discardLogger())

	var got []string
	require.NoError(t, bus.Drain(context.Background(), func(_ context.Context, ev domain.IntentEvent) error {
		got = append(got, ev.SessionID)
		return nil
	}))
	assert.Equal(t, []string{"a"}, got)
	assert.FileExists(t, filepath.Join(dir, "mixed.jsonl.processed"))
}

func TestFileBus_RecordsReplies(t *testing.T) {
	bus := replay.NewFileBus(t.TempDir(), 0, discardLogger())
	ctx := context.Background()

	require.NoError(t, bus.ContinueSession(ctx, "s1", "welcome home", []string{"giveAnswer"}))
	require.NoError(t, bus.EndSession(ctx, "s1", "okay. welcome home"))

	assert.Equal(t, []domain.Reply{
		domain.ContinueReply("s1", "welcome home", "giveAnswer"),
		domain.EndReply("s1", "okay. welcome home"),
	}, bus.Replies())
}

func TestFileBus_RunStopsOnCancel(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "incoming")
	bus := replay.NewFileBus(dir, 5*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Run(ctx, func(_ context.Context, ev domain.IntentEvent) error {
			received <- ev.SessionID
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	writeFile(t, dir, "late.tmp", `{"intent":"turnOn","sessionId":"late"}`)
	require.NoError(t, os.Rename(filepath.Join(dir, "late.tmp"), filepath.Join(dir, "late.json")))

	select {
	case id := <-received:
		assert.Equal(t, "late", id)
	case <-time.After(2 * time.Second):
		t.Fatal("file not replayed")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
