package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPaths(t *testing.T) {
	assert.Contains(t, DefaultLogDir(), filepath.Join(".verirag", "logs"))
	assert.Equal(t, "server.log", filepath.Base(DefaultLogPath()))
}

func TestServeConfig_NeverWritesStderr(t *testing.T) {
	cfg := ServeConfig("debug")

	assert.False(t, cfg.Stderr)
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, DefaultLogPath(), cfg.FilePath)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file-only logger at warn
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path})
	require.NoError(t, err)

	// When: logging below and at the level
	logger.Info("ignored")
	logger.Warn("source_failed", slog.String("source", "bm25"))
	cleanup()

	// Then: only the warn record is in the file, as JSON
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "source_failed", rec["msg"])
	assert.Equal(t, "bm25", rec["source"])
}

func TestSetup_NoOutputs(t *testing.T) {
	logger, cleanup, err := Setup(Config{})
	require.NoError(t, err)
	defer cleanup()

	assert.NotPanics(t, func() { logger.Info("dropped") })
}

func TestFanout_RespectsEachLevel(t *testing.T) {
	var debugBuf, errorBuf bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	logger := slog.New(h).With(slog.String("component", "engine"))

	logger.Debug("fine")
	logger.Error("broken")

	assert.Contains(t, debugBuf.String(), "fine")
	assert.Contains(t, debugBuf.String(), "broken")
	assert.NotContains(t, errorBuf.String(), "fine")
	assert.Contains(t, errorBuf.String(), "component=engine")
}

func TestRotatingWriter_Rotates(t *testing.T) {
	// Given: a writer with a tiny size limit and two kept files
	path := filepath.Join(t.TempDir(), "server.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 10
	defer w.Close()

	// When: writing more than three files' worth
	for _, s := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		_, err := w.Write([]byte(s))
		require.NoError(t, err)
	}

	// Then: the newest is live, two rotations are kept, the oldest is gone
	read := func(p string) string {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "dddddddd\n", read(path))
	assert.Equal(t, "cccccccc\n", read(path+".1"))
	assert.Equal(t, "bbbbbbbb\n", read(path+".2"))
	assert.NoFileExists(t, path+".3")
}

func TestRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

func TestFindLogFile(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "x.log")
	require.NoError(t, os.WriteFile(existing, nil, 0o644))

	got, err := FindLogFile(existing)
	require.NoError(t, err)
	assert.Equal(t, existing, got)

	_, err = FindLogFile(existing + ".missing")
	assert.Error(t, err)
}

const sampleLog = `{"time":"2026-03-01T10:00:00.000Z","level":"DEBUG","msg":"embedder_ready","model":"static-hash-256"}
{"time":"2026-03-01T10:00:01.000Z","level":"INFO","msg":"snapshot_loaded","chunks":42}
not json at all
{"time":"2026-03-01T10:00:02.000Z","level":"WARN","msg":"source_failed","source":"embedding","reason":"timeout"}
{"time":"2026-03-01T10:00:03.000Z","level":"ERROR","msg":"snapshot_reload_failed"}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))
	return path
}

func TestViewer_Tail(t *testing.T) {
	path := writeSample(t)

	tests := []struct {
		name string
		cfg  ViewerConfig
		n    int
		want []string
	}{
		{name: "all", n: 100, want: []string{"embedder_ready", "snapshot_loaded", "", "source_failed", "snapshot_reload_failed"}},
		{name: "last two", n: 2, want: []string{"source_failed", "snapshot_reload_failed"}},
		{name: "warn and above", cfg: ViewerConfig{Level: "warn"}, n: 100, want: []string{"", "source_failed", "snapshot_reload_failed"}},
		{name: "pattern", cfg: ViewerConfig{Pattern: regexp.MustCompile(`snapshot_`)}, n: 100, want: []string{"snapshot_loaded", "snapshot_reload_failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := NewViewer(tt.cfg, nil).Tail(path, tt.n)
			require.NoError(t, err)

			var msgs []string
			for _, e := range entries {
				msgs = append(msgs, e.Msg)
			}
			assert.Equal(t, tt.want, msgs)
		})
	}
}

func TestViewer_Format(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, nil)
	e := ParseLine(`{"time":"2026-03-01T10:00:02.5Z","level":"WARN","msg":"source_failed","source":"embedding","reason":"timeout"}`)

	assert.Equal(t, "10:00:02.500 WARN  source_failed reason=timeout source=embedding", v.Format(e))
	assert.Equal(t, "not json", v.Format(ParseLine("not json")))
}

func TestViewer_Print(t *testing.T) {
	var buf bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &buf)

	v.Print([]Entry{ParseLine(`{"time":"2026-03-01T10:00:00Z","level":"INFO","msg":"index_complete"}`)})

	assert.Equal(t, "10:00:00.000 INFO  index_complete\n", buf.String())
}

func TestViewer_Follow(t *testing.T) {
	// Given: a follower on an existing log
	path := writeSample(t)
	v := NewViewer(ViewerConfig{Level: "info"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan Entry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()
	time.Sleep(150 * time.Millisecond)

	// When: new lines are appended
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-03-01T10:01:00Z","level":"DEBUG","msg":"hidden"}` + "\n" +
		`{"time":"2026-03-01T10:01:01Z","level":"INFO","msg":"index_complete"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Then: only new, matching entries arrive
	select {
	case e := <-entries:
		assert.Equal(t, "index_complete", e.Msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no entry followed")
	}
	cancel()
	assert.NoError(t, <-done)
}
