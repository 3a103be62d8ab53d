package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// maxChunkLine bounds a single JSONL record; large spec tables fit easily.
const maxChunkLine = 16 << 20

// ReadChunksJSONL decodes one chunk per line. Blank lines are skipped.
// Duplicate ids and invalid chunks fail the whole read with the line number.
func ReadChunksJSONL(r io.Reader) ([]*Chunk, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxChunkLine)

	seen := make(map[string]int)
	var chunks []*Chunk
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var c Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if first, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("line %d: duplicate chunk id %q (first seen on line %d)", line, c.ID, first)
		}
		seen[c.ID] = line
		chunks = append(chunks, &c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	return chunks, nil
}

// LoadChunksFile reads a JSONL chunk file from disk.
func LoadChunksFile(path string) ([]*Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	chunks, err := ReadChunksJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return chunks, nil
}

// WriteChunksJSONL encodes chunks one per line.
func WriteChunksJSONL(w io.Writer, chunks []*Chunk) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encode chunk %s: %w", c.ID, err)
		}
	}
	return nil
}
