// Package integration exercises the full retrieval path: chunk export,
// snapshot import, hybrid search, the confidence gate and the MCP tools.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/embed"
	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/store"
)

func section(id, sectionID, title, content string, refs ...string) *store.Chunk {
	meta := map[string]any{store.MetaSectionID: sectionID, store.MetaSectionTitle: title}
	if len(refs) > 0 {
		meta[store.MetaCrossRefs] = refs
	}
	return &store.Chunk{ID: id, Category: store.CategorySpec, ChunkType: "section", Content: content, FilePath: "pcie.md", Metadata: meta}
}

func corpus() []*store.Chunk {
	return []*store.Chunk{
		section("c2", "2", "Transaction Layer", "The Transaction Layer assembles and disassembles TLPs."),
		section("c21", "2.1", "TLP Header", "Every TLP starts with a header describing format and type."),
		section("c211", "2.1.1", "Fmt Field", "The fmt field encodes header length and data presence."),
		section("c3", "3", "Data Link Layer", "The Data Link Layer uses credit based flow control and DLLPs.", "2"),
		{ID: "v1", Category: store.CategoryVerilog, ChunkType: "module", Content: "module tlp_rx(input clk); endmodule", FilePath: "rtl/tlp_rx.v"},
	}
}

func writeChunks(t *testing.T, path string, chunks []*store.Chunk) {
	t.Helper()
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	require.NoError(t, err)
	require.NoError(t, store.WriteChunksJSONL(f, chunks))
	require.NoError(t, f.Close())
	require.NoError(t, os.Rename(tmp, path))
}

// env is an imported corpus behind a Manager.
type env struct {
	dataDir string
	source  string
	manager *index.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dataDir: filepath.Join(dir, "data"),
		source:  filepath.Join(dir, "chunks.jsonl"),
	}
	writeChunks(t, e.source, corpus())

	b, err := index.NewBuilder(index.DefaultOptions(e.dataDir), embed.NewStaticEmbedder(), nil)
	require.NoError(t, err)
	e.manager = index.NewManager(b, index.WithRetireDelay(0))
	t.Cleanup(func() { _ = e.manager.Close() })

	_, err = e.manager.Rebuild(context.Background(), e.source)
	require.NoError(t, err)
	return e
}
