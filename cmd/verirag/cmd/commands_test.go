package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/verirag/internal/config"
)

// indexedProject returns a project directory with the corpus imported.
func indexedProject(t *testing.T, extra ...string) string {
	t.Helper()
	isolate(t)
	dir, src := writeCorpus(t)

	out, err := runCLI(t, append([]string{"-C", dir, "index", src}, extra...)...)

	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 5 chunks")
	return dir
}

func TestIndexCmd_JSONSummary(t *testing.T) {
	isolate(t)
	dir, src := writeCorpus(t)

	out, err := runCLI(t, "-C", dir, "index", src, "--json")

	require.NoError(t, err)
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.EqualValues(t, 5, result["chunks"])
	assert.EqualValues(t, 5, result["vectors"])
	assert.FileExists(t, filepath.Join(dir, config.DefaultDataDir, "snapshot.db"))
}

func TestIndexCmd_NoVectors(t *testing.T) {
	dir := indexedProject(t, "--no-vectors")

	out, err := runCLI(t, "-C", dir, "status", "--json")

	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.EqualValues(t, 0, st["vectors"])
}

func TestIndexCmd_MissingFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	_, err := runCLI(t, "-C", dir, "index", filepath.Join(dir, "missing.jsonl"))

	assert.Error(t, err)
}

func TestSearchCmd(t *testing.T) {
	// Given: an indexed project
	dir := indexedProject(t)

	// When: searching for a header term
	out, err := runCLI(t, "-C", dir, "search", "TLP", "header", "--explain")

	// Then: the header section is listed with its provenance
	require.NoError(t, err)
	assert.Contains(t, out, `results for "TLP header"`)
	assert.Contains(t, out, "c21")
	assert.Contains(t, out, "fused=")
}

func TestSearchCmd_CategoryAndSources(t *testing.T) {
	dir := indexedProject(t)

	out, err := runCLI(t, "-C", dir, "search", "tlp_rx", "--category", "verilog", "--sources", "bm25", "--json")

	require.NoError(t, err)
	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "verilog", r["category"])
	}
}

func TestSearchCmd_UnknownSource(t *testing.T) {
	dir := indexedProject(t)

	_, err := runCLI(t, "-C", dir, "search", "tlp", "--sources", "grep")

	assert.Error(t, err)
}

func TestSearchCmd_NoIndex(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "-C", t.TempDir(), "search", "tlp")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index snapshot")
}

func TestGraphCmd_SectionHierarchy(t *testing.T) {
	// Given: an indexed project
	dir := indexedProject(t)

	// When: walking the hierarchy from section 2
	out, err := runCLI(t, "-C", dir, "graph", "2", "--hops", "2", "--edge-types", "hierarchy")

	// Then: 2.1 is one hop away and 2.1.1 two hops
	require.NoError(t, err)
	assert.Contains(t, out, "2 nodes related to spec_c2")
	assert.Contains(t, out, "[1] spec_c21  TLP Header")
	assert.Contains(t, out, "[2] spec_c211  Fmt Field")
}

func TestGraphCmd_JSON(t *testing.T) {
	dir := indexedProject(t)

	out, err := runCLI(t, "-C", dir, "graph", "spec_c3", "--hops", "1", "--json")

	require.NoError(t, err)
	var related []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &related))
	require.Len(t, related, 1)
	assert.Equal(t, "spec_c2", related[0]["node_id"])
	assert.Equal(t, "cross_ref", related[0]["path"])
}

func TestGraphCmd_Errors(t *testing.T) {
	dir := indexedProject(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown node", []string{"graph", "9.9"}},
		{"unknown edge type", []string{"graph", "2", "--edge-types", "sibling"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, append([]string{"-C", dir}, tt.args...)...)
			assert.Error(t, err)
		})
	}
}

func TestDecideCmd_BlankQueryIsRejected(t *testing.T) {
	dir := indexedProject(t)

	out, err := runCLI(t, "-C", dir, "decide", " ", "--json")

	require.NoError(t, err)
	var d map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, false, d["use"])
	assert.Equal(t, "empty_query", d["tier"])
	assert.Empty(t, d["results"])
}

func TestDecideCmd_NoResults(t *testing.T) {
	// Given: a lexical + graph snapshot, where unmatched terms find nothing
	dir := indexedProject(t, "--no-vectors")

	// When: deciding on a query no chunk contains
	out, err := runCLI(t, "-C", dir, "decide", "zzzqqq", "--no-judge")

	// Then: the gate rejects without context
	require.NoError(t, err)
	assert.Contains(t, out, "REJECT  tier=no_results")
}

func TestDecideCmd_UseCarriesContext(t *testing.T) {
	// Given: a gate that uses anything scoring above zero
	dir := indexedProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectConfigName),
		[]byte("gate:\n  high_threshold: 0.01\n  low_threshold: 0.005\n"), 0o644))

	// When: deciding on a query with lexical hits
	out, err := runCLI(t, "-C", dir, "decide", "TLP header", "--json")

	// Then: the decision is high tier and the context is rendered
	require.NoError(t, err)
	var d map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, true, d["use"])
	assert.Equal(t, "high", d["tier"])
	assert.Contains(t, d["context"], "[1] ")
}

func TestStatusCmd(t *testing.T) {
	dir := indexedProject(t)

	out, err := runCLI(t, "-C", dir, "status")

	require.NoError(t, err)
	assert.Contains(t, out, "verirag index")
	assert.Contains(t, out, "5")
	assert.Contains(t, out, "4 nodes")
}

func TestStatusCmd_NoIndex(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "-C", t.TempDir(), "status")

	require.NoError(t, err)
	assert.Contains(t, out, "No index found")
}

func TestConfigInit_WritesProjectConfig(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	out, err := runCLI(t, "-C", dir, "config", "init")

	require.NoError(t, err)
	assert.Contains(t, out, "Wrote configuration")
	data, err := os.ReadFile(filepath.Join(dir, config.ProjectConfigName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# verirag project configuration")
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Gate.TopK, cfg.Gate.TopK)
}

func TestConfigInit_User(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "config", "init", "--user")

	require.NoError(t, err)
	assert.Contains(t, out, config.GetUserConfigPath())
	data, err := os.ReadFile(config.GetUserConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "# verirag user configuration")
}

func TestConfigInit_ExistingNeedsForce(t *testing.T) {
	// Given: a project config with a custom setting
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, config.ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte("gate:\n  top_k: 7\n"), 0o644))

	// When: init runs without --force
	out, err := runCLI(t, "-C", dir, "config", "init")

	// Then: nothing changes
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gate:\n  top_k: 7\n", string(data))

	// When: init runs with --force
	out, err = runCLI(t, "-C", dir, "config", "init", "--force")

	// Then: a backup is kept and the custom setting survives the upgrade
	require.NoError(t, err)
	assert.Contains(t, out, "Backup:")
	backups, err := config.ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Gate.TopK)
	assert.Equal(t, config.NewConfig().Retrieval.RRFConstant, cfg.Retrieval.RRFConstant)
}

func TestConfigShow(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"merged yaml", []string{"config", "show"}, "high_threshold:"},
		{"defaults json", []string{"config", "show", "--source", "defaults", "--json"}, `"rrf_constant": 60`},
		{"missing user config", []string{"config", "show", "--source", "user"}, "No user configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append([]string{"-C", dir}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestConfigShow_UnknownSource(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "-C", t.TempDir(), "config", "show", "--source", "env")

	assert.Error(t, err)
}

func TestLogsCmd(t *testing.T) {
	isolate(t)
	logFile := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, os.WriteFile(logFile, []byte(
		`{"time":"2026-01-02T03:04:05Z","level":"INFO","msg":"serve_started","transport":"stdio"}`+"\n"+
			`{"time":"2026-01-02T03:04:06Z","level":"ERROR","msg":"watch_failed","error":"boom"}`+"\n"), 0o644))

	out, err := runCLI(t, "logs", "--file", logFile, "--level", "error", "--no-color")

	require.NoError(t, err)
	assert.Contains(t, out, "watch_failed")
	assert.NotContains(t, out, "serve_started")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "logs")

	assert.Error(t, err)
}

func TestServeCmd_Flags(t *testing.T) {
	serveCmd, _, err := NewRootCmd().Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"transport", "watch", "source", "metrics-addr"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), "missing --%s", name)
	}
	assert.Equal(t, "stdio", serveCmd.Flags().Lookup("transport").DefValue)
}

func TestDoctorCmd(t *testing.T) {
	dir := indexedProject(t)

	out, err := runCLI(t, "-C", dir, "doctor", "--json")

	require.NoError(t, err)
	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEqual(t, "failed", report.Status)
	statuses := map[string]string{}
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, "pass", statuses["snapshot"])
	assert.Equal(t, "pass", statuses["embedder"])
	assert.NotContains(t, statuses, "judge")
}
