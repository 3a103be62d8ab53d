// Package logging configures log/slog for verirag.
//
// CLI commands log human-readable text to stderr. `verirag serve` speaks MCP
// over stdio, so it logs JSON to a rotating file under ~/.verirag/logs/ and
// never to stdout or stderr. `verirag logs` reads that file back.
package logging
