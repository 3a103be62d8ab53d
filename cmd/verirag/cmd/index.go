package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/verirag/internal/embed"
	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/output"
	"github.com/Aman-CERP/verirag/internal/telemetry"
)

type indexOptions struct {
	noVectors  bool
	jsonOutput bool
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <chunks.jsonl>",
		Short: "Build the retrieval snapshot from a chunk export",
		Long: `Import a JSONL chunk export into the project's snapshot directory.

Each line is one chunk record (id, content, file_path, category,
chunk_type, metadata). Chunks are stored in SQLite, embedded with the
configured provider, and the section graph is built on load.

The import replaces the previous snapshot under an exclusive lock, so a
running 'verirag serve --watch' picks it up without restarting.`,
		Example: `  verirag index build/chunks.jsonl
  verirag index chunks.jsonl --no-vectors
  verirag index chunks.jsonl --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, root, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noVectors, "no-vectors", false, "Skip embeddings (lexical + graph retrieval only)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the import summary as JSON")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, opts indexOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	var embedder embed.Embedder
	if !opts.noVectors {
		embedder, err = newEmbedder(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer closeEmbedder(embedder)
	}

	builder, err := index.NewBuilder(cfg.IndexOptions(), embedder, telemetry.NewMetrics())
	if err != nil {
		return err
	}

	slog.Info("index_started", slog.String("source", path), slog.Bool("vectors", embedder != nil))
	result, err := builder.Import(ctx, path)
	if err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("Indexed %d chunks from %s in %s", result.Chunks, result.Source, result.Duration.Round(time.Millisecond))
	if result.Vectors > 0 {
		out.Statusf("→", "%d vectors (%s)", result.Vectors, result.Model)
	} else {
		out.Warningf("No vectors stored; embedding retrieval is disabled for this snapshot")
	}
	out.Statusf("→", "Snapshot: %s", cfg.DataDir())
	return nil
}
