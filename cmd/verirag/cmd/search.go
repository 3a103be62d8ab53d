package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/verirag/internal/output"
	"github.com/Aman-CERP/verirag/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	categories []string
	sources    []string
	hops       int
	explain    bool
	jsonOutput bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search over the snapshot",
		Long: `Search the snapshot with BM25, embedding similarity and graph
expansion, fused into one ranked list.

Use --sources to run a subset of the sources and --explain to see each
result's per-source contribution.`,
		Example: `  verirag search "TLP header format"
  verirag search "credit update" --category verilog --limit 5
  verirag search "flow control" --sources bm25,graph --explain`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringSliceVar(&opts.categories, "category", nil, "Restrict to chunk categories (repeatable, e.g. spec, verilog)")
	cmd.Flags().StringSliceVar(&opts.sources, "sources", nil, "Sources to run: embedding, bm25, graph (default: all)")
	cmd.Flags().IntVar(&opts.hops, "hops", 0, "Graph expansion depth (default: retrieval.graph_hops)")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show per-source contributions and raw scores")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	sess, err := root.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	searchOpts, err := opts.toSearchOptions(sess.cfg.Retrieval.GraphHops)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := sess.snap.HybridSearch(ctx, query, searchOpts)
	if err != nil {
		return err
	}
	sess.metrics.ObserveSearch(query, len(results), time.Since(start))
	slog.Info("search_complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	output.New(cmd.OutOrStdout()).Results(query, results, opts.explain)
	return nil
}

func (o searchOptions) toSearchOptions(defaultHops int) (search.Options, error) {
	so := search.DefaultOptions()
	so.Limit = o.limit
	so.GraphHops = defaultHops
	if o.hops > 0 {
		so.GraphHops = o.hops
	}
	so.Categories = o.categories
	return so.WithSources(o.sources)
}
