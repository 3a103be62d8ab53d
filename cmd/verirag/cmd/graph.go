package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/graph"
	"github.com/Aman-CERP/verirag/internal/output"
)

type graphOptions struct {
	hops       int
	edgeTypes  []string
	jsonOutput bool
}

func newGraphCmd(root *rootOptions) *cobra.Command {
	var opts graphOptions

	cmd := &cobra.Command{
		Use:   "graph <node>",
		Short: "List sections related to a node in the document graph",
		Long: `Walk the section graph breadth-first from a node and list every node
reached within --hops, with the edge path that reached it.

The node may be a graph node id (spec_<chunk id>), a chunk id, or a
section number such as 2.1.1.`,
		Example: `  verirag graph 2
  verirag graph 2.1 --hops 1 --edge-types hierarchy
  verirag graph spec_c21 --edge-types cross_ref,child_of --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd.Context(), cmd, root, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.hops, "hops", 0, "Traversal depth (default: retrieval.graph_hops)")
	cmd.Flags().StringSliceVar(&opts.edgeTypes, "edge-types", nil, "Edge types to follow: hierarchy, child_of, cross_ref, contains (default: all)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output related nodes as JSON")

	return cmd
}

func runGraph(ctx context.Context, cmd *cobra.Command, root *rootOptions, ref string, opts graphOptions) error {
	types, err := graph.ParseEdgeTypes(opts.edgeTypes)
	if err != nil {
		return verrors.ValidationError(err.Error(), err)
	}

	sess, err := root.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	g := sess.snap.Graph
	start, ok := g.Resolve(ref)
	if !ok {
		return verrors.ValidationError(fmt.Sprintf("no graph node matches %q", ref), nil).
			WithSuggestion("Use a section number (e.g. 2.1), a chunk id, or a spec_<chunk id> node id")
	}

	hops := opts.hops
	if hops <= 0 {
		hops = sess.cfg.Retrieval.GraphHops
	}
	related := g.TraverseRelated(start, hops, types...)

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(related)
	}
	output.New(cmd.OutOrStdout()).Related(start, related, func(id string) string {
		if n, ok := g.Node(id); ok {
			return n.Title
		}
		return ""
	})
	return nil
}
