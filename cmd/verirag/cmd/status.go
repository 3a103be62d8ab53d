package cmd

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/output"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the snapshot summary and graph diagnostics",
		Long: `Show what the current snapshot holds: chunk and vector counts, the
lexical and vector backends, graph size, rejected edges and unresolved
cross-references, and the consistency check between chunks and vectors.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, root, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, root *rootOptions, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	sess, err := root.openSession(ctx)
	if errors.Is(err, index.ErrNoSnapshot) {
		out.Warningf("No index found")
		out.Statusf("→", "Run 'verirag index <chunks.jsonl>' to build one")
		return nil
	}
	if err != nil {
		return err
	}
	defer sess.Close()

	st := sess.snap.Status()
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	out.IndexStatus(st)
	return nil
}
