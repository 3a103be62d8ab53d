package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/verirag/internal/embed"
	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/judge"
	"github.com/Aman-CERP/verirag/internal/preflight"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment, snapshot and model services",
		Long: `Run the system checks: snapshot directory access and free space, the
snapshot's graph and consistency diagnostics, the embedding provider and,
when gate.judge is set, the relevance judge.

Exits non-zero only when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, root, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, root *rootOptions, verbose, jsonOutput bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	embedder, embedErr := embed.NewEmbedder(ctx, cfg.EmbedConfig())
	if embedErr == nil {
		defer closeEmbedder(embedder)
	}
	target := preflight.Target{
		DataDir:     cfg.DataDir(),
		Provider:    cfg.Embedding.Provider,
		Embedder:    embedder,
		EmbedderErr: embedErr,
	}
	builder, err := index.NewBuilder(cfg.IndexOptions(), embedder, nil)
	if err != nil {
		return err
	}
	target.Snapshot = builder
	if cfg.JudgeEnabled() {
		target.Judge = judge.New(cfg.JudgeConfig()).Func()
	}

	checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()), preflight.WithVerbose(verbose))
	results := checker.RunAll(ctx, target)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"status": checker.SummaryStatus(results),
			"checks": results,
		}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	return nil
}
