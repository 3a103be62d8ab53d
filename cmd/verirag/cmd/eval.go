package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/judge"
	"github.com/Aman-CERP/verirag/internal/output"
	"github.com/Aman-CERP/verirag/internal/search"
	"github.com/Aman-CERP/verirag/internal/validation"
)

type evalOptions struct {
	k          int
	noJudge    bool
	jsonOutput bool
	verbose    bool
}

func newEvalCmd(root *rootOptions) *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "eval <queries.yaml>",
		Short: "Measure retrieval quality against a labelled query suite",
		Long: `Run a YAML query suite against the index and report recall@k, MRR and
gate agreement. Retrieval entries list the chunk ids a query should find,
gate entries the verdict it should get, and negative entries only need to
complete without an error.

Exits non-zero when any query fails.`,
		Example: `  verirag eval testdata/queries.yaml
  verirag eval queries.yaml -k 10 --no-judge --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.Context(), cmd, root, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "top-k", "k", 0, "Rank cutoff (default: the suite's k)")
	cmd.Flags().BoolVar(&opts.noJudge, "no-judge", false, "Never consult the judge for gate entries")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the report as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "List every query, not just failures")

	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, opts evalOptions) error {
	suite, err := validation.LoadSuite(path)
	if err != nil {
		return err
	}
	if opts.k > 0 {
		suite.K = opts.k
	}

	sess, err := root.openSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	g, err := gate.New(sess.cfg.GateConfig(), gate.WithMetrics(sess.metrics))
	if err != nil {
		return err
	}
	var judgeFn gate.JudgeFunc
	if sess.cfg.JudgeEnabled() && !opts.noJudge {
		judgeFn = judge.New(sess.cfg.JudgeConfig()).Func()
	}

	base := search.DefaultOptions()
	base.GraphHops = sess.cfg.Retrieval.GraphHops
	decide := func(ctx context.Context, q string) (gate.Decision, error) {
		return g.Decide(ctx, q, g.SearchFor(sess.snap, base), judgeFn)
	}

	v := validation.New(sess.snap, validation.WithSearchOptions(base), validation.WithDecider(decide))
	report, err := v.Run(ctx, suite)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(output.New(cmd.OutOrStdout()), report, opts.verbose)
	}
	if !report.Passed() {
		return fmt.Errorf("%d of %d queries failed", failedCount(report), totalCount(report))
	}
	return nil
}

func printReport(w *output.Writer, r *validation.Report, verbose bool) {
	w.Statusf("→", "Retrieval: %d/%d within top %d  recall@%d=%.3f  mrr=%.3f",
		r.RetrievalPass, len(r.Retrieval), r.K, r.K, r.MeanRecall, r.MRR)
	for _, q := range r.Retrieval {
		switch {
		case q.Error != "":
			w.Errorf("%s %q: %s", q.ID, q.Query, q.Error)
		case !q.Passed:
			w.Errorf("%s %q: got [%s]", q.ID, q.Query, strings.Join(q.TopResults, " "))
		case verbose:
			w.Successf("%s %q: rank %d", q.ID, q.Query, q.MatchedAt)
		}
	}

	if r.GateSkipped {
		w.Warningf("Gate: skipped")
	} else if len(r.Gate) > 0 {
		w.Statusf("→", "Gate: %d/%d verdicts as expected", r.GatePass, len(r.Gate))
		for _, g := range r.Gate {
			switch {
			case g.Error != "":
				w.Errorf("%s %q: %s", g.ID, g.Query, g.Error)
			case !g.Passed:
				w.Errorf("%s %q: use=%t want %t (tier=%s top_score=%.3f)", g.ID, g.Query, g.Use, g.WantUse, g.Tier, g.TopScore)
			case verbose:
				w.Successf("%s %q: tier=%s", g.ID, g.Query, g.Tier)
			}
		}
	}

	if len(r.Negative) > 0 {
		w.Statusf("→", "Negative: %d/%d completed", r.NegativePass, len(r.Negative))
		for _, q := range r.Negative {
			if !q.Passed {
				w.Errorf("%s %q: %s", q.ID, q.Query, q.Error)
			}
		}
	}

	if r.Passed() {
		w.Successf("All %d queries passed", totalCount(r))
	}
}

func totalCount(r *validation.Report) int {
	return len(r.Retrieval) + len(r.Gate) + len(r.Negative)
}

func failedCount(r *validation.Report) int {
	return totalCount(r) - r.RetrievalPass - r.GatePass - r.NegativePass
}
