package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/judge"
	"github.com/Aman-CERP/verirag/internal/output"
	"github.com/Aman-CERP/verirag/internal/search"
)

type decideOptions struct {
	categories []string
	noJudge    bool
	jsonOutput bool
}

func newDecideCmd(root *rootOptions) *cobra.Command {
	var opts decideOptions

	cmd := &cobra.Command{
		Use:   "decide <query>",
		Short: "Decide whether retrieved context should be used",
		Long: `Run the confidence gate: one search with the gate's top_k, then a
verdict from the top hit's score: its cosine similarity when the embedding
source found it, otherwise its fused confidence. Scores at or above
gate.high_threshold are used, scores below gate.low_threshold are
rejected, and the band between asks the configured judge
(gate.judge: ollama) a yes/no question. gate.source: embedding skips
fusion and searches vectors alone.

When the context is used it is printed as it would be injected.`,
		Example: `  verirag decide "what is the max payload size"
  verirag decide "ECRC" --no-judge --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecide(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.categories, "category", nil, "Restrict to chunk categories")
	cmd.Flags().BoolVar(&opts.noJudge, "no-judge", false, "Never consult the judge; the mid band is used as-is")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the decision as JSON")

	return cmd
}

// decisionJSON is the --json shape of a gate decision.
type decisionJSON struct {
	Use         bool                   `json:"use"`
	Tier        gate.Tier              `json:"tier"`
	TopScore    float64                `json:"top_score"`
	JudgeCalled bool                   `json:"judge_called"`
	JudgeReply  string                 `json:"judge_reply,omitempty"`
	Context     string                 `json:"context,omitempty"`
	Results     []*search.SearchResult `json:"results"`
}

func runDecide(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts decideOptions) error {
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

	searchOpts := search.DefaultOptions()
	searchOpts.GraphHops = sess.cfg.Retrieval.GraphHops
	searchOpts.Categories = opts.categories

	d, err := g.Decide(ctx, query, g.SearchFor(sess.snap, searchOpts), judgeFn)
	if err != nil {
		return err
	}

	maxChars := sess.cfg.Gate.MaxContextChars
	if opts.jsonOutput {
		out := decisionJSON{
			Use:         d.Use,
			Tier:        d.Tier,
			TopScore:    d.TopScore,
			JudgeCalled: d.JudgeCalled,
			JudgeReply:  strings.TrimSpace(d.JudgeReply),
			Results:     []*search.SearchResult{},
		}
		for _, h := range d.Results {
			if r := gate.ResultOf(h); r != nil {
				out.Results = append(out.Results, r)
			}
		}
		if d.Use {
			out.Context = gate.FormatContext(d.Results, maxChars)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	output.New(cmd.OutOrStdout()).Decision(d, maxChars)
	return nil
}
