// Package cmd provides the CLI commands for verirag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/verirag/internal/config"
	"github.com/Aman-CERP/verirag/internal/embed"
	verrors "github.com/Aman-CERP/verirag/internal/errors"
	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/logging"
	"github.com/Aman-CERP/verirag/internal/profiling"
	"github.com/Aman-CERP/verirag/internal/telemetry"
	"github.com/Aman-CERP/verirag/pkg/version"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	projectDir string
	logLevel   string
	debug      bool
	profile    profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the verirag CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "verirag",
		Short: "Hybrid retrieval over protocol specs and Verilog",
		Long: `verirag fuses BM25, embedding similarity and a section graph into one
ranked result list, and gates whether retrieved context is worth injecting
into an LLM prompt.

Index a chunk export once, then search it from the terminal or serve it to
an MCP client:

  verirag index chunks.jsonl
  verirag search "TLP header format"
  verirag serve --watch --source chunks.jsonl`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("verirag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.projectDir, "project", "C", "", "Project directory (default: nearest directory with .verirag.yaml or .git)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "CLI log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.verirag/logs/")

	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		if err := opts.startLogging(c); err != nil {
			return err
		}
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		err := opts.stopProfiling()
		opts.stopLogging()
		return err
	}

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newDecideCmd(opts))
	cmd.AddCommand(newGraphCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newEvalCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure with its hint and
// error code.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), verrors.FormatForCLI(err))
	}
	return err
}

// startLogging installs the CLI logger. serve installs its own file-only
// logger because stdout and stderr belong to the MCP client.
func (o *rootOptions) startLogging(cmd *cobra.Command) error {
	if cmd.Name() == "serve" {
		return nil
	}
	if !o.debug {
		logging.SetupCLI(o.logLevel)
		return nil
	}

	cfg := logging.DefaultConfig()
	cfg.Level = "debug"
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug_logging_enabled",
		slog.String("log_file", cfg.FilePath),
		slog.String("version", version.Version))
	return nil
}

func (o *rootOptions) startProfiling() error {
	if !o.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return err
	}
	o.profiler = s
	return nil
}

func (o *rootOptions) stopProfiling() error {
	if o.profiler == nil {
		return nil
	}
	err := o.profiler.Stop()
	o.profiler = nil
	if err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

func (o *rootOptions) stopLogging() {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}

// root returns the project directory the command operates on.
func (o *rootOptions) root() string {
	if o.projectDir != "" {
		return o.projectDir
	}
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return root
}

// loadConfig loads the layered configuration for the project directory.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.root())
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.Server.LogLevel = "debug"
	}
	return cfg, nil
}

// newEmbedder builds the configured embedder. When required is false an
// unavailable embedder degrades to lexical + graph retrieval with a warning.
func newEmbedder(ctx context.Context, cfg *config.Config, required bool) (embed.Embedder, error) {
	embedder, err := embed.NewEmbedder(ctx, cfg.EmbedConfig())
	if err == nil {
		return embedder, nil
	}
	if required {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	slog.Warn("embedder_unavailable",
		slog.String("provider", cfg.Embedding.Provider),
		slog.String("error", err.Error()))
	return nil, nil
}

// session is an opened snapshot with the collaborators that produced it.
type session struct {
	cfg      *config.Config
	builder  *index.Builder
	snap     *index.Snapshot
	embedder embed.Embedder
	metrics  *telemetry.Metrics
}

// openSession loads the configuration and the current snapshot for
// read-only commands.
func (o *rootOptions) openSession(ctx context.Context) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	metrics := telemetry.NewMetrics()
	builder, err := index.NewBuilder(cfg.IndexOptions(), embedder, metrics)
	if err != nil {
		closeEmbedder(embedder)
		return nil, err
	}
	snap, err := builder.Load(ctx)
	if err != nil {
		closeEmbedder(embedder)
		return nil, err
	}
	return &session{cfg: cfg, builder: builder, snap: snap, embedder: embedder, metrics: metrics}, nil
}

func (s *session) Close() {
	_ = s.snap.Close()
	closeEmbedder(s.embedder)
}

func closeEmbedder(e embed.Embedder) {
	if e != nil {
		_ = e.Close()
	}
}
