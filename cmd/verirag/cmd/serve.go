package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/verirag/internal/async"
	"github.com/Aman-CERP/verirag/internal/config"
	"github.com/Aman-CERP/verirag/internal/gate"
	"github.com/Aman-CERP/verirag/internal/index"
	"github.com/Aman-CERP/verirag/internal/judge"
	"github.com/Aman-CERP/verirag/internal/logging"
	"github.com/Aman-CERP/verirag/internal/mcp"
	"github.com/Aman-CERP/verirag/internal/telemetry"
	"github.com/Aman-CERP/verirag/internal/watcher"
)

type serveOptions struct {
	transport   string
	watch       bool
	source      string
	metricsAddr string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval tools over MCP",
		Long: `Start the MCP server on stdio with the hybrid_search, smart_decide,
graph_related and index_status tools.

stdout carries JSON-RPC only; logs go to ~/.verirag/logs/server.log
(view them with 'verirag logs -f').

With --watch the server follows the snapshot directory and, when
--source is given, re-imports the chunk export whenever it changes. New
snapshots are swapped in atomically; in-flight queries finish on the
old one.`,
		Example: `  verirag serve
  verirag serve --watch --source build/chunks.jsonl
  verirag serve --metrics-addr 127.0.0.1:9464`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport protocol (stdio)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload the snapshot when it changes on disk")
	cmd.Flags().StringVar(&opts.source, "source", "", "Chunk JSONL to re-import on change (implies --watch)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address (default: server.metrics_addr)")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	cleanup, err := logging.SetupServe(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	if opts.transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embedder, err := newEmbedder(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeEmbedder(embedder)

	metrics := telemetry.NewMetrics()
	builder, err := index.NewBuilder(cfg.IndexOptions(), embedder, metrics)
	if err != nil {
		return err
	}
	manager := index.NewManager(builder, index.WithRetireDelay(cfg.RetireDelay()))
	defer func() { _ = manager.Close() }()

	importer := loadInitialSnapshot(ctx, manager, opts.source)
	if importer != nil {
		defer importer.Stop()
	}

	g, err := gate.New(cfg.GateConfig(), gate.WithMetrics(metrics))
	if err != nil {
		return err
	}
	var judgeFn gate.JudgeFunc
	if cfg.JudgeEnabled() {
		judgeFn = judge.New(cfg.JudgeConfig()).Func()
	}

	srv, err := mcp.NewServer(manager, g, judgeFn, cfg)
	if err != nil {
		return err
	}
	srv.SetMetrics(metrics)
	if importer != nil {
		srv.SetImportProgress(importer.Progress())
	}

	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.Server.MetricsAddr
	}
	if addr != "" {
		if err := startMetricsServer(ctx, addr, metrics); err != nil {
			return err
		}
	}

	if opts.watch || opts.source != "" {
		startReloader(ctx, cfg, manager, opts.source)
	}

	slog.Info("serve_started",
		slog.String("transport", opts.transport),
		slog.String("data_dir", cfg.DataDir()),
		slog.Bool("watch", opts.watch || opts.source != ""),
		slog.Bool("judge", judgeFn != nil))
	return srv.Serve(ctx, opts.transport)
}

// loadInitialSnapshot loads the existing snapshot. When there is none and
// source is set, it starts a background import and returns it. The server
// starts either way; tools report a missing index until one appears.
func loadInitialSnapshot(ctx context.Context, manager *index.Manager, source string) *async.Importer {
	err := manager.Reload(ctx)
	if err == nil {
		return nil
	}
	if source == "" {
		slog.Warn("serve_without_index", slog.String("error", err.Error()))
		return nil
	}
	im := async.NewImporter(source, rebuildFunc(manager, source))
	im.Start(ctx)
	return im
}

// rebuildFunc imports source through manager, reporting embedding progress.
func rebuildFunc(manager *index.Manager, source string) async.ImportFunc {
	return func(ctx context.Context, p *async.Progress) error {
		var embedding sync.Once
		_, err := manager.RebuildWithProgress(ctx, source, func(done, total int) {
			embedding.Do(func() { p.SetStage(async.StageEmbedding, total) })
			p.Advance(done)
		})
		return err
	}
}

func startReloader(ctx context.Context, cfg *config.Config, manager *index.Manager, source string) {
	w := watcher.NewHybridWatcher(watcher.Options{DebounceWindow: cfg.WatchDebounce()})
	r := watcher.NewReloader(manager, w, cfg.DataDir(), source)
	r.OnSwap = func(reason string) {
		if st, ok := manager.Status(); ok {
			slog.Info("snapshot_swapped",
				slog.String("reason", reason),
				slog.Int("chunks", st.Chunks),
				slog.Int("graph_nodes", st.GraphNodes))
		}
	}
	go func() {
		if err := r.Run(ctx); err != nil {
			slog.Error("watch_failed", slog.String("error", err.Error()))
		}
	}()
}

// startMetricsServer serves /metrics until ctx is done. The listener is
// bound before returning so a bad address fails startup.
func startMetricsServer(ctx context.Context, addr string, metrics *telemetry.Metrics) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("metrics_server_started", slog.String("addr", ln.Addr().String()))
	return nil
}

// verifyStdinForMCP refuses to start the stdio transport on an interactive
// terminal, where nothing would ever send JSON-RPC.
func verifyStdinForMCP() error {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("stdin is a terminal: 'verirag serve' speaks MCP over stdio and must be launched by an MCP client, not run interactively")
	}
	return nil
}
