// Butler is a conversational desk assistant backed by tools.
//
// It chats on the console or over websockets, reads and writes notes in
// an Obsidian vault, searches the web, and can take tools from community
// catalogs and MCP servers. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	butler chat              Chat on the console
//	butler serve             Serve websocket sessions and /metrics
//	butler tools             List the active tool catalog
//	butler index             Build the semantic search index of the vault
//	butler init [dir]        Initialize a working directory with defaults
//	butler version           Print version and build information
//	butler -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/butler/examples"
	"github.com/nugget/butler/internal/buildinfo"
	"github.com/nugget/butler/internal/config"
	"github.com/nugget/butler/internal/connwatch"
	"github.com/nugget/butler/internal/embeddings"
	"github.com/nugget/butler/internal/rag"
	"github.com/nugget/butler/internal/session"
	"github.com/nugget/butler/internal/vault"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run], keeping os.Exit and the standard
// streams out of the application logic so it can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the butler command. stdin feeds the
// console chat, stdout receives command output (and server logs), and
// stderr receives chat logs so they stay out of the conversation.
//
// Arguments are parsed by hand: the flag package relies on package-level
// globals, which keeps run from being called concurrently in tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath)
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, outputFmt)
	case "index":
		return runIndex(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Butler - a tool-using desk assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: butler [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Chat on the console")
	fmt.Fprintln(w, "  serve        Serve websocket sessions on /ws and metrics on /metrics")
	fmt.Fprintln(w, "  tools        List the active tool catalog")
	fmt.Fprintln(w, "  index        Build the semantic search index of the vault")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/butler/config.yaml, /etc/butler/config.yaml")
	return nil
}

// runChat runs one console session until the user leaves, the session
// idles out, or stdin closes.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	src := session.NewConsoleSource(stdin, stdout, "> ")
	reason, err := a.controller(greeting(cfg)).Run(ctx, src)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(stdout)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("chat ended", "reason", reason)
	return nil
}

// greeting is the line the console chat opens with.
func greeting(cfg *config.Config) string {
	return fmt.Sprintf("Hello! I'm your butler %s. How can I assist you today?", cfg.Assistant.Name)
}

// runServe serves one session per websocket connection on /ws, plus
// Prometheus metrics on /metrics and a health check on /health, until
// the context is canceled or a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := setup(stdout, configPath)
	if err != nil {
		return err
	}
	logger.Info("starting Butler", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(ctx, cfg, promReg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	conns := connwatch.NewManager(logger.With("component", "connwatch"))
	a.watchDependencies(ctx, conns)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", session.NewHandler(ctx, a.controller(""), logger.With("component", "websocket")))
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		status := "ok"
		if !conns.Ready() {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":       status,
			"version":      buildinfo.Version,
			"uptime":       buildinfo.Uptime().String(),
			"tools":        a.registry.Len(),
			"dependencies": conns.Status(),
		})
	})

	addr := net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	return nil
}

// runTools builds the tool catalog exactly as a session would and
// prints it, sorted by name.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	type toolInfo struct {
		Name        string `json:"name"`
		Source      string `json:"source"`
		Description string `json:"description"`
	}
	var list []toolInfo
	for _, name := range a.registry.SortedNames() {
		d, _ := a.registry.Lookup(name)
		list = append(list, toolInfo{Name: d.Name, Source: d.Source, Description: d.Description()})
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Source, t.Description)
	}
	return tw.Flush()
}

// runIndex rebuilds the semantic search index from the vault notes.
func runIndex(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	v, err := vault.Open(cfg.Vault, logger)
	if err != nil {
		return err
	}
	gen, err := embeddings.New(cfg, logger)
	if err != nil {
		return err
	}
	store, err := rag.Create(cfg.RAG.IndexPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ix := rag.NewIndexer(v.Root(), store, gen, rag.IndexConfig{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		ExcludeNames: []string{cfg.Audit.File},
		Model:        cfg.Embeddings.Model,
	}, logger)

	stats, err := ix.Build(ctx)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	fmt.Fprintf(stdout, "Indexed %d chunks from %d notes into %s in %s\n",
		stats.Chunks, stats.Notes, cfg.RAG.IndexPath, stats.Elapsed.Round(time.Millisecond))
	return nil
}

// runInit writes the example config and persona into dir. Existing files
// are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Butler workspace in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	for _, f := range []struct {
		name    string
		content []byte
	}{
		{"config.yaml", examples.ConfigYAML},
		{"persona.md", examples.PersonaMD},
	} {
		path := filepath.Join(dir, f.name)
		if err := writeIfMissing(path, f.content); err != nil {
			return err
		}
		fmt.Fprintf(w, "  ✓ %s\n", path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and persona.md to customize your installation.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// setup loads and validates the config and builds the logger it asks
// for, writing to w.
func setup(w io.Writer, explicit string) (*config.Config, *slog.Logger, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	if p := cfg.Assistant.PersonaFile; p != "" && !filepath.IsAbs(p) {
		cfg.Assistant.PersonaFile = filepath.Join(filepath.Dir(cfgPath), p)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(w, level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath)
	return cfg, logger, nil
}
