// Package main is the soudan CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/hyperjump/soudan/internal/cli"
	"github.com/hyperjump/soudan/internal/config"
	"github.com/hyperjump/soudan/internal/consultation"
	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/llm"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/server"
	"github.com/hyperjump/soudan/internal/storage"
	"github.com/hyperjump/soudan/internal/watcher"
	"github.com/hyperjump/soudan/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/soudan/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, a config.yaml in the current
// directory takes precedence, so running from a checkout uses the checkout's config.
// Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				cfg, err := config.Load(local)
				if err != nil {
					return nil, "", err
				}
				return cfg, local, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch command := os.Args[1]; command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "ask":
		runAsk()
	case "index":
		runIndex()
	case "delete":
		runDelete()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("soudan version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// openLocal loads config and initializes the stack for a one-shot command.
func openLocal(configPath string, set componentSet) (*config.Config, *zap.Logger, *Components) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewCommandLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(context.Background(), cfg, logger, set)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("session_backend", cfg.Storage.SessionBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, componentSet{consult: true, restore: true})
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	for _, d := range components.Domains.List() {
		if err := components.Engine.Warmup(ctx, d.WarmupQuery); err != nil {
			logger.Warn("warmup failed", zap.String("domain", d.ID), zap.Error(err))
		}
	}

	idx := components.Indexer
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(ctx context.Context, b watcher.Batch) {
			if len(b.Changed) > 0 {
				stats, err := idx.IndexFiles(ctx, b.Changed, b.Roots)
				if err != nil {
					logger.Warn("watch ingestion run failed", zap.Error(err))
				} else {
					logger.Info("watch ingestion run",
						zap.Int("indexed", stats.Indexed),
						zap.Int("unchanged", stats.Unchanged),
						zap.Int("sub_chunks", stats.SubChunks))
				}
			}
			if len(b.Removed) > 0 {
				if stats, err := idx.DeletePaths(ctx, b.Removed); err != nil {
					logger.Warn("watch removal failed", zap.Error(err))
				} else if stats.Deleted > 0 {
					logger.Info("watch removed documents", zap.Int("deleted", stats.Deleted))
				}
			}
		},
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithLogger(logger),
	)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	deps := server.Dependencies{
		Search:     components.Engine,
		Indexer:    components.Indexer,
		Documents:  components.Storage,
		Sessions:   components.Sessions,
		Consultant: components.Consultant,
		Domains:    components.Domains,
		Vectors:    components.VectorIndex,
	}
	if cached, ok := components.Embedder.(*embedding.CachedEmbedder); ok {
		deps.EmbeddingCache = cached
	}
	srv := server.NewServer(deps, cfg, logger, server.WithWatch(watchSvc, resolvedConfigPath))

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	watchSvc.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// readQuestion returns the question from args, or from in when no args are given.
func readQuestion(args []string, in io.Reader) (string, error) {
	if q := buildSearchQuery(args); q != "" {
		return q, nil
	}
	if in == nil {
		return "", nil
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read question: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func runAsk() {
	args := searchArgsReorder(os.Args[2:])
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run the consultation in-process)")
	sessionID := fs.String("session", "", "continue an existing session")
	domainID := fs.String("domain", "", "domain for a new session")
	force := fs.Bool("force", false, "skip remaining questions and answer now")
	_ = fs.Parse(args)

	var stdin io.Reader
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		stdin = os.Stdin
	}
	question, err := readQuestion(fs.Args(), stdin)
	if err != nil {
		fatalf("%v", err)
	}
	if question == "" && !*force {
		fmt.Println("Usage: soudan ask [flags] <question>")
		os.Exit(1)
	}

	printer := &cli.TurnPrinter{Out: os.Stdout, Info: os.Stderr}
	req := consultation.TurnRequest{Content: question, ForceTransition: *force}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := *sessionID
	if *serverURL != "" {
		if id == "" {
			if id, err = createSessionViaHTTP(*serverURL, *domainID); err != nil {
				fatalf("Create session failed: %v", err)
			}
		}
		fmt.Fprintf(os.Stderr, "… session %s\n", id)
		err = askViaHTTP(ctx, *serverURL, id, req, printer)
	} else {
		_, _, components := openLocal(*configPath, componentSet{consult: true, restore: true})
		defer components.Close()
		if id == "" {
			sess, err := components.Consultant.CreateSession(ctx, *domainID, "")
			if err != nil {
				fatalf("Create session failed: %v", err)
			}
			id = sess.ID
		}
		fmt.Fprintf(os.Stderr, "… session %s\n", id)
		err = components.Consultant.Turn(ctx, id, req, printer.Event)
	}
	if err == nil {
		err = printer.Err
	}
	if err != nil {
		fatalf("Turn failed: %v", err)
	}
}

func createSessionViaHTTP(serverURL, domainID string) (string, error) {
	resp, err := postJSON(serverURL+"/sessions", map[string]string{"domain": domainID})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusCreated); err != nil {
		return "", err
	}
	var sess models.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	return sess.ID, nil
}

// askViaHTTP posts one turn and renders the event stream as it arrives.
func askViaHTTP(ctx context.Context, serverURL, sessionID string, turn consultation.TurnRequest, printer *cli.TurnPrinter) error {
	body, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	endpoint := serverURL + "/sessions/" + url.PathEscape(sessionID) + "/messages/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	return llm.ReadEvents(resp.Body, func(event, data string) error {
		return printer.Print(event, []byte(data))
	})
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: soudan search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces; quoting is optional.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  soudan search ISO 16889 beta ratio
  soudan search --top-k 3 --output compact "servo valve cleanliness"
  soudan search --server "" HF-4020        # direct storage, server not running
`)
}

// buildSearchQuery joins positional args so multi-word queries work with or without quotes.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchTopKDefaultFromConfig returns the configured default top_k, or 10 when the config
// cannot be read.
func searchTopKDefaultFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg.Search.DefaultTopK <= 0 {
		return 10
	}
	return cfg.Search.DefaultTopK
}

// searchArgsReorder moves flags that follow the query to the front so flag.Parse sees them;
// the flag package stops at the first positional argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	args := searchArgsReorder(os.Args[2:])
	configPath := searchConfigPathFromArgs(args, defaultConfigPath)

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = direct storage access)")
	topK := fs.Int("top-k", searchTopKDefaultFromConfig(configPath), "number of results")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(args)

	query := buildSearchQuery(fs.Args())
	if query == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	q := &models.SearchQuery{Query: query, TopK: *topK}

	var response *models.SearchResponse
	if *serverURL != "" {
		// The server holds the bleve and sqlite locks; go through its API.
		response, err = searchViaHTTP(*serverURL, q)
	} else {
		_, _, components := openLocal(*configPathFlag, componentSet{restore: true})
		defer components.Close()
		response, err = components.Engine.Search(context.Background(), q)
	}
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func postJSON(endpoint string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// checkStatus returns an error carrying the body when resp does not have the wanted status.
func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	resp, err := postJSON(serverURL+"/api/v1/search", query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = direct storage access)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status map[string]any
	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/status")
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		defer resp.Body.Close()
		if err := checkStatus(resp, http.StatusOK); err != nil {
			fatalf("Status failed: %v", err)
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, _, components := openLocal(*configPath, componentSet{})
		defer components.Close()
		var err error
		if status, err = localStatus(context.Background(), cfg, components); err != nil {
			fatalf("Status failed: %v", err)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status)
	case "text":
		writeStatusText(os.Stdout, status)
	default:
		fatalf("Unknown output format %q; use text or json", *outputFormat)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (map[string]any, error) {
	docs, err := c.Storage.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	parents, err := c.Storage.CountParents(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := c.Storage.CountSubChunks(ctx)
	if err != nil {
		return nil, err
	}
	status := map[string]any{
		"documents":     docs,
		"parent_chunks": parents,
		"sub_chunks":    subs,
		"config": map[string]any{
			"embedding_provider": cfg.Embedding.Provider,
			"lexical_backend":    cfg.Search.LexicalBackend,
			"rerank_mode":        cfg.Search.RerankMode,
			"llm_provider":       cfg.LLM.Provider,
			"session_backend":    cfg.Storage.SessionBackend,
			"database_path":      cfg.Storage.DatabasePath,
		},
	}
	if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorIndexPath); err == nil {
		status["disk_usage_bytes"] = n
	}
	return status, nil
}

func writeStatusText(w io.Writer, status map[string]any) {
	for _, key := range []string{"documents", "parent_chunks", "sub_chunks", "vector_index_size", "disk_usage_bytes", "default_domain"} {
		if v, ok := status[key]; ok {
			fmt.Fprintf(w, "%-19s %v\n", key+":", v)
		}
	}
	cfg, ok := status["config"].(map[string]any)
	if !ok {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	for _, key := range []string{"embedding_provider", "lexical_backend", "rerank_mode", "llm_provider", "llm_model", "session_backend", "database_path"} {
		if v, ok := cfg[key]; ok && v != "" {
			fmt.Fprintf(w, "%-19s %v\n", key+":", v)
		}
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	rebuild := fs.Bool("rebuild-lexical", false, "rebuild the lexical index from stored sub-chunks (after tokenizer changes)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 && !*rebuild {
		fmt.Println("Usage: soudan index [flags] <file-or-directory>")
		fmt.Println("       soudan index --rebuild-lexical")
		os.Exit(1)
	}
	cfg, _, components := openLocal(*configPath, componentSet{restore: true})
	defer components.Close()

	ctx := context.Background()
	if *rebuild {
		if err := components.Indexer.RebuildLexical(ctx); err != nil {
			fatalf("Rebuilding lexical index failed: %v", err)
		}
		fmt.Println("Lexical index rebuilt")
		if fs.NArg() < 1 {
			return
		}
	}
	path := fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		fatalf("Failed to stat path: %v", err)
	}
	if info.IsDir() {
		stats, err := components.Indexer.IndexDirectory(ctx, path, cfg.Watch.Extensions)
		if err != nil {
			fatalf("Indexing directory failed: %v", err)
		}
		fmt.Printf("Indexed %d file(s) from %s (%d unchanged, %d sub-chunks)\n",
			stats.Indexed, path, stats.Unchanged, stats.SubChunks)
		return
	}
	if err := components.Indexer.IndexFile(ctx, path, nil); err != nil {
		fatalf("Indexing failed: %v", err)
	}
	fmt.Printf("Indexed %s\n", path)
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: soudan watch <add|remove|list> [path]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])
	endpoint := *serverURL + "/api/v1/watch/directories"

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: soudan watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		resp, err := postJSON(endpoint, map[string]any{"path": path, "sync": true})
		if err != nil {
			fatalf("%v", err)
		}
		defer resp.Body.Close()
		if err := checkStatus(resp, http.StatusCreated); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: soudan watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, endpoint+"?path="+url.QueryEscape(path), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if err := checkStatus(resp, http.StatusOK); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		resp, err := http.Get(endpoint)
		if err != nil {
			fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if err := checkStatus(resp, http.StatusOK); err != nil {
			fatalf("List failed: %v", err)
		}
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fatalf("Parse failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: soudan delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)
	_, _, components := openLocal(*configPath, componentSet{restore: true})
	defer components.Close()

	if err := components.Indexer.DeleteDocument(context.Background(), docID); err != nil {
		fatalf("Deletion failed: %v", err)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func printUsage() {
	fmt.Println(`soudan - technical consultation over an engineering knowledge base

Usage:
  soudan server [flags]             Start the HTTP server
  soudan ask [flags] [question]     Run one consultation turn (question from args or stdin)
  soudan search [flags] <query>     Search the knowledge base
  soudan index [flags] <path>       Index a file or directory
  soudan index --rebuild-lexical    Rebuild the lexical index from stored chunks
  soudan delete [flags] <id>        Delete a document
  soudan status [flags]             Show index and storage status
  soudan watch <add|remove|list>    Manage watched directories
  soudan version                    Show version
  soudan help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/soudan/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --server string    Server URL (default: http://localhost:8080); empty runs in-process
  --session string   Continue an existing session
  --domain string    Domain for a new session (default from config)
  --force            Skip remaining questions and answer now

Search Flags:
  --server string    Server URL; empty searches local storage directly
  --top-k int        Number of results (default from config)
  --output string    text, compact, or json

Examples:
  soudan server
  soudan ask "Our servo valves keep sticking after the pump was replaced"
  soudan ask --session 3f2b... "VG46, 3000 psi, 120 l/min"
  soudan search --output json "ISO 4406 18/16/13"
  soudan index ./docs
  soudan watch add ./docs`)
}
