package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/page-mirror/pkg/config"
	"github.com/Sriram-PR/page-mirror/pkg/mirror"
	"github.com/Sriram-PR/page-mirror/pkg/orchestrate"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "mirror":
		runMirror(os.Args[2:])
	case "batch":
		runBatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-pages":
		runListPages(os.Args[2:])
	case "version":
		fmt.Printf("page-mirror %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `page-mirror - Single page offline mirror

Usage:
  page-mirror <command> [options]

Commands:
  mirror      Mirror one page and its assets
  batch       Mirror configured pages in parallel
  validate    Validate configuration file
  list-pages  List available page keys
  version     Show version info

Run 'page-mirror <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// mirrorOptions are the parsed flags of the mirror subcommand
type mirrorOptions struct {
	configFile    string
	pageURL       string
	pageKey       string
	outputRoot    string
	stateDir      string
	resetState    bool
	writeAssetLog bool
	writeTree     bool
}

// runMirror handles the mirror subcommand
func runMirror(args []string) {
	fs := flag.NewFlagSet("mirror", flag.ExitOnError)
	var opts mirrorOptions
	fs.StringVar(&opts.configFile, "config", "", "Path to config file (optional)")
	fs.StringVar(&opts.pageURL, "url", "", "Page URL to mirror")
	fs.StringVar(&opts.pageKey, "page", "", "Page key from config, instead of -url")
	fs.StringVar(&opts.outputRoot, "out", "", "Output root (default: <output_base_dir>/<title>_<domain>)")
	fs.StringVar(&opts.stateDir, "state-dir", "", "Persist asset state in this directory (overrides state_dir)")
	fs.BoolVar(&opts.resetState, "reset-state", false, "Wipe persisted asset state before running")
	fs.BoolVar(&opts.writeAssetLog, "write-asset-log", false, "Write the asset status log beside the output root")
	fs.BoolVar(&opts.writeTree, "tree", false, "Write a listing of the mirrored tree beside the output root")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: page-mirror mirror [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  page-mirror mirror -url https://example.com/\n")
		fmt.Fprintf(os.Stderr, "  page-mirror mirror -url https://example.com/docs/ -out ./docs-copy\n")
		fmt.Fprintf(os.Stderr, "  page-mirror mirror -config config.yaml -page landing\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if (opts.pageURL == "") == (opts.pageKey == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -url or -page is required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	ctx, stop := signalContext(log)
	defer stop()

	os.Exit(doMirror(ctx, opts, log))
}

// doMirror runs one mirror and returns the exit code (0 = success, 1 = error)
func doMirror(ctx context.Context, opts mirrorOptions, log *logrus.Logger) int {
	appCfg := &config.AppConfig{}
	if opts.configFile != "" {
		log.Infof("Loading configuration from %s", opts.configFile)
		loaded, err := loadConfig(opts.configFile)
		if err != nil {
			log.Errorf("Config error: %v", err)
			return 1
		}
		appCfg = loaded
	}
	if opts.stateDir != "" {
		appCfg.StateDir = opts.stateDir
	}
	if opts.writeTree {
		appCfg.WriteTreeFile = true
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Debug(w)
	}
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}

	pageCfg := config.PageConfig{URL: opts.pageURL}
	if opts.pageKey != "" {
		var ok bool
		pageCfg, ok = appCfg.Pages[opts.pageKey]
		if !ok {
			log.Errorf("Page key '%s' not found in config", opts.pageKey)
			return 1
		}
	}
	pageWarnings, err := pageCfg.Validate()
	if err != nil {
		log.Errorf("Page configuration error: %v", err)
		return 1
	}
	for _, w := range pageWarnings {
		log.Warn(w)
	}
	if opts.outputRoot == "" {
		opts.outputRoot = pageCfg.OutputDir
	}

	if appCfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, appCfg.GlobalTimeout)
		defer cancel()
	}

	res, err := mirror.NewResources(appCfg, opts.resetState, log.WithField("component", "resources"))
	if err != nil {
		log.Errorf("Failed to initialize: %v", err)
		return 1
	}
	defer res.Close()

	m, err := mirror.New(*appCfg, pageCfg, res, log.WithField("component", "mirror"))
	if err != nil {
		log.Errorf("Failed to initialize mirror: %v", err)
		return 1
	}

	var result *mirror.Result
	if opts.outputRoot != "" {
		result, err = m.RunTo(ctx, pageCfg.URL, opts.outputRoot)
	} else {
		result, err = m.Run(ctx, pageCfg.URL)
	}
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			log.Warn("Mirror cancelled.")
		case errors.Is(err, context.DeadlineExceeded):
			log.Error("Mirror timed out.")
		default:
			log.Errorf("Mirror failed: %v", err)
		}
		return 1
	}

	if opts.writeAssetLog {
		logPath := result.Root + "_assets.tsv"
		if err := res.Store.WriteAssetLog(ctx, logPath); err != nil {
			log.Errorf("Error writing asset log: %v", err)
		} else {
			logAssetCount(res, logPath, log)
		}
	}

	log.Infof("Mirrored %s to %s (%d assets rewritten, %d failed, %d skipped)",
		pageCfg.URL, filepath.Join(result.Root, "index.html"),
		result.Stats.Rewritten, result.Stats.Failed, result.Stats.Skipped)
	return 0
}

// runBatch handles the batch subcommand
func runBatch(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	pages := fs.String("pages", "", "Comma-separated page keys")
	allPages := fs.Bool("all-pages", false, "Mirror all configured pages")
	resetState := fs.Bool("reset-state", false, "Wipe persisted asset state before running")
	writeAssetLog := fs.Bool("write-asset-log", false, "Write the asset status log to output_base_dir")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: page-mirror batch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  page-mirror batch -pages landing,pricing\n")
		fmt.Fprintf(os.Stderr, "  page-mirror batch --all-pages\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var pageKeys []string
	for _, p := range strings.Split(*pages, ",") {
		if p = strings.TrimSpace(p); p != "" {
			pageKeys = append(pageKeys, p)
		}
	}
	if !*allPages && len(pageKeys) == 0 {
		fmt.Fprintln(os.Stderr, "Error: one of -pages or --all-pages is required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	ctx, stop := signalContext(log)
	defer stop()

	os.Exit(doBatch(ctx, *configFile, pageKeys, *allPages, *resetState, *writeAssetLog, log))
}

// doBatch mirrors the selected pages and returns the exit code.
// Any failed page makes the exit code 1.
func doBatch(ctx context.Context, configFile string, pageKeys []string, allPages, resetState, writeAssetLog bool, log *logrus.Logger) int {
	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)

	if allPages {
		pageKeys = orchestrate.GetAllPageKeys(appCfg)
		log.Infof("All pages mode: found %d pages", len(pageKeys))
	}
	if err := orchestrate.ValidatePageKeys(appCfg, pageKeys); err != nil {
		log.Errorf("Invalid page keys: %v", err)
		return 1
	}
	if err := validatePageConfigs(appCfg, pageKeys, log); err != nil {
		log.Error(err)
		return 1
	}

	if appCfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, appCfg.GlobalTimeout)
		defer cancel()
	}

	res, err := mirror.NewResources(appCfg, resetState, log.WithField("component", "resources"))
	if err != nil {
		log.Errorf("Failed to initialize: %v", err)
		return 1
	}
	defer res.Close()

	orch := orchestrate.NewOrchestrator(ctx, appCfg, pageKeys, res, log.WithField("component", "batch"))
	results := orch.Run()

	if writeAssetLog {
		logPath := filepath.Join(appCfg.OutputBaseDir, "asset_log.tsv")
		if err := os.MkdirAll(appCfg.OutputBaseDir, 0755); err != nil {
			log.Errorf("Error creating output directory: %v", err)
		} else if err := res.Store.WriteAssetLog(ctx, logPath); err != nil {
			log.Errorf("Error writing asset log: %v", err)
		} else {
			logAssetCount(res, logPath, log)
		}
	}

	for _, r := range results {
		if !r.Success {
			return 1
		}
	}
	return 0
}

// logAssetCount reports how many asset records the written log covers
func logAssetCount(res *mirror.Resources, logPath string, log *logrus.Logger) {
	n, err := res.Store.GetAssetCount()
	if err != nil {
		log.Warnf("Asset log written to %s; record count unavailable: %v", logPath, err)
		return
	}
	log.WithField("asset_records", n).Infof("Asset log written to %s", logPath)
}

// validatePageConfigs validates each selected page and logs warnings.
// The configs are stored back so trimmed URLs and clamped values take effect.
func validatePageConfigs(appCfg *config.AppConfig, pageKeys []string, log *logrus.Logger) error {
	for _, key := range pageKeys {
		pageCfg := appCfg.Pages[key]
		pageWarnings, err := pageCfg.Validate()
		if err != nil {
			return fmt.Errorf("page '%s' configuration error: %w", key, err)
		}
		for _, w := range pageWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Pages[key] = pageCfg
	}
	return nil
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	pageKey := fs.String("page", "", "Page key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: page-mirror validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *pageKey, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, pageKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := orchestrate.GetAllPageKeys(appCfg)
	if pageKey != "" {
		if _, ok := appCfg.Pages[pageKey]; !ok {
			fmt.Fprintf(stderr, "Error: page '%s' not found in config\n", pageKey)
			return 1
		}
		keys = []string{pageKey}
	}

	hasError := false
	for _, key := range keys {
		pageCfg := appCfg.Pages[key]
		pageWarnings, err := pageCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range pageWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListPages handles the list-pages subcommand
func runListPages(args []string) {
	fs := flag.NewFlagSet("list-pages", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: page-mirror list-pages [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListPages(*configFile, os.Stdout, os.Stderr))
}

// doListPages lists pages and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListPages(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Pages in %s:\n\n", configPath)
	for _, key := range orchestrate.GetAllPageKeys(appCfg) {
		page := appCfg.Pages[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    URL: %s\n", page.URL)
		if page.OutputDir != "" {
			fmt.Fprintf(stdout, "    Output: %s\n", page.OutputDir)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	return appCfg, err
}

// signalContext is cancelled on the first SIGINT/SIGTERM; a second signal, or
// a stalled shutdown, exits the process
func signalContext(log *logrus.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal %v, initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, AssetWorkers:%d, MaxReqs:%d, MaxReqPerHost:%d",
		appCfg.NumWorkers, appCfg.NumAssetWorkers, appCfg.MaxRequests, appCfg.MaxRequestsPerHost)
	log.Infof("Global Config: DefaultDelay:%v, StateDir:%s, OutputDir:%s",
		appCfg.DefaultDelayPerHost, appCfg.StateDir, appCfg.OutputBaseDir)
	log.Infof("Global Config Timeouts: SemaphoreAcquire:%v, Global:%v, Page:%v, Asset:%v",
		appCfg.SemaphoreAcquireTimeout, appCfg.GlobalTimeout, appCfg.PageTimeout, appCfg.AssetTimeout)
	log.Infof("Global Config Assets: MaxSize:%d bytes, RespectRobots:%t, SkipPatterns:%d",
		appCfg.MaxAssetSizeBytes, appCfg.RespectRobots, len(appCfg.SkipAssetPatterns))
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
