package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/PathScout/internal/alert"
	"github.com/PentesterFlow/PathScout/internal/logger"
	"github.com/PentesterFlow/PathScout/internal/output"
	"github.com/PentesterFlow/PathScout/internal/progress"
	"github.com/PentesterFlow/PathScout/internal/scope"
	"github.com/PentesterFlow/PathScout/internal/shutdown"
	"github.com/PentesterFlow/PathScout/pkg/pathscout"
)

var (
	version = "1.0.0"

	// Global flags
	configFile  string
	preset      string
	verbose     bool
	debug       bool
	outputFile  string
	format      string
	pretty      bool
	metricsFile string
	alertSink   string
	boltPath    string
	redisAddr   string

	// Crawl flags
	timeout         time.Duration
	maxLinks        int
	excludePatterns []string
	skipDestructive bool

	// Graph flags
	graphFile string
	maxDepth  int
	maxPaths  int

	// Batch flags
	targetsFile string
	workers     int
	rateLimit   float64
	stream      bool
	showBar     bool
	breakAfter  int

	// Alerts flags
	listLimit int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pathscout",
		Short: "PathScout - endpoint discovery and attack path mapping",
		Long: `PathScout fetches a single page, extracts its same-domain endpoints and forms,
scores them, and enumerates bounded attack paths through the endpoint graph.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	crawlCmd := &cobra.Command{
		Use:   "crawl [url]",
		Short: "Extract endpoints and forms from one page",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Build an endpoint graph and search it for paths",
		Long:  "Read endpoints, connections, start and end from a JSON or YAML file and list the paths between them.",
		Args:  cobra.NoArgs,
		RunE:  runGraph,
	}

	scanCmd := &cobra.Command{
		Use:   "scan [url]",
		Short: "Crawl, score and map attack paths for one target",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}

	batchCmd := &cobra.Command{
		Use:   "batch [url...]",
		Short: "Scan many targets concurrently",
		RunE:  runBatch,
	}

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect stored alerts",
	}

	alertsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored alerts, newest first",
		Args:  cobra.NoArgs,
		RunE:  runAlertsList,
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	flags.StringVar(&preset, "preset", "default", "Configuration preset (default, strict, deep)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	flags.BoolVar(&debug, "debug", false, "Debug mode")
	flags.StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	flags.StringVar(&format, "format", "json", "Output format (json, yaml)")
	flags.BoolVar(&pretty, "pretty", true, "Pretty-print JSON output")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	flags.StringVar(&alertSink, "alert-sink", "none", "Alert sink (none, bolt, redis)")
	flags.StringVar(&boltPath, "bolt-path", "", "BoltDB file for the bolt alert sink")
	flags.StringVar(&redisAddr, "redis-addr", "", "Redis address for the redis alert sink")

	// Crawl and scan flags
	for _, cmd := range []*cobra.Command{crawlCmd, scanCmd, batchCmd} {
		cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Per-attempt fetch timeout")
		cmd.Flags().IntVar(&maxLinks, "max-links", 200, "Maximum unique endpoints kept per page")
		cmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "URL patterns to exclude (regex)")
		cmd.Flags().BoolVar(&skipDestructive, "skip-destructive", false, "Exclude logout, sign-out and account deletion links")
	}

	// Graph flags
	for _, cmd := range []*cobra.Command{graphCmd, scanCmd, batchCmd} {
		cmd.Flags().IntVar(&maxDepth, "max-depth", 25, "Maximum nodes per path")
		cmd.Flags().IntVar(&maxPaths, "max-paths", 200, "Maximum paths returned")
	}
	graphCmd.Flags().StringVarP(&graphFile, "file", "f", "", "Graph input file, - for stdin")
	graphCmd.MarkFlagRequired("file")

	// Batch flags
	batchCmd.Flags().StringVarP(&targetsFile, "file", "f", "", "File with one target per line")
	batchCmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of concurrent workers")
	batchCmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 5, "Requests per second, 0 for unlimited")
	batchCmd.Flags().BoolVar(&stream, "stream", false, "Write each report as it completes")
	batchCmd.Flags().BoolVar(&showBar, "progress", false, "Show a progress bar on stderr")
	batchCmd.Flags().IntVar(&breakAfter, "breaker-threshold", 3, "Transient failures before a host is skipped, 0 to disable")

	// Alerts flags
	alertsListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum alerts to list, 0 for all")

	alertsCmd.AddCommand(alertsListCmd)
	rootCmd.AddCommand(crawlCmd, graphCmd, scanCmd, batchCmd, alertsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles what every command needs for one run.
type app struct {
	config   *pathscout.Config
	log      *logger.Logger
	out      output.Writer
	shutdown *shutdown.Handler
	scanner  *pathscout.Scanner
}

// loadConfig builds the run configuration: file or preset first, then any
// flag the user set explicitly.
func loadConfig(cmd *cobra.Command) (*pathscout.Config, error) {
	var config *pathscout.Config
	if configFile != "" {
		fileConfig, err := pathscout.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	} else {
		switch preset {
		case "default":
			config = pathscout.DefaultConfig()
		case "strict":
			config = pathscout.StrictConfig()
		case "deep":
			config = pathscout.DeepConfig()
		default:
			return nil, fmt.Errorf("unknown preset %q", preset)
		}
	}

	// Override with command-line flags if provided
	changed := cmd.Flags().Changed
	if changed("verbose") {
		config.Verbose = verbose
	}
	if changed("debug") {
		config.Debug = debug
	}
	if changed("output") {
		config.Output.FilePath = outputFile
	}
	if changed("format") {
		config.Output.Format = format
	}
	if changed("pretty") {
		config.Output.Pretty = pretty
	}
	if changed("metrics-file") {
		config.Metrics.Textfile = metricsFile
	}
	if changed("alert-sink") {
		config.Alerts.Sink = alertSink
	}
	if changed("bolt-path") {
		config.Alerts.BoltPath = boltPath
	}
	if changed("redis-addr") {
		config.Alerts.Redis.Addr = redisAddr
	}
	if changed("timeout") {
		config.Fetch.Timeout = timeout
	}
	if changed("max-links") {
		config.Extract.MaxLinks = maxLinks
	}
	if changed("exclude") {
		config.Extract.ExcludePatterns = append(config.Extract.ExcludePatterns, excludePatterns...)
	}
	if changed("skip-destructive") && skipDestructive {
		config.Extract.ExcludePatterns = append(config.Extract.ExcludePatterns, scope.DestructivePatterns...)
	}
	if changed("max-depth") {
		config.Graph.MaxDepth = maxDepth
	}
	if changed("max-paths") {
		config.Graph.MaxPaths = maxPaths
	}
	if changed("workers") {
		config.Batch.Workers = workers
	}
	if changed("rate-limit") {
		config.Batch.RateLimit.RequestsPerSecond = rateLimit
	}
	if changed("stream") {
		config.Output.Stream = stream
	}
	if changed("breaker-threshold") {
		config.Batch.Breaker.FailureThreshold = breakAfter
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func newCLILogger(config *pathscout.Config) *logger.Logger {
	level := logger.WarnLevel
	if config.Debug {
		level = logger.DebugLevel
	} else if config.Verbose {
		level = logger.InfoLevel
	}
	return logger.New(logger.Config{
		Level:     level,
		Pretty:    true,
		Output:    os.Stderr,
		Component: "pathscout",
	})
}

// setup opens the output, installs signal handling and, when withScanner is
// set, creates the scanner. Call close when done.
func setup(cmd *cobra.Command, withScanner bool) (*app, error) {
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{config: config, log: newCLILogger(config)}

	a.shutdown = shutdown.New(context.Background(), shutdown.Config{
		Timeout: 10 * time.Second,
		OnShutdownStart: func(reason string) {
			if strings.HasPrefix(reason, "signal") {
				a.log.Warnf("Shutting down (%s)", reason)
			}
		},
		OnShutdownDone: func(result *shutdown.Result) {
			for _, err := range result.Errors {
				a.log.WithError(err).Warn("Cleanup failed")
			}
		},
	})
	go a.shutdown.Listen()

	out, err := output.Open(config.Output, os.Stdout)
	if err != nil {
		a.shutdown.Shutdown()
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	a.out = out

	if !withScanner {
		return a, nil
	}

	scanner, err := pathscout.New(
		pathscout.WithConfig(config),
		pathscout.WithLogger(a.log),
	)
	if err != nil {
		a.out.Close()
		a.shutdown.Shutdown()
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	a.scanner = scanner

	a.shutdown.RegisterCloser("scanner", scanner)
	if path := config.Metrics.Textfile; path != "" {
		a.shutdown.Register("metrics", func(ctx context.Context) error {
			return scanner.Metrics().WriteTextfile(path)
		})
	}

	return a, nil
}

// close flushes output and runs the shutdown callbacks.
func (a *app) close() error {
	flushErr := a.out.Flush()
	closeErr := a.out.Close()

	result := a.shutdown.Shutdown()
	if result.HasErrors() {
		return fmt.Errorf("cleanup failed: %w", result.Errors[0])
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush output: %w", flushErr)
	}
	return closeErr
}

func runCrawl(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, true)
	if err != nil {
		return err
	}

	result := a.scanner.Crawl(a.shutdown.Context(), args[0])
	if err := a.out.Write(result); err != nil {
		a.close()
		return fmt.Errorf("failed to write result: %w", err)
	}
	return a.close()
}

func runGraph(cmd *cobra.Command, args []string) error {
	data, err := readInput(graphFile)
	if err != nil {
		return fmt.Errorf("failed to read graph input: %w", err)
	}
	req, err := pathscout.ParseGraphInput(data)
	if err != nil {
		return err
	}

	a, err := setup(cmd, true)
	if err != nil {
		return err
	}

	if err := a.out.Write(a.scanner.Graph(req)); err != nil {
		a.close()
		return fmt.Errorf("failed to write result: %w", err)
	}
	return a.close()
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, true)
	if err != nil {
		return err
	}

	report := a.scanner.Scan(a.shutdown.Context(), args[0])
	a.log.WithURL(report.URL).Infof("Threat level %d (%s)", report.ThreatLevel, report.Alert.Level)

	if err := a.out.Write(report); err != nil {
		a.close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return a.close()
}

func runBatch(cmd *cobra.Command, args []string) error {
	targets := append([]string(nil), args...)
	if targetsFile != "" {
		fileTargets, err := readTargets(targetsFile)
		if err != nil {
			return fmt.Errorf("failed to read targets: %w", err)
		}
		targets = append(targets, fileTargets...)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets given")
	}

	a, err := setup(cmd, true)
	if err != nil {
		return err
	}
	ctx := a.shutdown.Context()

	targets = pathscout.UniqueTargets(targets)
	var bar *progress.Display
	if showBar {
		bar = progress.New(os.Stderr)
		bar.Start(len(targets))
	}

	var writeErr error
	reports := a.scanner.ScanBatchFunc(ctx, targets, func(i int, r *pathscout.ScanReport) {
		if bar != nil {
			bar.Done(len(r.Endpoints), r.ThreatLevel)
		}
		if !a.config.Output.Stream {
			return
		}
		if err := a.out.WriteEvent("report", r); err != nil && writeErr == nil {
			writeErr = err
		}
	})
	if bar != nil {
		bar.Stop()
		bar.PrintSummary()
	}

	if a.config.Output.Stream {
		if writeErr == nil {
			writeErr = a.out.WriteEvent("complete", map[string]any{"targets": len(reports)})
		}
	} else {
		writeErr = a.out.Write(reports)
	}
	if writeErr != nil {
		a.close()
		return fmt.Errorf("failed to write reports: %w", writeErr)
	}
	return a.close()
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, false)
	if err != nil {
		return err
	}

	alerts, err := listAlerts(a.shutdown.Context(), a.config.Alerts, listLimit)
	if err != nil {
		a.close()
		return err
	}

	if err := a.out.Write(alerts); err != nil {
		a.close()
		return fmt.Errorf("failed to write alerts: %w", err)
	}
	return a.close()
}

// listAlerts reads stored alerts from the configured sink.
func listAlerts(ctx context.Context, config pathscout.AlertConfig, limit int) ([]alert.Alert, error) {
	switch config.Sink {
	case pathscout.SinkBolt:
		sink, err := alert.NewBoltSink(config.BoltPath)
		if err != nil {
			return nil, err
		}
		defer sink.Close()
		return sink.List(limit)
	case pathscout.SinkRedis:
		sink, err := alert.NewRedisSink(ctx, config.Redis)
		if err != nil {
			return nil, err
		}
		defer sink.Close()
		return sink.List(ctx, limit)
	default:
		return nil, fmt.Errorf("alert sink %q does not store alerts; use --alert-sink bolt or redis", config.Sink)
	}
}

// readInput reads path, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// readTargets reads one target per line, skipping blanks and # comments.
func readTargets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var targets []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	return targets, scanner.Err()
}
