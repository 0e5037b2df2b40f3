// newsclust - near-duplicate news clustering service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/newsclust/newsclust/internal/cluster"
	"github.com/newsclust/newsclust/internal/config"
	"github.com/newsclust/newsclust/internal/fingerprint"
	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/internal/httpapi"
	"github.com/newsclust/newsclust/internal/ingestion"
	"github.com/newsclust/newsclust/internal/metrics"
	"github.com/newsclust/newsclust/internal/queue"
	"github.com/newsclust/newsclust/internal/recall"
	"github.com/newsclust/newsclust/internal/recheck"
	"github.com/newsclust/newsclust/internal/verify"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	version = "0.1.0-dev"

	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "newsclust",
		Short: "newsclust - near-duplicate news clustering service",
		Long: `newsclust ingests news articles, fingerprints them with
SimHash/MinHash/LSH, recalls and verifies near-duplicate candidates, and
assigns each article to a cluster under single-winner, monotone-state
guarantees.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and ingestion workers together",
		Run:   runServe,
	}
	rootCmd.AddCommand(serveCmd)

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run ingestion workers only (no HTTP API)",
		Run:   runWorker,
	}
	rootCmd.AddCommand(workerCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("newsclust version %s\n", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Println()
	fmt.Println("  newsclust - near-duplicate news clustering")
	fmt.Printf("  v%s\n", version)
	fmt.Println()
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
}

// components bundles everything built from config, shared by serve and
// worker so both commands wire identical collaborators.
type components struct {
	cfg    *config.Config
	gw     gateway.Gateway
	q      queue.Queue
	mgr    *cluster.Manager
	pl     *ingestion.Pipeline
	rc     *recheck.Controller
	server *httpapi.Server
}

func buildComponents(log zerolog.Logger) (*components, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	gw, err := buildGateway(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	q, err := buildQueue(cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("build queue: %w", err)
	}

	fp := fingerprint.New(cfg.Fingerprint.MinHashSize, cfg.Fingerprint.LSHBands, cfg.Fingerprint.LSHRows,
		fingerprint.WithShingleSize(cfg.Fingerprint.ShingleSize),
		fingerprint.WithSimHashBits(64))

	rc := recall.New(gw, cfg.Recall)
	vf := verify.New(gw, fp, cfg.Verify)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	recheckCtrl := recheck.New(q, cfg.Recheck)

	server := httpapi.NewServer(gw, q, recheckCtrl, httpapi.Config{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		EnableLive:  cfg.HTTP.EnableLive,
	}, log.With().Str("component", "httpapi").Logger())

	mgr := cluster.New(gw, server, log.With().Str("component", "cluster").Logger())

	pl, err := ingestion.New(q, gw, fp, rc, vf, mgr, cfg.Ingestion, cfg.Verify, log.With().Str("component", "ingestion").Logger(), collector)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	return &components{cfg: cfg, gw: gw, q: q, mgr: mgr, pl: pl, rc: recheckCtrl, server: server}, nil
}

func buildGateway(cfg config.GatewayConfig) (gateway.Gateway, error) {
	switch cfg.Backend {
	case "weaviate":
		client := weaviate.New(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		return gateway.NewWeaviateStore(client, cfg.ArticleClass, cfg.ClusterClass), nil
	case "memory", "":
		return gateway.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown gateway backend %q", cfg.Backend)
	}
}

func buildQueue(cfg config.QueueConfig) (queue.Queue, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisQueue(client, cfg.StreamKey, cfg.DeadLetterKey), nil
	case "memory", "":
		return queue.NewMemQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func runServe(cmd *cobra.Command, args []string) {
	printBanner()
	log := newLogger()

	comps, err := buildComponents(log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize components")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go comps.pl.Run(ctx)

	go func() {
		log.Info().Str("addr", comps.cfg.HTTP.Addr).Msg("starting HTTP API")
		if err := comps.server.Listen(comps.cfg.HTTP.Addr); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	waitForShutdown(log, func() {
		cancel()
		_ = comps.server.Shutdown()
	})
}

func runWorker(cmd *cobra.Command, args []string) {
	printBanner()
	log := newLogger()

	comps, err := buildComponents(log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize components")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().Int("workers", comps.cfg.Ingestion.Workers).Msg("starting ingestion workers")
	done := make(chan struct{})
	go func() {
		comps.pl.Run(ctx)
		close(done)
	}()

	waitForShutdown(log, cancel)
	<-done
}

func waitForShutdown(log zerolog.Logger, stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down gracefully")
	stop()
}
