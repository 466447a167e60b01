// Command ivfadc runs the train, index, query, and serve subcommands of
// the IVFADC approximate nearest-neighbor pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vladindex/ivfadc/internal/coarse"
	"github.com/vladindex/ivfadc/internal/descio"
	"github.com/vladindex/ivfadc/internal/indexer"
	"github.com/vladindex/ivfadc/internal/paramconfig"
	"github.com/vladindex/ivfadc/internal/pq"
	"github.com/vladindex/ivfadc/internal/queryengine"
	"github.com/vladindex/ivfadc/internal/store"
	"github.com/vladindex/ivfadc/internal/trainer"
	"github.com/vladindex/ivfadc/pkg/config"
	"github.com/vladindex/ivfadc/pkg/httpserve"
	"github.com/vladindex/ivfadc/pkg/observability"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "train":
		runTrain(os.Args[2:])
	case "index":
		runIndex(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "version":
		fmt.Printf("ivfadc version %s\n", version)
	case "help", "-h", "--help":
		showUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`ivfadc: coarse-quantized product-quantization nearest neighbor search

Usage:
  ivfadc train  -config <path>
  ivfadc index  -config <path>
  ivfadc query  -config <path>
  ivfadc serve  -config <path>
  ivfadc version`)
}

func loadParams(args []string, fsName string) paramconfig.Params {
	fs := flag.NewFlagSet(fsName, flag.ExitOnError)
	configPath := fs.String("config", "", "path to the key=value run configuration (required)")
	fs.Parse(args)

	if *configPath == "" {
		fmt.Println("Error: -config is required")
		fs.Usage()
		os.Exit(1)
	}

	params, err := paramconfig.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	return params
}

func newLogger() *observability.Logger {
	return observability.NewLogger(observability.INFO, os.Stdout)
}

func runTrain(args []string) {
	params := loadParams(args, "train")
	cfg, err := config.TrainConfigFromParams(params)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()
	metrics := observability.NewMetrics()
	layout := store.NewLayout(".", cfg.DataID)

	result, err := trainer.Run(cfg, layout, trainer.Hooks{Logger: logger, Metrics: metrics})
	if err != nil {
		logger.Fatalf("train failed: %v", err)
	}

	logger.Info("train finished", map[string]interface{}{
		"coarse_k":     result.Coarse.NumCells(),
		"pq_m":         result.PQ.M(),
		"pq_ks":        result.PQ.Ks(),
		"min_pairwise": result.Diag.MinPairwiseDist,
	})
}

func runIndex(args []string) {
	params := loadParams(args, "index")
	cfg, err := config.IndexConfigFromParams(params)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()
	metrics := observability.NewMetrics()
	layout := store.NewLayout(".", cfg.DataID)

	coarseRows, err := store.ReadCodebook(layout.Coarse())
	if err != nil {
		logger.Fatalf("loading coarse codebook: %v", err)
	}
	cq := coarse.New(coarseRows)

	nsq := params.GetIntDefault("nsq", 1)
	nsqbits := params.GetIntDefault("nsqbits", 8)
	sub := make([][][]float32, nsq)
	for i := range sub {
		rows, err := store.ReadCodebook(layout.PQSub(i))
		if err != nil {
			logger.Fatalf("loading pq sub-codebook %d: %v", i, err)
		}
		sub[i] = rows
	}
	book, err := pq.Load(sub, nsqbits)
	if err != nil {
		logger.Fatalf("loading pq codebook: %v", err)
	}

	result, err := indexer.Run(cfg, layout, cq, book, indexer.Hooks{Logger: logger, Metrics: metrics})
	if err != nil {
		logger.Fatalf("index failed: %v", err)
	}

	logger.Info("index finished", map[string]interface{}{
		"vectors": result.NumVectors,
		"cells":   len(result.CellSizes),
	})
}

func runQuery(args []string) {
	params := loadParams(args, "query")
	cfg, err := config.QueryConfigFromParams(params)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()
	metrics := observability.NewMetrics()
	layout := store.NewLayout(".", cfg.DataID)

	engine := queryengine.New()
	nsq := params.GetIntDefault("nsq", 1)
	nsqbits := params.GetIntDefault("nsqbits", 8)
	if err := engine.Load(layout, nsq, nsqbits); err != nil {
		logger.Fatalf("loading index: %v", err)
	}

	queries, err := descio.Load(cfg.QueryDesc, cfg.Dim)
	if err != nil {
		logger.Fatalf("loading query vectors: %v", err)
	}

	results, errs := engine.SearchBatch(queries.Data, cfg.NumRet, cfg.Ma, cfg.Threads)
	for i, err := range errs {
		if err != nil {
			logger.Fatalf("query %d (%s) failed: %v", i, queries.Names[i], err)
		}
		metrics.RecordQuery(0, cfg.Ma, len(results[i]))
		fmt.Printf("%s:", queries.Names[i])
		for _, m := range results[i] {
			fmt.Printf(" %s=%f", m.Name, m.Score)
		}
		fmt.Println()
	}
}

func runServe(args []string) {
	params := loadParams(args, "serve")
	cfg, err := config.ServeConfigFromParams(params)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()
	metrics := observability.NewMetrics()
	layout := store.NewLayout(".", cfg.DataID)

	engine := queryengine.New()
	nsq := params.GetIntDefault("nsq", 1)
	nsqbits := params.GetIntDefault("nsqbits", 8)
	if err := engine.Load(layout, nsq, nsqbits); err != nil {
		logger.Fatalf("loading index: %v", err)
	}
	if err := engine.Serve(); err != nil {
		logger.Fatalf("transitioning to serving: %v", err)
	}

	server := httpserve.NewServer(cfg, engine, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx); err != nil {
		logger.Fatalf("serve failed: %v", err)
	}
}
