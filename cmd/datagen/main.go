package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vanshika/upiscope/internal/config"
	"github.com/vanshika/upiscope/internal/dataset"
	"github.com/vanshika/upiscope/internal/generator"
	"github.com/vanshika/upiscope/internal/logging"
	"github.com/vanshika/upiscope/internal/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var (
		seed        = flag.Int64("seed", cfg.Generation.Seed, "random seed for deterministic generation")
		count       = flag.Int("count", cfg.Generation.CountPerProfile, "transactions per profile")
		anomalyRate = flag.Float64("anomaly-rate", cfg.Generation.AnomalyRate, "probability a transaction carries an injected anomaly")
		outputDir   = flag.String("output-dir", cfg.Generation.OutputDir, "directory to write profiles.json, transactions.json and transactions.csv")
		writeStdout = flag.Bool("stdout", false, "write combined dataset to stdout instead of files")
	)
	flag.Parse()
	cfg.Generation.Seed = *seed

	logger := logging.Component(logging.New(cfg.Logging), "datagen")

	profiles, err := cfg.ResolveProfiles()
	if err != nil {
		logger.Error("failed to resolve profiles", "error", err)
		os.Exit(1)
	}

	builder, err := dataset.NewBuilder(dataset.Options{
		Generator: cfg.GeneratorConfig(),
		Flow:      cfg.FlowConfig(),
		Scoring:   cfg.ScoringConfig(),
		Seed:      *seed,
	})
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	window := cfg.TimeRange()
	seq, err := builder.Build(profiles, window, *count, *anomalyRate)
	if err != nil {
		logger.Error("invalid build arguments", "error", err)
		os.Exit(1)
	}
	txs, err := dataset.Collect(seq)
	if err != nil {
		logger.Error("generation failed", "error", err, "generated", len(txs))
		os.Exit(1)
	}
	dataset.SortByTimestamp(txs)
	data := generator.Dataset{Profiles: profiles, Transactions: txs}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(data); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := generator.WriteDataset(data, *outputDir); err != nil {
		logger.Error("failed to write dataset", "error", err, "dir", *outputDir)
		os.Exit(1)
	}

	s := scoring.Summarize(txs)
	logger.Info("dataset generated",
		"seed", *seed,
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
		"profiles", len(profiles),
		"transactions", s.Total,
		"flagged", s.Flagged,
		"failed", s.Failed,
		"false_positives", s.FalsePositives,
		"dir", *outputDir,
		"duration", time.Since(start).String(),
	)
}
