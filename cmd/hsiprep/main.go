package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"hsiprep/pkg/config"
	"hsiprep/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "hsiprep.yaml", "YAML configuration file")
	inputDirs := flag.String("input", "", "Comma-separated directories of ENVI cubes (replaces config inputs)")
	outputDir := flag.String("output", "", "Output directory (overrides config)")
	workers := flag.Int("workers", 0, "Number of files processed concurrently (overrides config)")
	targetBands := flag.Int("target-bands", 0, "Band count of prepared cubes (overrides config)")
	method := flag.String("method", "", "Band alignment method: crop, interpolate or bin (overrides config)")
	threshold := flag.Float64("threshold", -1, "Spectral variance threshold (overrides config)")
	minRatio := flag.Float64("min-ratio", -1, "Minimum useful pixel ratio before fallback (overrides config)")
	sweep := flag.String("sweep", "", "Comma-separated thresholds to evaluate per file (overrides config)")
	quicklook := flag.Bool("quicklook", false, "Write quick-look review images")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	writeDefault := flag.Bool("write-default-config", false, "Write a default configuration to -config and exit")
	flag.Parse()

	if *writeDefault {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			logrus.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Apply command line overrides
	if *inputDirs != "" {
		cfg.Inputs = nil
		for _, dir := range strings.Split(*inputDirs, ",") {
			if dir = strings.TrimSpace(dir); dir != "" {
				cfg.Inputs = append(cfg.Inputs, config.Input{Dir: dir})
			}
		}
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *targetBands > 0 {
		cfg.Processing.TargetBands = *targetBands
	}
	if *method != "" {
		cfg.Processing.AlignMethod = *method
	}
	if *threshold >= 0 {
		cfg.Masking.VarianceThreshold = *threshold
	}
	if *minRatio >= 0 {
		cfg.Masking.MinUsefulRatio = *minRatio
	}
	if *sweep != "" {
		values, err := parseFloatList(*sweep)
		if err != nil {
			logrus.Fatalf("Invalid -sweep: %v", err)
		}
		cfg.Masking.SweepThresholds = values
	}
	if *quicklook {
		cfg.Output.Quicklook = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if len(cfg.Inputs) == 0 {
		fmt.Fprintln(os.Stderr, "No inputs: set -input or the inputs section of the config file")
		flag.Usage()
		os.Exit(1)
	}

	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Output.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	jobs, err := pipeline.JobsFromConfig(cfg)
	if err != nil {
		logger.Fatalf("Failed to collect input files: %v", err)
	}
	if len(jobs) == 0 {
		logger.Fatal("No header files found in the input directories")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"files":   len(jobs),
		"workers": cfg.Processing.NumWorkers,
		"bands":   cfg.Processing.TargetBands,
		"method":  cfg.Processing.AlignMethod,
	}).Info("Preparing cubes")

	startTime := time.Now()
	results, err := pipeline.Batch(ctx, jobs, cfg.Processing.NumWorkers, logger)
	if err != nil {
		logger.WithError(err).Warn("Batch interrupted")
	}
	processingTime := time.Since(startTime)

	summary := pipeline.Summarize(results)
	fmt.Printf("\nPrepared %d of %d cubes in %.2f seconds\n", summary.Succeeded, summary.Total, processingTime.Seconds())
	if summary.Relaxed > 0 {
		fmt.Printf("- %d cubes needed a relaxed variance threshold\n", summary.Relaxed)
	}
	if summary.BelowConfidence > 0 {
		fmt.Printf("- %d cubes stayed below the minimum useful ratio\n", summary.BelowConfidence)
	}
	if summary.Failed > 0 {
		fmt.Printf("- %d cubes failed:\n", summary.Failed)
		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("  %s: %v\n", r.HeaderPath, r.Err)
			}
		}
	}
	if cfg.Output.Dir != "" {
		fmt.Printf("Outputs written to: %s\n", cfg.Output.Dir)
	}

	if summary.Succeeded == 0 {
		os.Exit(1)
	}
}

func parseFloatList(s string) ([]float64, error) {
	var values []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
