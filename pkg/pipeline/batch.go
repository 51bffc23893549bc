package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hsiprep/pkg/background"
	"hsiprep/pkg/bands"
	"hsiprep/pkg/config"
	"hsiprep/pkg/envi"
	"hsiprep/pkg/hsierr"
)

// DefaultHeaderExtension is used when an input does not name one
const DefaultHeaderExtension = ".hdr"

// Job is one file to prepare with the parameters of its batch
type Job struct {
	HeaderPath string
	Params     *Params
}

// Summary counts the outcome of a batch
type Summary struct {
	Total           int
	Succeeded       int
	Failed          int
	Relaxed         int
	BelowConfidence int
}

// Discover lists the header files in dir with extension ext (".hdr" when
// empty), sorted by name
func Discover(dir, ext string) ([]string, error) {
	if ext == "" {
		ext = DefaultHeaderExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &hsierr.NotFoundError{Path: dir, Err: err}
		}
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var headers []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			headers = append(headers, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(headers)
	return headers, nil
}

// ParamsFromConfig builds the parameters of one input batch. Outputs of the
// batch go to a subdirectory of the output directory named after the input
// directory.
func ParamsFromConfig(cfg *config.Config, in config.Input) (*Params, error) {
	method, err := bands.ParseMethod(cfg.Processing.AlignMethod)
	if err != nil {
		return nil, err
	}
	fallback, err := background.ParseFallback(cfg.Masking.Fallback)
	if err != nil {
		return nil, err
	}
	interleave, err := envi.ParseInterleave(cfg.Output.Interleave)
	if err != nil {
		return nil, err
	}

	params := &Params{
		TargetBands:       cfg.Processing.TargetBands,
		AlignMethod:       method,
		Normalize:         cfg.Processing.Normalize,
		Crop:              in.Crop,
		VarianceThreshold: cfg.ThresholdFor(in),
		MinUsefulRatio:    cfg.Masking.MinUsefulRatio,
		FillBackground:    cfg.Masking.FillBackground,
		Fallback:          fallback,
		MaskWorkers:       1,
		SweepThresholds:   cfg.Masking.SweepThresholds,
		WriteCube:         cfg.Output.WriteCube,
		WriteMask:         cfg.Output.WriteMask,
		Quicklook:         cfg.Output.Quicklook,
		Interleave:        interleave,
	}
	if cfg.Output.Dir != "" {
		params.OutputDir = filepath.Join(cfg.Output.Dir, config.OutputSubdir(in))
	}
	return params, nil
}

// JobsFromConfig discovers the files of every configured input
func JobsFromConfig(cfg *config.Config) ([]Job, error) {
	var jobs []Job
	for i, in := range cfg.Inputs {
		params, err := ParamsFromConfig(cfg, in)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		headers, err := Discover(in.Dir, in.Extension)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		for _, h := range headers {
			jobs = append(jobs, Job{HeaderPath: h, Params: params})
		}
	}
	return jobs, nil
}

// Batch prepares every job with at most workers files in flight. A failing
// file is logged and recorded in its result; it does not stop the batch.
// Results are in job order. Once ctx is cancelled the remaining files are
// skipped with the context error and that error is returned.
func Batch(ctx context.Context, jobs []Job, workers int, logger logrus.FieldLogger) ([]FileResult, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]FileResult, len(jobs))
	g := new(errgroup.Group)
	g.SetLimit(workers)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = FileResult{HeaderPath: job.HeaderPath, Err: err}
				return nil
			}
			res, err := NewProcessor(job.Params, logger).Process(ctx, job.HeaderPath)
			if err != nil {
				logger.WithField("file", job.HeaderPath).WithError(err).Error("Failed to prepare cube")
			}
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

// Summarize counts outcomes of results
func Summarize(results []FileResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
			continue
		}
		s.Succeeded++
		if r.Stats.Relaxed {
			s.Relaxed++
		}
		if r.Stats.BelowConfidence {
			s.BelowConfidence++
		}
	}
	return s
}
