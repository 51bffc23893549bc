// Package pipeline prepares hyperspectral cubes for training and inference:
// every file goes through loading, normalization, spatial crop, band
// alignment and background masking, and the results are written next to a
// per-file record of what each stage did.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hsiprep/internal/models"
	"hsiprep/pkg/background"
	"hsiprep/pkg/bands"
	"hsiprep/pkg/envi"
	"hsiprep/pkg/normalize"
	"hsiprep/pkg/quicklook"
)

// QuicklookMinSide is the shortest side of review images; narrower cubes are
// upscaled to it
const QuicklookMinSide = 256

// Params holds the preparation parameters for one acquisition batch
type Params struct {
	// TargetBands is the band count every cube is aligned to
	TargetBands int

	// AlignMethod selects how the band axis is resized
	AlignMethod bands.Method

	// Normalize rescales samples into [0, 1] before alignment
	Normalize bool

	// Crop is the spatial rectangle kept from every cube, nil for all of it
	Crop *models.CropRegion

	// VarianceThreshold, MinUsefulRatio, FillBackground and Fallback
	// configure the background mask
	VarianceThreshold float64
	MinUsefulRatio    float64
	FillBackground    bool
	Fallback          background.Fallback

	// MaskWorkers bounds the goroutines computing pixel variances of one
	// cube, 0 for one per CPU
	MaskWorkers int

	// SweepThresholds are evaluated and logged after masking when not empty
	SweepThresholds []float64

	// OutputDir receives the written files. Nothing is written when empty.
	OutputDir string

	WriteCube  bool
	WriteMask  bool
	Quicklook  bool
	Interleave envi.Interleave
}

// FileResult records what happened to one input file
type FileResult struct {
	HeaderPath string
	DataPath   string

	// Source geometry and sample type as read from disk
	SourceHeight int
	SourceWidth  int
	SourceBands  int
	SourceType   models.SampleType

	Normalization normalize.Report

	// Stats of the background mask
	Stats models.Stats

	// Sweep holds one entry per configured sweep threshold
	Sweep []models.Stats

	// Outputs lists every file written
	Outputs []string

	Duration time.Duration

	// Err is set when the file could not be prepared
	Err error
}

// Processor runs the preparation stages on single files
type Processor struct {
	params *Params
	log    logrus.FieldLogger
}

// NewProcessor creates a processor. A nil logger uses the logrus standard
// logger.
func NewProcessor(params *Params, logger logrus.FieldLogger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{params: params, log: logger}
}

// Process prepares the cube described by headerPath. The returned result is
// never nil; on failure its Err field holds the returned error.
func (p *Processor) Process(ctx context.Context, headerPath string) (*FileResult, error) {
	start := time.Now()
	res := &FileResult{HeaderPath: headerPath}
	err := p.process(ctx, res)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return res, err
	}
	return res, nil
}

func (p *Processor) process(ctx context.Context, res *FileResult) error {
	log := p.log.WithField("file", filepath.Base(res.HeaderPath))

	// Step 1: load
	if err := ctx.Err(); err != nil {
		return err
	}
	dataPath, err := envi.DataPathFor(res.HeaderPath)
	if err != nil {
		return fmt.Errorf("failed to locate data file: %w", err)
	}
	res.DataPath = dataPath

	cube, meta, err := envi.Load(res.HeaderPath, dataPath)
	if err != nil {
		return fmt.Errorf("failed to load cube: %w", err)
	}
	res.SourceHeight, res.SourceWidth, res.SourceBands = cube.Shape()
	res.SourceType = cube.SampleType
	log.WithFields(logrus.Fields{
		"stage":  "load",
		"shape":  fmt.Sprintf("%dx%dx%d", cube.Height, cube.Width, cube.Bands),
		"sample": cube.SampleType.String(),
	}).Debug("Loaded cube")

	// Step 2: normalize
	if p.params.Normalize {
		var report normalize.Report
		cube, report = normalize.NormalizeWithReport(cube)
		res.Normalization = report
		entry := log.WithFields(logrus.Fields{
			"stage":   "normalize",
			"divisor": report.Divisor,
			"min":     report.ObservedMin,
			"max":     report.ObservedMax,
		})
		if report.Heuristic {
			entry.Warn("Float cube above plausible normalized range, rescaled as 16-bit counts")
		} else {
			entry.Debug("Normalized cube")
		}
	}

	// Step 3: spatial crop
	if p.params.Crop != nil {
		if cube, err = background.Crop(cube, *p.params.Crop); err != nil {
			return fmt.Errorf("failed to crop cube: %w", err)
		}
		log.WithFields(logrus.Fields{"stage": "crop", "region": p.params.Crop.String()}).Debug("Cropped cube")
	}

	// Step 4: band alignment
	if err := ctx.Err(); err != nil {
		return err
	}
	sourceBands := cube.Bands
	if cube, err = bands.Align(cube, sourceBands, p.params.TargetBands, p.params.AlignMethod); err != nil {
		return fmt.Errorf("failed to align bands: %w", err)
	}
	if err := alignBandFields(meta, sourceBands, p.params.TargetBands, p.params.AlignMethod); err != nil {
		log.WithError(err).Warn("Dropping band metadata that could not be aligned")
	}
	log.WithFields(logrus.Fields{
		"stage":  "align",
		"method": p.params.AlignMethod,
		"bands":  fmt.Sprintf("%d->%d", sourceBands, cube.Bands),
	}).Debug("Aligned bands")

	// Step 5: background mask
	if err := ctx.Err(); err != nil {
		return err
	}
	filtered, mask, stats, err := background.FilterWithOptions(cube, background.Options{
		VarianceThreshold: p.params.VarianceThreshold,
		MinUsefulRatio:    p.params.MinUsefulRatio,
		FillBackground:    p.params.FillBackground,
		Fallback:          p.params.Fallback,
		Workers:           p.params.MaskWorkers,
	})
	if err != nil {
		return fmt.Errorf("failed to mask background: %w", err)
	}
	res.Stats = stats
	entry := log.WithFields(logrus.Fields{
		"stage":        "mask",
		"threshold":    stats.AppliedThreshold,
		"useful_ratio": stats.UsefulRatio,
	})
	switch {
	case stats.BelowConfidence:
		entry.Warnf("Useful ratio below %.2f even after fallback", stats.MinUsefulRatio)
	case stats.Relaxed:
		entry.Warnf("Threshold relaxed from %g", stats.RequestedThreshold)
	default:
		entry.Info("Masked background")
	}

	if len(p.params.SweepThresholds) > 0 {
		sweep, err := background.Sweep(cube, nil, p.params.SweepThresholds, p.params.MinUsefulRatio)
		if err != nil {
			return fmt.Errorf("failed to sweep thresholds: %w", err)
		}
		res.Sweep = sweep
		for _, s := range sweep {
			log.WithFields(logrus.Fields{
				"stage":        "sweep",
				"threshold":    s.RequestedThreshold,
				"useful_ratio": s.UsefulRatio,
			}).Info("Threshold candidate")
		}
	}

	// Step 6: write outputs
	if p.params.OutputDir == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	outputs, err := p.writeOutputs(res.HeaderPath, filtered, mask, meta)
	res.Outputs = outputs
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"stage": "write", "files": len(outputs)}).Debug("Wrote outputs")
	return nil
}

func (p *Processor) writeOutputs(headerPath string, cube *models.Cube, mask *models.Mask, meta *envi.Metadata) ([]string, error) {
	stem := Stem(headerPath)
	var outputs []string

	if p.params.WriteCube {
		out := *cube
		out.SampleType = models.SampleFloat32
		hdr := filepath.Join(p.params.OutputDir, stem+"_prepared.hdr")
		img := filepath.Join(p.params.OutputDir, stem+"_prepared.img")
		err := envi.Save(&out, hdr, img,
			envi.WithInterleave(p.params.Interleave),
			envi.WithMetadata(meta),
			envi.WithDescription(fmt.Sprintf("prepared from %s", filepath.Base(headerPath))))
		if err != nil {
			return outputs, fmt.Errorf("failed to write cube: %w", err)
		}
		outputs = append(outputs, hdr, img)
	}

	if p.params.WriteMask {
		hdr := filepath.Join(p.params.OutputDir, stem+"_mask.hdr")
		img := filepath.Join(p.params.OutputDir, stem+"_mask.img")
		if err := envi.SaveMask(mask, hdr, img, envi.WithDescription("background mask, 1 = useful")); err != nil {
			return outputs, fmt.Errorf("failed to write mask: %w", err)
		}
		outputs = append(outputs, hdr, img)
	}

	if p.params.Quicklook {
		viewer := quicklook.NewViewer(cube, QuicklookMinSide)
		paths, err := viewer.SaveReview(filepath.Join(p.params.OutputDir, "quicklook"), stem, mask)
		outputs = append(outputs, paths...)
		if err != nil {
			return outputs, fmt.Errorf("failed to write quick-look images: %w", err)
		}
	}
	return outputs, nil
}

// per-band header fields that only stay valid when bands are cropped
var bandListFields = []string{"fwhm", "band names", "bbl"}

// alignBandFields keeps per-band header lists consistent with the aligned
// cube. Wavelengths follow the spectra; other lists survive a crop and are
// dropped otherwise.
func alignBandFields(meta *envi.Metadata, current, target int, method bands.Method) error {
	meta.Delete("default bands")

	for _, key := range bandListFields {
		items, ok := meta.List(key)
		if !ok {
			continue
		}
		if method == bands.MethodCrop && len(items) == current && target <= current {
			meta.Set(key, "{"+strings.Join(items[:target], ", ")+"}")
		} else {
			meta.Delete(key)
		}
	}

	if _, ok := meta.Get(envi.FieldWavelength); !ok {
		return nil
	}
	wl, err := meta.Float64List(envi.FieldWavelength)
	if err == nil && len(wl) != current {
		err = fmt.Errorf("header lists %d wavelengths for %d bands", len(wl), current)
	}
	if err == nil {
		wl, err = bands.AlignWavelengths(wl, target, method)
	}
	if err != nil {
		meta.Delete(envi.FieldWavelength)
		return err
	}
	meta.SetFloat64List(envi.FieldWavelength, wl)
	return nil
}

// dataSuffixes are stripped from stems of "cube.img.hdr" style headers
var dataSuffixes = map[string]bool{".img": true, ".raw": true, ".dat": true, ".bil": true, ".bip": true, ".bsq": true}

// Stem returns the base name used for the outputs of headerPath
func Stem(headerPath string) string {
	base := filepath.Base(headerPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if ext := filepath.Ext(base); dataSuffixes[strings.ToLower(ext)] {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
