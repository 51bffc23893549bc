// Package background separates useful pixels from background in a
// hyperspectral cube.
//
// Empty conveyor belt, saturated sensor regions and out-of-focus margins
// have nearly flat spectra, while material of interest shows absorption and
// reflectance features. A pixel is therefore kept when the variance of its
// spectrum exceeds a threshold.
package background

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"hsiprep/internal/models"
	"hsiprep/pkg/hsierr"
)

// BackgroundValue is written to every band of a background pixel when
// filling is requested
const BackgroundValue = 0.0

// Fallback selects what happens when the requested threshold leaves fewer
// than MinUsefulRatio of the pixels as foreground
type Fallback int

const (
	// FallbackRelax lowers the threshold just far enough to reach the ratio
	// and reports the applied threshold in Stats
	FallbackRelax Fallback = iota

	// FallbackFlag keeps the requested threshold and sets
	// Stats.BelowConfidence
	FallbackFlag
)

func (f Fallback) String() string {
	switch f {
	case FallbackRelax:
		return "relax"
	case FallbackFlag:
		return "flag"
	default:
		return fmt.Sprintf("Fallback(%d)", int(f))
	}
}

// ParseFallback converts "relax" or "flag" into a Fallback
func ParseFallback(name string) (Fallback, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "relax", "":
		return FallbackRelax, nil
	case "flag":
		return FallbackFlag, nil
	default:
		return 0, &hsierr.UnsupportedFormatError{Field: "fallback policy", Value: name}
	}
}

// Options configures FilterWithOptions
type Options struct {
	// Crop restricts masking to a spatial rectangle. Nil means the full cube.
	Crop *models.CropRegion

	// VarianceThreshold is the spectral variance a pixel must exceed to be
	// foreground
	VarianceThreshold float64

	// MinUsefulRatio is the foreground fraction below which the threshold
	// is considered too aggressive
	MinUsefulRatio float64

	// FillBackground sets every band of background pixels to BackgroundValue
	FillBackground bool

	Fallback Fallback

	// Workers bounds the goroutines used for the variance computation,
	// 0 for one per CPU
	Workers int
}

// Filter computes the background mask of cube and returns the filtered cube,
// the mask and the run statistics. It uses the FallbackRelax policy.
func Filter(cube *models.Cube, crop *models.CropRegion, varianceThreshold, minUsefulRatio float64, fillBackground bool) (*models.Cube, *models.Mask, models.Stats, error) {
	return FilterWithOptions(cube, Options{
		Crop:              crop,
		VarianceThreshold: varianceThreshold,
		MinUsefulRatio:    minUsefulRatio,
		FillBackground:    fillBackground,
		Fallback:          FallbackRelax,
	})
}

// FilterWithOptions is Filter with an explicit fallback policy and worker
// count. The input cube is never modified; the returned cube is a copy of the
// (cropped) input, with background pixels filled if requested.
func FilterWithOptions(cube *models.Cube, opts Options) (*models.Cube, *models.Mask, models.Stats, error) {
	if err := cube.Validate(); err != nil {
		return nil, nil, models.Stats{}, err
	}
	if err := checkOptions(opts); err != nil {
		return nil, nil, models.Stats{}, err
	}

	var out *models.Cube
	if opts.Crop != nil {
		var err error
		if out, err = Crop(cube, *opts.Crop); err != nil {
			return nil, nil, models.Stats{}, err
		}
	} else {
		out = cube.Clone()
	}

	vm, err := ComputeVariances(out, opts.Workers)
	if err != nil {
		return nil, nil, models.Stats{}, err
	}

	stats := models.Stats{
		TotalPixels:        out.Pixels(),
		RequestedThreshold: opts.VarianceThreshold,
		AppliedThreshold:   opts.VarianceThreshold,
		MinUsefulRatio:     opts.MinUsefulRatio,
	}
	useful := vm.Count(stats.AppliedThreshold)

	if ratio(useful, stats.TotalPixels) < opts.MinUsefulRatio && opts.Fallback == FallbackRelax {
		relaxed := relaxThreshold(vm.Values, opts.MinUsefulRatio, opts.VarianceThreshold)
		if n := vm.Count(relaxed); relaxed < opts.VarianceThreshold && n > useful {
			stats.AppliedThreshold = relaxed
			stats.Relaxed = true
			useful = n
		}
	}

	stats.UsefulPixels = useful
	stats.UsefulRatio = ratio(useful, stats.TotalPixels)
	stats.BelowConfidence = stats.UsefulRatio < opts.MinUsefulRatio

	mask := vm.Mask(stats.AppliedThreshold)
	if opts.FillBackground {
		fill(out, mask)
	}
	return out, mask, stats, nil
}

func checkOptions(opts Options) error {
	if math.IsNaN(opts.VarianceThreshold) || opts.VarianceThreshold < 0 {
		return &hsierr.PreconditionError{
			Param:  "variance threshold",
			Reason: fmt.Sprintf("must be a non-negative number, got %v", opts.VarianceThreshold),
		}
	}
	if math.IsNaN(opts.MinUsefulRatio) || opts.MinUsefulRatio < 0 || opts.MinUsefulRatio > 1 {
		return &hsierr.PreconditionError{
			Param:  "min useful ratio",
			Reason: fmt.Sprintf("must be within [0, 1], got %v", opts.MinUsefulRatio),
		}
	}
	if opts.Fallback != FallbackRelax && opts.Fallback != FallbackFlag {
		return &hsierr.UnsupportedFormatError{Field: "fallback policy", Value: opts.Fallback.String()}
	}
	return nil
}

// relaxThreshold returns the largest threshold (not below 0) that keeps at
// least ceil(minRatio * n) pixels, i.e. a value just under the k-th largest
// variance. NaN variances are ignored. If the ratio cannot be reached the
// returned threshold keeps as many pixels as a non-negative threshold can.
func relaxThreshold(variances []float64, minRatio, requested float64) float64 {
	finite := make([]float64, 0, len(variances))
	for _, v := range variances {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return requested
	}
	sort.Float64s(finite)

	// tolerate minRatio*n landing a rounding error above an integer
	k := int(math.Ceil(minRatio*float64(len(variances)) - 1e-9))
	if k < 1 {
		k = 1
	}
	if k > len(finite) {
		k = len(finite)
	}

	relaxed := math.Nextafter(finite[len(finite)-k], math.Inf(-1))
	if relaxed < 0 {
		relaxed = 0
	}
	return relaxed
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func fill(cube *models.Cube, mask *models.Mask) {
	for r := 0; r < cube.Height; r++ {
		for c := 0; c < cube.Width; c++ {
			if mask.At(r, c) {
				continue
			}
			px := cube.Pixel(r, c)
			for b := range px {
				px[b] = BackgroundValue
			}
		}
	}
}

// Crop returns a copy of the rectangle region of cube. The region must be
// non-empty and lie inside the cube.
func Crop(cube *models.Cube, region models.CropRegion) (*models.Cube, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if err := region.ValidateFor(cube.Height, cube.Width); err != nil {
		return nil, err
	}

	out := models.NewCube(region.Height(), region.Width(), cube.Bands, cube.SampleType)
	rowLen := region.Width() * cube.Bands
	for r := 0; r < region.Height(); r++ {
		src := cube.Index(region.Top+r, region.Left, 0)
		copy(out.Data[r*rowLen:(r+1)*rowLen], cube.Data[src:src+rowLen])
	}
	return out, nil
}
