// Package bands changes the spectral band count of a cube so that
// acquisitions from different sensors share one band layout.
package bands

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"

	"hsiprep/internal/models"
	"hsiprep/pkg/hsierr"
)

// Method selects how bands are added or removed
type Method string

const (
	// MethodCrop keeps the first target bands. It never invents bands.
	MethodCrop Method = "crop"

	// MethodInterpolate resamples the spectrum linearly onto target evenly
	// spaced positions covering the same range as the source bands.
	MethodInterpolate Method = "interpolate"

	// MethodBin averages contiguous groups of source bands. Downsampling only.
	MethodBin Method = "bin"
)

// Methods lists the supported alignment methods
var Methods = []Method{MethodCrop, MethodInterpolate, MethodBin}

// ParseMethod converts a method name into a Method
func ParseMethod(name string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", &hsierr.UnsupportedFormatError{Field: "alignment method", Value: name}
}

// Align returns a new cube with exactly target bands and the spatial extent
// of cube. current must equal cube.Bands; it is passed explicitly so that a
// caller working from stale metadata fails here instead of silently
// reinterpreting the cube.
func Align(cube *models.Cube, current, target int, method Method) (*models.Cube, error) {
	if err := checkArgs(cube, current, target, method); err != nil {
		return nil, err
	}
	if current == target {
		return cube.Clone(), nil
	}

	out := models.NewCube(cube.Height, cube.Width, target, cube.SampleType)
	if method != MethodCrop && cube.SampleType.IsUnsignedInteger() {
		out.SampleType = models.SampleFloat64
	}

	align := spectrumAligner(current, target, method)
	for r := 0; r < cube.Height; r++ {
		for c := 0; c < cube.Width; c++ {
			if err := align(out.Pixel(r, c), cube.Pixel(r, c)); err != nil {
				return nil, fmt.Errorf("aligning pixel (%d, %d): %w", r, c, err)
			}
		}
	}
	return out, nil
}

// AlignWavelengths applies the same band transformation Align would apply to
// a spectrum to the list of band centre wavelengths.
func AlignWavelengths(wavelengths []float64, target int, method Method) ([]float64, error) {
	current := len(wavelengths)
	if current == 0 {
		return nil, &hsierr.PreconditionError{Param: "wavelengths", Reason: "empty list"}
	}
	cube := &models.Cube{Data: wavelengths, Height: 1, Width: 1, Bands: current, SampleType: models.SampleFloat64}
	out, err := Align(cube, current, target, method)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func checkArgs(cube *models.Cube, current, target int, method Method) error {
	if err := cube.Validate(); err != nil {
		return err
	}
	if current != cube.Bands {
		return &hsierr.PreconditionError{Param: "current bands", Expected: cube.Bands, Actual: current}
	}
	if target < 1 {
		return &hsierr.PreconditionError{Param: "target bands", Reason: fmt.Sprintf("must be at least 1, got %d", target)}
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return err
	}
	if current < target && (method == MethodCrop || method == MethodBin) {
		return &hsierr.InsufficientBandsError{Available: current, Requested: target, Method: string(method)}
	}
	return nil
}

// spectrumAligner returns a function writing the target-band version of
// one source spectrum into dst.
func spectrumAligner(current, target int, method Method) func(dst, src []float64) error {
	switch method {
	case MethodCrop:
		return func(dst, src []float64) error {
			copy(dst, src[:target])
			return nil
		}

	case MethodBin:
		return func(dst, src []float64) error {
			for j := range dst {
				start := j * current / target
				end := (j + 1) * current / target
				dst[j] = stat.Mean(src[start:end], nil)
			}
			return nil
		}

	default:
		if current == 1 {
			return func(dst, src []float64) error {
				for j := range dst {
					dst[j] = src[0]
				}
				return nil
			}
		}
		xs := bandPositions(current)
		positions := bandPositions(target)
		var pl interp.PiecewiseLinear
		return func(dst, src []float64) error {
			if err := pl.Fit(xs, src); err != nil {
				return err
			}
			for j, x := range positions {
				dst[j] = pl.Predict(x)
			}
			return nil
		}
	}
}

// bandPositions spreads n band positions evenly over [0, 1]. A single band
// sits in the middle of the range.
func bandPositions(n int) []float64 {
	if n == 1 {
		return []float64{0.5}
	}
	pos := make([]float64, n)
	for i := range pos {
		pos[i] = float64(i) / float64(n-1)
	}
	return pos
}
