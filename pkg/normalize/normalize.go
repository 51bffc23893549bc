// Package normalize rescales raw cube samples into the canonical [0, 1]
// floating point range used by the band alignment and masking stages.
package normalize

import (
	"gonum.org/v1/gonum/floats"

	"hsiprep/internal/models"
)

// PlausibleNormalizedMax is the largest observed value a floating point cube
// may hold and still be treated as already normalized. Reflectance and
// normalized radiance stay within a few units of 1, while 16-bit counts that
// some acquisition software writes out with a float data type reach the
// thousands. Cubes above it get the 16-bit rescale.
//
// This is a heuristic: a float cube with genuine values above 1000 is
// rescaled as well, and a mislabeled integer cube whose counts stay below
// 1000 is not.
const PlausibleNormalizedMax = 1000.0

// heuristicDivisor is applied to float cubes that exceed PlausibleNormalizedMax
const heuristicDivisor = 65535.0

// Report describes what Normalize did to a cube
type Report struct {
	// Divisor is the value every sample was divided by, 1 if unchanged
	Divisor float64

	// Heuristic is set when the divisor came from the float fallback
	Heuristic bool

	ObservedMin float64
	ObservedMax float64
}

// Normalize returns a float64 copy of cube rescaled into [0, 1].
//
// Unsigned integer cubes are divided by the maximum value of their type.
// Float cubes are divided by 65535 only if their maximum exceeds
// PlausibleNormalizedMax. Results are not clamped.
func Normalize(cube *models.Cube) *models.Cube {
	out, _ := NormalizeWithReport(cube)
	return out
}

// NormalizeWithReport is Normalize that also reports the scaling it applied
func NormalizeWithReport(cube *models.Cube) (*models.Cube, Report) {
	out := cube.Clone()
	out.SampleType = models.SampleFloat64

	report := Report{Divisor: 1}
	if len(cube.Data) == 0 {
		return out, report
	}
	report.ObservedMin = floats.Min(cube.Data)
	report.ObservedMax = floats.Max(cube.Data)

	switch {
	case cube.SampleType.IsUnsignedInteger():
		report.Divisor = cube.SampleType.MaxValue()
	case report.ObservedMax > PlausibleNormalizedMax:
		report.Divisor = heuristicDivisor
		report.Heuristic = true
	default:
		return out, report
	}

	// divide rather than scale by the reciprocal so the type maximum maps to exactly 1
	for i, v := range out.Data {
		out.Data[i] = v / report.Divisor
	}
	return out, report
}
