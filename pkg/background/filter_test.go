package background

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"hsiprep/internal/models"
	"hsiprep/pkg/hsierr"
)

// createBlockCube builds a height x width x bands cube whose pixels alternate
// between mean+d and mean-d across bands, giving a population variance of
// exactly d*d. Pixels inside block get variance hi, the rest lo.
func createBlockCube(height, width, bands int, block models.CropRegion, hi, lo float64) *models.Cube {
	cube := models.NewCube(height, width, bands, models.SampleFloat64)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			variance := lo
			if r >= block.Top && r < block.Bottom && c >= block.Left && c < block.Right {
				variance = hi
			}
			d := math.Sqrt(variance)
			for b := 0; b < bands; b++ {
				v := 0.5 + d
				if b%2 == 1 {
					v = 0.5 - d
				}
				cube.Set(r, c, b, v)
			}
		}
	}
	return cube
}

// createNoiseCube builds a cube with pseudo-random spectra of varying spread
func createNoiseCube(height, width, bands int, seed int64) *models.Cube {
	rng := rand.New(rand.NewSource(seed))
	cube := models.NewCube(height, width, bands, models.SampleFloat64)
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			spread := rng.Float64()
			for b := 0; b < bands; b++ {
				cube.Set(r, c, b, 0.5+spread*(rng.Float64()-0.5))
			}
		}
	}
	return cube
}

var centerBlock = models.CropRegion{Top: 10, Bottom: 30, Left: 15, Right: 35}

// TestFilterBlockScenario verifies the 50x50x10 scenario: a 20x20 block with
// spectral variance 0.5 on a 0.001 background is recovered exactly
func TestFilterBlockScenario(t *testing.T) {
	cube := createBlockCube(50, 50, 10, centerBlock, 0.5, 0.001)

	_, mask, stats, err := Filter(cube, nil, 0.01, 0.1, true)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	for r := 0; r < 50; r++ {
		for c := 0; c < 50; c++ {
			inBlock := r >= 10 && r < 30 && c >= 15 && c < 35
			if mask.At(r, c) != inBlock {
				t.Fatalf("Mask at (%d,%d): expected %v, got %v", r, c, inBlock, mask.At(r, c))
			}
		}
	}

	if stats.TotalPixels != 2500 || stats.UsefulPixels != 400 {
		t.Errorf("Expected 400/2500 useful pixels, got %d/%d", stats.UsefulPixels, stats.TotalPixels)
	}
	if math.Abs(stats.UsefulRatio-0.16) > 1e-12 {
		t.Errorf("Expected useful ratio 0.16, got %v", stats.UsefulRatio)
	}
	if stats.Relaxed || stats.BelowConfidence || stats.AppliedThreshold != 0.01 {
		t.Errorf("No fallback expected, got %+v", stats)
	}
}

// TestFilterMonotonicity verifies that a higher threshold never keeps more pixels
func TestFilterMonotonicity(t *testing.T) {
	cube := createNoiseCube(30, 20, 12, 7)
	thresholds := []float64{0, 0.001, 0.005, 0.01, 0.02, 0.04, 0.08, 1}

	for _, minRatio := range []float64{0, 0.3} {
		prev := math.MaxInt
		for _, th := range thresholds {
			_, mask, stats, err := Filter(cube, nil, th, minRatio, false)
			if err != nil {
				t.Fatalf("Filter failed: %v", err)
			}
			if n := mask.Count(); n > prev {
				t.Fatalf("minRatio %v: threshold %v kept %d pixels, more than %d at a lower threshold", minRatio, th, n, prev)
			} else {
				prev = n
			}
			if stats.UsefulPixels != mask.Count() {
				t.Errorf("Stats report %d useful pixels, mask has %d", stats.UsefulPixels, mask.Count())
			}
		}
	}
}

// TestFilterFallbackRelax verifies that an over-aggressive threshold is
// lowered and that the lowering is visible in the stats
func TestFilterFallbackRelax(t *testing.T) {
	cube := createBlockCube(50, 50, 10, centerBlock, 0.5, 0.001)

	_, mask, stats, err := Filter(cube, nil, 0.01, 0.3, false)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	if !stats.Relaxed {
		t.Fatal("Expected the threshold to be relaxed")
	}
	if stats.AppliedThreshold >= stats.RequestedThreshold {
		t.Errorf("Applied threshold %v should be below requested %v", stats.AppliedThreshold, stats.RequestedThreshold)
	}
	if stats.UsefulRatio < 0.3 || stats.BelowConfidence {
		t.Errorf("Relaxed run should reach the minimum ratio, got %+v", stats)
	}
	if mask.Count() != stats.UsefulPixels {
		t.Errorf("Mask count %d disagrees with stats %d", mask.Count(), stats.UsefulPixels)
	}
}

// TestFilterFallbackRelaxMinimal verifies that relaxation stops at the k-th
// largest variance instead of keeping everything
func TestFilterFallbackRelaxMinimal(t *testing.T) {
	cube := models.NewCube(1, 10, 2, models.SampleFloat64)
	for c := 0; c < 10; c++ {
		d := float64(c+1) / 10
		cube.Set(0, c, 0, -d)
		cube.Set(0, c, 1, d)
	}

	// variances are (c+1)^2/100; only the last pixel exceeds 0.9
	_, mask, stats, err := Filter(cube, nil, 0.9, 0.3, false)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if stats.UsefulPixels != 3 {
		t.Fatalf("Expected exactly the 3 highest-variance pixels, got %d", stats.UsefulPixels)
	}
	for c := 7; c < 10; c++ {
		if !mask.At(0, c) {
			t.Errorf("Expected pixel %d in foreground", c)
		}
	}
}

// TestFilterFallbackFlag verifies that the flag policy keeps the threshold
// and marks the result as below confidence
func TestFilterFallbackFlag(t *testing.T) {
	cube := createBlockCube(50, 50, 10, centerBlock, 0.5, 0.001)

	_, _, stats, err := FilterWithOptions(cube, Options{
		VarianceThreshold: 0.01,
		MinUsefulRatio:    0.3,
		Fallback:          FallbackFlag,
	})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if stats.Relaxed || stats.AppliedThreshold != 0.01 {
		t.Errorf("Flag policy must not change the threshold, got %+v", stats)
	}
	if !stats.BelowConfidence {
		t.Error("Expected BelowConfidence to be set")
	}
}

// TestFilterFlatCube verifies that a cube without spectral structure is
// flagged rather than relaxed into an all-foreground mask
func TestFilterFlatCube(t *testing.T) {
	cube := models.NewCube(8, 8, 5, models.SampleFloat64)

	_, mask, stats, err := Filter(cube, nil, 0.01, 0.3, true)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if mask.Count() != 0 {
		t.Errorf("Expected empty mask, got %d pixels", mask.Count())
	}
	if !stats.BelowConfidence {
		t.Error("Expected BelowConfidence for a flat cube")
	}
	if stats.Relaxed {
		t.Error("A relaxation that gains no pixels must not be reported")
	}
	if stats.AppliedThreshold < 0 {
		t.Errorf("Applied threshold must not be negative, got %v", stats.AppliedThreshold)
	}
}

// TestFilterFillBackground verifies both fill modes
func TestFilterFillBackground(t *testing.T) {
	cube := createBlockCube(50, 50, 10, centerBlock, 0.5, 0.001)
	before := cube.Clone()
	crop := &models.CropRegion{Top: 5, Bottom: 40, Left: 0, Right: 45}

	t.Run("NoFill", func(t *testing.T) {
		out, _, _, err := Filter(cube, crop, 0.01, 0, false)
		if err != nil {
			t.Fatalf("Filter failed: %v", err)
		}
		expected, err := Crop(cube, *crop)
		if err != nil {
			t.Fatalf("Crop failed: %v", err)
		}
		if out.Height != expected.Height || out.Width != expected.Width || out.Bands != expected.Bands {
			t.Fatalf("Expected %dx%dx%d, got %dx%dx%d", expected.Height, expected.Width, expected.Bands, out.Height, out.Width, out.Bands)
		}
		for i := range expected.Data {
			if out.Data[i] != expected.Data[i] {
				t.Fatalf("Sample %d: expected %v, got %v", i, expected.Data[i], out.Data[i])
			}
		}
	})

	t.Run("Fill", func(t *testing.T) {
		out, mask, _, err := Filter(cube, crop, 0.01, 0, true)
		if err != nil {
			t.Fatalf("Filter failed: %v", err)
		}
		for r := 0; r < out.Height; r++ {
			for c := 0; c < out.Width; c++ {
				for b := 0; b < out.Bands; b++ {
					want := cube.At(r+crop.Top, c+crop.Left, b)
					if !mask.At(r, c) {
						want = BackgroundValue
					}
					if got := out.At(r, c, b); got != want {
						t.Fatalf("(%d,%d,%d): expected %v, got %v", r, c, b, want, got)
					}
				}
			}
		}
	})

	for i := range cube.Data {
		if cube.Data[i] != before.Data[i] {
			t.Fatal("Input cube was modified")
		}
	}
}

// TestFilterCropRegion verifies that the mask covers only the crop rectangle
func TestFilterCropRegion(t *testing.T) {
	cube := createBlockCube(50, 50, 10, centerBlock, 0.5, 0.001)
	crop := &models.CropRegion{Top: 10, Bottom: 20, Left: 0, Right: 25}

	out, mask, stats, err := Filter(cube, crop, 0.01, 0, false)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if mask.Height != 10 || mask.Width != 25 || out.Height != 10 || out.Width != 25 {
		t.Fatalf("Unexpected cropped extent: mask %dx%d, cube %dx%d", mask.Height, mask.Width, out.Height, out.Width)
	}
	// the block covers columns 15..24 of every cropped row
	if stats.TotalPixels != 250 || stats.UsefulPixels != 100 {
		t.Errorf("Expected 100/250 useful pixels, got %d/%d", stats.UsefulPixels, stats.TotalPixels)
	}
}

// TestFilterDeterminism verifies identical outputs for identical inputs
func TestFilterDeterminism(t *testing.T) {
	cube := createNoiseCube(40, 30, 16, 42)

	_, mask1, stats1, err := FilterWithOptions(cube, Options{VarianceThreshold: 0.01, MinUsefulRatio: 0.5, Workers: 1})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	_, mask2, stats2, err := FilterWithOptions(cube, Options{VarianceThreshold: 0.01, MinUsefulRatio: 0.5, Workers: 8})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	if stats1 != stats2 {
		t.Errorf("Stats differ: %+v vs %+v", stats1, stats2)
	}
	for i := range mask1.Data {
		if mask1.Data[i] != mask2.Data[i] {
			t.Fatalf("Mask differs at %d", i)
		}
	}
}

// TestFilterNaNPixel verifies that pixels with undefined variance are background
func TestFilterNaNPixel(t *testing.T) {
	cube := createBlockCube(4, 4, 6, models.CropRegion{Top: 0, Bottom: 4, Left: 0, Right: 4}, 0.5, 0.5)
	cube.Set(1, 2, 3, math.NaN())

	_, mask, stats, err := Filter(cube, nil, 0.01, 0, false)
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if mask.At(1, 2) {
		t.Error("NaN pixel must be background")
	}
	if stats.UsefulPixels != 15 {
		t.Errorf("Expected 15 useful pixels, got %d", stats.UsefulPixels)
	}
}

// TestFilterInvalidArguments verifies precondition checks
func TestFilterInvalidArguments(t *testing.T) {
	cube := createBlockCube(10, 10, 4, centerBlock, 0.5, 0.001)

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"negative threshold", Options{VarianceThreshold: -1}, hsierr.ErrPrecondition},
		{"NaN threshold", Options{VarianceThreshold: math.NaN()}, hsierr.ErrPrecondition},
		{"ratio above one", Options{MinUsefulRatio: 1.5}, hsierr.ErrPrecondition},
		{"crop outside", Options{Crop: &models.CropRegion{Top: 0, Bottom: 11, Left: 0, Right: 5}}, hsierr.ErrPrecondition},
		{"empty crop", Options{Crop: &models.CropRegion{Top: 3, Bottom: 3, Left: 0, Right: 5}}, hsierr.ErrPrecondition},
		{"unknown fallback", Options{Fallback: Fallback(9)}, hsierr.ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := FilterWithOptions(cube, tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestSweep verifies that the sweep agrees with individual flag-policy runs
func TestSweep(t *testing.T) {
	cube := createNoiseCube(25, 25, 8, 3)
	thresholds := []float64{0.001, 0.01, 0.03, 0.05, 0.1, 0.15}

	results, err := Sweep(cube, nil, thresholds, 0.3)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(results) != len(thresholds) {
		t.Fatalf("Expected %d results, got %d", len(thresholds), len(results))
	}

	for i, th := range thresholds {
		_, _, stats, err := FilterWithOptions(cube, Options{VarianceThreshold: th, MinUsefulRatio: 0.3, Fallback: FallbackFlag})
		if err != nil {
			t.Fatalf("Filter failed: %v", err)
		}
		if results[i] != stats {
			t.Errorf("Threshold %v: sweep %+v, filter %+v", th, results[i], stats)
		}
	}
}

// TestParseFallback verifies policy names
func TestParseFallback(t *testing.T) {
	for name, want := range map[string]Fallback{"relax": FallbackRelax, "FLAG": FallbackFlag, "": FallbackRelax} {
		if got, err := ParseFallback(name); err != nil || got != want {
			t.Errorf("ParseFallback(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseFallback("ignore"); !errors.Is(err, hsierr.ErrUnsupportedFormat) {
		t.Errorf("Expected UnsupportedFormatError, got %v", err)
	}
}

// TestPixelVariances verifies the row-major variance layout
func TestPixelVariances(t *testing.T) {
	cube := createBlockCube(2, 3, 4, models.CropRegion{Top: 1, Bottom: 2, Left: 2, Right: 3}, 0.25, 0.04)

	values, err := PixelVariances(cube)
	if err != nil {
		t.Fatalf("PixelVariances failed: %v", err)
	}
	if len(values) != 6 {
		t.Fatalf("Expected 6 variances, got %d", len(values))
	}
	for i, v := range values {
		want := 0.04
		if i == 5 {
			want = 0.25
		}
		if math.Abs(v-want) > 1e-12 {
			t.Errorf("Pixel %d: expected variance %v, got %v", i, want, v)
		}
	}
}
