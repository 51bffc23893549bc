package normalize

import (
	"testing"

	"hsiprep/internal/models"
)

// TestNormalizeUint16Range verifies that [0, 65535] maps onto exactly [0, 1]
// with relative order preserved
func TestNormalizeUint16Range(t *testing.T) {
	cube := models.NewCube(4, 4, 4, models.SampleUint16)
	n := len(cube.Data)
	for i := range cube.Data {
		cube.Data[i] = float64(i) * 65535 / float64(n-1)
	}
	cube.Data[0] = 0
	cube.Data[n-1] = 65535

	out, report := NormalizeWithReport(cube)

	if out.Data[0] != 0 {
		t.Errorf("Expected min 0, got %v", out.Data[0])
	}
	if out.Data[n-1] != 1 {
		t.Errorf("Expected max 1, got %v", out.Data[n-1])
	}
	for i := 1; i < n; i++ {
		if out.Data[i] < out.Data[i-1] {
			t.Fatalf("Order not preserved at %d: %v < %v", i, out.Data[i], out.Data[i-1])
		}
	}
	if report.Divisor != 65535 || report.Heuristic {
		t.Errorf("Expected exact 16-bit divisor, got %+v", report)
	}
	if out.SampleType != models.SampleFloat64 {
		t.Errorf("Expected float64 output, got %v", out.SampleType)
	}
	if cube.Data[n-1] != 65535 {
		t.Error("Input cube was modified")
	}
}

// TestNormalizeUint8 verifies the 8-bit divisor
func TestNormalizeUint8(t *testing.T) {
	cube := models.NewCube(1, 2, 1, models.SampleUint8)
	cube.Data[0] = 51
	cube.Data[1] = 255

	out := Normalize(cube)
	if out.Data[0] != 0.2 || out.Data[1] != 1 {
		t.Errorf("Expected [0.2 1], got %v", out.Data)
	}
}

// TestNormalizeFloatPassThrough verifies that plausible float data is left alone
func TestNormalizeFloatPassThrough(t *testing.T) {
	cube := models.NewCube(2, 2, 2, models.SampleFloat32)
	for i := range cube.Data {
		cube.Data[i] = float64(i) * 0.1
	}
	cube.Data[3] = 999.5

	out, report := NormalizeWithReport(cube)
	if report.Divisor != 1 || report.Heuristic {
		t.Errorf("Expected no scaling, got %+v", report)
	}
	for i := range cube.Data {
		if out.Data[i] != cube.Data[i] {
			t.Fatalf("Sample %d changed: %v -> %v", i, cube.Data[i], out.Data[i])
		}
	}
}

// TestNormalizeFloatHeuristic covers the mislabeled-integer fallback. This is
// heuristic behavior: only float cubes whose maximum exceeds
// PlausibleNormalizedMax are rescaled, by the 16-bit maximum.
func TestNormalizeFloatHeuristic(t *testing.T) {
	cube := models.NewCube(1, 1, 3, models.SampleFloat32)
	cube.Data[0] = 0
	cube.Data[1] = 1001
	cube.Data[2] = 65535

	out, report := NormalizeWithReport(cube)
	if !report.Heuristic || report.Divisor != 65535 {
		t.Fatalf("Expected heuristic 16-bit rescale, got %+v", report)
	}
	if report.ObservedMax != 65535 || report.ObservedMin != 0 {
		t.Errorf("Unexpected observed range %v..%v", report.ObservedMin, report.ObservedMax)
	}
	if out.Data[2] != 1 {
		t.Errorf("Expected 1, got %v", out.Data[2])
	}

	// exactly at the threshold is still considered plausible
	cube.Data[2] = PlausibleNormalizedMax
	cube.Data[1] = 1
	if _, report := NormalizeWithReport(cube); report.Heuristic {
		t.Error("Maximum equal to the threshold must not trigger the rescale")
	}
}

// TestNormalizeNoClamp verifies that out-of-range results are tolerated
func TestNormalizeNoClamp(t *testing.T) {
	cube := models.NewCube(1, 1, 2, models.SampleFloat64)
	cube.Data[0] = -6553.5
	cube.Data[1] = 131070

	out := Normalize(cube)
	if out.Data[0] != -0.1 || out.Data[1] != 2 {
		t.Errorf("Expected unclamped [-0.1 2], got %v", out.Data)
	}
}
