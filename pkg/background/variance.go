package background

import (
	"runtime"
	"sync"

	"gonum.org/v1/gonum/stat"

	"hsiprep/internal/models"
)

// VarianceMap holds the spectral variance of every pixel of a cube
type VarianceMap struct {
	// Values is row-major: row*Width + col
	Values []float64

	Height int
	Width  int
}

// ComputeVariances returns the population variance of each pixel's spectrum
// (variance across the band axis). Rows are split between workers goroutines;
// workers <= 0 means one per CPU. The result does not depend on workers.
func ComputeVariances(cube *models.Cube, workers int) (*VarianceMap, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > cube.Height {
		workers = cube.Height
	}

	vm := &VarianceMap{
		Values: make([]float64, cube.Pixels()),
		Height: cube.Height,
		Width:  cube.Width,
	}

	rows := make(chan int, cube.Height)
	for r := 0; r < cube.Height; r++ {
		rows <- r
	}
	close(rows)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range rows {
				for c := 0; c < cube.Width; c++ {
					vm.Values[r*cube.Width+c] = stat.PopVariance(cube.Pixel(r, c), nil)
				}
			}
		}()
	}
	wg.Wait()

	return vm, nil
}

// Count returns the number of pixels whose variance exceeds threshold.
// NaN variances never count.
func (vm *VarianceMap) Count(threshold float64) int {
	n := 0
	for _, v := range vm.Values {
		if v > threshold {
			n++
		}
	}
	return n
}

// Mask marks every pixel whose variance exceeds threshold as foreground
func (vm *VarianceMap) Mask(threshold float64) *models.Mask {
	mask := models.NewMask(vm.Height, vm.Width)
	for i, v := range vm.Values {
		mask.Data[i] = v > threshold
	}
	return mask
}

// PixelVariances returns the row-major spectral variance of every pixel
func PixelVariances(cube *models.Cube) ([]float64, error) {
	vm, err := ComputeVariances(cube, 0)
	if err != nil {
		return nil, err
	}
	return vm.Values, nil
}
