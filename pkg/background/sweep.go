package background

import (
	"hsiprep/internal/models"
)

// Sweep evaluates several variance thresholds over one variance computation,
// the non-interactive form of trying thresholds by eye. No fallback is
// applied: each Stats reports its threshold as requested, with
// BelowConfidence set when minUsefulRatio is not reached.
func Sweep(cube *models.Cube, crop *models.CropRegion, thresholds []float64, minUsefulRatio float64) ([]models.Stats, error) {
	work := cube
	if crop != nil {
		var err error
		if work, err = Crop(cube, *crop); err != nil {
			return nil, err
		}
	}

	for _, th := range thresholds {
		if err := checkOptions(Options{VarianceThreshold: th, MinUsefulRatio: minUsefulRatio}); err != nil {
			return nil, err
		}
	}

	vm, err := ComputeVariances(work, 0)
	if err != nil {
		return nil, err
	}

	results := make([]models.Stats, len(thresholds))
	for i, th := range thresholds {
		useful := vm.Count(th)
		s := models.Stats{
			TotalPixels:        work.Pixels(),
			UsefulPixels:       useful,
			UsefulRatio:        ratio(useful, work.Pixels()),
			RequestedThreshold: th,
			AppliedThreshold:   th,
			MinUsefulRatio:     minUsefulRatio,
		}
		s.BelowConfidence = s.UsefulRatio < minUsefulRatio
		results[i] = s
	}
	return results, nil
}
