// Package quicklook renders review images of hyperspectral cubes: the mean
// over all bands, a single band, and the background mask. The images replace
// looking at the cube interactively when choosing crop rectangles and
// variance thresholds for an acquisition batch.
package quicklook

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"hsiprep/internal/models"
)

// Viewer extracts 2D images from a cube
type Viewer struct {
	cube *models.Cube

	// minSide is the shortest image side after upscaling, 0 to disable
	minSide int
}

// NewViewer creates a viewer for cube. Images whose shorter side is below
// minSide pixels are upscaled; pass 0 to keep the cube resolution.
func NewViewer(cube *models.Cube, minSide int) *Viewer {
	return &Viewer{cube: cube, minSide: minSide}
}

// ExtractBand returns one band as a 16-bit grayscale image, contrast
// stretched between the band minimum and maximum
func (v *Viewer) ExtractBand(band int) (*image.Gray16, error) {
	if band < 0 || band >= v.cube.Bands {
		return nil, fmt.Errorf("band %d outside [0, %d)", band, v.cube.Bands)
	}

	plane := make([]float64, v.cube.Pixels())
	for r := 0; r < v.cube.Height; r++ {
		for c := 0; c < v.cube.Width; c++ {
			plane[r*v.cube.Width+c] = v.cube.At(r, c, band)
		}
	}
	return planeToGray16(plane, v.cube.Width, v.cube.Height), nil
}

// MeanImage returns the per-pixel mean over all bands, contrast stretched
func (v *Viewer) MeanImage() *image.Gray16 {
	plane := make([]float64, v.cube.Pixels())
	for r := 0; r < v.cube.Height; r++ {
		for c := 0; c < v.cube.Width; c++ {
			plane[r*v.cube.Width+c] = stat.Mean(v.cube.Pixel(r, c), nil)
		}
	}
	return planeToGray16(plane, v.cube.Width, v.cube.Height)
}

// SpectrumAt returns a copy of the spectrum at (row, col)
func (v *Viewer) SpectrumAt(row, col int) ([]float64, error) {
	if row < 0 || row >= v.cube.Height || col < 0 || col >= v.cube.Width {
		return nil, fmt.Errorf("pixel (%d, %d) outside %dx%d cube", row, col, v.cube.Height, v.cube.Width)
	}
	spectrum := make([]float64, v.cube.Bands)
	copy(spectrum, v.cube.Pixel(row, col))
	return spectrum, nil
}

// MaskImage renders foreground pixels white and background black
func MaskImage(mask *models.Mask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, mask.Width, mask.Height))
	for i, fg := range mask.Data {
		if fg {
			img.Pix[(i/mask.Width)*img.Stride+i%mask.Width] = 255
		}
	}
	return img
}

// planeToGray16 maps [min, max] of the finite values to [0, 65535].
// NaN samples are rendered black.
func planeToGray16(plane []float64, width, height int) *image.Gray16 {
	finite := make([]float64, 0, len(plane))
	for _, p := range plane {
		if !math.IsNaN(p) && !math.IsInf(p, 0) {
			finite = append(finite, p)
		}
	}
	lo, hi := 0.0, 0.0
	if len(finite) > 0 {
		lo, hi = floats.Min(finite), floats.Max(finite)
	}
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := plane[y*width+x]
			if math.IsNaN(p) {
				continue
			}
			value := uint16(math.Round(math.Max(0, math.Min(65535, (p-lo)*scale))))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// upscale enlarges img so its shorter side reaches minSide. Masks use
// nearest neighbour so they stay binary.
func (v *Viewer) upscale(img image.Image, smooth bool) image.Image {
	b := img.Bounds()
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	if v.minSide <= 0 || short >= v.minSide {
		return img
	}

	factor := (v.minSide + short - 1) / short
	dst := image.NewGray16(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	var scaler xdraw.Scaler = xdraw.NearestNeighbor
	if smooth {
		scaler = xdraw.CatmullRom
	}
	scaler.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// SaveImage writes img as PNG or JPEG depending on the file extension
func SaveImage(img image.Image, filename string) error {
	var encode func(*os.File) error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".jpg", ".jpeg":
		encode = func(f *os.File) error { return jpeg.Encode(f, img, &jpeg.Options{Quality: 90}) }
	default:
		return fmt.Errorf("unsupported image extension: %s", filepath.Ext(filename))
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := encode(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveReview writes <stem>_mean.png, <stem>_band<N>.png for the middle band
// and, when mask is not nil, <stem>_mask.png into dir. It returns the paths
// written.
func (v *Viewer) SaveReview(dir, stem string, mask *models.Mask) ([]string, error) {
	mid := v.cube.Bands / 2
	band, err := v.ExtractBand(mid)
	if err != nil {
		return nil, err
	}

	images := []struct {
		name string
		img  image.Image
	}{
		{fmt.Sprintf("%s_mean.png", stem), v.upscale(v.MeanImage(), true)},
		{fmt.Sprintf("%s_band%03d.png", stem, mid), v.upscale(band, true)},
	}
	if mask != nil {
		images = append(images, struct {
			name string
			img  image.Image
		}{fmt.Sprintf("%s_mask.png", stem), v.upscale(MaskImage(mask), false)})
	}

	paths := make([]string, 0, len(images))
	for _, im := range images {
		path := filepath.Join(dir, im.name)
		if err := SaveImage(im.img, path); err != nil {
			return paths, fmt.Errorf("failed to save %s: %w", im.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
