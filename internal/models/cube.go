package models

import (
	"fmt"

	"hsiprep/pkg/hsierr"
)

// SampleType is the storage precision a cube was read from
type SampleType int

const (
	SampleUnknown SampleType = iota
	SampleUint8
	SampleUint16
	SampleFloat32
	SampleFloat64
)

func (t SampleType) String() string {
	switch t {
	case SampleUint8:
		return "uint8"
	case SampleUint16:
		return "uint16"
	case SampleFloat32:
		return "float32"
	case SampleFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// IsUnsignedInteger reports whether samples were stored as a fixed-width
// unsigned integer.
func (t SampleType) IsUnsignedInteger() bool {
	return t == SampleUint8 || t == SampleUint16
}

// MaxValue returns the largest representable value of an unsigned integer
// type, or 0 for floating point types.
func (t SampleType) MaxValue() float64 {
	switch t {
	case SampleUint8:
		return 255
	case SampleUint16:
		return 65535
	default:
		return 0
	}
}

// Size returns the number of bytes per sample
func (t SampleType) Size() int {
	switch t {
	case SampleUint8:
		return 1
	case SampleUint16:
		return 2
	case SampleFloat32:
		return 4
	case SampleFloat64:
		return 8
	default:
		return 0
	}
}

// Cube is a hyperspectral image cube
type Cube struct {
	// Data holds the samples as a 1D array indexed (row, column, band),
	// row-major in the spatial plane: (row*Width + col)*Bands + band
	Data []float64

	// Height is the number of rows (lines)
	Height int

	// Width is the number of columns (samples per line)
	Width int

	// Bands is the number of spectral bands
	Bands int

	// SampleType records the storage precision of Data's origin
	SampleType SampleType
}

// NewCube allocates a zero-filled cube with the given geometry
func NewCube(height, width, bands int, sampleType SampleType) *Cube {
	return &Cube{
		Data:       make([]float64, height*width*bands),
		Height:     height,
		Width:      width,
		Bands:      bands,
		SampleType: sampleType,
	}
}

// Validate checks that the cube has positive dimensions and a data buffer
// matching them.
func (c *Cube) Validate() error {
	if c == nil {
		return &hsierr.PreconditionError{Param: "cube", Reason: "nil cube"}
	}
	if c.Height <= 0 || c.Width <= 0 || c.Bands <= 0 {
		return &hsierr.PreconditionError{
			Param:  "cube",
			Reason: fmt.Sprintf("dimensions must be positive, got %dx%dx%d", c.Height, c.Width, c.Bands),
		}
	}
	if len(c.Data) != c.Height*c.Width*c.Bands {
		return &hsierr.PreconditionError{
			Param:    "cube data length",
			Expected: c.Height * c.Width * c.Bands,
			Actual:   len(c.Data),
		}
	}
	return nil
}

// Index returns the offset of (row, col, band) in Data
func (c *Cube) Index(row, col, band int) int {
	return (row*c.Width+col)*c.Bands + band
}

// At returns the sample at (row, col, band)
func (c *Cube) At(row, col, band int) float64 {
	return c.Data[c.Index(row, col, band)]
}

// Set stores v at (row, col, band)
func (c *Cube) Set(row, col, band int, v float64) {
	c.Data[c.Index(row, col, band)] = v
}

// Pixel returns the spectral vector of one pixel. The returned slice
// aliases Data.
func (c *Cube) Pixel(row, col int) []float64 {
	start := (row*c.Width + col) * c.Bands
	return c.Data[start : start+c.Bands : start+c.Bands]
}

// Pixels returns the number of spatial positions
func (c *Cube) Pixels() int {
	return c.Height * c.Width
}

// Clone returns a deep copy of the cube
func (c *Cube) Clone() *Cube {
	data := make([]float64, len(c.Data))
	copy(data, c.Data)
	return &Cube{
		Data:       data,
		Height:     c.Height,
		Width:      c.Width,
		Bands:      c.Bands,
		SampleType: c.SampleType,
	}
}

// Shape returns (height, width, bands)
func (c *Cube) Shape() (int, int, int) {
	return c.Height, c.Width, c.Bands
}

// CropRegion is a half-open spatial rectangle [Top, Bottom) x [Left, Right)
type CropRegion struct {
	Top    int `yaml:"top"`
	Bottom int `yaml:"bottom"`
	Left   int `yaml:"left"`
	Right  int `yaml:"right"`
}

// Height returns the number of rows inside the region
func (r CropRegion) Height() int { return r.Bottom - r.Top }

// Width returns the number of columns inside the region
func (r CropRegion) Width() int { return r.Right - r.Left }

func (r CropRegion) String() string {
	return fmt.Sprintf("top=%d bottom=%d left=%d right=%d", r.Top, r.Bottom, r.Left, r.Right)
}

// ValidateFor checks that the region is non-empty and inside a
// height x width image.
func (r CropRegion) ValidateFor(height, width int) error {
	if r.Top < 0 || r.Left < 0 || r.Bottom > height || r.Right > width ||
		r.Top >= r.Bottom || r.Left >= r.Right {
		return &hsierr.PreconditionError{
			Param:  "crop region",
			Reason: fmt.Sprintf("%s is empty or outside %dx%d image", r, height, width),
		}
	}
	return nil
}
