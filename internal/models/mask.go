package models

// Mask is a per-pixel quality mask with the spatial extent of its source
// cube. True marks a useful (foreground) pixel.
type Mask struct {
	// Data is row-major: row*Width + col
	Data []bool

	Height int
	Width  int
}

// NewMask allocates an all-background mask
func NewMask(height, width int) *Mask {
	return &Mask{
		Data:   make([]bool, height*width),
		Height: height,
		Width:  width,
	}
}

// At returns the mask value at (row, col)
func (m *Mask) At(row, col int) bool {
	return m.Data[row*m.Width+col]
}

// Count returns the number of foreground pixels
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Stats summarises one masking run
type Stats struct {
	// TotalPixels is height*width of the (cropped) cube
	TotalPixels int

	// UsefulPixels is the number of foreground pixels
	UsefulPixels int

	// UsefulRatio is UsefulPixels / TotalPixels
	UsefulRatio float64

	// RequestedThreshold is the variance threshold the caller asked for
	RequestedThreshold float64

	// AppliedThreshold is the threshold actually used for the mask. It is
	// lower than RequestedThreshold when Relaxed is set.
	AppliedThreshold float64

	// MinUsefulRatio is the ratio the run was required to reach
	MinUsefulRatio float64

	// Relaxed is set when the threshold was lowered to reach MinUsefulRatio
	Relaxed bool

	// BelowConfidence is set when UsefulRatio is still below MinUsefulRatio
	BelowConfidence bool
}
