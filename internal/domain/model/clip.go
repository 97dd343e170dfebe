// Package model contains the data passed between the sampling, loading and training layers.
package model

import "fmt"

// RGB channel count of every decoded frame.
const Channels = 3

// Frame is one decoded image in channel-major (CHW) layout with values in [0,1].
type Frame struct {
	Height int
	Width  int
	Pix    []float64 // len == Channels*Height*Width
}

// NewFrame allocates a zeroed frame.
func NewFrame(height, width int) Frame {
	return Frame{Height: height, Width: width, Pix: make([]float64, Channels*height*width)}
}

// FrameFromRGB24 converts packed HWC rgb24 bytes into a CHW frame scaled to [0,1].
func FrameFromRGB24(raw []byte, height, width int) (Frame, error) {
	plane := height * width
	if len(raw) != Channels*plane {
		return Frame{}, fmt.Errorf("rgb24 buffer has %d bytes, want %d", len(raw), Channels*plane)
	}
	f := NewFrame(height, width)
	for p := 0; p < plane; p++ {
		for c := 0; c < Channels; c++ {
			f.Pix[c*plane+p] = float64(raw[p*Channels+c]) / 255
		}
	}
	return f, nil
}

// At returns the value at channel c, row y, column x.
func (f Frame) At(c, y, x int) float64 {
	return f.Pix[(c*f.Height+y)*f.Width+x]
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	pix := make([]float64, len(f.Pix))
	copy(pix, f.Pix)
	return Frame{Height: f.Height, Width: f.Width, Pix: pix}
}

// Clip is the outcome of sampling one video.
type Clip struct {
	Path       string
	TotalCount int   // frame count reported by the container
	Requested  int   // frames asked for
	Indices    []int // indices that were decoded, in order
	Frames     []Frame
	// Err is the decode failure that cut the clip short, if any.
	Err error
}

// Complete reports whether the clip met its frame-count contract.
func (c Clip) Complete() bool {
	return len(c.Frames) == c.Requested
}

// Sample is a clip's frames paired with a class label.
type Sample struct {
	Path   string
	Frames []Frame
	Label  int
	// Padded is true when frames were repeated to reach the requested count.
	Padded bool
}

// Batch is an ordered group of samples fed to the model together.
type Batch struct {
	Samples []Sample
}

// Len is the number of samples in the batch.
func (b Batch) Len() int { return len(b.Samples) }

// Labels returns the labels in sample order.
func (b Batch) Labels() []int {
	out := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = s.Label
	}
	return out
}
