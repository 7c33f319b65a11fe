package models

import "fmt"

// Channel counts supported for decoded frames.
const (
	ChannelsGray = 1
	ChannelsBGR  = 3
)

// Frame is an immutable decoded raster. Pixels are row-major, interleaved
// BGR for 3-channel frames (matching the decoder byte order) or single-byte
// luminance for grayscale. Detectors only read frames; the pipeline hands
// the same Frame to every detector and lets the GC reclaim it once the
// enclosing verdict has been emitted.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8

	// Timestamp is seconds since the start of the source, when known.
	Timestamp float64

	// Index is the source frame number, when known.
	Index int64
}

// NewFrame allocates a zeroed frame with the given geometry.
func NewFrame(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}
}

// Stride returns the number of bytes per pixel row.
func (f *Frame) Stride() int {
	return f.Width * f.Channels
}

// At returns the value of channel c at (x, y). No bounds checking beyond
// the slice's own; callers iterate within the frame geometry.
func (f *Frame) At(x, y, c int) uint8 {
	return f.Pix[y*f.Width*f.Channels+x*f.Channels+c]
}

// Set writes channel c at (x, y). Only frame producers use this.
func (f *Frame) Set(x, y, c int, v uint8) {
	f.Pix[y*f.Width*f.Channels+x*f.Channels+c] = v
}

// IsGray reports whether the frame is single-channel.
func (f *Frame) IsGray() bool {
	return f.Channels == ChannelsGray
}

// PixelCount returns width times height.
func (f *Frame) PixelCount() int {
	return f.Width * f.Height
}

// SizeBytes returns the pixel buffer size. The frame buffer uses this to
// enforce its memory ceiling.
func (f *Frame) SizeBytes() int {
	return len(f.Pix)
}

// Validate checks geometry against the pixel buffer.
func (f *Frame) Validate() error {
	if f == nil {
		return NewError(KindInput, "frame is nil")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return Errorf(KindInput, "invalid frame geometry %dx%d", f.Width, f.Height)
	}
	if f.Channels != ChannelsGray && f.Channels != ChannelsBGR {
		return Errorf(KindInput, "unsupported channel count %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return Errorf(KindInput, "pixel buffer size %d does not match geometry (want %d)", len(f.Pix), want)
	}
	return nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame %dx%dx%d @%.3fs #%d", f.Width, f.Height, f.Channels, f.Timestamp, f.Index)
}
