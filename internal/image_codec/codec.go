package image_codec

import (
	"bytes"
	"fmt"
	"math"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"glideview/internal/cache"
)

// Frame is a decoded image normalized to an in-memory JPEG, plus its pixel
// dimensions. It is the Bitmap implementation the engine caches and serves.
type Frame struct {
	data   []byte
	width  int
	height int
}

func (f *Frame) Width() int  { return f.width }
func (f *Frame) Height() int { return f.height }

// Data returns the JPEG-encoded bytes.
func (f *Frame) Data() []byte { return f.data }

// Codec implements the loader's Decoder and Resizer on top of libvips.
type Codec struct {
	logger  *zap.Logger
	quality int
}

func New(quality int, logger *zap.Logger) *Codec {
	return &Codec{
		logger:  logger,
		quality: quality,
	}
}

// Decode sniffs the image format from its magic bytes, decodes, and exports
// a normalized JPEG frame at the source dimensions.
func (c *Codec) Decode(data []byte) (cache.Bitmap, error) {
	image, err := loadBuffer(data)
	if err != nil {
		return nil, err
	}
	defer image.Close()

	return c.export(image)
}

// Resize scales a frame so neither dimension exceeds maxDimension, preserving
// aspect ratio with a uniform scale factor.
func (c *Codec) Resize(bm cache.Bitmap, maxDimension int) (cache.Bitmap, error) {
	frame, ok := bm.(*Frame)
	if !ok {
		return nil, fmt.Errorf("resize: unsupported bitmap type %T", bm)
	}

	opts := vips.DefaultJpegloadBufferOptions()
	image, err := vips.NewJpegloadBuffer(frame.data, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to reload frame: %w", err)
	}
	defer image.Close()

	scale := math.Min(
		float64(maxDimension)/float64(frame.width),
		float64(maxDimension)/float64(frame.height),
	)

	resizeOpts := vips.DefaultResizeOptions()
	resizeOpts.Kernel = vips.KernelLanczos3
	if err := image.Resize(scale, resizeOpts); err != nil {
		return nil, fmt.Errorf("failed to resize: %w", err)
	}

	return c.export(image)
}

func (c *Codec) export(image *vips.Image) (*Frame, error) {
	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = c.quality
	jpegOpts.Interlace = false

	data, err := image.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	return &Frame{
		data:   data,
		width:  image.Width(),
		height: image.Height(),
	}, nil
}

// loadBuffer decodes raw bytes via the loader matching their magic bytes.
func loadBuffer(data []byte) (*vips.Image, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return vips.NewJpegloadBuffer(data, vips.DefaultJpegloadBufferOptions())
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return vips.NewPngloadBuffer(data, vips.DefaultPngloadBufferOptions())
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return vips.NewWebploadBuffer(data, vips.DefaultWebploadBufferOptions())
	case bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")):
		return vips.NewTiffloadBuffer(data, vips.DefaultTiffloadBufferOptions())
	default:
		return nil, fmt.Errorf("unsupported image format")
	}
}
