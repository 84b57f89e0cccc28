// Package imagekit wraps the image operations the group capture needs: reading
// dimensions, cutting a face region out of a photo and normalizing it to a
// fixed square for the recognition service.
package imagekit

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultPadding widens a face box by a quarter of its size on each side.
const DefaultPadding = 0.25

// DefaultSide is the edge length of normalized face crops.
const DefaultSide = 512

// DefaultMaxPixels is the largest photo area decoded for a group capture.
const DefaultMaxPixels = 40_000_000

// Size is an image's pixel dimensions.
type Size struct {
	Width  int
	Height int
}

// Box is a region expressed as ratios (0-1) of the image dimensions.
type Box struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Decode parses JPEG, PNG, BMP or WebP data, applying EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Metadata returns the dimensions without decoding pixel data.
func Metadata(data []byte) (Size, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Size{}, fmt.Errorf("failed to read image metadata: %w", err)
	}
	return Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// SizeOf returns the dimensions of a decoded image.
func SizeOf(img image.Image) Size {
	b := img.Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}
}

// PaddedRegion converts box to pixels, grows it by pad times its width and
// height on each side and clamps it to the image. The result may be empty.
func PaddedRegion(box Box, size Size, pad float64) image.Rectangle {
	w := box.Width * float64(size.Width)
	h := box.Height * float64(size.Height)
	left := box.Left*float64(size.Width) - w*pad
	top := box.Top*float64(size.Height) - h*pad
	right := left + w*(1+2*pad)
	bottom := top + h*(1+2*pad)

	x0 := int(math.Floor(math.Max(0, left)))
	y0 := int(math.Floor(math.Max(0, top)))
	x1 := int(math.Ceil(math.Min(float64(size.Width), right)))
	y1 := int(math.Ceil(math.Min(float64(size.Height), bottom)))
	// image.Rect would swap inverted corners, so reject them first
	if x1 <= x0 || y1 <= y0 {
		return image.Rectangle{}
	}
	return image.Rect(x0, y0, x1, y1)
}

// Crop cuts r out of img. r is in img's coordinate space starting at (0,0).
func Crop(img image.Image, r image.Rectangle) image.Image {
	return imaging.Crop(img, r.Add(img.Bounds().Min))
}

// Normalize scales and center-crops img to a side x side square and encodes it as JPEG.
func Normalize(img image.Image, side int) ([]byte, error) {
	if side <= 0 {
		side = DefaultSide
	}
	square := imaging.Fill(img, side, side, imaging.Center, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, square, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
