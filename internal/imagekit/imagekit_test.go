package imagekit

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestPaddedRegion(t *testing.T) {
	size := Size{Width: 1000, Height: 800}
	tests := []struct {
		name string
		box  Box
		want image.Rectangle
	}{
		{
			name: "centered face",
			box:  Box{Left: 0.4, Top: 0.25, Width: 0.2, Height: 0.25},
			// 200x200 box at (400,200) padded by 50 on every side
			want: image.Rect(350, 150, 650, 450),
		},
		{
			name: "clamped at top-left",
			box:  Box{Left: 0, Top: 0, Width: 0.1, Height: 0.125},
			want: image.Rect(0, 0, 125, 125),
		},
		{
			name: "clamped at bottom-right",
			box:  Box{Left: 0.9, Top: 0.875, Width: 0.1, Height: 0.125},
			want: image.Rect(875, 675, 1000, 800),
		},
		{
			name: "outside the image",
			box:  Box{Left: 1.5, Top: 0.1, Width: 0.1, Height: 0.1},
			want: image.Rectangle{},
		},
		{
			name: "zero sized",
			box:  Box{Left: 0.5, Top: 0.5},
			want: image.Rectangle{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PaddedRegion(tt.box, size, DefaultPadding); got != tt.want {
				t.Errorf("PaddedRegion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestMetadataDecodeCropNormalize(t *testing.T) {
	data := testPNG(t, 320, 240)

	size, err := Metadata(data)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if size != (Size{Width: 320, Height: 240}) {
		t.Fatalf("Metadata = %+v", size)
	}

	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if SizeOf(img) != size {
		t.Fatalf("SizeOf = %+v", SizeOf(img))
	}

	crop := Crop(img, image.Rect(10, 20, 110, 80))
	if b := crop.Bounds(); b.Dx() != 100 || b.Dy() != 60 {
		t.Fatalf("crop bounds = %v", b)
	}

	out, err := Normalize(crop, 64)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	normalized, err := Metadata(out)
	if err != nil {
		t.Fatalf("Metadata(normalized): %v", err)
	}
	if normalized != (Size{Width: 64, Height: 64}) {
		t.Errorf("normalized size = %+v", normalized)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
	if _, err := Metadata(nil); err == nil {
		t.Error("expected metadata error")
	}
}
