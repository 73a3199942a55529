package codec

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(40 * x), G: uint8(60 * y), B: 7, A: 255})
		}
	}
	return img
}

func TestLosslessRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := testImage()
	for _, name := range []string{"a.png", "a.tif"} {
		path := filepath.Join(dir, name)
		if err := (Files{}).Encode(path, src, Options{Compression: "LZW"}); err != nil {
			t.Fatalf("encode %s: %v", name, err)
		}
		got, err := (Files{}).Decode(path)
		if err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
		if got.Bounds().Size() != src.Bounds().Size() {
			t.Fatalf("%s size = %v", name, got.Bounds())
		}
		r, g, _, _ := got.At(2, 1).RGBA()
		if r>>8 != 80 || g>>8 != 60 {
			t.Fatalf("%s pixel = %d,%d", name, r>>8, g>>8)
		}
	}
}

func TestHDRNeedsFloatPixels(t *testing.T) {
	err := (Files{}).Encode(filepath.Join(t.TempDir(), "a.hdr"), testImage(), Options{})
	if !errors.Is(err, ErrNotHDR) {
		t.Fatalf("expected ErrNotHDR, got %v", err)
	}
}

func TestUnsupportedExtension(t *testing.T) {
	if err := (Files{}).Encode(filepath.Join(t.TempDir(), "a.xyz"), testImage(), Options{}); err == nil {
		t.Fatalf("expected an error")
	}
}

type countingDecoder struct{ calls int }

func (d *countingDecoder) Decode(path string) (image.Image, error) {
	d.calls++
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func TestCacheEvicts(t *testing.T) {
	d := &countingDecoder{}
	c := NewCache(d, 2)
	for _, p := range []string{"a", "b", "a", "c", "a", "b"} {
		if _, err := c.Decode(p); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	// a b (hit a) c evicts b, hit a, b decoded again
	if d.calls != 4 {
		t.Fatalf("decoder called %d times, want 4", d.calls)
	}
	if c.Len() != 2 {
		t.Fatalf("cache holds %d", c.Len())
	}
}
