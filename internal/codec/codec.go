// Package codec decodes source photographs and encodes stitched output by
// filename.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
	"golang.org/x/image/tiff"
)

// ErrNotHDR is returned when a radiance file is requested for an image
// without float pixels.
var ErrNotHDR = errors.New("image has no HDR pixels")

// Decoder loads the pixels of an image file.
type Decoder interface {
	Decode(path string) (image.Image, error)
}

// Encoder stores an image under path, picking the format from the
// extension.
type Encoder interface {
	Encode(path string, img image.Image, o Options) error
}

// Options control lossy and compressed formats.
type Options struct {
	Quality     int
	Compression string
}

// Files is the built-in codec: JPEG, PNG, TIFF and Radiance HDR.
type Files struct{}

var (
	_ Decoder = Files{}
	_ Encoder = Files{}
)

func (Files) Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hdr":
		img, err = rgbe.Decode(r)
	case ".tif", ".tiff":
		img, err = tiff.Decode(r)
	default:
		img, _, err = image.Decode(r)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func (Files) Encode(path string, img image.Image, o Options) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := encode(w, path, img, o); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encode(w *bufio.Writer, path string, img image.Image, o Options) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		q := o.Quality
		if q <= 0 || q > 100 {
			q = jpeg.DefaultQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
	case ".png":
		return png.Encode(w, img)
	case ".hdr":
		h, ok := img.(hdr.Image)
		if !ok {
			return ErrNotHDR
		}
		return rgbe.Encode(w, h)
	case ".tif", ".tiff":
		return tiff.Encode(w, img, tiffOptions(o.Compression))
	default:
		return fmt.Errorf("unsupported output extension %q", filepath.Ext(path))
	}
}

// tiffOptions maps project compression names onto what x/image/tiff can
// write. LZW is stored as deflate.
func tiffOptions(compression string) *tiff.Options {
	switch strings.ToUpper(compression) {
	case "", "NONE":
		return &tiff.Options{Compression: tiff.Uncompressed}
	default:
		return &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	}
}
