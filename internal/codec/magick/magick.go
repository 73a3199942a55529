// Package magick reads any format ImageMagick knows and writes multi-page
// TIFF files carrying one remapped layer per page.
package magick

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"strings"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"panokit/internal/codec"
)

var initOnce sync.Once

func initialize() { initOnce.Do(imagick.Initialize) }

// Version reports the linked ImageMagick release.
func Version() string {
	initialize()
	v, _ := imagick.GetVersion()
	return v
}

// Decoder decodes through ImageMagick.
type Decoder struct{}

var _ codec.Decoder = Decoder{}

func (Decoder) Decode(path string) (image.Image, error) {
	initialize()
	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.AutoOrientImage(); err != nil {
		return nil, fmt.Errorf("orient %s: %w", path, err)
	}
	w, h := mw.GetImageWidth(), mw.GetImageHeight()
	px, err := mw.ExportImagePixels(0, 0, w, h, "RGBA", imagick.PIXEL_CHAR)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", path, err)
	}
	buf, ok := px.([]byte)
	if !ok {
		return nil, fmt.Errorf("export %s: unexpected pixel buffer %T", path, px)
	}
	img := image.NewNRGBA(image.Rect(0, 0, int(w), int(h)))
	copy(img.Pix, buf)
	return img, nil
}

// TIFFWriter collects pages and writes them as one multi-page TIFF on
// Close. Every page records its offset and the full canvas size.
type TIFFWriter struct {
	path        string
	compression imagick.CompressionType
	profile     []byte
	mw          *imagick.MagickWand
}

// NewTIFFWriter prepares path. A non-empty iccProfile path is embedded in
// every page.
func NewTIFFWriter(path, compression, iccProfile string) (*TIFFWriter, error) {
	initialize()
	w := &TIFFWriter{path: path, compression: compressionType(compression), mw: imagick.NewMagickWand()}
	if iccProfile != "" {
		data, err := os.ReadFile(iccProfile)
		if err != nil {
			w.mw.Destroy()
			return nil, fmt.Errorf("icc profile: %w", err)
		}
		w.profile = data
	}
	return w, nil
}

func compressionType(name string) imagick.CompressionType {
	switch strings.ToUpper(name) {
	case "NONE":
		return imagick.COMPRESSION_NO
	case "DEFLATE":
		return imagick.COMPRESSION_ZIP
	case "PACKBITS":
		return imagick.COMPRESSION_RLE
	default:
		return imagick.COMPRESSION_LZW
	}
}

// AddPage appends img. Its bounds give the placement on canvas.
func (w *TIFFWriter) AddPage(img image.Image, canvas image.Rectangle) error {
	b := img.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	page := imagick.NewMagickWand()
	defer page.Destroy()
	bg := imagick.NewPixelWand()
	defer bg.Destroy()
	bg.SetColor("none")
	if err := page.NewImage(uint(b.Dx()), uint(b.Dy()), bg); err != nil {
		return err
	}
	if err := page.ImportImagePixels(0, 0, uint(b.Dx()), uint(b.Dy()), "RGBA", imagick.PIXEL_CHAR, rgba.Pix); err != nil {
		return err
	}
	if err := page.SetImagePage(uint(canvas.Dx()), uint(canvas.Dy()), b.Min.X-canvas.Min.X, b.Min.Y-canvas.Min.Y); err != nil {
		return err
	}
	if err := page.SetImageFormat("TIFF"); err != nil {
		return err
	}
	if err := page.SetImageCompression(w.compression); err != nil {
		return err
	}
	if w.profile != nil {
		if err := page.ProfileImage("icc", w.profile); err != nil {
			return err
		}
	}
	return w.mw.AddImage(page)
}

// Close writes every page and releases the wand.
func (w *TIFFWriter) Close() error {
	defer w.mw.Destroy()
	if w.mw.GetNumberImages() == 0 {
		return fmt.Errorf("%s: no pages", w.path)
	}
	return w.mw.WriteImages(w.path, true)
}
