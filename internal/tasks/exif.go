package tasks

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
)

// ImageInfo is the metadata a new project needs from one photograph.
type ImageInfo struct {
	Path        string
	Width       int
	Height      int
	Make        string
	Model       string
	Lens        string
	FocalLength float64
	CropFactor  float64
	FNumber     float64
	Exposure    float64 // seconds
	ISO         float64
	HasExposure bool
}

// ExposureValue returns the EV at ISO 100, or 0 when the exposure tags are
// missing.
func (i ImageInfo) ExposureValue() float64 {
	if !i.HasExposure || i.Exposure <= 0 || i.FNumber <= 0 {
		return 0
	}
	ev := math.Log2(i.FNumber * i.FNumber / i.Exposure)
	if i.ISO > 0 {
		ev -= math.Log2(i.ISO / 100)
	}
	return ev
}

// ReadImageInfo reads the pixel size and the EXIF tags of path. Files
// without EXIF still report their size.
func ReadImageInfo(path string) (ImageInfo, error) {
	info := ImageInfo{Path: path, CropFactor: 1}
	f, err := os.Open(path)
	if err != nil {
		return info, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return info, fmt.Errorf("decode %s: %w", path, err)
	}
	info.Width, info.Height = cfg.Width, cfg.Height

	if _, err := f.Seek(0, 0); err != nil {
		return info, err
	}
	x, err := exif.Decode(f)
	if err != nil {
		return info, nil
	}
	info.Make = exifString(x, exif.Make)
	info.Model = exifString(x, exif.Model)
	info.Lens = exifString(x, exif.LensModel)
	if info.Lens == "" {
		info.Lens = strings.TrimSpace(info.Make + " " + info.Model)
	}
	info.FocalLength, _ = exifRat(x, exif.FocalLength)
	if f35, err := exifInt(x, exif.FocalLengthIn35mmFilm); err == nil && f35 > 0 && info.FocalLength > 0 {
		info.CropFactor = float64(f35) / info.FocalLength
	}
	fn, err1 := exifRat(x, exif.FNumber)
	t, err2 := exifRat(x, exif.ExposureTime)
	if err1 == nil && err2 == nil {
		info.FNumber, info.Exposure, info.HasExposure = fn, t, true
	}
	if iso, err := exifInt(x, exif.ISOSpeedRatings); err == nil {
		info.ISO = float64(iso)
	}
	return info, nil
}

func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func exifRat(x *exif.Exif, name exif.FieldName) (float64, error) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, err
	}
	num, den, err := tag.Rat2(0)
	if err != nil {
		return 0, err
	}
	if den == 0 {
		return 0, errors.New("zero denominator")
	}
	return float64(num) / float64(den), nil
}

func exifInt(x *exif.Exif, name exif.FieldName) (int, error) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, err
	}
	return tag.Int(0)
}
