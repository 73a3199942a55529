// Package cvdetect provides an OpenCV corner detector for the matcher.
package cvdetect

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"panokit/internal/matcher"
)

// Detector runs cv::goodFeaturesToTrack.
type Detector struct {
	Quality     float64
	MinDistance float64
}

var _ matcher.Detector = Detector{}

func (d Detector) Detect(img *image.Gray, rect image.Rectangle, n int) []image.Point {
	r := rect.Intersect(img.Bounds())
	if r.Empty() || n <= 0 {
		return nil
	}
	quality, minDist := d.Quality, d.MinDistance
	if quality <= 0 {
		quality = 0.01
	}
	if minDist <= 0 {
		minDist = 3
	}
	buf := make([]byte, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(buf[(y-r.Min.Y)*r.Dx():], img.Pix[img.PixOffset(r.Min.X, y):][:r.Dx()])
	}
	mat, err := gocv.NewMatFromBytes(r.Dy(), r.Dx(), gocv.MatTypeCV8UC1, buf)
	if err != nil {
		return nil
	}
	defer mat.Close()
	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(mat, &corners, n, quality, minDist)

	out := make([]image.Point, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		out = append(out, image.Pt(
			r.Min.X+int(math.Round(float64(v[0]))),
			r.Min.Y+int(math.Round(float64(v[1]))),
		))
	}
	return out
}
