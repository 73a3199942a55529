package geom

import (
	"fmt"
	"math"

	"panokit/internal/pano"
)

// fullFrameWidth is the 35mm sensor width the crop factor refers to.
const fullFrameWidth = 36.0

// HFOVFromFocal computes the horizontal field of view in degrees of a lens
// of focal length focalMM on a sensor with the given crop factor. aspect is
// width/height of the image; portrait images use the short sensor side.
func HFOVFromFocal(proj pano.Projection, focalMM, cropFactor, aspect float64) (float64, error) {
	if focalMM <= 0 || cropFactor <= 0 {
		return 0, fmt.Errorf("%w: focal %v crop %v", ErrBadParams, focalMM, cropFactor)
	}
	sensor := fullFrameWidth / cropFactor
	if aspect > 0 && aspect < 1 {
		sensor = 24.0 / cropFactor
	}
	half := sensor / 2
	var h float64
	switch proj {
	case pano.ProjRectilinear:
		h = 2 * math.Atan(half/focalMM)
	case pano.ProjCircularFisheye, pano.ProjFullFrameFisheye, pano.ProjPanoramic, pano.ProjEquirectangular:
		h = sensor / focalMM
	case pano.ProjStereographic:
		h = 4 * math.Atan(half/(2*focalMM))
	case pano.ProjOrthographic:
		s := half / focalMM
		if s > 1 {
			s = 1
		}
		h = 2 * math.Asin(s)
	case pano.ProjEquisolid:
		s := half / (2 * focalMM)
		if s > 1 {
			s = 1
		}
		h = 4 * math.Asin(s)
	default:
		return 0, fmt.Errorf("%w: unsupported projection %d", ErrBadParams, int(proj))
	}
	return degrees(h), nil
}

// FocalFromHFOV is the inverse of HFOVFromFocal.
func FocalFromHFOV(proj pano.Projection, hfovDeg, cropFactor, aspect float64) (float64, error) {
	if hfovDeg <= 0 || cropFactor <= 0 {
		return 0, fmt.Errorf("%w: hfov %v crop %v", ErrBadParams, hfovDeg, cropFactor)
	}
	sensor := fullFrameWidth / cropFactor
	if aspect > 0 && aspect < 1 {
		sensor = 24.0 / cropFactor
	}
	half := sensor / 2
	h := radians(hfovDeg)
	switch proj {
	case pano.ProjRectilinear:
		return half / math.Tan(h/2), nil
	case pano.ProjCircularFisheye, pano.ProjFullFrameFisheye, pano.ProjPanoramic, pano.ProjEquirectangular:
		return sensor / h, nil
	case pano.ProjStereographic:
		return half / (2 * math.Tan(h/4)), nil
	case pano.ProjOrthographic:
		return half / math.Sin(h/2), nil
	case pano.ProjEquisolid:
		return half / (2 * math.Sin(h/4)), nil
	}
	return 0, fmt.Errorf("%w: unsupported projection %d", ErrBadParams, int(proj))
}
