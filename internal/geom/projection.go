package geom

import (
	"fmt"
	"math"

	"panokit/internal/pano"
)

// ImageScale returns the pixels per radian (or the focal length in pixels
// for rectilinear images) of an image of the given width and fov.
func ImageScale(proj pano.Projection, width int, hfovDeg float64) (float64, error) {
	if width <= 0 || hfovDeg <= 0 {
		return 0, fmt.Errorf("%w: width %d hfov %v", ErrBadParams, width, hfovDeg)
	}
	half := float64(width) / 2
	h := radians(hfovDeg)
	switch proj {
	case pano.ProjRectilinear:
		if hfovDeg >= 180 {
			return 0, fmt.Errorf("%w: rectilinear hfov %v >= 180", ErrBadParams, hfovDeg)
		}
		return half / math.Tan(h/2), nil
	case pano.ProjPanoramic, pano.ProjEquirectangular, pano.ProjCircularFisheye, pano.ProjFullFrameFisheye:
		return float64(width) / h, nil
	case pano.ProjStereographic:
		return half / (2 * math.Tan(h/4)), nil
	case pano.ProjOrthographic:
		if hfovDeg > 180 {
			return 0, fmt.Errorf("%w: orthographic hfov %v > 180", ErrBadParams, hfovDeg)
		}
		return half / math.Sin(h/2), nil
	case pano.ProjEquisolid:
		return half / (2 * math.Sin(h/4)), nil
	default:
		return 0, fmt.Errorf("%w: unsupported image projection %d", ErrBadParams, int(proj))
	}
}

// PanoScale is ImageScale for the output canvas.
func PanoScale(proj pano.PanoProjection, width int, hfovDeg float64) (float64, error) {
	if width <= 0 || hfovDeg <= 0 {
		return 0, fmt.Errorf("%w: canvas width %d hfov %v", ErrBadParams, width, hfovDeg)
	}
	half := float64(width) / 2
	h := radians(hfovDeg)
	switch proj {
	case pano.PanoRectilinear:
		if hfovDeg >= 180 {
			return 0, fmt.Errorf("%w: rectilinear hfov %v >= 180", ErrBadParams, hfovDeg)
		}
		return half / math.Tan(h/2), nil
	case pano.PanoCylindrical, pano.PanoEquirectangular, pano.PanoFisheye, pano.PanoMercator, pano.PanoSinusoidal:
		return float64(width) / h, nil
	case pano.PanoStereographic:
		return half / (2 * math.Tan(h/4)), nil
	case pano.PanoOrthographic:
		if hfovDeg > 180 {
			return 0, fmt.Errorf("%w: orthographic hfov %v > 180", ErrBadParams, hfovDeg)
		}
		return half / math.Sin(h/2), nil
	case pano.PanoEquisolid:
		return half / (2 * math.Sin(h/4)), nil
	default:
		return 0, fmt.Errorf("%w: unsupported panorama projection %d", ErrBadParams, int(proj))
	}
}

// radialToVec turns a polar offset from the optical axis (angle theta from
// +Z, direction x,y in the image plane) into a unit vector.
func radialToVec(x, y, theta float64) Vec3 {
	rho := math.Hypot(x, y)
	if rho == 0 {
		return Vec3{0, 0, 1}
	}
	s, c := math.Sincos(theta)
	return Vec3{s * x / rho, s * y / rho, c}
}

// vecToRadial returns the angle from +Z and the unit direction in the
// image plane.
func vecToRadial(v Vec3) (theta, dx, dy float64) {
	rho := math.Hypot(v[0], v[1])
	theta = math.Atan2(rho, v[2])
	if rho == 0 {
		return theta, 0, 0
	}
	return theta, v[0] / rho, v[1] / rho
}

// imageToVec maps centred, undistorted image coordinates to a camera space
// direction.
func imageToVec(proj pano.Projection, f, x, y float64) (Vec3, bool) {
	switch proj {
	case pano.ProjRectilinear:
		return Vec3{x, y, f}, true
	case pano.ProjPanoramic:
		lon := x / f
		s, c := math.Sincos(lon)
		return Vec3{s, y / f, c}, true
	case pano.ProjEquirectangular:
		lon, lat := x/f, y/f
		if math.Abs(lat) > math.Pi/2 {
			return Vec3{}, false
		}
		return sphere(lon, lat), true
	case pano.ProjCircularFisheye, pano.ProjFullFrameFisheye:
		theta := math.Hypot(x, y) / f
		if theta > math.Pi {
			return Vec3{}, false
		}
		return radialToVec(x, y, theta), true
	case pano.ProjOrthographic:
		s := math.Hypot(x, y) / f
		if s > 1 {
			return Vec3{}, false
		}
		return radialToVec(x, y, math.Asin(s)), true
	case pano.ProjStereographic:
		return radialToVec(x, y, 2*math.Atan(math.Hypot(x, y)/(2*f))), true
	case pano.ProjEquisolid:
		s := math.Hypot(x, y) / (2 * f)
		if s > 1 {
			return Vec3{}, false
		}
		return radialToVec(x, y, 2*math.Asin(s)), true
	}
	return Vec3{}, false
}

// vecToImage is the inverse of imageToVec.
func vecToImage(proj pano.Projection, f float64, v Vec3) (float64, float64, bool) {
	switch proj {
	case pano.ProjRectilinear:
		if v[2] <= 0 {
			return 0, 0, false
		}
		return f * v[0] / v[2], f * v[1] / v[2], true
	case pano.ProjPanoramic:
		h := math.Hypot(v[0], v[2])
		if h == 0 {
			return 0, 0, false
		}
		return f * math.Atan2(v[0], v[2]), f * v[1] / h, true
	case pano.ProjEquirectangular:
		lon, lat := lonLat(v)
		return f * lon, f * lat, true
	case pano.ProjCircularFisheye, pano.ProjFullFrameFisheye:
		theta, dx, dy := vecToRadial(v)
		return f * theta * dx, f * theta * dy, true
	case pano.ProjOrthographic:
		theta, dx, dy := vecToRadial(v)
		if theta > math.Pi/2 {
			return 0, 0, false
		}
		r := f * math.Sin(theta)
		return r * dx, r * dy, true
	case pano.ProjStereographic:
		theta, dx, dy := vecToRadial(v)
		if theta >= math.Pi {
			return 0, 0, false
		}
		r := 2 * f * math.Tan(theta/2)
		return r * dx, r * dy, true
	case pano.ProjEquisolid:
		theta, dx, dy := vecToRadial(v)
		r := 2 * f * math.Sin(theta/2)
		return r * dx, r * dy, true
	}
	return 0, 0, false
}

// panoToVec maps centred canvas coordinates to a world direction.
func panoToVec(proj pano.PanoProjection, s, x, y float64) (Vec3, bool) {
	switch proj {
	case pano.PanoRectilinear:
		return Vec3{x, y, s}, true
	case pano.PanoCylindrical:
		lon := x / s
		if math.Abs(lon) > math.Pi {
			return Vec3{}, false
		}
		sn, c := math.Sincos(lon)
		return Vec3{sn, y / s, c}, true
	case pano.PanoEquirectangular:
		lon, lat := x/s, y/s
		if math.Abs(lon) > math.Pi || math.Abs(lat) > math.Pi/2 {
			return Vec3{}, false
		}
		return sphere(lon, lat), true
	case pano.PanoFisheye:
		theta := math.Hypot(x, y) / s
		if theta > math.Pi {
			return Vec3{}, false
		}
		return radialToVec(x, y, theta), true
	case pano.PanoStereographic:
		return radialToVec(x, y, 2*math.Atan(math.Hypot(x, y)/(2*s))), true
	case pano.PanoMercator:
		lon := x / s
		if math.Abs(lon) > math.Pi {
			return Vec3{}, false
		}
		return sphere(lon, math.Atan(math.Sinh(y/s))), true
	case pano.PanoSinusoidal:
		lat := y / s
		if math.Abs(lat) > math.Pi/2 {
			return Vec3{}, false
		}
		c := math.Cos(lat)
		if c == 0 {
			return sphere(0, lat), true
		}
		lon := x / (s * c)
		if math.Abs(lon) > math.Pi {
			return Vec3{}, false
		}
		return sphere(lon, lat), true
	case pano.PanoOrthographic:
		sn := math.Hypot(x, y) / s
		if sn > 1 {
			return Vec3{}, false
		}
		return radialToVec(x, y, math.Asin(sn)), true
	case pano.PanoEquisolid:
		sn := math.Hypot(x, y) / (2 * s)
		if sn > 1 {
			return Vec3{}, false
		}
		return radialToVec(x, y, 2*math.Asin(sn)), true
	}
	return Vec3{}, false
}

// vecToPano is the inverse of panoToVec.
func vecToPano(proj pano.PanoProjection, s float64, v Vec3) (float64, float64, bool) {
	switch proj {
	case pano.PanoRectilinear:
		if v[2] <= 0 {
			return 0, 0, false
		}
		return s * v[0] / v[2], s * v[1] / v[2], true
	case pano.PanoCylindrical:
		h := math.Hypot(v[0], v[2])
		if h == 0 {
			return 0, 0, false
		}
		return s * math.Atan2(v[0], v[2]), s * v[1] / h, true
	case pano.PanoEquirectangular:
		lon, lat := lonLat(v)
		return s * lon, s * lat, true
	case pano.PanoFisheye:
		theta, dx, dy := vecToRadial(v)
		return s * theta * dx, s * theta * dy, true
	case pano.PanoStereographic:
		theta, dx, dy := vecToRadial(v)
		if theta >= math.Pi {
			return 0, 0, false
		}
		r := 2 * s * math.Tan(theta/2)
		return r * dx, r * dy, true
	case pano.PanoMercator:
		lon, lat := lonLat(v)
		if math.Abs(lat) >= math.Pi/2 {
			return 0, 0, false
		}
		return s * lon, s * math.Asinh(math.Tan(lat)), true
	case pano.PanoSinusoidal:
		lon, lat := lonLat(v)
		return s * lon * math.Cos(lat), s * lat, true
	case pano.PanoOrthographic:
		theta, dx, dy := vecToRadial(v)
		if theta > math.Pi/2 {
			return 0, 0, false
		}
		r := s * math.Sin(theta)
		return r * dx, r * dy, true
	case pano.PanoEquisolid:
		theta, dx, dy := vecToRadial(v)
		r := 2 * s * math.Sin(theta/2)
		return r * dx, r * dy, true
	}
	return 0, 0, false
}

// sphere returns the unit vector at longitude lon (towards +X) and latitude
// lat (towards +Y, down).
func sphere(lon, lat float64) Vec3 {
	sl, cl := math.Sincos(lon)
	sp, cp := math.Sincos(lat)
	return Vec3{cp * sl, sp, cp * cl}
}

func lonLat(v Vec3) (lon, lat float64) {
	return math.Atan2(v[0], v[2]), math.Atan2(v[1], math.Hypot(v[0], v[2]))
}
