package pano

import (
	"math"
)

// MaskType selects how a mask polygon affects the images it applies to.
type MaskType int

const (
	MaskNegative MaskType = iota
	MaskPositive
	MaskStackNegative
	MaskStackPositive
	MaskLensNegative
)

func (t MaskType) String() string {
	switch t {
	case MaskNegative:
		return "negative"
	case MaskPositive:
		return "positive"
	case MaskStackNegative:
		return "stack-negative"
	case MaskStackPositive:
		return "stack-positive"
	case MaskLensNegative:
		return "lens-negative"
	default:
		return "unknown"
	}
}

// Excludes reports whether pixels inside a mask of this type are removed
// from the image it is attached to.
func (t MaskType) Excludes() bool {
	return t == MaskNegative || t == MaskStackNegative || t == MaskLensNegative
}

// Point is a position in image or panorama pixel coordinates.
type Point struct {
	X, Y float64
}

// Mask is a closed polygon attached to one image.
type Mask struct {
	Type   MaskType
	Points []Point
}

// Clone returns a copy that shares no memory with m.
func (m Mask) Clone() Mask {
	return Mask{Type: m.Type, Points: append([]Point(nil), m.Points...)}
}

// Valid reports whether the polygon has enough vertices to enclose area.
func (m Mask) Valid() bool { return len(m.Points) >= 3 }

// Contains tests a point against the polygon with ray casting.
func (m Mask) Contains(p Point) bool {
	return PointInPolygon(p, m.Points)
}

// Bounds returns the bounding box of the polygon.
func (m Mask) Bounds() (minX, minY, maxX, maxY float64) {
	if len(m.Points) == 0 {
		return 0, 0, 0, 0
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range m.Points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return
}

// PointInPolygon tests if a point is inside a polygon using ray casting.
func PointInPolygon(p Point, polygon []Point) bool {
	if len(polygon) < 3 {
		return false
	}
	inside := false
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		pi, pj := polygon[i], polygon[j]
		if ((pi.Y > p.Y) != (pj.Y > p.Y)) &&
			(p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X) {
			inside = !inside
		}
	}
	return inside
}

// ClipToRect clips a polygon to the axis aligned box [minX,maxX]x[minY,maxY]
// using Sutherland-Hodgman. The result is nil when fewer than three vertices
// survive.
func ClipToRect(polygon []Point, minX, minY, maxX, maxY float64) []Point {
	out := polygon
	out = clipHalfPlane(out, func(p Point) float64 { return p.X - minX })
	out = clipHalfPlane(out, func(p Point) float64 { return maxX - p.X })
	out = clipHalfPlane(out, func(p Point) float64 { return p.Y - minY })
	out = clipHalfPlane(out, func(p Point) float64 { return maxY - p.Y })
	if len(out) < 3 {
		return nil
	}
	return out
}

// ClipToCircle clips a polygon to a circle approximated by a regular
// 64-gon.
func ClipToCircle(polygon []Point, cx, cy, radius float64) []Point {
	const sides = 64
	out := polygon
	for i := 0; i < sides && len(out) > 0; i++ {
		a0 := 2 * math.Pi * float64(i) / sides
		a1 := 2 * math.Pi * float64(i+1) / sides
		e0 := Point{cx + radius*math.Cos(a0), cy + radius*math.Sin(a0)}
		e1 := Point{cx + radius*math.Cos(a1), cy + radius*math.Sin(a1)}
		// Signed distance to the chord, positive towards the centre.
		nx, ny := -(e1.Y - e0.Y), e1.X-e0.X
		if nx*(cx-e0.X)+ny*(cy-e0.Y) < 0 {
			nx, ny = -nx, -ny
		}
		out = clipHalfPlane(out, func(p Point) float64 {
			return nx*(p.X-e0.X) + ny*(p.Y-e0.Y)
		})
	}
	if len(out) < 3 {
		return nil
	}
	return out
}

// clipHalfPlane keeps the part of polygon where side(p) >= 0.
func clipHalfPlane(polygon []Point, side func(Point) float64) []Point {
	if len(polygon) == 0 {
		return nil
	}
	var clipped []Point
	for i := 0; i < len(polygon); i++ {
		cur := polygon[i]
		next := polygon[(i+1)%len(polygon)]
		dc, dn := side(cur), side(next)
		if dc >= 0 {
			clipped = append(clipped, cur)
			if dn < 0 {
				clipped = append(clipped, lerpPoint(cur, next, dc/(dc-dn)))
			}
		} else if dn >= 0 {
			clipped = append(clipped, lerpPoint(cur, next, dc/(dc-dn)))
		}
	}
	return clipped
}

func lerpPoint(a, b Point, t float64) Point {
	return Point{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)}
}

// Densify inserts intermediate vertices so that no edge is longer than
// step. Straight edges bend under non-linear reprojection, so dense
// polygons keep their shape after a transform.
func Densify(polygon []Point, step float64) []Point {
	if len(polygon) < 2 || step <= 0 {
		return append([]Point(nil), polygon...)
	}
	out := make([]Point, 0, len(polygon)*2)
	for i := 0; i < len(polygon); i++ {
		a := polygon[i]
		b := polygon[(i+1)%len(polygon)]
		out = append(out, a)
		n := int(math.Ceil(math.Hypot(b.X-a.X, b.Y-a.Y) / step))
		for k := 1; k < n; k++ {
			out = append(out, lerpPoint(a, b, float64(k)/float64(n)))
		}
	}
	return out
}
