package pano

// CPMode is the constraint a control point expresses. Values from
// CPLineFirst upward are line group ids.
type CPMode int

const (
	CPXY        CPMode = 0
	CPX         CPMode = 1
	CPY         CPMode = 2
	CPLineFirst CPMode = 3
)

// ControlPoint ties a position in one image to a position in another.
type ControlPoint struct {
	Image1 int
	X1, Y1 float64
	Image2 int
	X2, Y2 float64
	Mode   CPMode
	Error  float64
}

// IsLine reports whether the point belongs to a straight line group.
func (c ControlPoint) IsLine() bool { return c.Mode >= CPLineFirst }

// Swapped returns the same constraint with its endpoints exchanged.
func (c ControlPoint) Swapped() ControlPoint {
	return ControlPoint{
		Image1: c.Image2, X1: c.X2, Y1: c.Y2,
		Image2: c.Image1, X2: c.X1, Y2: c.Y1,
		Mode: c.Mode, Error: c.Error,
	}
}

// SameAs reports whether both points join the same coordinates of the same
// image pair, in either orientation. Mode and error are ignored.
func (c ControlPoint) SameAs(o ControlPoint) bool {
	if c.Image1 == o.Image1 && c.Image2 == o.Image2 &&
		c.X1 == o.X1 && c.Y1 == o.Y1 && c.X2 == o.X2 && c.Y2 == o.Y2 {
		return true
	}
	return c.Image1 == o.Image2 && c.Image2 == o.Image1 &&
		c.X1 == o.X2 && c.Y1 == o.Y2 && c.X2 == o.X1 && c.Y2 == o.Y1
}
