package pano

import "errors"

// ErrImageIndex is returned when an operation references an image that does
// not exist.
var ErrImageIndex = errors.New("image index out of range")
