package geo

import "errors"

var (
	// ErrCoincidentPoints indicates two points that are equal where a direction is required.
	ErrCoincidentPoints = errors.New("coincident points")
	// ErrUnsupportedGeometry indicates a feature geometry of the wrong type.
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
	// ErrBadProperty indicates a feature property that is not a number.
	ErrBadProperty = errors.New("bad property")
)
