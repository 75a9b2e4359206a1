// Package geo holds the geographic primitives of tourist: the photo search radius ladder and
// great-circle distances.
package geo

// Ladder is an ordered, monotonically increasing sequence of photo search radii in kilometers.
// A pin starts searching at the first rung and moves up one rung at a time until it finds enough photos.
type Ladder []float64

// DefaultLadder is the radius ladder used for photo searches
var DefaultLadder = Ladder{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 1.5, 2.0, 3.0, 4.0, 8.0, 16.0, 32.0}

func (l Ladder) Len() int {
	return len(l)
}

// Advance returns the index of the next rung. It saturates at the last rung so repeated calls never run past it.
func (l Ladder) Advance(i int) int {
	return l.clamp(i + 1)
}

// Last reports whether i is at, or beyond, the last rung
func (l Ladder) Last(i int) bool {
	return i >= len(l)-1
}

// Radius returns the radius at rung i, with i clamped into the valid range
func (l Ladder) Radius(i int) float64 {
	return l[l.clamp(i)]
}

func (l Ladder) clamp(i int) int {
	if i < 0 {
		return 0
	}
	if i > len(l)-1 {
		return len(l) - 1
	}
	return i
}
