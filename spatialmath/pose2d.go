// Package spatialmath holds the planar pose, orientation, and uncertainty types
// used by the drive base and its consumers.
package spatialmath

import (
	"fmt"
	"math"
)

// Pose2D is a position on the ground plane in meters with a heading in radians.
// Theta is accumulated as-is and never wrapped into [-pi, pi).
type Pose2D struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Add returns the componentwise sum of the two poses.
func (p Pose2D) Add(o Pose2D) Pose2D {
	return Pose2D{X: p.X + o.X, Y: p.Y + o.Y, Theta: p.Theta + o.Theta}
}

// Sub returns the componentwise difference p - o.
func (p Pose2D) Sub(o Pose2D) Pose2D {
	return Pose2D{X: p.X - o.X, Y: p.Y - o.Y, Theta: p.Theta - o.Theta}
}

// Scale multiplies every component by s.
func (p Pose2D) Scale(s float64) Pose2D {
	return Pose2D{X: p.X * s, Y: p.Y * s, Theta: p.Theta * s}
}

// IsFinite reports whether no component is NaN or infinite.
func (p Pose2D) IsFinite() bool {
	for _, v := range []float64{p.X, p.Y, p.Theta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PoseAlmostEqual reports whether the poses match within epsilon on every component.
func PoseAlmostEqual(a, b Pose2D, epsilon float64) bool {
	return math.Abs(a.X-b.X) <= epsilon &&
		math.Abs(a.Y-b.Y) <= epsilon &&
		math.Abs(a.Theta-b.Theta) <= epsilon
}

func (p Pose2D) String() string {
	return fmt.Sprintf("{X:%.4f Y:%.4f Theta:%.4f}", p.X, p.Y, p.Theta)
}
