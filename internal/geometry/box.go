package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// BoundingBox is an oriented box expressed in its owning actor's local frame.
type BoundingBox struct {
	// Location is the box centre relative to the actor origin.
	Location r3.Vec
	// Extent holds half the box dimensions along each local axis.
	Extent   r3.Vec
	Rotation Rotation
}

// Size returns the full box dimensions (length, width, height).
func (b BoundingBox) Size() r3.Vec {
	return r3.Scale(2, b.Extent)
}

func (b BoundingBox) local() Transform {
	return Transform{Location: b.Location, Rotation: b.Rotation}
}

// WorldTransform returns the box centre frame in world space given the
// actor's transform.
func (b BoundingBox) WorldTransform(actor Transform) Transform {
	return Compose(actor, b.local())
}

// Contains reports whether worldPoint lies inside the box when the owning
// actor is placed at actor. Points on the faces count as inside.
func (b BoundingBox) Contains(worldPoint r3.Vec, actor Transform) bool {
	p := b.local().InverseTransformPoint(actor.InverseTransformPoint(worldPoint))
	return math.Abs(p.X) <= b.Extent.X &&
		math.Abs(p.Y) <= b.Extent.Y &&
		math.Abs(p.Z) <= b.Extent.Z
}

// Overlaps2D reports whether the ground-plane footprints of two boxes
// intersect, using the separating axis test on their yawed rectangles.
func Overlaps2D(a BoundingBox, at Transform, b BoundingBox, bt Transform) bool {
	aw, bw := a.WorldTransform(at), b.WorldTransform(bt)
	axes := [4]r3.Vec{
		yawAxis(aw.Rotation.Yaw, 0), yawAxis(aw.Rotation.Yaw, 90),
		yawAxis(bw.Rotation.Yaw, 0), yawAxis(bw.Rotation.Yaw, 90),
	}
	d := r3.Sub(bw.Location, aw.Location)
	d.Z = 0
	for _, axis := range axes {
		ra := projectedRadius(a.Extent, aw.Rotation.Yaw, axis)
		rb := projectedRadius(b.Extent, bw.Rotation.Yaw, axis)
		if math.Abs(r3.Dot(d, axis)) > ra+rb {
			return false
		}
	}
	return true
}

func yawAxis(yawDeg, offsetDeg float64) r3.Vec {
	a := degToRad(yawDeg + offsetDeg)
	return r3.Vec{X: math.Cos(a), Y: math.Sin(a)}
}

func projectedRadius(extent r3.Vec, yawDeg float64, axis r3.Vec) float64 {
	return extent.X*math.Abs(r3.Dot(yawAxis(yawDeg, 0), axis)) +
		extent.Y*math.Abs(r3.Dot(yawAxis(yawDeg, 90), axis))
}

// SegmentIntersection clips the segment from→to against the box and returns
// the entry and exit parameters in [0, 1]. ok is false when the segment
// misses the box.
func (b BoundingBox) SegmentIntersection(from, to r3.Vec, actor Transform) (tEnter, tExit float64, ok bool) {
	frame := b.WorldTransform(actor)
	o := frame.InverseTransformPoint(from)
	e := frame.InverseTransformPoint(to)
	dir := r3.Sub(e, o)

	tEnter, tExit = 0, 1
	origin := [3]float64{o.X, o.Y, o.Z}
	delta := [3]float64{dir.X, dir.Y, dir.Z}
	half := [3]float64{b.Extent.X, b.Extent.Y, b.Extent.Z}
	for i := 0; i < 3; i++ {
		if math.Abs(delta[i]) < 1e-12 {
			if math.Abs(origin[i]) > half[i] {
				return 0, 0, false
			}
			continue
		}
		t1 := (-half[i] - origin[i]) / delta[i]
		t2 := (half[i] - origin[i]) / delta[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tEnter = math.Max(tEnter, t1)
		tExit = math.Min(tExit, t2)
		if tEnter > tExit {
			return 0, 0, false
		}
	}
	return tEnter, tExit, true
}
