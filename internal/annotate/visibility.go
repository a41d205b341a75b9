// Package annotate computes per-object annotation values at a keyframe: the
// quantized visibility level from ray casts and the number of lidar and radar
// returns that fall inside each object's box.
package annotate

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scenecapture/internal/geometry"
	"github.com/banshee-data/scenecapture/internal/sim"
)

// RaysPerEdge is the number of sample points cast along each box diagonal.
const RaysPerEdge = 5

// edgeSteps are the fractions of a half diagonal at which points are sampled.
var edgeSteps = [RaysPerEdge]float64{-1, -0.5, 0, 0.5, 1}

// hitMargin widens the ego and target boxes when attributing ray hits, so a
// hit on a box surface belongs to that box despite rounding.
const hitMargin = 0.01 // metres

// visibilityLevels maps the best unobstructed ray count to a level from
// 0 (occluded) to 4 (fully visible).
var visibilityLevels = [RaysPerEdge + 1]int{0, 1, 1, 2, 3, 4}

// VisibilityLevel quantizes an unobstructed ray count.
func VisibilityLevel(rays int) int {
	if rays < 0 {
		return 0
	}
	if rays > RaysPerEdge {
		rays = RaysPerEdge
	}
	return visibilityLevels[rays]
}

// RayCaster returns every intersection along a segment.
type RayCaster interface {
	CastRay(from, to r3.Vec) ([]sim.RayHit, error)
}

// Estimator estimates how much of an object the ego lidars can see.
type Estimator struct {
	caster RayCaster
}

func NewEstimator(caster RayCaster) *Estimator {
	return &Estimator{caster: caster}
}

// UnobstructedRays returns the best count of clear rays on any box diagonal
// from any lidar on the ego vehicle.
//
// Each lidar position is raised by half the ego height. Rays are cast to
// points spread over the target's two horizontal box diagonals at the box
// centre height. A ray is clear when every hit it returns lies inside the ego
// box, inside the target box, or carries no semantic label.
func (e *Estimator) UnobstructedRays(ego sim.Actor, sensors []sim.Sensor, target sim.Actor) (int, error) {
	egoBox, egoTransform := ego.BoundingBox(), ego.Transform()
	box, targetTransform := target.BoundingBox(), target.Transform()
	frame := box.WorldTransform(targetTransform)

	diagonals := [2]r3.Vec{
		{X: box.Extent.X, Y: box.Extent.Y},
		{X: -box.Extent.X, Y: box.Extent.Y},
	}
	yaw := geometry.Transform{Rotation: geometry.Rotation{Yaw: frame.Rotation.Yaw}}

	best := 0
	for _, s := range sensors {
		if s.Modality() != sim.ModalityLidar {
			continue
		}
		observer := s.Transform().Location
		observer.Z += egoBox.Extent.Z

		for _, d := range diagonals {
			dir := yaw.TransformPoint(d)
			clear := 0
			for _, step := range edgeSteps {
				point := r3.Add(frame.Location, r3.Scale(step, dir))
				hits, err := e.caster.CastRay(observer, point)
				if err != nil {
					return 0, fmt.Errorf("cast ray from %s: %w", s.Channel(), err)
				}
				if unobstructed(hits, egoBox, egoTransform, box, targetTransform) {
					clear++
				}
			}
			if clear > best {
				best = clear
			}
		}
	}
	return best, nil
}

// Visibility returns the quantized visibility level of target.
func (e *Estimator) Visibility(ego sim.Actor, sensors []sim.Sensor, target sim.Actor) (int, error) {
	rays, err := e.UnobstructedRays(ego, sensors, target)
	if err != nil {
		return 0, err
	}
	return VisibilityLevel(rays), nil
}

func unobstructed(hits []sim.RayHit, egoBox geometry.BoundingBox, egoT geometry.Transform, box geometry.BoundingBox, boxT geometry.Transform) bool {
	egoBox, box = grow(egoBox, hitMargin), grow(box, hitMargin)
	for _, h := range hits {
		if h.Label == sim.LabelNone {
			continue
		}
		if egoBox.Contains(h.Location, egoT) || box.Contains(h.Location, boxT) {
			continue
		}
		return false
	}
	return true
}

func grow(b geometry.BoundingBox, margin float64) geometry.BoundingBox {
	b.Extent = r3.Add(b.Extent, r3.Vec{X: margin, Y: margin, Z: margin})
	return b
}
