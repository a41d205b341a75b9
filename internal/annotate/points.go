package annotate

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scenecapture/internal/geometry"
	"github.com/banshee-data/scenecapture/internal/sim"
)

// PointCounts are the returns inside one object's box, summed over sensors.
type PointCounts struct {
	Lidar int
	Radar int
}

// sensorToBox composes the transform taking sensor-local points into the
// frame centred on the target box.
func sensorToBox(sensor geometry.Transform, target sim.Actor) [16]float64 {
	box := target.BoundingBox().WorldTransform(target.Transform())
	return geometry.MulPose(box.InverseMatrix(), sensor.Matrix())
}

func inside(p, extent r3.Vec) bool {
	return math.Abs(p.X) <= extent.X && math.Abs(p.Y) <= extent.Y && math.Abs(p.Z) <= extent.Z
}

// CountLidarPoints counts the sensor-local lidar returns of obs inside the
// target box. A nil observation counts zero.
func CountLidarPoints(target sim.Actor, obs *sim.Observation) int {
	if obs == nil || len(obs.Points) == 0 {
		return 0
	}
	m := sensorToBox(obs.SensorTransform, target)
	extent := target.BoundingBox().Extent
	n := 0
	for _, p := range obs.Points {
		if inside(geometry.ApplyPose(p, m), extent) {
			n++
		}
	}
	return n
}

// CountRadarPoints counts radar detections of obs inside the target box after
// reconstructing each detection as a sensor-local point.
func CountRadarPoints(target sim.Actor, obs *sim.Observation) int {
	if obs == nil || len(obs.Detections) == 0 {
		return 0
	}
	m := sensorToBox(obs.SensorTransform, target)
	extent := target.BoundingBox().Extent
	n := 0
	for _, d := range obs.Detections {
		p := geometry.RadarToCartesian(d.Depth, d.Azimuth, d.Altitude)
		if inside(geometry.ApplyPose(p, m), extent) {
			n++
		}
	}
	return n
}

// LastObservation returns the most recent buffered observation of s, or nil.
func LastObservation(s sim.Sensor) *sim.Observation {
	obs := s.Observations()
	if len(obs) == 0 {
		return nil
	}
	return &obs[len(obs)-1]
}

// CountPoints sums lidar and radar returns inside target over the latest
// observation of every sensor.
func CountPoints(target sim.Actor, sensors []sim.Sensor) PointCounts {
	var c PointCounts
	for _, s := range sensors {
		switch s.Modality() {
		case sim.ModalityLidar:
			c.Lidar += CountLidarPoints(target, LastObservation(s))
		case sim.ModalityRadar:
			c.Radar += CountRadarPoints(target, LastObservation(s))
		}
	}
	return c
}
