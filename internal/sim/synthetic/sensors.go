package synthetic

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scenecapture/internal/geometry"
	"github.com/banshee-data/scenecapture/internal/sim"
)

// sensorModalities maps sensor blueprints to modalities.
var sensorModalities = map[string]sim.Modality{
	"sensor.camera.rgb":     sim.ModalityCamera,
	"sensor.lidar.ray_cast": sim.ModalityLidar,
	"sensor.other.radar":    sim.ModalityRadar,
	"sensor.other.imu":      sim.ModalityOther,
	"sensor.other.gnss":     sim.ModalityOther,
}

type sensor struct {
	id        uint32
	channel   string
	blueprint string
	modality  sim.Modality
	mount     geometry.Transform
	parent    *actor

	// everyTicks is the capture cadence in world ticks.
	everyTicks uint64
	camera     sim.CameraParams

	channels         int
	pointsPerChannel int
	lidarRange       float64
	upperFOV         float64
	lowerFOV         float64

	radarRange float64
	hFOV       float64
	vFOV       float64

	buf []sim.Observation
}

func (s *sensor) ID() uint32                      { return s.id }
func (s *sensor) Channel() string                 { return s.channel }
func (s *sensor) Modality() sim.Modality          { return s.modality }
func (s *sensor) Mount() geometry.Transform       { return s.mount }
func (s *sensor) Observations() []sim.Observation { return s.buf }
func (s *sensor) ClearObservations()              { s.buf = nil }

func (s *sensor) Transform() geometry.Transform {
	return geometry.Compose(s.parent.tr, s.mount)
}

func (s *sensor) Camera() (sim.CameraParams, bool) {
	return s.camera, s.modality == sim.ModalityCamera
}

type attrs map[string]string

func (a attrs) float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s=%q: %w", key, v, err)
	}
	return f, nil
}

func (a attrs) int(key string, def int) (int, error) {
	f, err := a.float(key, float64(def))
	if err != nil {
		return 0, err
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("attribute %s=%q must be a non-negative integer", key, a[key])
	}
	return int(f), nil
}

// SpawnSensor attaches a sensor to parent. Supported attributes follow the
// usual blueprint names: image_size_x, image_size_y and fov for cameras;
// channels, points_per_channel, range, upper_fov and lower_fov for lidars;
// range, horizontal_fov and vertical_fov for radars; sensor_tick for all.
func (w *World) SpawnSensor(ctx context.Context, spec sim.SensorSpec, parent sim.Actor) (sim.Sensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.closed {
		return nil, errWorldClosed
	}
	var p *actor
	for _, a := range w.actors {
		if a.id == parent.ID() {
			p = a
		}
	}
	if p == nil {
		return nil, fmt.Errorf("parent actor %d not found", parent.ID())
	}
	modality, ok := sensorModalities[spec.Blueprint]
	if !ok {
		return nil, fmt.Errorf("%w %q", sim.ErrUnknownBlueprint, spec.Blueprint)
	}
	if spec.Modality != "" && spec.Modality != modality {
		return nil, fmt.Errorf("blueprint %q is a %s sensor, not %s", spec.Blueprint, modality, spec.Modality)
	}

	a := attrs(spec.Attributes)
	s := &sensor{
		id:        w.allocID(),
		channel:   spec.Channel,
		blueprint: spec.Blueprint,
		modality:  modality,
		mount:     spec.Mount,
		parent:    p,
	}

	tick, err := a.float("sensor_tick", 0)
	if err != nil {
		return nil, err
	}
	s.everyTicks = 1
	if tick > w.dt {
		s.everyTicks = uint64(math.Round(tick / w.dt))
	}

	switch modality {
	case sim.ModalityCamera:
		if s.camera.Width, err = a.int("image_size_x", 1600); err != nil {
			return nil, err
		}
		if s.camera.Height, err = a.int("image_size_y", 900); err != nil {
			return nil, err
		}
		if s.camera.FOV, err = a.float("fov", 90); err != nil {
			return nil, err
		}
	case sim.ModalityLidar:
		if s.channels, err = a.int("channels", w.opts.LidarChannels); err != nil {
			return nil, err
		}
		if s.pointsPerChannel, err = a.int("points_per_channel", w.opts.LidarPointsPerChannel); err != nil {
			return nil, err
		}
		if s.lidarRange, err = a.float("range", w.opts.LidarRange); err != nil {
			return nil, err
		}
		if s.upperFOV, err = a.float("upper_fov", 10); err != nil {
			return nil, err
		}
		if s.lowerFOV, err = a.float("lower_fov", -30); err != nil {
			return nil, err
		}
	case sim.ModalityRadar:
		if s.radarRange, err = a.float("range", w.opts.RadarRange); err != nil {
			return nil, err
		}
		if s.hFOV, err = a.float("horizontal_fov", w.opts.RadarHorizontalFOV); err != nil {
			return nil, err
		}
		if s.vFOV, err = a.float("vertical_fov", w.opts.RadarVerticalFOV); err != nil {
			return nil, err
		}
	}
	w.sensors = append(w.sensors, s)
	return s, nil
}

func (w *World) DestroySensor(ctx context.Context, target sim.Sensor) error {
	for i, s := range w.sensors {
		if s.id == target.ID() {
			w.sensors = append(w.sensors[:i], w.sensors[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("sensor %d not found", target.ID())
}

func (s *sensor) tick(w *World) error {
	if w.frame%s.everyTicks != 0 {
		return nil
	}
	tr := s.Transform()
	obs := sim.Observation{
		Frame:           w.frame,
		Timestamp:       w.elapsed,
		EgoTransform:    s.parent.tr,
		SensorTransform: tr,
	}
	switch s.modality {
	case sim.ModalityCamera:
		obs.Width, obs.Height = s.camera.Width, s.camera.Height
	case sim.ModalityLidar:
		pts, err := s.sweep(w, tr)
		if err != nil {
			return err
		}
		obs.Points = pts
	case sim.ModalityRadar:
		dets, err := s.detect(w, tr)
		if err != nil {
			return err
		}
		obs.Detections = dets
	}
	s.buf = append(s.buf, obs)
	return nil
}

// sweep casts one ray per channel and azimuth step and keeps the nearest hit
// of each, expressed in the sensor frame.
func (s *sensor) sweep(w *World, tr geometry.Transform) ([]r3.Vec, error) {
	if s.channels == 0 || s.pointsPerChannel == 0 {
		return nil, nil
	}
	origin := tr.Location
	pts := make([]r3.Vec, 0, s.channels*s.pointsPerChannel/4)
	for ch := 0; ch < s.channels; ch++ {
		elev := s.upperFOV
		if s.channels > 1 {
			elev = s.upperFOV - float64(ch)*(s.upperFOV-s.lowerFOV)/float64(s.channels-1)
		}
		el := elev * math.Pi / 180
		for i := 0; i < s.pointsPerChannel; i++ {
			az := 2 * math.Pi * float64(i) / float64(s.pointsPerChannel)
			local := r3.Vec{
				X: s.lidarRange * math.Cos(el) * math.Cos(az),
				Y: s.lidarRange * math.Cos(el) * math.Sin(az),
				Z: s.lidarRange * math.Sin(el),
			}
			hits, err := w.CastRay(origin, tr.TransformPoint(local))
			if err != nil {
				return nil, err
			}
			for _, h := range hits {
				if s.parent.box.Contains(h.Location, s.parent.tr) {
					continue
				}
				pts = append(pts, tr.InverseTransformPoint(h.Location))
				break
			}
		}
	}
	return pts, nil
}

// detect returns detections for every actor whose box centre is in range,
// inside the field of view and not hidden behind labelled geometry.
func (s *sensor) detect(w *World, tr geometry.Transform) ([]sim.RadarDetection, error) {
	var dets []sim.RadarDetection
	for _, a := range w.actors {
		if a == s.parent {
			continue
		}
		centre := a.box.WorldTransform(a.tr).Location
		local := tr.InverseTransformPoint(centre)
		depth, azimuth, altitude := geometry.CartesianToRadar(local)
		if depth == 0 || depth > s.radarRange {
			continue
		}
		if math.Abs(altitude) > s.hFOV*math.Pi/360 || math.Abs(azimuth) > s.vFOV*math.Pi/360 {
			continue
		}
		hits, err := w.CastRay(tr.Location, centre)
		if err != nil {
			return nil, err
		}
		if occluded(hits, a, s.parent) {
			continue
		}
		// Radial velocity of the target relative to the sensor.
		var v float64
		if a.kind == sim.KindVehicle && a.autopilot {
			dir := r3.Unit(r3.Sub(centre, tr.Location))
			v = r3.Dot(r3.Scale(a.speed, a.tr.Forward()), dir)
		}
		dets = append(dets, sim.RadarDetection{Depth: depth, Azimuth: azimuth, Altitude: altitude, Velocity: v})
	}
	return dets, nil
}

func occluded(hits []sim.RayHit, target, self *actor) bool {
	for _, h := range hits {
		if h.Label == sim.LabelNone || h.Label == sim.LabelRoad {
			continue
		}
		if target.box.Contains(h.Location, target.tr) || self.box.Contains(h.Location, self.tr) {
			continue
		}
		return true
	}
	return false
}
