package capture

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/banshee-data/scenecapture/internal/annotate"
	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/geometry"
	"github.com/banshee-data/scenecapture/internal/monitoring"
	"github.com/banshee-data/scenecapture/internal/sim"
)

// Stepper advances a scene tick by tick and samples it on keyframes.
type Stepper struct {
	builder *dataset.Builder
	log     *zap.SugaredLogger
	metrics *monitoring.Metrics
}

func NewStepper(b *dataset.Builder, log *zap.SugaredLogger, m *monitoring.Metrics) *Stepper {
	if m == nil {
		m = monitoring.Unregistered()
	}
	return &Stepper{builder: b, log: monitoring.OrNop(log), metrics: m}
}

// Run ticks the scene timing.TotalTicks times and samples every keyframe.
// Tick and sample chain errors end the run; per-sensor and per-instance
// errors are logged and skipped.
func (s *Stepper) Run(ctx context.Context, sc *SceneContext, timing Timing) error {
	est := annotate.NewEstimator(sc.World)
	for n := 1; n <= timing.TotalTicks; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		elapsed, err := sc.World.Tick(ctx)
		if err != nil {
			return errors.Wrapf(err, "tick %d", n)
		}
		s.metrics.Ticks.Inc()
		if !timing.IsKeyframe(n) {
			continue
		}
		if err := s.Keyframe(ctx, sc, est, elapsed); err != nil {
			return errors.Wrapf(err, "keyframe at tick %d", n)
		}
	}
	return nil
}

// Keyframe appends a sample at elapsed seconds, drains every captured sensor
// buffer into its sample data chain, annotates each visible instance and
// clears all sensor buffers.
func (s *Stepper) Keyframe(ctx context.Context, sc *SceneContext, est *annotate.Estimator, elapsed float64) error {
	sample, err := s.builder.AppendSample(ctx, sc.lastSample, sc.SceneToken, geometry.TimestampMicros(elapsed))
	if err != nil {
		return err
	}
	sc.lastSample = sample
	s.metrics.Keyframes.Inc()

	for _, as := range sc.Sensors {
		if !as.Sensor.Modality().Captured() {
			continue
		}
		if err := s.captureSensor(ctx, sc, as, sample); err != nil {
			s.log.Warnw("skipping sensor at keyframe",
				"scene_token", sc.SceneToken, "sensor", as.Sensor.Channel(), "error", err)
		}
	}

	sensors := sc.sensors()
	for _, inst := range sc.Instances {
		if err := s.annotateInstance(ctx, sc, est, sensors, inst, sample); err != nil {
			s.log.Warnw("skipping instance at keyframe",
				"scene_token", sc.SceneToken, "actor_id", inst.Actor.ID(), "error", err)
		}
	}

	for _, as := range sc.Sensors {
		as.Sensor.ClearObservations()
	}
	return nil
}

// captureSensor writes one ego pose and one sample data row per buffered
// observation. The newest observation is the keyframe capture.
func (s *Stepper) captureSensor(ctx context.Context, sc *SceneContext, as *ActiveSensor, sample string) error {
	obs := as.Sensor.Observations()
	modality := string(as.Sensor.Modality())
	for i := range obs {
		o := &obs[i]
		if !finiteTransform(o.EgoTransform) {
			return fmt.Errorf("observation at frame %d has a non-finite ego transform", o.Frame)
		}
		ts := geometry.TimestampMicros(o.Timestamp)
		rotation, translation := geometry.NuScenesRT(o.EgoTransform, false)
		pose, err := s.builder.UpsertEgoPose(ctx, sc.SceneToken, as.CalibratedToken, ts, rotation, translation)
		if err != nil {
			return err
		}
		token, err := s.builder.AppendSampleData(ctx, as.lastData, dataset.SampleDataInfo{
			SceneToken:            sc.SceneToken,
			SampleToken:           sample,
			EgoPoseToken:          pose,
			CalibratedSensorToken: as.CalibratedToken,
			Channel:               as.Sensor.Channel(),
			Modality:              modality,
			Timestamp:             ts,
			IsKeyFrame:            i == len(obs)-1,
			Height:                o.Height,
			Width:                 o.Width,
		})
		if err != nil {
			return err
		}
		as.lastData = token
		s.metrics.SampleData.WithLabelValues(modality).Inc()
	}
	return nil
}

func (s *Stepper) annotateInstance(ctx context.Context, sc *SceneContext, est *annotate.Estimator, sensors []sim.Sensor, inst *Instance, sample string) error {
	tr := inst.Actor.Transform()
	if !finiteTransform(tr) {
		return fmt.Errorf("actor %d has a non-finite transform", inst.Actor.ID())
	}
	level, err := est.Visibility(sc.Ego, sensors, inst.Actor)
	if err != nil {
		return err
	}
	if level == 0 {
		s.metrics.SkippedInstances.Inc()
		return nil
	}

	box := inst.Actor.BoundingBox()
	rotation, translation := geometry.NuScenesRT(box.WorldTransform(tr), false)
	size := box.Size()
	counts := annotate.CountPoints(inst.Actor, sensors)

	token, err := s.builder.AppendSampleAnnotation(ctx, inst.lastAnnotation, dataset.AnnotationInfo{
		SceneToken:      sc.SceneToken,
		SampleToken:     sample,
		InstanceToken:   inst.Token,
		VisibilityToken: dataset.VisibilityToken(level),
		AttributeTokens: inst.attributeTokens,
		Translation:     translation,
		Rotation:        rotation,
		// width, length, height
		Size:        [3]float64{size.Y, size.X, size.Z},
		NumLidarPts: counts.Lidar,
		NumRadarPts: counts.Radar,
	})
	if err != nil {
		return err
	}
	inst.lastAnnotation = token
	s.metrics.Annotations.WithLabelValues(strconv.Itoa(level)).Inc()
	return nil
}

func finiteTransform(t geometry.Transform) bool {
	for _, v := range []float64{
		t.Location.X, t.Location.Y, t.Location.Z,
		t.Rotation.Pitch, t.Rotation.Yaw, t.Rotation.Roll,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
