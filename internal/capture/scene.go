package capture

import (
	"context"
	"fmt"

	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/geometry"
	"github.com/banshee-data/scenecapture/internal/sim"
)

// Instance is one annotated actor for the lifetime of a scene repetition.
type Instance struct {
	Actor sim.Actor
	Kind  sim.EntityKind
	Token string

	attributeTokens []string
	lastAnnotation  string
}

// ActiveSensor is a sensor mounted on the ego with its calibration row.
type ActiveSensor struct {
	Sensor          sim.Sensor
	CalibratedToken string

	lastData string
}

// SceneContext is the state of one scene repetition, owned by the Generator
// from spawn until teardown.
type SceneContext struct {
	SceneToken string
	World      sim.World
	Ego        sim.Actor
	Sensors    []*ActiveSensor
	Instances  []*Instance

	lastSample string
}

// LastSample returns the token of the most recent keyframe, or "".
func (sc *SceneContext) LastSample() string { return sc.lastSample }

// sensors lists the raw sensor handles.
func (sc *SceneContext) sensors() []sim.Sensor {
	out := make([]sim.Sensor, len(sc.Sensors))
	for i, s := range sc.Sensors {
		out[i] = s.Sensor
	}
	return out
}

// NewSceneContext registers the instances and calibrated sensors of a
// freshly spawned scene with b. Walkers are registered before vehicles.
func NewSceneContext(ctx context.Context, b *dataset.Builder, world sim.World, sceneToken string, spawned *Spawned) (*SceneContext, error) {
	sc := &SceneContext{SceneToken: sceneToken, World: world, Ego: spawned.Ego}

	type member struct {
		actor sim.Actor
		kind  sim.EntityKind
	}
	var members []member
	for _, a := range spawned.Walkers {
		members = append(members, member{a, sim.KindPedestrian})
	}
	for _, a := range spawned.Vehicles {
		members = append(members, member{a, sim.KindVehicle})
	}
	for _, m := range members {
		category := dataset.Token(dataset.KindCategory, m.kind.Category())
		token, err := b.UpsertInstance(ctx, sceneToken, category, m.actor.ID())
		if err != nil {
			return nil, fmt.Errorf("instance for actor %d: %w", m.actor.ID(), err)
		}
		var attrs []string
		for _, name := range m.kind.Attributes() {
			attrs = append(attrs, dataset.Token(dataset.KindAttribute, name))
		}
		sc.Instances = append(sc.Instances, &Instance{
			Actor:           m.actor,
			Kind:            m.kind,
			Token:           token,
			attributeTokens: attrs,
		})
	}

	for _, s := range spawned.Sensors {
		camera, isCamera := s.Camera()
		rotation, translation := geometry.NuScenesRT(s.Mount(), isCamera)
		var intrinsic [][]float64
		if isCamera {
			k := geometry.CameraIntrinsic(camera.FOV, float64(camera.Width), float64(camera.Height))
			intrinsic = geometry.MatrixRows(k)
		}
		token, err := b.UpsertCalibratedSensor(ctx, sceneToken, s.Channel(), translation, rotation, intrinsic)
		if err != nil {
			return nil, fmt.Errorf("calibrated sensor %s: %w", s.Channel(), err)
		}
		sc.Sensors = append(sc.Sensors, &ActiveSensor{Sensor: s, CalibratedToken: token})
	}
	return sc, nil
}
