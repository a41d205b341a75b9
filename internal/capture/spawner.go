package capture

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scenecapture/internal/config"
	"github.com/banshee-data/scenecapture/internal/geometry"
	"github.com/banshee-data/scenecapture/internal/monitoring"
	"github.com/banshee-data/scenecapture/internal/sim"
)

// Spawned holds every handle a scene placed in the world.
type Spawned struct {
	Ego      sim.Actor
	Vehicles []sim.Actor
	Walkers  []sim.Actor
	Sensors  []sim.Sensor
}

// Spawner places the actors and sensors of a scene.
type Spawner struct {
	rng        *rand.Rand
	attempts   int
	jitter     float64
	modalities map[string]sim.Modality
	log        *zap.SugaredLogger
	metrics    *monitoring.Metrics
}

// NewSpawner returns a spawner drawing from rng. Each placement is tried
// up to tuning's retry limit times, moving by up to the jitter distance
// after every collision. modalities maps sensor channels to their registered
// modality.
func NewSpawner(rng *rand.Rand, tuning config.Spawn, modalities map[string]sim.Modality, log *zap.SugaredLogger, m *monitoring.Metrics) *Spawner {
	attempts := tuning.GetRetryLimit()
	if attempts < 1 {
		attempts = 1
	}
	if m == nil {
		m = monitoring.Unregistered()
	}
	return &Spawner{
		rng:        rng,
		attempts:   attempts,
		jitter:     tuning.GetJitter(),
		modalities: modalities,
		log:        monitoring.OrNop(log),
		metrics:    m,
	}
}

// Spawn places scene's ego, traffic, walkers and sensors in w. Failing to
// place the ego is an error; other actors and sensors that cannot be placed
// are dropped. On error the returned value holds whatever was placed so the
// caller can tear it down.
func (sp *Spawner) Spawn(ctx context.Context, w sim.World, scene config.Scene) (*Spawned, error) {
	out := &Spawned{}

	points := w.SpawnPoints()
	sp.rng.Shuffle(len(points), func(i, j int) { points[i], points[j] = points[j], points[i] })

	var egoAt geometry.Transform
	switch {
	case scene.Ego.Location != nil:
		var rot config.Rotation
		if scene.Ego.Rotation != nil {
			rot = *scene.Ego.Rotation
		}
		egoAt = config.Transform(*scene.Ego.Location, rot)
	case len(points) > 0:
		egoAt, points = points[0], points[1:]
	default:
		return out, errors.Errorf("map %q has no spawn points", w.MapName())
	}
	ego, err := sp.place(ctx, w, sim.ActorSpec{
		Kind:      sim.KindVehicle,
		Blueprint: scene.Ego.Blueprint,
		Transform: egoAt,
		Role:      "hero",
		Autopilot: true,
	})
	if err != nil {
		return out, errors.Wrap(err, "spawn ego vehicle")
	}
	out.Ego = ego

	vehicles := w.Blueprints(sim.KindVehicle)
	for i := 0; i < scene.Vehicles && i < len(points) && len(vehicles) > 0; i++ {
		a, err := sp.place(ctx, w, sim.ActorSpec{
			Kind:      sim.KindVehicle,
			Blueprint: vehicles[sp.rng.Intn(len(vehicles))],
			Transform: points[i],
			Autopilot: true,
		})
		if err != nil {
			sp.log.Debugw("dropping vehicle", "spawn_point", i, "error", err)
			continue
		}
		out.Vehicles = append(out.Vehicles, a)
	}

	walkers := w.Blueprints(sim.KindPedestrian)
	for i := 0; i < scene.Walkers && len(walkers) > 0; i++ {
		at, ok := w.RandomNavigationLocation()
		dest, okDest := w.RandomNavigationLocation()
		if !ok || !okDest {
			sp.log.Debugw("no navigation location for walker", "walker", i)
			continue
		}
		a, err := sp.place(ctx, w, sim.ActorSpec{
			Kind:      sim.KindPedestrian,
			Blueprint: walkers[sp.rng.Intn(len(walkers))],
			Transform: geometry.Transform{
				Location: at,
				Rotation: geometry.Rotation{Yaw: sp.rng.Float64() * 360},
			},
			Destination: &dest,
		})
		if err != nil {
			sp.log.Debugw("dropping walker", "walker", i, "error", err)
			continue
		}
		out.Walkers = append(out.Walkers, a)
	}

	for _, m := range scene.Sensors {
		s, err := w.SpawnSensor(ctx, sim.SensorSpec{
			Channel:    m.Name,
			Blueprint:  m.Blueprint,
			Modality:   sp.modalities[m.Name],
			Mount:      config.Transform(m.Location, m.Rotation),
			Attributes: m.Attributes,
		}, ego)
		if err != nil {
			sp.log.Warnw("dropping sensor", "sensor", m.Name, "blueprint", m.Blueprint, "error", err)
			continue
		}
		out.Sensors = append(out.Sensors, s)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// place spawns spec, jittering its location around the requested one after
// each collision.
func (sp *Spawner) place(ctx context.Context, w sim.World, spec sim.ActorSpec) (sim.Actor, error) {
	origin := spec.Transform.Location
	kind := spec.Kind.String()
	var last sim.SpawnOutcome
	for attempt := 0; attempt < sp.attempts; attempt++ {
		if attempt > 0 {
			spec.Transform.Location = r3.Add(origin, r3.Vec{
				X: (sp.rng.Float64()*2 - 1) * sp.jitter,
				Y: (sp.rng.Float64()*2 - 1) * sp.jitter,
			})
		}
		last = w.SpawnActor(ctx, spec)
		sp.metrics.SpawnAttempts.WithLabelValues(kind, last.Status.String()).Inc()
		switch last.Status {
		case sim.SpawnSucceeded:
			return last.Actor, nil
		case sim.SpawnCollision:
			continue
		default:
			return nil, errors.Errorf("spawn %s: %s", spec.Blueprint, last.Reason)
		}
	}
	return nil, errors.Errorf("spawn %s: %d attempts collided, last: %s", spec.Blueprint, sp.attempts, last.Reason)
}

// Teardown destroys everything in s, sensors first. It keeps going past
// failures and returns the first one.
func (sp *Spawner) Teardown(ctx context.Context, w sim.World, s *Spawned) error {
	if s == nil {
		return nil
	}
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, sensor := range s.Sensors {
		if err := w.DestroySensor(ctx, sensor); err != nil {
			sp.log.Warnw("failed to destroy sensor", "sensor", sensor.Channel(), "error", err)
			keep(err)
		}
	}
	actors := append(append([]sim.Actor{}, s.Walkers...), s.Vehicles...)
	if s.Ego != nil {
		actors = append(actors, s.Ego)
	}
	for _, a := range actors {
		if err := w.DestroyActor(ctx, a); err != nil {
			sp.log.Warnw("failed to destroy actor", "actor_id", a.ID(), "error", err)
			keep(err)
		}
	}
	*s = Spawned{}
	return first
}
