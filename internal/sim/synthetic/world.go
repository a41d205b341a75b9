package synthetic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scenecapture/internal/geometry"
	"github.com/banshee-data/scenecapture/internal/sim"
)

var errWorldClosed = errors.New("world is unloaded")

// blueprints maps actor blueprints to their local bounding boxes.
var blueprints = map[string]geometry.BoundingBox{
	"vehicle.tesla.model3":    actorBox(2.4, 1.05, 0.75),
	"vehicle.audi.a2":         actorBox(1.85, 0.9, 0.78),
	"vehicle.lincoln.mkz":     actorBox(2.45, 1.05, 0.75),
	"vehicle.carlamotors.van": actorBox(2.6, 1.0, 1.2),
	"walker.pedestrian.0001":  actorBox(0.25, 0.25, 0.9),
	"walker.pedestrian.0002":  actorBox(0.22, 0.22, 0.85),
}

func actorBox(x, y, z float64) geometry.BoundingBox {
	return geometry.BoundingBox{Location: r3.Vec{Z: z}, Extent: r3.Vec{X: x, Y: y, Z: z}}
}

// Blueprints lists the actor blueprints the backend can spawn.
func Blueprints(kind sim.EntityKind) []string {
	prefix := "vehicle."
	if kind == sim.KindPedestrian {
		prefix = "walker."
	}
	var out []string
	for name := range blueprints {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

type actor struct {
	id        uint32
	blueprint string
	kind      sim.EntityKind
	role      string
	tr        geometry.Transform
	box       geometry.BoundingBox
	label     sim.SemanticLabel
	autopilot bool
	speed     float64
	dest      *r3.Vec
}

func (a *actor) ID() uint32                        { return a.id }
func (a *actor) Blueprint() string                 { return a.blueprint }
func (a *actor) Transform() geometry.Transform     { return a.tr }
func (a *actor) BoundingBox() geometry.BoundingBox { return a.box }

// World is a loaded synthetic world. It is not safe for concurrent use.
type World struct {
	mapName string
	dt      float64
	opts    Options
	rng     *rand.Rand

	frame   uint64
	elapsed float64
	closed  bool

	nextID  uint32
	statics []*actor
	actors  []*actor
	sensors []*sensor
	spawns  []geometry.Transform
}

func newWorld(mapName string, dt float64, opts Options, seed int64) *World {
	w := &World{
		mapName: mapName,
		dt:      dt,
		opts:    opts,
		rng:     rand.New(rand.NewSource(seed)),
		nextID:  1,
	}
	w.layout()
	return w
}

func (w *World) roadHalfWidth() float64 {
	return float64(w.opts.Lanes) * w.opts.LaneWidth
}

// layout places spawn points on every lane, buildings behind the sidewalks
// and unlabelled props along the verge.
func (w *World) layout() {
	half := w.roadHalfWidth()
	for lane := 0; lane < w.opts.Lanes; lane++ {
		offset := (float64(lane) + 0.5) * w.opts.LaneWidth
		for x := -w.opts.ArenaHalfLength + 15; x <= w.opts.ArenaHalfLength-15; x += 15 {
			// Right-hand traffic in a Y-right frame: +X lanes sit at +Y.
			w.spawns = append(w.spawns,
				geometry.Transform{Location: r3.Vec{X: x, Y: offset, Z: 0.1}},
				geometry.Transform{Location: r3.Vec{X: -x, Y: -offset, Z: 0.1}, Rotation: geometry.Rotation{Yaw: 180}},
			)
		}
	}

	for i := 0; i < w.opts.Buildings; i++ {
		side := 1.0
		if i%2 == 1 {
			side = -1
		}
		ext := r3.Vec{X: 5 + w.rng.Float64()*10, Y: 4 + w.rng.Float64()*6, Z: 4 + w.rng.Float64()*12}
		loc := r3.Vec{
			X: (w.rng.Float64()*2 - 1) * (w.opts.ArenaHalfLength - ext.X),
			Y: side * (half + 8 + ext.Y),
		}
		w.statics = append(w.statics, &actor{
			id:    w.allocID(),
			tr:    geometry.Transform{Location: loc, Rotation: geometry.Rotation{Yaw: (w.rng.Float64()*2 - 1) * 5}},
			box:   geometry.BoundingBox{Location: r3.Vec{Z: ext.Z}, Extent: ext},
			label: sim.LabelBuilding,
		})
	}
	for i := 0; i < w.opts.Props; i++ {
		side := 1.0
		if i%2 == 0 {
			side = -1
		}
		w.statics = append(w.statics, &actor{
			id:    w.allocID(),
			tr:    geometry.Transform{Location: r3.Vec{X: (w.rng.Float64()*2 - 1) * w.opts.ArenaHalfLength, Y: side * (half + 1)}},
			box:   geometry.BoundingBox{Location: r3.Vec{Z: 1.5}, Extent: r3.Vec{X: 1, Y: 0.05, Z: 1.5}},
			label: sim.LabelNone,
		})
	}
}

func (w *World) allocID() uint32 {
	id := w.nextID
	w.nextID++
	return id
}

func (w *World) MapName() string            { return w.mapName }
func (w *World) FixedDeltaSeconds() float64 { return w.dt }

// Frame returns the number of ticks since the world was loaded.
func (w *World) Frame() uint64 { return w.frame }

func (w *World) Tick(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return w.elapsed, err
	}
	if w.closed {
		return w.elapsed, errWorldClosed
	}
	w.frame++
	w.elapsed = float64(w.frame) * w.dt
	for _, a := range w.actors {
		w.move(a)
	}
	for _, s := range w.sensors {
		if err := s.tick(w); err != nil {
			return w.elapsed, fmt.Errorf("sensor %s: %w", s.channel, err)
		}
	}
	return w.elapsed, nil
}

func (w *World) move(a *actor) {
	switch a.kind {
	case sim.KindVehicle:
		if !a.autopilot {
			return
		}
		step := r3.Scale(a.speed*w.dt, a.tr.Forward())
		a.tr.Location = r3.Add(a.tr.Location, step)
		limit := w.opts.ArenaHalfLength - 5
		if (a.tr.Location.X > limit && step.X > 0) || (a.tr.Location.X < -limit && step.X < 0) {
			// Turn around into the opposite lane.
			a.tr.Rotation.Yaw = math.Mod(a.tr.Rotation.Yaw+180, 360)
			a.tr.Location.Y = -a.tr.Location.Y
		}
	case sim.KindPedestrian:
		if a.dest == nil {
			return
		}
		d := r3.Sub(*a.dest, a.tr.Location)
		d.Z = 0
		dist := r3.Norm(d)
		if dist <= a.speed*w.dt {
			a.tr.Location.X, a.tr.Location.Y = a.dest.X, a.dest.Y
			a.dest = nil
			return
		}
		a.tr.Location = r3.Add(a.tr.Location, r3.Scale(a.speed*w.dt/dist, d))
		a.tr.Rotation.Yaw = math.Atan2(d.Y, d.X) * 180 / math.Pi
	}
}

type rayHit struct {
	t   float64
	hit sim.RayHit
}

// CastRay intersects the segment with every box and the ground plane. Box hit
// locations are nudged just inside the box they belong to.
func (w *World) CastRay(from, to r3.Vec) ([]sim.RayHit, error) {
	if w.closed {
		return nil, errWorldClosed
	}
	length := r3.Norm(r3.Sub(to, from))
	if length == 0 {
		return nil, nil
	}
	nudge := 1e-3 / length

	var hits []rayHit
	add := func(a *actor) {
		enter, exit, ok := a.box.SegmentIntersection(from, to, a.tr)
		if !ok {
			return
		}
		t := enter + math.Min(nudge, (exit-enter)/2)
		hits = append(hits, rayHit{t, sim.RayHit{Location: lerp(from, to, t), Label: a.label}})
	}
	for _, a := range w.statics {
		add(a)
	}
	for _, a := range w.actors {
		add(a)
	}
	if from.Z > 0 && to.Z < 0 {
		t := from.Z / (from.Z - to.Z)
		p := lerp(from, to, t)
		p.Z = 0
		hits = append(hits, rayHit{t, sim.RayHit{Location: p, Label: sim.LabelRoad}})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].t < hits[j].t })
	out := make([]sim.RayHit, len(hits))
	for i, h := range hits {
		out[i] = h.hit
	}
	return out, nil
}

func lerp(a, b r3.Vec, t float64) r3.Vec {
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

func (w *World) Blueprints(kind sim.EntityKind) []string { return Blueprints(kind) }

func (w *World) SpawnPoints() []geometry.Transform {
	out := make([]geometry.Transform, len(w.spawns))
	copy(out, w.spawns)
	return out
}

// RandomNavigationLocation returns a random point on either sidewalk.
func (w *World) RandomNavigationLocation() (r3.Vec, bool) {
	if w.closed {
		return r3.Vec{}, false
	}
	side := 1.0
	if w.rng.Intn(2) == 0 {
		side = -1
	}
	half := w.roadHalfWidth()
	return r3.Vec{
		X: (w.rng.Float64()*2 - 1) * (w.opts.ArenaHalfLength - 5),
		Y: side * (half + 2 + w.rng.Float64()*4),
		Z: 0.1,
	}, true
}

func (w *World) SpawnActor(ctx context.Context, spec sim.ActorSpec) sim.SpawnOutcome {
	if err := ctx.Err(); err != nil {
		return sim.SpawnFailure(err.Error())
	}
	if w.closed {
		return sim.SpawnFailure(errWorldClosed.Error())
	}
	box, ok := blueprints[spec.Blueprint]
	if !ok {
		return sim.SpawnFailure(fmt.Sprintf("%s %q", sim.ErrUnknownBlueprint, spec.Blueprint))
	}
	kind, label := sim.KindVehicle, sim.LabelVehicle
	if strings.HasPrefix(spec.Blueprint, "walker.") {
		kind, label = sim.KindPedestrian, sim.LabelPedestrian
	}
	if spec.Kind != 0 && spec.Kind != kind {
		return sim.SpawnFailure(fmt.Sprintf("blueprint %q is not a %s", spec.Blueprint, spec.Kind))
	}
	if math.Abs(spec.Transform.Location.X) > w.opts.ArenaHalfLength {
		return sim.SpawnFailure(fmt.Sprintf("location %v is outside the map", spec.Transform.Location))
	}
	for _, other := range w.statics {
		if other.label != sim.LabelNone && geometry.Overlaps2D(box, spec.Transform, other.box, other.tr) {
			return sim.CollisionConflict(fmt.Sprintf("collision with building %d", other.id))
		}
	}
	for _, other := range w.actors {
		if geometry.Overlaps2D(box, spec.Transform, other.box, other.tr) {
			return sim.CollisionConflict(fmt.Sprintf("collision with actor %d", other.id))
		}
	}

	speed := spec.Speed
	if speed == 0 {
		speed = w.opts.VehicleSpeed
		if kind == sim.KindPedestrian {
			speed = w.opts.WalkerSpeed
		}
	}
	a := &actor{
		id:        w.allocID(),
		blueprint: spec.Blueprint,
		kind:      kind,
		role:      spec.Role,
		tr:        spec.Transform,
		box:       box,
		label:     label,
		autopilot: spec.Autopilot,
		speed:     speed,
	}
	if spec.Destination != nil {
		d := *spec.Destination
		a.dest = &d
	}
	w.actors = append(w.actors, a)
	return sim.Spawned(a)
}

func (w *World) DestroyActor(ctx context.Context, target sim.Actor) error {
	for i, a := range w.actors {
		if a.id == target.ID() {
			w.actors = append(w.actors[:i], w.actors[i+1:]...)
			// Sensors die with their parent.
			kept := w.sensors[:0]
			for _, s := range w.sensors {
				if s.parent.id != a.id {
					kept = append(kept, s)
				}
			}
			w.sensors = kept
			return nil
		}
	}
	return fmt.Errorf("actor %d not found", target.ID())
}

// Actors returns the number of live dynamic actors.
func (w *World) Actors() int { return len(w.actors) }

// Sensors returns the number of attached sensors.
func (w *World) Sensors() int { return len(w.sensors) }

func (w *World) close() {
	w.closed = true
	w.actors = nil
	w.sensors = nil
}
