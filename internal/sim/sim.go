// Package sim defines the contracts the capture pipeline needs from a stepped
// simulation backend: a world that advances one fixed tick at a time, casts
// rays, spawns and destroys actors, and attaches sensors that buffer their
// observations between keyframes.
//
// Implementations must be driven from a single goroutine; the pipeline never
// calls into a World concurrently.
package sim

import (
	"context"
	"errors"

	"github.com/banshee-data/scenecapture/internal/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrUnknownBlueprint is returned when a backend has no blueprint for a spawn request.
var ErrUnknownBlueprint = errors.New("unknown blueprint")

// Modality identifies a sensor type.
type Modality string

const (
	ModalityCamera Modality = "camera"
	ModalityLidar  Modality = "lidar"
	ModalityRadar  Modality = "radar"
	ModalityOther  Modality = "other"
)

// Captured reports whether observations of this modality become SampleData.
func (m Modality) Captured() bool {
	switch m {
	case ModalityCamera, ModalityLidar, ModalityRadar:
		return true
	default:
		return false
	}
}

// SemanticLabel tags a ray intersection with the class of object it hit.
type SemanticLabel uint8

const (
	// LabelNone marks geometry without semantic meaning; visibility ignores it.
	LabelNone SemanticLabel = iota
	LabelBuilding
	LabelRoad
	LabelVehicle
	LabelPedestrian
	LabelPole
	LabelVegetation
)

// RayHit is one intersection returned by World.CastRay.
type RayHit struct {
	Location r3.Vec
	Label    SemanticLabel
}

// Actor is a spawned simulation object with a pose and an oriented box.
type Actor interface {
	ID() uint32
	Blueprint() string
	Transform() geometry.Transform
	BoundingBox() geometry.BoundingBox
}

// CameraParams are the intrinsic attributes of a camera sensor.
type CameraParams struct {
	FOV    float64
	Width  int
	Height int
}

// RadarDetection is one native radar return.
type RadarDetection struct {
	Depth    float64 // metres
	Azimuth  float64 // radians
	Altitude float64 // radians
	Velocity float64 // metres per second, towards the sensor is negative
}

// Observation is one buffered sensor measurement.
type Observation struct {
	Frame     uint64
	Timestamp float64 // simulation seconds

	// EgoTransform is the pose of the vehicle carrying the sensor at capture.
	EgoTransform geometry.Transform
	// SensorTransform is the world pose of the sensor at capture.
	SensorTransform geometry.Transform

	// Points are lidar returns in the sensor frame.
	Points []r3.Vec
	// Detections are radar returns.
	Detections []RadarDetection
	// Width and Height are set for camera images.
	Width  int
	Height int
}

// Sensor is a sensor attached to the ego vehicle.
type Sensor interface {
	ID() uint32
	Channel() string
	Modality() Modality
	// Mount is the sensor pose relative to the ego vehicle.
	Mount() geometry.Transform
	// Transform is the current world pose.
	Transform() geometry.Transform
	// Camera returns intrinsic attributes for camera sensors.
	Camera() (CameraParams, bool)
	// Observations returns measurements buffered since the last clear, oldest first.
	Observations() []Observation
	ClearObservations()
}

// ActorSpec asks the backend to place an actor.
type ActorSpec struct {
	Kind      EntityKind
	Blueprint string
	Transform geometry.Transform
	Role      string
	Autopilot bool
	// Destination is the navigation target for pedestrians.
	Destination *r3.Vec
	// Speed in metres per second; zero uses the backend default.
	Speed float64
}

// SensorSpec asks the backend to attach a sensor to a parent actor.
type SensorSpec struct {
	Channel    string
	Blueprint  string
	Modality   Modality
	Mount      geometry.Transform
	Attributes map[string]string
}

// WorldSpec selects and configures a world.
type WorldSpec struct {
	MapName           string
	FixedDeltaSeconds float64
	Settings          map[string]string
}

// World is a loaded, synchronously stepped simulation world.
type World interface {
	MapName() string
	FixedDeltaSeconds() float64
	// Tick advances the clock by one fixed delta and blocks until every
	// sensor has produced its data for the tick. It returns the elapsed
	// simulation time in seconds.
	Tick(ctx context.Context) (float64, error)
	// CastRay returns every intersection along the segment from→to, ordered
	// by distance from the origin.
	CastRay(from, to r3.Vec) ([]RayHit, error)
	SpawnPoints() []geometry.Transform
	RandomNavigationLocation() (r3.Vec, bool)
	// Blueprints lists the actor blueprints of kind, in a stable order.
	Blueprints(kind EntityKind) []string
	SpawnActor(ctx context.Context, spec ActorSpec) SpawnOutcome
	SpawnSensor(ctx context.Context, spec SensorSpec, parent Actor) (Sensor, error)
	DestroyActor(ctx context.Context, a Actor) error
	DestroySensor(ctx context.Context, s Sensor) error
}

// Backend loads and unloads worlds.
type Backend interface {
	LoadWorld(ctx context.Context, spec WorldSpec) (World, error)
	// UnloadWorld restores the backend settings that were in place before
	// LoadWorld and releases the world.
	UnloadWorld(ctx context.Context, w World) error
}
