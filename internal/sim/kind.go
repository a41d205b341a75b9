package sim

import "fmt"

// EntityKind is the closed set of annotated dynamic objects.
type EntityKind int

const (
	KindVehicle EntityKind = iota + 1
	KindPedestrian
)

// Category returns the dataset category name for k.
func (k EntityKind) Category() string {
	switch k {
	case KindVehicle:
		return "vehicle.car"
	case KindPedestrian:
		return "human.pedestrian.adult"
	default:
		return ""
	}
}

// Attributes returns the dataset attribute names carried by every annotation of k.
func (k EntityKind) Attributes() []string {
	switch k {
	case KindVehicle:
		return []string{"vehicle.moving"}
	case KindPedestrian:
		return []string{"pedestrian.moving"}
	default:
		return nil
	}
}

func (k EntityKind) String() string {
	switch k {
	case KindVehicle:
		return "vehicle"
	case KindPedestrian:
		return "pedestrian"
	default:
		return fmt.Sprintf("EntityKind(%d)", int(k))
	}
}

// SpawnStatus discriminates SpawnOutcome.
type SpawnStatus int

const (
	SpawnSucceeded SpawnStatus = iota
	// SpawnCollision means the placement overlapped existing geometry and may
	// succeed at an alternate location.
	SpawnCollision
	// SpawnFailed is not retryable.
	SpawnFailed
)

func (s SpawnStatus) String() string {
	switch s {
	case SpawnSucceeded:
		return "succeeded"
	case SpawnCollision:
		return "collision"
	case SpawnFailed:
		return "failed"
	default:
		return fmt.Sprintf("SpawnStatus(%d)", int(s))
	}
}

// SpawnOutcome is the typed result of World.SpawnActor.
type SpawnOutcome struct {
	Status SpawnStatus
	Actor  Actor
	Reason string
}

// Spawned wraps a successfully placed actor.
func Spawned(a Actor) SpawnOutcome { return SpawnOutcome{Status: SpawnSucceeded, Actor: a} }

// CollisionConflict reports a retryable placement collision.
func CollisionConflict(reason string) SpawnOutcome {
	return SpawnOutcome{Status: SpawnCollision, Reason: reason}
}

// SpawnFailure reports a non-retryable spawn failure.
func SpawnFailure(reason string) SpawnOutcome {
	return SpawnOutcome{Status: SpawnFailed, Reason: reason}
}
