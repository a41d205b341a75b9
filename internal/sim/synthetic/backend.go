// Package synthetic provides a deterministic in-process simulation backend for
// demos and tests. Worlds are a flat arena with straight lanes, roadside
// buildings and a few unlabelled props. Vehicles drive along the lanes and
// turn around at the arena edge, walkers stroll between sidewalk locations,
// and sensors produce ray-cast lidar sweeps, radar detections and camera
// frames on their own tick cadence.
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/banshee-data/scenecapture/internal/sim"
)

// Options configure the generated worlds.
type Options struct {
	Seed int64

	ArenaHalfLength float64 // metres along X
	Lanes           int     // lanes per direction
	LaneWidth       float64 // metres
	Buildings       int
	Props           int

	VehicleSpeed float64 // metres per second
	WalkerSpeed  float64 // metres per second

	LidarChannels         int
	LidarPointsPerChannel int
	LidarRange            float64 // metres
	RadarRange            float64 // metres
	RadarHorizontalFOV    float64 // degrees
	RadarVerticalFOV      float64 // degrees
}

// DefaultOptions returns a small two-lane arena.
func DefaultOptions() Options {
	return Options{
		Seed:                  1,
		ArenaHalfLength:       120,
		Lanes:                 2,
		LaneWidth:             3.5,
		Buildings:             10,
		Props:                 4,
		VehicleSpeed:          8,
		WalkerSpeed:           1.4,
		LidarChannels:         16,
		LidarPointsPerChannel: 90,
		LidarRange:            60,
		RadarRange:            100,
		RadarHorizontalFOV:    30,
		RadarVerticalFOV:      10,
	}
}

// Backend loads one synthetic world at a time.
type Backend struct {
	opts Options

	mu       sync.Mutex
	loaded   *World
	settings map[string]string
	saved    map[string]string
}

func New(opts Options) *Backend {
	return &Backend{opts: opts, settings: map[string]string{"synchronous_mode": "false"}}
}

// LoadWorld builds the world for spec. The world layout is seeded from the
// backend seed and the map name, so the same map always looks the same.
func (b *Backend) LoadWorld(ctx context.Context, spec sim.WorldSpec) (sim.World, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.FixedDeltaSeconds <= 0 {
		return nil, fmt.Errorf("fixed delta seconds must be positive, got %v", spec.FixedDeltaSeconds)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded != nil {
		return nil, fmt.Errorf("world %q is still loaded", b.loaded.mapName)
	}

	b.saved = copySettings(b.settings)
	for k, v := range spec.Settings {
		b.settings[k] = v
	}
	b.settings["synchronous_mode"] = "true"

	h := fnv.New64a()
	h.Write([]byte(spec.MapName))
	w := newWorld(spec.MapName, spec.FixedDeltaSeconds, b.opts, b.opts.Seed^int64(h.Sum64()))
	b.loaded = w
	return w, nil
}

// UnloadWorld destroys everything in w and restores the settings in place
// before it was loaded.
func (b *Backend) UnloadWorld(ctx context.Context, w sim.World) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sw, ok := w.(*World)
	if !ok || sw != b.loaded {
		return fmt.Errorf("world %v is not loaded by this backend", w)
	}
	sw.close()
	b.loaded = nil
	b.settings = b.saved
	b.saved = nil
	return nil
}

// Settings returns a copy of the current backend settings.
func (b *Backend) Settings() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copySettings(b.settings)
}

func copySettings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
