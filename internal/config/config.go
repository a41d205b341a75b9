// Package config loads the capture job description: which worlds to load,
// which capture sessions to run inside each, and how every scene is spawned
// and sampled.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/scenecapture/internal/geometry"
)

// ErrInvalid wraps every validation failure returned by Load and Validate.
var ErrInvalid = errors.New("invalid configuration")

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root of a capture job description.
type Config struct {
	Client     Client          `yaml:"client"`
	Dataset    Dataset         `yaml:"dataset" validate:"required"`
	Logging    Logging         `yaml:"logging"`
	Metrics    Metrics         `yaml:"metrics"`
	Spawn      Spawn           `yaml:"spawn"`
	Sensors    []SensorType    `yaml:"sensors" validate:"required,min=1,dive"`
	Categories []NamedEntry    `yaml:"categories" validate:"dive"`
	Attributes []NamedEntry    `yaml:"attributes" validate:"dive"`
	Visibility []VisibilityBin `yaml:"visibility" validate:"dive"`
	Worlds     []World         `yaml:"worlds" validate:"required,min=1,dive"`
}

// Client selects and seeds the simulation backend.
type Client struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=synthetic"`
	Seed    *int64 `yaml:"seed,omitempty"`
}

// Dataset names where the graph is stored and exported.
type Dataset struct {
	Version  string `yaml:"version" validate:"required"`
	Database string `yaml:"database" validate:"required"`
	Root     string `yaml:"root"`
}

type Logging struct {
	Mode  string `yaml:"mode" validate:"omitempty,oneof=production development"`
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type Metrics struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

// Spawn tunes collision retries for actor placement.
type Spawn struct {
	RetryLimit *int     `yaml:"retry_limit,omitempty" validate:"omitempty,gte=0,lte=20"`
	Jitter     *float64 `yaml:"jitter,omitempty" validate:"omitempty,gte=0"`
}

// SensorType registers a sensor channel in the dataset.
type SensorType struct {
	Name     string `yaml:"name" validate:"required"`
	Modality string `yaml:"modality" validate:"required,oneof=camera lidar radar"`
}

// NamedEntry is a category or attribute registration.
type NamedEntry struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
}

// VisibilityBin registers one visibility level. Token is the level number.
type VisibilityBin struct {
	Token       int    `yaml:"token" validate:"gte=1,lte=4"`
	Level       string `yaml:"level" validate:"required"`
	Description string `yaml:"description"`
}

type World struct {
	MapName           string            `yaml:"map_name" validate:"required"`
	MapCategory       string            `yaml:"map_category"`
	FixedDeltaSeconds *float64          `yaml:"fixed_delta_seconds,omitempty" validate:"omitempty,gt=0,lte=1"`
	Settings          map[string]string `yaml:"settings"`
	Captures          []Capture         `yaml:"captures" validate:"required,min=1,dive"`
}

// Capture is one logged drive session inside a world.
type Capture struct {
	Date           string  `yaml:"date"`
	Time           string  `yaml:"time"`
	Timezone       string  `yaml:"timezone"`
	CaptureVehicle string  `yaml:"capture_vehicle"`
	Location       string  `yaml:"location"`
	Scenes         []Scene `yaml:"scenes" validate:"required,min=1,dive"`
}

type Scene struct {
	Description  string          `yaml:"description"`
	Count        int             `yaml:"count" validate:"gte=1"`
	CollectTime  float64         `yaml:"collect_time" validate:"gt=0"`
	KeyframeTime float64         `yaml:"keyframe_time" validate:"gt=0"`
	Ego          Ego             `yaml:"ego_vehicle"`
	Vehicles     int             `yaml:"num_vehicles" validate:"gte=0"`
	Walkers      int             `yaml:"num_walkers" validate:"gte=0"`
	Sensors      []MountedSensor `yaml:"calibrated_sensors" validate:"required,min=1,dive"`
}

// Ego places the capture vehicle. Without a location it takes a random
// spawn point.
type Ego struct {
	Blueprint string    `yaml:"bp_name" validate:"required"`
	Location  *Vec3     `yaml:"location,omitempty"`
	Rotation  *Rotation `yaml:"rotation,omitempty"`
}

// MountedSensor attaches a sensor to the ego vehicle.
type MountedSensor struct {
	Name       string            `yaml:"name" validate:"required"`
	Blueprint  string            `yaml:"bp_name" validate:"required"`
	Location   Vec3              `yaml:"location"`
	Rotation   Rotation          `yaml:"rotation"`
	Attributes map[string]string `yaml:"options"`
}

type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type Rotation struct {
	Yaw   float64 `yaml:"yaw"`
	Pitch float64 `yaml:"pitch"`
	Roll  float64 `yaml:"roll"`
}

func (v Vec3) Vec() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Transform builds a simulator transform from a location and rotation.
func Transform(loc Vec3, rot Rotation) geometry.Transform {
	return geometry.Transform{
		Location: loc.Vec(),
		Rotation: geometry.Rotation{Pitch: rot.Pitch, Yaw: rot.Yaw, Roll: rot.Roll},
	}
}

// Default tuning values used when a field is omitted.
const (
	DefaultFixedDeltaSeconds = 0.01
	DefaultRetryLimit        = 3
	DefaultJitter            = 0.5
	DefaultSeed              = 1
)

func (w World) GetFixedDeltaSeconds() float64 {
	if w.FixedDeltaSeconds == nil {
		return DefaultFixedDeltaSeconds
	}
	return *w.FixedDeltaSeconds
}

func (s Spawn) GetRetryLimit() int {
	if s.RetryLimit == nil {
		return DefaultRetryLimit
	}
	return *s.RetryLimit
}

func (s Spawn) GetJitter() float64 {
	if s.Jitter == nil {
		return DefaultJitter
	}
	return *s.Jitter
}

func (c Client) GetSeed() int64 {
	if c.Seed == nil {
		return DefaultSeed
	}
	return *c.Seed
}

// DefaultCategories mirror the two entity kinds the capture pipeline spawns.
var DefaultCategories = []NamedEntry{
	{Name: "vehicle.car", Description: "Vehicle designed primarily for personal use."},
	{Name: "human.pedestrian.adult", Description: "Adult subcategory."},
}

var DefaultAttributes = []NamedEntry{
	{Name: "vehicle.moving", Description: "Vehicle is moving."},
	{Name: "pedestrian.moving", Description: "The human is moving."},
}

var DefaultVisibility = []VisibilityBin{
	{Token: 1, Level: "v0-40", Description: "visibility of whole object is between 0 and 40%"},
	{Token: 2, Level: "v40-60", Description: "visibility of whole object is between 40 and 60%"},
	{Token: 3, Level: "v60-80", Description: "visibility of whole object is between 60 and 80%"},
	{Token: 4, Level: "v80-100", Description: "visibility of whole object is between 80 and 100%"},
}

// ApplyDefaults fills omitted sections with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Client.Backend == "" {
		c.Client.Backend = "synthetic"
	}
	if c.Logging.Mode == "" {
		c.Logging.Mode = "production"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Dataset.Root == "" {
		c.Dataset.Root = filepath.Dir(c.Dataset.Database)
	}
	if len(c.Categories) == 0 {
		c.Categories = append([]NamedEntry(nil), DefaultCategories...)
	}
	if len(c.Attributes) == 0 {
		c.Attributes = append([]NamedEntry(nil), DefaultAttributes...)
	}
	if len(c.Visibility) == 0 {
		c.Visibility = append([]VisibilityBin(nil), DefaultVisibility...)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the cross-field rules the capture
// loop depends on.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	channels := make(map[string]bool, len(c.Sensors))
	for _, s := range c.Sensors {
		if channels[s.Name] {
			return fmt.Errorf("%w: sensor %q registered twice", ErrInvalid, s.Name)
		}
		channels[s.Name] = true
	}
	if err := c.validateRegistrations(); err != nil {
		return err
	}

	for wi, w := range c.Worlds {
		dt := w.GetFixedDeltaSeconds()
		for ci, capture := range w.Captures {
			for si, s := range capture.Scenes {
				where := fmt.Sprintf("worlds[%d].captures[%d].scenes[%d]", wi, ci, si)
				if s.KeyframeTime > s.CollectTime {
					return fmt.Errorf("%w: %s: keyframe_time %v exceeds collect_time %v", ErrInvalid, where, s.KeyframeTime, s.CollectTime)
				}
				if !multipleOf(s.KeyframeTime, dt) {
					return fmt.Errorf("%w: %s: keyframe_time %v is not a multiple of fixed_delta_seconds %v", ErrInvalid, where, s.KeyframeTime, dt)
				}
				mounted := make(map[string]bool, len(s.Sensors))
				for _, m := range s.Sensors {
					if !channels[m.Name] {
						return fmt.Errorf("%w: %s: sensor %q is not registered", ErrInvalid, where, m.Name)
					}
					if mounted[m.Name] {
						return fmt.Errorf("%w: %s: sensor %q mounted twice", ErrInvalid, where, m.Name)
					}
					mounted[m.Name] = true
				}
			}
		}
	}
	return nil
}

// validateRegistrations checks that every category, attribute and visibility
// level an annotation can reference is registered.
func (c *Config) validateRegistrations() error {
	for _, want := range []struct {
		what    string
		have    []NamedEntry
		require []NamedEntry
	}{
		{"category", c.Categories, DefaultCategories},
		{"attribute", c.Attributes, DefaultAttributes},
	} {
		names := make(map[string]bool, len(want.have))
		for _, e := range want.have {
			names[e.Name] = true
		}
		for _, e := range want.require {
			if !names[e.Name] {
				return fmt.Errorf("%w: %s %q is not registered", ErrInvalid, want.what, e.Name)
			}
		}
	}

	levels := make(map[int]bool, len(c.Visibility))
	for _, v := range c.Visibility {
		if levels[v.Token] {
			return fmt.Errorf("%w: visibility level %d registered twice", ErrInvalid, v.Token)
		}
		levels[v.Token] = true
	}
	for _, v := range DefaultVisibility {
		if !levels[v.Token] {
			return fmt.Errorf("%w: visibility level %d is not registered", ErrInvalid, v.Token)
		}
	}
	return nil
}

// multipleOf reports whether v is an integer multiple of step to within a
// thousandth of a step.
func multipleOf(v, step float64) bool {
	n := v / step
	return n >= 1 && math.Abs(n-math.Round(n)) < 1e-3
}

// Load reads, defaults and validates the configuration at path. YAML and
// JSON are both accepted.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document, rejecting unknown fields.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
