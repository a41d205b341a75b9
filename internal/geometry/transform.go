package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Rotation is a simulator Euler rotation in degrees.
type Rotation struct {
	Pitch float64 `json:"pitch" yaml:"pitch"`
	Yaw   float64 `json:"yaw" yaml:"yaw"`
	Roll  float64 `json:"roll" yaml:"roll"`
}

// Transform places a frame in simulator world space.
type Transform struct {
	Location r3.Vec
	Rotation Rotation
}

// Identity is the zero transform.
var Identity = Transform{}

func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }
func radToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// RotationMatrix returns the 3x3 row-major rotation for r in simulator space.
func (r Rotation) RotationMatrix() [9]float64 {
	cp, sp := math.Cos(degToRad(r.Pitch)), math.Sin(degToRad(r.Pitch))
	cy, sy := math.Cos(degToRad(r.Yaw)), math.Sin(degToRad(r.Yaw))
	cr, sr := math.Cos(degToRad(r.Roll)), math.Sin(degToRad(r.Roll))

	return [9]float64{
		cp * cy, cy*sp*sr - sy*cr, -cy*sp*cr - sy*sr,
		cp * sy, sy*sp*sr + cy*cr, -sy*sp*cr + cy*sr,
		sp, -cp * sr, cp * cr,
	}
}

// rotationFromMatrix inverts RotationMatrix.
func rotationFromMatrix(m [9]float64) Rotation {
	pitch := math.Asin(Clamp(m[6], -1, 1))
	yaw := math.Atan2(m[3], m[0])
	roll := math.Atan2(-m[7], m[8])
	return Rotation{Pitch: radToDeg(pitch), Yaw: radToDeg(yaw), Roll: radToDeg(roll)}
}

// Matrix returns the 4x4 row-major local-to-world matrix.
func (t Transform) Matrix() [16]float64 {
	r := t.Rotation.RotationMatrix()
	return [16]float64{
		r[0], r[1], r[2], t.Location.X,
		r[3], r[4], r[5], t.Location.Y,
		r[6], r[7], r[8], t.Location.Z,
		0, 0, 0, 1,
	}
}

// InverseMatrix returns the 4x4 row-major world-to-local matrix.
func (t Transform) InverseMatrix() [16]float64 {
	r := t.Rotation.RotationMatrix()
	l := t.Location
	// Rᵀ and -Rᵀ·l
	return [16]float64{
		r[0], r[3], r[6], -(r[0]*l.X + r[3]*l.Y + r[6]*l.Z),
		r[1], r[4], r[7], -(r[1]*l.X + r[4]*l.Y + r[7]*l.Z),
		r[2], r[5], r[8], -(r[2]*l.X + r[5]*l.Y + r[8]*l.Z),
		0, 0, 0, 1,
	}
}

// ApplyPose applies a 4x4 row-major transform T to point p.
func ApplyPose(p r3.Vec, T [16]float64) r3.Vec {
	return r3.Vec{
		X: T[0]*p.X + T[1]*p.Y + T[2]*p.Z + T[3],
		Y: T[4]*p.X + T[5]*p.Y + T[6]*p.Z + T[7],
		Z: T[8]*p.X + T[9]*p.Y + T[10]*p.Z + T[11],
	}
}

// MulPose returns the row-major product a·b.
func MulPose(a, b [16]float64) [16]float64 {
	var out [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += a[i*4+k] * b[k*4+j]
			}
			out[i*4+j] = s
		}
	}
	return out
}

// TransformPoint maps p from the local frame of t into world space.
func (t Transform) TransformPoint(p r3.Vec) r3.Vec {
	return ApplyPose(p, t.Matrix())
}

// InverseTransformPoint maps a world point p into the local frame of t.
func (t Transform) InverseTransformPoint(p r3.Vec) r3.Vec {
	return ApplyPose(p, t.InverseMatrix())
}

// Forward is the unit X axis of t in world space.
func (t Transform) Forward() r3.Vec {
	r := t.Rotation.RotationMatrix()
	return r3.Vec{X: r[0], Y: r[3], Z: r[6]}
}

// Compose returns the world transform of child when child is expressed in
// parent's local frame (sensor mount on a vehicle, box on an actor).
func Compose(parent, child Transform) Transform {
	m := MulPose(parent.Matrix(), child.Matrix())
	return Transform{
		Location: r3.Vec{X: m[3], Y: m[7], Z: m[11]},
		Rotation: rotationFromMatrix([9]float64{m[0], m[1], m[2], m[4], m[5], m[6], m[8], m[9], m[10]}),
	}
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// TimestampMicros converts simulation seconds to integer microseconds.
func TimestampMicros(seconds float64) int64 {
	return int64(math.Round(seconds * 1e6))
}

// RadarToCartesian reconstructs a radar return in the sensor frame from its
// native depth (metres), azimuth and altitude (radians) reading.
func RadarToCartesian(depth, azimuth, altitude float64) r3.Vec {
	return r3.Vec{
		X: depth * math.Cos(altitude) * math.Cos(azimuth),
		Y: depth * math.Sin(altitude) * math.Cos(azimuth),
		Z: depth * math.Sin(azimuth),
	}
}

// CartesianToRadar is the inverse of RadarToCartesian for a sensor-frame point.
func CartesianToRadar(p r3.Vec) (depth, azimuth, altitude float64) {
	depth = r3.Norm(p)
	if depth == 0 {
		return 0, 0, 0
	}
	azimuth = math.Asin(Clamp(p.Z/depth, -1, 1))
	altitude = math.Atan2(p.Y, p.X)
	return depth, azimuth, altitude
}
