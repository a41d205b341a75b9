// Package geometry holds the coordinate conventions shared by the capture
// pipeline.
//
// Simulator space is left-handed: X forward, Y right, Z up, rotations in
// degrees (pitch about Y, yaw about Z, roll about X). Dataset space is the
// right-handed nuScenes convention: X forward, Y left, Z up, rotations as
// unit quaternions in [w, x, y, z] order. Camera calibrations additionally
// remap to the optical frame (X right, Y down, Z forward).
//
// Transforms are expressed as 4x4 row-major matrices, the same layout the
// LiDAR pose code uses, so a point is applied as T·[x y z 1]ᵀ.
package geometry
