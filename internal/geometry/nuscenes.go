package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// mirrorY flips the Y axis between the left-handed simulator frame and the
// right-handed dataset frame.
var mirrorY = [9]float64{
	1, 0, 0,
	0, -1, 0,
	0, 0, 1,
}

// cameraAxes maps optical axes (right, down, forward) onto the right-handed
// body frame (forward, left, up). Columns are the optical axes.
var cameraAxes = [9]float64{
	0, 0, 1,
	-1, 0, 0,
	0, -1, 0,
}

func mul3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = a[i*3]*b[j] + a[i*3+1]*b[3+j] + a[i*3+2]*b[6+j]
		}
	}
	return out
}

// NuScenesRT converts a simulator transform into a dataset rotation
// quaternion [w, x, y, z] and translation [x, y, z]. With camera set the
// rotation describes the optical frame instead of the body frame.
func NuScenesRT(t Transform, camera bool) (rotation [4]float64, translation [3]float64) {
	translation = [3]float64{t.Location.X, -t.Location.Y, t.Location.Z}

	r := mul3(mul3(mirrorY, t.Rotation.RotationMatrix()), mirrorY)
	if camera {
		r = mul3(r, cameraAxes)
	}
	q := QuaternionFromMatrix(r)
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}, translation
}

// QuaternionFromMatrix converts a proper 3x3 row-major rotation matrix to a
// unit quaternion with non-negative real part.
func QuaternionFromMatrix(m [9]float64) quat.Number {
	var q quat.Number
	trace := m[0] + m[4] + m[8]
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (m[7] - m[5]) / s, Jmag: (m[2] - m[6]) / s, Kmag: (m[3] - m[1]) / s}
	case m[0] > m[4] && m[0] > m[8]:
		s := 2 * math.Sqrt(1+m[0]-m[4]-m[8])
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: s / 4, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := 2 * math.Sqrt(1+m[4]-m[0]-m[8])
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: s / 4, Kmag: (m[5] + m[7]) / s}
	default:
		s := 2 * math.Sqrt(1+m[8]-m[0]-m[4])
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// CameraIntrinsic builds the pinhole intrinsic matrix for a camera with the
// given horizontal field of view (degrees) and image size (pixels).
func CameraIntrinsic(fovDeg, width, height float64) *mat.Dense {
	focal := width / (2.0 * math.Tan(fovDeg*math.Pi/360.0))
	return mat.NewDense(3, 3, []float64{
		focal, 0, width / 2.0,
		0, focal, height / 2.0,
		0, 0, 1,
	})
}

// MatrixRows copies m into nested row slices for serialization.
func MatrixRows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}
