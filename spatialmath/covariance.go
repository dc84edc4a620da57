package spatialmath

import (
	"gonum.org/v1/gonum/mat"
)

// Indices into the 6x6 pose covariance, ordered (x, y, z, roll, pitch, yaw).
const (
	CovarianceX   = 0
	CovarianceY   = 1
	CovarianceYaw = 5

	poseCovarianceDim = 6
)

// NewPoseCovariance returns a 6x6 pose covariance with only the planar
// diagonal entries populated. Every other entry is zero.
func NewPoseCovariance(varX, varY, varYaw float64) *mat.SymDense {
	cov := mat.NewSymDense(poseCovarianceDim, nil)
	cov.SetSym(CovarianceX, CovarianceX, varX)
	cov.SetSym(CovarianceY, CovarianceY, varY)
	cov.SetSym(CovarianceYaw, CovarianceYaw, varYaw)
	return cov
}

// CovarianceRowMajor flattens a covariance into row-major order, the layout
// used by most odometry message formats (indices 0, 7 and 35 hold x, y and yaw).
func CovarianceRowMajor(cov mat.Symmetric) []float64 {
	n := cov.SymmetricDim()
	out := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out = append(out, cov.At(i, j))
		}
	}
	return out
}
