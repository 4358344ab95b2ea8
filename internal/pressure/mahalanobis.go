// mahalanobis.go implements a richer axis expression: statistical
// distance from a running per-kind baseline, as an alternative to plain
// signal lookup.
//
// The distance formula and the Cholesky-based covariance inversion (with
// a Euclidean fallback when the covariance is singular) follow the
// kernel's ancestry in host-anomaly scoring. Unlike a fixed baseline
// loaded from storage, the baseline here is a running per-kind
// mean/covariance built up online from every signal vector this axis
// observes, since the kernel keeps no persistent state of its own.
package pressure

import (
	"math"
	"sync"

	"github.com/pressurefield/kernel/internal/region"
)

// baseline holds an online running mean/covariance for one region kind.
type baseline struct {
	n     int
	mean  []float64
	// m2 is the running sum of outer-product deviations (Welford-style),
	// from which the sample covariance is derived.
	m2 [][]float64
}

// MahalanobisAxis evaluates the squared Mahalanobis distance of a region's
// current signal vector from a running per-kind baseline, updating that
// baseline with every observation it sees. The expression's own state
// evolves only from the signals it is given, never from anything
// external, so it remains a deterministic function of its call sequence.
type MahalanobisAxis struct {
	signalNames []string

	mu        sync.Mutex
	baselines map[string]*baseline
}

// NewMahalanobisAxis builds an axis that tracks the named signals, in
// order, as its feature vector.
func NewMahalanobisAxis(signalNames []string) *MahalanobisAxis {
	return &MahalanobisAxis{
		signalNames: append([]string(nil), signalNames...),
		baselines:   make(map[string]*baseline),
	}
}

// Eval implements Expression.
func (m *MahalanobisAxis) Eval(signals region.Signals, kind string) (float64, bool) {
	x := make([]float64, len(m.signalNames))
	anyPresent := false
	for i, name := range m.signalNames {
		if v, ok := signals[name]; ok {
			x[i] = v
			anyPresent = true
		}
	}
	if !anyPresent {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.baselines[kind]
	if !ok {
		b = &baseline{mean: make([]float64, len(x)), m2: zeroMatrix(len(x))}
		m.baselines[kind] = b
	}

	dist := b.distanceSquared(x)
	b.observe(x)
	return dist, true
}

// distanceSquared computes (x-mu)^T Sigma^-1 (x-mu), falling back to the
// squared Euclidean norm of (x-mu) when Sigma is singular or there is not
// yet enough history to estimate it (n < 2).
func (b *baseline) distanceSquared(x []float64) float64 {
	diff := make([]float64, len(x))
	for i := range x {
		diff[i] = x[i] - b.mean[i]
	}
	if b.n < 2 {
		return euclideanSquared(diff)
	}
	cov := b.covariance()
	inv := invertCovariance(cov)
	if inv == nil {
		return euclideanSquared(diff)
	}
	return mahalanobisSquared(diff, inv)
}

// observe folds x into the running mean/covariance via Welford's
// algorithm, extended to the multivariate case.
func (b *baseline) observe(x []float64) {
	b.n++
	n := float64(b.n)
	deltaOld := make([]float64, len(x))
	for i := range x {
		deltaOld[i] = x[i] - b.mean[i]
		b.mean[i] += deltaOld[i] / n
	}
	for i := range x {
		for j := range x {
			deltaNew := x[j] - b.mean[j]
			b.m2[i][j] += deltaOld[i] * deltaNew
		}
	}
}

// covariance returns the sample covariance matrix from the accumulated
// m2 terms.
func (b *baseline) covariance() [][]float64 {
	n := float64(b.n - 1)
	cov := zeroMatrix(len(b.mean))
	for i := range cov {
		for j := range cov[i] {
			cov[i][j] = b.m2[i][j] / n
		}
	}
	return cov
}

func zeroMatrix(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

func euclideanSquared(v []float64) float64 {
	var sum float64
	for _, vi := range v {
		sum += vi * vi
	}
	return sum
}

// mahalanobisSquared computes v^T M v.
func mahalanobisSquared(v []float64, M [][]float64) float64 {
	n := len(v)
	mv := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			mv[i] += M[i][j] * v[j]
		}
	}
	var result float64
	for i := 0; i < n; i++ {
		result += v[i] * mv[i]
	}
	return result
}

// invertCovariance computes Sigma^-1 via Cholesky decomposition (L L^T =
// Sigma), returning nil if Sigma is singular or not positive-definite.
func invertCovariance(cov [][]float64) [][]float64 {
	n := len(cov)
	if n == 0 {
		return nil
	}
	l := choleskyDecompose(cov)
	if l == nil {
		return nil
	}
	linv := invertLowerTriangular(l)
	if linv == nil {
		return nil
	}
	inv := zeroMatrix(n)
	for i := range inv {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				inv[i][j] += linv[k][i] * linv[k][j]
			}
		}
	}
	return inv
}

func choleskyDecompose(a [][]float64) [][]float64 {
	n := len(a)
	l := zeroMatrix(n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				if l[j][j] == 0 {
					return nil
				}
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l
}

func invertLowerTriangular(l [][]float64) [][]float64 {
	n := len(l)
	inv := zeroMatrix(n)
	for j := 0; j < n; j++ {
		if l[j][j] == 0 {
			return nil
		}
		inv[j][j] = 1.0 / l[j][j]
		for i := j + 1; i < n; i++ {
			var sum float64
			for k := j; k < i; k++ {
				sum -= l[i][k] * inv[k][j]
			}
			inv[i][j] = sum / l[i][i]
		}
	}
	return inv
}
