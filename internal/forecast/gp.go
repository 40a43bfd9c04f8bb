package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Kernel is C·RBF(ℓ) + White(σ²) with an isotropic length scale.
type Kernel struct {
	C      float64 `json:"c"`
	Length float64 `json:"length"`
	Noise  float64 `json:"noise"`
}

// Hyperparameter bounds.
var (
	boundC      = [2]float64{1e-3, 1e3}
	boundLength = [2]float64{1e-2, 1e2}
	boundNoise  = [2]float64{1e-5, 1e5}
)

// initialKernel is the first optimizer start.
var initialKernel = Kernel{C: 1, Length: 1, Noise: 0.1}

// rbf is the signal part of the kernel between two rows.
func (k Kernel) rbf(a, b []float64) float64 {
	d2 := 0.0
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return k.C * math.Exp(-0.5*d2/(k.Length*k.Length))
}

func (k Kernel) theta() []float64 {
	return []float64{math.Log(k.C), math.Log(k.Length), math.Log(k.Noise)}
}

func kernelFromTheta(theta []float64) Kernel {
	return Kernel{
		C:      clamp(math.Exp(theta[0]), boundC),
		Length: clamp(math.Exp(theta[1]), boundLength),
		Noise:  clamp(math.Exp(theta[2]), boundNoise),
	}
}

func clamp(v float64, b [2]float64) float64 {
	return math.Max(b[0], math.Min(b[1], v))
}

// FitOptions controls hyperparameter search.
type FitOptions struct {
	Restarts int     // extra random starts after the initial kernel
	Seed     int64   // RNG seed for the restarts
	Jitter   float64 // added to the training covariance diagonal
}

// GP is a fitted Gaussian process regressor on standardized data.
type GP struct {
	Kernel Kernel
	LML    float64 // log marginal likelihood at Kernel

	x      [][]float64
	jitter float64
	chol   *mat.Cholesky
	alpha  *mat.VecDense // K⁻¹y
}

var errNotPositiveDefinite = errors.New("covariance matrix is not positive definite")

// factor builds and factorizes the training covariance for kernel k.
func factor(x [][]float64, k Kernel, jitter float64) (*mat.Cholesky, error) {
	n := len(x)
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := k.rbf(x[i], x[j])
			if i == j {
				v += k.Noise + jitter
			}
			K.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		return nil, errNotPositiveDefinite
	}
	return &chol, nil
}

// logMarginalLikelihood returns log p(y | X, k) and K⁻¹y.
func logMarginalLikelihood(x [][]float64, y *mat.VecDense, k Kernel, jitter float64) (float64, *mat.Cholesky, *mat.VecDense, error) {
	chol, err := factor(x, k, jitter)
	if err != nil {
		return 0, nil, nil, err
	}
	alpha := mat.NewVecDense(y.Len(), nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return 0, nil, nil, err
	}
	n := float64(y.Len())
	lml := -0.5*mat.Dot(y, alpha) - 0.5*chol.LogDet() - 0.5*n*math.Log(2*math.Pi)
	return lml, chol, alpha, nil
}

// Fit chooses kernel hyperparameters by maximizing the log marginal
// likelihood with Nelder–Mead in log space, starting from the initial
// kernel and then from Restarts log-uniform random points. ctx is checked
// between starts.
func Fit(ctx context.Context, x [][]float64, y []float64, opts FitOptions) (*GP, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("fit: %d rows, %d targets", len(x), len(y))
	}
	yv := vec(y)

	objective := func(theta []float64) float64 {
		lml, _, _, err := logMarginalLikelihood(x, yv, kernelFromTheta(theta), opts.Jitter)
		if err != nil || math.IsNaN(lml) {
			return 1e25
		}
		return -lml
	}
	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{FuncEvaluations: 400}

	starts := [][]float64{initialKernel.theta()}
	rng := rand.New(rand.NewSource(opts.Seed))
	for i := 0; i < opts.Restarts; i++ {
		starts = append(starts, []float64{
			logUniform(rng, boundC),
			logUniform(rng, boundLength),
			logUniform(rng, boundNoise),
		})
	}

	bestF := math.Inf(1)
	var best []float64
	for _, x0 := range starts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
		if err != nil && res == nil {
			continue
		}
		if res.F < bestF {
			bestF = res.F
			best = append(best[:0], res.X...)
		}
	}
	if best == nil {
		best = initialKernel.theta()
	}

	k := kernelFromTheta(best)
	lml, chol, alpha, err := logMarginalLikelihood(x, yv, k, opts.Jitter)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	return &GP{Kernel: k, LML: lml, x: x, jitter: opts.Jitter, chol: chol, alpha: alpha}, nil
}

// Predict returns the posterior mean and standard deviation at row q.
// The variance includes the white-noise term.
func (g *GP) Predict(q []float64) (mean, std float64) {
	n := len(g.x)
	ks := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ks.SetVec(i, g.Kernel.rbf(q, g.x[i]))
	}
	mean = mat.Dot(ks, g.alpha)

	v := mat.NewVecDense(n, nil)
	if err := g.chol.SolveVecTo(v, ks); err != nil {
		return mean, math.Sqrt(g.Kernel.C + g.Kernel.Noise)
	}
	variance := g.Kernel.C + g.Kernel.Noise - mat.Dot(ks, v)
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

func logUniform(rng *rand.Rand, b [2]float64) float64 {
	lo, hi := math.Log(b[0]), math.Log(b[1])
	return lo + rng.Float64()*(hi-lo)
}

func vec(v []float64) *mat.VecDense {
	return mat.NewVecDense(len(v), append([]float64(nil), v...))
}
