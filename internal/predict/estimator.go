// Package predict implements the optional runtime estimator: a linear
// least-squares model fitted on completed jobs with a recorded runtime. The
// model reads the job table only and its output is an opaque estimate; it
// plays no part in scheduling decisions.
package predict

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/rezkam/smartflow/internal/domain"
)

// MinSamples is the minimum number of completed jobs with a recorded runtime
// required to fit the model.
const MinSamples = 10

// Report summarizes one training run.
type Report struct {
	Samples int     `json:"samples"`
	R2      float64 `json:"r2"`
}

// Model is the fitted linear model. The feature vector per job is
// [1, priority, attempts, payload_size, one-hot job type...] and Weights
// holds the coefficients in that order.
type Model struct {
	Types   []string  `json:"types"`
	Weights []float64 `json:"weights"`
}

// baseFeatures counts the non-type features including the intercept.
const baseFeatures = 4

// ridge is the regularization added to the normal-equation diagonal.
const ridge = 1e-6

// Estimator holds the current model and persists it to a JSON file. The
// in-memory model is swapped atomically under a lock; the file is replaced
// via rename so readers never observe a partial write.
type Estimator struct {
	path string

	mu    sync.RWMutex
	model *Model
}

// NewEstimator creates an estimator persisting to path. A model already
// present at path is loaded; a missing file leaves the estimator untrained.
func NewEstimator(path string) (*Estimator, error) {
	e := &Estimator{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return e, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}
	e.model = &model
	return e, nil
}

// Train fits the model on the given completed jobs, persists it, and swaps it
// in. Jobs without a recorded runtime are ignored.
func (e *Estimator) Train(jobs []*domain.Job) (Report, error) {
	samples := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.RuntimeMS != nil {
			samples = append(samples, job)
		}
	}
	if len(samples) < MinSamples {
		return Report{}, fmt.Errorf("%w: need %d, have %d", domain.ErrNotEnoughSamples, MinSamples, len(samples))
	}

	types := collectTypes(samples)
	cols := baseFeatures + len(types)
	rows := len(samples)

	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for i, job := range samples {
		x.SetRow(i, features(job, types))
		y.SetVec(i, float64(*job.RuntimeMS))
	}

	// Ridge-regularized normal equations. Real workloads routinely produce
	// rank-deficient design matrices (a constant attempts column, one-hot
	// types summing to the intercept), so plain QR least squares would fail;
	// the small ridge term keeps X'X + rI positive definite.
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for i := 0; i < cols; i++ {
		xtx.Set(i, i, xtx.At(i, i)+ridge)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var weights mat.VecDense
	if err := weights.SolveVec(&xtx, &xty); err != nil {
		return Report{}, fmt.Errorf("failed to solve least squares: %w", err)
	}

	model := &Model{Types: types, Weights: weights.RawVector().Data}
	report := Report{Samples: rows, R2: rSquared(x, y, &weights)}

	if err := e.persist(model); err != nil {
		return Report{}, err
	}

	e.mu.Lock()
	e.model = model
	e.mu.Unlock()
	return report, nil
}

// Predict returns the estimated runtime of the job in milliseconds, clamped
// to be non-negative. Job types unseen during training fall back to the
// type-independent part of the model.
func (e *Estimator) Predict(job *domain.Job) (int64, error) {
	e.mu.RLock()
	model := e.model
	e.mu.RUnlock()

	if model == nil {
		return 0, domain.ErrModelNotTrained
	}

	feats := features(job, model.Types)
	var estimate float64
	for i, w := range model.Weights {
		if i < len(feats) {
			estimate += w * feats[i]
		}
	}
	if estimate < 0 || math.IsNaN(estimate) {
		return 0, nil
	}
	return int64(estimate), nil
}

// Trained reports whether a model is loaded.
func (e *Estimator) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// persist writes the model to a temp file in the target directory and renames
// it into place.
func (e *Estimator) persist(model *Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, "model-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp model file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace model file: %w", err)
	}
	return nil
}

// features builds the feature vector for a job against the given type
// vocabulary.
func features(job *domain.Job, types []string) []float64 {
	feats := make([]float64, baseFeatures+len(types))
	feats[0] = 1 // intercept
	feats[1] = float64(job.Priority)
	feats[2] = float64(job.Attempts)
	if job.Payload != nil {
		feats[3] = float64(len(*job.Payload))
	}
	for i, t := range types {
		if job.Type == t {
			feats[baseFeatures+i] = 1
			break
		}
	}
	return feats
}

// collectTypes returns the sorted distinct job types in the samples.
func collectTypes(jobs []*domain.Job) []string {
	seen := make(map[string]struct{})
	for _, job := range jobs {
		seen[job.Type] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// rSquared computes the coefficient of determination of the fit.
func rSquared(x mat.Matrix, y *mat.VecDense, weights *mat.VecDense) float64 {
	rows, _ := x.Dims()

	var mean float64
	for i := 0; i < rows; i++ {
		mean += y.AtVec(i)
	}
	mean /= float64(rows)

	var predicted mat.VecDense
	predicted.MulVec(x, weights)

	var ssRes, ssTot float64
	for i := 0; i < rows; i++ {
		res := y.AtVec(i) - predicted.AtVec(i)
		tot := y.AtVec(i) - mean
		ssRes += res * res
		ssTot += tot * tot
	}
	if ssTot == 0 {
		return 1
	}
	return 1 - ssRes/ssTot
}
