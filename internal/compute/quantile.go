package compute

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/TobiasJacob/cube-store/internal/cube"
	"github.com/TobiasJacob/cube-store/internal/errors"
)

// QuantileSketch folds elements into a DDSketch so quantiles over cubes
// larger than memory come from a bounded-size summary with a relative
// accuracy guarantee instead of a full sort.
type QuantileSketch struct {
	sketch *ddsketch.DDSketch
}

// NewQuantileSketch builds a sketch with the given relative accuracy
// (for example 0.01 for 1%).
func NewQuantileSketch(accuracy float64) (*QuantileSketch, error) {
	s, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "quantile accuracy %v: %v", accuracy, err)
	}
	return &QuantileSketch{sketch: s}, nil
}

// AddBuffer folds every finite element of a buffer into the sketch.
func (q *QuantileSketch) AddBuffer(buf *cube.Buffer) {
	for i := 0; i < buf.Len(); i++ {
		v := buf.At(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		// Add only fails for NaN/Inf, which are filtered above.
		_ = q.sketch.Add(v)
	}
}

// Add folds a single value.
func (q *QuantileSketch) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	_ = q.sketch.Add(v)
}

// Merge absorbs another sketch.
func (q *QuantileSketch) Merge(other *QuantileSketch) error {
	return q.sketch.MergeWith(other.sketch)
}

// Count reports how many values have been folded in.
func (q *QuantileSketch) Count() float64 {
	return q.sketch.GetCount()
}

// Value returns the estimated value at quantile p in [0, 1].
func (q *QuantileSketch) Value(p float64) (float64, error) {
	if p < 0 || p > 1 {
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "quantile %v outside [0, 1]", p)
	}
	v, err := q.sketch.GetValueAtQuantile(p)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "quantile %v: %v", p, err)
	}
	return v, nil
}
