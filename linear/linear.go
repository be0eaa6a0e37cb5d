// Package linear implements the multi-head linear model behind the
// classifier: one dense projection per classification dimension over a
// shared hashed feature space, trained full-batch with Adagrad.
//
// The model itself is deliberately dumb storage plus forward passes.
// All training logic lives in Train, all label bookkeeping in the
// caller; this keeps the persisted shape of a model trivial to
// validate when an artifact is loaded back.
package linear

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mailclass/internal/math32"
)

// NumHeads is the number of classification heads.
const NumHeads = 4

// ErrCorruptState is returned by FromState when a persisted model does
// not describe a loadable shape.
var ErrCorruptState = errors.New("linear: corrupt model state")

type head struct {
	rows    int       // number of classes, always >= 1
	weights []float32 // rows * nFeatures, row-major
	bias    []float32 // rows
}

// MultiHead is a set of independent linear projections sharing one
// input space. Head k maps a feature vector of width NumFeatures to
// max(1, headSizes[k]) class logits.
type MultiHead struct {
	nFeatures int
	heads     [NumHeads]head
}

// NewMultiHead creates a zero-initialized model. A head size below one
// is widened to a single class so that a degenerate label space still
// yields a well-formed head. Zero initialization keeps training
// deterministic for a given dataset.
func NewMultiHead(nFeatures int, headSizes [NumHeads]int) *MultiHead {
	m := &MultiHead{nFeatures: nFeatures}

	for i, size := range headSizes {
		rows := max(1, size)

		m.heads[i] = head{
			rows:    rows,
			weights: make([]float32, rows*nFeatures),
			bias:    make([]float32, rows),
		}
	}

	return m
}

// NumFeatures returns the width of the shared input space.
func (m *MultiHead) NumFeatures() int {
	return m.nFeatures
}

// HeadSizes returns the number of classes per head.
func (m *MultiHead) HeadSizes() [NumHeads]int {
	var sizes [NumHeads]int
	for i := range m.heads {
		sizes[i] = m.heads[i].rows
	}

	return sizes
}

// Forward computes the logits of one head into the provided buffer.
// len(x) must equal NumFeatures and len(logits) the head's class count.
func (m *MultiHead) Forward(x []float32, headIdx int, logits []float32) {
	h := &m.heads[headIdx]
	for c := 0; c < h.rows; c++ {
		logits[c] = math32.Dot(h.weights[c*m.nFeatures:(c+1)*m.nFeatures], x) + h.bias[c]
	}
}

// Predict returns the argmax class per head, first maximum winning on
// ties. len(x) must equal NumFeatures.
func (m *MultiHead) Predict(x []float32) [NumHeads]int {
	var out [NumHeads]int

	for i := range m.heads {
		logits := make([]float32, m.heads[i].rows)
		m.Forward(x, i, logits)
		out[i] = math32.ArgMax(logits)
	}

	return out
}

// HeadState is the persisted form of one head.
type HeadState struct {
	Rows    int
	Weights []float32
	Bias    []float32
}

// State is the persisted form of a model.
type State struct {
	NFeatures int
	Heads     [NumHeads]HeadState
}

// State snapshots the model for persistence. The returned slices are
// copies.
func (m *MultiHead) State() State {
	s := State{NFeatures: m.nFeatures}

	for i := range m.heads {
		s.Heads[i] = HeadState{
			Rows:    m.heads[i].rows,
			Weights: append([]float32(nil), m.heads[i].weights...),
			Bias:    append([]float32(nil), m.heads[i].bias...),
		}
	}

	return s
}

// FromState restores a model from a persisted snapshot, validating
// that every head describes a consistent shape.
func FromState(s State) (*MultiHead, error) {
	if s.NFeatures < 1 {
		return nil, fmt.Errorf("%w: feature count %d", ErrCorruptState, s.NFeatures)
	}

	m := &MultiHead{nFeatures: s.NFeatures}

	for i, hs := range s.Heads {
		if hs.Rows < 1 {
			return nil, fmt.Errorf("%w: head %d has %d rows", ErrCorruptState, i, hs.Rows)
		}

		if len(hs.Weights) != hs.Rows*s.NFeatures {
			return nil, fmt.Errorf("%w: head %d weights length %d, want %d", ErrCorruptState, i, len(hs.Weights), hs.Rows*s.NFeatures)
		}

		if len(hs.Bias) != hs.Rows {
			return nil, fmt.Errorf("%w: head %d bias length %d, want %d", ErrCorruptState, i, len(hs.Bias), hs.Rows)
		}

		m.heads[i] = head{
			rows:    hs.Rows,
			weights: append([]float32(nil), hs.Weights...),
			bias:    append([]float32(nil), hs.Bias...),
		}
	}

	return m, nil
}
