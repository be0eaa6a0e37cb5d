package linear

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
)

// ErrEmptyTrainingSet is returned when Train is called without rows.
var ErrEmptyTrainingSet = errors.New("linear: empty training set")

// ShapeMismatchError is returned when training inputs do not agree with
// the model's dimensions.
type ShapeMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("linear: %s: got %d, want %d", e.What, e.Got, e.Want)
}

// NonFiniteLossError is returned when an epoch produces a NaN or Inf
// loss. Training cannot recover from this; the model must be discarded.
type NonFiniteLossError struct {
	Epoch int
	Loss  float64
}

func (e *NonFiniteLossError) Error() string {
	return fmt.Sprintf("linear: non-finite loss %v at epoch %d", e.Loss, e.Epoch)
}

// Options contains configuration options for Train.
type Options struct {
	// Epochs is the number of full-batch passes over the dataset.
	Epochs int

	// LearningRate is the Adagrad step size.
	LearningRate float64

	// WeightDecay is the L2 penalty folded into every gradient.
	WeightDecay float64

	// Epsilon stabilizes the adaptive denominator.
	Epsilon float64

	// Logger receives one Info line per epoch. Nil disables logging.
	Logger *slog.Logger
}

// DefaultOptions holds the options used when none are passed to Train.
var DefaultOptions = Options{
	Epochs:       3,
	LearningRate: 0.5,
	WeightDecay:  0.01,
	Epsilon:      1e-10,
}

// Report summarizes a training run.
type Report struct {
	// EpochLosses holds the summed cross-entropy loss per epoch.
	EpochLosses []float64

	// LabelFallbacks counts target indices that were outside their
	// head's class range and were trained as class 0 instead.
	LabelFallbacks int64
}

// Train fits the model in place with full-batch Adagrad. Each epoch
// computes, per head, the mean softmax cross-entropy over all rows and
// its closed-form gradient, sums the head losses into the epoch loss,
// and applies one optimizer step per head. There is no shuffling and
// no mini-batching, so a given dataset always produces the same model.
//
// y carries one target class per head and row. Out-of-range targets
// are trained as class 0 and counted in the report.
func Train(ctx context.Context, model *MultiHead, x [][]float32, y [NumHeads][]int, optFns ...func(o *Options)) (*Report, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	batch := len(x)
	if batch == 0 {
		return nil, ErrEmptyTrainingSet
	}

	for i := range x {
		if len(x[i]) != model.nFeatures {
			return nil, &ShapeMismatchError{What: fmt.Sprintf("row %d width", i), Want: model.nFeatures, Got: len(x[i])}
		}
	}

	for h := range y {
		if len(y[h]) != batch {
			return nil, &ShapeMismatchError{What: fmt.Sprintf("head %d targets", h), Want: batch, Got: len(y[h])}
		}
	}

	report := &Report{}

	var targets [NumHeads][]int

	for h := range y {
		rows := model.heads[h].rows
		targets[h] = make([]int, batch)

		for i, v := range y[h] {
			if v < 0 || v >= rows {
				report.LabelFallbacks++
				v = 0
			}

			targets[h][i] = v
		}
	}

	rows := sparsify(x)

	var trainers [NumHeads]*headTrainer
	for h := range model.heads {
		trainers[h] = newHeadTrainer(&model.heads[h], model.nFeatures)
	}

	var losses [NumHeads]float64

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g, gctx := errgroup.WithContext(ctx)

		for h := range trainers {
			g.Go(func() error {
				loss, err := trainers[h].epoch(gctx, rows, targets[h], &opts)
				if err != nil {
					return err
				}

				losses[h] = loss

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}

		var total float64
		for _, l := range losses {
			total += l
		}

		if opts.Logger != nil {
			opts.Logger.Info("epoch complete", "epoch", epoch, "loss", fmt.Sprintf("%.4f", total))
		}

		if math.IsNaN(total) || math.IsInf(total, 0) {
			return nil, &NonFiniteLossError{Epoch: epoch, Loss: total}
		}

		report.EpochLosses = append(report.EpochLosses, total)
	}

	for h := range trainers {
		trainers[h].flush(&model.heads[h])
	}

	return report, nil
}

// sparseRow is the nonzero entries of one feature vector. Hashed
// vectors are overwhelmingly sparse, so gradient and logit loops walk
// only the populated buckets.
type sparseRow struct {
	idx []int32
	val []float64
}

func sparsify(x [][]float32) []sparseRow {
	rows := make([]sparseRow, len(x))

	for i, vec := range x {
		for f, v := range vec {
			if v != 0 {
				rows[i].idx = append(rows[i].idx, int32(f))
				rows[i].val = append(rows[i].val, float64(v))
			}
		}
	}

	return rows
}

// headTrainer carries one head's master parameters and Adagrad state
// in float64. Parameters are flushed back to the model's float32
// storage once training succeeds.
type headTrainer struct {
	rows, cols int

	w, b       []float64
	sumW, sumB []float64

	gradW, gradB []float64
	logits, exps []float64
}

func newHeadTrainer(h *head, cols int) *headTrainer {
	t := &headTrainer{
		rows:   h.rows,
		cols:   cols,
		w:      make([]float64, len(h.weights)),
		b:      make([]float64, len(h.bias)),
		sumW:   make([]float64, len(h.weights)),
		sumB:   make([]float64, len(h.bias)),
		gradW:  make([]float64, len(h.weights)),
		gradB:  make([]float64, len(h.bias)),
		logits: make([]float64, h.rows),
		exps:   make([]float64, h.rows),
	}

	for j, v := range h.weights {
		t.w[j] = float64(v)
	}

	for j, v := range h.bias {
		t.b[j] = float64(v)
	}

	return t
}

// epoch runs one full-batch pass: mean cross-entropy loss, closed-form
// gradients (softmax minus one-hot over the batch size), one Adagrad
// step. The step runs before the caller inspects the loss, so the
// epoch that produces a non-finite loss has already updated the
// parameters when the error surfaces.
func (t *headTrainer) epoch(ctx context.Context, rows []sparseRow, targets []int, opts *Options) (float64, error) {
	batch := len(rows)

	clear(t.gradW)
	clear(t.gradB)

	var loss float64

	for i, row := range rows {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}

		for c := 0; c < t.rows; c++ {
			s := t.b[c]
			base := c * t.cols

			for k, f := range row.idx {
				s += t.w[base+int(f)] * row.val[k]
			}

			t.logits[c] = s
		}

		// Log-sum-exp with max subtraction keeps exp in range.
		m := t.logits[0]
		for _, v := range t.logits[1:] {
			if v > m {
				m = v
			}
		}

		var sum float64
		for c, v := range t.logits {
			e := math.Exp(v - m)
			t.exps[c] = e
			sum += e
		}

		lse := m + math.Log(sum)

		target := targets[i]
		loss += lse - t.logits[target]

		inv := 1 / sum
		for c := 0; c < t.rows; c++ {
			g := t.exps[c] * inv
			if c == target {
				g--
			}

			g /= float64(batch)
			t.gradB[c] += g

			if g != 0 {
				base := c * t.cols
				for k, f := range row.idx {
					t.gradW[base+int(f)] += g * row.val[k]
				}
			}
		}
	}

	t.step(opts)

	return loss / float64(batch), nil
}

func (t *headTrainer) step(opts *Options) {
	for j, g := range t.gradW {
		g += opts.WeightDecay * t.w[j]
		t.sumW[j] += g * g
		t.w[j] -= opts.LearningRate * g / (math.Sqrt(t.sumW[j]) + opts.Epsilon)
	}

	for j, g := range t.gradB {
		g += opts.WeightDecay * t.b[j]
		t.sumB[j] += g * g
		t.b[j] -= opts.LearningRate * g / (math.Sqrt(t.sumB[j]) + opts.Epsilon)
	}
}

func (t *headTrainer) flush(h *head) {
	for j, v := range t.w {
		h.weights[j] = float32(v)
	}

	for j, v := range t.b {
		h.bias[j] = float32(v)
	}
}
