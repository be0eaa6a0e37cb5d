package linear

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMultiHeadShapes(t *testing.T) {
	m := NewMultiHead(8, [NumHeads]int{3, 0, 1, 7})

	assert.Equal(t, 8, m.NumFeatures())
	// Empty vocabularies still get a single-class head.
	assert.Equal(t, [NumHeads]int{3, 1, 1, 7}, m.HeadSizes())
}

func TestZeroModelPredictsFirstClass(t *testing.T) {
	m := NewMultiHead(4, [NumHeads]int{3, 2, 5, 1})

	// All logits tie at zero, so the first class wins everywhere.
	assert.Equal(t, [NumHeads]int{0, 0, 0, 0}, m.Predict([]float32{1, 0, 0.5, 0}))
}

func TestForward(t *testing.T) {
	m, err := FromState(State{
		NFeatures: 2,
		Heads: [NumHeads]HeadState{
			{Rows: 2, Weights: []float32{1, 2, 3, 4}, Bias: []float32{0.5, -0.5}},
			{Rows: 1, Weights: []float32{0, 0}, Bias: []float32{0}},
			{Rows: 1, Weights: []float32{0, 0}, Bias: []float32{0}},
			{Rows: 1, Weights: []float32{0, 0}, Bias: []float32{0}},
		},
	})
	require.NoError(t, err)

	logits := make([]float32, 2)
	m.Forward([]float32{1, 1}, 0, logits)

	assert.InDelta(t, 3.5, logits[0], 1e-6)
	assert.InDelta(t, 6.5, logits[1], 1e-6)

	assert.Equal(t, [NumHeads]int{1, 0, 0, 0}, m.Predict([]float32{1, 1}))
}

// twoRowDataset is a trivially separable two-class problem on the
// first head; the remaining heads are single-class and contribute a
// zero loss.
func twoRowDataset() ([][]float32, [NumHeads][]int) {
	x := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	}
	y := [NumHeads][]int{
		{0, 1},
		{0, 0},
		{0, 0},
		{0, 0},
	}

	return x, y
}

func TestTrainTwoRowsThreeEpochs(t *testing.T) {
	x, y := twoRowDataset()

	m := NewMultiHead(4, [NumHeads]int{2, 1, 1, 1})

	report, err := Train(context.Background(), m, x, y)
	require.NoError(t, err)

	require.Len(t, report.EpochLosses, 3)
	for _, loss := range report.EpochLosses {
		assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
	}

	// Zero-initialized logits make the first epoch loss exactly ln of
	// the class count of each head, summed.
	assert.InDelta(t, math.Log(2), report.EpochLosses[0], 1e-9)
	assert.InDelta(t, 0.3133, report.EpochLosses[1], 5e-3)
	assert.InDelta(t, 0.2089, report.EpochLosses[2], 5e-3)

	assert.Less(t, report.EpochLosses[1], report.EpochLosses[0])
	assert.Less(t, report.EpochLosses[2], report.EpochLosses[1])

	assert.Equal(t, [NumHeads]int{0, 0, 0, 0}, m.Predict(x[0]))
	assert.Equal(t, [NumHeads]int{1, 0, 0, 0}, m.Predict(x[1]))

	assert.Zero(t, report.LabelFallbacks)
}

func TestTrainInitialLossSumsHeads(t *testing.T) {
	x := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	y := [NumHeads][]int{
		{0, 1, 2},
		{0, 0, 0},
		{0, 1, 0},
		{3, 2, 1},
	}

	m := NewMultiHead(2, [NumHeads]int{3, 1, 2, 4})

	report, err := Train(context.Background(), m, x, y, func(o *Options) {
		o.Epochs = 1
	})
	require.NoError(t, err)

	require.Len(t, report.EpochLosses, 1)
	want := math.Log(3) + math.Log(1) + math.Log(2) + math.Log(4)
	assert.InDelta(t, want, report.EpochLosses[0], 1e-9)
}

func TestTrainIsDeterministic(t *testing.T) {
	x, y := twoRowDataset()

	m1 := NewMultiHead(4, [NumHeads]int{2, 1, 1, 1})
	m2 := NewMultiHead(4, [NumHeads]int{2, 1, 1, 1})

	r1, err := Train(context.Background(), m1, x, y)
	require.NoError(t, err)

	r2, err := Train(context.Background(), m2, x, y)
	require.NoError(t, err)

	assert.Equal(t, r1.EpochLosses, r2.EpochLosses)
	assert.Equal(t, m1.State(), m2.State())
}

func TestTrainEmptyDataset(t *testing.T) {
	m := NewMultiHead(4, [NumHeads]int{2, 1, 1, 1})

	_, err := Train(context.Background(), m, nil, [NumHeads][]int{})
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
}

func TestTrainShapeValidation(t *testing.T) {
	m := NewMultiHead(4, [NumHeads]int{2, 1, 1, 1})

	var shapeErr *ShapeMismatchError

	// Row narrower than the model's feature space.
	_, err := Train(context.Background(), m, [][]float32{{1, 2}}, [NumHeads][]int{{0}, {0}, {0}, {0}})
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 4, shapeErr.Want)
	assert.Equal(t, 2, shapeErr.Got)

	// Target list shorter than the batch.
	_, err = Train(context.Background(), m, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}, [NumHeads][]int{{0, 1}, {0}, {0, 0}, {0, 0}})
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 2, shapeErr.Want)
	assert.Equal(t, 1, shapeErr.Got)
}

func TestTrainClampsOutOfRangeTargets(t *testing.T) {
	x, y := twoRowDataset()
	y[0] = []int{5, -1} // head 0 has two classes

	m := NewMultiHead(4, [NumHeads]int{2, 1, 1, 1})

	report, err := Train(context.Background(), m, x, y)
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.LabelFallbacks)

	// Both rows trained as class 0.
	assert.Equal(t, [NumHeads]int{0, 0, 0, 0}, m.Predict(x[0]))
	assert.Equal(t, [NumHeads]int{0, 0, 0, 0}, m.Predict(x[1]))
}

func TestTrainNonFiniteLoss(t *testing.T) {
	x := [][]float32{{float32(math.Inf(1))}}
	y := [NumHeads][]int{{0}, {0}, {0}, {0}}

	m := NewMultiHead(1, [NumHeads]int{2, 1, 1, 1})

	_, err := Train(context.Background(), m, x, y)

	var lossErr *NonFiniteLossError
	require.ErrorAs(t, err, &lossErr)
	assert.Equal(t, 0, lossErr.Epoch)
	assert.True(t, math.IsNaN(lossErr.Loss) || math.IsInf(lossErr.Loss, 0))
}

func TestTrainContextCancellation(t *testing.T) {
	x, y := twoRowDataset()

	m := NewMultiHead(4, [NumHeads]int{2, 1, 1, 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Train(ctx, m, x, y)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateRoundTrip(t *testing.T) {
	x, y := twoRowDataset()

	m := NewMultiHead(4, [NumHeads]int{2, 1, 1, 1})

	_, err := Train(context.Background(), m, x, y)
	require.NoError(t, err)

	restored, err := FromState(m.State())
	require.NoError(t, err)

	assert.Equal(t, m.State(), restored.State())
	assert.Equal(t, m.Predict(x[0]), restored.Predict(x[0]))
	assert.Equal(t, m.Predict(x[1]), restored.Predict(x[1]))
}

func TestFromStateValidates(t *testing.T) {
	valid := NewMultiHead(2, [NumHeads]int{2, 1, 1, 1}).State()

	s := valid
	s.NFeatures = 0
	_, err := FromState(s)
	assert.ErrorIs(t, err, ErrCorruptState)

	s = valid
	s.Heads[0].Rows = 0
	_, err = FromState(s)
	assert.ErrorIs(t, err, ErrCorruptState)

	s = valid
	s.Heads[1].Weights = []float32{1, 2, 3}
	_, err = FromState(s)
	assert.ErrorIs(t, err, ErrCorruptState)

	s = valid
	s.Heads[2].Bias = nil
	_, err = FromState(s)
	assert.ErrorIs(t, err, ErrCorruptState)
}
