package optimizer

import (
	"context"
	stderrors "errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmiptools/pkg/errors"
)

func TestCandidatesOrder(t *testing.T) {
	space := NewSpace(
		Axis{Name: "a", Values: Values([]int{1, 2})},
		Axis{Name: "b", Values: Values([]string{"x", "y", "z"})},
	)
	require.Equal(t, 6, space.Size())

	want := []Candidate{
		{"a": 1, "b": "x"}, {"a": 1, "b": "y"}, {"a": 1, "b": "z"},
		{"a": 2, "b": "x"}, {"a": 2, "b": "y"}, {"a": 2, "b": "z"},
	}
	if diff := cmp.Diff(want, space.Candidates()); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchPicksMinimum(t *testing.T) {
	space := NewSpace(Axis{Name: "x", Values: Values(Arange(-2, 2.5, 0.5))})
	objective := func(_ context.Context, c Candidate) (float64, error) {
		x := c.Float("x")
		return (x - 1) * (x - 1), nil
	}

	res, err := Search(context.Background(), space, objective, WithWorkers(4))
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Best.Float("x"))
	assert.Equal(t, 0.0, res.Loss)
	assert.Equal(t, 9, res.Evaluated)
	assert.Len(t, res.Losses, 9)
	assert.False(t, res.Widened)
}

func TestSearchTieGoesToFirstCandidate(t *testing.T) {
	space := NewSpace(Axis{Name: "i", Values: Values([]int{0, 1, 2, 3, 4, 5, 6, 7})})
	objective := func(_ context.Context, c Candidate) (float64, error) {
		if c.Int("i") >= 3 {
			return 1, nil
		}
		return 2, nil
	}

	for _, workers := range []int{1, 3, 8} {
		res, err := Search(context.Background(), space, objective, WithWorkers(workers))
		require.NoError(t, err)
		assert.Equal(t, 3, res.Best.Int("i"), "workers=%d", workers)
	}
}

func TestSearchEmptySpace(t *testing.T) {
	objective := func(context.Context, Candidate) (float64, error) { return 0, nil }

	_, err := Search(context.Background(), NewSpace(), objective, WithOperation("Flatter"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	_, err = Search(context.Background(), NewSpace(Axis{Name: "x"}), objective)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestSearchAllCandidatesFail(t *testing.T) {
	boom := stderrors.New("boom")
	space := NewSpace(Axis{Name: "x", Values: Values([]float64{1, 2, 3})})
	calls := 0
	objective := func(_ context.Context, c Candidate) (float64, error) {
		calls++
		switch c.Float("x") {
		case 1:
			return math.NaN(), nil
		case 2:
			return math.Inf(1), nil
		default:
			return 0, boom
		}
	}

	_, err := Search(context.Background(), space, objective, WithOperation("Denoiser"))
	require.Error(t, err)

	var optErr *errors.OptimizationError
	require.True(t, errors.As(err, &optErr))
	assert.Equal(t, "Denoiser", optErr.Operation)
	assert.Equal(t, 3, optErr.Evaluated)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, errors.ErrOptimization)
	assert.Equal(t, 3, calls)
}

func TestSearchSkipsFailedCandidates(t *testing.T) {
	space := NewSpace(Axis{Name: "x", Values: Values([]float64{1, 2, 3})})
	objective := func(_ context.Context, c Candidate) (float64, error) {
		if c.Float("x") == 1 {
			return 0, stderrors.New("bad")
		}
		return c.Float("x"), nil
	}

	res, err := Search(context.Background(), space, objective)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Best.Float("x"))
	assert.Equal(t, 1, res.Failed)
	assert.True(t, math.IsNaN(res.Losses[0]))
}

func TestSearchWidensOnce(t *testing.T) {
	var calls atomic.Int32
	widenCalls := 0
	space := NewSpace(Axis{
		Name:   "level",
		Values: Values([]int{1, 2, 3}),
		Widen: func(values []any, atLower bool) []any {
			widenCalls++
			if atLower {
				return values
			}
			last := values[len(values)-1].(int)
			return append(append([]any{}, values...), last+1)
		},
	})
	// loss keeps decreasing with the level, so the winner is always the last value
	objective := func(_ context.Context, c Candidate) (float64, error) {
		calls.Add(1)
		return -float64(c.Int("level")), nil
	}

	res, err := Search(context.Background(), space, objective, WithWidening(true))
	require.NoError(t, err)
	assert.True(t, res.Widened)
	assert.Equal(t, 4, res.Best.Int("level"))
	assert.Equal(t, 7, res.Evaluated)
	assert.Equal(t, int32(7), calls.Load())
	assert.Equal(t, 1, widenCalls)

	res, err = Search(context.Background(), space, objective, WithWidening(false))
	require.NoError(t, err)
	assert.False(t, res.Widened)
	assert.Equal(t, 3, res.Best.Int("level"))
}

func TestSearchNoWideningInsideRange(t *testing.T) {
	space := NewSpace(Axis{
		Name:   "sigma",
		Values: Values([]float64{1, 2, 3}),
		Widen: func(values []any, atLower bool) []any {
			t.Errorf("widen called with an interior winner (atLower=%v)", atLower)
			return values
		},
	})
	objective := func(_ context.Context, c Candidate) (float64, error) {
		return math.Abs(c.Float("sigma") - 2), nil
	}

	res, err := Search(context.Background(), space, objective, WithWidening(true))
	require.NoError(t, err)
	assert.False(t, res.Widened)
	assert.Equal(t, 3, res.Evaluated)
}

func TestSearchProgressAndCancel(t *testing.T) {
	space := NewSpace(Axis{Name: "x", Values: Values([]int{1, 2, 3, 4})})
	var last [2]int
	objective := func(_ context.Context, c Candidate) (float64, error) { return float64(c.Int("x")), nil }

	_, err := Search(context.Background(), space, objective, WithProgress(func(done, total int, _ string) {
		last = [2]int{done, total}
	}))
	require.NoError(t, err)
	assert.Equal(t, [2]int{4, 4}, last)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Search(ctx, space, objective)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArange(t *testing.T) {
	assert.Equal(t, []float64{0.1}, Arange(0.1, 1, 1))
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, Arange(0, 2, 0.5))
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, Arange(0.1, 0.35, 0.1))
	assert.Nil(t, Arange(1, 1, 0.1))
	assert.Nil(t, Arange(0, 1, 0))
	assert.Nil(t, Arange(0, 1e9, 1))

	assert.Equal(t, []int{2, 4, 6}, ArangeInt(2, 7, 2))
	assert.Equal(t, []int{1, 2, 3}, IntRange(1, 3))
	assert.Nil(t, IntRange(3, 1))
}

func TestTriplet(t *testing.T) {
	require.NoError(t, Triplet{1, 3, 1}.Validate())
	assert.Error(t, Triplet{3, 1, 1}.Validate())
	assert.Error(t, Triplet{1, 3, 0}.Validate())
	assert.Equal(t, []float64{1, 2}, Triplet{1, 3, 1}.Values())
}

func TestWeighted(t *testing.T) {
	loss := Weighted(Term{Name: "R", Weight: 2, Value: 0.5}, Term{Name: "Q", Weight: 1, Value: 0.25})
	assert.Equal(t, 1.25, loss)
	assert.Equal(t, 2.0, MeanLoss([]float64{1, 3}))
	assert.Equal(t, 0.0, MeanLoss(nil))
}
