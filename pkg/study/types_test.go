package study

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrialStateFinished(t *testing.T) {
	assert.False(t, TrialStateRunning.Finished())
	assert.False(t, TrialStateWaiting.Finished())
	assert.True(t, TrialStateComplete.Finished())
	assert.True(t, TrialStatePruned.Finished())
	assert.True(t, TrialStateFailed.Finished())
}

func TestDirectionValid(t *testing.T) {
	assert.True(t, DirectionMinimize.Valid())
	assert.True(t, DirectionMaximize.Valid())
	assert.False(t, Direction("sideways").Valid())
	assert.False(t, Direction("").Valid())
}

func TestDistributionContains(t *testing.T) {
	d := Distribution{Low: -10, High: 10}
	assert.True(t, d.Contains(0))
	assert.True(t, d.Contains(-10))
	assert.True(t, d.Contains(10))
	assert.False(t, d.Contains(10.001))
	assert.False(t, d.Contains(-11))
}

func TestFrozenTrialValue(t *testing.T) {
	trial := FrozenTrial{}
	_, ok := trial.Value()
	assert.False(t, ok)

	trial.Values = []float64{1.5, 2.5}
	v, ok := trial.Value()
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestBestOf(t *testing.T) {
	trials := []FrozenTrial{
		{ID: 1, State: TrialStateComplete, Values: []float64{3.0}},
		{ID: 2, State: TrialStateComplete, Values: []float64{1.0}},
		{ID: 3, State: TrialStateRunning},
		{ID: 4, State: TrialStateFailed, Values: []float64{-5.0}},
		{ID: 5, State: TrialStateComplete, Values: []float64{2.0}},
	}

	best, err := BestOf(trials, DirectionMinimize)
	require.NoError(t, err)
	assert.Equal(t, int64(2), best.ID)

	best, err = BestOf(trials, DirectionMaximize)
	require.NoError(t, err)
	assert.Equal(t, int64(1), best.ID)
}

func TestBestOfNoCompleted(t *testing.T) {
	trials := []FrozenTrial{
		{ID: 1, State: TrialStateRunning},
		{ID: 2, State: TrialStateFailed},
	}
	_, err := BestOf(trials, DirectionMinimize)
	assert.ErrorIs(t, err, ErrNoCompletedTrials)

	_, err = BestOf(nil, DirectionMinimize)
	assert.ErrorIs(t, err, ErrNoCompletedTrials)
}

func TestRandomSamplerRange(t *testing.T) {
	sampler := NewRandomSampler(42)
	dist := Distribution{Low: -10, High: 10}
	for range 1000 {
		v := sampler.Sample("x", dist)
		require.True(t, dist.Contains(v), "sampled %v outside [-10, 10]", v)
	}
}

func TestRandomSamplerReproducible(t *testing.T) {
	a := NewRandomSampler(7)
	b := NewRandomSampler(7)
	dist := Distribution{Low: 0, High: 1}
	for range 10 {
		assert.Equal(t, a.Sample("x", dist), b.Sample("x", dist))
	}
}
