package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridstore/pkg/study"
)

func TestCreateStudyDuplicateName(t *testing.T) {
	ctx := context.Background()
	st := New()

	_, err := st.CreateStudy(ctx, "foo", nil)
	require.NoError(t, err)

	_, err = st.CreateStudy(ctx, "foo", nil)
	assert.ErrorIs(t, err, study.ErrStudyExists)
}

func TestCreateStudyDefaults(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "", nil)
	require.NoError(t, err)

	name, err := st.StudyNameFromID(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	dirs, err := st.StudyDirections(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []study.Direction{study.DirectionMinimize}, dirs)
}

func TestStudyLookupErrors(t *testing.T) {
	ctx := context.Background()
	st := New()

	_, err := st.StudyIDFromName(ctx, "missing")
	assert.ErrorIs(t, err, study.ErrStudyNotFound)

	_, err = st.StudyNameFromID(ctx, 999)
	assert.ErrorIs(t, err, study.ErrStudyNotFound)

	_, err = st.CreateTrial(ctx, 999)
	assert.ErrorIs(t, err, study.ErrStudyNotFound)

	_, err = st.Trial(ctx, 999)
	assert.ErrorIs(t, err, study.ErrTrialNotFound)
}

func TestTrialNumbersAreDense(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)

	for i := range 5 {
		tid, err := st.CreateTrial(ctx, id)
		require.NoError(t, err)
		trial, err := st.Trial(ctx, tid)
		require.NoError(t, err)
		assert.Equal(t, i, trial.Number)
	}
}

func TestConcurrentCreateTrial(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "concurrent", nil)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CreateTrial(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	trials, err := st.AllTrials(ctx, id)
	require.NoError(t, err)
	require.Len(t, trials, n)

	seen := make(map[int]bool, n)
	for _, trial := range trials {
		assert.False(t, seen[trial.Number], "duplicate trial number %d", trial.Number)
		seen[trial.Number] = true
	}
}

func TestFinishedTrialIsImmutable(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)

	require.NoError(t, st.SetTrialStateValues(ctx, tid, study.TrialStateComplete, []float64{1.0}))

	err = st.SetTrialParam(ctx, tid, "x", 1, study.Distribution{Low: 0, High: 1})
	assert.ErrorIs(t, err, study.ErrTrialFinished)
	err = st.SetTrialUserAttr(ctx, tid, "k", "v")
	assert.ErrorIs(t, err, study.ErrTrialFinished)
	err = st.SetTrialStateValues(ctx, tid, study.TrialStateFailed, nil)
	assert.ErrorIs(t, err, study.ErrTrialFinished)

	trial, err := st.Trial(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, study.TrialStateComplete, trial.State)
	assert.NotNil(t, trial.DatetimeComplete)
}

func TestSetTrialStateValuesInvalidState(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)

	err = st.SetTrialStateValues(ctx, tid, study.TrialState("bogus"), nil)
	assert.ErrorIs(t, err, study.ErrInvalidArgument)
}

func TestStudyAndTrialAttrs(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)

	require.NoError(t, st.SetStudyUserAttr(ctx, id, "owner", "alice"))
	require.NoError(t, st.SetStudySystemAttr(ctx, id, "sampler", "random"))

	userAttrs, err := st.StudyUserAttrs(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", userAttrs["owner"])

	systemAttrs, err := st.StudySystemAttrs(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "random", systemAttrs["sampler"])

	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)
	require.NoError(t, st.SetTrialSystemAttr(ctx, tid, "retries", 0))
	trial, err := st.Trial(ctx, tid)
	require.NoError(t, err)
	assert.Len(t, trial.SystemAttrs, 1)
}

func TestBestTrial(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "s", []study.Direction{study.DirectionMaximize})
	require.NoError(t, err)

	for _, v := range []float64{1.0, 5.0, 3.0} {
		tid, err := st.CreateTrial(ctx, id)
		require.NoError(t, err)
		require.NoError(t, st.SetTrialStateValues(ctx, tid, study.TrialStateComplete, []float64{v}))
	}

	best, err := st.BestTrial(ctx, id)
	require.NoError(t, err)
	v, ok := best.Value()
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
}

func TestBestTrialMultiObjective(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "multi", []study.Direction{study.DirectionMinimize, study.DirectionMaximize})
	require.NoError(t, err)

	_, err = st.BestTrial(ctx, id)
	assert.ErrorIs(t, err, study.ErrMultiObjective)
}

func TestDeleteStudy(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "doomed", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)

	require.NoError(t, st.DeleteStudy(ctx, id))

	_, err = st.StudyIDFromName(ctx, "doomed")
	assert.ErrorIs(t, err, study.ErrStudyNotFound)
	_, err = st.Trial(ctx, tid)
	assert.ErrorIs(t, err, study.ErrTrialNotFound)

	assert.ErrorIs(t, st.DeleteStudy(ctx, id), study.ErrStudyNotFound)
}

func TestDistinctInstancesShareNothing(t *testing.T) {
	ctx := context.Background()
	a, b := New(), New()

	_, err := a.CreateStudy(ctx, "only-in-a", nil)
	require.NoError(t, err)

	_, err = b.StudyIDFromName(ctx, "only-in-a")
	assert.ErrorIs(t, err, study.ErrStudyNotFound)
}

func TestReturnedTrialIsACopy(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)
	require.NoError(t, st.SetTrialParam(ctx, tid, "x", 1.0, study.Distribution{Low: 0, High: 2}))

	trial, err := st.Trial(ctx, tid)
	require.NoError(t, err)
	trial.Params["x"] = 99.0

	again, err := st.Trial(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Params["x"])
}

func TestAllStudies(t *testing.T) {
	ctx := context.Background()
	st := New()

	_, err := st.CreateStudy(ctx, "a", nil)
	require.NoError(t, err)
	idB, err := st.CreateStudy(ctx, "b", nil)
	require.NoError(t, err)
	_, err = st.CreateTrial(ctx, idB)
	require.NoError(t, err)

	summaries, err := st.AllStudies(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byName := make(map[string]study.StudySummary)
	for _, s := range summaries {
		byName[s.Name] = s
	}
	assert.Equal(t, 0, byName["a"].NTrials)
	assert.Equal(t, 1, byName["b"].NTrials)
}
