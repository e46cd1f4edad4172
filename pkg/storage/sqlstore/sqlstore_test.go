package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridstore/pkg/study"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "gridstore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateStudyDuplicateName(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	_, err := st.CreateStudy(ctx, "foo", nil)
	require.NoError(t, err)

	_, err = st.CreateStudy(ctx, "foo", nil)
	assert.ErrorIs(t, err, study.ErrStudyExists)
}

func TestStudyRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	id, err := st.CreateStudy(ctx, "round-trip", []study.Direction{study.DirectionMaximize})
	require.NoError(t, err)

	gotID, err := st.StudyIDFromName(ctx, "round-trip")
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	name, err := st.StudyNameFromID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "round-trip", name)

	dirs, err := st.StudyDirections(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []study.Direction{study.DirectionMaximize}, dirs)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gridstore.db")

	st, err := NewSQLite(path)
	require.NoError(t, err)
	id, err := st.CreateStudy(ctx, "durable", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)
	require.NoError(t, st.SetTrialParam(ctx, tid, "x", 1.5, study.Distribution{Low: 0, High: 2}))
	require.NoError(t, st.SetTrialStateValues(ctx, tid, study.TrialStateComplete, []float64{0.25}))
	require.NoError(t, st.Close())

	st, err = NewSQLite(path)
	require.NoError(t, err)
	defer st.Close()

	gotID, err := st.StudyIDFromName(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	trial, err := st.Trial(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, study.TrialStateComplete, trial.State)
	assert.Equal(t, 1.5, trial.Params["x"])
	v, ok := trial.Value()
	require.True(t, ok)
	assert.Equal(t, 0.25, v)
}

func TestTrialNumbersAreDense(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

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
	st := newTestStorage(t)

	id, err := st.CreateStudy(ctx, "concurrent", nil)
	require.NoError(t, err)

	const n = 40
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

	for i, trial := range trials {
		assert.Equal(t, i, trial.Number)
	}
}

func TestConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	id, err := st.CreateStudy(ctx, "busy", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, st.SetStudyUserAttr(ctx, id, fmt.Sprintf("k%d", i), i))
			assert.NoError(t, st.SetTrialIntermediateValue(ctx, tid, i, float64(i)))
		}()
	}
	wg.Wait()

	attrs, err := st.StudyUserAttrs(ctx, id)
	require.NoError(t, err)
	assert.Len(t, attrs, n)

	trial, err := st.Trial(ctx, tid)
	require.NoError(t, err)
	assert.Len(t, trial.IntermediateValues, n)
}

func TestFinishedTrialIsImmutable(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)

	require.NoError(t, st.SetTrialStateValues(ctx, tid, study.TrialStatePruned, nil))

	err = st.SetTrialParam(ctx, tid, "x", 1, study.Distribution{Low: 0, High: 1})
	assert.ErrorIs(t, err, study.ErrTrialFinished)
	err = st.SetTrialIntermediateValue(ctx, tid, 0, 1.0)
	assert.ErrorIs(t, err, study.ErrTrialFinished)
}

func TestStudyAttrsMerge(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)

	require.NoError(t, st.SetStudyUserAttr(ctx, id, "a", "1"))
	require.NoError(t, st.SetStudyUserAttr(ctx, id, "b", 2.0))
	require.NoError(t, st.SetStudyUserAttr(ctx, id, "a", "overwritten"))

	attrs, err := st.StudyUserAttrs(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "overwritten", attrs["a"])
	assert.Equal(t, 2.0, attrs["b"])
}

func TestTrialIntermediateValues(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)

	require.NoError(t, st.SetTrialIntermediateValue(ctx, tid, 0, 10.0))
	require.NoError(t, st.SetTrialIntermediateValue(ctx, tid, 1, 5.0))

	trial, err := st.Trial(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 10.0, 1: 5.0}, trial.IntermediateValues)
}

func TestBestTrial(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	id, err := st.CreateStudy(ctx, "s", nil)
	require.NoError(t, err)

	_, err = st.BestTrial(ctx, id)
	assert.ErrorIs(t, err, study.ErrNoCompletedTrials)

	for _, v := range []float64{3.0, 1.0, 2.0} {
		tid, err := st.CreateTrial(ctx, id)
		require.NoError(t, err)
		require.NoError(t, st.SetTrialStateValues(ctx, tid, study.TrialStateComplete, []float64{v}))
	}

	best, err := st.BestTrial(ctx, id)
	require.NoError(t, err)
	v, ok := best.Value()
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestDeleteStudy(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	id, err := st.CreateStudy(ctx, "doomed", nil)
	require.NoError(t, err)
	tid, err := st.CreateTrial(ctx, id)
	require.NoError(t, err)

	require.NoError(t, st.DeleteStudy(ctx, id))

	_, err = st.StudyIDFromName(ctx, "doomed")
	assert.ErrorIs(t, err, study.ErrStudyNotFound)
	_, err = st.Trial(ctx, tid)
	assert.ErrorIs(t, err, study.ErrTrialNotFound)
}

func TestAllStudies(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	_, err := st.CreateStudy(ctx, "a", nil)
	require.NoError(t, err)
	idB, err := st.CreateStudy(ctx, "b", nil)
	require.NoError(t, err)
	_, err = st.CreateTrial(ctx, idB)
	require.NoError(t, err)

	summaries, err := st.AllStudies(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "a", summaries[0].Name)
	assert.Equal(t, 0, summaries[0].NTrials)
	assert.Equal(t, "b", summaries[1].Name)
	assert.Equal(t, 1, summaries[1].NTrials)
}
