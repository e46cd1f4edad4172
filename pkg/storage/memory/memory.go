// Package memory provides the ephemeral in-process storage backend.
// Distinct instances never share data; everything is lost when the owning
// process exits.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/gridstore/pkg/study"
)

type studyRecord struct {
	id          int64
	name        string
	directions  []study.Direction
	userAttrs   map[string]any
	systemAttrs map[string]any
	trialIDs    []int64
}

// Storage is a map-backed study.Storage. A single mutex guards all state,
// which gives it stronger atomicity than the contract requires.
type Storage struct {
	mu          sync.RWMutex
	studies     map[int64]*studyRecord
	studyByName map[string]int64
	trials      map[int64]*study.FrozenTrial
	nextStudyID int64
	nextTrialID int64
}

var _ study.Storage = (*Storage)(nil)

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{
		studies:     make(map[int64]*studyRecord),
		studyByName: make(map[string]int64),
		trials:      make(map[int64]*study.FrozenTrial),
	}
}

// CreateStudy implements study.Storage.
func (s *Storage) CreateStudy(_ context.Context, name string, directions []study.Direction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = "study-" + uuid.NewString()
	}
	if _, exists := s.studyByName[name]; exists {
		return 0, fmt.Errorf("study %q: %w", name, study.ErrStudyExists)
	}
	if len(directions) == 0 {
		directions = []study.Direction{study.DirectionMinimize}
	}

	s.nextStudyID++
	rec := &studyRecord{
		id:          s.nextStudyID,
		name:        name,
		directions:  append([]study.Direction(nil), directions...),
		userAttrs:   make(map[string]any),
		systemAttrs: make(map[string]any),
	}
	s.studies[rec.id] = rec
	s.studyByName[name] = rec.id
	return rec.id, nil
}

// DeleteStudy implements study.Storage.
func (s *Storage) DeleteStudy(_ context.Context, studyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}
	for _, tid := range rec.trialIDs {
		delete(s.trials, tid)
	}
	delete(s.studyByName, rec.name)
	delete(s.studies, studyID)
	return nil
}

// StudyIDFromName implements study.Storage.
func (s *Storage) StudyIDFromName(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.studyByName[name]
	if !ok {
		return 0, fmt.Errorf("study %q: %w", name, study.ErrStudyNotFound)
	}
	return id, nil
}

// StudyNameFromID implements study.Storage.
func (s *Storage) StudyNameFromID(_ context.Context, studyID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return "", fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}
	return rec.name, nil
}

// StudyDirections implements study.Storage.
func (s *Storage) StudyDirections(_ context.Context, studyID int64) ([]study.Direction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return nil, fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}
	return append([]study.Direction(nil), rec.directions...), nil
}

// SetStudyUserAttr implements study.Storage.
func (s *Storage) SetStudyUserAttr(_ context.Context, studyID int64, key string, value any) error {
	return s.setStudyAttr(studyID, key, value, false)
}

// SetStudySystemAttr implements study.Storage.
func (s *Storage) SetStudySystemAttr(_ context.Context, studyID int64, key string, value any) error {
	return s.setStudyAttr(studyID, key, value, true)
}

func (s *Storage) setStudyAttr(studyID int64, key string, value any, system bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}
	if system {
		rec.systemAttrs[key] = value
	} else {
		rec.userAttrs[key] = value
	}
	return nil
}

// StudyUserAttrs implements study.Storage.
func (s *Storage) StudyUserAttrs(_ context.Context, studyID int64) (map[string]any, error) {
	return s.studyAttrs(studyID, false)
}

// StudySystemAttrs implements study.Storage.
func (s *Storage) StudySystemAttrs(_ context.Context, studyID int64) (map[string]any, error) {
	return s.studyAttrs(studyID, true)
}

func (s *Storage) studyAttrs(studyID int64, system bool) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return nil, fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}
	if system {
		return copyAttrs(rec.systemAttrs), nil
	}
	return copyAttrs(rec.userAttrs), nil
}

// AllStudies implements study.Storage.
func (s *Storage) AllStudies(_ context.Context) ([]study.StudySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]study.StudySummary, 0, len(s.studies))
	for _, rec := range s.studies {
		summaries = append(summaries, study.StudySummary{
			ID:          rec.id,
			Name:        rec.name,
			Directions:  append([]study.Direction(nil), rec.directions...),
			UserAttrs:   copyAttrs(rec.userAttrs),
			SystemAttrs: copyAttrs(rec.systemAttrs),
			NTrials:     len(rec.trialIDs),
		})
	}
	return summaries, nil
}

// CreateTrial implements study.Storage.
func (s *Storage) CreateTrial(_ context.Context, studyID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return 0, fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}

	s.nextTrialID++
	now := time.Now().UTC()
	trial := &study.FrozenTrial{
		ID:                 s.nextTrialID,
		Number:             len(rec.trialIDs),
		StudyID:            studyID,
		State:              study.TrialStateRunning,
		Params:             make(map[string]float64),
		Distributions:      make(map[string]study.Distribution),
		UserAttrs:          make(map[string]any),
		SystemAttrs:        make(map[string]any),
		IntermediateValues: make(map[int]float64),
		DatetimeStart:      &now,
	}
	s.trials[trial.ID] = trial
	rec.trialIDs = append(rec.trialIDs, trial.ID)
	return trial.ID, nil
}

// Trial implements study.Storage.
func (s *Storage) Trial(_ context.Context, trialID int64) (study.FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trial, ok := s.trials[trialID]
	if !ok {
		return study.FrozenTrial{}, fmt.Errorf("trial %d: %w", trialID, study.ErrTrialNotFound)
	}
	return copyTrial(trial), nil
}

// AllTrials implements study.Storage.
func (s *Storage) AllTrials(_ context.Context, studyID int64) ([]study.FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return nil, fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}
	trials := make([]study.FrozenTrial, 0, len(rec.trialIDs))
	for _, tid := range rec.trialIDs {
		trials = append(trials, copyTrial(s.trials[tid]))
	}
	return trials, nil
}

// NTrials implements study.Storage.
func (s *Storage) NTrials(_ context.Context, studyID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.studies[studyID]
	if !ok {
		return 0, fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}
	return len(rec.trialIDs), nil
}

// BestTrial implements study.Storage.
func (s *Storage) BestTrial(ctx context.Context, studyID int64) (study.FrozenTrial, error) {
	s.mu.RLock()
	rec, ok := s.studies[studyID]
	if !ok {
		s.mu.RUnlock()
		return study.FrozenTrial{}, fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
	}
	directions := append([]study.Direction(nil), rec.directions...)
	s.mu.RUnlock()

	if len(directions) > 1 {
		return study.FrozenTrial{}, study.ErrMultiObjective
	}
	trials, err := s.AllTrials(ctx, studyID)
	if err != nil {
		return study.FrozenTrial{}, err
	}
	return study.BestOf(trials, directions[0])
}

// SetTrialParam implements study.Storage.
func (s *Storage) SetTrialParam(_ context.Context, trialID int64, name string, value float64, dist study.Distribution) error {
	return s.updateTrial(trialID, func(t *study.FrozenTrial) error {
		t.Params[name] = value
		t.Distributions[name] = dist
		return nil
	})
}

// SetTrialStateValues implements study.Storage.
func (s *Storage) SetTrialStateValues(_ context.Context, trialID int64, state study.TrialState, values []float64) error {
	if !state.Valid() {
		return fmt.Errorf("trial state %q: %w", state, study.ErrInvalidArgument)
	}
	return s.updateTrial(trialID, func(t *study.FrozenTrial) error {
		t.State = state
		if values != nil {
			t.Values = append([]float64(nil), values...)
		}
		if state.Finished() {
			now := time.Now().UTC()
			t.DatetimeComplete = &now
		}
		return nil
	})
}

// SetTrialIntermediateValue implements study.Storage.
func (s *Storage) SetTrialIntermediateValue(_ context.Context, trialID int64, step int, value float64) error {
	return s.updateTrial(trialID, func(t *study.FrozenTrial) error {
		t.IntermediateValues[step] = value
		return nil
	})
}

// SetTrialUserAttr implements study.Storage.
func (s *Storage) SetTrialUserAttr(_ context.Context, trialID int64, key string, value any) error {
	return s.updateTrial(trialID, func(t *study.FrozenTrial) error {
		t.UserAttrs[key] = value
		return nil
	})
}

// SetTrialSystemAttr implements study.Storage.
func (s *Storage) SetTrialSystemAttr(_ context.Context, trialID int64, key string, value any) error {
	return s.updateTrial(trialID, func(t *study.FrozenTrial) error {
		t.SystemAttrs[key] = value
		return nil
	})
}

// updateTrial applies fn to a live trial under the write lock, enforcing
// finished-trial immutability.
func (s *Storage) updateTrial(trialID int64, fn func(*study.FrozenTrial) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trial, ok := s.trials[trialID]
	if !ok {
		return fmt.Errorf("trial %d: %w", trialID, study.ErrTrialNotFound)
	}
	if trial.State.Finished() {
		return fmt.Errorf("trial %d: %w", trialID, study.ErrTrialFinished)
	}
	return fn(trial)
}

// Close implements study.Storage. It is a no-op for the in-memory backend.
func (s *Storage) Close() error { return nil }

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func copyTrial(t *study.FrozenTrial) study.FrozenTrial {
	out := *t
	out.Values = append([]float64(nil), t.Values...)
	out.Params = make(map[string]float64, len(t.Params))
	for k, v := range t.Params {
		out.Params[k] = v
	}
	out.Distributions = make(map[string]study.Distribution, len(t.Distributions))
	for k, v := range t.Distributions {
		out.Distributions[k] = v
	}
	out.UserAttrs = copyAttrs(t.UserAttrs)
	out.SystemAttrs = copyAttrs(t.SystemAttrs)
	out.IntermediateValues = make(map[int]float64, len(t.IntermediateValues))
	for k, v := range t.IntermediateValues {
		out.IntermediateValues[k] = v
	}
	return out
}
