// Package study defines the optimization-study storage contract: the core
// entities (studies, trials, parameter distributions) and the Storage
// interface every backend implements. It also provides a small Study/Trial
// façade so optimization loops can run against any Storage, local or
// cluster-shared.
package study

import (
	"time"
)

// Direction is the optimization goal of a study objective.
type Direction string

const (
	DirectionMinimize Direction = "minimize"
	DirectionMaximize Direction = "maximize"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionMinimize || d == DirectionMaximize
}

// TrialState is the lifecycle state of a trial.
type TrialState string

const (
	TrialStateRunning  TrialState = "running"
	TrialStateWaiting  TrialState = "waiting"
	TrialStateComplete TrialState = "complete"
	TrialStatePruned   TrialState = "pruned"
	TrialStateFailed   TrialState = "failed"
)

// Finished reports whether the state is terminal. Finished trials are
// immutable; backends reject any further update with ErrTrialFinished.
func (s TrialState) Finished() bool {
	switch s {
	case TrialStateComplete, TrialStatePruned, TrialStateFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state.
func (s TrialState) Valid() bool {
	switch s {
	case TrialStateRunning, TrialStateWaiting, TrialStateComplete, TrialStatePruned, TrialStateFailed:
		return true
	default:
		return false
	}
}

// Distribution describes the search range a float parameter was sampled
// from. Step and Log refine the range; zero values mean a plain continuous
// uniform range.
type Distribution struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
	Step float64 `json:"step,omitempty"`
	Log  bool    `json:"log,omitempty"`
}

// Contains reports whether v lies inside the distribution's range.
func (d Distribution) Contains(v float64) bool {
	return v >= d.Low && v <= d.High
}

// FrozenTrial is the immutable record of a trial as stored by a backend.
type FrozenTrial struct {
	ID                 int64                   `json:"id"`
	Number             int                     `json:"number"`
	StudyID            int64                   `json:"study_id"`
	State              TrialState              `json:"state"`
	Values             []float64               `json:"values,omitempty"`
	Params             map[string]float64      `json:"params,omitempty"`
	Distributions      map[string]Distribution `json:"distributions,omitempty"`
	UserAttrs          map[string]any          `json:"user_attrs,omitempty"`
	SystemAttrs        map[string]any          `json:"system_attrs,omitempty"`
	IntermediateValues map[int]float64         `json:"intermediate_values,omitempty"`
	DatetimeStart      *time.Time              `json:"datetime_start,omitempty"`
	DatetimeComplete   *time.Time              `json:"datetime_complete,omitempty"`
}

// Value returns the single objective value of a completed trial.
// The second return is false when the trial has no recorded values.
func (t *FrozenTrial) Value() (float64, bool) {
	if len(t.Values) == 0 {
		return 0, false
	}
	return t.Values[0], true
}

// StudySummary is the per-study record returned by Storage.AllStudies.
type StudySummary struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Directions  []Direction    `json:"directions"`
	UserAttrs   map[string]any `json:"user_attrs,omitempty"`
	SystemAttrs map[string]any `json:"system_attrs,omitempty"`
	NTrials     int            `json:"n_trials"`
}
