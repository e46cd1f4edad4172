package study

import (
	"context"
	"fmt"
)

// Trial is the live handle passed to an Objective while it runs. Parameter
// suggestions and reports are written straight through to the study's
// Storage; the handle holds no state a crash could lose.
type Trial struct {
	id    int64
	study *Study
	ctx   context.Context
}

// ID returns the trial's storage id.
func (t *Trial) ID() int64 { return t.id }

// SuggestFloat draws a value for the named parameter uniformly from
// [low, high] and records it on the trial.
func (t *Trial) SuggestFloat(name string, low, high float64) (float64, error) {
	if low > high {
		return 0, fmt.Errorf("suggest %s: low %v greater than high %v", name, low, high)
	}

	dist := Distribution{Low: low, High: high}
	value := t.study.sampler.Sample(name, dist)
	if err := t.study.storage.SetTrialParam(t.ctx, t.id, name, value, dist); err != nil {
		return 0, fmt.Errorf("suggest %s: %w", name, err)
	}
	return value, nil
}

// Report records an intermediate objective value at the given step.
func (t *Trial) Report(step int, value float64) error {
	return t.study.storage.SetTrialIntermediateValue(t.ctx, t.id, step, value)
}

// SetUserAttr sets a caller-owned attribute on the trial.
func (t *Trial) SetUserAttr(key string, value any) error {
	return t.study.storage.SetTrialUserAttr(t.ctx, t.id, key, value)
}

// Frozen returns the trial's current stored record.
func (t *Trial) Frozen() (FrozenTrial, error) {
	return t.study.storage.Trial(t.ctx, t.id)
}
