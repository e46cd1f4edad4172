package study

import (
	"context"
	"errors"
)

// Sentinel errors shared by all Storage implementations. Backends return
// these (possibly wrapped) so callers can classify failures with errors.Is
// regardless of which backend, or which side of the cluster transport,
// produced them.
var (
	// ErrStudyExists is returned when creating a study whose name is taken.
	ErrStudyExists = errors.New("study already exists")

	// ErrStudyNotFound is returned when a study id or name is unknown.
	ErrStudyNotFound = errors.New("study not found")

	// ErrTrialNotFound is returned when a trial id is unknown.
	ErrTrialNotFound = errors.New("trial not found")

	// ErrTrialFinished is returned on any update to a trial in a terminal
	// state.
	ErrTrialFinished = errors.New("trial is already finished")

	// ErrNoCompletedTrials is returned by BestTrial when the study has no
	// completed trial yet.
	ErrNoCompletedTrials = errors.New("study has no completed trials")

	// ErrMultiObjective is returned by BestTrial on studies with more than
	// one direction.
	ErrMultiObjective = errors.New("best trial is not defined for multi-objective studies")

	// ErrInvalidArgument is returned for malformed inputs the backend
	// rejects before touching any state, such as an unknown trial state.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Storage is the full optimization-study storage contract.
//
// Implementations must provide per-study atomicity: concurrent trial
// creation against one study yields dense, unique trial numbers, and
// concurrent updates to distinct trials never interfere. Finished trials
// are immutable.
//
// All methods take a context and block until the backend answers; none of
// them retry internally.
type Storage interface {
	// CreateStudy registers a new study and returns its id. An empty name
	// requests a generated unique name. A taken name fails with
	// ErrStudyExists. Passing no directions defaults to a single
	// minimization objective.
	CreateStudy(ctx context.Context, name string, directions []Direction) (int64, error)

	// DeleteStudy removes a study and all of its trials.
	DeleteStudy(ctx context.Context, studyID int64) error

	// StudyIDFromName resolves a study name to its id.
	StudyIDFromName(ctx context.Context, name string) (int64, error)

	// StudyNameFromID resolves a study id to its name.
	StudyNameFromID(ctx context.Context, studyID int64) (string, error)

	// StudyDirections returns the study's optimization directions.
	StudyDirections(ctx context.Context, studyID int64) ([]Direction, error)

	// SetStudyUserAttr sets a caller-owned study attribute.
	SetStudyUserAttr(ctx context.Context, studyID int64, key string, value any) error

	// SetStudySystemAttr sets a framework-owned study attribute.
	SetStudySystemAttr(ctx context.Context, studyID int64, key string, value any) error

	// StudyUserAttrs returns all caller-owned study attributes.
	StudyUserAttrs(ctx context.Context, studyID int64) (map[string]any, error)

	// StudySystemAttrs returns all framework-owned study attributes.
	StudySystemAttrs(ctx context.Context, studyID int64) (map[string]any, error)

	// AllStudies enumerates every stored study.
	AllStudies(ctx context.Context) ([]StudySummary, error)

	// CreateTrial adds a new running trial to a study and returns its id.
	// Trial numbers are assigned densely per study starting at zero.
	CreateTrial(ctx context.Context, studyID int64) (int64, error)

	// Trial returns the frozen record of one trial.
	Trial(ctx context.Context, trialID int64) (FrozenTrial, error)

	// AllTrials returns every trial of a study ordered by number.
	AllTrials(ctx context.Context, studyID int64) ([]FrozenTrial, error)

	// NTrials returns the number of trials recorded for a study.
	NTrials(ctx context.Context, studyID int64) (int, error)

	// BestTrial returns the completed trial with the best value according
	// to the study's single direction.
	BestTrial(ctx context.Context, studyID int64) (FrozenTrial, error)

	// SetTrialParam records a sampled parameter and its distribution.
	SetTrialParam(ctx context.Context, trialID int64, name string, value float64, dist Distribution) error

	// SetTrialStateValues transitions a trial's state, recording objective
	// values for terminal states.
	SetTrialStateValues(ctx context.Context, trialID int64, state TrialState, values []float64) error

	// SetTrialIntermediateValue records a mid-trial objective observation
	// at the given step.
	SetTrialIntermediateValue(ctx context.Context, trialID int64, step int, value float64) error

	// SetTrialUserAttr sets a caller-owned trial attribute.
	SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error

	// SetTrialSystemAttr sets a framework-owned trial attribute.
	SetTrialSystemAttr(ctx context.Context, trialID int64, key string, value any) error

	// Close releases backend resources. Closing never affects stored data
	// for durable backends.
	Close() error
}

// BestOf picks the best completed trial from trials for the given
// direction. Shared by backends so BestTrial semantics cannot drift
// between implementations.
func BestOf(trials []FrozenTrial, direction Direction) (FrozenTrial, error) {
	var best FrozenTrial
	found := false
	for _, t := range trials {
		if t.State != TrialStateComplete {
			continue
		}
		v, ok := t.Value()
		if !ok {
			continue
		}
		if !found {
			best = t
			found = true
			continue
		}
		bv, _ := best.Value()
		if direction == DirectionMaximize {
			if v > bv {
				best = t
			}
		} else if v < bv {
			best = t
		}
	}
	if !found {
		return FrozenTrial{}, ErrNoCompletedTrials
	}
	return best, nil
}
