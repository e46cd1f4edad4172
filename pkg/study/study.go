package study

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/gridstore/internal/logger"
)

// Study is a client-side handle onto one stored study. It owns no trial
// data itself; every read and write goes through the underlying Storage,
// so multiple handles in multiple processes can drive the same study.
type Study struct {
	id         int64
	name       string
	directions []Direction
	storage    Storage
	sampler    Sampler
}

// Objective computes one trial's objective value. Implementations call
// trial.SuggestFloat to draw parameters and may call trial.Report for
// intermediate values.
type Objective func(t *Trial) (float64, error)

// Create registers a new study on storage and returns a handle to it.
// With no directions the study minimizes a single objective.
func Create(ctx context.Context, storage Storage, name string, directions ...Direction) (*Study, error) {
	if len(directions) == 0 {
		directions = []Direction{DirectionMinimize}
	}
	for _, d := range directions {
		if !d.Valid() {
			return nil, fmt.Errorf("invalid direction %q", d)
		}
	}

	id, err := storage.CreateStudy(ctx, name, directions)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if name, err = storage.StudyNameFromID(ctx, id); err != nil {
			return nil, err
		}
	}

	return &Study{
		id:         id,
		name:       name,
		directions: directions,
		storage:    storage,
		sampler:    NewRandomSampler(uint64(id) + 1),
	}, nil
}

// Load returns a handle onto an existing study by name.
func Load(ctx context.Context, storage Storage, name string) (*Study, error) {
	id, err := storage.StudyIDFromName(ctx, name)
	if err != nil {
		return nil, err
	}
	directions, err := storage.StudyDirections(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Study{
		id:         id,
		name:       name,
		directions: directions,
		storage:    storage,
		sampler:    NewRandomSampler(uint64(id) + 1),
	}, nil
}

// ID returns the study's storage id.
func (s *Study) ID() int64 { return s.id }

// Name returns the study's name.
func (s *Study) Name() string { return s.name }

// Directions returns the study's optimization directions.
func (s *Study) Directions() []Direction { return s.directions }

// Storage returns the Storage the handle operates on.
func (s *Study) Storage() Storage { return s.storage }

// SetSampler replaces the sampler used by Optimize. Must be called before
// Optimize starts.
func (s *Study) SetSampler(sampler Sampler) { s.sampler = sampler }

// SetUserAttr sets a caller-owned attribute on the study.
func (s *Study) SetUserAttr(ctx context.Context, key string, value any) error {
	return s.storage.SetStudyUserAttr(ctx, s.id, key, value)
}

// Trials returns all trials of the study ordered by number.
func (s *Study) Trials(ctx context.Context) ([]FrozenTrial, error) {
	return s.storage.AllTrials(ctx, s.id)
}

// BestTrial returns the completed trial with the best objective value.
func (s *Study) BestTrial(ctx context.Context) (FrozenTrial, error) {
	return s.storage.BestTrial(ctx, s.id)
}

// Optimize runs objective for nTrials trials using nWorkers concurrent
// workers. Each worker claims trials from a shared budget, so exactly
// nTrials trials are created regardless of worker count. A failing
// objective marks its trial failed and stops the run; already-claimed
// trials on other workers finish first.
func (s *Study) Optimize(ctx context.Context, objective Objective, nTrials, nWorkers int) error {
	if nWorkers <= 0 {
		nWorkers = 1
	}

	var remaining atomic.Int64
	remaining.Store(int64(nTrials))

	g, ctx := errgroup.WithContext(ctx)
	for range nWorkers {
		g.Go(func() error {
			for remaining.Add(-1) >= 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := s.runTrial(ctx, objective); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Study) runTrial(ctx context.Context, objective Objective) error {
	trialID, err := s.storage.CreateTrial(ctx, s.id)
	if err != nil {
		return fmt.Errorf("create trial: %w", err)
	}

	trial := &Trial{id: trialID, study: s, ctx: ctx}
	value, objErr := objective(trial)
	if objErr != nil {
		if err := s.storage.SetTrialStateValues(ctx, trialID, TrialStateFailed, nil); err != nil {
			logger.Error("failed to mark trial failed", logger.TrialID(trialID), logger.Err(err))
		}
		return fmt.Errorf("trial %d failed: %w", trialID, objErr)
	}

	if err := s.storage.SetTrialStateValues(ctx, trialID, TrialStateComplete, []float64{value}); err != nil {
		return fmt.Errorf("complete trial %d: %w", trialID, err)
	}
	logger.Debug("trial complete", "study", s.name, logger.TrialID(trialID), "value", value)
	return nil
}
