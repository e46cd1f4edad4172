// Package sqlstore provides the durable SQL storage backend. It supports
// SQLite and PostgreSQL through GORM from one codebase, the same way for
// a single process and for the cluster-shared registry: a backend built
// from a URL here is byte-for-byte the backend a direct caller would get
// from the same URL.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/gridstore/pkg/study"
)

// createTrialAttempts bounds retries when two writers race for the same
// trial number and one loses on the unique (study_id, number) index.
const createTrialAttempts = 5

// Storage is a study.Storage backed by a SQL database via GORM.
type Storage struct {
	db *gorm.DB
}

var _ study.Storage = (*Storage)(nil)

// NewSQLite opens (creating if needed) a SQLite-backed storage at path.
func NewSQLite(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	st, err := Open(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}

	// SQLite permits one writer at a time, and busy_timeout does not
	// cover the read-to-write upgrade of a deferred transaction, which
	// fails with SQLITE_BUSY right away. A single pooled connection makes
	// concurrent writers queue on the pool instead.
	sqlDB, err := st.db.DB()
	if err != nil {
		return nil, fmt.Errorf("configure connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return st, nil
}

// NewPostgres opens a PostgreSQL-backed storage from a connection string.
func NewPostgres(dsn string) (*Storage, error) {
	return Open(postgres.Open(dsn))
}

// Open connects through the given GORM dialector and migrates the schema.
func Open(dialector gorm.Dialector) (*Storage, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(&studyModel{}, &trialModel{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// DB exposes the underlying GORM handle for backend-specific introspection.
func (s *Storage) DB() *gorm.DB { return s.db }

// Close implements study.Storage.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateStudy implements study.Storage.
func (s *Storage) CreateStudy(ctx context.Context, name string, directions []study.Direction) (int64, error) {
	if name == "" {
		name = "study-" + uuid.NewString()
	}
	if len(directions) == 0 {
		directions = []study.Direction{study.DirectionMinimize}
	}
	dirs, err := marshalJSON(directions)
	if err != nil {
		return 0, err
	}

	model := studyModel{
		Name:        name,
		Directions:  dirs,
		UserAttrs:   "{}",
		SystemAttrs: "{}",
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, fmt.Errorf("study %q: %w", name, study.ErrStudyExists)
		}
		return 0, fmt.Errorf("create study: %w", err)
	}
	return model.ID, nil
}

// DeleteStudy implements study.Storage.
func (s *Storage) DeleteStudy(ctx context.Context, studyID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getStudy(tx, studyID); err != nil {
			return err
		}
		if err := tx.Where("study_id = ?", studyID).Delete(&trialModel{}).Error; err != nil {
			return fmt.Errorf("delete trials: %w", err)
		}
		if err := tx.Delete(&studyModel{}, studyID).Error; err != nil {
			return fmt.Errorf("delete study: %w", err)
		}
		return nil
	})
}

// StudyIDFromName implements study.Storage.
func (s *Storage) StudyIDFromName(ctx context.Context, name string) (int64, error) {
	var model studyModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("study %q: %w", name, study.ErrStudyNotFound)
		}
		return 0, err
	}
	return model.ID, nil
}

// StudyNameFromID implements study.Storage.
func (s *Storage) StudyNameFromID(ctx context.Context, studyID int64) (string, error) {
	model, err := getStudy(s.db.WithContext(ctx), studyID)
	if err != nil {
		return "", err
	}
	return model.Name, nil
}

// StudyDirections implements study.Storage.
func (s *Storage) StudyDirections(ctx context.Context, studyID int64) ([]study.Direction, error) {
	model, err := getStudy(s.db.WithContext(ctx), studyID)
	if err != nil {
		return nil, err
	}
	return model.directions()
}

// SetStudyUserAttr implements study.Storage.
func (s *Storage) SetStudyUserAttr(ctx context.Context, studyID int64, key string, value any) error {
	return s.setStudyAttr(ctx, studyID, key, value, "user_attrs")
}

// SetStudySystemAttr implements study.Storage.
func (s *Storage) SetStudySystemAttr(ctx context.Context, studyID int64, key string, value any) error {
	return s.setStudyAttr(ctx, studyID, key, value, "system_attrs")
}

// setStudyAttr merges one key into a study's JSON attr column inside a
// transaction with a row lock, so concurrent writers to different keys do
// not lose each other's updates.
func (s *Storage) setStudyAttr(ctx context.Context, studyID int64, key string, value any, column string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model studyModel
		if err := lockForUpdate(tx).First(&model, studyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
			}
			return err
		}

		raw := model.UserAttrs
		if column == "system_attrs" {
			raw = model.SystemAttrs
		}
		attrs, err := unmarshalJSON[map[string]any](raw)
		if err != nil {
			return err
		}
		if attrs == nil {
			attrs = make(map[string]any)
		}
		attrs[key] = value
		merged, err := marshalJSON(attrs)
		if err != nil {
			return err
		}
		return tx.Model(&studyModel{}).Where("id = ?", studyID).Update(column, merged).Error
	})
}

// StudyUserAttrs implements study.Storage.
func (s *Storage) StudyUserAttrs(ctx context.Context, studyID int64) (map[string]any, error) {
	model, err := getStudy(s.db.WithContext(ctx), studyID)
	if err != nil {
		return nil, err
	}
	return unmarshalJSON[map[string]any](model.UserAttrs)
}

// StudySystemAttrs implements study.Storage.
func (s *Storage) StudySystemAttrs(ctx context.Context, studyID int64) (map[string]any, error) {
	model, err := getStudy(s.db.WithContext(ctx), studyID)
	if err != nil {
		return nil, err
	}
	return unmarshalJSON[map[string]any](model.SystemAttrs)
}

// AllStudies implements study.Storage.
func (s *Storage) AllStudies(ctx context.Context) ([]study.StudySummary, error) {
	var models []studyModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}

	summaries := make([]study.StudySummary, 0, len(models))
	for i := range models {
		m := &models[i]
		dirs, err := m.directions()
		if err != nil {
			return nil, err
		}
		userAttrs, err := unmarshalJSON[map[string]any](m.UserAttrs)
		if err != nil {
			return nil, err
		}
		systemAttrs, err := unmarshalJSON[map[string]any](m.SystemAttrs)
		if err != nil {
			return nil, err
		}
		var n int64
		if err := s.db.WithContext(ctx).Model(&trialModel{}).Where("study_id = ?", m.ID).Count(&n).Error; err != nil {
			return nil, err
		}
		summaries = append(summaries, study.StudySummary{
			ID:          m.ID,
			Name:        m.Name,
			Directions:  dirs,
			UserAttrs:   userAttrs,
			SystemAttrs: systemAttrs,
			NTrials:     int(n),
		})
	}
	return summaries, nil
}

// CreateTrial implements study.Storage.
func (s *Storage) CreateTrial(ctx context.Context, studyID int64) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < createTrialAttempts; attempt++ {
		id, err := s.tryCreateTrial(ctx, studyID)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, err
		}
		// Lost the number race to a concurrent writer; pick a new number.
		lastErr = err
	}
	return 0, fmt.Errorf("create trial: %w", lastErr)
}

func (s *Storage) tryCreateTrial(ctx context.Context, studyID int64) (int64, error) {
	var trialID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getStudy(tx, studyID); err != nil {
			return err
		}

		var next int
		row := tx.Model(&trialModel{}).
			Where("study_id = ?", studyID).
			Select("COALESCE(MAX(number), -1) + 1")
		if err := row.Scan(&next).Error; err != nil {
			return fmt.Errorf("next trial number: %w", err)
		}

		now := time.Now().UTC()
		model := trialModel{
			StudyID:            studyID,
			Number:             next,
			State:              string(study.TrialStateRunning),
			Values:             "[]",
			Params:             "{}",
			Distributions:      "{}",
			UserAttrs:          "{}",
			SystemAttrs:        "{}",
			IntermediateValues: "{}",
			DatetimeStart:      &now,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		trialID = model.ID
		return nil
	})
	return trialID, err
}

// Trial implements study.Storage.
func (s *Storage) Trial(ctx context.Context, trialID int64) (study.FrozenTrial, error) {
	var model trialModel
	if err := s.db.WithContext(ctx).First(&model, trialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return study.FrozenTrial{}, fmt.Errorf("trial %d: %w", trialID, study.ErrTrialNotFound)
		}
		return study.FrozenTrial{}, err
	}
	return model.toFrozen()
}

// AllTrials implements study.Storage.
func (s *Storage) AllTrials(ctx context.Context, studyID int64) ([]study.FrozenTrial, error) {
	if _, err := getStudy(s.db.WithContext(ctx), studyID); err != nil {
		return nil, err
	}

	var models []trialModel
	if err := s.db.WithContext(ctx).Where("study_id = ?", studyID).Order("number").Find(&models).Error; err != nil {
		return nil, err
	}
	trials := make([]study.FrozenTrial, 0, len(models))
	for i := range models {
		trial, err := models[i].toFrozen()
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)
	}
	return trials, nil
}

// NTrials implements study.Storage.
func (s *Storage) NTrials(ctx context.Context, studyID int64) (int, error) {
	if _, err := getStudy(s.db.WithContext(ctx), studyID); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&trialModel{}).Where("study_id = ?", studyID).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// BestTrial implements study.Storage.
func (s *Storage) BestTrial(ctx context.Context, studyID int64) (study.FrozenTrial, error) {
	directions, err := s.StudyDirections(ctx, studyID)
	if err != nil {
		return study.FrozenTrial{}, err
	}
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
func (s *Storage) SetTrialParam(ctx context.Context, trialID int64, name string, value float64, dist study.Distribution) error {
	return s.updateTrial(ctx, trialID, func(model *trialModel) error {
		params, err := unmarshalJSON[map[string]float64](model.Params)
		if err != nil {
			return err
		}
		if params == nil {
			params = make(map[string]float64)
		}
		params[name] = value
		if model.Params, err = marshalJSON(params); err != nil {
			return err
		}

		dists, err := unmarshalJSON[map[string]study.Distribution](model.Distributions)
		if err != nil {
			return err
		}
		if dists == nil {
			dists = make(map[string]study.Distribution)
		}
		dists[name] = dist
		model.Distributions, err = marshalJSON(dists)
		return err
	})
}

// SetTrialStateValues implements study.Storage.
func (s *Storage) SetTrialStateValues(ctx context.Context, trialID int64, state study.TrialState, values []float64) error {
	if !state.Valid() {
		return fmt.Errorf("trial state %q: %w", state, study.ErrInvalidArgument)
	}
	return s.updateTrial(ctx, trialID, func(model *trialModel) error {
		model.State = string(state)
		if values != nil {
			v, err := marshalJSON(values)
			if err != nil {
				return err
			}
			model.Values = v
		}
		if state.Finished() {
			now := time.Now().UTC()
			model.DatetimeComplete = &now
		}
		return nil
	})
}

// SetTrialIntermediateValue implements study.Storage.
func (s *Storage) SetTrialIntermediateValue(ctx context.Context, trialID int64, step int, value float64) error {
	return s.updateTrial(ctx, trialID, func(model *trialModel) error {
		intermediate, err := unmarshalJSON[map[int]float64](model.IntermediateValues)
		if err != nil {
			return err
		}
		if intermediate == nil {
			intermediate = make(map[int]float64)
		}
		intermediate[step] = value
		model.IntermediateValues, err = marshalJSON(intermediate)
		return err
	})
}

// SetTrialUserAttr implements study.Storage.
func (s *Storage) SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error {
	return s.setTrialAttr(ctx, trialID, key, value, false)
}

// SetTrialSystemAttr implements study.Storage.
func (s *Storage) SetTrialSystemAttr(ctx context.Context, trialID int64, key string, value any) error {
	return s.setTrialAttr(ctx, trialID, key, value, true)
}

func (s *Storage) setTrialAttr(ctx context.Context, trialID int64, key string, value any, system bool) error {
	return s.updateTrial(ctx, trialID, func(model *trialModel) error {
		raw := model.UserAttrs
		if system {
			raw = model.SystemAttrs
		}
		attrs, err := unmarshalJSON[map[string]any](raw)
		if err != nil {
			return err
		}
		if attrs == nil {
			attrs = make(map[string]any)
		}
		attrs[key] = value
		merged, err := marshalJSON(attrs)
		if err != nil {
			return err
		}
		if system {
			model.SystemAttrs = merged
		} else {
			model.UserAttrs = merged
		}
		return nil
	})
}

// updateTrial applies fn to a trial row inside a transaction holding a row
// lock, enforcing finished-trial immutability.
func (s *Storage) updateTrial(ctx context.Context, trialID int64, fn func(*trialModel) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model trialModel
		if err := lockForUpdate(tx).First(&model, trialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("trial %d: %w", trialID, study.ErrTrialNotFound)
			}
			return err
		}
		if study.TrialState(model.State).Finished() {
			return fmt.Errorf("trial %d: %w", trialID, study.ErrTrialFinished)
		}
		if err := fn(&model); err != nil {
			return err
		}
		return tx.Save(&model).Error
	})
}

// lockForUpdate adds SELECT ... FOR UPDATE on dialects that support it.
// SQLite rejects the clause; its writers are serialized by the database
// itself, so the transaction alone is enough there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func getStudy(db *gorm.DB, studyID int64) (*studyModel, error) {
	var model studyModel
	if err := db.First(&model, studyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("study %d: %w", studyID, study.ErrStudyNotFound)
		}
		return nil, err
	}
	return &model, nil
}
