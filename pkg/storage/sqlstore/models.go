package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marmos91/gridstore/pkg/study"
)

// studyModel is the GORM model for studies. Directions and attributes are
// stored as JSON text columns; they are read and written whole, always
// inside a transaction, so no JSON operators are needed and the schema
// works identically on SQLite and PostgreSQL.
type studyModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"uniqueIndex;size:512;not null"`
	Directions  string `gorm:"not null"`
	UserAttrs   string `gorm:"not null;default:'{}'"`
	SystemAttrs string `gorm:"not null;default:'{}'"`
	CreatedAt   time.Time
}

func (studyModel) TableName() string { return "studies" }

// trialModel is the GORM model for trials. The unique (study_id, number)
// index is what makes concurrent trial-number assignment safe.
type trialModel struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	StudyID            int64  `gorm:"not null;uniqueIndex:idx_trials_study_number,priority:1;index"`
	Number             int    `gorm:"not null;uniqueIndex:idx_trials_study_number,priority:2"`
	State              string `gorm:"not null;size:16"`
	Values             string `gorm:"not null;default:'[]'"`
	Params             string `gorm:"not null;default:'{}'"`
	Distributions      string `gorm:"not null;default:'{}'"`
	UserAttrs          string `gorm:"not null;default:'{}'"`
	SystemAttrs        string `gorm:"not null;default:'{}'"`
	IntermediateValues string `gorm:"not null;default:'{}'"`
	DatetimeStart      *time.Time
	DatetimeComplete   *time.Time
}

func (trialModel) TableName() string { return "trials" }

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal column: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON[T any](column string) (T, error) {
	var out T
	if column == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(column), &out); err != nil {
		return out, fmt.Errorf("unmarshal column: %w", err)
	}
	return out, nil
}

func (m *trialModel) toFrozen() (study.FrozenTrial, error) {
	values, err := unmarshalJSON[[]float64](m.Values)
	if err != nil {
		return study.FrozenTrial{}, err
	}
	params, err := unmarshalJSON[map[string]float64](m.Params)
	if err != nil {
		return study.FrozenTrial{}, err
	}
	dists, err := unmarshalJSON[map[string]study.Distribution](m.Distributions)
	if err != nil {
		return study.FrozenTrial{}, err
	}
	userAttrs, err := unmarshalJSON[map[string]any](m.UserAttrs)
	if err != nil {
		return study.FrozenTrial{}, err
	}
	systemAttrs, err := unmarshalJSON[map[string]any](m.SystemAttrs)
	if err != nil {
		return study.FrozenTrial{}, err
	}
	intermediate, err := unmarshalJSON[map[int]float64](m.IntermediateValues)
	if err != nil {
		return study.FrozenTrial{}, err
	}

	return study.FrozenTrial{
		ID:                 m.ID,
		Number:             m.Number,
		StudyID:            m.StudyID,
		State:              study.TrialState(m.State),
		Values:             values,
		Params:             params,
		Distributions:      dists,
		UserAttrs:          userAttrs,
		SystemAttrs:        systemAttrs,
		IntermediateValues: intermediate,
		DatetimeStart:      m.DatetimeStart,
		DatetimeComplete:   m.DatetimeComplete,
	}, nil
}

func (m *studyModel) directions() ([]study.Direction, error) {
	return unmarshalJSON[[]study.Direction](m.Directions)
}
