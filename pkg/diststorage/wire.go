package diststorage

import (
	"errors"
	"net/http"

	"github.com/marmos91/gridstore/pkg/scheduler"
	"github.com/marmos91/gridstore/pkg/storage"
	"github.com/marmos91/gridstore/pkg/study"
)

// ExtensionKey is the well-known key the storage registry is installed
// under on a scheduler's extension table.
const ExtensionKey = "gridstore"

// The registry's enumerated operation set. The wire contract between
// proxy and registry is closed: every operation is one of these named
// ops with the matching payload type below, so the protocol can be
// versioned without any reflective call forwarding.
const (
	opGetOrCreate = "get_or_create"
	opDescribe    = "describe"
	opListNames   = "list_names"

	opCreateStudy        = "create_study"
	opDeleteStudy        = "delete_study"
	opStudyIDFromName    = "study_id_from_name"
	opStudyNameFromID    = "study_name_from_id"
	opStudyDirections    = "study_directions"
	opSetStudyUserAttr   = "set_study_user_attr"
	opSetStudySystemAttr = "set_study_system_attr"
	opStudyUserAttrs     = "study_user_attrs"
	opStudySystemAttrs   = "study_system_attrs"
	opAllStudies         = "all_studies"

	opCreateTrial               = "create_trial"
	opGetTrial                  = "get_trial"
	opAllTrials                 = "all_trials"
	opNTrials                   = "n_trials"
	opBestTrial                 = "best_trial"
	opSetTrialParam             = "set_trial_param"
	opSetTrialStateValues       = "set_trial_state_values"
	opSetTrialIntermediateValue = "set_trial_intermediate_value"
	opSetTrialUserAttr          = "set_trial_user_attr"
	opSetTrialSystemAttr        = "set_trial_system_attr"
)

// Registry-level error codes, on top of the scheduler's generic ones.
const (
	codeBadStorageURL     = "BAD_STORAGE_URL"
	codeStorageUnknown    = "STORAGE_UNKNOWN"
	codeStudyExists       = "STUDY_EXISTS"
	codeStudyNotFound     = "STUDY_NOT_FOUND"
	codeTrialNotFound     = "TRIAL_NOT_FOUND"
	codeTrialFinished     = "TRIAL_FINISHED"
	codeNoCompletedTrials = "NO_COMPLETED_TRIALS"
	codeMultiObjective    = "MULTI_OBJECTIVE"
	codeInvalidArgument   = "INVALID_ARGUMENT"
)

type getOrCreateRequest struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type getOrCreateResponse struct {
	Name    string       `json:"name"`
	Kind    storage.Kind `json:"kind"`
	Created bool         `json:"created"`
}

type describeRequest struct {
	Name string `json:"name"`
}

type describeResponse struct {
	Name string       `json:"name"`
	Kind storage.Kind `json:"kind"`
	URL  string       `json:"url,omitempty"`
}

type listNamesResponse struct {
	Names []string `json:"names"`
}

// storageTarget names the backend an operation addresses. Embedded in
// every per-storage request.
type storageTarget struct {
	Name string `json:"name"`
}

type createStudyRequest struct {
	storageTarget
	StudyName  string            `json:"study_name,omitempty"`
	Directions []study.Direction `json:"directions,omitempty"`
}

type studyIDResponse struct {
	StudyID int64 `json:"study_id"`
}

type studyIDRequest struct {
	storageTarget
	StudyID int64 `json:"study_id"`
}

type studyNameRequest struct {
	storageTarget
	StudyName string `json:"study_name"`
}

type studyNameResponse struct {
	StudyName string `json:"study_name"`
}

type directionsResponse struct {
	Directions []study.Direction `json:"directions"`
}

type setStudyAttrRequest struct {
	storageTarget
	StudyID int64  `json:"study_id"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
}

type attrsResponse struct {
	Attrs map[string]any `json:"attrs"`
}

type allStudiesResponse struct {
	Studies []study.StudySummary `json:"studies"`
}

type trialIDResponse struct {
	TrialID int64 `json:"trial_id"`
}

type trialIDRequest struct {
	storageTarget
	TrialID int64 `json:"trial_id"`
}

type trialResponse struct {
	Trial study.FrozenTrial `json:"trial"`
}

type allTrialsResponse struct {
	Trials []study.FrozenTrial `json:"trials"`
}

type nTrialsResponse struct {
	N int `json:"n"`
}

type setTrialParamRequest struct {
	storageTarget
	TrialID      int64              `json:"trial_id"`
	ParamName    string             `json:"param_name"`
	ParamValue   float64            `json:"param_value"`
	Distribution study.Distribution `json:"distribution"`
}

// Values deliberately has no omitempty: a non-nil empty slice clears a
// trial's recorded values, while nil keeps them, and the wire must keep
// the two apart.
type setTrialStateValuesRequest struct {
	storageTarget
	TrialID int64            `json:"trial_id"`
	State   study.TrialState `json:"state"`
	Values  []float64        `json:"values"`
}

type setTrialIntermediateValueRequest struct {
	storageTarget
	TrialID int64   `json:"trial_id"`
	Step    int     `json:"step"`
	Value   float64 `json:"value"`
}

type setTrialAttrRequest struct {
	storageTarget
	TrialID int64  `json:"trial_id"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
}

// wireError maps a backend error onto an APIError so its classification
// crosses the transport. Unrecognized errors become internal.
func wireError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, study.ErrStudyExists):
		return scheduler.NewAPIError(http.StatusConflict, codeStudyExists, err.Error())
	case errors.Is(err, study.ErrStudyNotFound):
		return scheduler.NewAPIError(http.StatusNotFound, codeStudyNotFound, err.Error())
	case errors.Is(err, study.ErrTrialNotFound):
		return scheduler.NewAPIError(http.StatusNotFound, codeTrialNotFound, err.Error())
	case errors.Is(err, study.ErrTrialFinished):
		return scheduler.NewAPIError(http.StatusConflict, codeTrialFinished, err.Error())
	case errors.Is(err, study.ErrNoCompletedTrials):
		return scheduler.NewAPIError(http.StatusNotFound, codeNoCompletedTrials, err.Error())
	case errors.Is(err, study.ErrMultiObjective):
		return scheduler.NewAPIError(http.StatusUnprocessableEntity, codeMultiObjective, err.Error())
	case errors.Is(err, study.ErrInvalidArgument):
		return scheduler.NewAPIError(http.StatusBadRequest, codeInvalidArgument, err.Error())
	default:
		return scheduler.Internal(err.Error())
	}
}

// remoteError preserves the remote message while unwrapping to the local
// sentinel, so errors.Is works identically on both sides of the wire.
type remoteError struct {
	msg  string
	kind error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// unwireError reverses wireError on the client side.
func unwireError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *scheduler.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	var kind error
	switch apiErr.Code {
	case codeStudyExists:
		kind = study.ErrStudyExists
	case codeStudyNotFound:
		kind = study.ErrStudyNotFound
	case codeTrialNotFound:
		kind = study.ErrTrialNotFound
	case codeTrialFinished:
		kind = study.ErrTrialFinished
	case codeNoCompletedTrials:
		kind = study.ErrNoCompletedTrials
	case codeMultiObjective:
		kind = study.ErrMultiObjective
	case codeInvalidArgument:
		kind = study.ErrInvalidArgument
	default:
		return err
	}
	return &remoteError{msg: apiErr.Message, kind: kind}
}
