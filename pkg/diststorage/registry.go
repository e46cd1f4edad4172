// Package diststorage turns the single-process study storage contract
// into a cluster-shared one. A Registry lives inside the scheduler and
// maps storage names to live backends; any number of Proxy values in
// worker processes forward storage operations to it over the scheduler's
// transport. The backend, not this layer, is the mutation-serialization
// point: the proxy adds no caching, batching, or retries.
package diststorage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/marmos91/gridstore/internal/logger"
	"github.com/marmos91/gridstore/pkg/scheduler"
	"github.com/marmos91/gridstore/pkg/storage"
	"github.com/marmos91/gridstore/pkg/study"
)

func init() {
	scheduler.RegisterExtensionFactory(ExtensionKey, func() (scheduler.Extension, error) {
		return NewRegistry(), nil
	})
}

// storageSpec records how a backend was constructed, for the describe op
// and for diagnostics.
type storageSpec struct {
	kind storage.Kind
	url  string
}

// Registry is the scheduler-side extension holding every named storage
// backend. The name-to-backend binding is stable for the registry's
// lifetime: a name is bound once and never silently replaced.
type Registry struct {
	mu       sync.Mutex
	storages map[string]study.Storage
	specs    map[string]storageSpec
}

var _ scheduler.Extension = (*Registry)(nil)

// NewRegistry creates an empty registry. Production code never calls this
// directly; schedulers build one through the registered extension factory
// when a proxy first ensures the extension.
func NewRegistry() *Registry {
	return &Registry{
		storages: make(map[string]study.Storage),
		specs:    make(map[string]storageSpec),
	}
}

// GetOrCreate looks up name, building the backend from url on first
// reference. At most one backend is ever created per name: concurrent
// requests for the same new name are serialized by the registry mutex and
// the losers receive the winner's backend. A failing construction leaves
// no entry behind.
func (r *Registry) GetOrCreate(name, url string) (study.Storage, storage.Kind, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.storages[name]; ok {
		return st, r.specs[name].kind, false, nil
	}

	kind, err := storage.KindOf(url)
	if err != nil {
		return nil, "", false, scheduler.NewAPIError(http.StatusBadRequest, codeBadStorageURL, err.Error())
	}
	st, err := storage.FromURL(url)
	if err != nil {
		return nil, "", false, scheduler.NewAPIError(http.StatusBadRequest, codeBadStorageURL,
			fmt.Sprintf("construct storage %q: %v", name, err))
	}

	r.storages[name] = st
	r.specs[name] = storageSpec{kind: kind, url: url}
	logger.Info("storage registered", logger.StorageName(name), "kind", string(kind))
	return st, kind, true, nil
}

// Storage returns the live backend bound to name, if any.
func (r *Registry) Storage(name string) (study.Storage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.storages[name]
	return st, ok
}

// Names returns all registered storage names, sorted. Diagnostic.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.storages))
	for name := range r.storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// describe reports the construction spec of a bound name.
func (r *Registry) describe(name string) (describeResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, ok := r.specs[name]
	if !ok {
		return describeResponse{}, unknownStorage(name)
	}
	return describeResponse{Name: name, Kind: spec.kind, URL: spec.url}, nil
}

// resolve returns the backend for a dispatch target. The proxy always
// binds the name at construction, so a miss here is a programming error
// on the caller's side, not a recoverable condition.
func (r *Registry) resolve(name string) (study.Storage, error) {
	st, ok := r.Storage(name)
	if !ok {
		return nil, unknownStorage(name)
	}
	return st, nil
}

func unknownStorage(name string) error {
	return scheduler.NewAPIError(http.StatusInternalServerError, codeStorageUnknown,
		fmt.Sprintf("storage %q is not registered; proxies must register a name before dispatching to it", name))
}

// HandleOp implements scheduler.Extension. Registry ops run under the
// registry mutex inside GetOrCreate; backend ops run concurrently and
// rely on the backend's own atomicity.
func (r *Registry) HandleOp(ctx context.Context, op string, payload json.RawMessage) (any, error) {
	switch op {
	case opGetOrCreate:
		var req getOrCreateRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.Name == "" {
			return nil, scheduler.NewAPIError(http.StatusBadRequest, scheduler.CodeBadRequest, "storage name must not be empty")
		}
		_, kind, created, err := r.GetOrCreate(req.Name, req.URL)
		if err != nil {
			return nil, err
		}
		return getOrCreateResponse{Name: req.Name, Kind: kind, Created: created}, nil

	case opDescribe:
		var req describeRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return r.describe(req.Name)

	case opListNames:
		return listNamesResponse{Names: r.Names()}, nil

	default:
		return r.handleStorageOp(ctx, op, payload)
	}
}

// handleStorageOp forwards one backend operation. Results and failures
// are relayed verbatim; wireError only attaches the classification code.
func (r *Registry) handleStorageOp(ctx context.Context, op string, payload json.RawMessage) (any, error) {
	switch op {
	case opCreateStudy:
		var req createStudyRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		id, err := st.CreateStudy(ctx, req.StudyName, req.Directions)
		if err != nil {
			return nil, wireError(err)
		}
		return studyIDResponse{StudyID: id}, nil

	case opDeleteStudy:
		var req studyIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		return nil, wireError(st.DeleteStudy(ctx, req.StudyID))

	case opStudyIDFromName:
		var req studyNameRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		id, err := st.StudyIDFromName(ctx, req.StudyName)
		if err != nil {
			return nil, wireError(err)
		}
		return studyIDResponse{StudyID: id}, nil

	case opStudyNameFromID:
		var req studyIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		name, err := st.StudyNameFromID(ctx, req.StudyID)
		if err != nil {
			return nil, wireError(err)
		}
		return studyNameResponse{StudyName: name}, nil

	case opStudyDirections:
		var req studyIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		dirs, err := st.StudyDirections(ctx, req.StudyID)
		if err != nil {
			return nil, wireError(err)
		}
		return directionsResponse{Directions: dirs}, nil

	case opSetStudyUserAttr, opSetStudySystemAttr:
		var req setStudyAttrRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		if op == opSetStudyUserAttr {
			return nil, wireError(st.SetStudyUserAttr(ctx, req.StudyID, req.Key, req.Value))
		}
		return nil, wireError(st.SetStudySystemAttr(ctx, req.StudyID, req.Key, req.Value))

	case opStudyUserAttrs, opStudySystemAttrs:
		var req studyIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		var attrs map[string]any
		if op == opStudyUserAttrs {
			attrs, err = st.StudyUserAttrs(ctx, req.StudyID)
		} else {
			attrs, err = st.StudySystemAttrs(ctx, req.StudyID)
		}
		if err != nil {
			return nil, wireError(err)
		}
		return attrsResponse{Attrs: attrs}, nil

	case opAllStudies:
		var req storageTarget
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		studies, err := st.AllStudies(ctx)
		if err != nil {
			return nil, wireError(err)
		}
		return allStudiesResponse{Studies: studies}, nil

	case opCreateTrial:
		var req studyIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		id, err := st.CreateTrial(ctx, req.StudyID)
		if err != nil {
			return nil, wireError(err)
		}
		return trialIDResponse{TrialID: id}, nil

	case opGetTrial:
		var req trialIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		trial, err := st.Trial(ctx, req.TrialID)
		if err != nil {
			return nil, wireError(err)
		}
		return trialResponse{Trial: trial}, nil

	case opAllTrials:
		var req studyIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		trials, err := st.AllTrials(ctx, req.StudyID)
		if err != nil {
			return nil, wireError(err)
		}
		return allTrialsResponse{Trials: trials}, nil

	case opNTrials:
		var req studyIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		n, err := st.NTrials(ctx, req.StudyID)
		if err != nil {
			return nil, wireError(err)
		}
		return nTrialsResponse{N: n}, nil

	case opBestTrial:
		var req studyIDRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		trial, err := st.BestTrial(ctx, req.StudyID)
		if err != nil {
			return nil, wireError(err)
		}
		return trialResponse{Trial: trial}, nil

	case opSetTrialParam:
		var req setTrialParamRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		return nil, wireError(st.SetTrialParam(ctx, req.TrialID, req.ParamName, req.ParamValue, req.Distribution))

	case opSetTrialStateValues:
		var req setTrialStateValuesRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		return nil, wireError(st.SetTrialStateValues(ctx, req.TrialID, req.State, req.Values))

	case opSetTrialIntermediateValue:
		var req setTrialIntermediateValueRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		return nil, wireError(st.SetTrialIntermediateValue(ctx, req.TrialID, req.Step, req.Value))

	case opSetTrialUserAttr, opSetTrialSystemAttr:
		var req setTrialAttrRequest
		st, err := r.target(payload, &req)
		if err != nil {
			return nil, err
		}
		if op == opSetTrialUserAttr {
			return nil, wireError(st.SetTrialUserAttr(ctx, req.TrialID, req.Key, req.Value))
		}
		return nil, wireError(st.SetTrialSystemAttr(ctx, req.TrialID, req.Key, req.Value))

	default:
		return nil, scheduler.NewAPIError(http.StatusNotFound, scheduler.CodeOpUnknown,
			fmt.Sprintf("unknown registry op %q", op))
	}
}

// targeted is implemented by every per-storage request through its
// embedded storageTarget.
type targeted interface {
	targetName() string
}

func (t storageTarget) targetName() string { return t.Name }

// target decodes a per-storage request and resolves its backend.
func (r *Registry) target(payload json.RawMessage, req targeted) (study.Storage, error) {
	if err := decode(payload, req); err != nil {
		return nil, err
	}
	return r.resolve(req.targetName())
}

func decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return scheduler.NewAPIError(http.StatusBadRequest, scheduler.CodeBadRequest,
			fmt.Sprintf("invalid request payload: %v", err))
	}
	return nil
}
