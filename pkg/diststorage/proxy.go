package diststorage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/gridstore/internal/logger"
	"github.com/marmos91/gridstore/pkg/scheduler"
	"github.com/marmos91/gridstore/pkg/storage"
	"github.com/marmos91/gridstore/pkg/study"
)

// Options configures a Proxy.
type Options struct {
	// Name is the cluster-wide storage name. Proxies constructed with the
	// same explicit name share one backend; that is the intended sharing
	// mechanism. Empty requests a generated name unique across the
	// cluster, never shared.
	Name string

	// URL locates a durable backend (sqlite:// or postgres://). Empty
	// selects the ephemeral in-memory backend on the scheduler.
	URL string
}

// Proxy is a client-side study.Storage whose state lives in a named
// backend inside the scheduler's storage registry. It holds only the
// scheduler connection and the storage name; dropping a proxy never
// affects the backend, whose lifetime is tied to the scheduler.
type Proxy struct {
	client *scheduler.Client
	name   string
	kind   storage.Kind
}

var _ study.Storage = (*Proxy)(nil)

var experimentalOnce sync.Once

// NewProxy connects to the scheduler, installs the storage registry
// extension if this cluster does not have it yet, and binds the effective
// storage name, creating the backend on first reference.
//
// The proxy interface is experimental and may change between releases; a
// warning is logged once per process on first construction. Raise the log
// level to suppress it.
func NewProxy(ctx context.Context, client *scheduler.Client, opts Options) (*Proxy, error) {
	experimentalOnce.Do(func() {
		logger.Warn("diststorage.Proxy is experimental; its interface may change in future releases")
	})

	if err := client.EnsureExtension(ctx, ExtensionKey); err != nil {
		return nil, fmt.Errorf("ensure storage registry on scheduler: %w", err)
	}

	name := opts.Name
	if name == "" {
		// uuid keeps generated names collision-free across processes
		// constructing proxies concurrently.
		name = "storage-" + uuid.NewString()
	}

	var resp getOrCreateResponse
	req := getOrCreateRequest{Name: name, URL: opts.URL}
	if err := client.CallExtension(ctx, ExtensionKey, opGetOrCreate, req, &resp); err != nil {
		return nil, fmt.Errorf("register storage %q: %w", name, err)
	}

	logger.Debug("storage proxy ready", logger.StorageName(name), "kind", string(resp.Kind), "created", resp.Created)
	return &Proxy{client: client, name: name, kind: resp.Kind}, nil
}

// Name returns the effective storage name the proxy is bound to.
func (p *Proxy) Name() string { return p.name }

// Kind returns the backend kind the registry resolved for this name.
func (p *Proxy) Kind() storage.Kind { return p.kind }

// GetBaseStorage returns a handle onto the concrete backend the proxy
// targets, constructed from the registry's recorded URL exactly as direct
// construction from that URL would. For durable backends this opens the
// same database; for the ephemeral kind it yields a same-kind instance
// usable for kind introspection only, since the live in-memory state
// exists only inside the scheduler.
func (p *Proxy) GetBaseStorage(ctx context.Context) (study.Storage, error) {
	var resp describeResponse
	if err := p.call(ctx, opDescribe, describeRequest{Name: p.name}, &resp); err != nil {
		return nil, err
	}
	return storage.FromURL(resp.URL)
}

// call forwards one registry op, translating error codes back to the
// study sentinel errors.
func (p *Proxy) call(ctx context.Context, op string, in, out any) error {
	if err := p.client.CallExtension(ctx, ExtensionKey, op, in, out); err != nil {
		return unwireError(err)
	}
	return nil
}

func (p *Proxy) target() storageTarget { return storageTarget{Name: p.name} }

// CreateStudy implements study.Storage.
func (p *Proxy) CreateStudy(ctx context.Context, name string, directions []study.Direction) (int64, error) {
	var resp studyIDResponse
	req := createStudyRequest{storageTarget: p.target(), StudyName: name, Directions: directions}
	if err := p.call(ctx, opCreateStudy, req, &resp); err != nil {
		return 0, err
	}
	return resp.StudyID, nil
}

// DeleteStudy implements study.Storage.
func (p *Proxy) DeleteStudy(ctx context.Context, studyID int64) error {
	return p.call(ctx, opDeleteStudy, studyIDRequest{storageTarget: p.target(), StudyID: studyID}, nil)
}

// StudyIDFromName implements study.Storage.
func (p *Proxy) StudyIDFromName(ctx context.Context, name string) (int64, error) {
	var resp studyIDResponse
	req := studyNameRequest{storageTarget: p.target(), StudyName: name}
	if err := p.call(ctx, opStudyIDFromName, req, &resp); err != nil {
		return 0, err
	}
	return resp.StudyID, nil
}

// StudyNameFromID implements study.Storage.
func (p *Proxy) StudyNameFromID(ctx context.Context, studyID int64) (string, error) {
	var resp studyNameResponse
	req := studyIDRequest{storageTarget: p.target(), StudyID: studyID}
	if err := p.call(ctx, opStudyNameFromID, req, &resp); err != nil {
		return "", err
	}
	return resp.StudyName, nil
}

// StudyDirections implements study.Storage.
func (p *Proxy) StudyDirections(ctx context.Context, studyID int64) ([]study.Direction, error) {
	var resp directionsResponse
	req := studyIDRequest{storageTarget: p.target(), StudyID: studyID}
	if err := p.call(ctx, opStudyDirections, req, &resp); err != nil {
		return nil, err
	}
	return resp.Directions, nil
}

// SetStudyUserAttr implements study.Storage.
func (p *Proxy) SetStudyUserAttr(ctx context.Context, studyID int64, key string, value any) error {
	req := setStudyAttrRequest{storageTarget: p.target(), StudyID: studyID, Key: key, Value: value}
	return p.call(ctx, opSetStudyUserAttr, req, nil)
}

// SetStudySystemAttr implements study.Storage.
func (p *Proxy) SetStudySystemAttr(ctx context.Context, studyID int64, key string, value any) error {
	req := setStudyAttrRequest{storageTarget: p.target(), StudyID: studyID, Key: key, Value: value}
	return p.call(ctx, opSetStudySystemAttr, req, nil)
}

// StudyUserAttrs implements study.Storage.
func (p *Proxy) StudyUserAttrs(ctx context.Context, studyID int64) (map[string]any, error) {
	var resp attrsResponse
	req := studyIDRequest{storageTarget: p.target(), StudyID: studyID}
	if err := p.call(ctx, opStudyUserAttrs, req, &resp); err != nil {
		return nil, err
	}
	return resp.Attrs, nil
}

// StudySystemAttrs implements study.Storage.
func (p *Proxy) StudySystemAttrs(ctx context.Context, studyID int64) (map[string]any, error) {
	var resp attrsResponse
	req := studyIDRequest{storageTarget: p.target(), StudyID: studyID}
	if err := p.call(ctx, opStudySystemAttrs, req, &resp); err != nil {
		return nil, err
	}
	return resp.Attrs, nil
}

// AllStudies implements study.Storage.
func (p *Proxy) AllStudies(ctx context.Context) ([]study.StudySummary, error) {
	var resp allStudiesResponse
	if err := p.call(ctx, opAllStudies, p.target(), &resp); err != nil {
		return nil, err
	}
	return resp.Studies, nil
}

// CreateTrial implements study.Storage.
func (p *Proxy) CreateTrial(ctx context.Context, studyID int64) (int64, error) {
	var resp trialIDResponse
	req := studyIDRequest{storageTarget: p.target(), StudyID: studyID}
	if err := p.call(ctx, opCreateTrial, req, &resp); err != nil {
		return 0, err
	}
	return resp.TrialID, nil
}

// Trial implements study.Storage.
func (p *Proxy) Trial(ctx context.Context, trialID int64) (study.FrozenTrial, error) {
	var resp trialResponse
	req := trialIDRequest{storageTarget: p.target(), TrialID: trialID}
	if err := p.call(ctx, opGetTrial, req, &resp); err != nil {
		return study.FrozenTrial{}, err
	}
	return resp.Trial, nil
}

// AllTrials implements study.Storage.
func (p *Proxy) AllTrials(ctx context.Context, studyID int64) ([]study.FrozenTrial, error) {
	var resp allTrialsResponse
	req := studyIDRequest{storageTarget: p.target(), StudyID: studyID}
	if err := p.call(ctx, opAllTrials, req, &resp); err != nil {
		return nil, err
	}
	return resp.Trials, nil
}

// NTrials implements study.Storage.
func (p *Proxy) NTrials(ctx context.Context, studyID int64) (int, error) {
	var resp nTrialsResponse
	req := studyIDRequest{storageTarget: p.target(), StudyID: studyID}
	if err := p.call(ctx, opNTrials, req, &resp); err != nil {
		return 0, err
	}
	return resp.N, nil
}

// BestTrial implements study.Storage.
func (p *Proxy) BestTrial(ctx context.Context, studyID int64) (study.FrozenTrial, error) {
	var resp trialResponse
	req := studyIDRequest{storageTarget: p.target(), StudyID: studyID}
	if err := p.call(ctx, opBestTrial, req, &resp); err != nil {
		return study.FrozenTrial{}, err
	}
	return resp.Trial, nil
}

// SetTrialParam implements study.Storage.
func (p *Proxy) SetTrialParam(ctx context.Context, trialID int64, name string, value float64, dist study.Distribution) error {
	req := setTrialParamRequest{
		storageTarget: p.target(),
		TrialID:       trialID,
		ParamName:     name,
		ParamValue:    value,
		Distribution:  dist,
	}
	return p.call(ctx, opSetTrialParam, req, nil)
}

// SetTrialStateValues implements study.Storage.
func (p *Proxy) SetTrialStateValues(ctx context.Context, trialID int64, state study.TrialState, values []float64) error {
	req := setTrialStateValuesRequest{storageTarget: p.target(), TrialID: trialID, State: state, Values: values}
	return p.call(ctx, opSetTrialStateValues, req, nil)
}

// SetTrialIntermediateValue implements study.Storage.
func (p *Proxy) SetTrialIntermediateValue(ctx context.Context, trialID int64, step int, value float64) error {
	req := setTrialIntermediateValueRequest{storageTarget: p.target(), TrialID: trialID, Step: step, Value: value}
	return p.call(ctx, opSetTrialIntermediateValue, req, nil)
}

// SetTrialUserAttr implements study.Storage.
func (p *Proxy) SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error {
	req := setTrialAttrRequest{storageTarget: p.target(), TrialID: trialID, Key: key, Value: value}
	return p.call(ctx, opSetTrialUserAttr, req, nil)
}

// SetTrialSystemAttr implements study.Storage.
func (p *Proxy) SetTrialSystemAttr(ctx context.Context, trialID int64, key string, value any) error {
	req := setTrialAttrRequest{storageTarget: p.target(), TrialID: trialID, Key: key, Value: value}
	return p.call(ctx, opSetTrialSystemAttr, req, nil)
}

// Close implements study.Storage. It is a no-op: the backend belongs to
// the registry and outlives every proxy pointing at it.
func (p *Proxy) Close() error { return nil }
