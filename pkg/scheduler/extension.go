package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Extension is a scheduler-side plugin holding state for the scheduler's
// lifetime. Extensions are installed at most once per scheduler under a
// well-known key and are torn down with the scheduler itself.
type Extension interface {
	// HandleOp executes one operation of the extension's enumerated op
	// set. Unknown ops fail; payloads are op-specific JSON documents.
	HandleOp(ctx context.Context, op string, payload json.RawMessage) (any, error)
}

// ExtensionFactory builds a fresh extension instance. Factories run on the
// scheduler when a client first ensures the extension.
type ExtensionFactory func() (Extension, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]ExtensionFactory)
)

// RegisterExtensionFactory makes an extension available under key on every
// scheduler in this process. It is called from package init functions and
// panics on a duplicate key, mirroring database/sql driver registration.
func RegisterExtensionFactory(key string, factory ExtensionFactory) {
	if factory == nil {
		panic("scheduler: RegisterExtensionFactory with nil factory")
	}

	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[key]; dup {
		panic(fmt.Sprintf("scheduler: extension factory %q registered twice", key))
	}
	factories[key] = factory
}

func lookupFactory(key string) (ExtensionFactory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[key]
	return f, ok
}

// registeredFactoryKeys returns the keys of all registered factories,
// sorted. Diagnostic only.
func registeredFactoryKeys() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	keys := make([]string, 0, len(factories))
	for k := range factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
