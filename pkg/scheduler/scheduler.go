// Package scheduler hosts the cluster scheduler's HTTP surface: an
// extension table with idempotent installation, a generic per-extension
// operation dispatch endpoint, and the matching client. Extensions carry
// the actual state (the gridstore storage registry is one); the scheduler
// only owns their lifetime and serializes their installation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/gridstore/internal/logger"
)

// Config holds scheduler HTTP server configuration.
type Config struct {
	Port         int           `mapstructure:"port" validate:"gte=0,lte=65535" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8799
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
}

// Scheduler is one cluster scheduler process. It owns the extension table;
// installation and lookup are serialized by its mutex, so concurrent
// ensure requests racing to be first still install exactly one instance
// per key.
type Scheduler struct {
	mu         sync.Mutex
	extensions map[string]Extension

	config       Config
	metrics      *metricsSet
	server       *http.Server
	shutdownOnce sync.Once
}

// New creates a scheduler with no extensions installed.
func New(config Config) *Scheduler {
	config.ApplyDefaults()

	s := &Scheduler{
		extensions: make(map[string]Extension),
		config:     config,
		metrics:    newMetricsSet(),
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// EnsureExtension installs the extension registered under key if it is not
// installed yet and returns it. The second return reports whether this
// call performed the installation. Ensuring an already-installed key
// returns the existing instance untouched.
func (s *Scheduler) EnsureExtension(key string) (Extension, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ext, ok := s.extensions[key]; ok {
		return ext, false, nil
	}

	factory, ok := lookupFactory(key)
	if !ok {
		return nil, false, NewAPIError(http.StatusNotFound, CodeExtensionUnknown,
			fmt.Sprintf("no extension registered under key %q (known: %v)", key, registeredFactoryKeys()))
	}
	ext, err := factory()
	if err != nil {
		return nil, false, fmt.Errorf("build extension %q: %w", key, err)
	}

	s.extensions[key] = ext
	s.metrics.recordInstall(len(s.extensions))
	logger.Info("extension installed", logger.ExtensionKey(key))
	return ext, true, nil
}

// Extension returns the installed extension for key, if any.
func (s *Scheduler) Extension(key string) (Extension, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ext, ok := s.extensions[key]
	return ext, ok
}

// ExtensionKeys returns the keys of all installed extensions. Diagnostic.
func (s *Scheduler) ExtensionKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.extensions))
	for k := range s.extensions {
		keys = append(keys, k)
	}
	return keys
}

// dispatch runs one operation against an installed extension. The
// extension runs outside the scheduler lock; serializing mutations is the
// extension's (ultimately the storage backend's) concern.
func (s *Scheduler) dispatch(ctx context.Context, key, op string, payload []byte) (any, error) {
	ext, ok := s.Extension(key)
	if !ok {
		return nil, NewAPIError(http.StatusNotFound, CodeExtensionNotLoaded,
			fmt.Sprintf("extension %q is not installed on this scheduler", key))
	}

	result, err := ext.HandleOp(ctx, op, payload)
	s.metrics.recordDispatch(key, op, err)
	return result, err
}

// Start runs the HTTP server and blocks until the context is cancelled or
// the server fails.
func (s *Scheduler) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("scheduler listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("scheduler shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("scheduler failed: %w", err)
	}
}

// Stop gracefully shuts the HTTP server down. Safe to call more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.server.Shutdown(ctx)
	})
	return err
}
