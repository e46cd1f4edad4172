package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoExtension is a minimal test extension with two ops: "echo" returns
// its payload, "fail" returns a typed API error.
type echoExtension struct{}

func (echoExtension) HandleOp(_ context.Context, op string, payload json.RawMessage) (any, error) {
	switch op {
	case "echo":
		var body map[string]any
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, NewAPIError(http.StatusBadRequest, CodeBadRequest, err.Error())
		}
		return body, nil
	case "fail":
		return nil, NewAPIError(http.StatusConflict, "ECHO_CONFLICT", "echo says no")
	default:
		return nil, NewAPIError(http.StatusNotFound, CodeOpUnknown, "unknown op "+op)
	}
}

var echoBuilds atomic.Int64

func init() {
	RegisterExtensionFactory("echo", func() (Extension, error) {
		echoBuilds.Add(1)
		return echoExtension{}, nil
	})
}

func TestEnsureExtensionIdempotent(t *testing.T) {
	s := New(Config{})
	echoBuilds.Store(0)

	ext, created, err := s.EnsureExtension("echo")
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, ext)

	again, created, err := s.EnsureExtension("echo")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ext, again)
	assert.Equal(t, int64(1), echoBuilds.Load())
}

func TestEnsureExtensionConcurrent(t *testing.T) {
	s := New(Config{})
	echoBuilds.Store(0)

	const n = 32
	var wg sync.WaitGroup
	var installs atomic.Int64
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.EnsureExtension("echo")
			assert.NoError(t, err)
			if created {
				installs.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), installs.Load())
	assert.Equal(t, int64(1), echoBuilds.Load())
	assert.Equal(t, []string{"echo"}, s.ExtensionKeys())
}

func TestEnsureExtensionUnknownKey(t *testing.T) {
	s := New(Config{})

	_, _, err := s.EnsureExtension("nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, CodeExtensionUnknown, apiErr.Code)
}

func TestRegisterExtensionFactoryDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		RegisterExtensionFactory("echo", func() (Extension, error) {
			return echoExtension{}, nil
		})
	})
	assert.Panics(t, func() {
		RegisterExtensionFactory("nil-factory", nil)
	})
}

func newTestServer(t *testing.T) (*Scheduler, *Client) {
	t.Helper()
	s := New(Config{})
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return s, NewClient(server.URL)
}

func TestClientHealth(t *testing.T) {
	_, client := newTestServer(t)
	assert.NoError(t, client.Health(context.Background()))
}

func TestClientEnsureAndList(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	keys, err := client.ExtensionKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, client.EnsureExtension(ctx, "echo"))
	require.NoError(t, client.EnsureExtension(ctx, "echo"))

	keys, err = client.ExtensionKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, keys)
}

func TestClientEnsureUnknownKey(t *testing.T) {
	_, client := newTestServer(t)

	err := client.EnsureExtension(context.Background(), "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, CodeExtensionUnknown, apiErr.Code)
}

func TestClientCallExtension(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)
	require.NoError(t, client.EnsureExtension(ctx, "echo"))

	var out map[string]any
	err := client.CallExtension(ctx, "echo", "echo", map[string]any{"hello": "world"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "world", out["hello"])
}

func TestClientCallExtensionNotLoaded(t *testing.T) {
	_, client := newTestServer(t)

	err := client.CallExtension(context.Background(), "echo", "echo", map[string]any{}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, CodeExtensionNotLoaded, apiErr.Code)
}

func TestClientErrorCodeSurvivesRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)
	require.NoError(t, client.EnsureExtension(ctx, "echo"))

	err := client.CallExtension(ctx, "echo", "fail", map[string]any{}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "ECHO_CONFLICT", apiErr.Code)
	assert.Equal(t, "echo says no", apiErr.Message)

	err = client.CallExtension(ctx, "echo", "bogus", map[string]any{}, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeOpUnknown, apiErr.Code)
}

func TestClientContextCancellation(t *testing.T) {
	_, client := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Health(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	assert.Equal(t, 8799, c.Port)
	assert.NotZero(t, c.ReadTimeout)
	assert.NotZero(t, c.WriteTimeout)
	assert.NotZero(t, c.IdleTimeout)
}
