package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// since every instance owns its registry.
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.registry == nil || m.Policy == nil || m.Events == nil || m.MQTT == nil {
				t.Error("metrics not fully initialized")
			}
		}()
	}
	wg.Wait()
}

// TestRecorderConcurrency records from many goroutines the way concurrent
// callers of the policy do.
func TestRecorderConcurrency(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for range 100 {
				m.Policy.ObserveOperation("start_output", nil, time.Millisecond)
				m.Policy.SetEndpoints(i, i)
				m.Events.EventPublished("patch_list")
			}
		})
	}
	wg.Wait()
}

func TestHandlerServesPolicyMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Policy.ObserveOperation("set_force_use", nil, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `audiopolicy_operations_total{operation="set_force_use",status="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
