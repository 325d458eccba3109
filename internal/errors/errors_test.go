package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = New(nil).
	Component("policy").
	Category(CategoryState).
	Context("resource", "output").
	Build()

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestSentinelMatching(t *testing.T) {
	t.Parallel()

	wrapped := New(errSentinel).Context("handle", 7).Build()
	require.ErrorIs(t, wrapped, errSentinel)
	assert.Equal(t, CategoryState, wrapped.Category)
	assert.Equal(t, "policy", wrapped.GetComponent())

	v, ok := ContextValue(wrapped, "handle")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	formatted := Newf("start output: %w", errSentinel).Build()
	assert.ErrorIs(t, formatted, errSentinel)
	assert.True(t, IsCategory(formatted, CategoryState))
	assert.Contains(t, formatted.Error(), "start output")

	other := New(nil).Category(CategoryState).Context("resource", "input").Build()
	assert.NotErrorIs(t, other, errSentinel)
}

func TestSentinelMessage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "state: output", errSentinel.Error())
}

func TestPrivacyScrubbing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		absent  string
	}{
		{"bluetooth mac", "connect failed for 00:1A:7D:DA:71:13", "00:1A:7D:DA:71:13"},
		{"ip sink", "remote sink 192.168.1.20:5000 unreachable", "192.168.1.20"},
		{"address field", "device address=bus0_media_out rejected", "bus0_media_out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.NotContains(t, scrubMessageForPrivacy(tt.message), tt.absent)
		})
	}
}

type transportRecorder struct {
	events []*sentry.Event
}

func (r *transportRecorder) Flush(_ time.Duration) bool              { return true }
func (r *transportRecorder) FlushWithContext(_ context.Context) bool { return true }
func (r *transportRecorder) Configure(_ sentry.ClientOptions)        {}
func (r *transportRecorder) SendEvent(event *sentry.Event)           { r.events = append(r.events, event) }
func (r *transportRecorder) Close()                                  {}

func TestSentryReporterFiltersCategories(t *testing.T) {
	transport := &transportRecorder{}
	client, err := sentry.NewClient(sentry.ClientOptions{Transport: transport})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	SetTelemetryReporter(NewSentryReporter(true, hub))
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	New(fmt.Errorf("no primary output")).
		Component("policy").
		Category(CategoryNotInitialized).
		Build()
	New(fmt.Errorf("patch owned by another uid")).
		Component("policy").
		Category(CategoryOwnership).
		Build()

	require.Len(t, transport.events, 1)
	assert.Equal(t, sentry.LevelFatal, transport.events[0].Level)
	assert.Contains(t, transport.events[0].Message, "no primary output")
}
