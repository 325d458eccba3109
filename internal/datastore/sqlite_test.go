package datastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/conf"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/events"
)

var epoch = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := &SQLiteStore{Path: filepath.Join(t.TempDir(), "history", "routing.db")}
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestSaveAndRecent(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	for i := range 5 {
		require.NoError(t, store.Save(&RoutingEvent{
			EventID:    string(rune('a' + i)),
			Kind:       string(events.KindPatchList),
			Timestamp:  epoch.Add(time.Duration(i) * time.Second),
			Generation: uint32(i),
		}))
	}

	recent, err := store.Recent(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, uint32(4), recent[0].Generation, "newest first")
	assert.Equal(t, uint32(2), recent[2].Generation)
}

func TestByKindAndPrune(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	require.NoError(t, store.Save(&RoutingEvent{EventID: "1", Kind: "device_state", Timestamp: epoch, Device: "speaker"}))
	require.NoError(t, store.Save(&RoutingEvent{EventID: "2", Kind: "port_list", Timestamp: epoch.Add(time.Minute)}))
	require.NoError(t, store.Save(&RoutingEvent{EventID: "3", Kind: "device_state", Timestamp: epoch.Add(time.Hour), Device: "headset"}))

	devices, err := store.ByKind("device_state", 10)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "headset", devices[0].Device)

	removed, err := store.Prune(epoch.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	rest, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "3", rest[0].EventID)
}

func TestDuplicateEventIDRejected(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	require.NoError(t, store.Save(&RoutingEvent{EventID: "same", Kind: "port_list", Timestamp: epoch}))
	err := store.Save(&RoutingEvent{EventID: "same", Kind: "port_list", Timestamp: epoch})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestStoreNotOpen(t *testing.T) {
	t.Parallel()
	store := &SQLiteStore{Path: filepath.Join(t.TempDir(), "unused.db")}

	require.ErrorIs(t, store.Save(&RoutingEvent{}), ErrNotOpen)
	_, err := store.Recent(1)
	require.ErrorIs(t, err, ErrNotOpen)
	require.NoError(t, store.Close())

	require.Error(t, (&SQLiteStore{}).Open(), "a path is required")
}

func TestNewFollowsSettings(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	assert.Nil(t, New(settings))

	settings.History.Enabled = true
	settings.History.Path = "routing.db"
	store, ok := New(settings).(*SQLiteStore)
	require.True(t, ok)
	assert.Equal(t, "routing.db", store.Path)
}

func TestHistoryConsumerStoresEvents(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	consumer := NewHistoryConsumer(store)
	assert.Equal(t, "history", consumer.Name())

	require.NoError(t, consumer.ProcessEvent(events.Event{
		ID:        "4f0c1f0e-1b7e-4c1e-9a43-0f3a2d8d7b11",
		Kind:      events.KindRecording,
		Timestamp: epoch,
		Recording: &events.Recording{PortID: 9, UID: 10001, Session: 17, Source: "mic", Input: 3, Device: "builtin_mic", Active: true},
	}))

	stored, err := store.ByKind(string(events.KindRecording), 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int32(9), stored[0].PortID)
	assert.Equal(t, "builtin_mic", stored[0].Device)
	assert.True(t, stored[0].Active)
	assert.True(t, stored[0].Timestamp.Equal(epoch))
}
