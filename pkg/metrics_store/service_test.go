package metrics_store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NotCoffee418/home_energy_core/pkg/metrics_store"
)

// fakeStorage keeps the document in memory and records interactions.
type fakeStorage struct {
	doc       *metrics_store.Document
	loadErr   error
	saveErr   error
	saveCount int
}

func (f *fakeStorage) Load() (*metrics_store.Document, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.doc == nil {
		return nil, metrics_store.ErrNotFound
	}
	return f.doc, nil
}

func (f *fakeStorage) Save(doc *metrics_store.Document) error {
	f.saveCount++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.doc = doc
	return nil
}

// fixedNow pins the clock to 2026-08-30 12:00 UTC.
var fixedNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, storage *fakeStorage) *metrics_store.Store {
	t.Helper()
	return metrics_store.NewStoreWithClock(storage, zap.NewNop(), func() time.Time {
		return fixedNow
	})
}

func snapshotFor(date string, netUse float64) metrics_store.DailySnapshot {
	return metrics_store.DailySnapshot{
		Date:            date,
		NetUse:          netUse,
		Production:      netUse * 2,
		Export:          netUse / 2,
		NightUse:        netUse * 7 / 24,
		Emissions:       netUse * 100,
		SelfSufficiency: 0.5,
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)

	require.NoError(t, store.Load())
	require.Empty(t, store.Snapshots())
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	storage := &fakeStorage{loadErr: errors.New("unexpected end of JSON input")}
	store := newTestStore(t, storage)

	require.NoError(t, store.Load())
	require.Empty(t, store.Snapshots())

	// A fresh snapshot must still persist after the recovery
	require.NoError(t, store.Upsert(snapshotFor("2026-08-29", 5.0)))
	require.Len(t, store.Snapshots(), 1)
}

func TestUpsertIsIdempotentPerDate(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	require.NoError(t, store.Upsert(snapshotFor("2026-08-29", 5.0)))
	require.NoError(t, store.Upsert(snapshotFor("2026-08-29", 7.5)))

	snapshots := store.Snapshots()
	require.Len(t, snapshots, 1)
	require.Equal(t, 7.5, snapshots[0].NetUse)
}

func TestUpsertKeepsNewestFirst(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	require.NoError(t, store.Upsert(snapshotFor("2026-08-27", 1.0)))
	require.NoError(t, store.Upsert(snapshotFor("2026-08-29", 3.0)))
	require.NoError(t, store.Upsert(snapshotFor("2026-08-28", 2.0)))

	snapshots := store.Snapshots()
	require.Len(t, snapshots, 3)
	require.Equal(t, "2026-08-29", snapshots[0].Date)
	require.Equal(t, "2026-08-28", snapshots[1].Date)
	require.Equal(t, "2026-08-27", snapshots[2].Date)
}

func TestUpsertWithoutDateIsDropped(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	require.NoError(t, store.Upsert(metrics_store.DailySnapshot{NetUse: 5.0}))
	require.Empty(t, store.Snapshots())
	require.Zero(t, storage.saveCount)
}

func TestUpsertBeforeLoadLoadsFirst(t *testing.T) {
	storage := &fakeStorage{doc: &metrics_store.Document{
		DailySnapshots: []metrics_store.DailySnapshot{snapshotFor("2026-08-28", 4.0)},
	}}
	store := newTestStore(t, storage)

	// No explicit Load; the existing record must survive the upsert
	require.NoError(t, store.Upsert(snapshotFor("2026-08-29", 5.0)))
	require.Len(t, store.Snapshots(), 2)
}

func TestRetentionDropsRecordsOlderThan90Days(t *testing.T) {
	storage := &fakeStorage{doc: &metrics_store.Document{
		DailySnapshots: []metrics_store.DailySnapshot{
			snapshotFor("2026-08-29", 5.0),
			snapshotFor("2026-06-01", 4.0),
			snapshotFor("2026-05-01", 3.0), // past the window
			snapshotFor("2025-12-25", 2.0), // past the window
		},
	}}
	store := newTestStore(t, storage)

	require.NoError(t, store.Load())

	snapshots := store.Snapshots()
	require.Len(t, snapshots, 2)
	require.Equal(t, "2026-08-29", snapshots[0].Date)
	require.Equal(t, "2026-06-01", snapshots[1].Date)
	// Cleanup that removed something persists immediately
	require.Equal(t, 1, storage.saveCount)
}

func TestRetentionWithoutRemovalDoesNotSave(t *testing.T) {
	storage := &fakeStorage{doc: &metrics_store.Document{
		DailySnapshots: []metrics_store.DailySnapshot{snapshotFor("2026-08-29", 5.0)},
	}}
	store := newTestStore(t, storage)

	require.NoError(t, store.Load())
	require.Zero(t, storage.saveCount)
}

func TestWindowQueriesUseTrailingWindow(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	require.NoError(t, store.Upsert(snapshotFor("2026-08-30", 6.0)))
	require.NoError(t, store.Upsert(snapshotFor("2026-08-28", 2.0)))
	require.NoError(t, store.Upsert(snapshotFor("2026-08-10", 100.0))) // outside 7d

	require.InDelta(t, 4.0, store.Average("net_use", 7), 1e-9)
	require.Equal(t, 2.0, store.Min("net_use", 7))
	require.Equal(t, 6.0, store.Max("net_use", 7))

	// The 30-day window picks up the older record too
	require.Equal(t, 100.0, store.Max("net_use", 30))
}

func TestEmptyWindowSentinels(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	require.Equal(t, 0.0, store.Average("net_use", 7))
	require.Equal(t, 0.0, store.Max("net_use", 7))
	require.Equal(t, metrics_store.MinSentinel, store.Min("net_use", 7))
}

func TestUnknownMetricKeyYieldsNoValues(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())
	require.NoError(t, store.Upsert(snapshotFor("2026-08-29", 5.0)))

	require.Equal(t, 0.0, store.Average("no_such_metric", 7))
	require.Equal(t, metrics_store.MinSentinel, store.Min("no_such_metric", 7))
}

func TestTodayReturnsTodaysMetricOrZero(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	require.Equal(t, 0.0, store.Today("net_use"))

	require.NoError(t, store.Upsert(snapshotFor("2026-08-30", 6.5)))
	require.NoError(t, store.Upsert(snapshotFor("2026-08-29", 1.0)))

	require.Equal(t, 6.5, store.Today("net_use"))
}

func TestHasDataGap(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	// Healthy signals: no gap
	states := map[string]metrics_store.SignalState{
		"production_day":  {State: "ok", LastChanged: fixedNow.Add(-2 * time.Hour)},
		"consumption_day": {State: "ok", LastChanged: fixedNow.Add(-2 * time.Hour)},
	}
	require.False(t, store.HasDataGap(states))

	// Recently unavailable: still within the grace period
	states["import_day"] = metrics_store.SignalState{
		State:       "unavailable",
		LastChanged: fixedNow.Add(-30 * time.Minute),
	}
	require.False(t, store.HasDataGap(states))

	// Unavailable past the threshold: gap
	states["import_day"] = metrics_store.SignalState{
		State:       "unavailable",
		LastChanged: fixedNow.Add(-61 * time.Minute),
	}
	require.True(t, store.HasDataGap(states))

	// Stale "unknown" counts too
	delete(states, "import_day")
	states["export_day"] = metrics_store.SignalState{
		State:       "unknown",
		LastChanged: fixedNow.Add(-2 * time.Hour),
	}
	require.True(t, store.HasDataGap(states))

	// Signals outside the critical set are ignored
	require.False(t, store.HasDataGap(map[string]metrics_store.SignalState{
		"garage_heater": {State: "unavailable", LastChanged: fixedNow.Add(-24 * time.Hour)},
	}))
}

func TestBuildNotificationData(t *testing.T) {
	storage := &fakeStorage{}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	require.NoError(t, store.Upsert(metrics_store.DailySnapshot{
		Date:            "2026-08-30",
		NetUse:          8.0,
		Production:      12.0,
		Export:          3.0,
		NightUse:        2.0,
		Emissions:       450.0,
		SelfSufficiency: 0.6,
	}))
	require.NoError(t, store.Upsert(metrics_store.DailySnapshot{
		Date:            "2026-08-28",
		NetUse:          4.0,
		Production:      10.0,
		Export:          1.0,
		NightUse:        1.0,
		Emissions:       300.0,
		SelfSufficiency: 0.8,
	}))

	data := store.BuildNotificationData(true, nil)

	require.True(t, data.IsWeeklyTrigger)
	require.False(t, data.HasDataGap)
	require.Equal(t, 8.0, data.NetUseToday)
	require.Equal(t, 0.6, data.SsToday)
	require.InDelta(t, 6.0, data.NetUse7dAvg, 1e-9)
	require.InDelta(t, 11.0, data.Production7dAvg, 1e-9)
	require.Equal(t, 0.8, data.SsMaxLast30d)
	require.Equal(t, 300.0, data.EmissionsMinLast30d)
	require.Equal(t, 4.0, data.NetUseMinLast30d)
}

func TestSaveFailurePropagatesFromUpsert(t *testing.T) {
	storage := &fakeStorage{saveErr: errors.New("disk full")}
	store := newTestStore(t, storage)
	require.NoError(t, store.Load())

	require.Error(t, store.Upsert(snapshotFor("2026-08-29", 5.0)))
}
