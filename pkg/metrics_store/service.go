package metrics_store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	retentionDays = 90

	// MinSentinel is returned by Min when no qualifying record exists.
	// Callers must treat it as "no data", not as a real minimum.
	MinSentinel = 999999.0

	dataGapThreshold = time.Hour
)

// Critical derived signals checked by the data-gap predicate, in
// short-circuit order.
var criticalSignals = []string{
	"production_day",
	"consumption_day",
	"import_day",
	"export_day",
}

// Store keeps one DailySnapshot per calendar date, newest first, capped
// to a 90-day rolling window. All mutations persist synchronously.
type Store struct {
	mu        sync.Mutex
	storage   Storage
	logger    *zap.Logger
	snapshots []DailySnapshot
	loaded    bool
	now       func() time.Time
}

func NewStore(storage Storage, logger *zap.Logger) *Store {
	return NewStoreWithClock(storage, logger, time.Now)
}

// NewStoreWithClock injects the clock used for retention and window
// cutoffs. Tests pin it; production uses time.Now.
func NewStoreWithClock(storage Storage, logger *zap.Logger, now func() time.Time) *Store {
	return &Store{
		storage: storage,
		logger:  logger,
		now:     now,
	}
}

// Load reads persisted state, treating absence or corruption as an
// empty store (logged, never fatal), then applies retention cleanup.
// The returned error only reports a failed post-cleanup save.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	doc, err := s.storage.Load()
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debug("no existing notification metrics found, starting fresh")
		s.snapshots = nil
	case err != nil:
		s.logger.Error("error loading notification metrics, starting fresh", zap.Error(err))
		s.snapshots = nil
	default:
		s.snapshots = doc.DailySnapshots
	}

	s.loaded = true
	return s.cleanupOldSnapshotsLocked()
}

// Upsert adds or replaces the snapshot for its date and persists
// synchronously. A snapshot without a date is logged and dropped.
// Idempotent: applying the same snapshot twice leaves one record.
func (s *Store) Upsert(snapshot DailySnapshot) error {
	if snapshot.Date == "" {
		s.logger.Error("cannot add snapshot without date")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return err
		}
	}

	// Remove any existing snapshot for the same date
	kept := s.snapshots[:0]
	for _, existing := range s.snapshots {
		if existing.Date != snapshot.Date {
			kept = append(kept, existing)
		}
	}
	s.snapshots = append(kept, snapshot)

	// Newest first
	sort.Slice(s.snapshots, func(i, j int) bool {
		return s.snapshots[i].Date > s.snapshots[j].Date
	})

	if err := s.saveLocked(); err != nil {
		return err
	}
	s.logger.Debug("added daily snapshot", zap.String("date", snapshot.Date))
	return nil
}

// Snapshots returns a copy of the collection, newest first.
func (s *Store) Snapshots() []DailySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DailySnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Average over the trailing window. Returns 0.0 when no qualifying
// records exist.
func (s *Store) Average(key string, days int) float64 {
	values := s.windowValues(key, days)
	if len(values) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Min over the trailing window. Returns MinSentinel when no qualifying
// records exist.
func (s *Store) Min(key string, days int) float64 {
	values := s.windowValues(key, days)
	if len(values) == 0 {
		return MinSentinel
	}

	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// Max over the trailing window. Returns 0.0 when no qualifying records
// exist.
func (s *Store) Max(key string, days int) float64 {
	values := s.windowValues(key, days)
	if len(values) == 0 {
		return 0.0
	}

	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// Today returns the metric from today's snapshot, or 0.0 if absent.
func (s *Store) Today(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return 0.0
	}

	today := s.now().Format(time.DateOnly)
	for _, snapshot := range s.snapshots {
		if snapshot.Date == today {
			if v, ok := snapshot.Metric(key); ok {
				return v
			}
		}
	}
	return 0.0
}

// HasDataGap reports whether any critical derived signal has been
// unavailable/unknown for longer than one hour, measured from the last
// state transition supplied by the caller. Short-circuits on the first
// qualifying signal.
func (s *Store) HasDataGap(states map[string]SignalState) bool {
	now := s.now()
	for _, signalID := range criticalSignals {
		state, ok := states[signalID]
		if !ok {
			continue
		}

		if state.State != "unavailable" && state.State != "unknown" {
			continue
		}

		if !state.LastChanged.IsZero() && now.Sub(state.LastChanged) > dataGapThreshold {
			s.logger.Warn("data gap detected", zap.String("signal", signalID))
			return true
		}
	}
	return false
}

// BuildNotificationData assembles the fixed-shape notification report
// from store queries. The weekly-trigger flag is passed through.
func (s *Store) BuildNotificationData(isWeeklyTrigger bool, states map[string]SignalState) NotificationData {
	return NotificationData{
		HasDataGap: s.HasDataGap(states),

		SsToday:        s.Today("self_sufficiency"),
		NetUseToday:    s.Today("net_use"),
		NightUseToday:  s.Today("night_use"),
		EmissionsToday: s.Today("emissions"),

		NetUse7dAvg:     s.Average("net_use", 7),
		NightUse7dAvg:   s.Average("night_use", 7),
		Export7dAvg:     s.Average("export", 7),
		Production7dAvg: s.Average("production", 7),

		NetUse30dAvg: s.Average("net_use", 30),
		NetUse90dAvg: s.Average("net_use", 90),

		SsMaxLast30d:        s.Max("self_sufficiency", 30),
		EmissionsMinLast30d: s.Min("emissions", 30),
		NetUseMinLast30d:    s.Min("net_use", 30),

		IsWeeklyTrigger: isWeeklyTrigger,
	}
}

// windowValues collects metric values from snapshots with date >=
// (now - days), inclusive. Lexical date comparison is safe because the
// format is fixed-width ISO 8601.
func (s *Store) windowValues(key string, days int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return nil
	}

	cutoff := s.now().AddDate(0, 0, -days).Format(time.DateOnly)
	var values []float64
	for _, snapshot := range s.snapshots {
		if snapshot.Date < cutoff {
			continue
		}
		if v, ok := snapshot.Metric(key); ok {
			values = append(values, v)
		}
	}
	return values
}

// cleanupOldSnapshotsLocked drops records older than the retention
// window and persists immediately if anything was removed.
func (s *Store) cleanupOldSnapshotsLocked() error {
	cutoff := s.now().AddDate(0, 0, -retentionDays).Format(time.DateOnly)

	kept := s.snapshots[:0]
	for _, snapshot := range s.snapshots {
		if snapshot.Date >= cutoff {
			kept = append(kept, snapshot)
		}
	}

	removed := len(s.snapshots) - len(kept)
	s.snapshots = kept
	if removed == 0 {
		return nil
	}

	s.logger.Debug("cleaned up old snapshots", zap.Int("removed", removed))
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if !s.loaded {
		s.logger.Warn("cannot save notification metrics before loading")
		return nil
	}

	doc := &Document{
		DailySnapshots: s.snapshots,
		LastUpdated:    s.now().Format(time.RFC3339),
	}
	if err := s.storage.Save(doc); err != nil {
		s.logger.Error("error saving notification metrics", zap.Error(err))
		return err
	}
	return nil
}
