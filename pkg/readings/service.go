package readings

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Round6 rounds kWh figures to 6 decimal places. All energy values pass
// through this before comparison or storage so float noise on a flat
// counter can't read as a negative delta.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func isUnreadableState(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown", "unavailable", "none", "":
		return true
	}
	return false
}

// EnergyTotalKWh reads a cumulative energy total and normalizes it to kWh.
// Returns false if the source is missing, carries an unreadable state,
// is non-numeric, or reports a unit other than kWh/Wh.
func EnergyTotalKWh(r SourceReader, sourceID string) (float64, bool) {
	reading, ok := r.Read(sourceID)
	if !ok {
		return 0, false
	}

	if isUnreadableState(reading.Value) {
		return 0, false
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(reading.Value), 64)
	if err != nil {
		return 0, false
	}

	switch strings.ToLower(strings.TrimSpace(reading.Unit)) {
	case "wh":
		return val / 1000.0, true
	case "kwh":
		return val, true
	}

	// Unit should have been validated when the source was configured,
	// but keep this safe.
	return 0, false
}

// SumEnergyKWhStrict sums kWh totals across sources.
// Strict: if any source is missing/invalid the whole sum is unreadable,
// which invalidates the interval upstream. An empty list sums to 0.
func SumEnergyKWhStrict(r SourceReader, sourceIDs []string) (float64, bool) {
	if len(sourceIDs) == 0 {
		return 0.0, true
	}

	total := 0.0
	for _, id := range sourceIDs {
		v, ok := EnergyTotalKWh(r, id)
		if !ok {
			return 0, false
		}
		total += v
	}

	return Round6(total), true
}

// FloatSafe reads a best-effort float, falling back to 0.0 on anything
// unreadable. Used for instantaneous signals like carbon intensity that
// must never invalidate an interval.
func FloatSafe(r SourceReader, sourceID string) float64 {
	reading, ok := r.Read(sourceID)
	if !ok {
		return 0.0
	}

	if isUnreadableState(reading.Value) {
		return 0.0
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(reading.Value), 64)
	if err != nil {
		return 0.0
	}
	return val
}

// Registry multiplexes several reader backends by source id prefix.
// "p1.imported_total" is routed to the backend registered as "p1".
type Registry struct {
	mu       sync.RWMutex
	backends map[string]SourceReader
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		backends: make(map[string]SourceReader),
		logger:   logger,
	}
}

func (reg *Registry) Register(prefix string, r SourceReader) {
	reg.mu.Lock()
	reg.backends[prefix] = r
	reg.mu.Unlock()
	reg.logger.Info("registered reading backend", zap.String("prefix", prefix))
}

func (reg *Registry) Read(sourceID string) (Reading, bool) {
	prefix, _, found := strings.Cut(sourceID, ".")
	if !found {
		return Reading{}, false
	}

	reg.mu.RLock()
	backend, ok := reg.backends[prefix]
	reg.mu.RUnlock()
	if !ok {
		return Reading{}, false
	}

	return backend.Read(sourceID)
}
