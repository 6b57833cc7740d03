package delta_engine

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine owns the previous-totals baseline and computes validated
// per-interval deltas from cumulative meter readings. It never returns
// an error: every outcome is an UpdateResult with a validity flag, so
// the presentation layer always has numbers to show, even stale ones.
type Engine struct {
	mu             sync.Mutex
	prevTotals     *EnergyTotals
	seq            uint64
	maxKwhPerCycle float64
	logger         *zap.Logger
	now            func() time.Time
}

// NewEngine builds an engine for a fixed recompute cadence. The spike
// guard ceiling is the assumed peak power sustained for one interval.
func NewEngine(maxKwAssumed float64, intervalSeconds int, logger *zap.Logger) *Engine {
	return &Engine{
		maxKwhPerCycle: round6(maxKwAssumed * (float64(intervalSeconds) / 3600.0)),
		logger:         logger,
		now:            time.Now,
	}
}

// NewEventDrivenEngine builds an engine for change-triggered recomputes.
// The elapsed time since the last change is unknown and must not be
// assumed, so the ceiling is a generous fixed one: a full hour at the
// assumed peak power.
func NewEventDrivenEngine(maxKwAssumed float64, logger *zap.Logger) *Engine {
	return &Engine{
		maxKwhPerCycle: round6(maxKwAssumed),
		logger:         logger,
		now:            time.Now,
	}
}

// MaxKwhPerCycle exposes the derived spike guard ceiling.
func (e *Engine) MaxKwhPerCycle() float64 {
	return e.maxKwhPerCycle
}

// Compute derives validated deltas for one cycle and advances or
// preserves the baseline according to what the inputs can be trusted
// for. Safe for concurrent callers; each invocation is atomic with
// respect to the baseline.
func (e *Engine) Compute(cur SourceTotals) UpdateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	updatedAt := e.now().UTC().Format(time.RFC3339)

	deltas := EnergyDeltas{Valid: true}

	// If any required total is unreadable, invalidate the interval and
	// DO NOT touch the baseline. An unreadable source carries no
	// information about true state; diffing a later good reading
	// against a fabricated zero would register as a massive spurious
	// delta and poison the period counters.
	if cur.Imported == nil || cur.Exported == nil || cur.Produced == nil ||
		cur.BatteryCharge == nil || cur.BatteryDischarge == nil {
		deltas.Valid = false
		deltas.Reason = ReasonMissingInput

		// Keep totals stable: previous totals if known, otherwise zeros.
		totals := EnergyTotals{}
		if e.prevTotals != nil {
			totals = *e.prevTotals
		}
		totals.Co2IntensityGPerKwh = cur.Co2Intensity

		e.logger.Warn("interval invalid, baseline frozen",
			zap.String("reason", ReasonMissingInput),
			zap.Uint64("seq", e.seq))
		return UpdateResult{Totals: totals, Deltas: deltas, Seq: e.seq, UpdatedAt: updatedAt}
	}

	totals := EnergyTotals{
		ImportedKwh:         round6(*cur.Imported),
		ExportedKwh:         round6(*cur.Exported),
		ProducedKwh:         round6(*cur.Produced),
		BatteryChargeKwh:    round6(*cur.BatteryCharge),
		BatteryDischargeKwh: round6(*cur.BatteryDischarge),
		Co2IntensityGPerKwh: cur.Co2Intensity,
	}

	// First successful reading: baseline only.
	if e.prevTotals == nil {
		deltas.Valid = false
		deltas.Reason = ReasonInitial
		baseline := totals
		e.prevTotals = &baseline

		e.logger.Info("baseline established", zap.Uint64("seq", e.seq))
		return UpdateResult{Totals: totals, Deltas: deltas, Seq: e.seq, UpdatedAt: updatedAt}
	}

	prev := *e.prevTotals

	dImported, rImported := e.deltaOrInvalid(totals.ImportedKwh, prev.ImportedKwh)
	dExported, rExported := e.deltaOrInvalid(totals.ExportedKwh, prev.ExportedKwh)
	dProduced, rProduced := e.deltaOrInvalid(totals.ProducedKwh, prev.ProducedKwh)
	dCharge, rCharge := e.deltaOrInvalid(totals.BatteryChargeKwh, prev.BatteryChargeKwh)
	dDischarge, rDischarge := e.deltaOrInvalid(totals.BatteryDischargeKwh, prev.BatteryDischargeKwh)

	if reason := firstReason(rImported, rExported, rProduced, rCharge, rDischarge); reason != "" {
		// The new totals themselves are trustworthy, only the implied
		// rate of change was unbelievable. Re-arm the baseline to the
		// current totals so the next cycle recovers immediately.
		deltas.Valid = false
		deltas.Reason = reason
		baseline := totals
		e.prevTotals = &baseline

		e.logger.Warn("interval invalid, baseline re-armed",
			zap.String("reason", reason),
			zap.Uint64("seq", e.seq))
		return UpdateResult{Totals: totals, Deltas: deltas, Seq: e.seq, UpdatedAt: updatedAt}
	}

	deltas.ImportedKwh = dImported
	deltas.ExportedKwh = dExported
	deltas.ProducedKwh = dProduced
	deltas.BatteryChargeKwh = dCharge
	deltas.BatteryDischargeKwh = dDischarge

	baseline := totals
	e.prevTotals = &baseline

	return UpdateResult{Totals: totals, Deltas: deltas, Seq: e.seq, UpdatedAt: updatedAt}
}

// deltaOrInvalid validates one source's delta against monotonicity and
// the spike guard. Returns the accepted delta, or 0 with a reason.
func (e *Engine) deltaOrInvalid(cur, prev float64) (float64, string) {
	d := round6(cur - prev)

	if d < 0 {
		return 0.0, ReasonNegativeDelta
	}

	if d > e.maxKwhPerCycle {
		return 0.0, ReasonSpikeDetected
	}

	return d, ""
}

// firstReason returns the first non-empty reason in source order:
// imported, exported, produced, charge, discharge.
func firstReason(reasons ...string) string {
	for _, r := range reasons {
		if r != "" {
			return r
		}
	}
	return ""
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
