package derived

import (
	"sync"
	"time"

	"github.com/NotCoffee418/home_energy_core/pkg/delta_engine"
	"github.com/NotCoffee418/home_energy_core/pkg/metrics_store"
)

// nightUseFraction approximates the 00:00-07:00 share of daily net use
// as a fixed 7/24 fraction. Known approximation carried over from the
// original metering setup, which has no true night-window meter.
const nightUseFraction = 7.0 / 24.0

// DayTracker accumulates validated interval deltas into one local
// calendar day's derived figures and emits the finished day as a
// DailySnapshot at rollover. Invalid intervals contribute nothing.
type DayTracker struct {
	mu   sync.Mutex
	date string

	importedKwh  float64
	exportedKwh  float64
	producedKwh  float64
	chargeKwh    float64
	dischargeKwh float64
	// Emissions integrate per interval at that interval's intensity,
	// not daily-net times final intensity.
	emissionsG float64

	now func() time.Time
}

func NewDayTracker() *DayTracker {
	return NewDayTrackerWithClock(time.Now)
}

func NewDayTrackerWithClock(now func() time.Time) *DayTracker {
	return &DayTracker{now: now}
}

// Record folds one recomputation result into the running day. When this
// is the first recording after local midnight it returns the finished
// previous day's snapshot for upserting; otherwise nil.
func (d *DayTracker) Record(res delta_engine.UpdateResult) *metrics_store.DailySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := d.now().Format(time.DateOnly)

	var finished *metrics_store.DailySnapshot
	if d.date != "" && d.date != today {
		snap := d.snapshotLocked()
		finished = &snap
		d.resetLocked()
	}
	if d.date == "" {
		d.date = today
	}

	if res.Deltas.Valid {
		d.importedKwh += res.Deltas.ImportedKwh
		d.exportedKwh += res.Deltas.ExportedKwh
		d.producedKwh += res.Deltas.ProducedKwh
		d.chargeKwh += res.Deltas.BatteryChargeKwh
		d.dischargeKwh += res.Deltas.BatteryDischargeKwh
		d.emissionsG += (res.Deltas.ImportedKwh - res.Deltas.ExportedKwh) * res.Totals.Co2IntensityGPerKwh
	}

	return finished
}

// Rollover finalizes the running day, resets the accumulator for the
// new date, and returns the finished snapshot. Called by the midnight
// trigger.
func (d *DayTracker) Rollover() metrics_store.DailySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.snapshotLocked()
	d.resetLocked()
	d.date = d.now().Format(time.DateOnly)
	return snap
}

// Snapshot returns the running day's figures so far without resetting.
func (d *DayTracker) Snapshot() metrics_store.DailySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *DayTracker) snapshotLocked() metrics_store.DailySnapshot {
	dayTotals := delta_engine.EnergyTotals{
		ImportedKwh:         d.importedKwh,
		ExportedKwh:         d.exportedKwh,
		ProducedKwh:         d.producedKwh,
		BatteryChargeKwh:    d.chargeKwh,
		BatteryDischargeKwh: d.dischargeKwh,
	}

	netUse := NetEnergyUseKwh(dayTotals)
	date := d.date
	if date == "" {
		date = d.now().Format(time.DateOnly)
	}

	return metrics_store.DailySnapshot{
		Date:            date,
		NetUse:          netUse,
		Production:      d.producedKwh,
		Export:          d.exportedKwh,
		NightUse:        netUse * nightUseFraction,
		Emissions:       d.emissionsG,
		SelfSufficiency: SelfSufficiency(dayTotals),
	}
}

func (d *DayTracker) resetLocked() {
	d.date = ""
	d.importedKwh = 0
	d.exportedKwh = 0
	d.producedKwh = 0
	d.chargeKwh = 0
	d.dischargeKwh = 0
	d.emissionsG = 0
}
