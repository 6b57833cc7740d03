package delta_engine

// Reason codes for invalid intervals. The set is closed; callers may
// switch on these without a default arm for unknown values.
const (
	// First successful reading only established the baseline.
	ReasonInitial = "initial"
	// One or more required cumulative sources was unreadable this cycle.
	ReasonMissingInput = "missing_input"
	// A counter went backwards (meter reset or rollover).
	ReasonNegativeDelta = "negative_delta"
	// A delta exceeded the plausible per-cycle ceiling.
	ReasonSpikeDetected = "spike_detected"
)

// EnergyTotals holds the cumulative meter standings plus the
// instantaneous carbon intensity of grid power.
type EnergyTotals struct {
	ImportedKwh         float64 `json:"imported_kwh"`
	ExportedKwh         float64 `json:"exported_kwh"`
	ProducedKwh         float64 `json:"produced_kwh"`
	BatteryChargeKwh    float64 `json:"battery_charge_kwh"`
	BatteryDischargeKwh float64 `json:"battery_discharge_kwh"`
	Co2IntensityGPerKwh float64 `json:"co2_intensity_g_per_kwh"`
}

// EnergyDeltas is the validated per-interval increase per source.
// When Valid is false every delta is zero and Reason is set.
type EnergyDeltas struct {
	ImportedKwh         float64 `json:"imported_kwh"`
	ExportedKwh         float64 `json:"exported_kwh"`
	ProducedKwh         float64 `json:"produced_kwh"`
	BatteryChargeKwh    float64 `json:"battery_charge_kwh"`
	BatteryDischargeKwh float64 `json:"battery_discharge_kwh"`
	Valid               bool    `json:"valid"`
	Reason              string  `json:"reason,omitempty"`
}

// SourceTotals is one cycle's worth of raw input. A nil pointer means
// the source was unreadable this cycle. Co2Intensity is best-effort and
// defaults to zero when unreadable.
type SourceTotals struct {
	Imported         *float64
	Exported         *float64
	Produced         *float64
	BatteryCharge    *float64
	BatteryDischarge *float64
	Co2Intensity     float64
}

// UpdateResult is the immutable outcome of one recomputation.
// Seq increments on every invocation, valid or not, giving callers a
// total order over attempts.
type UpdateResult struct {
	Totals    EnergyTotals `json:"totals"`
	Deltas    EnergyDeltas `json:"deltas"`
	Seq       uint64       `json:"seq"`
	UpdatedAt string       `json:"updated_at"`
}
