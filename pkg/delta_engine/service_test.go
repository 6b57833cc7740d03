package delta_engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NotCoffee418/home_energy_core/pkg/delta_engine"
)

func f(v float64) *float64 {
	return &v
}

func allTotals(imported, exported, produced, charge, discharge float64) delta_engine.SourceTotals {
	return delta_engine.SourceTotals{
		Imported:         f(imported),
		Exported:         f(exported),
		Produced:         f(produced),
		BatteryCharge:    f(charge),
		BatteryDischarge: f(discharge),
	}
}

func TestIntervalCeilingDerivation(t *testing.T) {
	// 50 kW sustained for 15 minutes is 12.5 kWh
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())
	require.Equal(t, 12.5, engine.MaxKwhPerCycle())
}

func TestEventDrivenCeilingIsOneHourAtPeak(t *testing.T) {
	engine := delta_engine.NewEventDrivenEngine(50.0, zap.NewNop())
	require.Equal(t, 50.0, engine.MaxKwhPerCycle())
}

func TestFirstReadingEstablishesBaseline(t *testing.T) {
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	res := engine.Compute(allTotals(10.0, 1.0, 2.0, 0.5, 0.25))

	require.False(t, res.Deltas.Valid)
	require.Equal(t, delta_engine.ReasonInitial, res.Deltas.Reason)
	require.Equal(t, uint64(1), res.Seq)
	require.Equal(t, 10.0, res.Totals.ImportedKwh)
	require.Zero(t, res.Deltas.ImportedKwh)
}

func TestMeterResetRecovery(t *testing.T) {
	// Baseline, valid delta, counter reset, then recovery against the
	// re-armed baseline.
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	res := engine.Compute(allTotals(10.0, 0, 0, 0, 0))
	require.Equal(t, delta_engine.ReasonInitial, res.Deltas.Reason)

	res = engine.Compute(allTotals(12.5, 0, 0, 0, 0))
	require.True(t, res.Deltas.Valid)
	require.Equal(t, 2.5, res.Deltas.ImportedKwh)

	// Meter reset: counter went backwards
	res = engine.Compute(allTotals(12.0, 0, 0, 0, 0))
	require.False(t, res.Deltas.Valid)
	require.Equal(t, delta_engine.ReasonNegativeDelta, res.Deltas.Reason)
	require.Zero(t, res.Deltas.ImportedKwh)

	// Next cycle diffs against the re-armed (lower) baseline
	res = engine.Compute(allTotals(12.3, 0, 0, 0, 0))
	require.True(t, res.Deltas.Valid)
	require.InDelta(t, 0.3, res.Deltas.ImportedKwh, 1e-9)
}

func TestSpikeDetectionReArmsBaseline(t *testing.T) {
	// Ceiling 12.5 kWh per cycle
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	engine.Compute(allTotals(12.5, 0, 0, 0, 0))

	res := engine.Compute(allTotals(30.0, 0, 0, 0, 0))
	require.False(t, res.Deltas.Valid)
	require.Equal(t, delta_engine.ReasonSpikeDetected, res.Deltas.Reason)
	require.Zero(t, res.Deltas.ImportedKwh)

	// Baseline re-armed to 30.0, not stuck at 12.5
	res = engine.Compute(allTotals(31.0, 0, 0, 0, 0))
	require.True(t, res.Deltas.Valid)
	require.Equal(t, 1.0, res.Deltas.ImportedKwh)
}

func TestMissingInputFreezesBaseline(t *testing.T) {
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	engine.Compute(allTotals(100.0, 50.0, 20.0, 5.0, 4.0))

	// Produced goes unreadable: interval invalid, baseline untouched
	gap := delta_engine.SourceTotals{
		Imported:         f(101.0),
		Exported:         f(50.5),
		Produced:         nil,
		BatteryCharge:    f(5.0),
		BatteryDischarge: f(4.0),
		Co2Intensity:     220.0,
	}
	res := engine.Compute(gap)
	require.False(t, res.Deltas.Valid)
	require.Equal(t, delta_engine.ReasonMissingInput, res.Deltas.Reason)
	// Reported totals are the frozen baseline with refreshed intensity
	require.Equal(t, 100.0, res.Totals.ImportedKwh)
	require.Equal(t, 220.0, res.Totals.Co2IntensityGPerKwh)

	// Recovery diffs against the pre-gap baseline, not a zero baseline
	res = engine.Compute(allTotals(102.0, 51.0, 21.0, 5.5, 4.25))
	require.True(t, res.Deltas.Valid)
	require.InDelta(t, 2.0, res.Deltas.ImportedKwh, 1e-9)
	require.InDelta(t, 1.0, res.Deltas.ExportedKwh, 1e-9)
	require.InDelta(t, 1.0, res.Deltas.ProducedKwh, 1e-9)
	require.InDelta(t, 0.5, res.Deltas.BatteryChargeKwh, 1e-9)
	require.InDelta(t, 0.25, res.Deltas.BatteryDischargeKwh, 1e-9)
}

func TestMissingInputBeforeAnyBaseline(t *testing.T) {
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	res := engine.Compute(delta_engine.SourceTotals{Co2Intensity: 300.0})
	require.False(t, res.Deltas.Valid)
	require.Equal(t, delta_engine.ReasonMissingInput, res.Deltas.Reason)
	require.Zero(t, res.Totals.ImportedKwh)
	require.Equal(t, 300.0, res.Totals.Co2IntensityGPerKwh)
}

func TestSequenceIncrementsOnEveryInvocation(t *testing.T) {
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	res := engine.Compute(delta_engine.SourceTotals{}) // missing_input
	require.Equal(t, uint64(1), res.Seq)

	res = engine.Compute(allTotals(1, 0, 0, 0, 0)) // initial
	require.Equal(t, uint64(2), res.Seq)

	res = engine.Compute(allTotals(1.5, 0, 0, 0, 0)) // valid
	require.Equal(t, uint64(3), res.Seq)

	res = engine.Compute(allTotals(1.0, 0, 0, 0, 0)) // negative_delta
	require.Equal(t, uint64(4), res.Seq)
}

func TestReasonFollowsSourceOrder(t *testing.T) {
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	engine.Compute(allTotals(10.0, 10.0, 0, 0, 0))

	// Imported spikes and exported goes backwards in the same cycle;
	// imported is checked first so its reason wins.
	res := engine.Compute(allTotals(100.0, 9.0, 0, 0, 0))
	require.False(t, res.Deltas.Valid)
	require.Equal(t, delta_engine.ReasonSpikeDetected, res.Deltas.Reason)
}

func TestInvalidIntervalZeroesAllDeltas(t *testing.T) {
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	engine.Compute(allTotals(10.0, 5.0, 3.0, 1.0, 1.0))

	// Discharge goes backwards; the healthy imported delta must not leak
	res := engine.Compute(allTotals(11.0, 5.5, 3.5, 1.5, 0.5))
	require.False(t, res.Deltas.Valid)
	require.Zero(t, res.Deltas.ImportedKwh)
	require.Zero(t, res.Deltas.ExportedKwh)
	require.Zero(t, res.Deltas.ProducedKwh)
	require.Zero(t, res.Deltas.BatteryChargeKwh)
	require.Zero(t, res.Deltas.BatteryDischargeKwh)
}

func TestTelescopingSum(t *testing.T) {
	// With no gaps and no rejected deltas, accepted deltas telescope to
	// totals[N] - totals[0].
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	steps := []delta_engine.SourceTotals{
		allTotals(10.0, 2.0, 5.0, 1.0, 0.5),
		allTotals(11.2, 2.6, 6.1, 1.4, 0.9),
		allTotals(12.9, 3.3, 8.0, 2.0, 1.5),
		allTotals(13.0, 3.3, 8.05, 2.0, 1.5),
		allTotals(15.5, 4.1, 9.9, 2.75, 2.25),
	}

	var sumImported, sumExported, sumProduced, sumCharge, sumDischarge float64
	for _, step := range steps {
		res := engine.Compute(step)
		sumImported += res.Deltas.ImportedKwh
		sumExported += res.Deltas.ExportedKwh
		sumProduced += res.Deltas.ProducedKwh
		sumCharge += res.Deltas.BatteryChargeKwh
		sumDischarge += res.Deltas.BatteryDischargeKwh
	}

	require.InDelta(t, 15.5-10.0, sumImported, 1e-6)
	require.InDelta(t, 4.1-2.0, sumExported, 1e-6)
	require.InDelta(t, 9.9-5.0, sumProduced, 1e-6)
	require.InDelta(t, 2.75-1.0, sumCharge, 1e-6)
	require.InDelta(t, 2.25-0.5, sumDischarge, 1e-6)
}

func TestFlatCounterFloatNoiseIsNotNegative(t *testing.T) {
	engine := delta_engine.NewEngine(50.0, 900, zap.NewNop())

	engine.Compute(allTotals(10.0, 0, 0, 0, 0))

	// Sub-microjoule jitter below the rounding precision reads as flat
	res := engine.Compute(allTotals(9.9999999, 0, 0, 0, 0))
	require.True(t, res.Deltas.Valid)
	require.Zero(t, res.Deltas.ImportedKwh)
}
