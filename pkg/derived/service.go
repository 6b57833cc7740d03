// Stateless arithmetic turning validated totals into presentation KPIs.
// Everything here is a pure function of EnergyTotals; the Delta Engine
// and Metrics Store never depend on these shapes.
package derived

import (
	"github.com/NotCoffee418/home_energy_core/pkg/delta_engine"
)

func clampMin0(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0.0
}

// SelfConsumedKwh is production consumed on site directly, bypassing
// both the grid and the battery.
func SelfConsumedKwh(t delta_engine.EnergyTotals) float64 {
	return clampMin0(t.ProducedKwh - t.ExportedKwh - t.BatteryChargeKwh)
}

// SelfStoredKwh is the share of battery charge covered by own production.
func SelfStoredKwh(t delta_engine.EnergyTotals) float64 {
	return min(t.BatteryChargeKwh, clampMin0(t.ProducedKwh-t.ExportedKwh))
}

// ImportedBatteryKwh is battery charge that had to come from the grid.
func ImportedBatteryKwh(t delta_engine.EnergyTotals) float64 {
	return clampMin0(t.BatteryChargeKwh - clampMin0(t.ProducedKwh-t.ExportedKwh))
}

// ExportedBatteryKwh is battery discharge that left the site.
func ExportedBatteryKwh(t delta_engine.EnergyTotals) float64 {
	return min(t.BatteryDischargeKwh, t.ExportedKwh)
}

// SelfBatteryKwh is battery discharge consumed on site.
func SelfBatteryKwh(t delta_engine.EnergyTotals) float64 {
	return clampMin0(t.BatteryDischargeKwh - t.ExportedKwh)
}

// NetEnergyUseKwh is total on-site use: import plus production minus
// what left through the export meter.
func NetEnergyUseKwh(t delta_engine.EnergyTotals) float64 {
	return t.ImportedKwh + t.ProducedKwh - t.ExportedKwh
}

// NetImportKwh is the grid balance.
func NetImportKwh(t delta_engine.EnergyTotals) float64 {
	return t.ImportedKwh - t.ExportedKwh
}

// SelfSufficiency is the fraction of on-site use covered by local
// production rather than grid import, as a ratio in [0, 1].
func SelfSufficiency(t delta_engine.EnergyTotals) float64 {
	denom := t.ImportedKwh + (t.ProducedKwh - t.ExportedKwh)
	if denom <= 0 {
		return 0.0
	}
	ss := 1.0 - (t.ImportedKwh / denom)
	if ss < 0 {
		ss = 0.0
	}
	if ss > 1 {
		ss = 1.0
	}
	return ss
}

// EmissionsImportedG is grams CO2-eq attributed to grid import at the
// current intensity.
func EmissionsImportedG(t delta_engine.EnergyTotals) float64 {
	return t.ImportedKwh * t.Co2IntensityGPerKwh
}

// EmissionsAvoidedG credits export at the current intensity.
func EmissionsAvoidedG(t delta_engine.EnergyTotals) float64 {
	return t.ExportedKwh * t.Co2IntensityGPerKwh
}

// EmissionsNetG is the grid balance weighted by the current intensity.
func EmissionsNetG(t delta_engine.EnergyTotals) float64 {
	return (t.ImportedKwh - t.ExportedKwh) * t.Co2IntensityGPerKwh
}
