package energydb

import (
	"time"

	"github.com/NotCoffee418/home_energy_core/pkg/delta_engine"
	"go.uber.org/zap"
)

func (d *DB) InsertIntervalResult(res *delta_engine.UpdateResult) error {
	ts := time.Now().UTC().Unix()
	if t, err := time.Parse(time.RFC3339, res.UpdatedAt); err == nil {
		ts = t.Unix()
	}

	validFlag := 0
	if res.Deltas.Valid {
		validFlag = 1
	}

	_, err := d.sql.Exec(
		"INSERT INTO interval_results "+
			"(seq, timestamp, "+
			"total_imported_kwh, total_exported_kwh, total_produced_kwh, total_charge_kwh, total_discharge_kwh, "+
			"delta_imported_kwh, delta_exported_kwh, delta_produced_kwh, delta_charge_kwh, delta_discharge_kwh, "+
			"co2_intensity_g_per_kwh, valid, reason) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		res.Seq,
		ts,
		res.Totals.ImportedKwh,
		res.Totals.ExportedKwh,
		res.Totals.ProducedKwh,
		res.Totals.BatteryChargeKwh,
		res.Totals.BatteryDischargeKwh,
		res.Deltas.ImportedKwh,
		res.Deltas.ExportedKwh,
		res.Deltas.ProducedKwh,
		res.Deltas.BatteryChargeKwh,
		res.Deltas.BatteryDischargeKwh,
		res.Totals.Co2IntensityGPerKwh,
		validFlag,
		res.Deltas.Reason,
	)
	if err != nil {
		return err
	}
	return nil
}

// WriteResultAsync stores the result without blocking the caller.
// Failures are logged and isolated from the core computation.
func (d *DB) WriteResultAsync(res delta_engine.UpdateResult) {
	go func() {
		if err := d.InsertIntervalResult(&res); err != nil {
			d.logger.Error("failed to store interval result",
				zap.Uint64("seq", res.Seq),
				zap.Error(err))
		}
	}()
}

// CleanupOldResults removes interval rows older than three months.
// Daily snapshots in the metrics store cover anything older.
func (d *DB) CleanupOldResults() error {
	cutoff := time.Now().UTC().AddDate(0, -3, 0).Unix()
	_, err := d.sql.Exec("DELETE FROM interval_results WHERE timestamp < ?", cutoff)
	return err
}
