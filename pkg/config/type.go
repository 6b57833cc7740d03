package config

type EnergyCoreConfig struct {
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`

	// "interval" recomputes on a fixed cadence,
	// "events" recomputes whenever a source reports a change.
	TriggerMode          string  `toml:"trigger_mode"`
	DeltaIntervalSeconds int     `toml:"delta_interval_seconds"`
	MaxKwAssumed         float64 `toml:"max_kw_assumed"`

	// Source ids per category, resolved through the readings registry.
	// Prefix before the first dot selects the backend (p1, remote, inverter).
	ImportedSources         []string `toml:"imported_sources"`
	ExportedSources         []string `toml:"exported_sources"`
	ProducedSources         []string `toml:"produced_sources"`
	BatteryChargeSources    []string `toml:"battery_charge_sources"`
	BatteryDischargeSources []string `toml:"battery_discharge_sources"`
	Co2IntensitySource      string   `toml:"co2_intensity_source"`

	// P1 serial backend, empty device disables it
	SerialDevice string `toml:"serial_device"`
	Baudrate     uint   `toml:"baudrate"`

	// Remote meter API backend, empty host disables it
	RemoteMeterHost string `toml:"remote_meter_host"`

	// Solar inverter backend, empty ip disables it
	SolarInverterIp         string `toml:"solar_inverter_ip"`
	SolarInverterModbusPort int    `toml:"solar_inverter_modbus_port"`
	// Should be named `preconfigured`
	// Check with `nmcli device status`
	WlanConnectionId string `toml:"wlan_connection_id"`
}
