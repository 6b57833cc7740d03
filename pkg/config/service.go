package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/home_energy_core/pkg/pathing"
)

var ActiveEnergyCoreConfig *EnergyCoreConfig

func LoadEnergyCoreConfig() error {
	configPath := filepath.Join(pathing.GetConfigDir(), "energy_core.toml")
	return LoadEnergyCoreConfigFrom(configPath)
}

func LoadEnergyCoreConfigFrom(configPath string) error {
	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultEnergyCoreConfig()

		// Create file
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return err
		}
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		toml.NewEncoder(cfgFile).Encode(cfg)
		ActiveEnergyCoreConfig = cfg
		return nil
	}

	// Load existing config
	var config EnergyCoreConfig
	_, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		return err
	}
	ActiveEnergyCoreConfig = &config
	return nil
}

func DefaultEnergyCoreConfig() *EnergyCoreConfig {
	return &EnergyCoreConfig{
		ListenAddress:           "0.0.0.0",
		ListenPort:              9041,
		TriggerMode:             "interval",
		DeltaIntervalSeconds:    900,
		MaxKwAssumed:            50.0,
		ImportedSources:         []string{"p1.imported_total"},
		ExportedSources:         []string{"p1.exported_total"},
		ProducedSources:         []string{"inverter.produced_total"},
		SerialDevice:            "/dev/ttyUSB0",
		Baudrate:                115200,
		SolarInverterIp:         "192.168.200.1",
		SolarInverterModbusPort: 502,
		WlanConnectionId:        "preconfigured", // Check with `nmcli device status`
	}
}
