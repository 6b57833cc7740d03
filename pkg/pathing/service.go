package pathing

import (
	"log"
	"os"
	"path/filepath"
)

// Ensure directories exist on startup
func init() {
	// Directories that must exist:
	dirs := []string{
		GetDataDir(),
	}

	// Create all directories
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			err := os.MkdirAll(dir, 0755)
			if err != nil {
				log.Fatal(err)
			}
		}
	}
}

func GetEnergyDbPath() string {
	// Join path
	return filepath.Join(GetDataDir(), "hec-energy.db")
}

func GetMetricsStorePath() string {
	return filepath.Join(GetDataDir(), "notification-metrics.json")
}

func GetDataDir() string {
	return "/var/lib/home_energy_core"
}

func GetConfigDir() string {
	return "/etc/home_energy_core"
}
