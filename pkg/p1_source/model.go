package p1_source

import (
	"io"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MeterSnapshot is the subset of a DSMR telegram this system cares
// about: the cumulative registers plus instantaneous power.
type MeterSnapshot struct {
	Timestamp time.Time

	CurrentConsumptionKw float64
	CurrentProductionKw  float64

	TotalConsumptionDayKwh   float64
	TotalConsumptionNightKwh float64
	TotalProductionDayKwh    float64
	TotalProductionNightKwh  float64
}

// P1Source reads a DSMR P1 serial port and serves the parsed cumulative
// totals through the readings registry. Source ids:
//
//	p1.imported_total  - day + night consumption registers, kWh
//	p1.exported_total  - day + night production registers, kWh
type P1Source struct {
	device   string
	baudrate uint
	logger   *zap.Logger

	serialPort io.ReadWriteCloser

	mu          sync.RWMutex
	latest      *MeterSnapshot
	lastChanged time.Time

	stopSignal bool

	// Pre-compiled OBIS patterns
	obisPatterns map[string]*regexp.Regexp
}
