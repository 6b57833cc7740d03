// Inverter source reads the solar inverter's lifetime energy yield over
// Modbus TCP and exposes it as the produced-total source.
package inverter_source

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/NotCoffee418/home_energy_core/pkg/readings"
)

const SourceProducedTotal = "inverter.produced_total"

// Accumulated energy yield register: U32, gain 100, kWh.
const (
	yieldRegister      = 32106
	yieldRegisterCount = 2
	yieldGain          = 100.0
)

// Totals move slowly, no point hammering the inverter more often.
const readCacheWindow = 30 * time.Second

var (
	ErrModbusNotConfigured = fmt.Errorf("modbus not configured") // may be intended
	ErrModbusReadFailed    = fmt.Errorf("modbus read failed")
	ErrModbusNotConnected  = fmt.Errorf("modbus not connected")
)

type InverterSource struct {
	ip               string
	modbusPort       int
	wlanConnectionID string
	logger           *zap.Logger

	mu           sync.Mutex
	lastYieldKwh float64
	lastReadTime time.Time
}

func NewInverterSource(ip string, modbusPort int, wlanConnectionID string, logger *zap.Logger) *InverterSource {
	return &InverterSource{
		ip:               ip,
		modbusPort:       modbusPort,
		wlanConnectionID: wlanConnectionID,
		logger:           logger,
	}
}

// IsConfigured checks if the modbus configuration is set.
// This feature is optional, empty values as config are acceptable.
func (s *InverterSource) IsConfigured() bool {
	return s.ip != "" && s.modbusPort != 0 && s.wlanConnectionID != ""
}

// Read implements readings.SourceReader for the produced total.
// An unreachable inverter reads as unavailable, which invalidates the
// interval upstream rather than faking a zero total.
func (s *InverterSource) Read(sourceID string) (readings.Reading, bool) {
	if sourceID != SourceProducedTotal {
		return readings.Reading{}, false
	}

	kwh, err := s.ReadTotalYieldKwh()
	if err != nil {
		s.logger.Warn("inverter read failed", zap.Error(err))
		return readings.Reading{}, false
	}

	s.mu.Lock()
	lastChanged := s.lastReadTime
	s.mu.Unlock()

	return readings.Reading{
		Value:       strconv.FormatFloat(kwh, 'f', -1, 64),
		Unit:        "kWh",
		LastChanged: lastChanged,
	}, true
}

// ReadTotalYieldKwh reads the accumulated energy yield register.
func (s *InverterSource) ReadTotalYieldKwh() (float64, error) {
	if !s.IsConfigured() {
		return 0, ErrModbusNotConfigured
	}

	// Use cached reads to avoid spamming the poor inverter
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReadTime.After(time.Now().Add(-readCacheWindow)) {
		return s.lastYieldKwh, nil
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// Try reconnecting on retry attempts
			if err := s.tryReconnect(); err != nil {
				lastErr = fmt.Errorf("reconnect failed on attempt %d: %w", attempt+1, err)
				continue
			}
		}

		// Ping check before attempting modbus connection
		if ok, _, err := ping(s.ip); !ok || err != nil {
			lastErr = fmt.Errorf("ping failed on attempt %d: %w", attempt+1, err)
			if attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", s.ip, s.modbusPort))
		handler.Timeout = 10 * time.Second
		handler.SlaveId = 0

		if err := handler.Connect(); err != nil {
			lastErr = fmt.Errorf("connection failed on attempt %d: %w", attempt+1, err)
			handler.Close()
			if attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		// The 2s delay after connecting causes everything to not implode as much
		time.Sleep(2 * time.Second)
		client := modbus.NewClient(handler)

		result, err := client.ReadHoldingRegisters(yieldRegister, yieldRegisterCount)
		handler.Close()

		if err != nil {
			lastErr = fmt.Errorf("read yield failed on attempt %d: %w", attempt+1, err)
			if attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		raw := uint32(result[0])<<24 | uint32(result[1])<<16 | uint32(result[2])<<8 | uint32(result[3])
		kwh := float64(raw) / yieldGain
		s.lastYieldKwh = kwh
		s.lastReadTime = time.Now()
		return kwh, nil
	}

	return 0, errors.Join(ErrModbusReadFailed, lastErr)
}

func (s *InverterSource) tryReconnect() error {
	if !s.IsConfigured() {
		return ErrModbusNotConfigured
	}

	// Check if already connected
	ok, _, err := ping(s.ip)
	if err != nil {
		return err
	}
	if ok {
		return nil // Already connected, no need to reconnect
	}

	// Try reconnecting to wifi
	cmd := exec.Command("nmcli", "connection", "up", s.wlanConnectionID)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to bring up wifi connection: %w", err)
	}

	// Wait a bit for the connection to establish
	time.Sleep(5 * time.Second)

	// Check connection again
	ok, _, err = ping(s.ip)
	if err != nil {
		return err
	}
	if !ok {
		return ErrModbusNotConnected
	}
	return nil
}

func ping(host string) (bool, time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	err = pinger.Run()
	if err != nil {
		return false, 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt, nil
	}

	return false, 0, fmt.Errorf("no response")
}
