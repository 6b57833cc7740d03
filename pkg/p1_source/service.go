package p1_source

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/sigurn/crc16"
	"go.uber.org/zap"

	"github.com/NotCoffee418/home_energy_core/pkg/readings"
)

const (
	SourceImportedTotal = "p1.imported_total"
	SourceExportedTotal = "p1.exported_total"
)

// Initialize a new P1Source client.
func NewP1Source(device string, baudrate uint, logger *zap.Logger) *P1Source {
	source := &P1Source{
		device:   device,
		baudrate: baudrate,
		logger:   logger,
	}

	source.obisPatterns = map[string]*regexp.Regexp{
		"current_consumption":     regexp.MustCompile(`1-0:1\.7\.0\((\d+\.\d+)\*kW\)`),
		"current_production":      regexp.MustCompile(`1-0:2\.7\.0\((\d+\.\d+)\*kW\)`),
		"total_consumption_day":   regexp.MustCompile(`1-0:1\.8\.1\((\d+\.\d+)\*kWh\)`),
		"total_consumption_night": regexp.MustCompile(`1-0:1\.8\.2\((\d+\.\d+)\*kWh\)`),
		"total_production_day":    regexp.MustCompile(`1-0:2\.8\.1\((\d+\.\d+)\*kWh\)`),
		"total_production_night":  regexp.MustCompile(`1-0:2\.8\.2\((\d+\.\d+)\*kWh\)`),
	}

	return source
}

// Read implements readings.SourceReader for the two grid totals.
// Returns false until the first telegram has been parsed.
func (p *P1Source) Read(sourceID string) (readings.Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.latest == nil {
		return readings.Reading{}, false
	}

	var kwh float64
	switch sourceID {
	case SourceImportedTotal:
		kwh = p.latest.TotalConsumptionDayKwh + p.latest.TotalConsumptionNightKwh
	case SourceExportedTotal:
		kwh = p.latest.TotalProductionDayKwh + p.latest.TotalProductionNightKwh
	default:
		return readings.Reading{}, false
	}

	return readings.Reading{
		Value:       strconv.FormatFloat(kwh, 'f', -1, 64),
		Unit:        "kWh",
		LastChanged: p.lastChanged,
	}, true
}

// GetLatestSnapshot returns the most recently parsed telegram, or nil.
func (p *P1Source) GetLatestSnapshot() *MeterSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Start listening for telegrams. Messages arrive about once a second.
// onChange fires after every accepted telegram with the source ids that
// may have moved; handleError fires once if the reader gives up.
func (p *P1Source) Start(
	onChange func(sourceID string),
	handleError func(error),
) {
	p.stopSignal = false

	go func() {
		// Tolerance before we report error.
		consecutiveErrors := 0
		maxErrors := 10
		var lastError error

		if err := p.connect(); err != nil {
			handleError(err)
			return
		}

		for consecutiveErrors < maxErrors {
			if p.stopSignal {
				p.logger.Info("stop signal received, disconnecting")
				p.disconnect()
				return
			}

			telegram, err := p.readTelegram()
			if err != nil {
				consecutiveErrors++
				lastError = err
				p.logger.Warn("error reading telegram",
					zap.Int("attempt", consecutiveErrors),
					zap.Int("max", maxErrors),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			if snapshot := p.ParseTelegram(telegram); snapshot != nil {
				p.mu.Lock()
				p.latest = snapshot
				p.lastChanged = time.Now()
				p.mu.Unlock()

				if onChange != nil {
					onChange(SourceImportedTotal)
					onChange(SourceExportedTotal)
				}
				consecutiveErrors = 0
			}
		}

		p.logger.Error("too many consecutive errors, stopping reader",
			zap.Int("max", maxErrors),
			zap.Error(lastError))
		handleError(lastError)
		p.disconnect()
	}()
}

func (p *P1Source) Stop() {
	p.stopSignal = true
	p.disconnect()
}

// Open the connection to the P1 port.
func (p *P1Source) connect() error {
	options := serial.OpenOptions{
		PortName:        p.device,
		BaudRate:        p.baudrate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}

	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	p.serialPort = port
	p.logger.Info("connected to P1 port", zap.String("device", p.device))
	return nil
}

func (p *P1Source) disconnect() {
	if p.serialPort != nil {
		p.serialPort.Close()
		p.logger.Info("disconnected from P1 port")
	}
}

func (p *P1Source) readTelegram() (string, error) {
	if p.serialPort == nil {
		return "", fmt.Errorf("serial port not connected")
	}

	var buffer strings.Builder
	var inTelegram bool
	reader := bufio.NewReader(p.serialPort)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}

		if strings.HasPrefix(line, "/") {
			// Start of telegram
			buffer.Reset()
			buffer.WriteString(line)
			inTelegram = true
		} else if inTelegram {
			buffer.WriteString(line)
			if strings.HasPrefix(strings.TrimSpace(line), "!") {
				// End of telegram
				return buffer.String(), nil
			}
		}
	}
}

func (p *P1Source) validateCRC(telegram string) bool {
	parts := strings.Split(telegram, "!")
	if len(parts) != 2 || len(parts[1]) < 4 {
		return false
	}

	data := parts[0] + "!"
	givenCRC := parts[1][:4]

	// CRC16_ARC matches the Belgian DSMR specification
	table := crc16.MakeTable(crc16.CRC16_ARC)
	calcCRC := crc16.Checksum([]byte(data), table)
	calcCRCHex := fmt.Sprintf("%04X", calcCRC)

	return strings.ToUpper(givenCRC) == calcCRCHex
}

// ParseTelegram extracts the tracked registers from a raw telegram.
// Returns nil when the CRC does not check out.
func (p *P1Source) ParseTelegram(telegram string) *MeterSnapshot {
	if !p.validateCRC(telegram) {
		p.logger.Warn("invalid CRC, skipping telegram")
		return nil
	}

	snapshot := &MeterSnapshot{
		Timestamp: time.Now(),
	}

	obisMap := map[string]func(float64){
		"current_consumption":     func(v float64) { snapshot.CurrentConsumptionKw = v },
		"current_production":      func(v float64) { snapshot.CurrentProductionKw = v },
		"total_consumption_day":   func(v float64) { snapshot.TotalConsumptionDayKwh = v },
		"total_consumption_night": func(v float64) { snapshot.TotalConsumptionNightKwh = v },
		"total_production_day":    func(v float64) { snapshot.TotalProductionDayKwh = v },
		"total_production_night":  func(v float64) { snapshot.TotalProductionNightKwh = v },
	}

	for field, setter := range obisMap {
		if match := p.obisPatterns[field].FindStringSubmatch(telegram); match != nil {
			if value, err := strconv.ParseFloat(match[1], 64); err == nil {
				setter(value)
			}
		}
	}

	return snapshot
}
