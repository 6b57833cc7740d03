// Remote source subscribes to another energy core instance's /ws
// broadcast and re-exposes its validated totals as local sources.
// Useful when the meter hardware hangs off a different host.
package remote_source

import (
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/NotCoffee418/home_energy_core/pkg/delta_engine"
	"github.com/NotCoffee418/home_energy_core/pkg/readings"
)

const (
	SourceImported         = "remote.imported"
	SourceExported         = "remote.exported"
	SourceProduced         = "remote.produced"
	SourceBatteryCharge    = "remote.battery_charge"
	SourceBatteryDischarge = "remote.battery_discharge"
	SourceCo2Intensity     = "remote.co2_intensity"
)

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second
	readDeadline   = 90 * time.Second
	pingInterval   = 30 * time.Second
)

type RemoteSource struct {
	host   string
	logger *zap.Logger

	mu          sync.RWMutex
	latest      *delta_engine.EnergyTotals
	lastChanged time.Time

	stop chan struct{}
}

func NewRemoteSource(host string, logger *zap.Logger) *RemoteSource {
	return &RemoteSource{
		host:   host,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Read implements readings.SourceReader over the last received totals.
func (r *RemoteSource) Read(sourceID string) (readings.Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.latest == nil {
		return readings.Reading{}, false
	}

	var value float64
	unit := "kWh"
	switch sourceID {
	case SourceImported:
		value = r.latest.ImportedKwh
	case SourceExported:
		value = r.latest.ExportedKwh
	case SourceProduced:
		value = r.latest.ProducedKwh
	case SourceBatteryCharge:
		value = r.latest.BatteryChargeKwh
	case SourceBatteryDischarge:
		value = r.latest.BatteryDischargeKwh
	case SourceCo2Intensity:
		value = r.latest.Co2IntensityGPerKwh
		unit = "gCO2eq/kWh"
	default:
		return readings.Reading{}, false
	}

	return readings.Reading{
		Value:       strconv.FormatFloat(value, 'f', -1, 64),
		Unit:        unit,
		LastChanged: r.lastChanged,
	}, true
}

// Start maintains the websocket subscription with exponential backoff
// until Stop is called. onChange fires once per received result.
func (r *RemoteSource) Start(onChange func(sourceID string)) {
	go r.run(onChange)
}

func (r *RemoteSource) Stop() {
	close(r.stop)
}

func (r *RemoteSource) run(onChange func(sourceID string)) {
	u := url.URL{Scheme: "ws", Host: r.host, Path: "/ws"}
	retryCount := 0

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		// Exponential backoff between attempts
		if retryCount > 0 {
			retryDelay := time.Duration(1<<retryCount) * baseRetryDelay
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
			r.logger.Info("retrying remote meter connection",
				zap.Duration("delay", retryDelay),
				zap.Int("attempt", retryCount+1),
				zap.Int("max", maxRetries))
			select {
			case <-time.After(retryDelay):
			case <-r.stop:
				return
			}
		}

		r.logger.Info("connecting to remote meter", zap.String("url", u.String()))

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.Dial(u.String(), nil)
		if err != nil {
			r.logger.Warn("remote meter connection failed", zap.Error(err))
			retryCount++
			if retryCount >= maxRetries {
				r.logger.Error("max retries reached, giving up on remote meter",
					zap.Int("max", maxRetries))
				return
			}
			continue
		}

		r.logger.Info("connected to remote meter")
		retryCount = 0

		connectionBroken := r.handleConnection(conn, onChange)
		conn.Close()

		if !connectionBroken {
			// Clean shutdown requested
			return
		}

		r.logger.Warn("remote meter connection lost, will retry")
		retryCount = 1
	}
}

// handleConnection pumps results until the connection breaks (true) or
// a stop was requested (false).
func (r *RemoteSource) handleConnection(conn *websocket.Conn, onChange func(sourceID string)) bool {
	done := make(chan struct{})

	conn.SetReadDeadline(time.Now().Add(readDeadline))

	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					r.logger.Warn("websocket error", zap.Error(err))
				} else {
					r.logger.Info("remote meter connection closed", zap.Error(err))
				}
				return
			}

			conn.SetReadDeadline(time.Now().Add(readDeadline))

			if messageType != websocket.TextMessage {
				continue
			}

			var result delta_engine.UpdateResult
			if err := json.Unmarshal(message, &result); err != nil {
				r.logger.Warn("failed to parse remote result", zap.Error(err))
				continue
			}

			totals := result.Totals
			r.mu.Lock()
			r.latest = &totals
			r.lastChanged = time.Now()
			r.mu.Unlock()

			if onChange != nil {
				onChange(SourceImported)
			}
		}
	}()

	// Periodic pings keep the connection alive through idle stretches.
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				r.logger.Warn("failed to send ping", zap.Error(err))
				<-done
				return true
			}
		case <-done:
			return true
		case <-r.stop:
			err := conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				r.logger.Warn("error sending close message", zap.Error(err))
			}

			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
