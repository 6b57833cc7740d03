// Energy core service: reads cumulative meter totals, computes
// validated per-interval deltas, maintains the daily notification
// metrics store, and broadcasts every recomputation over websocket.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/NotCoffee418/home_energy_core/pkg/config"
	"github.com/NotCoffee418/home_energy_core/pkg/delta_engine"
	"github.com/NotCoffee418/home_energy_core/pkg/derived"
	"github.com/NotCoffee418/home_energy_core/pkg/energydb"
	"github.com/NotCoffee418/home_energy_core/pkg/inverter_source"
	"github.com/NotCoffee418/home_energy_core/pkg/metrics_store"
	"github.com/NotCoffee418/home_energy_core/pkg/p1_source"
	"github.com/NotCoffee418/home_energy_core/pkg/pathing"
	"github.com/NotCoffee418/home_energy_core/pkg/readings"
	"github.com/NotCoffee418/home_energy_core/pkg/remote_source"
	"github.com/NotCoffee418/home_energy_core/pkg/trigger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// ws clients for broadcasting recomputation results
var (
	wsClients      = make(map[*websocket.Conn]bool)
	wsClientsMutex = sync.RWMutex{}
)

// latest result for the /latest endpoint
var (
	latestResult      *delta_engine.UpdateResult
	latestResultMutex = sync.RWMutex{}
)

// signalTracker derives the current availability of the critical
// day-level signals from recomputation outcomes, for the data-gap
// check. LastChanged only moves on a state transition.
type signalTracker struct {
	mu     sync.Mutex
	states map[string]metrics_store.SignalState
}

var trackedSignals = []string{
	"production_day",
	"consumption_day",
	"import_day",
	"export_day",
}

func newSignalTracker() *signalTracker {
	return &signalTracker{states: make(map[string]metrics_store.SignalState)}
}

func (t *signalTracker) observe(res delta_engine.UpdateResult) {
	newState := "ok"
	if !res.Deltas.Valid && res.Deltas.Reason == delta_engine.ReasonMissingInput {
		newState = "unavailable"
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range trackedSignals {
		prev, ok := t.states[id]
		if !ok || prev.State != newState {
			t.states[id] = metrics_store.SignalState{State: newState, LastChanged: time.Now()}
		}
	}
}

func (t *signalTracker) snapshot() map[string]metrics_store.SignalState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]metrics_store.SignalState, len(t.states))
	for id, st := range t.states {
		out[id] = st
	}
	return out
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config
	if err := config.LoadEnergyCoreConfig(); err != nil {
		logger.Fatal("failed to load energy core config", zap.Error(err))
	}
	cfg := config.ActiveEnergyCoreConfig

	sched := trigger.NewScheduler(logger)

	// Reading backends
	registry := readings.NewRegistry(logger)

	if cfg.SerialDevice != "" {
		p1 := p1_source.NewP1Source(cfg.SerialDevice, cfg.Baudrate, logger)
		p1.Start(sched.NotifyChange, func(err error) {
			if err != nil {
				logger.Error("P1 reader stopped", zap.Error(err))
			}
		})
		defer p1.Stop()
		registry.Register("p1", p1)
	}

	if cfg.RemoteMeterHost != "" {
		remote := remote_source.NewRemoteSource(cfg.RemoteMeterHost, logger)
		remote.Start(sched.NotifyChange)
		defer remote.Stop()
		registry.Register("remote", remote)
	}

	inverter := inverter_source.NewInverterSource(
		cfg.SolarInverterIp,
		cfg.SolarInverterModbusPort,
		cfg.WlanConnectionId,
		logger,
	)
	if inverter.IsConfigured() {
		registry.Register("inverter", inverter)
	}

	// Delta engine: ceiling depends on trigger mode
	var engine *delta_engine.Engine
	if cfg.TriggerMode == "events" {
		engine = delta_engine.NewEventDrivenEngine(cfg.MaxKwAssumed, logger)
	} else {
		engine = delta_engine.NewEngine(cfg.MaxKwAssumed, cfg.DeltaIntervalSeconds, logger)
	}

	// Daily metrics store
	store := metrics_store.NewStore(
		metrics_store.NewFileStorage(pathing.GetMetricsStorePath()),
		logger,
	)
	if err := store.Load(); err != nil {
		logger.Warn("metrics store cleanup save failed", zap.Error(err))
	}

	// Interval result sink
	edb, err := energydb.Open(pathing.GetEnergyDbPath(), logger)
	if err != nil {
		logger.Fatal("failed to open energy db", zap.Error(err))
	}
	defer edb.Close()

	tracker := derived.NewDayTracker()
	signals := newSignalTracker()

	recompute := func() {
		res := engine.Compute(readSourceTotals(registry, cfg))

		latestResultMutex.Lock()
		latestResult = &res
		latestResultMutex.Unlock()

		signals.observe(res)
		edb.WriteResultAsync(res)
		broadcastToWebSockets(res, logger)

		// First recomputation after local midnight finalizes yesterday
		if finished := tracker.Record(res); finished != nil {
			if err := store.Upsert(*finished); err != nil {
				logger.Error("failed to store daily snapshot", zap.Error(err))
			}
		}
	}

	// Triggers
	if cfg.TriggerMode == "events" {
		sched.OnChange(func(string) { recompute() })
	} else {
		if err := sched.EveryInterval(cfg.DeltaIntervalSeconds, recompute); err != nil {
			logger.Fatal("failed to schedule recompute", zap.Error(err))
		}
	}
	if err := sched.AtLocalMidnight(func() {
		snapshot := tracker.Rollover()
		if err := store.Upsert(snapshot); err != nil {
			logger.Error("failed to store midnight snapshot", zap.Error(err))
		}
		if err := edb.CleanupOldResults(); err != nil {
			logger.Error("failed to clean up old interval results", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("failed to schedule midnight rollover", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	// Setup HTTP handlers
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"message": "Home Energy Core API",
			"status":  "running",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	http.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		latestResultMutex.RLock()
		result := latestResult
		latestResultMutex.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		if result == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "No results available yet",
			})
			return
		}

		json.NewEncoder(w).Encode(result)
	})

	http.HandleFunc("/notification", func(w http.ResponseWriter, r *http.Request) {
		isWeeklyTrigger := time.Now().Weekday() == time.Monday
		data := store.BuildNotificationData(isWeeklyTrigger, signals.snapshot())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(data)
	})

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade error", zap.Error(err))
			return
		}

		addWebSocketClient(conn)

		// Send current result immediately if available
		latestResultMutex.RLock()
		result := latestResult
		latestResultMutex.RUnlock()
		if result != nil {
			if data, err := json.Marshal(result); err == nil {
				conn.WriteMessage(websocket.TextMessage, data)
			}
		}

		// Keep connection alive
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				removeWebSocketClient(conn)
				break
			}
		}
	})

	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	logger.Info("starting Home Energy Core API", zap.String("listener", listener))
	logger.Fatal("http server stopped", zap.Error(http.ListenAndServe(listener, nil)))
}

// readSourceTotals assembles one cycle's raw input from the configured
// sources. Unreadable categories come through as nil.
func readSourceTotals(registry *readings.Registry, cfg *config.EnergyCoreConfig) delta_engine.SourceTotals {
	totals := delta_engine.SourceTotals{}

	if v, ok := readings.SumEnergyKWhStrict(registry, cfg.ImportedSources); ok {
		totals.Imported = &v
	}
	if v, ok := readings.SumEnergyKWhStrict(registry, cfg.ExportedSources); ok {
		totals.Exported = &v
	}
	if v, ok := readings.SumEnergyKWhStrict(registry, cfg.ProducedSources); ok {
		totals.Produced = &v
	}
	if v, ok := readings.SumEnergyKWhStrict(registry, cfg.BatteryChargeSources); ok {
		totals.BatteryCharge = &v
	}
	if v, ok := readings.SumEnergyKWhStrict(registry, cfg.BatteryDischargeSources); ok {
		totals.BatteryDischarge = &v
	}

	// CO2 intensity isn't a cumulative meter; best-effort float.
	if cfg.Co2IntensitySource != "" {
		totals.Co2Intensity = readings.FloatSafe(registry, cfg.Co2IntensitySource)
	}

	return totals
}

func broadcastToWebSockets(res delta_engine.UpdateResult, logger *zap.Logger) {
	wsClientsMutex.RLock()
	clients := make([]*websocket.Conn, 0, len(wsClients))
	for client := range wsClients {
		clients = append(clients, client)
	}
	wsClientsMutex.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		logger.Error("error marshaling result", zap.Error(err))
		return
	}

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			removeWebSocketClient(client)
		}
	}
}

func addWebSocketClient(conn *websocket.Conn) {
	wsClientsMutex.Lock()
	wsClients[conn] = true
	wsClientsMutex.Unlock()
}

func removeWebSocketClient(conn *websocket.Conn) {
	wsClientsMutex.Lock()
	delete(wsClients, conn)
	wsClientsMutex.Unlock()
	conn.Close()
}
