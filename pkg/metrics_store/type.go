package metrics_store

import "time"

// DailySnapshot is one calendar day's worth of derived KPI values, the
// unit of long-term retention. Date is the unique key, fixed-width ISO
// 8601 (YYYY-MM-DD) so lexical comparison orders correctly.
type DailySnapshot struct {
	Date            string  `json:"date"`
	NetUse          float64 `json:"net_use"`
	Production      float64 `json:"production"`
	Export          float64 `json:"export"`
	NightUse        float64 `json:"night_use"`
	Emissions       float64 `json:"emissions"`
	SelfSufficiency float64 `json:"self_sufficiency"`
}

// Metric resolves a metric key to its value. Returns false for keys
// outside the fixed snapshot shape.
func (s DailySnapshot) Metric(key string) (float64, bool) {
	switch key {
	case "net_use":
		return s.NetUse, true
	case "production":
		return s.Production, true
	case "export":
		return s.Export, true
	case "night_use":
		return s.NightUse, true
	case "emissions":
		return s.Emissions, true
	case "self_sufficiency":
		return s.SelfSufficiency, true
	}
	return 0, false
}

// Document is the persisted on-disk shape. LastUpdated is advisory only.
type Document struct {
	DailySnapshots []DailySnapshot `json:"daily_snapshots"`
	LastUpdated    string          `json:"last_updated"`
}

// SignalState is the caller-supplied current state of a critical
// derived signal, used by the data-gap predicate.
type SignalState struct {
	State       string
	LastChanged time.Time
}

// NotificationData is the fixed-shape report consumed by downstream
// alerting. Pure projection of store queries, no new computation.
type NotificationData struct {
	HasDataGap bool `json:"has_data_gap"`

	// Today's values
	SsToday        float64 `json:"ss_today"`
	NetUseToday    float64 `json:"net_use_today"`
	NightUseToday  float64 `json:"night_use_today"`
	EmissionsToday float64 `json:"emissions_today"`

	// 7-day averages
	NetUse7dAvg     float64 `json:"net_use_7d_avg"`
	NightUse7dAvg   float64 `json:"night_use_7d_avg"`
	Export7dAvg     float64 `json:"export_7d_avg"`
	Production7dAvg float64 `json:"production_7d_avg"`

	// 30 and 90-day averages
	NetUse30dAvg float64 `json:"net_use_30d_avg"`
	NetUse90dAvg float64 `json:"net_use_90d_avg"`

	// Min/max last 30 days
	SsMaxLast30d        float64 `json:"ss_max_last_30d"`
	EmissionsMinLast30d float64 `json:"emissions_min_last_30d"`
	NetUseMinLast30d    float64 `json:"net_use_min_last_30d"`

	// Passed through from the caller
	IsWeeklyTrigger bool `json:"is_weekly_trigger"`
}
