package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/ferm-relay/internal/relay"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Relays        []RelayJSON  `json:"relays"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// RelayJSON is the JSON representation of one relay.
type RelayJSON struct {
	Name                string     `json:"name"`
	State               string     `json:"state"`
	Pin                 int        `json:"pin"`
	DisplayPin          int        `json:"display_pin"`
	MinRunTimeMs        int64      `json:"min_run_time_ms"`
	ReactivationDelayMs int64      `json:"reactivation_delay_ms"`
	CanTurnOn           bool       `json:"can_turn_on"`
	CanTurnOff          bool       `json:"can_turn_off"`
	GuardRemainingMs    int64      `json:"guard_remaining_ms"`
	Counts              CountsJSON `json:"counts"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of request counts.
type CountsJSON struct {
	On      int `json:"on"`
	Off     int `json:"off"`
	Blocked int `json:"blocked"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs        int64  `json:"poll_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	ReportEveryMs int64  `json:"report_every_ms"`
	Broker        string `json:"broker"`
	TopicPrefix   string `json:"topic_prefix"`
	HTTPPort      string `json:"http_port"`
	Driver        string `json:"driver"`
	WSBroker      string `json:"ws_broker,omitempty"`
	HTTPControl   bool   `json:"http_control"`
}

// StateName returns "On" or "Off".
func StateName(on bool) string {
	if on {
		return relay.StateOn
	}
	return relay.StateOff
}

func buildInner(snap Snapshot) StatusInner {
	relays := make([]RelayJSON, 0, len(snap.Relays))
	for _, r := range snap.Relays {
		relays = append(relays, RelayJSON{
			Name:                r.Name,
			State:               StateName(r.On),
			Pin:                 r.Pin,
			DisplayPin:          r.DisplayPin,
			MinRunTimeMs:        r.MinRunTime.Milliseconds(),
			ReactivationDelayMs: r.ReactivationDelay.Milliseconds(),
			CanTurnOn:           r.CanTurnOn,
			CanTurnOff:          r.CanTurnOff,
			GuardRemainingMs:    r.GuardRemaining.Milliseconds(),
			Counts: CountsJSON{
				On:      r.Counts.On,
				Off:     r.Counts.Off,
				Blocked: r.Counts.Blocked,
			},
		})
	}

	return StatusInner{
		Relays:        relays,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			PollMs:        snap.Config.PollMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			ReportEveryMs: snap.Config.ReportEveryMs,
			Broker:        snap.Config.Broker,
			TopicPrefix:   snap.Config.TopicPrefix,
			HTTPPort:      snap.Config.HTTPPort,
			Driver:        snap.Config.Driver,
			WSBroker:      snap.Config.WSBroker,
			HTTPControl:   snap.Config.HTTPControl,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
