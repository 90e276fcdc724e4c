// Package mqtt publishes relay state over MQTT and receives relay commands,
// with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultTopicPrefix is the root of every topic used by the daemon.
const DefaultTopicPrefix = "fermenter"

// Config holds MQTT connection settings.
type Config struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

// NewTopics returns Topics for prefix, or DefaultTopicPrefix if empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// State is the retained state topic of a relay.
func (t Topics) State(relay string) string {
	return t.Prefix + "/relay/" + relay + "/state"
}

// Set is the command topic of a relay.
func (t Topics) Set(relay string) string {
	return t.Prefix + "/relay/" + relay + "/set"
}

// SetAll subscribes to the command topics of every relay.
func (t Topics) SetAll() string {
	return t.Prefix + "/relay/+/set"
}

// System is the topic for daemon lifecycle events.
func (t Topics) System() string {
	return t.Prefix + "/system"
}

// RelayFromSetTopic extracts the relay name from a command topic.
func (t Topics) RelayFromSetTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/relay/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "/set")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a relay state event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event StateEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandHandler receives a relay name and the raw command payload.
// It is called from the MQTT client's goroutine.
type CommandHandler func(relay, payload string)

// Subscriber delivers inbound relay commands.
type Subscriber interface {
	SubscribeCommands(h CommandHandler) error
}

// Relay event kinds.
const (
	EventSwitched = "SWITCHED"
	EventBlocked  = "BLOCKED"
	EventReport   = "REPORT"
)

// StateEvent describes a relay state after a request or a periodic report.
type StateEvent struct {
	Timestamp time.Time
	Relay     string
	On        bool
	Event     string // SWITCHED, BLOCKED or REPORT
	Source    string // where the request came from, e.g. "mqtt", "http"
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the relay event details.
type RelayPayload struct {
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Event     string `json:"event"`
	Source    string `json:"source,omitempty"`
}

// StateString renders a relay state the way payloads carry it.
func StateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// FormatPayload creates the JSON payload for a relay event.
func FormatPayload(event StateEvent) ([]byte, error) {
	payload := Payload{
		Relay: RelayPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Name:      event.Relay,
			State:     StateString(event.On),
			Event:     event.Event,
			Source:    event.Source,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParseCommand converts a command payload to the requested state.
// Accepts ON/OFF, 1/0 and true/false, case-insensitive.
func ParseCommand(payload string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("unrecognised relay command %q", payload)
}
