// Package notify routes operator-facing alerts (blocker reports and
// handler error spikes) to configured channels.
package notify

import (
	"log"
	"sync"
	"time"
)

// Severity grades an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for channel thresholds
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Alert is one operator notification
type Alert struct {
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ProjectID string    `json:"project_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel delivers alerts to one destination
type Channel interface {
	Name() string
	ShouldNotify(alert Alert) bool
	Send(alert Alert) error
}

// Router dispatches alerts to every willing channel. A failing channel is
// logged and skipped; delivery to the rest continues.
type Router struct {
	mu       sync.RWMutex
	channels []Channel
}

// NewRouter creates a router over the provided channels
func NewRouter(channels []Channel) *Router {
	if channels == nil {
		channels = []Channel{}
	}
	return &Router{channels: channels}
}

// AddChannel adds a notification channel
func (r *Router) AddChannel(channel Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
}

// Notify fans one alert out to all channels
func (r *Router) Notify(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	channels := make([]Channel, len(r.channels))
	copy(channels, r.channels)
	r.mu.RUnlock()

	for _, ch := range channels {
		if !ch.ShouldNotify(alert) {
			continue
		}
		if err := ch.Send(alert); err != nil {
			log.Printf("[NOTIFY] %s channel failed: %v", ch.Name(), err)
		}
	}
}

// meetsThreshold implements the shared min-severity filter
func meetsThreshold(alert Alert, minSeverity string) bool {
	if minSeverity == "" {
		return true
	}
	return severityRank[alert.Severity] >= severityRank[Severity(minSeverity)]
}
