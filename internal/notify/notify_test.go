package notify

import (
	"fmt"
	"testing"

	"github.com/marcusd/internal/types"
)

// recordingChannel captures delivered alerts
type recordingChannel struct {
	name        string
	minSeverity string
	fail        bool
	delivered   []Alert
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) ShouldNotify(alert Alert) bool {
	return meetsThreshold(alert, c.minSeverity)
}

func (c *recordingChannel) Send(alert Alert) error {
	if c.fail {
		return fmt.Errorf("channel down")
	}
	c.delivered = append(c.delivered, alert)
	return nil
}

func TestRouterFansOut(t *testing.T) {
	a := &recordingChannel{name: "a"}
	b := &recordingChannel{name: "b"}
	r := NewRouter([]Channel{a, b})

	r.Notify(Alert{Severity: SeverityWarning, Title: "blocker", Message: "task stuck"})

	if len(a.delivered) != 1 || len(b.delivered) != 1 {
		t.Errorf("deliveries: a=%d b=%d, want 1 each", len(a.delivered), len(b.delivered))
	}
	if a.delivered[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestFailingChannelIsIsolated(t *testing.T) {
	bad := &recordingChannel{name: "bad", fail: true}
	good := &recordingChannel{name: "good"}
	r := NewRouter([]Channel{bad, good})

	r.Notify(Alert{Severity: SeverityCritical, Title: "spike", Message: "handler errors"})

	if len(good.delivered) != 1 {
		t.Error("failure in one channel blocked another")
	}
}

func TestSeverityThreshold(t *testing.T) {
	ch := &recordingChannel{name: "critical-only", minSeverity: "critical"}
	r := NewRouter([]Channel{ch})

	r.Notify(Alert{Severity: SeverityInfo, Title: "noise"})
	r.Notify(Alert{Severity: SeverityWarning, Title: "warning"})
	r.Notify(Alert{Severity: SeverityCritical, Title: "signal"})

	if len(ch.delivered) != 1 || ch.delivered[0].Title != "signal" {
		t.Errorf("delivered = %+v, want only the critical alert", ch.delivered)
	}
}

func TestBuildChannelsSkipsUnknownTypes(t *testing.T) {
	channels := BuildChannels([]types.NotifyChannelConfig{{Type: "pager"}})
	if len(channels) != 0 {
		t.Errorf("channels = %d, want 0", len(channels))
	}
}
