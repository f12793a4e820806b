//go:build windows

package notify

import (
	"github.com/go-toast/toast"
)

// ToastChannel surfaces alerts as Windows desktop notifications
type ToastChannel struct {
	minSeverity string
}

// NewToastChannel creates a toast channel
func NewToastChannel(minSeverity string) *ToastChannel {
	return &ToastChannel{minSeverity: minSeverity}
}

func (t *ToastChannel) Name() string { return "toast" }

func (t *ToastChannel) ShouldNotify(alert Alert) bool {
	return meetsThreshold(alert, t.minSeverity)
}

func (t *ToastChannel) Send(alert Alert) error {
	notification := toast.Notification{
		AppID:   "Marcus",
		Title:   alert.Title,
		Message: alert.Message,
		Audio:   toast.Default,
	}
	return notification.Push()
}
