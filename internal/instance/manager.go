// Package instance manages the server process lifecycle: the PID file,
// port probing, and the status/stop commands.
package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Manager handles lifecycle management for a server instance
type Manager struct {
	pidFilePath string
	port        int
}

// Info describes a running instance
type Info struct {
	PID          int
	Port         int
	StartTime    time.Time
	IsRunning    bool
	IsResponding bool
}

// pidFileData is the JSON structure of the PID file
type pidFileData struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname"`
}

// NewManager creates an instance manager
func NewManager(pidFilePath string, port int) *Manager {
	return &Manager{pidFilePath: pidFilePath, port: port}
}

// CheckExisting reports on any already-running instance, cleaning up a
// stale PID file when the recorded process is gone
func (m *Manager) CheckExisting() (*Info, error) {
	data, err := m.readPIDFile()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	running, err := IsProcessRunning(data.PID)
	if err != nil || !running {
		m.RemovePIDFile()
		return nil, nil
	}

	return &Info{
		PID:          data.PID,
		Port:         data.Port,
		StartTime:    data.StartedAt,
		IsRunning:    true,
		IsResponding: HealthCheck(data.Port) == nil,
	}, nil
}

// WritePIDFile records this process after a confirmed bind
func (m *Manager) WritePIDFile(pid, port int) error {
	if err := os.MkdirAll(filepath.Dir(m.pidFilePath), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	hostname, _ := os.Hostname()
	data := pidFileData{
		PID:       pid,
		Port:      port,
		StartedAt: time.Now().UTC(),
		Hostname:  hostname,
	}

	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode PID file: %w", err)
	}
	return os.WriteFile(m.pidFilePath, blob, 0644)
}

// RemovePIDFile deletes the PID file
func (m *Manager) RemovePIDFile() {
	os.Remove(m.pidFilePath)
}

func (m *Manager) readPIDFile() (*pidFileData, error) {
	blob, err := os.ReadFile(m.pidFilePath)
	if err != nil {
		return nil, err
	}
	var data pidFileData
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, fmt.Errorf("corrupt PID file: %w", err)
	}
	return &data, nil
}
