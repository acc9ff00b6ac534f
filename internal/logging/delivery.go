package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DeliveryLog represents a single message-decision log entry: one record
// per ack/nack emitted by the subscriber's completion path.
type DeliveryLog struct {
	Timestamp  time.Time `json:"timestamp"`
	AckID      string    `json:"ack_id"`
	Decision   string    `json:"decision"` // ack, nack
	DurationMs int64     `json:"duration_ms"`
	Bytes      int       `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// DeliveryLogger writes DeliveryLog entries to console and/or a file.
type DeliveryLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultDeliveryLogger = &DeliveryLogger{enabled: true, console: false}

// DefaultDeliveryLogger returns the process-wide delivery logger.
func DefaultDeliveryLogger() *DeliveryLogger { return defaultDeliveryLogger }

// SetOutput directs delivery log entries to a JSON-lines file.
func (l *DeliveryLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables human-readable console output.
func (l *DeliveryLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log records a delivery decision.
func (l *DeliveryLogger) Log(entry *DeliveryLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	entry.Timestamp = time.Now()

	if l.console {
		status := "ack"
		if entry.Decision != "ack" {
			status = "nack"
		}
		fmt.Printf("[delivery] %s %s %dms %dB\n", status, entry.AckID, entry.DurationMs, entry.Bytes)
		if entry.Error != "" {
			fmt.Printf("[delivery]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close releases the delivery log file handle.
func (l *DeliveryLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
