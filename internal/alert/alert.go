// Package alert records scan alerts in pluggable sinks.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Threat level thresholds.
const (
	criticalAbove = 75
	warningAbove  = 40
)

// Alert is one scan alert.
type Alert struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	Level       Level     `json:"level"`
	Target      string    `json:"target"`
	ThreatLevel int       `json:"threat_level"`
	CreatedAt   time.Time `json:"created_at"`
}

// ForThreat builds the alert for a target's threat level.
func ForThreat(target string, threat int) Alert {
	a := Alert{
		ID:          uuid.NewString(),
		Target:      target,
		ThreatLevel: threat,
		CreatedAt:   time.Now().UTC(),
	}

	switch {
	case threat > criticalAbove:
		a.Message, a.Level = "High threat detected!", LevelCritical
	case threat > warningAbove:
		a.Message, a.Level = "Moderate threat detected.", LevelWarning
	default:
		a.Message, a.Level = "System appears safe.", LevelInfo
	}

	return a
}

// Sink stores alerts.
type Sink interface {
	Push(ctx context.Context, a Alert) error
	Close() error
}

// Nop discards alerts.
type Nop struct{}

// Push implements Sink.
func (Nop) Push(context.Context, Alert) error { return nil }

// Close implements Sink.
func (Nop) Close() error { return nil }
