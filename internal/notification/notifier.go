// Package notification delivers alerts to external channels
// (log, webhook, Telegram, Kafka).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"stock-sentinel/internal/model"
)

// Rank orders severities; unknown severities rank lowest.
func Rank(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 2
	case model.SeverityWarning:
		return 1
	default:
		return 0
	}
}

func emoji(s model.Severity) string {
	switch s {
	case model.SeverityWarning:
		return "⚠️"
	case model.SeverityCritical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, a model.Alert) error {
	log.Printf("[notify] [%s] %s %s: %s", a.Severity, a.Instrument, a.Type, a.Message)
	return nil
}

// Channel is a named notifier.
type Channel struct {
	Name     string
	Notifier model.Notifier
}

// Multi fans an alert out to every channel when it reaches MinSeverity.
// A failing channel does not stop delivery to the others.
type Multi struct {
	channels    []Channel
	minSeverity model.Severity

	// OnResult is called once per channel attempt (for metrics).
	OnResult func(channel string, err error)
}

// NewMulti creates a fan-out notifier.
func NewMulti(minSeverity model.Severity, channels ...Channel) *Multi {
	return &Multi{channels: channels, minSeverity: minSeverity}
}

// Len returns the number of configured channels.
func (m *Multi) Len() int { return len(m.channels) }

// Send delivers a to every channel. Alerts below the minimum severity are
// dropped silently. The returned error joins every channel failure.
func (m *Multi) Send(ctx context.Context, a model.Alert) error {
	if Rank(a.Severity) < Rank(m.minSeverity) {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		err := ch.Notifier.Send(ctx, a)
		if m.OnResult != nil {
			m.OnResult(ch.Name, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
		}
	}
	return errors.Join(errs...)
}
