// Package maintenance implements the time-based decay model and health
// reporting for servitors. Decay is lazy: it is applied when a servitor is
// loaded or inspected, never by a background timer, so elapsed wall-clock
// time since the last charge is the unit of decay.
package maintenance

import (
	"fmt"
	"time"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// DefaultDecayRate is the charge lost per day when none is configured.
const DefaultDecayRate = 1.0

// FeedingReminderDays is the days-since-fed threshold that triggers a
// feeding reminder.
const FeedingReminderDays = 7.0

const secondsPerDay = 86400.0

// Health is a point-in-time snapshot of a servitor's condition.
type Health struct {
	ChargeLevel      float64         `json:"charge_level"`
	Status           servitor.Status `json:"status"`
	DaysSinceFed     *float64        `json:"days_since_fed,omitempty"`
	DaysSinceCharged *float64        `json:"days_since_charged,omitempty"`
	NeedsFeeding     bool            `json:"needs_feeding"`
	NeedsCharging    bool            `json:"needs_charging"`
	IsHealthy        bool            `json:"is_healthy"`
}

// Reminder is a maintenance action a caller should surface to the
// operator.
type Reminder struct {
	Servitor string `json:"servitor"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

// Manager computes decay and health. The clock is injectable for tests.
type Manager struct {
	now func() time.Time
}

// New creates a Manager backed by the wall clock.
func New() *Manager {
	return &Manager{now: func() time.Time { return time.Now().UTC() }}
}

// DecayAmount returns the charge a servitor would lose right now: elapsed
// days since the last charge times the daily rate, capped at the current
// charge level. A servitor that was never charged does not decay.
func (m *Manager) DecayAmount(s *servitor.Servitor, ratePerDay float64) float64 {
	if ratePerDay <= 0 {
		ratePerDay = DefaultDecayRate
	}
	if s.LastChargedAt == nil {
		return 0
	}
	days := m.now().Sub(*s.LastChargedAt).Seconds() / secondsPerDay
	if days <= 0 {
		return 0
	}
	decay := days * ratePerDay
	if decay > s.ChargeLevel {
		decay = s.ChargeLevel
	}
	return decay
}

// ApplyDecay computes and applies decay, forcing an active servitor back
// to dormant when its charge falls below the activation threshold.
// Returns the charge actually removed.
func (m *Manager) ApplyDecay(s *servitor.Servitor, ratePerDay float64) float64 {
	return s.ApplyDecay(m.DecayAmount(s, ratePerDay))
}

// CheckHealth builds a health snapshot without mutating the servitor.
func (m *Manager) CheckHealth(s *servitor.Servitor) Health {
	h := Health{
		ChargeLevel: s.ChargeLevel,
		Status:      s.Status,
		IsHealthy:   true,
	}

	if s.LastFedAt != nil {
		days := m.now().Sub(*s.LastFedAt).Seconds() / secondsPerDay
		h.DaysSinceFed = &days
		h.NeedsFeeding = days >= FeedingReminderDays
	}
	if s.LastChargedAt != nil {
		days := m.now().Sub(*s.LastChargedAt).Seconds() / secondsPerDay
		h.DaysSinceCharged = &days
	}

	if s.ChargeLevel < s.ActivationThreshold {
		h.NeedsCharging = true
		h.IsHealthy = false
	}
	if s.Status == servitor.StatusDismissed {
		h.IsHealthy = false
	}
	return h
}

// Reminders returns maintenance reminders for the given servitors in input
// order. Dismissed servitors are skipped.
func (m *Manager) Reminders(servitors []*servitor.Servitor) []Reminder {
	var reminders []Reminder
	for _, s := range servitors {
		if s.Status == servitor.StatusDismissed {
			continue
		}
		h := m.CheckHealth(s)
		if h.NeedsFeeding {
			reminders = append(reminders, Reminder{
				Servitor: s.Name,
				Type:     "feeding",
				Message:  fmt.Sprintf("%s needs feeding (last fed %.1f days ago)", s.Name, *h.DaysSinceFed),
				Priority: "medium",
			})
		}
		if h.NeedsCharging {
			reminders = append(reminders, Reminder{
				Servitor: s.Name,
				Type:     "charging",
				Message:  fmt.Sprintf("%s needs charging (charge level: %.1f%%)", s.Name, s.ChargeLevel),
				Priority: "high",
			})
		}
	}
	return reminders
}
