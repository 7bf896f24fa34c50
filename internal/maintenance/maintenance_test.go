package maintenance

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testManager() *Manager {
	return &Manager{now: func() time.Time { return testNow }}
}

func chargedServitor(level float64, chargedAgo time.Duration) *servitor.Servitor {
	s := servitor.New("Lumen", "guard the workspace")
	s.ChargeLevel = level
	at := testNow.Add(-chargedAgo)
	s.LastChargedAt = &at
	return s
}

func TestDecayAmountNeverCharged(t *testing.T) {
	m := testManager()
	s := servitor.New("Lumen", "guard the workspace")
	s.ChargeLevel = 80

	if got := m.DecayAmount(s, 1.0); got != 0 {
		t.Errorf("decay = %v, a never-charged servitor does not decay", got)
	}
}

func TestDecayAmountElapsedDays(t *testing.T) {
	m := testManager()

	// 3 days at 1.0/day.
	s := chargedServitor(80, 72*time.Hour)
	if got := m.DecayAmount(s, 1.0); got != 3.0 {
		t.Errorf("decay = %v, want 3.0", got)
	}

	// Rate scales linearly.
	if got := m.DecayAmount(s, 2.5); got != 7.5 {
		t.Errorf("decay = %v, want 7.5", got)
	}

	// Zero rate falls back to the default.
	if got := m.DecayAmount(s, 0); got != 3.0 {
		t.Errorf("decay = %v, want default-rate 3.0", got)
	}
}

func TestDecayAmountCappedAtCharge(t *testing.T) {
	m := testManager()
	s := chargedServitor(2, 10*24*time.Hour)

	if got := m.DecayAmount(s, 1.0); got != 2 {
		t.Errorf("decay = %v, want cap at remaining charge 2", got)
	}
}

func TestApplyDecayForcesDeactivation(t *testing.T) {
	m := testManager()
	s := chargedServitor(52, 3*24*time.Hour)
	s.Status = servitor.StatusActive

	removed := m.ApplyDecay(s, 1.0)
	if removed != 3 {
		t.Fatalf("removed = %v, want 3", removed)
	}
	if s.ChargeLevel != 49 {
		t.Errorf("charge = %v, want 49", s.ChargeLevel)
	}
	if s.Status != servitor.StatusDormant {
		t.Errorf("status = %q, want forced deactivation below threshold", s.Status)
	}
}

func TestCheckHealth(t *testing.T) {
	m := testManager()
	s := chargedServitor(30, 24*time.Hour)
	fedAt := testNow.Add(-8 * 24 * time.Hour)
	s.LastFedAt = &fedAt

	h := m.CheckHealth(s)
	if h.ChargeLevel != 30 || h.Status != servitor.StatusDormant {
		t.Errorf("unexpected snapshot: %+v", h)
	}
	if h.DaysSinceFed == nil || *h.DaysSinceFed != 8 {
		t.Errorf("DaysSinceFed = %v, want 8", h.DaysSinceFed)
	}
	if h.DaysSinceCharged == nil || *h.DaysSinceCharged != 1 {
		t.Errorf("DaysSinceCharged = %v, want 1", h.DaysSinceCharged)
	}
	if !h.NeedsFeeding {
		t.Error("8 days since fed should need feeding")
	}
	if !h.NeedsCharging {
		t.Error("charge 30 below threshold 50 should need charging")
	}
	if h.IsHealthy {
		t.Error("a servitor needing charge is not healthy")
	}
}

func TestCheckHealthUnknownTimestamps(t *testing.T) {
	m := testManager()
	s := servitor.New("Lumen", "guard the workspace")
	s.ChargeLevel = 70

	h := m.CheckHealth(s)
	if h.DaysSinceFed != nil || h.DaysSinceCharged != nil {
		t.Errorf("unset timestamps should stay nil, got %+v", h)
	}
	if h.NeedsFeeding {
		t.Error("never-fed servitor should not trigger a feeding reminder")
	}
	if !h.IsHealthy {
		t.Error("charged servitor with no history should be healthy")
	}
}

func TestReminders(t *testing.T) {
	m := testManager()

	hungry := chargedServitor(80, time.Hour)
	hungry.Name = "Hungry"
	fedAt := testNow.Add(-9 * 24 * time.Hour)
	hungry.LastFedAt = &fedAt

	low := chargedServitor(10, time.Hour)
	low.Name = "Low"

	gone := chargedServitor(0, time.Hour)
	gone.Name = "Gone"
	gone.Status = servitor.StatusDismissed

	reminders := m.Reminders([]*servitor.Servitor{hungry, low, gone})
	if len(reminders) != 2 {
		t.Fatalf("reminders length = %d, want 2: %+v", len(reminders), reminders)
	}
	if reminders[0].Servitor != "Hungry" || reminders[0].Type != "feeding" || reminders[0].Priority != "medium" {
		t.Errorf("unexpected first reminder: %+v", reminders[0])
	}
	if reminders[1].Servitor != "Low" || reminders[1].Type != "charging" || reminders[1].Priority != "high" {
		t.Errorf("unexpected second reminder: %+v", reminders[1])
	}
}

// Property: decay is proportional to elapsed time and rate, never negative,
// and never more than the current charge.
func TestPropertyDecayModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := testManager()
		charge := float64(rapid.IntRange(0, 100).Draw(rt, "charge"))
		hoursAgo := rapid.IntRange(0, 24*30).Draw(rt, "hours_ago")
		rate := float64(rapid.IntRange(1, 50).Draw(rt, "rate_x10")) / 10.0

		s := chargedServitor(charge, time.Duration(hoursAgo)*time.Hour)
		got := m.DecayAmount(s, rate)

		expected := float64(hoursAgo) / 24.0 * rate
		if expected > charge {
			expected = charge
		}
		if diff := got - expected; diff > 1e-9 || diff < -1e-9 {
			rt.Fatalf("decay = %v, want %v", got, expected)
		}
		if got < 0 || got > charge {
			rt.Fatalf("decay %v out of bounds for charge %v", got, charge)
		}
	})
}
