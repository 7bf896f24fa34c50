// Package dismissal implements the one-way terminal transition out of the
// servitor lifecycle: deactivate, annotate, mark dismissed, archive.
package dismissal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// Archiver persists a dismissed servitor. Satisfied by storage.Store.
type Archiver interface {
	Archive(ctx context.Context, s *servitor.Servitor) error
}

// Protocol performs servitor dismissals.
type Protocol struct {
	store Archiver
	now   func() time.Time
}

// New creates a dismissal protocol backed by the given archiver.
func New(store Archiver) *Protocol {
	return &Protocol{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Dismiss deactivates the servitor, appends a timestamped dismissal note,
// sets the terminal status, and archives the record. A second call on an
// already-dismissed servitor is a reported no-op: it returns ErrDismissed
// without touching the notes.
func (p *Protocol) Dismiss(ctx context.Context, s *servitor.Servitor, reason string) error {
	if s.Status == servitor.StatusDismissed {
		slog.Warn("servitor already dismissed", "servitor", s.Name)
		return servitor.ErrDismissed
	}

	slog.Info("initiating dismissal protocol", "servitor", s.Name, "reason", reason)

	s.Deactivate()

	note := fmt.Sprintf("\n[DISMISSED %s]", p.now().Format(time.RFC3339))
	if reason != "" {
		note += " Reason: " + reason
	}
	s.Notes += note
	s.Status = servitor.StatusDismissed

	if err := p.store.Archive(ctx, s); err != nil {
		return fmt.Errorf("dismissal: archive %s: %w", s.Name, err)
	}

	slog.Info("servitor dismissed and archived", "servitor", s.Name)
	return nil
}

// RitualText renders the dismissal ritual a front end displays before
// asking the operator to confirm. The confirmation itself is the front
// end's concern; Dismiss performs the state change unconditionally.
func (p *Protocol) RitualText(s *servitor.Servitor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== DISMISSAL RITUAL FOR %s ===\n\n", strings.ToUpper(s.Name))
	fmt.Fprintf(&b, "Servitor Name: %s\n", s.Name)
	fmt.Fprintf(&b, "Purpose: %s\n", s.Purpose)
	fmt.Fprintf(&b, "Created: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Final Charge Level: %.1f%%\n\n", s.ChargeLevel)
	b.WriteString("RITUAL:\n\n")
	fmt.Fprintf(&b, "I hereby release %s from its purpose.\n", s.Name)
	b.WriteString("Its task is complete, its energy returned to the void.\n")
	fmt.Fprintf(&b, "%s, you are dismissed.\n", s.Name)
	b.WriteString("Your form dissolves, your purpose fulfilled.\n")
	b.WriteString("Return to the source from which you came.\n\n")
	b.WriteString("So it is done.\n\n")
	b.WriteString("=== END OF RITUAL ===\n")
	return b.String()
}
