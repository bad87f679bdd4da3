// Package reminder expands due medications into individually timed reminders.
package reminder

import (
	"time"

	"github.com/lalithlochan/medreminder/internal/medication"
)

// Snapshot is the medication as it was when the reminder was generated.
type Snapshot struct {
	Name     string `json:"name"`
	Dose     string `json:"dose"`
	Location string `json:"location"`
	Notes    string `json:"notes,omitempty"`
}

// SnapshotOf captures the display fields of a medication.
func SnapshotOf(m medication.Medication) Snapshot {
	return Snapshot{
		Name:     m.Name,
		Dose:     m.Dose,
		Location: m.Location,
		Notes:    m.Notes,
	}
}

// Reminder is one medication due in one slot on one day.
type Reminder struct {
	ID           string          `json:"id"`
	MedicationID string          `json:"medication_id"`
	Medication   Snapshot        `json:"medication"`
	Slot         medication.Slot `json:"slot"`
	Date         string          `json:"date"`
	DayNumber    int             `json:"day_number"`
	DisplayTime  string          `json:"display_time"`
	StaggerIndex int             `json:"stagger_index"`
	Message      string          `json:"message"`
	SentAt       *time.Time      `json:"sent_at"`
	ResendCount  int             `json:"resend_count,omitempty"`
	Confirmed    bool            `json:"confirmed"`
}

// BuildID derives the reminder id from its date, slot and medication. The
// same inputs always produce the same id.
func BuildID(date medication.Date, slot medication.Slot, medicationID string) string {
	return date.String() + "-" + string(slot) + "-" + medicationID
}

// Sent reports whether dispatch has succeeded for the reminder.
func (r Reminder) Sent() bool {
	return r.SentAt != nil
}

// Age is how long ago the reminder was sent. Unsent reminders have no age.
func (r Reminder) Age(now time.Time) time.Duration {
	if r.SentAt == nil {
		return 0
	}
	return now.Sub(*r.SentAt)
}
