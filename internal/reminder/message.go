package reminder

import (
	"fmt"
	"strings"
)

// MessageData is everything the reminder template renders.
type MessageData struct {
	DisplayTime   string
	DayNumber     int
	LocationIcon  string
	LocationLabel string
	Name          string
	Dose          string
	Notes         string
}

// RenderMessage renders the single reminder template shared by every channel.
func RenderMessage(d MessageData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💊 Medication reminder · %s · Day %d\n", d.DisplayTime, d.DayNumber)
	fmt.Fprintf(&b, "%s %s: %s\n", d.LocationIcon, d.LocationLabel, d.Name)
	fmt.Fprintf(&b, "Dose: %s\n", d.Dose)
	if notes := strings.TrimSpace(d.Notes); notes != "" {
		fmt.Fprintf(&b, "Note: %s\n", notes)
	}
	b.WriteString("Reply DONE when given.")
	return b.String()
}

// RenderResend prefixes a reminder that is still awaiting confirmation.
func RenderResend(r Reminder) string {
	return "🔁 Still waiting on this one.\n" + r.Message
}
