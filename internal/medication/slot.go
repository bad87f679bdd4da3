package medication

import (
	"fmt"
	"strconv"
	"strings"
)

// Slot names one of the fixed times of day at which medications may be due.
type Slot string

const (
	SlotMorning     Slot = "MORNING"
	SlotLateMorning Slot = "LATE_MORNING"
	SlotMidday      Slot = "MIDDAY"
	SlotEvening     Slot = "EVENING"
	SlotLateNight   Slot = "LATE_NIGHT"
	SlotNight       Slot = "NIGHT"
)

// SlotDef is a slot and its wall-clock time in the reference timezone.
type SlotDef struct {
	Name   Slot `yaml:"name" json:"name"`
	Hour   int  `yaml:"-" json:"hour"`
	Minute int  `yaml:"-" json:"minute"`
}

// MinuteOfDay returns the slot time as minutes after local midnight.
func (d SlotDef) MinuteOfDay() int {
	return d.Hour*60 + d.Minute
}

// Clock renders the slot time as HH:MM.
func (d SlotDef) Clock() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// UnmarshalYAML accepts {name: MORNING, time: "08:30"}.
func (d *SlotDef) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		Name string `yaml:"name"`
		Time string `yaml:"time"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	hour, minute, err := ParseClock(raw.Time)
	if err != nil {
		return fmt.Errorf("slot %q: %w", raw.Name, err)
	}
	d.Name = Slot(strings.TrimSpace(raw.Name))
	d.Hour = hour
	d.Minute = minute
	return nil
}

// ParseClock parses an HH:MM time of day.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// SlotTable is the ordered set of slots every component reasons about.
type SlotTable []SlotDef

// DefaultSlots returns the built-in slot grid.
func DefaultSlots() SlotTable {
	return SlotTable{
		{Name: SlotMorning, Hour: 8, Minute: 30},
		{Name: SlotLateMorning, Hour: 11, Minute: 0},
		{Name: SlotMidday, Hour: 14, Minute: 0},
		{Name: SlotEvening, Hour: 19, Minute: 0},
		{Name: SlotLateNight, Hour: 23, Minute: 0},
		{Name: SlotNight, Hour: 0, Minute: 0},
	}
}

// Lookup returns the definition for a slot name.
func (t SlotTable) Lookup(name Slot) (SlotDef, bool) {
	for _, d := range t {
		if d.Name == name {
			return d, true
		}
	}
	return SlotDef{}, false
}

// Has reports whether the slot is declared.
func (t SlotTable) Has(name Slot) bool {
	_, ok := t.Lookup(name)
	return ok
}

// Names returns slot names in declaration order.
func (t SlotTable) Names() []Slot {
	names := make([]Slot, len(t))
	for i, d := range t {
		names[i] = d.Name
	}
	return names
}

// ContainsSlot reports whether slot is a member of slots.
func ContainsSlot(slots []Slot, slot Slot) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
