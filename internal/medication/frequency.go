package medication

// Frequency is the dosing class of a medication.
type Frequency string

const (
	FourTimesDaily Frequency = "four_times_daily"
	TwiceDaily     Frequency = "twice_daily"
	OnceDaily      Frequency = "once_daily"
	Every12h       Frequency = "every_12h"
	Every12hOffset Frequency = "every_12h_offset"
	Tapering       Frequency = "tapering"
	AsNeeded       Frequency = "as_needed"
)

var allFrequencies = []Frequency{
	FourTimesDaily,
	TwiceDaily,
	OnceDaily,
	Every12h,
	Every12hOffset,
	Tapering,
	AsNeeded,
}

// Valid reports whether f is one of the enumerated frequencies.
func (f Frequency) Valid() bool {
	for _, known := range allFrequencies {
		if f == known {
			return true
		}
	}
	return false
}

// Scheduled reports whether the frequency maps to a fixed slot set.
// Tapering and as-needed medications are resolved elsewhere.
func (f Frequency) Scheduled() bool {
	return f.Valid() && f != Tapering && f != AsNeeded
}

// FrequencyTable maps a scheduled frequency to its slots.
type FrequencyTable map[Frequency][]Slot

// DefaultFrequencies returns the built-in frequency-to-slot mapping.
func DefaultFrequencies() FrequencyTable {
	return FrequencyTable{
		FourTimesDaily: {SlotMorning, SlotMidday, SlotEvening, SlotLateNight},
		TwiceDaily:     {SlotMorning, SlotEvening},
		OnceDaily:      {SlotMorning},
		Every12h:       {SlotLateMorning, SlotLateNight},
		Every12hOffset: {SlotNight, SlotMidday},
	}
}

// SlotsFor returns the slots for a scheduled frequency.
func (t FrequencyTable) SlotsFor(f Frequency) []Slot {
	return t[f]
}
