package medication

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog wraps every catalog validation failure.
var ErrInvalidCatalog = errors.New("invalid medication catalog")

// Catalog is the validated, immutable set of medication definitions.
type Catalog struct {
	AnchorDate  Date
	Slots       SlotTable
	Frequencies FrequencyTable
	Locations   []Location
	Medications []Medication
}

type catalogFile struct {
	AnchorDate  *Date                `yaml:"anchor_date"`
	Slots       []SlotDef            `yaml:"slots"`
	Frequencies map[Frequency][]Slot `yaml:"frequencies"`
	Locations   []Location           `yaml:"locations"`
	Medications []medicationEntry    `yaml:"medications"`
}

type medicationEntry struct {
	Medication `yaml:",inline"`
	Active     *bool `yaml:"active"`
}

// Load reads and validates a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog document. Slots, frequencies
// and locations fall back to the built-in tables when omitted.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	if file.AnchorDate == nil {
		return nil, fmt.Errorf("%w: anchor_date is required", ErrInvalidCatalog)
	}

	c := &Catalog{
		AnchorDate:  *file.AnchorDate,
		Slots:       DefaultSlots(),
		Frequencies: DefaultFrequencies(),
		Locations:   DefaultLocations(),
	}
	if len(file.Slots) > 0 {
		c.Slots = SlotTable(file.Slots)
	}
	if len(file.Frequencies) > 0 {
		c.Frequencies = FrequencyTable(file.Frequencies)
	}
	if len(file.Locations) > 0 {
		c.Locations = file.Locations
	}

	for _, entry := range file.Medications {
		m := entry.Medication
		m.Active = true
		if entry.Active != nil {
			m.Active = *entry.Active
		}
		c.Medications = append(c.Medications, m)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	sort.SliceStable(c.Locations, func(i, j int) bool {
		return c.Locations[i].Priority < c.Locations[j].Priority
	})

	return c, nil
}

// Validate checks every cross reference in the catalog and reports all
// violations at once.
func (c *Catalog) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	seenSlots := make(map[Slot]bool)
	for _, s := range c.Slots {
		if s.Name == "" {
			fail("slot with empty name")
			continue
		}
		if seenSlots[s.Name] {
			fail("duplicate slot %s", s.Name)
		}
		seenSlots[s.Name] = true
	}

	for freq, slots := range c.Frequencies {
		if !freq.Scheduled() {
			fail("frequency table: %q is not a scheduled frequency", freq)
			continue
		}
		for _, s := range slots {
			if !c.Slots.Has(s) {
				fail("frequency %s references undeclared slot %s", freq, s)
			}
		}
	}

	seenLocations := make(map[string]bool)
	for _, l := range c.Locations {
		if l.Tag == "" {
			fail("location with empty tag")
			continue
		}
		if seenLocations[l.Tag] {
			fail("duplicate location %s", l.Tag)
		}
		seenLocations[l.Tag] = true
	}

	seenIDs := make(map[string]bool)
	for i, m := range c.Medications {
		label := fmt.Sprintf("medications[%d]", i)
		if m.ID != "" {
			label = fmt.Sprintf("medications[%d] (%s)", i, m.ID)
		}

		if m.ID == "" {
			fail("%s: id is required", label)
		} else if seenIDs[m.ID] {
			fail("%s: duplicate id", label)
		}
		seenIDs[m.ID] = true

		if m.Name == "" {
			fail("%s: name is required", label)
		}
		if m.Dose == "" {
			fail("%s: dose is required", label)
		}
		if m.Location == "" {
			fail("%s: location is required", label)
		} else if !seenLocations[m.Location] {
			fail("%s: unknown location %q", label, m.Location)
		}

		switch {
		case !m.Frequency.Valid():
			fail("%s: unknown frequency %q", label, m.Frequency)
		case m.Frequency.Scheduled():
			if _, ok := c.Frequencies[m.Frequency]; !ok {
				fail("%s: frequency %s has no slot mapping", label, m.Frequency)
			}
		case m.Frequency == Tapering:
			if m.Tapering == nil {
				fail("%s: tapering frequency requires a tapering table", label)
			}
		}

		if m.Tapering != nil {
			for _, s := range append(append(append([]Slot(nil), m.Tapering.Day1...), m.Tapering.Day2...), m.Tapering.Day3Plus...) {
				if !c.Slots.Has(s) {
					fail("%s: tapering table references undeclared slot %s", label, s)
				}
			}
		}

		if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
			fail("%s: end_date %s is before start_date %s", label, m.EndDate, m.StartDate)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(errs...))
	}
	return nil
}

// Get returns the medication with the given id.
func (c *Catalog) Get(id string) (Medication, bool) {
	for _, m := range c.Medications {
		if m.ID == id {
			return m, true
		}
	}
	return Medication{}, false
}

// Location returns the location definition for a tag.
func (c *Catalog) Location(tag string) (Location, bool) {
	for _, l := range c.Locations {
		if l.Tag == tag {
			return l, true
		}
	}
	return Location{}, false
}

// ValidateOverride checks that an override refers to a known medication and
// only to declared frequencies and slots.
func (c *Catalog) ValidateOverride(o Override) error {
	m, ok := c.Get(o.MedicationID)
	if !ok {
		return fmt.Errorf("unknown medication %q", o.MedicationID)
	}
	if o.Frequency != nil {
		if !o.Frequency.Valid() {
			return fmt.Errorf("unknown frequency %q", *o.Frequency)
		}
		if *o.Frequency == Tapering && m.Tapering == nil {
			return fmt.Errorf("medication %s has no tapering table", m.ID)
		}
	}
	for _, s := range o.Slots {
		if !c.Slots.Has(s) {
			return fmt.Errorf("undeclared slot %q", s)
		}
	}
	return nil
}
