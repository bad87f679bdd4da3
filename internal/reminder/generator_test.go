package reminder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/schedule"
)

const generatorCatalog = `
anchor_date: 2026-10-01
medications:
  - id: acetazolamide
    name: Acetazolamide
    dose: 250 mg
    location: ORAL
    frequency: twice_daily
    notes: Take with food
  - id: timolol
    name: Timolol 0.5%
    dose: 1 drop
    location: RIGHT_EYE
    frequency: once_daily
  - id: prednisolone
    name: Prednisolone 1%
    dose: 1 drop
    location: LEFT_EYE
    frequency: four_times_daily
  - id: moxifloxacin
    name: Moxifloxacin 0.5%
    dose: 1 drop
    location: LEFT_EYE
    frequency: four_times_daily
  - id: vitamin
    name: Vitamin D
    dose: 1 tablet
    location: ORAL
    frequency: once_daily
  - id: night-gel
    name: Lubricating gel
    dose: 1 strip
    location: BOTH_EYES
    frequency: every_12h_offset
`

func newTestGenerator(t *testing.T) (*Generator, *time.Location) {
	t.Helper()
	catalog, err := medication.Parse([]byte(generatorCatalog))
	require.NoError(t, err)
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	resolver := schedule.NewResolver(catalog, loc, nil, zap.NewNop())
	return NewGenerator(resolver, zap.NewNop()), loc
}

func TestGenerate_StaggersEyeMedicationsByLocationPriority(t *testing.T) {
	g, loc := newTestGenerator(t)

	batch := g.Generate(context.Background(), time.Date(2026, time.October, 3, 8, 31, 0, 0, loc))
	require.True(t, batch.Active)
	assert.Equal(t, medication.SlotMorning, batch.Slot)
	assert.Equal(t, 3, batch.DayNumber)

	type row struct {
		id      string
		display string
		index   int
	}
	var got []row
	for _, r := range batch.Reminders {
		got = append(got, row{r.MedicationID, r.DisplayTime, r.StaggerIndex})
	}

	assert.Equal(t, []row{
		{"prednisolone", "08:30", 0},
		{"moxifloxacin", "08:36", 1},
		{"timolol", "08:42", 2},
		{"acetazolamide", "08:30", 0},
		{"vitamin", "08:30", 0},
	}, got)
}

func TestGenerate_DisplayTimesNonDecreasingAcrossStaggeredLocations(t *testing.T) {
	g, _ := newTestGenerator(t)
	date := medication.NewDate(2026, time.October, 5)

	for _, slot := range []medication.Slot{medication.SlotMorning, medication.SlotMidday, medication.SlotEvening} {
		batch := g.GenerateFor(context.Background(), slot, date)
		prev := ""
		for _, r := range batch.Reminders {
			if r.Medication.Location == medication.LocationOral {
				continue
			}
			assert.GreaterOrEqual(t, r.DisplayTime, prev, "%s %s", slot, r.MedicationID)
			prev = r.DisplayTime
		}
	}
}

func TestGenerateFor_WrapsDisplayTimePastMidnight(t *testing.T) {
	g, _ := newTestGenerator(t)

	batch := g.GenerateFor(context.Background(), medication.SlotNight, medication.NewDate(2026, time.October, 5))
	require.Len(t, batch.Reminders, 1)
	assert.Equal(t, "night-gel", batch.Reminders[0].MedicationID)
	assert.Equal(t, "00:00", batch.Reminders[0].DisplayTime)

	assert.Equal(t, "00:06", displayTime(medication.SlotDef{Name: "X", Hour: 23, Minute: 54}, 2))
}

func TestGenerateFor_IDsAreDeterministic(t *testing.T) {
	g, _ := newTestGenerator(t)
	ctx := context.Background()
	date := medication.NewDate(2026, time.October, 5)

	first := g.GenerateFor(ctx, medication.SlotEvening, date)
	second := g.GenerateFor(ctx, medication.SlotEvening, date)
	require.NotEmpty(t, first.Reminders)
	require.Equal(t, len(first.Reminders), len(second.Reminders))

	for i := range first.Reminders {
		assert.Equal(t, first.Reminders[i].ID, second.Reminders[i].ID)
	}
	assert.Equal(t, "2026-10-05-EVENING-prednisolone", first.Reminders[0].ID)
}

func TestGenerateFor_ReminderFields(t *testing.T) {
	g, _ := newTestGenerator(t)

	batch := g.GenerateFor(context.Background(), medication.SlotEvening, medication.NewDate(2026, time.October, 1))
	var oral Reminder
	for _, r := range batch.Reminders {
		if r.MedicationID == "acetazolamide" {
			oral = r
		}
	}
	require.Equal(t, "acetazolamide", oral.MedicationID)

	assert.Equal(t, "2026-10-01", oral.Date)
	assert.Equal(t, 1, oral.DayNumber)
	assert.Nil(t, oral.SentAt)
	assert.False(t, oral.Confirmed)
	assert.Equal(t, Snapshot{Name: "Acetazolamide", Dose: "250 mg", Location: "ORAL", Notes: "Take with food"}, oral.Medication)
	assert.Contains(t, oral.Message, "Day 1")
	assert.Contains(t, oral.Message, "💊 Oral: Acetazolamide")
	assert.Contains(t, oral.Message, "Note: Take with food")
}

func TestGenerate_NoActiveSlot(t *testing.T) {
	g, loc := newTestGenerator(t)

	batch := g.Generate(context.Background(), time.Date(2026, time.October, 3, 16, 0, 0, 0, loc))
	assert.False(t, batch.Active)
	assert.Empty(t, batch.Reminders)
}

func TestGenerate_ActiveSlotNothingDue(t *testing.T) {
	g, loc := newTestGenerator(t)

	batch := g.Generate(context.Background(), time.Date(2026, time.October, 3, 11, 5, 0, 0, loc))
	assert.True(t, batch.Active)
	assert.Equal(t, medication.SlotLateMorning, batch.Slot)
	assert.Empty(t, batch.Reminders)
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(MessageData{
		DisplayTime:   "08:36",
		DayNumber:     4,
		LocationIcon:  "👁️",
		LocationLabel: "Left eye",
		Name:          "Moxifloxacin",
		Dose:          "1 drop",
	})

	lines := strings.Split(msg, "\n")
	assert.Equal(t, []string{
		"💊 Medication reminder · 08:36 · Day 4",
		"👁️ Left eye: Moxifloxacin",
		"Dose: 1 drop",
		"Reply DONE when given.",
	}, lines)

	resend := RenderResend(Reminder{Message: msg})
	assert.True(t, strings.HasPrefix(resend, "🔁"))
	assert.True(t, strings.HasSuffix(resend, msg))
}

func TestReminder_Age(t *testing.T) {
	now := time.Date(2026, time.October, 3, 9, 0, 0, 0, time.UTC)
	var r Reminder
	assert.False(t, r.Sent())
	assert.Zero(t, r.Age(now))

	sent := now.Add(-40 * time.Minute)
	r.SentAt = &sent
	assert.True(t, r.Sent())
	assert.Equal(t, 40*time.Minute, r.Age(now))
}
