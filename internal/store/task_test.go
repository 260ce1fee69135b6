package store

import (
	"testing"

	"github.com/jwhitfield/chorewheel/internal/model"
)

func TestTaskSelectedDaysRoundTrip(t *testing.T) {
	db := testDB(t)
	tasks := NewTaskStore(db)
	g := seedGroup(t, db)

	created, err := tasks.Create(&model.Task{
		GroupID:            g.ID,
		Title:              "feed cat",
		Points:             1.0,
		IsRecurring:        true,
		ExecutionFrequency: model.FrequencyDaily,
		RotationOrder:      1,
		SelectedDays:       []int{0, 2, 4},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := tasks.GetByID(created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	want := []int{0, 2, 4}
	if len(got.SelectedDays) != len(want) {
		t.Fatalf("selected days = %v, want %v", got.SelectedDays, want)
	}
	for i := range want {
		if got.SelectedDays[i] != want[i] {
			t.Fatalf("selected days = %v, want %v", got.SelectedDays, want)
		}
	}
}

func TestTaskDefaultDueTime(t *testing.T) {
	db := testDB(t)
	tasks := NewTaskStore(db)
	g := seedGroup(t, db)

	created, err := tasks.Create(&model.Task{
		GroupID:       g.ID,
		Title:         "trash",
		Points:        1.0,
		IsRecurring:   true,
		RotationOrder: 1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.DueTime != model.DefaultDueTime {
		t.Errorf("due time = %q, want %q", created.DueTime, model.DefaultDueTime)
	}
}

func TestListSlotsPreservesInsertionOrder(t *testing.T) {
	db := testDB(t)
	tasks := NewTaskStore(db)
	g := seedGroup(t, db)
	task := seedTask(t, db, g.ID)

	// Deliberately inserted with a later slot first: listing must follow
	// insertion order, not clock order, so point splits stay stable.
	if _, err := tasks.CreateSlot(task.ID, "20:00", "21:00", "night", nil); err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if _, err := tasks.CreateSlot(task.ID, "07:00", "08:00", "morning", nil); err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	slots, err := tasks.ListSlots(task.ID)
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if slots[0].Label != "night" || slots[1].Label != "morning" {
		t.Errorf("slots out of insertion order: %q, %q", slots[0].Label, slots[1].Label)
	}
}

func TestListRecurringByGroup(t *testing.T) {
	db := testDB(t)
	tasks := NewTaskStore(db)
	g := seedGroup(t, db)

	seedTask(t, db, g.ID)
	if _, err := tasks.Create(&model.Task{
		GroupID:       g.ID,
		Title:         "one-off",
		Points:        1.0,
		IsRecurring:   false,
		RotationOrder: 2,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recurring, err := tasks.ListRecurringByGroup(g.ID)
	if err != nil {
		t.Fatalf("ListRecurringByGroup: %v", err)
	}
	if len(recurring) != 1 {
		t.Fatalf("got %d recurring tasks, want 1", len(recurring))
	}
}
