package store

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/jwhitfield/chorewheel/internal/database"
	"github.com/jwhitfield/chorewheel/internal/model"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *sql.DB, n int) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(fmt.Sprintf("user%d@example.com", n), "User", "x")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedGroup(t *testing.T, db *sql.DB) *model.Group {
	t.Helper()
	g, err := NewGroupStore(db).Create("Test House")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return g
}

func seedMember(t *testing.T, db *sql.DB, groupID, userID int64, order int) *model.Member {
	t.Helper()
	m, err := NewMemberStore(db).Add(groupID, userID, model.RoleMember, &order)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	return m
}

func seedTask(t *testing.T, db *sql.DB, groupID int64) *model.Task {
	t.Helper()
	task, err := NewTaskStore(db).Create(&model.Task{
		GroupID:            groupID,
		Title:              "dishes",
		Points:             2.0,
		IsRecurring:        true,
		ExecutionFrequency: model.FrequencyWeekly,
		RotationOrder:      1,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func seedAssignment(t *testing.T, db *sql.DB, taskID, groupID, userID int64, week int, due time.Time) *model.Assignment {
	t.Helper()
	a, err := NewAssignmentStore(db).Create(&model.Assignment{
		TaskID:       taskID,
		GroupID:      groupID,
		UserID:       userID,
		RotationWeek: week,
		WeekStart:    due.AddDate(0, 0, -3),
		WeekEnd:      due.AddDate(0, 0, 3),
		DueDate:      due,
		Points:       2.0,
	})
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return a
}
