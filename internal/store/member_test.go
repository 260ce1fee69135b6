package store

import (
	"testing"

	"github.com/jwhitfield/chorewheel/internal/model"
)

func TestListActiveByGroupOrdering(t *testing.T) {
	db := testDB(t)
	members := NewMemberStore(db)
	g := seedGroup(t, db)

	u1 := seedUser(t, db, 1)
	u2 := seedUser(t, db, 2)
	u3 := seedUser(t, db, 3)

	// Added out of order, plus one member with no rotation slot.
	seedMember(t, db, g.ID, u2.ID, 2)
	seedMember(t, db, g.ID, u1.ID, 1)
	if _, err := members.Add(g.ID, u3.ID, model.RoleMember, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	list, err := members.ListActiveByGroup(g.ID)
	if err != nil {
		t.Fatalf("ListActiveByGroup: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d members, want 3", len(list))
	}
	if list[0].UserID != u1.ID || list[1].UserID != u2.ID {
		t.Error("members not ordered by rotation order")
	}
	if list[2].UserID != u3.ID {
		t.Error("member without rotation order should sort last")
	}
}

func TestListActiveByGroupSkipsInactive(t *testing.T) {
	db := testDB(t)
	members := NewMemberStore(db)
	g := seedGroup(t, db)

	u1 := seedUser(t, db, 1)
	u2 := seedUser(t, db, 2)
	seedMember(t, db, g.ID, u1.ID, 1)
	m2 := seedMember(t, db, g.ID, u2.ID, 2)

	if err := members.SetActive(m2.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	list, err := members.ListActiveByGroup(g.ID)
	if err != nil {
		t.Fatalf("ListActiveByGroup: %v", err)
	}
	if len(list) != 1 || list[0].UserID != u1.ID {
		t.Fatalf("inactive member not excluded: %+v", list)
	}
}

func TestNextRotationOrder(t *testing.T) {
	db := testDB(t)
	members := NewMemberStore(db)
	g := seedGroup(t, db)

	n, err := members.NextRotationOrder(g.ID)
	if err != nil {
		t.Fatalf("NextRotationOrder: %v", err)
	}
	if n != 1 {
		t.Errorf("empty group: next order = %d, want 1", n)
	}

	u := seedUser(t, db, 1)
	seedMember(t, db, g.ID, u.ID, 4)

	n, err = members.NextRotationOrder(g.ID)
	if err != nil {
		t.Fatalf("NextRotationOrder: %v", err)
	}
	if n != 5 {
		t.Errorf("next order = %d, want 5", n)
	}
}

func TestCountAdmins(t *testing.T) {
	db := testDB(t)
	members := NewMemberStore(db)
	g := seedGroup(t, db)

	u1 := seedUser(t, db, 1)
	u2 := seedUser(t, db, 2)
	order := 1
	if _, err := members.Add(g.ID, u1.ID, model.RoleAdmin, &order); err != nil {
		t.Fatalf("Add: %v", err)
	}
	seedMember(t, db, g.ID, u2.ID, 2)

	n, err := members.CountAdmins(g.ID)
	if err != nil {
		t.Fatalf("CountAdmins: %v", err)
	}
	if n != 1 {
		t.Errorf("admin count = %d, want 1", n)
	}
}
