package registry

import (
	"fmt"
	"sync"
	"testing"

	"classchat/internal/testutil"
	"classchat/pkg/types"
)

func student(id string) types.Identity {
	return types.Identity{ID: id, DisplayName: id, Role: types.RoleStudent}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := New(nil)

	if err := r.Register(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
	if err := r.Register(testutil.NewFakeConn("c1")); err != ErrNotAuthenticated {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}
	if err := r.Register(testutil.NewAuthedConn("c2", student("a"))); err != nil {
		t.Errorf("Register: %v", err)
	}
	if stats := r.Stats(); stats.Connections != 1 || stats.Users != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestRegistry_JoinLeave(t *testing.T) {
	r := New(nil)
	a := testutil.NewAuthedConn("c-a", student("a"))
	b := testutil.NewAuthedConn("c-b", student("b"))

	if !r.Join("c7", a) {
		t.Error("first join should report added")
	}
	if r.Join("c7", a) {
		t.Error("second join should be a no-op")
	}
	r.Join("c7", b)

	if got := r.Occupants("c7"); len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Unexpected occupants %v", got)
	}
	if !r.IsMember("c7", a) || r.IsMember("c8", a) {
		t.Error("IsMember mismatch")
	}

	if !r.Leave("c7", a) {
		t.Error("leave of a member should report removed")
	}
	if r.Leave("c7", a) {
		t.Error("second leave should be a no-op")
	}
	if r.Leave("nowhere", a) {
		t.Error("leave of unknown room should be a no-op")
	}

	r.Leave("c7", b)
	if stats := r.Stats(); stats.Rooms != 0 || stats.Memberships != 0 {
		t.Errorf("Empty room should be removed, stats %+v", stats)
	}
	if r.Members("c7") != nil {
		t.Error("Members of a removed room should be nil")
	}
}

func TestRegistry_OccupantsDedupeByUser(t *testing.T) {
	r := New(nil)
	laptop := testutil.NewAuthedConn("c-1", student("a"))
	phone := testutil.NewAuthedConn("c-2", student("a"))
	r.Join("c7", laptop)
	r.Join("c7", phone)

	if got := r.Occupants("c7"); len(got) != 1 {
		t.Errorf("Expected one occupant, got %v", got)
	}
	if got := r.Members("c7"); len(got) != 2 {
		t.Errorf("Expected two members, got %d", len(got))
	}

	r.Leave("c7", laptop)
	if !r.HasUser("c7", "a") {
		t.Error("user should still be present through the second connection")
	}
}

func TestRegistry_UserMembersAndRooms(t *testing.T) {
	r := New(nil)
	a1 := testutil.NewAuthedConn("c-1", student("a"))
	a2 := testutil.NewAuthedConn("c-2", student("a"))
	_ = r.Register(a1)
	_ = r.Register(a2)
	r.Join("c7", a1)
	r.Join("c3", a1)

	if got := r.UserMembers("a"); len(got) != 2 || got[0].ID() != "c-1" {
		t.Errorf("Unexpected user members %v", got)
	}
	if got := r.Rooms(a1); len(got) != 2 || got[0] != "c3" || got[1] != "c7" {
		t.Errorf("Unexpected rooms %v", got)
	}

	left := r.Unregister(a1)
	if len(left) != 2 {
		t.Errorf("Expected to leave two rooms, left %v", left)
	}
	if got := r.UserMembers("a"); len(got) != 1 || got[0].ID() != "c-2" {
		t.Errorf("Unexpected user members after unregister %v", got)
	}
	if r.Unregister(a1); len(r.Rooms(a1)) != 0 {
		t.Error("Unregister should be idempotent")
	}
	if stats := r.Stats(); stats.Rooms != 0 {
		t.Errorf("Expected no rooms, got %+v", stats)
	}
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := New(nil)
	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := testutil.NewAuthedConn(fmt.Sprintf("c-%d", i), student(fmt.Sprintf("u%d", i)))
			room := fmt.Sprintf("room-%d", i%3)
			for j := 0; j < 50; j++ {
				r.Join(room, conn)
				r.Occupants(room)
				r.Leave(room, conn)
			}
			r.Join(room, conn)
		}(i)
	}
	wg.Wait()

	stats := r.Stats()
	if stats.Memberships != workers {
		t.Errorf("Expected %d memberships, got %+v", workers, stats)
	}
	if stats.Rooms != 3 {
		t.Errorf("Expected 3 rooms, got %+v", stats)
	}
}
