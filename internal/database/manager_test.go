package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"classchat/pkg/database"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.WriteRetryDelay = 10 * time.Millisecond

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	if err := manager.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return manager
}

func insert(t *testing.T, m *Manager, room, sender, body string) int64 {
	t.Helper()
	id, err := m.InsertMessage(context.Background(), &types.Message{
		RoomID:    room,
		SenderID:  sender,
		Body:      body,
		Kind:      types.KindText,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	return id
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.MessageBackend = &Manager{}
	var _ interfaces.AssignmentLookup = &Manager{}
	var _ interfaces.EnrollmentLookup = &Manager{}
}

func TestManager_InsertAndGet(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	first := insert(t, m, "math101", "alice", "Hello")
	reply := first
	id, err := m.InsertMessage(ctx, &types.Message{
		RoomID:    "math101",
		SenderID:  "bob",
		Body:      "Hi Alice",
		Kind:      types.KindText,
		ReplyToID: &reply,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if id <= first {
		t.Errorf("Expected id greater than %d, got %d", first, id)
	}

	msg, err := m.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.RoomID != "math101" || msg.SenderID != "bob" || msg.Body != "Hi Alice" {
		t.Errorf("Unexpected message %+v", msg)
	}
	if msg.ReplyToID == nil || *msg.ReplyToID != first {
		t.Errorf("Expected reply to %d, got %v", first, msg.ReplyToID)
	}
	if msg.IsDeleted || msg.EditedAt != nil || msg.DeletedAt != nil {
		t.Errorf("New message should be pristine: %+v", msg)
	}

	if _, err := m.GetMessage(ctx, 9999); !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}
}

func TestManager_UpdateAndDelete(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	id := insert(t, m, "r1", "alice", "typo")

	edited := time.Now().UTC()
	if err := m.UpdateMessageBody(ctx, id, "fixed", edited); err != nil {
		t.Fatalf("UpdateMessageBody: %v", err)
	}
	deleted := edited.Add(time.Second)
	if err := m.MarkMessageDeleted(ctx, id, deleted); err != nil {
		t.Fatalf("MarkMessageDeleted: %v", err)
	}

	msg, err := m.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Body != "fixed" || msg.EditedAt == nil || !msg.IsDeleted || msg.DeletedAt == nil {
		t.Errorf("Unexpected state %+v", msg)
	}

	if err := m.UpdateMessageBody(ctx, 9999, "x", edited); !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}
}

func TestManager_ReactionAndReadSets(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	id := insert(t, m, "r1", "alice", "vote")

	changed, err := m.AddReaction(ctx, id, "👍", "x")
	if err != nil || !changed {
		t.Fatalf("first AddReaction = %v, %v", changed, err)
	}
	changed, err = m.AddReaction(ctx, id, "👍", "x")
	if err != nil || changed {
		t.Errorf("duplicate AddReaction = %v, %v", changed, err)
	}
	if _, err := m.AddReaction(ctx, id, "👍", "w"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}

	msg, _ := m.GetMessage(ctx, id)
	if got := msg.Reactions["👍"]; len(got) != 2 || got[0] != "w" || got[1] != "x" {
		t.Errorf("Expected [w x], got %v", got)
	}

	changed, err = m.RemoveReaction(ctx, id, "👍", "x")
	if err != nil || !changed {
		t.Errorf("RemoveReaction = %v, %v", changed, err)
	}
	changed, _ = m.RemoveReaction(ctx, id, "🎉", "x")
	if changed {
		t.Error("Removing an absent reaction must report no change")
	}

	now := time.Now().UTC()
	if changed, _ := m.AddRead(ctx, id, "bob", now); !changed {
		t.Error("first AddRead should change")
	}
	if changed, _ := m.AddRead(ctx, id, "bob", now); changed {
		t.Error("second AddRead should not change")
	}
	msg, _ = m.GetMessage(ctx, id)
	if len(msg.ReadBy) != 1 || msg.ReadBy[0] != "bob" {
		t.Errorf("Expected readBy [bob], got %v", msg.ReadBy)
	}
}

func TestManager_ListMessagesWindow(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, insert(t, m, "r1", "alice", "m"))
		insert(t, m, "other", "bob", "noise")
	}

	page, err := m.ListMessages(ctx, "r1", 3, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 3 || page[0].ID != ids[2] || page[2].ID != ids[4] {
		t.Fatalf("Expected newest three ascending, got %v", messageIDs(page))
	}

	older, err := m.ListMessages(ctx, "r1", 3, page[0].ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(older) != 2 || older[0].ID != ids[0] || older[1].ID != ids[1] {
		t.Errorf("Expected first two, got %v", messageIDs(older))
	}

	empty, err := m.ListMessages(ctx, "nobody", 10, 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty page, got %v, %v", empty, err)
	}
}

func TestManager_Lookups(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	if err := m.AssignTeacher(ctx, "t1", "c7", "math", true); err != nil {
		t.Fatalf("AssignTeacher: %v", err)
	}
	if err := m.EnrollStudent(ctx, "s1", "c7", true); err != nil {
		t.Fatalf("EnrollStudent: %v", err)
	}

	if ok, err := m.IsTeacherAssigned(ctx, "t1", "c7"); err != nil || !ok {
		t.Errorf("IsTeacherAssigned = %v, %v", ok, err)
	}
	if ok, _ := m.IsTeacherAssigned(ctx, "t1", "c8"); ok {
		t.Error("Teacher should not be assigned to c8")
	}
	if ok, err := m.IsStudentEnrolled(ctx, "s1", "c7"); err != nil || !ok {
		t.Errorf("IsStudentEnrolled = %v, %v", ok, err)
	}

	// Withdrawal flips the flag in place
	if err := m.EnrollStudent(ctx, "s1", "c7", false); err != nil {
		t.Fatalf("EnrollStudent: %v", err)
	}
	if ok, _ := m.IsStudentEnrolled(ctx, "s1", "c7"); ok {
		t.Error("Inactive enrollment must not grant access")
	}
}

func TestManager_ConcurrentInsertsGetUniqueIDs(t *testing.T) {
	m := setupTestDB(t)

	const writers, per = 8, 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]bool)
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id, err := m.InsertMessage(context.Background(), &types.Message{
					RoomID: "r1", SenderID: "u", Body: "b", Kind: types.KindText, CreatedAt: time.Now().UTC(),
				})
				if err != nil {
					t.Errorf("InsertMessage: %v", err)
					return
				}
				mu.Lock()
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(ids) != writers*per {
		t.Errorf("Expected %d unique ids, got %d", writers*per, len(ids))
	}
}

func TestManager_CloseRejectsWrites(t *testing.T) {
	m := setupTestDB(t)
	if err := m.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := m.InsertMessage(context.Background(), &types.Message{RoomID: "r"}); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}

func messageIDs(msgs []*types.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
