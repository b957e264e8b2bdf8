package persistence_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/basket/genie/internal/persistence"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(persistence.DriverSQLite, filepath.Join(t.TempDir(), "genie.db"), 4)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustRegister(t *testing.T, store *persistence.Store, clientID, secret string) {
	t.Helper()
	if err := store.RegisterDevice(context.Background(), clientID, secret); err != nil {
		t.Fatalf("register %s: %v", clientID, err)
	}
}

func queryOneString(t *testing.T, db *sql.DB, q string) string {
	t.Helper()
	var out string
	if err := db.QueryRow(q).Scan(&out); err != nil {
		t.Fatalf("query %q: %v", q, err)
	}
	return out
}

func TestStore_OpenConfiguresWALAndSchema(t *testing.T) {
	store := openTestStore(t)
	db := store.DB()

	if journal := queryOneString(t, db, "PRAGMA journal_mode;"); journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}
	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&foreignKeys); err != nil {
		t.Fatalf("pragma foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", foreignKeys)
	}
	for _, table := range []string{"schema_migrations", "clients", "client_objectives", "client_tasks", "calendar_events", "chat_history"} {
		var got string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&got); err != nil {
			t.Fatalf("table %s not found: %v", table, err)
		}
	}
}

func TestStore_ReopenKeepsLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genie.db")
	first, err := persistence.Open(persistence.DriverSQLite, path, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustRegister(t, first, "c1", "s1")
	_ = first.Close()

	second, err := persistence.Open(persistence.DriverSQLite, path, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	var versions int
	if err := second.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if versions != 1 {
		t.Fatalf("migration rows = %d, want 1", versions)
	}
	ok, err := second.Authenticate(context.Background(), "c1", "s1")
	if err != nil || !ok {
		t.Fatalf("authenticate after reopen: ok=%v err=%v", ok, err)
	}
}

func TestStore_ChecksumMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genie.db")
	store, err := persistence.Open(persistence.DriverSQLite, path, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.DB().Exec("UPDATE schema_migrations SET checksum = 'tampered'"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	_ = store.Close()

	if _, err := persistence.Open(persistence.DriverSQLite, path, 1); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestStore_OpenRejectsUnknownDriver(t *testing.T) {
	if _, err := persistence.Open("mysql", "x", 1); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := persistence.Open(persistence.DriverPostgres, "", 1); err == nil {
		t.Fatal("expected error for empty postgres dsn")
	}
}

func TestRegisterDevice_UpsertRotatesSecret(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	mustRegister(t, store, "c1", "old")
	mustRegister(t, store, "c1", "new")

	n, err := store.CountCredentials(ctx, "c1", "old")
	if err != nil {
		t.Fatalf("count old: %v", err)
	}
	if n != 0 {
		t.Fatalf("old secret still valid: count=%d", n)
	}
	n, err = store.CountCredentials(ctx, "c1", "new")
	if err != nil {
		t.Fatalf("count new: %v", err)
	}
	if n != 1 {
		t.Fatalf("new secret count = %d, want 1", n)
	}

	if ok, _ := store.Authenticate(ctx, "c1", ""); ok {
		t.Fatal("empty secret must not authenticate")
	}
	if err := store.RegisterDevice(ctx, " ", "x"); err == nil {
		t.Fatal("expected error for blank client id")
	}
}

func TestStats_UnknownClientIsZero(t *testing.T) {
	store := openTestStore(t)
	st, err := store.Stats(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if diff := cmp.Diff(persistence.ClientStats{}, st); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestObjectiveTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustRegister(t, store, "c1", "s1")

	oid, err := store.AddObjective(ctx, "c1", "Learn Go", "")
	if err != nil {
		t.Fatalf("add objective: %v", err)
	}
	t1, added, err := store.AddTask(ctx, "c1", oid, "Tour", 3)
	if err != nil || !added {
		t.Fatalf("add task: added=%v err=%v", added, err)
	}
	t2, _, err := store.AddTask(ctx, "c1", oid, "Effective Go", 0)
	if err != nil {
		t.Fatalf("add second task: %v", err)
	}

	ok, err := store.CompleteTask(ctx, "c1", t1)
	if err != nil || !ok {
		t.Fatalf("complete task: ok=%v err=%v", ok, err)
	}
	again, err := store.CompleteTask(ctx, "c1", t1)
	if err != nil {
		t.Fatalf("complete task again: %v", err)
	}
	if again {
		t.Fatal("second completion should report false")
	}

	st, err := store.Stats(ctx, "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if diff := cmp.Diff(persistence.ClientStats{XPScore: 3, TasksCompletedCount: 1}, st); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}

	objs, err := store.ListObjectives(ctx, "c1")
	if err != nil {
		t.Fatalf("list objectives: %v", err)
	}
	want := []persistence.Objective{{
		ID:     oid,
		Title:  "Learn Go",
		Status: persistence.ObjectiveInProgress,
		Tasks: []persistence.Task{
			{ID: t1, Title: "Tour", Weight: 3, IsCompleted: true},
			{ID: t2, Title: "Effective Go", Weight: 1},
		},
	}}
	opts := cmp.Options{
		cmpopts.IgnoreFields(persistence.Objective{}, "ClientID", "CreatedAt"),
		cmpopts.IgnoreFields(persistence.Task{}, "ObjectiveID", "CreatedAt"),
	}
	if diff := cmp.Diff(want, objs, opts); diff != "" {
		t.Fatalf("objectives mismatch (-want +got):\n%s", diff)
	}

	ok, err = store.CompleteObjective(ctx, "c1", oid)
	if err != nil || !ok {
		t.Fatalf("complete objective: ok=%v err=%v", ok, err)
	}
	ok, err = store.CompleteObjective(ctx, "c1", oid)
	if err != nil {
		t.Fatalf("complete objective again: %v", err)
	}
	if ok {
		t.Fatal("second objective completion should report false")
	}
	st, _ = store.Stats(ctx, "c1")
	if st.ObjectivesCompletedCount != 1 {
		t.Fatalf("objectives_completed_count = %d, want 1", st.ObjectivesCompletedCount)
	}
}

func TestListObjectives_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustRegister(t, store, "c1", "s1")

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := store.AddObjective(ctx, "c1", fmt.Sprintf("o%d", i), "")
		if err != nil {
			t.Fatalf("add objective: %v", err)
		}
		ids = append(ids, id)
	}
	objs, err := store.ListObjectives(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []int64
	for _, o := range objs {
		got = append(got, o.ID)
	}
	if diff := cmp.Diff([]int64{ids[2], ids[1], ids[0]}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestOwnership_ForeignClientIsSoftNoop(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustRegister(t, store, "alice", "a")
	mustRegister(t, store, "bob", "b")

	oid, _ := store.AddObjective(ctx, "alice", "Alice goal", "")
	tid, _, _ := store.AddTask(ctx, "alice", oid, "Alice task", 2)

	if _, added, err := store.AddTask(ctx, "bob", oid, "intrusion", 1); err != nil || added {
		t.Fatalf("bob add task: added=%v err=%v", added, err)
	}
	if ok, err := store.CompleteTask(ctx, "bob", tid); err != nil || ok {
		t.Fatalf("bob complete task: ok=%v err=%v", ok, err)
	}
	if ok, err := store.CompleteObjective(ctx, "bob", oid); err != nil || ok {
		t.Fatalf("bob complete objective: ok=%v err=%v", ok, err)
	}
	if removed, err := store.RemoveTask(ctx, "bob", tid); err != nil || removed {
		t.Fatalf("bob remove task: removed=%v err=%v", removed, err)
	}
	if removed, err := store.RemoveObjective(ctx, "bob", oid); err != nil || removed {
		t.Fatalf("bob remove objective: removed=%v err=%v", removed, err)
	}

	objs, err := store.ListObjectives(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 1 || len(objs[0].Tasks) != 1 || objs[0].Tasks[0].IsCompleted || objs[0].Status != persistence.ObjectiveNotStarted {
		t.Fatalf("alice data changed: %+v", objs)
	}
	if st, _ := store.Stats(ctx, "bob"); st != (persistence.ClientStats{}) {
		t.Fatalf("bob stats changed: %+v", st)
	}
	if bobs, _ := store.ListObjectives(ctx, "bob"); len(bobs) != 0 {
		t.Fatalf("bob sees objectives: %+v", bobs)
	}
}

func TestRemoveObjective_CascadesTasks(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustRegister(t, store, "c1", "s1")

	oid, _ := store.AddObjective(ctx, "c1", "Goal", "desc")
	for i := 0; i < 3; i++ {
		if _, _, err := store.AddTask(ctx, "c1", oid, fmt.Sprintf("t%d", i), 1); err != nil {
			t.Fatalf("add task: %v", err)
		}
	}
	removed, err := store.RemoveObjective(ctx, "c1", oid)
	if err != nil || !removed {
		t.Fatalf("remove objective: removed=%v err=%v", removed, err)
	}
	var n int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM client_tasks WHERE objective_id = ?", oid).Scan(&n); err != nil {
		t.Fatalf("count tasks: %v", err)
	}
	if n != 0 {
		t.Fatalf("orphan tasks = %d, want 0", n)
	}
}

func TestCalendarEvents(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustRegister(t, store, "c1", "s1")
	mustRegister(t, store, "c2", "s2")

	if _, err := store.AddCalendarEvent(ctx, "c1", "Standup", "2026-10-16T10:00:00", "2026-10-16T10:15:00"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.AddCalendarEvent(ctx, "c1", "Breakfast", "2026-10-16T08:00:00", "2026-10-16T09:00:00"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.AddCalendarEvent(ctx, "c2", "Other", "2026-10-16T08:00:00", "2026-10-16T09:00:00"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.AddCalendarEvent(ctx, "c1", "", "a", "b"); err == nil {
		t.Fatal("expected error for empty title")
	}

	events, err := store.ListCalendarEvents(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []persistence.CalendarEvent{
		{Title: "Breakfast", StartTime: "2026-10-16T08:00:00", EndTime: "2026-10-16T09:00:00"},
		{Title: "Standup", StartTime: "2026-10-16T10:00:00", EndTime: "2026-10-16T10:15:00"},
	}
	if diff := cmp.Diff(want, events, cmpopts.IgnoreFields(persistence.CalendarEvent{}, "ID")); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	n, err := store.RemoveCalendarEvent(ctx, "c1", "Standup")
	if err != nil || n != 1 {
		t.Fatalf("remove: n=%d err=%v", n, err)
	}
	if n, _ := store.RemoveCalendarEvent(ctx, "c1", "Other"); n != 0 {
		t.Fatalf("removed another client's event")
	}
}

func TestListChatTurns_NewestNAscending(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustRegister(t, store, "c1", "s1")

	for i := 0; i < 25; i++ {
		role := persistence.RoleUser
		if i%2 == 1 {
			role = persistence.RoleAssistant
		}
		if err := store.AddChatTurn(ctx, "c1", role, fmt.Sprintf("m%02d", i)); err != nil {
			t.Fatalf("add turn: %v", err)
		}
	}
	turns, err := store.ListChatTurns(ctx, "c1", 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 20 {
		t.Fatalf("len = %d, want 20", len(turns))
	}
	if turns[0].Content != "m05" || turns[19].Content != "m24" {
		t.Fatalf("window = %s..%s, want m05..m24", turns[0].Content, turns[19].Content)
	}
	if err := store.AddChatTurn(ctx, "c1", "system", "nope"); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestListChatTurns_OversizedLimitIsCapped(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustRegister(t, store, "c1", "s1")

	for i := 0; i < 150; i++ {
		if err := store.AddChatTurn(ctx, "c1", persistence.RoleUser, fmt.Sprintf("m%03d", i)); err != nil {
			t.Fatalf("add turn: %v", err)
		}
	}
	tests := []struct {
		limit int
		want  int
		first string
	}{
		{limit: 1500, want: 150, first: "m000"},
		{limit: persistence.MaxChatTurns, want: 150, first: "m000"},
		{limit: 120, want: 120, first: "m030"},
		{limit: 0, want: 100, first: "m050"},
	}
	for _, tc := range tests {
		turns, err := store.ListChatTurns(ctx, "c1", tc.limit)
		if err != nil {
			t.Fatalf("limit %d: %v", tc.limit, err)
		}
		if len(turns) != tc.want {
			t.Fatalf("limit %d returned %d turns, want %d", tc.limit, len(turns), tc.want)
		}
		if turns[0].Content != tc.first || turns[len(turns)-1].Content != "m149" {
			t.Fatalf("limit %d window = %s..%s", tc.limit, turns[0].Content, turns[len(turns)-1].Content)
		}
	}
}

func TestConcurrentTaskCompletion_CreditsOnce(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	mustRegister(t, store, "c1", "s1")
	oid, _ := store.AddObjective(ctx, "c1", "Race", "")
	tid, _, _ := store.AddTask(ctx, "c1", oid, "once", 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CompleteTask(ctx, "c1", tid)
			if err != nil {
				t.Errorf("complete: %v", err)
				return
			}
			if ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	st, _ := store.Stats(ctx, "c1")
	if st.XPScore != 5 || st.TasksCompletedCount != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
