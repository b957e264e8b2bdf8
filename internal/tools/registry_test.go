package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/basket/genie/internal/bus"
	"github.com/basket/genie/internal/persistence"
	"github.com/basket/genie/internal/session"
)

func newTestRegistry(t *testing.T, notifier Notifier, clients ...string) (*Registry, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(persistence.DriverSQLite, filepath.Join(t.TempDir(), "genie.db"), 4)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for _, id := range clients {
		if err := store.RegisterDevice(context.Background(), id, "secret-"+id); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	fixed := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	reg, err := NewRegistry(Deps{
		Store:    store,
		Notifier: notifier,
		Clock:    func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg, store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_CatalogNames(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)
	want := []string{
		"get_server_time", "add_calendar_event", "get_calendar_events", "remove_calendar_event",
		"get_objectives", "add_objective", "add_task", "remove_task", "remove_objective",
		"complete_task", "complete_objective", "get_user_stats",
	}
	if diff := cmp.Diff(want, reg.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	for _, s := range reg.Specs() {
		if !json.Valid(s.Schema) {
			t.Errorf("%s: schema is not valid JSON", s.Name)
		}
		if s.Description == "" {
			t.Errorf("%s: empty description", s.Name)
		}
	}
}

func TestRegistry_InvokeFailuresBecomeText(t *testing.T) {
	reg, _ := newTestRegistry(t, nil, "alice")
	ctx := context.Background()

	tests := []struct {
		name   string
		scope  *session.Scope
		cap    string
		args   string
		prefix string
	}{
		{"unscoped nil", nil, "get_user_stats", `{}`, UnscopedText},
		{"unscoped empty", session.New("  "), "get_user_stats", `{}`, UnscopedText},
		{"unknown", session.New("alice"), "launch_rockets", `{}`, "Error: unknown capability launch_rockets."},
		{"malformed json", session.New("alice"), "add_objective", `{"title":`, "Error: invalid arguments for add_objective"},
		{"missing required", session.New("alice"), "add_objective", `{}`, "Error: invalid arguments for add_objective"},
		{"bad id", session.New("alice"), "complete_task", `{"task_id":"abc"}`, "Error: invalid arguments for complete_task"},
		{"extra args on no-arg capability", session.New("alice"), "get_server_time", `{"x":1}`, "Error: invalid arguments for get_server_time"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := reg.Invoke(ctx, tc.scope, tc.cap, json.RawMessage(tc.args))
			if !strings.HasPrefix(got, tc.prefix) {
				t.Fatalf("got %q, want prefix %q", got, tc.prefix)
			}
		})
	}
}

func TestRegistry_RecoversHandlerPanic(t *testing.T) {
	reg, err := newRegistry([]Capability{{
		Name:   "boom",
		Schema: schemaNone,
		Handler: func(context.Context, *session.Scope, Args) (string, error) {
			panic("kaboom")
		},
	}}, testLogger(), nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	got := reg.Invoke(context.Background(), session.New("alice"), "boom", nil)
	if got != "Error: capability boom failed." {
		t.Fatalf("got %q", got)
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	c := Capability{Name: "x", Schema: schemaNone, Handler: func(context.Context, *session.Scope, Args) (string, error) { return "", nil }}
	if _, err := newRegistry([]Capability{c, c}, testLogger(), nil); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestRegistry_ServerTime(t *testing.T) {
	reg, _ := newTestRegistry(t, nil, "alice")
	got := reg.Invoke(context.Background(), session.New("alice"), "get_server_time", nil)
	if got != "The current server time is 2026-10-16 09:30:00." {
		t.Fatalf("got %q", got)
	}
}

func TestRegistry_ObjectiveLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t, nil, "alice")
	ctx := context.Background()
	alice := session.New("alice")

	steps := []struct {
		cap  string
		args string
		want string
	}{
		{"add_objective", `{"title":"Learn Go","description":"basics"}`, "Objective 'Learn Go' created with ID 1."},
		{"add_task", `{"objective_id":1,"title":"Tour","weight":5}`, "Task 'Tour' (weight 5) added to objective 1 with ID 1."},
		{"add_task", `{"objective_id":"1","title":"Effective Go"}`, "Task 'Effective Go' (weight 1) added to objective 1 with ID 2."},
		{"add_task", `{"objective_id":99,"title":"Nope"}`, "Objective 99 not found; task not added."},
		{"complete_task", `{"task_id":1}`, "Task 1 completed. Success: true"},
		{"complete_task", `{"task_id":1}`, "Task 1 completed. Success: false"},
		{"get_user_stats", `{}`, `{"xp_score":5,"tasks_completed_count":1,"objectives_completed_count":0}`},
		{"remove_task", `{"task_id":2}`, "Task 2 removed."},
		{"complete_objective", `{"objective_id":1}`, "Objective 1 completed. Success: true"},
		{"complete_objective", `{"objective_id":1}`, "Objective 1 completed. Success: false"},
		{"get_user_stats", `{}`, `{"xp_score":5,"tasks_completed_count":1,"objectives_completed_count":1}`},
		{"remove_objective", `{"objective_id":1}`, "Objective 1 removed."},
		{"get_objectives", `{}`, `[]`},
	}
	for i, s := range steps {
		got := reg.Invoke(ctx, alice, s.cap, json.RawMessage(s.args))
		if got != s.want {
			t.Fatalf("step %d %s: got %q, want %q", i, s.cap, got, s.want)
		}
	}
}

func TestRegistry_ScopesAreIsolated(t *testing.T) {
	reg, _ := newTestRegistry(t, nil, "alice", "bob")
	ctx := context.Background()
	alice, bob := session.New("alice"), session.New("bob")

	reg.Invoke(ctx, alice, "add_objective", json.RawMessage(`{"title":"Alice goal"}`))
	reg.Invoke(ctx, alice, "add_task", json.RawMessage(`{"objective_id":1,"title":"a1","weight":3}`))

	if got := reg.Invoke(ctx, bob, "get_objectives", nil); got != "[]" {
		t.Fatalf("bob sees %q", got)
	}
	if got := reg.Invoke(ctx, bob, "complete_task", json.RawMessage(`{"task_id":1}`)); got != "Task 1 completed. Success: false" {
		t.Fatalf("bob completing alice's task: %q", got)
	}
	if got := reg.Invoke(ctx, bob, "add_task", json.RawMessage(`{"objective_id":1,"title":"sneaky"}`)); got != "Objective 1 not found; task not added." {
		t.Fatalf("bob adding to alice's objective: %q", got)
	}
	reg.Invoke(ctx, bob, "remove_objective", json.RawMessage(`{"objective_id":1}`))

	var objs []persistence.Objective
	if err := json.Unmarshal([]byte(reg.Invoke(ctx, alice, "get_objectives", nil)), &objs); err != nil {
		t.Fatalf("decode objectives: %v", err)
	}
	if len(objs) != 1 || len(objs[0].Tasks) != 1 || objs[0].Tasks[0].IsCompleted {
		t.Fatalf("alice's data changed: %+v", objs)
	}
}

func TestRegistry_ConcurrentScopes(t *testing.T) {
	reg, store := newTestRegistry(t, nil, "alice", "bob")
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			scope := session.New(id)
			for i := 0; i < 10; i++ {
				reg.Invoke(ctx, scope, "add_objective", json.RawMessage(`{"title":"`+id+`"}`))
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"alice", "bob"} {
		objs, err := store.ListObjectives(ctx, id)
		if err != nil {
			t.Fatalf("list %s: %v", id, err)
		}
		if len(objs) != 10 {
			t.Fatalf("%s has %d objectives, want 10", id, len(objs))
		}
		for _, o := range objs {
			if o.Title != id {
				t.Fatalf("%s owns objective titled %q", id, o.Title)
			}
		}
	}
}

func TestRegistry_CalendarPublishesNotifications(t *testing.T) {
	hub := bus.New()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	reg, _ := newTestRegistry(t, hub, "alice")
	ctx := context.Background()
	alice := session.New("alice")

	got := reg.Invoke(ctx, alice, "add_calendar_event",
		json.RawMessage(`{"title":"Standup","start_time":"2026-10-16T09:00:00","end_time":"2026-10-16T09:15:00"}`))
	if got != "Event 'Standup' scheduled for 2026-10-16T09:00:00" {
		t.Fatalf("add: %q", got)
	}
	select {
	case n := <-sub.Ch():
		want := bus.Notification{Command: bus.CommandAddEvent, Parameters: []string{"Standup", "2026-10-16T09:00:00", "2026-10-16T09:15:00"}}
		if diff := cmp.Diff(want, n); diff != "" {
			t.Fatalf("notification (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("no add_event notification")
	}

	if got := reg.Invoke(ctx, alice, "get_calendar_events", nil); got != `[{"title":"Standup","start":"2026-10-16T09:00:00","end":"2026-10-16T09:15:00"}]` {
		t.Fatalf("list: %q", got)
	}

	if got := reg.Invoke(ctx, alice, "remove_calendar_event", json.RawMessage(`{"title":"Standup"}`)); got != "Event 'Standup' removed from calendar." {
		t.Fatalf("remove: %q", got)
	}
	select {
	case n := <-sub.Ch():
		if n.Command != bus.CommandRemoveEvent || len(n.Parameters) != 1 || n.Parameters[0] != "Standup" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no remove_event notification")
	}
}

func TestArgs_Int(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{json.Number("7"), 7, false},
		{"42", 42, false},
		{" 3 ", 3, false},
		{float64(9), 9, false},
		{nil, 11, false},
		{"x", 0, true},
		{true, 0, true},
	}
	for _, tc := range tests {
		got, err := Args{"k": tc.in}.Int("k", 11)
		if (err != nil) != tc.wantErr {
			t.Fatalf("Int(%v) err = %v", tc.in, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("Int(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
