package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRunRetention_PrunesOldChatTurns(t *testing.T) {
	ctx := context.Background()
	store, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "genie.db"), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.RegisterDevice(ctx, "c1", "s1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	old := time.Now().UTC().AddDate(0, 0, -40)
	if err := store.addChatTurnAt(ctx, "c1", RoleUser, "ancient", old); err != nil {
		t.Fatalf("add old: %v", err)
	}
	if err := store.AddChatTurn(ctx, "c1", RoleUser, "fresh"); err != nil {
		t.Fatalf("add fresh: %v", err)
	}

	res, err := store.RunRetention(ctx, 30)
	if err != nil {
		t.Fatalf("retention: %v", err)
	}
	if res.PurgedChatTurns != 1 {
		t.Fatalf("purged = %d, want 1", res.PurgedChatTurns)
	}
	turns, err := store.ListChatTurns(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "fresh" {
		t.Fatalf("remaining turns = %+v", turns)
	}

	res, err = store.RunRetention(ctx, 30)
	if err != nil || res.PurgedChatTurns != 0 {
		t.Fatalf("second run: %+v err=%v", res, err)
	}
	if res, _ := store.RunRetention(ctx, 0); res.PurgedChatTurns != 0 {
		t.Fatal("zero window must keep everything")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	if got := pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"); got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("postgres rebind = %q", got)
	}
	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}
