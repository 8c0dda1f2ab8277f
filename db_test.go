package main

import (
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBCreateAndGetPlayer(t *testing.T) {
	db := newTestDB(t)

	id, err := db.CreatePlayer("alice", "hash")
	if err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}

	p, err := db.GetPlayerByUsername("alice")
	if err != nil {
		t.Fatalf("GetPlayerByUsername: %v", err)
	}
	if p == nil || p.ID != id || p.PassHash != "hash" {
		t.Errorf("unexpected player row: %+v", p)
	}

	missing, err := db.GetPlayerByUsername("nobody")
	if err != nil || missing != nil {
		t.Errorf("absent user should be (nil, nil), got (%+v, %v)", missing, err)
	}

	exists, err := db.UsernameExists("alice")
	if err != nil || !exists {
		t.Error("UsernameExists should report alice")
	}
}

func TestDBStatsLifecycle(t *testing.T) {
	db := newTestDB(t)
	id, _ := db.CreatePlayer("alice", "hash")

	s, err := db.GetStats(id)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if s == nil || s.Matches != 0 || s.Kills != 0 {
		t.Fatalf("fresh stats should be zeroed: %+v", s)
	}

	if err := db.UpdateStatsAfterMatch(id, 3, false, true, 42.5); err != nil {
		t.Fatalf("UpdateStatsAfterMatch: %v", err)
	}
	if err := db.UpdateStatsAfterMatch(id, 1, true, false, 12.0); err != nil {
		t.Fatalf("UpdateStatsAfterMatch: %v", err)
	}

	s, _ = db.GetStats(id)
	if s.Kills != 4 || s.Deaths != 1 || s.Wins != 1 || s.Losses != 1 || s.Matches != 2 {
		t.Errorf("aggregated stats wrong: %+v", s)
	}
	if s.BestArea != 42.5 {
		t.Errorf("best_area = %f, want the max 42.5", s.BestArea)
	}
}

func TestDBRecordMatch(t *testing.T) {
	db := newTestDB(t)
	id, _ := db.CreatePlayer("alice", "hash")

	matchID, err := db.RecordMatch("room-1", 60000, "alice")
	if err != nil {
		t.Fatalf("RecordMatch: %v", err)
	}
	if matchID == 0 {
		t.Fatal("expected a real match id")
	}

	if err := db.RecordMatchPlayer(matchID, id, "alice", 55.0, 2, true); err != nil {
		t.Fatalf("RecordMatchPlayer: %v", err)
	}
	// Guests are recorded with no account reference
	if err := db.RecordMatchPlayer(matchID, 0, "Guest_abcd", 10.0, 0, false); err != nil {
		t.Fatalf("RecordMatchPlayer guest: %v", err)
	}
}

func TestDBRecordEvent(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordEvent(EvtPlayerKill, "room-1", `{"victim":"a"}`, time.Now().UTC()); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
}

func TestDBSettings(t *testing.T) {
	db := newTestDB(t)

	if v := db.GetSetting("missing"); v != "" {
		t.Errorf("missing setting = %q, want empty", v)
	}
	if err := db.SetSetting("k", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := db.SetSetting("k", "v2"); err != nil {
		t.Fatalf("SetSetting upsert: %v", err)
	}
	if v := db.GetSetting("k"); v != "v2" {
		t.Errorf("setting = %q, want v2", v)
	}
}

func TestDBLeaderboard(t *testing.T) {
	db := newTestDB(t)

	a, _ := db.CreatePlayer("alice", "h")
	b, _ := db.CreatePlayer("bob", "h")
	db.UpdateStatsAfterMatch(a, 10, false, false, 30)
	db.UpdateStatsAfterMatch(b, 2, false, true, 60)

	byKills, err := db.GetLeaderboard("kills", 10)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(byKills) != 2 || byKills[0].Username != "alice" || byKills[0].Rank != 1 {
		t.Errorf("kills order wrong: %+v", byKills)
	}

	byWins, _ := db.GetLeaderboard("wins", 10)
	if byWins[0].Username != "bob" {
		t.Errorf("wins order wrong: %+v", byWins)
	}

	// Unknown column falls back to wins
	byUnknown, err := db.GetLeaderboard("'; DROP TABLE stats;--", 10)
	if err != nil {
		t.Fatalf("GetLeaderboard fallback: %v", err)
	}
	if byUnknown[0].Username != "bob" {
		t.Errorf("fallback order wrong: %+v", byUnknown)
	}
}
