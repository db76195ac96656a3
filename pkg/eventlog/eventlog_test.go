package eventlog

import (
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestAppendSequences(t *testing.T) {
	l := New().WithClock(fixedClock)
	seq, err := l.Append("campaign/1", "CampaignCreated", "0xcreator", map[string]any{"campaignId": uint64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1, got %d", seq)
	}
	seq, _ = l.Append("campaign/1", "Contributed", "0xbacker", map[string]any{"valueWei": "1200000000000000000"})
	if seq != 2 {
		t.Fatalf("expected seq 2, got %d", seq)
	}
	if got := len(l.Entries("campaign/1", 0)); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	l := New().WithClock(fixedClock)
	l.Append("campaign/1", "CampaignCreated", "a", nil)
	l.Append("evidence/1", "EvidenceCreated", "b", nil)
	l.Append("campaign/1", "Contributed", "a", nil)

	if got := len(l.Entries("evidence/1", 0)); got != 1 {
		t.Fatalf("expected 1 evidence entry, got %d", got)
	}
	e := l.Entries("evidence/1", 0)[0]
	if e.Sequence != 1 || e.PrevHash != "genesis" {
		t.Fatalf("evidence chain should start fresh, got seq=%d prev=%s", e.Sequence, e.PrevHash)
	}
}

func TestChainIntegrity(t *testing.T) {
	l := New().WithClock(fixedClock)
	l.Append("request/7", "OffCycleRequested", "0xuser", map[string]any{"stake": "50"})
	l.Append("request/7", "OffCycleResolved", "0xverifier", map[string]any{"approved": true})

	ok, reason := l.Verify("request/7")
	if !ok {
		t.Fatalf("expected valid chain, got: %s", reason)
	}
	entries := l.Entries("request/7", 0)
	if entries[1].PrevHash != entries[0].ContentHash {
		t.Fatal("second entry prev_hash should match first content_hash")
	}
}

func TestDeterministicHash(t *testing.T) {
	l1 := New().WithClock(fixedClock)
	l2 := New().WithClock(fixedClock)
	fields := map[string]any{"b": "2", "a": "1", "amount": "1000000000000000000"}
	l1.Append("x", "E", "sys", fields)
	l2.Append("x", "E", "sys", map[string]any{"amount": "1000000000000000000", "a": "1", "b": "2"})

	if l1.Head("x") != l2.Head("x") {
		t.Fatal("same fields should hash identically regardless of insertion order")
	}
}

func TestEntriesCursor(t *testing.T) {
	l := New().WithClock(fixedClock)
	for i := 0; i < 5; i++ {
		l.Append("s", "E", "sys", map[string]any{"i": i})
	}
	tail := l.Entries("s", 3)
	if len(tail) != 2 || tail[0].Sequence != 4 {
		t.Fatalf("cursor read wrong: len=%d", len(tail))
	}
	if l.Entries("s", 99) != nil {
		t.Fatal("past-end cursor should return nil")
	}
}

func TestSinkReceivesEntries(t *testing.T) {
	var got []Entry
	l := New().WithClock(fixedClock).WithSink(func(e Entry) { got = append(got, e) })
	l.Append("s", "E", "sys", nil)
	l.Append("s", "F", "sys", nil)
	if len(got) != 2 || got[1].Kind != "F" {
		t.Fatalf("sink should see every entry, got %d", len(got))
	}
}
