package dedup

import "testing"

func TestUpdateIDGateAcceptsStrictlyIncreasing(t *testing.T) {
	g := NewUpdateIDGate()
	cases := []struct {
		id     uint64
		accept bool
	}{
		{5, true},
		{5, false},
		{4, false},
		{6, true},
		{100, true},
		{100, false},
	}
	for _, c := range cases {
		if got := g.Accept("BTCUSDT", c.id); got != c.accept {
			t.Fatalf("Accept(%d) = %v, want %v", c.id, got, c.accept)
		}
	}
	if got := g.Last("BTCUSDT"); got != 100 {
		t.Fatalf("Last = %d, want 100", got)
	}
}

func TestUpdateIDGateIsolatedPerSymbol(t *testing.T) {
	g := NewUpdateIDGate()
	if !g.Accept("BTCUSDT", 10) {
		t.Fatal("expected first BTCUSDT update to be accepted")
	}
	if !g.Accept("ETHUSDT", 1) {
		t.Fatal("expected first ETHUSDT update to be accepted, independent of BTCUSDT state")
	}
}

func TestIDHashGateDropsRepeatedIdentifier(t *testing.T) {
	g := NewIDHashGate()
	ids := []string{"a-111", "b-222", "a-111"}
	var accepted []bool
	for _, id := range ids {
		accepted = append(accepted, g.Accept("BTCUSDT", []byte(id)))
	}
	want := []bool{true, true, false}
	for i := range want {
		if accepted[i] != want[i] {
			t.Fatalf("id %q: accepted=%v, want %v", ids[i], accepted[i], want[i])
		}
	}
}

func TestIDHashGateEvictsOldestBeyondCapacity(t *testing.T) {
	g := &IDHashGate{capacity: 2, sets: make(map[string]*idHashSet)}
	if !g.Accept("BTCUSDT", []byte("a")) {
		t.Fatal("expected a to be accepted")
	}
	if !g.Accept("BTCUSDT", []byte("b")) {
		t.Fatal("expected b to be accepted")
	}
	// c evicts a (oldest), so a's hash is forgotten and would be re-accepted.
	if !g.Accept("BTCUSDT", []byte("c")) {
		t.Fatal("expected c to be accepted")
	}
	if !g.Accept("BTCUSDT", []byte("a")) {
		t.Fatal("expected a to be re-accepted after eviction")
	}
	if g.Accept("BTCUSDT", []byte("c")) {
		t.Fatal("expected c to still be remembered")
	}
}

func TestIDHashGateIsolatedPerSymbol(t *testing.T) {
	g := NewIDHashGate()
	if !g.Accept("BTCUSDT", []byte("a-1")) {
		t.Fatal("expected first BTCUSDT id to be accepted")
	}
	if !g.Accept("ETHUSDT", []byte("a-1")) {
		t.Fatal("expected same id on a different symbol to be accepted independently")
	}
}

func TestHash64Deterministic(t *testing.T) {
	if Hash64([]byte("a-111")) != Hash64([]byte("a-111")) {
		t.Fatal("Hash64 must be deterministic for identical input")
	}
	if Hash64([]byte("a-111")) == Hash64([]byte("b-222")) {
		t.Fatal("Hash64 collided on distinct small inputs used in this test")
	}
}
