package shm

import (
	"math/rand"
	"testing"
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	name := "k4md-test-" + randSuffix()
	st, err := createHeapBacked(name, []string{"BTCUSDT", "ETHUSDT"}, 8, capacity, headerSize+2*24+2*(8+capacity*8), 2*24, 8+capacity*8)
	if err != nil {
		t.Fatalf("createHeapBacked: %v", err)
	}
	return st
}

func randSuffix() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func TestWriteIndexMonotonic(t *testing.T) {
	st := newTestStore(t, 8)
	payload := make([]byte, 8)
	for i := 0; i < 20; i++ {
		putU64(payload, uint64(i))
		if err := st.Write("BTCUSDT", payload); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		idx, err := st.WriteIndex("BTCUSDT")
		if err != nil {
			t.Fatal(err)
		}
		if idx != uint64(i+1) {
			t.Fatalf("write index = %d, want %d", idx, i+1)
		}
	}
}

func TestReadLatestAfterWraparound(t *testing.T) {
	st := newTestStore(t, 4)
	payload := make([]byte, 8)
	for i := 0; i < 10; i++ {
		putU64(payload, uint64(i))
		if err := st.Write("BTCUSDT", payload); err != nil {
			t.Fatal(err)
		}
	}
	got, ok, err := st.ReadLatest("BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("ReadLatest: ok=%v err=%v", ok, err)
	}
	if got[0] != 9 {
		t.Fatalf("expected last written value 9, got %d", got[0])
	}
}

func TestReadAtOverwrittenReturnsNotOk(t *testing.T) {
	st := newTestStore(t, 4)
	payload := make([]byte, 8)
	for i := 0; i < 10; i++ {
		putU64(payload, uint64(i))
		if err := st.Write("BTCUSDT", payload); err != nil {
			t.Fatal(err)
		}
	}
	_, ok, err := st.ReadAt("BTCUSDT", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected slot 0 to have been overwritten by wraparound")
	}
}

func TestWriteUnknownSymbol(t *testing.T) {
	st := newTestStore(t, 4)
	if err := st.Write("DOGEUSDT", make([]byte, 8)); err == nil {
		t.Fatal("expected ErrSymbolUnknown")
	}
}

func TestCapacityAtFullContinuesAccepting(t *testing.T) {
	st := newTestStore(t, 4)
	payload := make([]byte, 8)
	for i := 0; i < 4; i++ {
		putU64(payload, uint64(i))
		if err := st.Write("BTCUSDT", payload); err != nil {
			t.Fatal(err)
		}
	}
	// One more write beyond capacity must still succeed.
	putU64(payload, 99)
	if err := st.Write("BTCUSDT", payload); err != nil {
		t.Fatalf("write at capacity: %v", err)
	}
	got, ok, _ := st.ReadLatest("BTCUSDT")
	if !ok || got[0] != 99 {
		t.Fatalf("expected latest value 99, got ok=%v val=%v", ok, got)
	}
}
