package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestGenerateStrictlyIncreasing(t *testing.T) {
	n, err := NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	prev := n.Generate()
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestGenerateUniqueAcrossGoroutines(t *testing.T) {
	n, err := NewNode(2)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 8
	const perWorker = 2000

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				ids = append(ids, n.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}

func TestTimestampRoundTrip(t *testing.T) {
	n, err := NewNode(3)
	if err != nil {
		t.Fatal(err)
	}
	before := time.Now().Truncate(time.Millisecond)
	id := n.Generate()
	after := time.Now()

	ts := Timestamp(id)
	if ts.Before(before) || ts.After(after) {
		t.Fatalf("Timestamp(%d) = %v, want within [%v, %v]", id, ts, before, after)
	}
}

func TestNewNodeRange(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Error("NewNode(-1) should fail")
	}
	if _, err := NewNode(1024); err == nil {
		t.Error("NewNode(1024) should fail")
	}
}
