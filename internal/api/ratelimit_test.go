package api

import (
	"testing"
	"time"
)

func TestQueryLimiter_BudgetAndReset(t *testing.T) {
	l := NewQueryLimiter(20, time.Minute)
	now := time.Unix(1700000000, 0)

	// Two submatches fit; the third exceeds the 20-unit budget.
	for i := 0; i < 2; i++ {
		if ok, _ := l.charge("10.0.0.1", CostSubmatch, now); !ok {
			t.Fatalf("Charge %d should fit the budget", i+1)
		}
	}
	ok, retryAfter := l.charge("10.0.0.1", CostSubmatch, now)
	if ok {
		t.Errorf("Third submatch must exceed the budget")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("Retry-After must point inside the current window, got %v", retryAfter)
	}

	// Other clients keep their own budget.
	if ok, _ := l.charge("10.0.0.2", CostSubmatch, now); !ok {
		t.Errorf("A fresh client must start with a full budget")
	}

	// The next window restores the budget.
	later := now.Add(time.Minute)
	if ok, _ := l.charge("10.0.0.1", CostSubmatch, later); !ok {
		t.Errorf("Budget must reset after the window elapses")
	}
}

func TestQueryLimiter_SpentBudgetRefusesReads(t *testing.T) {
	l := NewQueryLimiter(CostIngest, time.Minute)
	now := time.Unix(1700000000, 0)

	if ok, _ := l.charge("c", CostIngest, now); !ok {
		t.Fatalf("One ingest should exactly fit the budget")
	}
	if ok, _ := l.charge("c", CostRead, now); ok {
		t.Errorf("A spent budget must also refuse cheap reads until reset")
	}
}

func TestQueryLimiter_EvictsStaleClients(t *testing.T) {
	l := NewQueryLimiter(100, time.Minute)
	now := time.Unix(1700000000, 0)
	for _, ip := range []string{"a", "b", "c"} {
		l.charge(ip, CostRead, now)
	}

	// A new window for any client sweeps everyone whose window expired.
	l.charge("d", CostRead, now.Add(2*time.Minute))

	l.mu.Lock()
	n := len(l.clients)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("Expected only the fresh client to survive eviction, got %d entries", n)
	}
}
